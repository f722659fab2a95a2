package issuancelock

import "go.uber.org/fx"

var Module = fx.Module("issuance.lock",
	fx.Provide(New),
)
