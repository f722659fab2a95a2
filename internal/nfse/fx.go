package nfse

import (
	"github.com/smallbiznis/emissor/internal/nfse/gateway"
	"github.com/smallbiznis/emissor/internal/nfse/service"
	"go.uber.org/fx"
)

var Module = fx.Module("nfse",
	fx.Provide(
		gateway.NewHTTPGateway,
		service.NewService,
	),
)
