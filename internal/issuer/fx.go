package issuer

import (
	"github.com/smallbiznis/emissor/internal/issuer/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("issuer",
	fx.Provide(repository.NewRepository),
)
