package sequence

import (
	"github.com/smallbiznis/emissor/internal/sequence/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("sequence",
	fx.Provide(repository.NewAllocator),
)
