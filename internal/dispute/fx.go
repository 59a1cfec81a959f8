package dispute

import (
	"github.com/smallbiznis/lumora/internal/dispute/service"
	"go.uber.org/fx"
)

var Module = fx.Module("dispute",
	fx.Provide(service.NewService),
)
