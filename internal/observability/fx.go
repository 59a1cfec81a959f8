package observability

import (
	"github.com/smallbiznis/lumora/internal/observability/logger"
	"github.com/smallbiznis/lumora/internal/observability/tracing"
	"go.uber.org/fx"
)

var Module = fx.Module("observability",
	logger.Module,
	tracing.Module,
)
