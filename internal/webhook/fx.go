package webhook

import (
	"github.com/smallbiznis/lumora/internal/config"
	"github.com/smallbiznis/lumora/internal/webhook/adapters"
	wdomain "github.com/smallbiznis/lumora/internal/webhook/domain"
	"github.com/smallbiznis/lumora/internal/webhook/repository"
	"github.com/smallbiznis/lumora/internal/webhook/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("webhook",
	fx.Provide(repository.NewRepository),
	fx.Provide(func(cfg config.Config, log *zap.Logger) wdomain.Adapter {
		return adapters.NewStripeAdapter(cfg, log)
	}),
	fx.Provide(service.NewService),
)
