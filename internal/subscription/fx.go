package subscription

import (
	"github.com/smallbiznis/lumora/internal/subscription/gateway"
	"github.com/smallbiznis/lumora/internal/subscription/repository"
	"github.com/smallbiznis/lumora/internal/subscription/service"
	"go.uber.org/fx"
)

var Module = fx.Module("subscription",
	fx.Provide(repository.NewRepository),
	fx.Provide(gateway.NewStripeGateway),
	fx.Provide(service.NewService),
)
