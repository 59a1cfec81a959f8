package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/lumora/internal/audit"
	"github.com/smallbiznis/lumora/internal/clock"
	"github.com/smallbiznis/lumora/internal/config"
	"github.com/smallbiznis/lumora/internal/credit"
	"github.com/smallbiznis/lumora/internal/dispute"
	"github.com/smallbiznis/lumora/internal/events"
	"github.com/smallbiznis/lumora/internal/migration"
	"github.com/smallbiznis/lumora/internal/observability"
	"github.com/smallbiznis/lumora/internal/observability/metrics"
	"github.com/smallbiznis/lumora/internal/plan"
	"github.com/smallbiznis/lumora/internal/server"
	"github.com/smallbiznis/lumora/internal/subscription"
	"github.com/smallbiznis/lumora/internal/webhook"
	"github.com/smallbiznis/lumora/pkg/db"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
			metrics.BillingWithConfig(metrics.Config{
				ServiceName: cfg.ServiceName,
				Environment: cfg.Environment,
			})
			return migration.RunMigrations(conn)
		}),

		plan.Module,
		fx.Provide(events.NewOutbox),
		audit.Module,
		credit.Module,
		dispute.Module,
		subscription.Module,
		webhook.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
