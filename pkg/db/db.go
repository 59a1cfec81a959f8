package db

import (
	"fmt"
	"strings"

	"github.com/smallbiznis/lumora/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var Module = fx.Module("db",
	fx.Provide(Open),
)

type Params struct {
	fx.In

	Cfg config.Config
	Log *zap.Logger
}

// Open connects to the configured relational store. Postgres is the
// production driver; sqlite serves local development and tests.
func Open(p Params) (*gorm.DB, error) {
	driver := strings.ToLower(strings.TrimSpace(p.Cfg.Database.Driver))
	dsn := strings.TrimSpace(p.Cfg.Database.DSN)

	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite", "":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported_database_driver: %s", driver)
	}

	conn, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}

	p.Log.Info("database connected", zap.String("driver", driver))
	return conn, nil
}
