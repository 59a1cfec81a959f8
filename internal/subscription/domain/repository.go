package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	FindByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*Record, error)
	FindByProviderRef(ctx context.Context, db *gorm.DB, provider, subscriptionRef string) (*Record, error)
	Upsert(ctx context.Context, db *gorm.DB, record *Record) error
	SetSchedule(ctx context.Context, db *gorm.DB, id snowflake.ID, scheduleRef, priceRef *string, changeAt *time.Time) error
}
