package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/lumora/internal/subscription/domain"
	"gorm.io/gorm"
)

type Repository struct{}

func NewRepository() domain.Repository {
	return &Repository{}
}

func (r *Repository) FindByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*domain.Record, error) {
	var record domain.Record
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM subscription_records
		 WHERE user_id = ?
		 ORDER BY created_at DESC
		 LIMIT 1`,
		userID,
	).Scan(&record).Error
	if err != nil {
		return nil, err
	}
	if record.ID == 0 {
		return nil, nil
	}
	return &record, nil
}

func (r *Repository) FindByProviderRef(ctx context.Context, db *gorm.DB, provider, subscriptionRef string) (*domain.Record, error) {
	var record domain.Record
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM subscription_records WHERE provider = ? AND provider_subscription_id = ?`,
		provider,
		subscriptionRef,
	).Scan(&record).Error
	if err != nil {
		return nil, err
	}
	if record.ID == 0 {
		return nil, nil
	}
	return &record, nil
}

// Upsert keys on (provider, provider_subscription_id) so repeated webhook
// deliveries converge on one row per provider subscription.
func (r *Repository) Upsert(ctx context.Context, db *gorm.DB, record *domain.Record) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO subscription_records
		 (id, user_id, provider, provider_subscription_id, status, price_ref, current_period_start, current_period_end, canceled_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (provider, provider_subscription_id) DO UPDATE SET
		 status = excluded.status,
		 price_ref = excluded.price_ref,
		 current_period_start = excluded.current_period_start,
		 current_period_end = excluded.current_period_end,
		 canceled_at = excluded.canceled_at,
		 updated_at = excluded.updated_at`,
		record.ID,
		record.UserID,
		record.Provider,
		record.ProviderSubscriptionID,
		record.Status,
		record.PriceRef,
		record.CurrentPeriodStart,
		record.CurrentPeriodEnd,
		record.CanceledAt,
		record.CreatedAt,
		record.UpdatedAt,
	).Error
}

func (r *Repository) SetSchedule(ctx context.Context, db *gorm.DB, id snowflake.ID, scheduleRef, priceRef *string, changeAt *time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscription_records
		 SET schedule_ref = ?, scheduled_price_ref = ?, scheduled_change_at = ?, updated_at = ?
		 WHERE id = ?`,
		scheduleRef,
		priceRef,
		changeAt,
		time.Now().UTC(),
		id,
	).Error
}
