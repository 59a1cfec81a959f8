package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/lumora/internal/webhook/domain"
	"gorm.io/gorm"
)

type Repository struct{}

func NewRepository() domain.Repository {
	return &Repository{}
}

func (r *Repository) Claim(ctx context.Context, db *gorm.DB, record *domain.ProcessedEvent) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`INSERT INTO processed_events (id, provider, provider_event_id, event_type, status, payload, claimed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (provider, provider_event_id) DO NOTHING`,
		record.ID,
		record.Provider,
		record.ProviderEventID,
		record.EventType,
		domain.EventStatusClaimed,
		record.Payload,
		record.ClaimedAt,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *Repository) Find(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*domain.ProcessedEvent, error) {
	var record domain.ProcessedEvent
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM processed_events WHERE provider = ? AND provider_event_id = ?`,
		provider,
		providerEventID,
	).Scan(&record).Error
	if err != nil {
		return nil, err
	}
	if record.ID == 0 {
		return nil, nil
	}
	return &record, nil
}

func (r *Repository) Reclaim(ctx context.Context, db *gorm.DB, id snowflake.ID, claimedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE processed_events
		 SET status = ?, error = NULL, claimed_at = ?, completed_at = NULL
		 WHERE id = ?`,
		domain.EventStatusClaimed,
		claimedAt,
		id,
	).Error
}

func (r *Repository) MarkCompleted(ctx context.Context, db *gorm.DB, id snowflake.ID, completedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE processed_events SET status = ?, completed_at = ? WHERE id = ?`,
		domain.EventStatusCompleted,
		completedAt,
		id,
	).Error
}

func (r *Repository) MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, failedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE processed_events SET status = ?, error = ?, completed_at = ? WHERE id = ?`,
		domain.EventStatusFailed,
		reason,
		failedAt,
		id,
	).Error
}
