package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type EventStatus string

const (
	EventStatusClaimed   EventStatus = "claimed"
	EventStatusCompleted EventStatus = "completed"
	EventStatusFailed    EventStatus = "failed"
)

// ProcessedEvent is the idempotency record for one provider delivery.
// The unique (provider, provider_event_id) index is what makes claims
// race-safe; only the inserting caller processes the event.
type ProcessedEvent struct {
	ID              snowflake.ID   `gorm:"primaryKey"`
	Provider        string         `gorm:"not null;uniqueIndex:ux_processed_events_provider_event"`
	ProviderEventID string         `gorm:"not null;uniqueIndex:ux_processed_events_provider_event"`
	EventType       string         `gorm:"not null"`
	Status          EventStatus    `gorm:"type:text;not null"`
	Error           *string        `gorm:"type:text"`
	Payload         datatypes.JSON `gorm:"type:jsonb"`
	ClaimedAt       time.Time      `gorm:"not null"`
	CompletedAt     *time.Time
}

// TableName sets the database table name.
func (ProcessedEvent) TableName() string { return "processed_events" }

type Repository interface {
	// Claim inserts the idempotency record. A false return means another
	// delivery of the same event got there first.
	Claim(ctx context.Context, db *gorm.DB, record *ProcessedEvent) (bool, error)
	Find(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*ProcessedEvent, error)
	Reclaim(ctx context.Context, db *gorm.DB, id snowflake.ID, claimedAt time.Time) error
	MarkCompleted(ctx context.Context, db *gorm.DB, id snowflake.ID, completedAt time.Time) error
	MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, failedAt time.Time) error
}
