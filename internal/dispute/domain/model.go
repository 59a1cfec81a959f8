package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Provider dispute outcomes.
const (
	StatusNeedsResponse = "needs_response"
	StatusUnderReview   = "under_review"
	StatusWon           = "won"
	StatusLost          = "lost"
)

// Record tracks one provider dispute and the credits held against it.
// The hold stands regardless of outcome; winning a dispute returns the
// funds, not the consumable credits.
type Record struct {
	ID                snowflake.ID `gorm:"primaryKey"`
	UserID            snowflake.ID `gorm:"not null;index:ix_dispute_records_user"`
	Provider          string       `gorm:"not null;uniqueIndex:ux_dispute_records_provider_dispute"`
	ProviderDisputeID string       `gorm:"not null;uniqueIndex:ux_dispute_records_provider_dispute"`
	ChargeRef         string       `gorm:"type:text;not null"`
	AmountCents       int64        `gorm:"not null"`
	CreditsHeld       int64        `gorm:"not null;default:0"`
	Status            string       `gorm:"type:text;not null"`
	Reason            string       `gorm:"type:text;not null;default:''"`
	ResolvedAt        *time.Time
	CreatedAt         time.Time `gorm:"not null"`
	UpdatedAt         time.Time `gorm:"not null"`
}

// TableName sets the database table name.
func (Record) TableName() string { return "dispute_records" }

type OpenRequest struct {
	Provider         string
	DisputeRef       string
	ChargeRef        string
	PaymentIntentRef string
	AmountCents      int64
	Status           string
	Reason           string
}

type ResolveRequest struct {
	Provider   string
	DisputeRef string
	Status     string
}

type Service interface {
	// Open records the dispute and places a best-effort credit hold on
	// the disputed user's account.
	Open(ctx context.Context, req OpenRequest) (*Record, error)
	Resolve(ctx context.Context, req ResolveRequest) (*Record, error)
}

var (
	ErrInvalidDispute  = errors.New("invalid_dispute")
	ErrDisputeNotFound = errors.New("dispute_not_found")
	ErrUnknownUser     = errors.New("unknown_user")
)
