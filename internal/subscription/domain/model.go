package domain

import (
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Record mirrors the provider subscription locally. It is the source of
// truth for which plan a user is on between webhook deliveries.
type Record struct {
	ID                     snowflake.ID `gorm:"primaryKey"`
	UserID                 snowflake.ID `gorm:"not null;index:ix_subscription_records_user"`
	Provider               string       `gorm:"not null;uniqueIndex:ux_subscription_records_provider_sub"`
	ProviderSubscriptionID string       `gorm:"not null;uniqueIndex:ux_subscription_records_provider_sub"`
	Status                 string       `gorm:"type:text;not null"`
	PriceRef               string       `gorm:"type:text;not null"`
	ScheduledPriceRef      *string      `gorm:"type:text"`
	ScheduledChangeAt      *time.Time
	ScheduleRef            *string `gorm:"type:text"`
	CurrentPeriodStart     *time.Time
	CurrentPeriodEnd       *time.Time
	CanceledAt             *time.Time
	CreatedAt              time.Time `gorm:"not null"`
	UpdatedAt              time.Time `gorm:"not null"`
}

// TableName sets the database table name.
func (Record) TableName() string { return "subscription_records" }

// ChangeKind classifies a plan change relative to the current plan's
// monthly credit allowance.
type ChangeKind string

const (
	ChangeKindUpgrade   ChangeKind = "upgrade"
	ChangeKindDowngrade ChangeKind = "downgrade"
)

type ChangePlanRequest struct {
	UserID      snowflake.ID
	NewPriceRef string
}

// UpgradeGrantRef is the ledger reference for an upgrade's allowance
// difference. The plan-change flow and the provider webhook both derive
// it from the same inputs, so whichever side runs second finds the grant
// already recorded and skips it. The period end keeps a later upgrade to
// the same price in a new billing period distinguishable.
func UpgradeGrantRef(subscriptionRef, newPriceRef string, periodEnd *time.Time) string {
	ref := subscriptionRef + ":upgrade:" + newPriceRef
	if periodEnd != nil && !periodEnd.IsZero() {
		ref += ":" + strconv.FormatInt(periodEnd.Unix(), 10)
	}
	return ref
}

type ChangePlanResult struct {
	Kind ChangeKind
	// EffectiveAt is now for upgrades and the period boundary for
	// downgrades.
	EffectiveAt time.Time
	OldPriceRef string
	NewPriceRef string
	Scheduled   bool
}
