package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Pool identifies which credit bucket a transaction touched. PoolAuto is
// only valid as a clawback request target, never on a stored row.
type Pool string

const (
	PoolSubscription Pool = "subscription"
	PoolPurchased    Pool = "purchased"
	PoolMixed        Pool = "mixed"
	PoolAuto         Pool = "auto"
)

// TransactionType classifies ledger rows.
type TransactionType string

const (
	TransactionTypeSubscription TransactionType = "subscription"
	TransactionTypePurchase     TransactionType = "purchase"
	TransactionTypeUsage        TransactionType = "usage"
	TransactionTypeRefund       TransactionType = "refund"
	TransactionTypeClawback     TransactionType = "clawback"
	TransactionTypeTrial        TransactionType = "trial"
)

// SubscriptionStatus mirrors the provider lifecycle on the account row.
type SubscriptionStatus string

const (
	SubscriptionStatusNone     SubscriptionStatus = "none"
	SubscriptionStatusTrialing SubscriptionStatus = "trialing"
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
)

type DisputeStatus string

const (
	DisputeStatusNone     DisputeStatus = "none"
	DisputeStatusPending  DisputeStatus = "pending"
	DisputeStatusResolved DisputeStatus = "resolved"
)

// Account holds a user's spendable balances. Both balances are >= 0 at
// all times; the row is written only by the credit service.
type Account struct {
	ID                  snowflake.ID       `gorm:"primaryKey"`
	UserID              snowflake.ID       `gorm:"not null;uniqueIndex:ux_credit_accounts_user"`
	SubscriptionCredits int64              `gorm:"not null;default:0"`
	PurchasedCredits    int64              `gorm:"not null;default:0"`
	SubscriptionStatus  SubscriptionStatus `gorm:"type:text;not null;default:'none'"`
	SubscriptionTier    *string            `gorm:"type:text"`
	DisputeStatus       DisputeStatus      `gorm:"type:text;not null;default:'none'"`
	ExternalCustomerRef *string            `gorm:"type:text;index"`
	CreatedAt           time.Time          `gorm:"not null"`
	UpdatedAt           time.Time          `gorm:"not null"`
}

// TableName sets the database table name.
func (Account) TableName() string { return "credit_accounts" }

// Transaction is an append-only ledger row. Positive amounts are grants
// and refunds; negative amounts are consumption and clawbacks.
type Transaction struct {
	ID          snowflake.ID    `gorm:"primaryKey"`
	AccountID   snowflake.ID    `gorm:"not null;index"`
	UserID      snowflake.ID    `gorm:"not null;index:ix_credit_transactions_user"`
	Amount      int64           `gorm:"not null"`
	Type        TransactionType `gorm:"type:text;not null"`
	Pool        Pool            `gorm:"type:text;not null"`
	ReferenceID string          `gorm:"type:text;not null;index:ix_credit_transactions_reference"`
	Description string          `gorm:"type:text;not null"`
	CreatedAt   time.Time       `gorm:"not null"`
}

// TableName sets the database table name.
func (Transaction) TableName() string { return "credit_transactions" }

// Balance is a point-in-time read of both pools.
type Balance struct {
	Subscription int64 `json:"subscription"`
	Purchased    int64 `json:"purchased"`
}

func (b Balance) Total() int64 { return b.Subscription + b.Purchased }
