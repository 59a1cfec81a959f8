package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type GrantRequest struct {
	UserID      snowflake.ID
	Amount      int64
	Pool        Pool
	Type        TransactionType
	ReferenceID string
	Description string
	// MaxRollover caps the post-grant balance of the target pool. Grants
	// never raise a balance above the cap; a fully-capped account gets a
	// zero-amount no-op.
	MaxRollover *int64
	// Unique makes the grant a no-op when a positive ledger row with the
	// same reference already exists. Handlers that can run twice after a
	// partial failure set this instead of trusting provider-side dedupe.
	Unique bool
}

type GrantResult struct {
	Applied int64
	Balance Balance
}

type ConsumeRequest struct {
	UserID      snowflake.ID
	Amount      int64
	ReferenceID string
	Description string
}

type ConsumeResult struct {
	FromSubscription int64
	FromPurchased    int64
	Pool             Pool
	Balance          Balance
}

type RefundRequest struct {
	UserID      snowflake.ID
	Amount      int64
	Pool        Pool
	ReferenceID string
	Description string
}

type RefundResult struct {
	Balance Balance
}

type ClawbackRequest struct {
	UserID snowflake.ID
	Amount int64
	// Pool may be PoolSubscription, PoolPurchased or PoolAuto. Auto claws
	// from the subscription pool first, mirroring consumption order.
	Pool        Pool
	ReferenceID string
	Reason      string
}

type ClawbackResult struct {
	FromSubscription int64
	FromPurchased    int64
	Applied          int64
	Balance          Balance
}

// Service is the only writer of account balances. Every mutation runs as
// one atomic unit against the account row and appends exactly one ledger
// transaction when a non-zero amount is applied.
type Service interface {
	GetAccount(ctx context.Context, userID snowflake.ID) (*Account, error)
	GetBalance(ctx context.Context, userID snowflake.ID) (Balance, error)
	ListTransactions(ctx context.Context, userID snowflake.ID, limit int) ([]Transaction, error)

	Grant(ctx context.Context, req GrantRequest) (GrantResult, error)
	Consume(ctx context.Context, req ConsumeRequest) (ConsumeResult, error)
	Refund(ctx context.Context, req RefundRequest) (RefundResult, error)
	Clawback(ctx context.Context, req ClawbackRequest) (ClawbackResult, error)
	ClawbackByReference(ctx context.Context, userID snowflake.ID, referenceID string, reason string) (ClawbackResult, error)

	// Non-balance account state, kept behind the same writer so no other
	// component ever holds a handle capable of touching the account row.
	SetSubscriptionState(ctx context.Context, userID snowflake.ID, status SubscriptionStatus, tier *string) error
	SetDisputeStatus(ctx context.Context, userID snowflake.ID, status DisputeStatus) error
	SetExternalCustomerRef(ctx context.Context, userID snowflake.ID, ref string) error
	FindUserByCustomerRef(ctx context.Context, ref string) (snowflake.ID, error)
}
