package domain

import (
	"context"
	"time"
)

// Snapshot is a fresh read of the provider's view of a subscription,
// taken inside ChangePlan so stale local state cannot drive a change.
type Snapshot struct {
	SubscriptionRef string
	ItemRef         string
	PriceRef        string
	Status          string
	ScheduleRef     string
	PeriodEnd       time.Time
	AnchorAt        time.Time
}

// Gateway is the outbound provider API used by the plan change
// orchestrator. Inbound state flows exclusively through webhooks.
type Gateway interface {
	GetSubscription(ctx context.Context, subscriptionRef string) (*Snapshot, error)
	// UpdateSubscriptionPrice swaps the subscription item to the new
	// price with proration, effective immediately.
	UpdateSubscriptionPrice(ctx context.Context, snapshot *Snapshot, newPriceRef string) error
	// CreateDowngradeSchedule pins the current phase until the period
	// boundary and starts the new price after it. Returns the schedule ref.
	CreateDowngradeSchedule(ctx context.Context, snapshot *Snapshot, newPriceRef string, boundary time.Time) (string, error)
	ReleaseSchedule(ctx context.Context, scheduleRef string) error
}
