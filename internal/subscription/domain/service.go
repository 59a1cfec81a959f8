package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

// Service orchestrates user-initiated plan changes. Credit effects never
// happen here; they arrive through the provider's webhooks.
type Service interface {
	ChangePlan(ctx context.Context, req ChangePlanRequest) (*ChangePlanResult, error)
	GetByUser(ctx context.Context, userID snowflake.ID) (*Record, error)
}
