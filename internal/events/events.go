package events

// Billing event types emitted for downstream consumers (email, product
// analytics, in-app notifications).
const (
	EventCreditsGranted      = "credits.granted"
	EventCreditsConsumed     = "credits.consumed"
	EventCreditsRefunded     = "credits.refunded"
	EventCreditsClawedBack   = "credits.clawed_back"
	EventSubscriptionStarted = "subscription.started"
	EventSubscriptionUpdated = "subscription.updated"
	EventSubscriptionEnded   = "subscription.ended"
	EventPlanChangeScheduled = "plan.change_scheduled"
	EventPaymentFailed       = "payment.failed"
	EventDisputeOpened       = "dispute.opened"
	EventDisputeResolved     = "dispute.resolved"
)

// CreditsPayload captures the minimal data a consumer needs to react to
// a balance change.
type CreditsPayload struct {
	Amount      int64  `json:"amount"`
	Pool        string `json:"pool"`
	ReferenceID string `json:"reference_id"`
	Balance     int64  `json:"balance"`
}

func (p CreditsPayload) ToMap() map[string]any {
	return map[string]any{
		"amount":       p.Amount,
		"pool":         p.Pool,
		"reference_id": p.ReferenceID,
		"balance":      p.Balance,
	}
}

// SubscriptionPayload describes a lifecycle transition.
type SubscriptionPayload struct {
	SubscriptionRef string `json:"subscription_ref"`
	Status          string `json:"status"`
	PriceRef        string `json:"price_ref,omitempty"`
}

func (p SubscriptionPayload) ToMap() map[string]any {
	payload := map[string]any{
		"subscription_ref": p.SubscriptionRef,
		"status":           p.Status,
	}
	if p.PriceRef != "" {
		payload["price_ref"] = p.PriceRef
	}
	return payload
}
