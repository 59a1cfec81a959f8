package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Canonical event types produced by provider adapters. Handlers dispatch
// on these, never on raw provider strings.
const (
	EventTypeCheckoutCompleted   = "checkout.completed"
	EventTypeSubscriptionCreated = "subscription.created"
	EventTypeSubscriptionUpdated = "subscription.updated"
	EventTypeSubscriptionDeleted = "subscription.deleted"
	EventTypeInvoicePaid         = "invoice.paid"
	EventTypeInvoiceFailed       = "invoice.failed"
	EventTypeDisputeCreated      = "dispute.created"
	EventTypeDisputeClosed       = "dispute.closed"
	EventTypeScheduleCompleted   = "schedule.completed"
)

// Checkout modes.
const (
	CheckoutModeSubscription = "subscription"
	CheckoutModePayment      = "payment"
)

// Event is the provider-neutral form of a billing webhook. Exactly one of
// the data fields is set, matching Type.
type Event struct {
	Provider        string
	ProviderEventID string
	Type            string
	OccurredAt      time.Time

	Checkout     *CheckoutData
	Subscription *SubscriptionData
	Invoice      *InvoiceData
	Dispute      *DisputeData
	Schedule     *ScheduleData
}

// CheckoutData covers both subscription checkouts and one-time credit
// pack purchases. UserID comes from the checkout's client reference.
type CheckoutData struct {
	UserID           snowflake.ID
	CustomerRef      string
	SubscriptionRef  string
	PaymentIntentRef string
	Mode             string
	CreditsPurchased int64
	AmountTotal      int64
}

type SubscriptionData struct {
	SubscriptionRef   string
	CustomerRef       string
	Status            string
	PriceRef          string
	CancelAtPeriodEnd bool
	CanceledAt        *time.Time
	PeriodStart       *time.Time
	PeriodEnd         *time.Time
}

type InvoiceData struct {
	InvoiceRef      string
	CustomerRef     string
	SubscriptionRef string
	PriceRef        string
	// ChargeRef and PaymentIntentRef identify the payment behind the
	// invoice. Grants prefer them as ledger references so a dispute on
	// the charge can trace back to the account.
	ChargeRef        string
	PaymentIntentRef string
	BillingReason    string
	AmountPaid       int64
}

type DisputeData struct {
	DisputeRef       string
	ChargeRef        string
	PaymentIntentRef string
	AmountCents      int64
	Status           string
	Reason           string
}

type ScheduleData struct {
	ScheduleRef     string
	SubscriptionRef string
	CustomerRef     string
	// PriceRef is the price of the schedule's final phase, the plan the
	// subscription lands on.
	PriceRef string
}
