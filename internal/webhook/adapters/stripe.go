package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/lumora/internal/config"
	"github.com/smallbiznis/lumora/internal/webhook/domain"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"
)

const ProviderStripe = "stripe"

// Raw Stripe event types this adapter translates.
const (
	stripeCheckoutCompleted   = "checkout.session.completed"
	stripeSubscriptionCreated = "customer.subscription.created"
	stripeSubscriptionUpdated = "customer.subscription.updated"
	stripeSubscriptionDeleted = "customer.subscription.deleted"
	stripeInvoicePaid         = "invoice.payment_succeeded"
	stripeInvoiceFailed       = "invoice.payment_failed"
	stripeDisputeCreated      = "charge.dispute.created"
	stripeDisputeClosed       = "charge.dispute.closed"
	stripeScheduleCompleted   = "subscription_schedule.completed"
)

type StripeAdapter struct {
	secret string
	log    *zap.Logger
}

func NewStripeAdapter(cfg config.Config, log *zap.Logger) *StripeAdapter {
	return &StripeAdapter{
		secret: strings.TrimSpace(cfg.Stripe.WebhookSecret),
		log:    log.Named("webhook.stripe"),
	}
}

func (a *StripeAdapter) Provider() string { return ProviderStripe }

func (a *StripeAdapter) Verify(_ context.Context, payload []byte, headers http.Header) error {
	if a.secret == "" {
		return domain.ErrInvalidSignature
	}
	header := headers.Get("Stripe-Signature")
	if header == "" {
		return domain.ErrInvalidSignature
	}
	if err := webhook.ValidatePayload(payload, header, a.secret); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}
	return nil
}

// stripeEvent is the minimal envelope shape. Object payloads are decoded
// per event type so API version churn on unrelated fields cannot break
// ingestion.
type stripeEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

func (a *StripeAdapter) Parse(_ context.Context, payload []byte) (*domain.Event, error) {
	var envelope stripeEvent
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	if strings.TrimSpace(envelope.ID) == "" || strings.TrimSpace(envelope.Type) == "" {
		return nil, domain.ErrInvalidEvent
	}

	event := &domain.Event{
		Provider:        ProviderStripe,
		ProviderEventID: envelope.ID,
		OccurredAt:      time.Unix(envelope.Created, 0).UTC(),
	}

	var err error
	switch envelope.Type {
	case stripeCheckoutCompleted:
		event.Type = domain.EventTypeCheckoutCompleted
		event.Checkout, err = parseCheckout(envelope.Data.Object)
	case stripeSubscriptionCreated:
		event.Type = domain.EventTypeSubscriptionCreated
		event.Subscription, err = parseSubscription(envelope.Data.Object)
	case stripeSubscriptionUpdated:
		event.Type = domain.EventTypeSubscriptionUpdated
		event.Subscription, err = parseSubscription(envelope.Data.Object)
	case stripeSubscriptionDeleted:
		event.Type = domain.EventTypeSubscriptionDeleted
		event.Subscription, err = parseSubscription(envelope.Data.Object)
	case stripeInvoicePaid:
		event.Type = domain.EventTypeInvoicePaid
		event.Invoice, err = parseInvoice(envelope.Data.Object)
	case stripeInvoiceFailed:
		event.Type = domain.EventTypeInvoiceFailed
		event.Invoice, err = parseInvoice(envelope.Data.Object)
	case stripeDisputeCreated:
		event.Type = domain.EventTypeDisputeCreated
		event.Dispute, err = parseDispute(envelope.Data.Object)
	case stripeDisputeClosed:
		event.Type = domain.EventTypeDisputeClosed
		event.Dispute, err = parseDispute(envelope.Data.Object)
	case stripeScheduleCompleted:
		event.Type = domain.EventTypeScheduleCompleted
		event.Schedule, err = parseSchedule(envelope.Data.Object)
	default:
		a.log.Debug("ignoring stripe event type", zap.String("event_type", envelope.Type))
		return nil, domain.ErrEventIgnored
	}
	if err != nil {
		return nil, err
	}
	return event, nil
}

func parseCheckout(raw json.RawMessage) (*domain.CheckoutData, error) {
	var obj struct {
		ClientReferenceID string            `json:"client_reference_id"`
		Customer          string            `json:"customer"`
		Subscription      string            `json:"subscription"`
		PaymentIntent     string            `json:"payment_intent"`
		Mode              string            `json:"mode"`
		AmountTotal       int64             `json:"amount_total"`
		Metadata          map[string]string `json:"metadata"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}

	userID, err := strconv.ParseInt(strings.TrimSpace(obj.ClientReferenceID), 10, 64)
	if err != nil || userID <= 0 {
		return nil, domain.ErrUnknownUser
	}

	var credits int64
	if v, ok := obj.Metadata["credits"]; ok {
		credits, _ = strconv.ParseInt(v, 10, 64)
	}

	return &domain.CheckoutData{
		UserID:           snowflake.ID(userID),
		CustomerRef:      obj.Customer,
		SubscriptionRef:  obj.Subscription,
		PaymentIntentRef: obj.PaymentIntent,
		Mode:             obj.Mode,
		CreditsPurchased: credits,
		AmountTotal:      obj.AmountTotal,
	}, nil
}

func parseSubscription(raw json.RawMessage) (*domain.SubscriptionData, error) {
	var obj struct {
		ID                 string `json:"id"`
		Customer           string `json:"customer"`
		Status             string `json:"status"`
		CancelAtPeriodEnd  bool   `json:"cancel_at_period_end"`
		CanceledAt         int64  `json:"canceled_at"`
		CurrentPeriodStart int64  `json:"current_period_start"`
		CurrentPeriodEnd   int64  `json:"current_period_end"`
		Items              struct {
			Data []struct {
				CurrentPeriodStart int64 `json:"current_period_start"`
				CurrentPeriodEnd   int64 `json:"current_period_end"`
				Price              struct {
					ID string `json:"id"`
				} `json:"price"`
			} `json:"data"`
		} `json:"items"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	if obj.ID == "" || obj.Status == "" {
		return nil, domain.ErrInvalidEvent
	}

	data := &domain.SubscriptionData{
		SubscriptionRef:   obj.ID,
		CustomerRef:       obj.Customer,
		Status:            obj.Status,
		CancelAtPeriodEnd: obj.CancelAtPeriodEnd,
		CanceledAt:        unixPtr(obj.CanceledAt),
	}

	// Newer API versions carry the billing period on the items.
	periodStart, periodEnd := obj.CurrentPeriodStart, obj.CurrentPeriodEnd
	if len(obj.Items.Data) > 0 {
		item := obj.Items.Data[0]
		data.PriceRef = item.Price.ID
		if item.CurrentPeriodEnd > 0 {
			periodStart, periodEnd = item.CurrentPeriodStart, item.CurrentPeriodEnd
		}
	}
	data.PeriodStart = unixPtr(periodStart)
	data.PeriodEnd = unixPtr(periodEnd)
	return data, nil
}

func parseInvoice(raw json.RawMessage) (*domain.InvoiceData, error) {
	var obj struct {
		ID            string `json:"id"`
		Customer      string `json:"customer"`
		Subscription  string `json:"subscription"`
		Charge        string `json:"charge"`
		PaymentIntent string `json:"payment_intent"`
		BillingReason string `json:"billing_reason"`
		AmountPaid    int64  `json:"amount_paid"`
		Payments      struct {
			Data []struct {
				Payment struct {
					PaymentIntent string `json:"payment_intent"`
					Charge        string `json:"charge"`
				} `json:"payment"`
			} `json:"data"`
		} `json:"payments"`
		Parent struct {
			SubscriptionDetails struct {
				Subscription string `json:"subscription"`
			} `json:"subscription_details"`
		} `json:"parent"`
		Lines struct {
			Data []struct {
				Price struct {
					ID string `json:"id"`
				} `json:"price"`
				Pricing struct {
					PriceDetails struct {
						Price string `json:"price"`
					} `json:"price_details"`
				} `json:"pricing"`
			} `json:"data"`
		} `json:"lines"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	if obj.ID == "" {
		return nil, domain.ErrInvalidEvent
	}

	subscriptionRef := obj.Subscription
	if subscriptionRef == "" {
		subscriptionRef = obj.Parent.SubscriptionDetails.Subscription
	}

	var priceRef string
	if len(obj.Lines.Data) > 0 {
		line := obj.Lines.Data[0]
		priceRef = line.Price.ID
		if priceRef == "" {
			priceRef = line.Pricing.PriceDetails.Price
		}
	}

	// Newer API versions move the payment refs under payments.
	chargeRef, paymentIntentRef := obj.Charge, obj.PaymentIntent
	if paymentIntentRef == "" && len(obj.Payments.Data) > 0 {
		payment := obj.Payments.Data[0].Payment
		paymentIntentRef = payment.PaymentIntent
		if chargeRef == "" {
			chargeRef = payment.Charge
		}
	}

	return &domain.InvoiceData{
		InvoiceRef:       obj.ID,
		CustomerRef:      obj.Customer,
		SubscriptionRef:  subscriptionRef,
		PriceRef:         priceRef,
		ChargeRef:        chargeRef,
		PaymentIntentRef: paymentIntentRef,
		BillingReason:    obj.BillingReason,
		AmountPaid:       obj.AmountPaid,
	}, nil
}

func parseDispute(raw json.RawMessage) (*domain.DisputeData, error) {
	var obj struct {
		ID            string `json:"id"`
		Charge        string `json:"charge"`
		PaymentIntent string `json:"payment_intent"`
		Amount        int64  `json:"amount"`
		Status        string `json:"status"`
		Reason        string `json:"reason"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	if obj.ID == "" || obj.Charge == "" {
		return nil, domain.ErrInvalidEvent
	}

	return &domain.DisputeData{
		DisputeRef:       obj.ID,
		ChargeRef:        obj.Charge,
		PaymentIntentRef: obj.PaymentIntent,
		AmountCents:      obj.Amount,
		Status:           obj.Status,
		Reason:           obj.Reason,
	}, nil
}

func parseSchedule(raw json.RawMessage) (*domain.ScheduleData, error) {
	var obj struct {
		ID           string `json:"id"`
		Subscription string `json:"subscription"`
		Customer     string `json:"customer"`
		Phases       []struct {
			Items []struct {
				Price string `json:"price"`
			} `json:"items"`
		} `json:"phases"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	if obj.ID == "" {
		return nil, domain.ErrInvalidEvent
	}

	data := &domain.ScheduleData{
		ScheduleRef:     obj.ID,
		SubscriptionRef: obj.Subscription,
		CustomerRef:     obj.Customer,
	}
	if len(obj.Phases) > 0 {
		final := obj.Phases[len(obj.Phases)-1]
		if len(final.Items) > 0 {
			data.PriceRef = final.Items[0].Price
		}
	}
	return data, nil
}

func unixPtr(v int64) *time.Time {
	if v <= 0 {
		return nil
	}
	t := time.Unix(v, 0).UTC()
	return &t
}
