package adapters

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/smallbiznis/lumora/internal/config"
	"github.com/smallbiznis/lumora/internal/webhook/domain"
	"go.uber.org/zap"
)

const testSecret = "whsec_test_secret"

func newTestAdapter(t *testing.T) *StripeAdapter {
	t.Helper()
	return NewStripeAdapter(config.Config{
		Stripe: config.StripeConfig{WebhookSecret: testSecret},
	}, zap.NewNop())
}

func signPayload(payload []byte, secret string, at time.Time) string {
	timestamp := at.Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}

func TestVerifyAcceptsSignedPayload(t *testing.T) {
	adapter := newTestAdapter(t)
	payload := []byte(`{"id":"evt_1","type":"invoice.payment_succeeded"}`)

	headers := http.Header{}
	headers.Set("Stripe-Signature", signPayload(payload, testSecret, time.Now()))

	if err := adapter.Verify(context.Background(), payload, headers); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestVerifyRejectsBadSignature(t *testing.T) {
	adapter := newTestAdapter(t)
	payload := []byte(`{"id":"evt_1"}`)

	headers := http.Header{}
	headers.Set("Stripe-Signature", signPayload(payload, "whsec_other", time.Now()))

	if err := adapter.Verify(context.Background(), payload, headers); !errors.Is(err, domain.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifyRejectsMissingHeader(t *testing.T) {
	adapter := newTestAdapter(t)

	if err := adapter.Verify(context.Background(), []byte(`{}`), http.Header{}); !errors.Is(err, domain.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestParseCheckoutSession(t *testing.T) {
	adapter := newTestAdapter(t)
	payload := []byte(`{
		"id": "evt_checkout",
		"type": "checkout.session.completed",
		"created": 1735689600,
		"data": {"object": {
			"client_reference_id": "42",
			"customer": "cus_123",
			"payment_intent": "pi_123",
			"mode": "payment",
			"amount_total": 999,
			"metadata": {"credits": "100"}
		}}
	}`)

	event, err := adapter.Parse(context.Background(), payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.Type != domain.EventTypeCheckoutCompleted {
		t.Fatalf("unexpected type: %s", event.Type)
	}
	data := event.Checkout
	if data == nil || data.UserID != 42 || data.CreditsPurchased != 100 || data.PaymentIntentRef != "pi_123" {
		t.Fatalf("unexpected checkout data: %+v", data)
	}
}

func TestParseSubscriptionWithItemPeriod(t *testing.T) {
	adapter := newTestAdapter(t)
	payload := []byte(`{
		"id": "evt_sub",
		"type": "customer.subscription.updated",
		"created": 1735689600,
		"data": {"object": {
			"id": "sub_1",
			"customer": "cus_123",
			"status": "active",
			"cancel_at_period_end": false,
			"items": {"data": [{
				"current_period_start": 1735689600,
				"current_period_end": 1738368000,
				"price": {"id": "price_lumora_pro_monthly"}
			}]}
		}}
	}`)

	event, err := adapter.Parse(context.Background(), payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	data := event.Subscription
	if data == nil || data.PriceRef != "price_lumora_pro_monthly" {
		t.Fatalf("unexpected subscription data: %+v", data)
	}
	if data.PeriodEnd == nil || data.PeriodEnd.Unix() != 1738368000 {
		t.Fatalf("unexpected period end: %v", data.PeriodEnd)
	}
}

func TestParseInvoiceFallsBackToParentSubscription(t *testing.T) {
	adapter := newTestAdapter(t)
	payload := []byte(`{
		"id": "evt_inv",
		"type": "invoice.payment_succeeded",
		"created": 1735689600,
		"data": {"object": {
			"id": "in_1",
			"customer": "cus_123",
			"billing_reason": "subscription_cycle",
			"amount_paid": 1999,
			"parent": {"subscription_details": {"subscription": "sub_1"}},
			"lines": {"data": [{
				"pricing": {"price_details": {"price": "price_lumora_basic_monthly"}}
			}]}
		}}
	}`)

	event, err := adapter.Parse(context.Background(), payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	data := event.Invoice
	if data.SubscriptionRef != "sub_1" {
		t.Fatalf("expected parent subscription fallback, got %q", data.SubscriptionRef)
	}
	if data.PriceRef != "price_lumora_basic_monthly" {
		t.Fatalf("expected pricing fallback, got %q", data.PriceRef)
	}
}

func TestParseInvoiceCapturesPaymentRefs(t *testing.T) {
	adapter := newTestAdapter(t)
	payload := []byte(`{
		"id": "evt_inv",
		"type": "invoice.payment_succeeded",
		"created": 1735689600,
		"data": {"object": {
			"id": "in_1",
			"customer": "cus_123",
			"subscription": "sub_1",
			"charge": "ch_1",
			"payment_intent": "pi_1",
			"billing_reason": "subscription_cycle",
			"amount_paid": 1999,
			"lines": {"data": [{"price": {"id": "price_lumora_basic_monthly"}}]}
		}}
	}`)

	event, err := adapter.Parse(context.Background(), payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	data := event.Invoice
	if data.ChargeRef != "ch_1" || data.PaymentIntentRef != "pi_1" {
		t.Fatalf("unexpected payment refs: %+v", data)
	}
}

func TestParseInvoicePaymentRefsFromPaymentsList(t *testing.T) {
	adapter := newTestAdapter(t)
	payload := []byte(`{
		"id": "evt_inv",
		"type": "invoice.payment_succeeded",
		"created": 1735689600,
		"data": {"object": {
			"id": "in_1",
			"customer": "cus_123",
			"subscription": "sub_1",
			"billing_reason": "subscription_cycle",
			"payments": {"data": [{"payment": {
				"payment_intent": "pi_2",
				"charge": "ch_2"
			}}]},
			"lines": {"data": [{"price": {"id": "price_lumora_basic_monthly"}}]}
		}}
	}`)

	event, err := adapter.Parse(context.Background(), payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	data := event.Invoice
	if data.PaymentIntentRef != "pi_2" || data.ChargeRef != "ch_2" {
		t.Fatalf("unexpected payment refs: %+v", data)
	}
}

func TestParseIgnoresUnhandledTypes(t *testing.T) {
	adapter := newTestAdapter(t)
	payload := []byte(`{"id":"evt_x","type":"customer.created","data":{"object":{}}}`)

	_, err := adapter.Parse(context.Background(), payload)
	if !errors.Is(err, domain.ErrEventIgnored) {
		t.Fatalf("expected ErrEventIgnored, got %v", err)
	}
}

func TestParseDispute(t *testing.T) {
	adapter := newTestAdapter(t)
	payload := []byte(`{
		"id": "evt_dp",
		"type": "charge.dispute.created",
		"created": 1735689600,
		"data": {"object": {
			"id": "dp_1",
			"charge": "ch_1",
			"payment_intent": "pi_1",
			"amount": 1999,
			"status": "needs_response",
			"reason": "fraudulent"
		}}
	}`)

	event, err := adapter.Parse(context.Background(), payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	data := event.Dispute
	if data == nil || data.AmountCents != 1999 || data.PaymentIntentRef != "pi_1" {
		t.Fatalf("unexpected dispute data: %+v", data)
	}
}

func TestParseScheduleUsesFinalPhase(t *testing.T) {
	adapter := newTestAdapter(t)
	payload := []byte(`{
		"id": "evt_sched",
		"type": "subscription_schedule.completed",
		"created": 1735689600,
		"data": {"object": {
			"id": "sched_1",
			"subscription": "sub_1",
			"customer": "cus_123",
			"phases": [
				{"items": [{"price": "price_lumora_pro_monthly"}]},
				{"items": [{"price": "price_lumora_basic_monthly"}]}
			]
		}}
	}`)

	event, err := adapter.Parse(context.Background(), payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.Schedule.PriceRef != "price_lumora_basic_monthly" {
		t.Fatalf("expected final phase price, got %q", event.Schedule.PriceRef)
	}
}
