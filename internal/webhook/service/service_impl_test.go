package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditrepository "github.com/smallbiznis/lumora/internal/audit/repository"
	auditservice "github.com/smallbiznis/lumora/internal/audit/service"
	"github.com/smallbiznis/lumora/internal/clock"
	"github.com/smallbiznis/lumora/internal/config"
	creditdomain "github.com/smallbiznis/lumora/internal/credit/domain"
	creditservice "github.com/smallbiznis/lumora/internal/credit/service"
	disputedomain "github.com/smallbiznis/lumora/internal/dispute/domain"
	disputeservice "github.com/smallbiznis/lumora/internal/dispute/service"
	"github.com/smallbiznis/lumora/internal/events"
	"github.com/smallbiznis/lumora/internal/plan"
	subscriptiondomain "github.com/smallbiznis/lumora/internal/subscription/domain"
	subscriptionrepository "github.com/smallbiznis/lumora/internal/subscription/repository"
	"github.com/smallbiznis/lumora/internal/testutil"
	"github.com/smallbiznis/lumora/internal/webhook/domain"
	"github.com/smallbiznis/lumora/internal/webhook/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// fakeAdapter resolves payloads of the form {"key":"..."} against a
// prepared event table, skipping real signature checks.
type fakeAdapter struct {
	events map[string]*domain.Event
}

func (a *fakeAdapter) Provider() string { return "stripe" }

func (a *fakeAdapter) Verify(context.Context, []byte, http.Header) error { return nil }

func (a *fakeAdapter) Parse(_ context.Context, payload []byte) (*domain.Event, error) {
	var body struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	event, ok := a.events[body.Key]
	if !ok {
		return nil, domain.ErrEventIgnored
	}
	return event, nil
}

type harness struct {
	svc       domain.Service
	adapter   *fakeAdapter
	creditSvc creditdomain.Service
	subRepo   subscriptiondomain.Repository
	db        *gorm.DB
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := testutil.OpenDB(t)
	node := testutil.Node(t)
	log := zap.NewNop()
	clk := clock.Fixed(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	cfg := config.Config{Credits: config.CreditsConfig{CentsPerCredit: 10}}

	creditSvc := creditservice.NewService(creditservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk,
	})
	disputeSvc := disputeservice.NewService(disputeservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Cfg: cfg, CreditSvc: creditSvc,
	})
	auditSvc := auditservice.NewService(auditservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Repo: auditrepository.Provide(),
	})
	subRepo := subscriptionrepository.NewRepository()
	adapter := &fakeAdapter{events: map[string]*domain.Event{}}

	svc := NewService(Params{
		DB:         db,
		Log:        log,
		GenID:      node,
		Clock:      clk,
		Adapter:    adapter,
		Repo:       repository.NewRepository(),
		CreditSvc:  creditSvc,
		SubRepo:    subRepo,
		DisputeSvc: disputeSvc,
		Catalog:    plan.NewCatalog(config.Config{}),
		Outbox:     events.NewOutbox(db, node),
		AuditSvc:   auditSvc,
	})
	return &harness{svc: svc, adapter: adapter, creditSvc: creditSvc, subRepo: subRepo, db: db}
}

func (h *harness) ingest(t *testing.T, key string) error {
	t.Helper()
	payload, _ := json.Marshal(map[string]string{"key": key})
	return h.svc.IngestEvent(context.Background(), payload, http.Header{})
}

func (h *harness) balance(t *testing.T, userID snowflake.ID) creditdomain.Balance {
	t.Helper()
	balance, err := h.creditSvc.GetBalance(context.Background(), userID)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	return balance
}

func checkoutEvent(id string, userID snowflake.ID, credits int64) *domain.Event {
	return &domain.Event{
		Provider:        "stripe",
		ProviderEventID: id,
		Type:            domain.EventTypeCheckoutCompleted,
		OccurredAt:      time.Now().UTC(),
		Checkout: &domain.CheckoutData{
			UserID:           userID,
			CustomerRef:      "cus_" + userID.String(),
			PaymentIntentRef: "pi_" + id,
			Mode:             domain.CheckoutModePayment,
			CreditsPurchased: credits,
		},
	}
}

func subscriptionEvent(id, eventType, subRef, customerRef, status, priceRef string) *domain.Event {
	return &domain.Event{
		Provider:        "stripe",
		ProviderEventID: id,
		Type:            eventType,
		OccurredAt:      time.Now().UTC(),
		Subscription: &domain.SubscriptionData{
			SubscriptionRef: subRef,
			CustomerRef:     customerRef,
			Status:          status,
			PriceRef:        priceRef,
		},
	}
}

func invoiceEvent(id, eventType, invoiceRef, customerRef, subRef, reason, priceRef string) *domain.Event {
	return &domain.Event{
		Provider:        "stripe",
		ProviderEventID: id,
		Type:            eventType,
		OccurredAt:      time.Now().UTC(),
		Invoice: &domain.InvoiceData{
			InvoiceRef:      invoiceRef,
			CustomerRef:     customerRef,
			SubscriptionRef: subRef,
			BillingReason:   reason,
			PriceRef:        priceRef,
		},
	}
}

func TestDuplicateDeliveryGrantsOnce(t *testing.T) {
	h := newHarness(t)
	h.adapter.events["k1"] = checkoutEvent("evt_1", 501, 100)

	if err := h.ingest(t, "k1"); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := h.ingest(t, "k1"); err != nil {
		t.Fatalf("second delivery: %v", err)
	}

	if got := h.balance(t, 501); got.Purchased != 100 {
		t.Fatalf("expected exactly one grant, balance %+v", got)
	}

	var status string
	if err := h.db.Raw(
		`SELECT status FROM processed_events WHERE provider_event_id = ?`, "evt_1",
	).Scan(&status).Error; err != nil {
		t.Fatalf("read processed event: %v", err)
	}
	if status != string(domain.EventStatusCompleted) {
		t.Fatalf("expected completed, got %s", status)
	}
}

func TestTrialCreditsGrantedOnTrialingSubscription(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.creditSvc.SetExternalCustomerRef(ctx, 502, "cus_502"); err != nil {
		t.Fatalf("set customer ref: %v", err)
	}
	h.adapter.events["k1"] = subscriptionEvent("evt_1", domain.EventTypeSubscriptionCreated, "sub_502", "cus_502", "trialing", "price_lumora_basic_monthly")

	if err := h.ingest(t, "k1"); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	if got := h.balance(t, 502); got.Subscription != 25 {
		t.Fatalf("expected 25 trial credits, got %+v", got)
	}
	account, err := h.creditSvc.GetAccount(ctx, 502)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if account.SubscriptionStatus != creditdomain.SubscriptionStatusTrialing {
		t.Fatalf("expected trialing, got %s", account.SubscriptionStatus)
	}
}

func TestTrialConversionTopsUpToMonthlyAllowance(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.creditSvc.SetExternalCustomerRef(ctx, 503, "cus_503"); err != nil {
		t.Fatalf("set customer ref: %v", err)
	}
	h.adapter.events["trial"] = subscriptionEvent("evt_1", domain.EventTypeSubscriptionCreated, "sub_503", "cus_503", "trialing", "price_lumora_basic_monthly")
	h.adapter.events["activate"] = subscriptionEvent("evt_2", domain.EventTypeSubscriptionUpdated, "sub_503", "cus_503", "active", "price_lumora_basic_monthly")
	h.adapter.events["activate_again"] = subscriptionEvent("evt_3", domain.EventTypeSubscriptionUpdated, "sub_503", "cus_503", "active", "price_lumora_basic_monthly")

	for _, key := range []string{"trial", "activate"} {
		if err := h.ingest(t, key); err != nil {
			t.Fatalf("ingest %s: %v", key, err)
		}
	}
	if got := h.balance(t, 503); got.Subscription != 200 {
		t.Fatalf("expected top-up to 200, got %+v", got)
	}

	// Another active update must not grant again.
	if err := h.ingest(t, "activate_again"); err != nil {
		t.Fatalf("ingest activate_again: %v", err)
	}
	if got := h.balance(t, 503); got.Subscription != 200 {
		t.Fatalf("active redelivery must not grant, got %+v", got)
	}
}

func TestRenewalGrantRespectsRolloverCap(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.creditSvc.SetExternalCustomerRef(ctx, 504, "cus_504"); err != nil {
		t.Fatalf("set customer ref: %v", err)
	}
	if _, err := h.creditSvc.Grant(ctx, creditdomain.GrantRequest{
		UserID: 504, Amount: 900, Pool: creditdomain.PoolSubscription, ReferenceID: "seed",
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	h.adapter.events["renewal"] = invoiceEvent("evt_1", domain.EventTypeInvoicePaid, "in_504", "cus_504", "sub_504", "subscription_cycle", "price_lumora_pro_monthly")
	if err := h.ingest(t, "renewal"); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	// Pro caps at 1200: 900 + min(600, 300).
	if got := h.balance(t, 504); got.Subscription != 1200 {
		t.Fatalf("expected capped balance 1200, got %+v", got)
	}
}

func TestInvoiceFailureMarksPastDue(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.creditSvc.SetExternalCustomerRef(ctx, 505, "cus_505"); err != nil {
		t.Fatalf("set customer ref: %v", err)
	}
	h.adapter.events["failed"] = invoiceEvent("evt_1", domain.EventTypeInvoiceFailed, "in_505", "cus_505", "sub_505", "subscription_cycle", "price_lumora_basic_monthly")

	if err := h.ingest(t, "failed"); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	account, err := h.creditSvc.GetAccount(ctx, 505)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if account.SubscriptionStatus != creditdomain.SubscriptionStatusPastDue {
		t.Fatalf("expected past_due, got %s", account.SubscriptionStatus)
	}
}

func TestUpgradeGrantsAllowanceDifference(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.creditSvc.SetExternalCustomerRef(ctx, 506, "cus_506"); err != nil {
		t.Fatalf("set customer ref: %v", err)
	}
	h.adapter.events["create"] = subscriptionEvent("evt_1", domain.EventTypeSubscriptionCreated, "sub_506", "cus_506", "active", "price_lumora_basic_monthly")
	h.adapter.events["upgrade"] = subscriptionEvent("evt_2", domain.EventTypeSubscriptionUpdated, "sub_506", "cus_506", "active", "price_lumora_pro_monthly")

	for _, key := range []string{"create", "upgrade"} {
		if err := h.ingest(t, key); err != nil {
			t.Fatalf("ingest %s: %v", key, err)
		}
	}

	// Pro minus basic is 400.
	if got := h.balance(t, 506); got.Subscription != 400 {
		t.Fatalf("expected upgrade diff 400, got %+v", got)
	}

	record, err := h.subRepo.FindByProviderRef(ctx, h.db, "stripe", "sub_506")
	if err != nil {
		t.Fatalf("find record: %v", err)
	}
	if record.PriceRef != "price_lumora_pro_monthly" {
		t.Fatalf("record not updated: %+v", record)
	}
}

func TestScheduleCompletionSwitchesPlanWithoutCredits(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.creditSvc.SetExternalCustomerRef(ctx, 507, "cus_507"); err != nil {
		t.Fatalf("set customer ref: %v", err)
	}
	h.adapter.events["create"] = subscriptionEvent("evt_1", domain.EventTypeSubscriptionCreated, "sub_507", "cus_507", "active", "price_lumora_pro_monthly")
	h.adapter.events["sched"] = &domain.Event{
		Provider:        "stripe",
		ProviderEventID: "evt_2",
		Type:            domain.EventTypeScheduleCompleted,
		OccurredAt:      time.Now().UTC(),
		Schedule: &domain.ScheduleData{
			ScheduleRef:     "sched_1",
			SubscriptionRef: "sub_507",
			CustomerRef:     "cus_507",
			PriceRef:        "price_lumora_basic_monthly",
		},
	}

	for _, key := range []string{"create", "sched"} {
		if err := h.ingest(t, key); err != nil {
			t.Fatalf("ingest %s: %v", key, err)
		}
	}

	if got := h.balance(t, 507); got.Total() != 0 {
		t.Fatalf("schedule completion must not move credits, got %+v", got)
	}
	record, err := h.subRepo.FindByProviderRef(ctx, h.db, "stripe", "sub_507")
	if err != nil {
		t.Fatalf("find record: %v", err)
	}
	if record.PriceRef != "price_lumora_basic_monthly" {
		t.Fatalf("expected downgraded price, got %s", record.PriceRef)
	}
	account, err := h.creditSvc.GetAccount(ctx, 507)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if account.SubscriptionTier == nil || *account.SubscriptionTier != "basic" {
		t.Fatalf("expected basic tier, got %v", account.SubscriptionTier)
	}
}

func TestDisputeLifecycleHoldsCredits(t *testing.T) {
	h := newHarness(t)
	h.adapter.events["buy"] = checkoutEvent("evt_1", 508, 100)
	h.adapter.events["dispute"] = &domain.Event{
		Provider:        "stripe",
		ProviderEventID: "evt_2",
		Type:            domain.EventTypeDisputeCreated,
		OccurredAt:      time.Now().UTC(),
		Dispute: &domain.DisputeData{
			DisputeRef:       "dp_1",
			ChargeRef:        "ch_1",
			PaymentIntentRef: "pi_evt_1",
			AmountCents:      505,
			Status:           "needs_response",
			Reason:           "fraudulent",
		},
	}
	h.adapter.events["closed"] = &domain.Event{
		Provider:        "stripe",
		ProviderEventID: "evt_3",
		Type:            domain.EventTypeDisputeClosed,
		OccurredAt:      time.Now().UTC(),
		Dispute: &domain.DisputeData{
			DisputeRef: "dp_1",
			ChargeRef:  "ch_1",
			Status:     disputedomain.StatusLost,
		},
	}

	for _, key := range []string{"buy", "dispute"} {
		if err := h.ingest(t, key); err != nil {
			t.Fatalf("ingest %s: %v", key, err)
		}
	}

	// ceil(505 / 10) = 51 credits held.
	if got := h.balance(t, 508); got.Purchased != 49 {
		t.Fatalf("expected 49 after hold, got %+v", got)
	}

	if err := h.ingest(t, "closed"); err != nil {
		t.Fatalf("ingest closed: %v", err)
	}
	// Losing the dispute does not restore the hold.
	if got := h.balance(t, 508); got.Purchased != 49 {
		t.Fatalf("hold must stand after resolution, got %+v", got)
	}
}

func TestInvoiceForUnknownUserIsAcked(t *testing.T) {
	h := newHarness(t)
	h.adapter.events["orphan"] = invoiceEvent("evt_1", domain.EventTypeInvoicePaid, "in_x", "cus_nobody", "sub_x", "subscription_cycle", "price_lumora_basic_monthly")

	if err := h.ingest(t, "orphan"); err != nil {
		t.Fatalf("unknown user must not fail ingestion: %v", err)
	}

	var status string
	if err := h.db.Raw(
		`SELECT status FROM processed_events WHERE provider_event_id = ?`, "evt_1",
	).Scan(&status).Error; err != nil {
		t.Fatalf("read processed event: %v", err)
	}
	if status != string(domain.EventStatusCompleted) {
		t.Fatalf("expected completed, got %s", status)
	}
}

func TestIgnoredEventTypesAreNotRecorded(t *testing.T) {
	h := newHarness(t)

	if err := h.ingest(t, "never_registered"); err != nil {
		t.Fatalf("ignored event must not error: %v", err)
	}

	var count int64
	if err := h.db.Raw(`SELECT COUNT(1) FROM processed_events`).Scan(&count).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if count != 0 {
		t.Fatalf("ignored events must not claim, got %d rows", count)
	}
}

func TestRedeliveryAfterPartialFailureGrantsOnce(t *testing.T) {
	h := newHarness(t)
	h.adapter.events["k1"] = checkoutEvent("evt_1", 510, 100)

	// Hide the outbox table so the handler fails after its grant commits.
	if err := h.db.Exec(`ALTER TABLE billing_events RENAME TO billing_events_hidden`).Error; err != nil {
		t.Fatalf("hide outbox table: %v", err)
	}
	if err := h.ingest(t, "k1"); err == nil {
		t.Fatal("expected first delivery to fail")
	}
	if err := h.db.Exec(`ALTER TABLE billing_events_hidden RENAME TO billing_events`).Error; err != nil {
		t.Fatalf("restore outbox table: %v", err)
	}

	var status string
	if err := h.db.Raw(
		`SELECT status FROM processed_events WHERE provider_event_id = ?`, "evt_1",
	).Scan(&status).Error; err != nil {
		t.Fatalf("read processed event: %v", err)
	}
	if status != string(domain.EventStatusFailed) {
		t.Fatalf("expected failed, got %s", status)
	}
	if got := h.balance(t, 510); got.Purchased != 100 {
		t.Fatalf("first delivery must have granted, got %+v", got)
	}

	if err := h.ingest(t, "k1"); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if got := h.balance(t, 510); got.Purchased != 100 {
		t.Fatalf("redelivery must not grant again, got %+v", got)
	}

	// The retried handler still publishes the outbox event it missed.
	var count int64
	if err := h.db.Raw(
		`SELECT COUNT(1) FROM billing_events WHERE dedupe_key = ?`, "credits:pi_evt_1",
	).Scan(&count).Error; err != nil {
		t.Fatalf("count outbox rows: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one outbox row, got %d", count)
	}
}

func TestRenewalChargeDisputeHoldsCredits(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.creditSvc.SetExternalCustomerRef(ctx, 511, "cus_511"); err != nil {
		t.Fatalf("set customer ref: %v", err)
	}
	h.adapter.events["renewal"] = &domain.Event{
		Provider:        "stripe",
		ProviderEventID: "evt_1",
		Type:            domain.EventTypeInvoicePaid,
		OccurredAt:      time.Now().UTC(),
		Invoice: &domain.InvoiceData{
			InvoiceRef:       "in_511",
			CustomerRef:      "cus_511",
			SubscriptionRef:  "sub_511",
			PriceRef:         "price_lumora_basic_monthly",
			ChargeRef:        "ch_511",
			PaymentIntentRef: "pi_511",
			BillingReason:    "subscription_cycle",
		},
	}
	h.adapter.events["dispute"] = &domain.Event{
		Provider:        "stripe",
		ProviderEventID: "evt_2",
		Type:            domain.EventTypeDisputeCreated,
		OccurredAt:      time.Now().UTC(),
		Dispute: &domain.DisputeData{
			DisputeRef:       "dp_511",
			ChargeRef:        "ch_511",
			PaymentIntentRef: "pi_511",
			AmountCents:      1000,
			Status:           "needs_response",
			Reason:           "fraudulent",
		},
	}

	for _, key := range []string{"renewal", "dispute"} {
		if err := h.ingest(t, key); err != nil {
			t.Fatalf("ingest %s: %v", key, err)
		}
	}

	// Basic grants 200; the dispute holds ceil(1000 / 10) = 100 of them.
	if got := h.balance(t, 511); got.Subscription != 100 {
		t.Fatalf("expected 100 after renewal dispute hold, got %+v", got)
	}
}

func TestUpgradeGrantNotRepeatedAfterImmediateApply(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.creditSvc.SetExternalCustomerRef(ctx, 512, "cus_512"); err != nil {
		t.Fatalf("set customer ref: %v", err)
	}
	h.adapter.events["create"] = subscriptionEvent("evt_1", domain.EventTypeSubscriptionCreated, "sub_512", "cus_512", "active", "price_lumora_basic_monthly")
	if err := h.ingest(t, "create"); err != nil {
		t.Fatalf("ingest create: %v", err)
	}

	// The plan-change flow already applied the upgrade and granted the
	// allowance difference before the provider's webhook arrived.
	if _, err := h.creditSvc.Grant(ctx, creditdomain.GrantRequest{
		UserID:      512,
		Amount:      400,
		Pool:        creditdomain.PoolSubscription,
		ReferenceID: subscriptiondomain.UpgradeGrantRef("sub_512", "price_lumora_pro_monthly", nil),
		Unique:      true,
	}); err != nil {
		t.Fatalf("immediate grant: %v", err)
	}

	h.adapter.events["upgrade"] = subscriptionEvent("evt_2", domain.EventTypeSubscriptionUpdated, "sub_512", "cus_512", "active", "price_lumora_pro_monthly")
	if err := h.ingest(t, "upgrade"); err != nil {
		t.Fatalf("ingest upgrade: %v", err)
	}

	if got := h.balance(t, 512); got.Subscription != 400 {
		t.Fatalf("webhook must not grant a second time, got %+v", got)
	}
}

func TestFailedEventIsRetriable(t *testing.T) {
	h := newHarness(t)
	// Checkout in payment mode without credits metadata fails processing.
	broken := checkoutEvent("evt_1", 509, 0)
	h.adapter.events["k1"] = broken

	err := h.ingest(t, "k1")
	if !errors.Is(err, domain.ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}

	var status string
	if err := h.db.Raw(
		`SELECT status FROM processed_events WHERE provider_event_id = ?`, "evt_1",
	).Scan(&status).Error; err != nil {
		t.Fatalf("read processed event: %v", err)
	}
	if status != string(domain.EventStatusFailed) {
		t.Fatalf("expected failed, got %s", status)
	}

	// A corrected redelivery reprocesses the parked event.
	h.adapter.events["k1"] = checkoutEvent("evt_1", 509, 50)
	if err := h.ingest(t, "k1"); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if got := h.balance(t, 509); got.Purchased != 50 {
		t.Fatalf("expected grant on retry, got %+v", got)
	}
}
