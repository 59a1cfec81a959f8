package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/lumora/internal/audit/domain"
	"github.com/smallbiznis/lumora/internal/cache"
	"github.com/smallbiznis/lumora/internal/clock"
	creditdomain "github.com/smallbiznis/lumora/internal/credit/domain"
	disputedomain "github.com/smallbiznis/lumora/internal/dispute/domain"
	"github.com/smallbiznis/lumora/internal/events"
	"github.com/smallbiznis/lumora/internal/observability/metrics"
	"github.com/smallbiznis/lumora/internal/plan"
	subscriptiondomain "github.com/smallbiznis/lumora/internal/subscription/domain"
	"github.com/smallbiznis/lumora/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Adapter    domain.Adapter
	Repo       domain.Repository
	CreditSvc  creditdomain.Service
	SubRepo    subscriptiondomain.Repository
	DisputeSvc disputedomain.Service
	Catalog    *plan.Catalog
	Outbox     *events.Outbox
	AuditSvc   auditdomain.Service
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	adapter    domain.Adapter
	repo       domain.Repository
	creditSvc  creditdomain.Service
	subRepo    subscriptiondomain.Repository
	disputeSvc disputedomain.Service
	catalog    *plan.Catalog
	outbox     *events.Outbox
	auditSvc   auditdomain.Service
	userCache  *cache.TTLCache[string, snowflake.ID]
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("webhook.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		adapter:    p.Adapter,
		repo:       p.Repo,
		creditSvc:  p.CreditSvc,
		subRepo:    p.SubRepo,
		disputeSvc: p.DisputeSvc,
		catalog:    p.Catalog,
		outbox:     p.Outbox,
		auditSvc:   p.AuditSvc,
		userCache:  cache.NewTTLCache[string, snowflake.ID](),
	}
}

func (s *Service) IngestEvent(ctx context.Context, payload []byte, headers http.Header) error {
	if !json.Valid(payload) {
		return domain.ErrInvalidPayload
	}
	if err := s.adapter.Verify(ctx, payload, headers); err != nil {
		metrics.Billing().IncWebhookEvent("unknown", metrics.ResultRejected)
		return err
	}

	event, err := s.adapter.Parse(ctx, payload)
	if err != nil {
		if errors.Is(err, domain.ErrEventIgnored) {
			metrics.Billing().IncWebhookEvent("unhandled", metrics.ResultIgnored)
			return nil
		}
		metrics.Billing().IncWebhookEvent("unknown", metrics.ResultFailed)
		return err
	}

	record := &domain.ProcessedEvent{
		ID:              s.genID.Generate(),
		Provider:        event.Provider,
		ProviderEventID: event.ProviderEventID,
		EventType:       event.Type,
		Payload:         datatypes.JSON(payload),
		ClaimedAt:       s.clock.Now(),
	}
	claimed, err := s.repo.Claim(ctx, s.db, record)
	if err != nil {
		return err
	}
	if !claimed {
		existing, err := s.repo.Find(ctx, s.db, event.Provider, event.ProviderEventID)
		if err != nil {
			return err
		}
		if existing == nil {
			return domain.ErrInvalidEvent
		}
		switch existing.Status {
		case domain.EventStatusCompleted:
			metrics.Billing().IncWebhookEvent(event.Type, metrics.ResultDuplicate)
			return nil
		case domain.EventStatusClaimed:
			// A concurrent delivery owns it. Ack and let the owner finish.
			s.log.Warn("event already claimed",
				zap.String("provider_event_id", event.ProviderEventID),
			)
			return nil
		case domain.EventStatusFailed:
			if err := s.repo.Reclaim(ctx, s.db, existing.ID, s.clock.Now()); err != nil {
				return err
			}
			record = existing
		}
	}

	if err := s.dispatch(ctx, event); err != nil {
		reason := err.Error()
		if markErr := s.repo.MarkFailed(ctx, s.db, record.ID, reason, s.clock.Now()); markErr != nil {
			s.log.Error("mark failed", zap.Error(markErr))
		}
		metrics.Billing().IncWebhookEvent(event.Type, metrics.ResultFailed)
		return err
	}

	if err := s.repo.MarkCompleted(ctx, s.db, record.ID, s.clock.Now()); err != nil {
		return err
	}
	metrics.Billing().IncWebhookEvent(event.Type, metrics.ResultSuccess)
	return nil
}

func (s *Service) dispatch(ctx context.Context, event *domain.Event) error {
	switch event.Type {
	case domain.EventTypeCheckoutCompleted:
		return s.handleCheckout(ctx, event)
	case domain.EventTypeSubscriptionCreated:
		return s.handleSubscriptionChange(ctx, event, true, false)
	case domain.EventTypeSubscriptionUpdated:
		return s.handleSubscriptionChange(ctx, event, false, false)
	case domain.EventTypeSubscriptionDeleted:
		return s.handleSubscriptionChange(ctx, event, false, true)
	case domain.EventTypeInvoicePaid:
		return s.handleInvoicePaid(ctx, event)
	case domain.EventTypeInvoiceFailed:
		return s.handleInvoiceFailed(ctx, event)
	case domain.EventTypeDisputeCreated:
		return s.handleDisputeCreated(ctx, event)
	case domain.EventTypeDisputeClosed:
		return s.handleDisputeClosed(ctx, event)
	case domain.EventTypeScheduleCompleted:
		return s.handleScheduleCompleted(ctx, event)
	default:
		s.log.Warn("no handler for event type", zap.String("event_type", event.Type))
		return nil
	}
}

func (s *Service) handleCheckout(ctx context.Context, event *domain.Event) error {
	data := event.Checkout
	if data == nil {
		return domain.ErrInvalidEvent
	}

	if data.CustomerRef != "" {
		if err := s.creditSvc.SetExternalCustomerRef(ctx, data.UserID, data.CustomerRef); err != nil {
			return err
		}
	}

	if data.Mode != domain.CheckoutModePayment {
		// Subscription checkouts grant nothing here; credits flow from the
		// subscription and invoice events.
		return nil
	}

	if data.CreditsPurchased <= 0 {
		return fmt.Errorf("%w: checkout without credits metadata", domain.ErrInvalidEvent)
	}
	reference := data.PaymentIntentRef
	if reference == "" {
		reference = event.ProviderEventID
	}

	granted, err := s.creditSvc.Grant(ctx, creditdomain.GrantRequest{
		UserID:      data.UserID,
		Amount:      data.CreditsPurchased,
		Pool:        creditdomain.PoolPurchased,
		Type:        creditdomain.TransactionTypePurchase,
		ReferenceID: reference,
		Description: "credit pack purchase",
		Unique:      true,
	})
	if err != nil {
		return err
	}

	if granted.Applied > 0 {
		s.auditSvc.Record(ctx, auditdomain.Entry{
			UserID:     data.UserID,
			ActorType:  auditdomain.ActorTypeProvider,
			Action:     auditdomain.ActionCreditGranted,
			TargetType: "credit_account",
			TargetID:   data.UserID.String(),
			Metadata: map[string]any{
				"amount":    granted.Applied,
				"pool":      creditdomain.PoolPurchased,
				"reference": reference,
			},
		})
	}
	return s.outbox.Publish(ctx, events.Event{
		UserID:    data.UserID,
		Type:      events.EventCreditsGranted,
		DedupeKey: "credits:" + reference,
		Payload: events.CreditsPayload{
			Amount:      data.CreditsPurchased,
			Pool:        string(creditdomain.PoolPurchased),
			ReferenceID: reference,
			Balance:     granted.Balance.Total(),
		}.ToMap(),
	})
}

func (s *Service) handleSubscriptionChange(ctx context.Context, event *domain.Event, created, deleted bool) error {
	data := event.Subscription
	if data == nil {
		return domain.ErrInvalidEvent
	}

	prior, err := s.subRepo.FindByProviderRef(ctx, s.db, event.Provider, data.SubscriptionRef)
	if err != nil {
		return err
	}
	userID, err := s.resolveSubscriptionUser(ctx, prior, data.CustomerRef)
	if err != nil {
		return err
	}

	status := data.Status
	if deleted {
		status = "canceled"
	}
	if err := s.upsertRecord(ctx, prior, userID, event.Provider, data, status); err != nil {
		return err
	}

	p, planKnown := s.lookupPlan(data.PriceRef)
	if mapped, ok := mapProviderStatus(status); ok {
		var tier *string
		if planKnown && mapped != creditdomain.SubscriptionStatusCanceled {
			tier = &p.Tier
		}
		if err := s.creditSvc.SetSubscriptionState(ctx, userID, mapped, tier); err != nil {
			return err
		}
	}

	switch {
	case deleted:
		return s.outbox.Publish(ctx, events.Event{
			UserID:    userID,
			Type:      events.EventSubscriptionEnded,
			DedupeKey: "sub_ended:" + event.ProviderEventID,
			Payload: events.SubscriptionPayload{
				SubscriptionRef: data.SubscriptionRef,
				Status:          status,
			}.ToMap(),
		})

	case created && status == "trialing":
		if !planKnown || p.TrialCredits <= 0 {
			return nil
		}
		_, err := s.creditSvc.Grant(ctx, creditdomain.GrantRequest{
			UserID:      userID,
			Amount:      p.TrialCredits,
			Pool:        creditdomain.PoolSubscription,
			Type:        creditdomain.TransactionTypeTrial,
			ReferenceID: data.SubscriptionRef + ":trial",
			Description: "trial credits",
			Unique:      true,
		})
		if err != nil {
			return err
		}
		return s.outbox.Publish(ctx, events.Event{
			UserID:    userID,
			Type:      events.EventSubscriptionStarted,
			DedupeKey: "sub_started:" + data.SubscriptionRef,
			Payload: events.SubscriptionPayload{
				SubscriptionRef: data.SubscriptionRef,
				Status:          status,
				PriceRef:        data.PriceRef,
			}.ToMap(),
		})

	case !created:
		if prior != nil && prior.Status == "trialing" && status == "active" && planKnown {
			// Trial conversion tops the pool up to one month's allowance.
			// The cap makes redelivery and trial-spend both safe.
			monthly := p.MonthlyCredits
			if _, err := s.creditSvc.Grant(ctx, creditdomain.GrantRequest{
				UserID:      userID,
				Amount:      monthly,
				Pool:        creditdomain.PoolSubscription,
				Type:        creditdomain.TransactionTypeSubscription,
				ReferenceID: data.SubscriptionRef + ":activate",
				Description: "trial conversion",
				MaxRollover: &monthly,
				Unique:      true,
			}); err != nil {
				return err
			}
		}
		if prior != nil && prior.PriceRef != "" && data.PriceRef != "" && prior.PriceRef != data.PriceRef {
			if err := s.handlePriceChange(ctx, event, prior, userID, data.PriceRef); err != nil {
				return err
			}
		}
	}
	return nil
}

// handlePriceChange grants the allowance difference on upgrades, capped
// at the new plan's rollover cap so repeated up/downgrades cannot farm
// credits. Downgrades grant nothing; the smaller allowance starts at the
// next renewal.
func (s *Service) handlePriceChange(ctx context.Context, event *domain.Event, prior *subscriptiondomain.Record, userID snowflake.ID, newPriceRef string) error {
	newPlan, newKnown := s.lookupPlan(newPriceRef)
	oldPlan, oldKnown := s.lookupPlan(prior.PriceRef)
	if !newKnown || !oldKnown {
		s.log.Warn("price change with unknown plan",
			zap.String("old_price_ref", prior.PriceRef),
			zap.String("new_price_ref", newPriceRef),
		)
		return nil
	}

	if prior.ScheduleRef != nil {
		if err := s.subRepo.SetSchedule(ctx, s.db, prior.ID, nil, nil, nil); err != nil {
			return err
		}
	}

	diff := newPlan.MonthlyCredits - oldPlan.MonthlyCredits
	if diff <= 0 {
		return nil
	}
	cap := newPlan.RolloverCap
	granted, err := s.creditSvc.Grant(ctx, creditdomain.GrantRequest{
		UserID:      userID,
		Amount:      diff,
		Pool:        creditdomain.PoolSubscription,
		Type:        creditdomain.TransactionTypeSubscription,
		ReferenceID: subscriptiondomain.UpgradeGrantRef(prior.ProviderSubscriptionID, newPriceRef, event.Subscription.PeriodEnd),
		Description: "plan upgrade allowance",
		MaxRollover: &cap,
		Unique:      true,
	})
	if err != nil {
		return err
	}

	if granted.Applied > 0 {
		s.auditSvc.Record(ctx, auditdomain.Entry{
			UserID:     userID,
			ActorType:  auditdomain.ActorTypeProvider,
			Action:     auditdomain.ActionPlanChanged,
			TargetType: "subscription",
			TargetID:   prior.ProviderSubscriptionID,
			Metadata: map[string]any{
				"old_price_ref":  prior.PriceRef,
				"new_price_ref":  newPriceRef,
				"credits_topped": granted.Applied,
			},
		})
	}
	return s.outbox.Publish(ctx, events.Event{
		UserID:    userID,
		Type:      events.EventSubscriptionUpdated,
		DedupeKey: "sub_updated:" + event.ProviderEventID,
		Payload: events.SubscriptionPayload{
			SubscriptionRef: prior.ProviderSubscriptionID,
			Status:          "active",
			PriceRef:        newPriceRef,
		}.ToMap(),
	})
}

func (s *Service) handleInvoicePaid(ctx context.Context, event *domain.Event) error {
	data := event.Invoice
	if data == nil {
		return domain.ErrInvalidEvent
	}

	userID, err := s.resolveInvoiceUser(ctx, event.Provider, data)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownUser) {
			s.log.Warn("invoice for unknown user",
				zap.String("invoice_ref", data.InvoiceRef),
				zap.String("customer_ref", truncateRef(data.CustomerRef)),
			)
			return nil
		}
		return err
	}

	switch data.BillingReason {
	case "subscription_cycle", "subscription_create":
	case "subscription_update":
		// Proration invoices on plan changes; the allowance difference was
		// already granted by the subscription update handler.
		p, known := s.lookupPlan(data.PriceRef)
		if known {
			return s.creditSvc.SetSubscriptionState(ctx, userID, creditdomain.SubscriptionStatusActive, &p.Tier)
		}
		return nil
	default:
		return nil
	}

	p, known := s.lookupPlan(data.PriceRef)
	if !known {
		s.log.Warn("invoice for unknown price",
			zap.String("invoice_ref", data.InvoiceRef),
			zap.String("price_ref", data.PriceRef),
		)
		return nil
	}

	// The grant references the payment object when the invoice carries
	// one, so a later dispute on that charge can find the account.
	reference := data.PaymentIntentRef
	if reference == "" {
		reference = data.ChargeRef
	}
	if reference == "" {
		reference = data.InvoiceRef
	}

	cap := p.RolloverCap
	granted, err := s.creditSvc.Grant(ctx, creditdomain.GrantRequest{
		UserID:      userID,
		Amount:      p.MonthlyCredits,
		Pool:        creditdomain.PoolSubscription,
		Type:        creditdomain.TransactionTypeSubscription,
		ReferenceID: reference,
		Description: "monthly allowance",
		MaxRollover: &cap,
		Unique:      true,
	})
	if err != nil {
		return err
	}
	if err := s.creditSvc.SetSubscriptionState(ctx, userID, creditdomain.SubscriptionStatusActive, &p.Tier); err != nil {
		return err
	}

	if granted.Applied > 0 {
		s.auditSvc.Record(ctx, auditdomain.Entry{
			UserID:     userID,
			ActorType:  auditdomain.ActorTypeProvider,
			Action:     auditdomain.ActionCreditGranted,
			TargetType: "credit_account",
			TargetID:   userID.String(),
			Metadata: map[string]any{
				"amount":      granted.Applied,
				"pool":        creditdomain.PoolSubscription,
				"reference":   reference,
				"invoice_ref": data.InvoiceRef,
			},
		})
	}
	return s.outbox.Publish(ctx, events.Event{
		UserID:    userID,
		Type:      events.EventCreditsGranted,
		DedupeKey: "credits:" + data.InvoiceRef,
		Payload: events.CreditsPayload{
			Amount:      granted.Applied,
			Pool:        string(creditdomain.PoolSubscription),
			ReferenceID: reference,
			Balance:     granted.Balance.Total(),
		}.ToMap(),
	})
}

func (s *Service) handleInvoiceFailed(ctx context.Context, event *domain.Event) error {
	data := event.Invoice
	if data == nil {
		return domain.ErrInvalidEvent
	}
	userID, err := s.resolveInvoiceUser(ctx, event.Provider, data)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownUser) {
			return nil
		}
		return err
	}

	account, err := s.creditSvc.GetAccount(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.creditSvc.SetSubscriptionState(ctx, userID, creditdomain.SubscriptionStatusPastDue, account.SubscriptionTier); err != nil {
		return err
	}
	return s.outbox.Publish(ctx, events.Event{
		UserID:    userID,
		Type:      events.EventPaymentFailed,
		DedupeKey: "payment_failed:" + event.ProviderEventID,
		Payload: map[string]any{
			"invoice_ref": data.InvoiceRef,
		},
	})
}

func (s *Service) handleDisputeCreated(ctx context.Context, event *domain.Event) error {
	data := event.Dispute
	if data == nil {
		return domain.ErrInvalidEvent
	}
	record, err := s.disputeSvc.Open(ctx, disputedomain.OpenRequest{
		Provider:         event.Provider,
		DisputeRef:       data.DisputeRef,
		ChargeRef:        data.ChargeRef,
		PaymentIntentRef: data.PaymentIntentRef,
		AmountCents:      data.AmountCents,
		Status:           data.Status,
		Reason:           data.Reason,
	})
	if err != nil {
		if errors.Is(err, disputedomain.ErrUnknownUser) {
			// Nothing to hold against; the funds side is handled by the
			// provider regardless.
			s.log.Warn("dispute with no matching account",
				zap.String("dispute_ref", data.DisputeRef),
			)
			return nil
		}
		return err
	}

	s.auditSvc.Record(ctx, auditdomain.Entry{
		UserID:     record.UserID,
		ActorType:  auditdomain.ActorTypeProvider,
		Action:     auditdomain.ActionDisputeOpened,
		TargetType: "dispute",
		TargetID:   data.DisputeRef,
		Metadata: map[string]any{
			"amount_cents": data.AmountCents,
			"credits_held": record.CreditsHeld,
		},
	})
	return s.outbox.Publish(ctx, events.Event{
		UserID:    record.UserID,
		Type:      events.EventDisputeOpened,
		DedupeKey: "dispute:" + data.DisputeRef,
		Payload: map[string]any{
			"dispute_ref":  data.DisputeRef,
			"credits_held": record.CreditsHeld,
		},
	})
}

func (s *Service) handleDisputeClosed(ctx context.Context, event *domain.Event) error {
	data := event.Dispute
	if data == nil {
		return domain.ErrInvalidEvent
	}
	if data.Status != disputedomain.StatusWon && data.Status != disputedomain.StatusLost {
		return nil
	}
	record, err := s.disputeSvc.Resolve(ctx, disputedomain.ResolveRequest{
		Provider:   event.Provider,
		DisputeRef: data.DisputeRef,
		Status:     data.Status,
	})
	if err != nil {
		if errors.Is(err, disputedomain.ErrDisputeNotFound) {
			s.log.Warn("closing unknown dispute", zap.String("dispute_ref", data.DisputeRef))
			return nil
		}
		return err
	}

	s.auditSvc.Record(ctx, auditdomain.Entry{
		UserID:     record.UserID,
		ActorType:  auditdomain.ActorTypeProvider,
		Action:     auditdomain.ActionDisputeResolved,
		TargetType: "dispute",
		TargetID:   data.DisputeRef,
		Metadata:   map[string]any{"status": data.Status},
	})
	return s.outbox.Publish(ctx, events.Event{
		UserID:    record.UserID,
		Type:      events.EventDisputeResolved,
		DedupeKey: "dispute_resolved:" + data.DisputeRef,
		Payload: map[string]any{
			"dispute_ref": data.DisputeRef,
			"status":      data.Status,
		},
	})
}

// handleScheduleCompleted lands a scheduled downgrade: the record flips
// to the new price and the schedule fields clear. Credits are untouched;
// the renewal invoice grants the new allowance.
func (s *Service) handleScheduleCompleted(ctx context.Context, event *domain.Event) error {
	data := event.Schedule
	if data == nil {
		return domain.ErrInvalidEvent
	}
	record, err := s.subRepo.FindByProviderRef(ctx, s.db, event.Provider, data.SubscriptionRef)
	if err != nil {
		return err
	}
	if record == nil {
		s.log.Warn("schedule completed for unknown subscription",
			zap.String("subscription_ref", data.SubscriptionRef),
		)
		return nil
	}

	priceRef := data.PriceRef
	if priceRef == "" && record.ScheduledPriceRef != nil {
		priceRef = *record.ScheduledPriceRef
	}
	if priceRef != "" {
		record.PriceRef = priceRef
	}
	record.UpdatedAt = s.clock.Now()
	if err := s.subRepo.Upsert(ctx, s.db, record); err != nil {
		return err
	}
	if err := s.subRepo.SetSchedule(ctx, s.db, record.ID, nil, nil, nil); err != nil {
		return err
	}

	if p, known := s.lookupPlan(priceRef); known {
		if err := s.creditSvc.SetSubscriptionState(ctx, record.UserID, creditdomain.SubscriptionStatusActive, &p.Tier); err != nil {
			return err
		}
	}
	return s.outbox.Publish(ctx, events.Event{
		UserID:    record.UserID,
		Type:      events.EventSubscriptionUpdated,
		DedupeKey: "schedule_done:" + data.ScheduleRef,
		Payload: events.SubscriptionPayload{
			SubscriptionRef: data.SubscriptionRef,
			Status:          "active",
			PriceRef:        priceRef,
		}.ToMap(),
	})
}

func (s *Service) resolveSubscriptionUser(ctx context.Context, prior *subscriptiondomain.Record, customerRef string) (snowflake.ID, error) {
	if prior != nil {
		return prior.UserID, nil
	}
	if strings.TrimSpace(customerRef) == "" {
		return 0, domain.ErrUnknownUser
	}
	userID, err := s.findUserByCustomerRef(ctx, customerRef)
	if err != nil {
		if errors.Is(err, creditdomain.ErrAccountNotFound) {
			return 0, domain.ErrUnknownUser
		}
		return 0, err
	}
	return userID, nil
}

// findUserByCustomerRef caches the customer-to-user mapping; it is set
// once at checkout and never reassigned.
func (s *Service) findUserByCustomerRef(ctx context.Context, customerRef string) (snowflake.ID, error) {
	if userID, ok := s.userCache.Get(customerRef); ok {
		return userID, nil
	}
	userID, err := s.creditSvc.FindUserByCustomerRef(ctx, customerRef)
	if err != nil {
		return 0, err
	}
	s.userCache.Set(customerRef, userID, 10*time.Minute)
	return userID, nil
}

func (s *Service) resolveInvoiceUser(ctx context.Context, provider string, data *domain.InvoiceData) (snowflake.ID, error) {
	if data.CustomerRef != "" {
		userID, err := s.findUserByCustomerRef(ctx, data.CustomerRef)
		if err == nil {
			return userID, nil
		}
		if !errors.Is(err, creditdomain.ErrAccountNotFound) {
			return 0, err
		}
	}
	if data.SubscriptionRef != "" {
		record, err := s.subRepo.FindByProviderRef(ctx, s.db, provider, data.SubscriptionRef)
		if err != nil {
			return 0, err
		}
		if record != nil {
			return record.UserID, nil
		}
	}
	return 0, domain.ErrUnknownUser
}

func (s *Service) upsertRecord(ctx context.Context, prior *subscriptiondomain.Record, userID snowflake.ID, provider string, data *domain.SubscriptionData, status string) error {
	now := s.clock.Now()
	record := &subscriptiondomain.Record{
		ID:                     s.genID.Generate(),
		UserID:                 userID,
		Provider:               provider,
		ProviderSubscriptionID: data.SubscriptionRef,
		Status:                 status,
		PriceRef:               data.PriceRef,
		CurrentPeriodStart:     data.PeriodStart,
		CurrentPeriodEnd:       data.PeriodEnd,
		CanceledAt:             data.CanceledAt,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if prior != nil {
		record.ID = prior.ID
		record.CreatedAt = prior.CreatedAt
		if record.PriceRef == "" {
			record.PriceRef = prior.PriceRef
		}
	}
	return s.subRepo.Upsert(ctx, s.db, record)
}

func (s *Service) lookupPlan(priceRef string) (plan.Plan, bool) {
	if priceRef == "" {
		return plan.Plan{}, false
	}
	p, err := s.catalog.ByPriceRef(priceRef)
	if err != nil {
		return plan.Plan{}, false
	}
	return p, true
}

func mapProviderStatus(status string) (creditdomain.SubscriptionStatus, bool) {
	switch status {
	case "trialing":
		return creditdomain.SubscriptionStatusTrialing, true
	case "active":
		return creditdomain.SubscriptionStatusActive, true
	case "past_due", "unpaid":
		return creditdomain.SubscriptionStatusPastDue, true
	case "canceled", "incomplete_expired":
		return creditdomain.SubscriptionStatusCanceled, true
	default:
		return "", false
	}
}

func truncateRef(v string) string {
	if len(v) <= 8 {
		return v
	}
	return v[:8] + "..."
}
