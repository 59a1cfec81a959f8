package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/lumora/internal/audit/domain"
	"github.com/smallbiznis/lumora/internal/clock"
	creditdomain "github.com/smallbiznis/lumora/internal/credit/domain"
	"github.com/smallbiznis/lumora/internal/events"
	"github.com/smallbiznis/lumora/internal/observability/metrics"
	"github.com/smallbiznis/lumora/internal/plan"
	"github.com/smallbiznis/lumora/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo      domain.Repository
	Gateway   domain.Gateway
	Catalog   *plan.Catalog
	CreditSvc creditdomain.Service
	Outbox    *events.Outbox
	AuditSvc  auditdomain.Service
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	repo      domain.Repository
	gateway   domain.Gateway
	catalog   *plan.Catalog
	creditSvc creditdomain.Service
	outbox    *events.Outbox
	auditSvc  auditdomain.Service
}

func NewService(p Params) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("subscription.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		repo:      p.Repo,
		gateway:   p.Gateway,
		catalog:   p.Catalog,
		creditSvc: p.CreditSvc,
		outbox:    p.Outbox,
		auditSvc:  p.AuditSvc,
	}
}

func (s *Service) GetByUser(ctx context.Context, userID snowflake.ID) (*domain.Record, error) {
	record, err := s.repo.FindByUser(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, domain.ErrSubscriptionNotFound
	}
	return record, nil
}

// ChangePlan applies an upgrade immediately with proration and schedules
// a downgrade for the period boundary. The provider's fresh view of the
// subscription decides, never the local mirror alone.
func (s *Service) ChangePlan(ctx context.Context, req domain.ChangePlanRequest) (*domain.ChangePlanResult, error) {
	newPlan, err := s.catalog.ByPriceRef(req.NewPriceRef)
	if err != nil {
		return nil, domain.ErrUnknownPlan
	}

	record, err := s.repo.FindByUser(ctx, s.db, req.UserID)
	if err != nil {
		return nil, err
	}
	if record == nil || !changeableStatus(record.Status) {
		return nil, domain.ErrNoActiveSubscription
	}

	snapshot, err := s.gateway.GetSubscription(ctx, record.ProviderSubscriptionID)
	if err != nil {
		return nil, err
	}
	if !changeableStatus(snapshot.Status) {
		return nil, domain.ErrNoActiveSubscription
	}
	if snapshot.PriceRef == req.NewPriceRef {
		return nil, domain.ErrSamePlan
	}
	if snapshot.PriceRef != record.PriceRef {
		// A webhook is in flight for a change made elsewhere. Refuse and
		// let the mirror catch up.
		s.log.Warn("local subscription mirror is stale",
			zap.String("local_price_ref", record.PriceRef),
			zap.String("provider_price_ref", snapshot.PriceRef),
		)
		return nil, domain.ErrSubscriptionModified
	}

	oldPlan, err := s.catalog.ByPriceRef(snapshot.PriceRef)
	if err != nil {
		return nil, domain.ErrUnknownPlan
	}

	result := &domain.ChangePlanResult{
		OldPriceRef: snapshot.PriceRef,
		NewPriceRef: req.NewPriceRef,
	}
	// An upgrade strictly raises the monthly allowance. Equal-allowance
	// moves wait for the period boundary like any other downgrade.
	if newPlan.MonthlyCredits > oldPlan.MonthlyCredits {
		result.Kind = domain.ChangeKindUpgrade
		if err := s.applyUpgrade(ctx, record, snapshot, newPlan, oldPlan); err != nil {
			metrics.Billing().IncPlanChange(metrics.ResultFailed)
			return nil, err
		}
		result.EffectiveAt = s.clock.Now()
	} else {
		result.Kind = domain.ChangeKindDowngrade
		result.Scheduled = true
		boundary, err := s.scheduleDowngrade(ctx, record, snapshot, req.NewPriceRef)
		if err != nil {
			metrics.Billing().IncPlanChange(metrics.ResultFailed)
			return nil, err
		}
		result.EffectiveAt = boundary
	}

	metrics.Billing().IncPlanChange(string(result.Kind))
	s.auditSvc.Record(ctx, auditdomain.Entry{
		UserID:     req.UserID,
		ActorType:  auditdomain.ActorTypeUser,
		ActorID:    req.UserID.String(),
		Action:     auditdomain.ActionPlanChanged,
		TargetType: "subscription",
		TargetID:   record.ProviderSubscriptionID,
		Metadata: map[string]any{
			"kind":          string(result.Kind),
			"old_price_ref": result.OldPriceRef,
			"new_price_ref": result.NewPriceRef,
			"effective_at":  result.EffectiveAt,
		},
	})
	s.log.Info("plan change accepted",
		zap.String("user_id", req.UserID.String()),
		zap.String("kind", string(result.Kind)),
		zap.String("new_price_ref", req.NewPriceRef),
	)
	return result, nil
}

// applyUpgrade moves the provider to the new price, then grants the
// allowance difference and updates the local mirror without waiting for
// the webhook. The webhook derives the same grant reference, so the
// grant lands exactly once whichever side wins.
func (s *Service) applyUpgrade(ctx context.Context, record *domain.Record, snapshot *domain.Snapshot, newPlan, oldPlan plan.Plan) error {
	// A pending downgrade loses to an explicit upgrade.
	if snapshot.ScheduleRef != "" {
		if err := s.gateway.ReleaseSchedule(ctx, snapshot.ScheduleRef); err != nil {
			return err
		}
		if err := s.repo.SetSchedule(ctx, s.db, record.ID, nil, nil, nil); err != nil {
			return err
		}
	}
	if err := s.gateway.UpdateSubscriptionPrice(ctx, snapshot, newPlan.PriceRef); err != nil {
		return err
	}

	var periodEnd *time.Time
	if !snapshot.PeriodEnd.IsZero() {
		periodEnd = &snapshot.PeriodEnd
	}
	cap := newPlan.RolloverCap
	granted, err := s.creditSvc.Grant(ctx, creditdomain.GrantRequest{
		UserID:      record.UserID,
		Amount:      newPlan.MonthlyCredits - oldPlan.MonthlyCredits,
		Pool:        creditdomain.PoolSubscription,
		Type:        creditdomain.TransactionTypeSubscription,
		ReferenceID: domain.UpgradeGrantRef(record.ProviderSubscriptionID, newPlan.PriceRef, periodEnd),
		Description: "plan upgrade allowance",
		MaxRollover: &cap,
		Unique:      true,
	})
	if err != nil {
		return err
	}

	record.PriceRef = newPlan.PriceRef
	record.UpdatedAt = s.clock.Now()
	if err := s.repo.Upsert(ctx, s.db, record); err != nil {
		return err
	}
	status := creditdomain.SubscriptionStatusActive
	if record.Status == "trialing" {
		status = creditdomain.SubscriptionStatusTrialing
	}
	if err := s.creditSvc.SetSubscriptionState(ctx, record.UserID, status, &newPlan.Tier); err != nil {
		return err
	}

	s.log.Info("upgrade applied",
		zap.String("user_id", record.UserID.String()),
		zap.String("price_ref", newPlan.PriceRef),
		zap.Int64("credits_granted", granted.Applied),
	)
	return nil
}

func (s *Service) scheduleDowngrade(ctx context.Context, record *domain.Record, snapshot *domain.Snapshot, newPriceRef string) (time.Time, error) {
	boundary := snapshot.PeriodEnd
	if boundary.IsZero() && !snapshot.AnchorAt.IsZero() {
		boundary = nextBoundary(snapshot.AnchorAt, s.clock.Now())
	}
	if boundary.IsZero() {
		return time.Time{}, domain.ErrMissingPeriodBoundary
	}

	// Replace any earlier pending change; the latest request wins.
	if snapshot.ScheduleRef != "" {
		if err := s.gateway.ReleaseSchedule(ctx, snapshot.ScheduleRef); err != nil {
			return time.Time{}, err
		}
		refreshed, err := s.gateway.GetSubscription(ctx, snapshot.SubscriptionRef)
		if err != nil {
			return time.Time{}, err
		}
		snapshot = refreshed
	}

	scheduleRef, err := s.gateway.CreateDowngradeSchedule(ctx, snapshot, newPriceRef, boundary)
	if err != nil {
		return time.Time{}, err
	}
	if err := s.repo.SetSchedule(ctx, s.db, record.ID, &scheduleRef, &newPriceRef, &boundary); err != nil {
		return time.Time{}, err
	}

	if err := s.outbox.Publish(ctx, events.Event{
		UserID:    record.UserID,
		Type:      events.EventPlanChangeScheduled,
		DedupeKey: "plan_scheduled:" + scheduleRef,
		Payload: events.SubscriptionPayload{
			SubscriptionRef: record.ProviderSubscriptionID,
			Status:          "scheduled",
			PriceRef:        newPriceRef,
		}.ToMap(),
	}); err != nil {
		return time.Time{}, err
	}
	return boundary, nil
}

func changeableStatus(status string) bool {
	return status == "active" || status == "trialing"
}

// nextBoundary advances the billing anchor month by month until it
// passes now. Used when the provider snapshot lacks a period end.
func nextBoundary(anchor, now time.Time) time.Time {
	boundary := anchor
	for !boundary.After(now) {
		boundary = boundary.AddDate(0, 1, 0)
	}
	return boundary
}
