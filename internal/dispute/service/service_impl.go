package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/lumora/internal/clock"
	"github.com/smallbiznis/lumora/internal/config"
	creditdomain "github.com/smallbiznis/lumora/internal/credit/domain"
	"github.com/smallbiznis/lumora/internal/dispute/domain"
	"github.com/smallbiznis/lumora/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Cfg       config.Config
	CreditSvc creditdomain.Service
}

type Service struct {
	db             *gorm.DB
	log            *zap.Logger
	genID          *snowflake.Node
	clock          clock.Clock
	creditSvc      creditdomain.Service
	centsPerCredit int64
}

func NewService(p Params) domain.Service {
	centsPerCredit := p.Cfg.Credits.CentsPerCredit
	if centsPerCredit <= 0 {
		centsPerCredit = 10
	}
	return &Service{
		db:             p.DB,
		log:            p.Log.Named("dispute.service"),
		genID:          p.GenID,
		clock:          p.Clock,
		creditSvc:      p.CreditSvc,
		centsPerCredit: centsPerCredit,
	}
}

func (s *Service) Open(ctx context.Context, req domain.OpenRequest) (*domain.Record, error) {
	if strings.TrimSpace(req.DisputeRef) == "" || strings.TrimSpace(req.ChargeRef) == "" {
		return nil, domain.ErrInvalidDispute
	}
	if req.AmountCents <= 0 {
		return nil, domain.ErrInvalidDispute
	}

	if existing, err := s.find(ctx, req.Provider, req.DisputeRef); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	userID, err := s.resolveUser(ctx, req.PaymentIntentRef, req.ChargeRef)
	if err != nil {
		return nil, err
	}

	// Hold up to the disputed value, rounded up to whole credits. The
	// account may hold less than that; the clawback floors at zero.
	requested := (req.AmountCents + s.centsPerCredit - 1) / s.centsPerCredit
	hold, err := s.creditSvc.Clawback(ctx, creditdomain.ClawbackRequest{
		UserID:      userID,
		Amount:      requested,
		Pool:        creditdomain.PoolAuto,
		ReferenceID: req.DisputeRef,
		Reason:      "dispute hold",
	})
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	status := strings.TrimSpace(req.Status)
	if status == "" {
		status = domain.StatusNeedsResponse
	}
	record := &domain.Record{
		ID:                s.genID.Generate(),
		UserID:            userID,
		Provider:          req.Provider,
		ProviderDisputeID: req.DisputeRef,
		ChargeRef:         req.ChargeRef,
		AmountCents:       req.AmountCents,
		CreditsHeld:       hold.Applied,
		Status:            status,
		Reason:            req.Reason,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.insert(ctx, record); err != nil {
		return nil, err
	}

	if err := s.creditSvc.SetDisputeStatus(ctx, userID, creditdomain.DisputeStatusPending); err != nil {
		return nil, err
	}

	metrics.Billing().AddCreditsHeld(hold.Applied)
	s.log.Info("dispute opened",
		zap.String("user_id", userID.String()),
		zap.String("dispute_ref", req.DisputeRef),
		zap.Int64("amount_cents", req.AmountCents),
		zap.Int64("credits_held", hold.Applied),
	)
	return record, nil
}

func (s *Service) Resolve(ctx context.Context, req domain.ResolveRequest) (*domain.Record, error) {
	status := strings.TrimSpace(req.Status)
	if status != domain.StatusWon && status != domain.StatusLost {
		return nil, domain.ErrInvalidDispute
	}

	record, err := s.find(ctx, req.Provider, req.DisputeRef)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, domain.ErrDisputeNotFound
	}
	if record.ResolvedAt != nil {
		return record, nil
	}

	now := s.clock.Now()
	if err := s.db.WithContext(ctx).Exec(
		`UPDATE dispute_records SET status = ?, resolved_at = ?, updated_at = ? WHERE id = ?`,
		status,
		now,
		now,
		record.ID,
	).Error; err != nil {
		return nil, err
	}
	record.Status = status
	record.ResolvedAt = &now

	if err := s.creditSvc.SetDisputeStatus(ctx, record.UserID, creditdomain.DisputeStatusResolved); err != nil {
		return nil, err
	}

	s.log.Info("dispute resolved",
		zap.String("user_id", record.UserID.String()),
		zap.String("dispute_ref", req.DisputeRef),
		zap.String("status", status),
	)
	return record, nil
}

// resolveUser maps a dispute back to the account whose grant referenced
// the disputed payment. Pack purchases and renewal grants both record
// the payment intent when the provider supplies one; the charge ref
// covers older payloads that only carry the charge.
func (s *Service) resolveUser(ctx context.Context, paymentIntentRef, chargeRef string) (snowflake.ID, error) {
	for _, ref := range []string{paymentIntentRef, chargeRef} {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			continue
		}
		var userID snowflake.ID
		err := s.db.WithContext(ctx).Raw(
			`SELECT user_id FROM credit_transactions WHERE reference_id = ? LIMIT 1`,
			ref,
		).Scan(&userID).Error
		if err != nil {
			return 0, err
		}
		if userID != 0 {
			return userID, nil
		}
	}
	return 0, domain.ErrUnknownUser
}

func (s *Service) find(ctx context.Context, provider, disputeRef string) (*domain.Record, error) {
	var record domain.Record
	err := s.db.WithContext(ctx).Raw(
		`SELECT * FROM dispute_records WHERE provider = ? AND provider_dispute_id = ?`,
		provider,
		disputeRef,
	).Scan(&record).Error
	if err != nil {
		return nil, err
	}
	if record.ID == 0 {
		return nil, nil
	}
	return &record, nil
}

func (s *Service) insert(ctx context.Context, record *domain.Record) error {
	return s.db.WithContext(ctx).Exec(
		`INSERT INTO dispute_records
		 (id, user_id, provider, provider_dispute_id, charge_ref, amount_cents, credits_held, status, reason, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (provider, provider_dispute_id) DO NOTHING`,
		record.ID,
		record.UserID,
		record.Provider,
		record.ProviderDisputeID,
		record.ChargeRef,
		record.AmountCents,
		record.CreditsHeld,
		record.Status,
		record.Reason,
		record.CreatedAt,
		record.UpdatedAt,
	).Error
}
