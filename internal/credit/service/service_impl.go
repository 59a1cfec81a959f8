package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/lumora/internal/clock"
	"github.com/smallbiznis/lumora/internal/credit/domain"
	"github.com/smallbiznis/lumora/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func NewService(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("credit.service"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (s *Service) GetAccount(ctx context.Context, userID snowflake.ID) (*domain.Account, error) {
	if userID == 0 {
		return nil, domain.ErrInvalidUser
	}
	var account domain.Account
	err := s.db.WithContext(ctx).Raw(
		`SELECT * FROM credit_accounts WHERE user_id = ?`,
		userID,
	).Scan(&account).Error
	if err != nil {
		return nil, err
	}
	if account.ID == 0 {
		return nil, domain.ErrAccountNotFound
	}
	return &account, nil
}

func (s *Service) GetBalance(ctx context.Context, userID snowflake.ID) (domain.Balance, error) {
	account, err := s.GetAccount(ctx, userID)
	if err != nil {
		if err == domain.ErrAccountNotFound {
			return domain.Balance{}, nil
		}
		return domain.Balance{}, err
	}
	return domain.Balance{
		Subscription: account.SubscriptionCredits,
		Purchased:    account.PurchasedCredits,
	}, nil
}

func (s *Service) ListTransactions(ctx context.Context, userID snowflake.ID, limit int) ([]domain.Transaction, error) {
	if userID == 0 {
		return nil, domain.ErrInvalidUser
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	var rows []domain.Transaction
	err := s.db.WithContext(ctx).Raw(
		`SELECT * FROM credit_transactions
		 WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		userID,
		limit,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Service) Grant(ctx context.Context, req domain.GrantRequest) (domain.GrantResult, error) {
	if req.UserID == 0 {
		return domain.GrantResult{}, domain.ErrInvalidUser
	}
	if req.Amount <= 0 {
		return domain.GrantResult{}, domain.ErrInvalidAmount
	}
	if req.Pool != domain.PoolSubscription && req.Pool != domain.PoolPurchased {
		return domain.GrantResult{}, domain.ErrInvalidPool
	}
	if strings.TrimSpace(req.ReferenceID) == "" {
		return domain.GrantResult{}, domain.ErrInvalidReference
	}
	txType := req.Type
	if txType == "" {
		txType = domain.TransactionTypeSubscription
		if req.Pool == domain.PoolPurchased {
			txType = domain.TransactionTypePurchase
		}
	}

	var result domain.GrantResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.lockAccount(ctx, tx, req.UserID)
		if err != nil {
			return err
		}

		if req.Unique {
			// The check runs under the account lock, so two deliveries of
			// the same reference cannot both pass it.
			var existing int64
			if err := tx.WithContext(ctx).Raw(
				`SELECT COUNT(1) FROM credit_transactions
				 WHERE user_id = ? AND reference_id = ? AND amount > 0`,
				req.UserID,
				req.ReferenceID,
			).Scan(&existing).Error; err != nil {
				return err
			}
			if existing > 0 {
				result = domain.GrantResult{Balance: balanceOf(account)}
				return nil
			}
		}

		current := account.SubscriptionCredits
		if req.Pool == domain.PoolPurchased {
			current = account.PurchasedCredits
		}

		applied := req.Amount
		if req.MaxRollover != nil {
			headroom := *req.MaxRollover - current
			if headroom < 0 {
				headroom = 0
			}
			applied = min(applied, headroom)
		}

		if applied > 0 {
			if req.Pool == domain.PoolSubscription {
				account.SubscriptionCredits += applied
			} else {
				account.PurchasedCredits += applied
			}
			if err := s.saveBalances(ctx, tx, account); err != nil {
				return err
			}
			if err := s.appendTransaction(ctx, tx, account, applied, txType, req.Pool, req.ReferenceID, req.Description); err != nil {
				return err
			}
		}

		result = domain.GrantResult{Applied: applied, Balance: balanceOf(account)}
		return nil
	})
	if err != nil {
		metrics.Billing().IncLedgerOp("grant", metrics.ResultFailed)
		return domain.GrantResult{}, err
	}

	metrics.Billing().IncLedgerOp("grant", metrics.ResultSuccess)
	s.log.Info("credits granted",
		zap.String("user_id", req.UserID.String()),
		zap.String("pool", string(req.Pool)),
		zap.Int64("requested", req.Amount),
		zap.Int64("applied", result.Applied),
		zap.String("reference_id", req.ReferenceID),
	)
	return result, nil
}

func (s *Service) Consume(ctx context.Context, req domain.ConsumeRequest) (domain.ConsumeResult, error) {
	if req.UserID == 0 {
		return domain.ConsumeResult{}, domain.ErrInvalidUser
	}
	if req.Amount <= 0 {
		return domain.ConsumeResult{}, domain.ErrInvalidAmount
	}
	if strings.TrimSpace(req.ReferenceID) == "" {
		return domain.ConsumeResult{}, domain.ErrInvalidReference
	}

	var result domain.ConsumeResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.lockAccount(ctx, tx, req.UserID)
		if err != nil {
			return err
		}

		if account.SubscriptionCredits+account.PurchasedCredits < req.Amount {
			return domain.ErrInsufficientCredits
		}

		fromSubscription := min(account.SubscriptionCredits, req.Amount)
		fromPurchased := req.Amount - fromSubscription

		account.SubscriptionCredits -= fromSubscription
		account.PurchasedCredits -= fromPurchased
		if err := s.saveBalances(ctx, tx, account); err != nil {
			return err
		}

		pool := poolsUsed(fromSubscription, fromPurchased)
		if err := s.appendTransaction(ctx, tx, account, -req.Amount, domain.TransactionTypeUsage, pool, req.ReferenceID, req.Description); err != nil {
			return err
		}

		result = domain.ConsumeResult{
			FromSubscription: fromSubscription,
			FromPurchased:    fromPurchased,
			Pool:             pool,
			Balance:          balanceOf(account),
		}
		return nil
	})
	if err != nil {
		metrics.Billing().IncLedgerOp("consume", metrics.ResultFailed)
		return domain.ConsumeResult{}, err
	}

	metrics.Billing().IncLedgerOp("consume", metrics.ResultSuccess)
	return result, nil
}

func (s *Service) Refund(ctx context.Context, req domain.RefundRequest) (domain.RefundResult, error) {
	if req.UserID == 0 {
		return domain.RefundResult{}, domain.ErrInvalidUser
	}
	if req.Amount <= 0 {
		return domain.RefundResult{}, domain.ErrInvalidAmount
	}
	if req.Pool != domain.PoolSubscription && req.Pool != domain.PoolPurchased {
		return domain.RefundResult{}, domain.ErrInvalidPool
	}
	if strings.TrimSpace(req.ReferenceID) == "" {
		return domain.RefundResult{}, domain.ErrInvalidReference
	}

	var result domain.RefundResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.lockAccount(ctx, tx, req.UserID)
		if err != nil {
			return err
		}

		// Refunds are exempt from rollover caps.
		if req.Pool == domain.PoolSubscription {
			account.SubscriptionCredits += req.Amount
		} else {
			account.PurchasedCredits += req.Amount
		}
		if err := s.saveBalances(ctx, tx, account); err != nil {
			return err
		}
		if err := s.appendTransaction(ctx, tx, account, req.Amount, domain.TransactionTypeRefund, req.Pool, req.ReferenceID, req.Description); err != nil {
			return err
		}

		result = domain.RefundResult{Balance: balanceOf(account)}
		return nil
	})
	if err != nil {
		metrics.Billing().IncLedgerOp("refund", metrics.ResultFailed)
		return domain.RefundResult{}, err
	}

	metrics.Billing().IncLedgerOp("refund", metrics.ResultSuccess)
	return result, nil
}

func (s *Service) Clawback(ctx context.Context, req domain.ClawbackRequest) (domain.ClawbackResult, error) {
	if req.UserID == 0 {
		return domain.ClawbackResult{}, domain.ErrInvalidUser
	}
	if req.Amount <= 0 {
		return domain.ClawbackResult{}, domain.ErrInvalidAmount
	}
	switch req.Pool {
	case domain.PoolSubscription, domain.PoolPurchased, domain.PoolAuto:
	default:
		return domain.ClawbackResult{}, domain.ErrInvalidPool
	}
	if strings.TrimSpace(req.ReferenceID) == "" {
		return domain.ClawbackResult{}, domain.ErrInvalidReference
	}

	var result domain.ClawbackResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.lockAccount(ctx, tx, req.UserID)
		if err != nil {
			return err
		}
		result, err = s.applyClawback(ctx, tx, account, req.Amount, req.Pool, req.ReferenceID, req.Reason)
		return err
	})
	if err != nil {
		metrics.Billing().IncLedgerOp("clawback", metrics.ResultFailed)
		return domain.ClawbackResult{}, err
	}

	metrics.Billing().IncLedgerOp("clawback", metrics.ResultSuccess)
	s.log.Info("credits clawed back",
		zap.String("user_id", req.UserID.String()),
		zap.Int64("requested", req.Amount),
		zap.Int64("applied", result.Applied),
		zap.String("reference_id", req.ReferenceID),
	)
	return result, nil
}

func (s *Service) ClawbackByReference(ctx context.Context, userID snowflake.ID, referenceID string, reason string) (domain.ClawbackResult, error) {
	if userID == 0 {
		return domain.ClawbackResult{}, domain.ErrInvalidUser
	}
	if strings.TrimSpace(referenceID) == "" {
		return domain.ClawbackResult{}, domain.ErrInvalidReference
	}

	var result domain.ClawbackResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.lockAccount(ctx, tx, userID)
		if err != nil {
			return err
		}

		var grant domain.Transaction
		if err := tx.WithContext(ctx).Raw(
			`SELECT * FROM credit_transactions
			 WHERE user_id = ? AND reference_id = ? AND amount > 0
			 ORDER BY created_at ASC, id ASC
			 LIMIT 1`,
			userID,
			referenceID,
		).Scan(&grant).Error; err != nil {
			return err
		}
		if grant.ID == 0 {
			return domain.ErrNoCreditsFound
		}

		pool := grant.Pool
		if pool == domain.PoolMixed {
			pool = domain.PoolAuto
		}
		result, err = s.applyClawback(ctx, tx, account, grant.Amount, pool, referenceID, reason)
		return err
	})
	if err != nil {
		metrics.Billing().IncLedgerOp("clawback", metrics.ResultFailed)
		return domain.ClawbackResult{}, err
	}

	metrics.Billing().IncLedgerOp("clawback", metrics.ResultSuccess)
	return result, nil
}

// applyClawback removes up to amount from the requested pool(s), never
// driving a balance negative. Callers hold the account lock.
func (s *Service) applyClawback(
	ctx context.Context,
	tx *gorm.DB,
	account *domain.Account,
	amount int64,
	pool domain.Pool,
	referenceID string,
	reason string,
) (domain.ClawbackResult, error) {
	var fromSubscription, fromPurchased int64
	switch pool {
	case domain.PoolSubscription:
		fromSubscription = min(account.SubscriptionCredits, amount)
	case domain.PoolPurchased:
		fromPurchased = min(account.PurchasedCredits, amount)
	case domain.PoolAuto:
		fromSubscription = min(account.SubscriptionCredits, amount)
		fromPurchased = min(account.PurchasedCredits, amount-fromSubscription)
	default:
		return domain.ClawbackResult{}, domain.ErrInvalidPool
	}

	applied := fromSubscription + fromPurchased
	if applied > 0 {
		account.SubscriptionCredits -= fromSubscription
		account.PurchasedCredits -= fromPurchased
		if err := s.saveBalances(ctx, tx, account); err != nil {
			return domain.ClawbackResult{}, err
		}
		logged := poolsUsed(fromSubscription, fromPurchased)
		if err := s.appendTransaction(ctx, tx, account, -applied, domain.TransactionTypeClawback, logged, referenceID, reason); err != nil {
			return domain.ClawbackResult{}, err
		}
	}

	return domain.ClawbackResult{
		FromSubscription: fromSubscription,
		FromPurchased:    fromPurchased,
		Applied:          applied,
		Balance:          balanceOf(account),
	}, nil
}

func (s *Service) SetSubscriptionState(ctx context.Context, userID snowflake.ID, status domain.SubscriptionStatus, tier *string) error {
	if userID == 0 {
		return domain.ErrInvalidUser
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.lockAccount(ctx, tx, userID)
		if err != nil {
			return err
		}
		return tx.WithContext(ctx).Exec(
			`UPDATE credit_accounts
			 SET subscription_status = ?, subscription_tier = ?, updated_at = ?
			 WHERE id = ?`,
			status,
			tier,
			s.clock.Now(),
			account.ID,
		).Error
	})
}

func (s *Service) SetDisputeStatus(ctx context.Context, userID snowflake.ID, status domain.DisputeStatus) error {
	if userID == 0 {
		return domain.ErrInvalidUser
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.lockAccount(ctx, tx, userID)
		if err != nil {
			return err
		}
		return tx.WithContext(ctx).Exec(
			`UPDATE credit_accounts SET dispute_status = ?, updated_at = ? WHERE id = ?`,
			status,
			s.clock.Now(),
			account.ID,
		).Error
	})
}

func (s *Service) SetExternalCustomerRef(ctx context.Context, userID snowflake.ID, ref string) error {
	if userID == 0 {
		return domain.ErrInvalidUser
	}
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return domain.ErrInvalidReference
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.lockAccount(ctx, tx, userID)
		if err != nil {
			return err
		}
		return tx.WithContext(ctx).Exec(
			`UPDATE credit_accounts SET external_customer_ref = ?, updated_at = ? WHERE id = ?`,
			ref,
			s.clock.Now(),
			account.ID,
		).Error
	})
}

func (s *Service) FindUserByCustomerRef(ctx context.Context, ref string) (snowflake.ID, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return 0, domain.ErrInvalidReference
	}
	var userID snowflake.ID
	err := s.db.WithContext(ctx).Raw(
		`SELECT user_id FROM credit_accounts WHERE external_customer_ref = ?`,
		ref,
	).Scan(&userID).Error
	if err != nil {
		return 0, err
	}
	if userID == 0 {
		return 0, domain.ErrAccountNotFound
	}
	return userID, nil
}

// lockAccount creates the account row on first touch, then reads it under
// a row lock so concurrent mutations for one user serialize. sqlite has a
// single writer and no FOR UPDATE syntax, so the suffix is postgres-only.
func (s *Service) lockAccount(ctx context.Context, tx *gorm.DB, userID snowflake.ID) (*domain.Account, error) {
	now := s.clock.Now()
	if err := tx.WithContext(ctx).Exec(
		`INSERT INTO credit_accounts (id, user_id, subscription_credits, purchased_credits, subscription_status, dispute_status, created_at, updated_at)
		 VALUES (?, ?, 0, 0, ?, ?, ?, ?)
		 ON CONFLICT (user_id) DO NOTHING`,
		s.genID.Generate(),
		userID,
		domain.SubscriptionStatusNone,
		domain.DisputeStatusNone,
		now,
		now,
	).Error; err != nil {
		return nil, err
	}

	var account domain.Account
	if err := tx.WithContext(ctx).Raw(
		`SELECT * FROM credit_accounts WHERE user_id = ?`+lockSuffix(tx),
		userID,
	).Scan(&account).Error; err != nil {
		return nil, err
	}
	if account.ID == 0 {
		return nil, domain.ErrAccountNotFound
	}
	return &account, nil
}

func (s *Service) saveBalances(ctx context.Context, tx *gorm.DB, account *domain.Account) error {
	if account.SubscriptionCredits < 0 || account.PurchasedCredits < 0 {
		return domain.ErrInsufficientCredits
	}
	return tx.WithContext(ctx).Exec(
		`UPDATE credit_accounts
		 SET subscription_credits = ?, purchased_credits = ?, updated_at = ?
		 WHERE id = ?`,
		account.SubscriptionCredits,
		account.PurchasedCredits,
		s.clock.Now(),
		account.ID,
	).Error
}

func (s *Service) appendTransaction(
	ctx context.Context,
	tx *gorm.DB,
	account *domain.Account,
	amount int64,
	txType domain.TransactionType,
	pool domain.Pool,
	referenceID string,
	description string,
) error {
	return tx.WithContext(ctx).Exec(
		`INSERT INTO credit_transactions (id, account_id, user_id, amount, type, pool, reference_id, description, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.genID.Generate(),
		account.ID,
		account.UserID,
		amount,
		txType,
		pool,
		referenceID,
		description,
		s.clock.Now(),
	).Error
}

func balanceOf(account *domain.Account) domain.Balance {
	return domain.Balance{
		Subscription: account.SubscriptionCredits,
		Purchased:    account.PurchasedCredits,
	}
}

func poolsUsed(fromSubscription, fromPurchased int64) domain.Pool {
	switch {
	case fromSubscription > 0 && fromPurchased > 0:
		return domain.PoolMixed
	case fromPurchased > 0:
		return domain.PoolPurchased
	default:
		return domain.PoolSubscription
	}
}

func lockSuffix(tx *gorm.DB) string {
	if tx.Dialector.Name() == "postgres" {
		return " FOR UPDATE"
	}
	return ""
}
