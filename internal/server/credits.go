package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/lumora/internal/audit/domain"
	creditdomain "github.com/smallbiznis/lumora/internal/credit/domain"
	obscontext "github.com/smallbiznis/lumora/internal/observability/context"
)

type balanceResponse struct {
	Subscription       int64   `json:"subscription_credits"`
	Purchased          int64   `json:"purchased_credits"`
	Total              int64   `json:"total_credits"`
	SubscriptionStatus string  `json:"subscription_status"`
	SubscriptionTier   *string `json:"subscription_tier,omitempty"`
	DisputeStatus      string  `json:"dispute_status"`
}

func (s *Server) GetCredits(c *gin.Context) {
	userID, ok := obscontext.UserIDFromGin(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	resp := balanceResponse{
		SubscriptionStatus: string(creditdomain.SubscriptionStatusNone),
		DisputeStatus:      string(creditdomain.DisputeStatusNone),
	}
	account, err := s.creditSvc.GetAccount(c.Request.Context(), snowflake.ID(userID))
	if err != nil && err != creditdomain.ErrAccountNotFound {
		AbortWithError(c, err)
		return
	}
	if account != nil {
		resp.Subscription = account.SubscriptionCredits
		resp.Purchased = account.PurchasedCredits
		resp.Total = account.SubscriptionCredits + account.PurchasedCredits
		resp.SubscriptionStatus = string(account.SubscriptionStatus)
		resp.SubscriptionTier = account.SubscriptionTier
		resp.DisputeStatus = string(account.DisputeStatus)
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type transactionResponse struct {
	ID          string `json:"id"`
	Amount      int64  `json:"amount"`
	Type        string `json:"type"`
	Pool        string `json:"pool"`
	ReferenceID string `json:"reference_id"`
	Description string `json:"description"`
	CreatedAt   string `json:"created_at"`
}

func (s *Server) ListCreditTransactions(c *gin.Context) {
	userID, ok := obscontext.UserIDFromGin(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	limit := 50
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			AbortWithError(c, newValidationError("limit", "invalid_limit", "limit must be a positive integer"))
			return
		}
		limit = parsed
	}

	rows, err := s.creditSvc.ListTransactions(c.Request.Context(), snowflake.ID(userID), limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp := make([]transactionResponse, 0, len(rows))
	for _, row := range rows {
		resp = append(resp, transactionResponse{
			ID:          row.ID.String(),
			Amount:      row.Amount,
			Type:        string(row.Type),
			Pool:        string(row.Pool),
			ReferenceID: row.ReferenceID,
			Description: row.Description,
			CreatedAt:   row.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type consumeRequest struct {
	UserID      int64  `json:"user_id"`
	Amount      int64  `json:"amount"`
	ReferenceID string `json:"reference_id"`
	Description string `json:"description"`
}

func (s *Server) ConsumeCredits(c *gin.Context) {
	var req consumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.creditSvc.Consume(c.Request.Context(), creditdomain.ConsumeRequest{
		UserID:      snowflake.ID(req.UserID),
		Amount:      req.Amount,
		ReferenceID: strings.TrimSpace(req.ReferenceID),
		Description: strings.TrimSpace(req.Description),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.auditSvc.Record(c.Request.Context(), auditdomain.Entry{
		UserID:     snowflake.ID(req.UserID),
		ActorType:  auditdomain.ActorTypeSystem,
		ActorID:    "pipeline",
		Action:     auditdomain.ActionCreditConsumed,
		TargetType: "credit_account",
		TargetID:   strconv.FormatInt(req.UserID, 10),
		Metadata: map[string]any{
			"amount":    req.Amount,
			"reference": req.ReferenceID,
		},
	})
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"from_subscription": result.FromSubscription,
		"from_purchased":    result.FromPurchased,
		"pool":              result.Pool,
		"balance":           result.Balance,
	}})
}

type refundRequest struct {
	UserID      int64  `json:"user_id"`
	Amount      int64  `json:"amount"`
	Pool        string `json:"pool"`
	ReferenceID string `json:"reference_id"`
	Description string `json:"description"`
}

func (s *Server) RefundCredits(c *gin.Context) {
	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.creditSvc.Refund(c.Request.Context(), creditdomain.RefundRequest{
		UserID:      snowflake.ID(req.UserID),
		Amount:      req.Amount,
		Pool:        creditdomain.Pool(strings.TrimSpace(req.Pool)),
		ReferenceID: strings.TrimSpace(req.ReferenceID),
		Description: strings.TrimSpace(req.Description),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.auditSvc.Record(c.Request.Context(), auditdomain.Entry{
		UserID:     snowflake.ID(req.UserID),
		ActorType:  auditdomain.ActorTypeSystem,
		ActorID:    "pipeline",
		Action:     auditdomain.ActionCreditRefunded,
		TargetType: "credit_account",
		TargetID:   strconv.FormatInt(req.UserID, 10),
		Metadata: map[string]any{
			"amount":    req.Amount,
			"pool":      req.Pool,
			"reference": req.ReferenceID,
		},
	})
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"balance": result.Balance,
	}})
}
