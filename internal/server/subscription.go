package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/lumora/internal/observability/context"
	subscriptiondomain "github.com/smallbiznis/lumora/internal/subscription/domain"
)

type changePlanRequest struct {
	PriceRef string `json:"price_ref"`
}

func (s *Server) ChangeSubscriptionPlan(c *gin.Context) {
	userID, ok := obscontext.UserIDFromGin(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req changePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	priceRef := strings.TrimSpace(req.PriceRef)
	if priceRef == "" {
		AbortWithError(c, newValidationError("price_ref", "invalid_price_id", "price_ref is required"))
		return
	}

	result, err := s.subSvc.ChangePlan(c.Request.Context(), subscriptiondomain.ChangePlanRequest{
		UserID:      snowflake.ID(userID),
		NewPriceRef: priceRef,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"kind":          result.Kind,
		"scheduled":     result.Scheduled,
		"effective_at":  result.EffectiveAt.UTC(),
		"old_price_ref": result.OldPriceRef,
		"new_price_ref": result.NewPriceRef,
	}})
}

type subscriptionResponse struct {
	Status            string  `json:"status"`
	PriceRef          string  `json:"price_ref"`
	ScheduledPriceRef *string `json:"scheduled_price_ref,omitempty"`
	ScheduledChangeAt *string `json:"scheduled_change_at,omitempty"`
	CurrentPeriodEnd  *string `json:"current_period_end,omitempty"`
	CancelAt          *string `json:"canceled_at,omitempty"`
}

func (s *Server) GetSubscription(c *gin.Context) {
	userID, ok := obscontext.UserIDFromGin(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	record, err := s.subSvc.GetByUser(c.Request.Context(), snowflake.ID(userID))
	if err != nil {
		if errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound) {
			AbortWithError(c, ErrNotFound)
			return
		}
		AbortWithError(c, err)
		return
	}

	resp := subscriptionResponse{
		Status:            record.Status,
		PriceRef:          record.PriceRef,
		ScheduledPriceRef: record.ScheduledPriceRef,
	}
	if record.ScheduledChangeAt != nil {
		v := record.ScheduledChangeAt.UTC().Format(time.RFC3339)
		resp.ScheduledChangeAt = &v
	}
	if record.CurrentPeriodEnd != nil {
		v := record.CurrentPeriodEnd.UTC().Format(time.RFC3339)
		resp.CurrentPeriodEnd = &v
	}
	if record.CanceledAt != nil {
		v := record.CanceledAt.UTC().Format(time.RFC3339)
		resp.CancelAt = &v
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}
