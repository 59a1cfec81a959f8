package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	creditdomain "github.com/smallbiznis/lumora/internal/credit/domain"
	disputedomain "github.com/smallbiznis/lumora/internal/dispute/domain"
	"github.com/smallbiznis/lumora/internal/plan"
	subscriptiondomain "github.com/smallbiznis/lumora/internal/subscription/domain"
	webhookdomain "github.com/smallbiznis/lumora/internal/webhook/domain"
)

// APIError is the wire shape for every non-2xx response.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func (e *APIError) Error() string { return e.Code }

var (
	ErrUnauthorized = &APIError{Status: http.StatusUnauthorized, Code: "unauthorized", Message: "authentication required"}
	ErrForbidden    = &APIError{Status: http.StatusForbidden, Code: "forbidden", Message: "access denied"}
	ErrNotFound     = &APIError{Status: http.StatusNotFound, Code: "not_found", Message: "resource not found"}
	ErrRateLimited  = &APIError{Status: http.StatusTooManyRequests, Code: "rate_limited", Message: "too many requests"}
)

func invalidRequestError() *APIError {
	return &APIError{Status: http.StatusBadRequest, Code: "invalid_request", Message: "malformed request body"}
}

func newValidationError(field, code, message string) *APIError {
	return &APIError{Status: http.StatusBadRequest, Code: code, Message: message, Field: field}
}

// AbortWithError maps domain errors onto the API error taxonomy and
// terminates the request.
func AbortWithError(c *gin.Context, err error) {
	apiErr := toAPIError(err)
	c.AbortWithStatusJSON(apiErr.Status, gin.H{"error": apiErr})
}

func toAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	switch {
	case errors.Is(err, creditdomain.ErrInsufficientCredits):
		return &APIError{Status: http.StatusPaymentRequired, Code: "insufficient_credits", Message: "not enough credits"}
	case errors.Is(err, creditdomain.ErrInvalidAmount),
		errors.Is(err, creditdomain.ErrInvalidPool),
		errors.Is(err, creditdomain.ErrInvalidReference),
		errors.Is(err, creditdomain.ErrInvalidUser):
		return &APIError{Status: http.StatusBadRequest, Code: err.Error(), Message: "invalid request"}
	case errors.Is(err, creditdomain.ErrAccountNotFound),
		errors.Is(err, creditdomain.ErrNoCreditsFound):
		return &APIError{Status: http.StatusNotFound, Code: err.Error(), Message: "resource not found"}

	case errors.Is(err, plan.ErrUnknownPlan),
		errors.Is(err, subscriptiondomain.ErrUnknownPlan):
		return &APIError{Status: http.StatusBadRequest, Code: "invalid_price_id", Message: "unknown price id"}
	case errors.Is(err, subscriptiondomain.ErrSamePlan):
		return &APIError{Status: http.StatusConflict, Code: "same_plan", Message: "subscription already on this plan"}
	case errors.Is(err, subscriptiondomain.ErrNoActiveSubscription):
		return &APIError{Status: http.StatusConflict, Code: "no_active_subscription", Message: "no active subscription to change"}
	case errors.Is(err, subscriptiondomain.ErrSubscriptionModified):
		return &APIError{Status: http.StatusConflict, Code: "subscription_modified", Message: "subscription changed concurrently, retry"}
	case errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound):
		return &APIError{Status: http.StatusNotFound, Code: "subscription_not_found", Message: "no subscription on file"}
	case errors.Is(err, subscriptiondomain.ErrProviderUnavailable):
		return &APIError{Status: http.StatusBadGateway, Code: "provider_unavailable", Message: "billing provider unavailable"}
	case errors.Is(err, subscriptiondomain.ErrMissingPeriodBoundary):
		return &APIError{Status: http.StatusConflict, Code: "missing_period_boundary", Message: "subscription has no period boundary"}

	case errors.Is(err, webhookdomain.ErrInvalidSignature):
		return &APIError{Status: http.StatusBadRequest, Code: "invalid_signature", Message: "webhook signature verification failed"}
	case errors.Is(err, webhookdomain.ErrInvalidPayload),
		errors.Is(err, webhookdomain.ErrInvalidEvent):
		return &APIError{Status: http.StatusBadRequest, Code: err.Error(), Message: "invalid webhook payload"}

	case errors.Is(err, disputedomain.ErrDisputeNotFound):
		return &APIError{Status: http.StatusNotFound, Code: "dispute_not_found", Message: "dispute not found"}

	default:
		return &APIError{Status: http.StatusInternalServerError, Code: "internal_error", Message: "internal server error"}
	}
}
