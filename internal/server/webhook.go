package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	webhookdomain "github.com/smallbiznis/lumora/internal/webhook/domain"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

// HandleStripeWebhook ingests provider events. Signature and payload
// problems are the caller's fault and get a 400 so the provider retries
// with a fixed payload; everything else is acked to stop redelivery
// storms, with failures parked in processed_events for replay.
func (s *Server) HandleStripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	err = s.webhookSvc.IngestEvent(c.Request.Context(), payload, c.Request.Header)
	if err != nil {
		if errors.Is(err, webhookdomain.ErrInvalidSignature) ||
			errors.Is(err, webhookdomain.ErrInvalidPayload) {
			AbortWithError(c, err)
			return
		}
		s.log.Error("webhook processing failed", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"received": true, "processed": false})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
