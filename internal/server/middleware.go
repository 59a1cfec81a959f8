package server

import (
	"crypto/subtle"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/lumora/internal/observability/context"
)

// HeaderUser carries the authenticated user id, set by the edge gateway
// after session validation.
const HeaderUser = "X-Lumora-User-Id"

// HeaderInternalToken authenticates service-to-service calls.
const HeaderInternalToken = "X-Internal-Token"

// UserRequired trusts the gateway's identity header. Requests that never
// passed the gateway have no header and are rejected.
func (s *Server) UserRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(HeaderUser))
		if raw == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		userID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || userID <= 0 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := obscontext.WithUserID(c.Request.Context(), userID)
		ctx = obscontext.WithActor(ctx, "user", raw)
		c.Request = c.Request.WithContext(ctx)
		c.Set("user_id", userID)
		c.Next()
	}
}

// InternalRequired guards the pipeline-facing credit endpoints with a
// shared token.
func (s *Server) InternalRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimSpace(s.cfg.Internal.Token)
		if token == "" {
			AbortWithError(c, ErrForbidden)
			return
		}
		provided := strings.TrimSpace(c.GetHeader(HeaderInternalToken))
		if subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
			AbortWithError(c, ErrForbidden)
			return
		}

		ctx := obscontext.WithActor(c.Request.Context(), "system", "pipeline")
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RateLimit applies a fixed window per user to the public API.
func (s *Server) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := obscontext.UserIDFromGin(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if !s.limiter.Allow(strconv.FormatInt(userID, 10)) {
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}
