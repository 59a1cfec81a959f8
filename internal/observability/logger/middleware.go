package logger

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/lumora/internal/observability/context"
	"go.uber.org/zap"
)

type MiddlewareConfig struct {
	// SkipPaths are logged at debug level only (health checks, metrics).
	SkipPaths []string
}

// GinMiddleware assigns a request id, propagates it through the request
// context and response header, and logs the request outcome.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(cfg.SkipPaths))
	for _, path := range cfg.SkipPaths {
		skip[path] = struct{}{}
	}

	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader("X-Request-Id")
		if requestID == "" {
			requestID = strconv.FormatInt(start.UnixNano(), 36)
		}
		ctx := obscontext.WithRequestID(c.Request.Context(), requestID)
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Request-Id", requestID)

		c.Next()

		log := FromContext(c.Request.Context())
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		}
		if _, ok := skip[c.Request.URL.Path]; ok {
			log.Debug("http request", fields...)
			return
		}
		if c.Writer.Status() >= 500 {
			log.Error("http request", fields...)
			return
		}
		log.Info("http request", fields...)
	}
}
