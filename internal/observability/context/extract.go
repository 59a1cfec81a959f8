package context

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

func RequestIDFromGin(c *gin.Context) string {
	if c == nil {
		return ""
	}
	if ctx := c.Request.Context(); ctx != nil {
		if value := RequestIDFromContext(ctx); value != "" {
			return value
		}
	}
	return strings.TrimSpace(c.GetString("request_id"))
}

func UserIDFromGin(c *gin.Context) (int64, bool) {
	if c == nil {
		return 0, false
	}
	if ctx := c.Request.Context(); ctx != nil {
		if value, ok := UserIDFromContext(ctx); ok {
			return value, true
		}
	}
	if raw, ok := c.Get("user_id"); ok {
		switch value := raw.(type) {
		case int64:
			return value, value != 0
		case string:
			parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
			return parsed, err == nil && parsed != 0
		}
	}
	return 0, false
}
