package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/opd-queue/pkg/logger"
)

// Logger returns a middleware that logs HTTP requests. Bodies are never
// logged; they carry patient data.
func Logger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		if raw != "" {
			path = path + "?" + raw
		}
		status := c.Writer.Status()
		fields := []interface{}{
			"client_ip", c.ClientIP(),
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency", time.Since(start).String(),
			"user_agent", c.Request.UserAgent(),
		}

		var err error
		if last := c.Errors.Last(); last != nil {
			err = last.Err
		}

		l := log.WithContext(c.Request.Context())
		switch {
		case status >= 500:
			l.Error(err, "Server error", fields...)
		case status >= 400:
			l.Warn(err, "Client error", fields...)
		default:
			l.Info("Request processed", fields...)
		}
	}
}
