package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/opd-queue/pkg/httputil"
	"github.com/jwalitptl/opd-queue/pkg/logger"
)

// ErrorHandler writes the envelope for errors attached with c.Error when the
// handler did not respond itself. A handler that only set a status code
// counts as having responded.
func ErrorHandler(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		for _, e := range c.Errors {
			log.WithContext(c.Request.Context()).Error(e.Err, "request error",
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
				"client_ip", c.ClientIP(),
			)
		}

		if c.Writer.Written() || c.Writer.Status() != http.StatusOK {
			return
		}
		httputil.RespondWithError(c, c.Errors.Last().Err)
	}
}
