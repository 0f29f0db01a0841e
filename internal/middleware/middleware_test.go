package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/opd-queue/internal/model"
	"github.com/jwalitptl/opd-queue/pkg/auth"
	apperrors "github.com/jwalitptl/opd-queue/pkg/errors"
	"github.com/jwalitptl/opd-queue/pkg/httputil"
	"github.com/jwalitptl/opd-queue/pkg/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func perform(r http.Handler, method, path string, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) httputil.Response {
	t.Helper()
	var resp httputil.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	var seen string
	r.GET("/", func(c *gin.Context) {
		seen = c.GetString(ContextRequestID)
		c.Status(http.StatusOK)
	})

	w := perform(r, http.MethodGet, "/", "", map[string]string{HeaderXRequestID: "req-42"})
	assert.Equal(t, "req-42", w.Header().Get(HeaderXRequestID))
	assert.Equal(t, "req-42", seen)

	w = perform(r, http.MethodGet, "/", "", nil)
	_, err := uuid.Parse(w.Header().Get(HeaderXRequestID))
	assert.NoError(t, err)
}

func TestAuthenticate(t *testing.T) {
	jwt := auth.NewJWTService("secret", "opd-queue", time.Hour)
	m := NewAuthMiddleware(jwt)

	r := gin.New()
	r.Use(m.Authenticate())
	r.GET("/", func(c *gin.Context) {
		claims, ok := ClaimsFromContext(c)
		require.True(t, ok)
		c.JSON(http.StatusOK, gin.H{"role": claims.Role})
	})

	token, err := jwt.GenerateAccessToken(&auth.Claims{UserID: "u1", Role: auth.RoleStaff})
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid", "Bearer " + token, http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + token, http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := map[string]string{}
			if tt.header != "" {
				headers["Authorization"] = tt.header
			}
			w := perform(r, http.MethodGet, "/", "", headers)
			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusUnauthorized {
				assert.Equal(t, apperrors.ReasonUnauthorized, decode(t, w).Error.Reason)
			}
		})
	}
}

func TestErrorHandler(t *testing.T) {
	r := gin.New()
	r.Use(ErrorHandler(logger.Nop()))
	r.GET("/conflict", func(c *gin.Context) {
		_ = c.Error(apperrors.Conflict(apperrors.ReasonIllegalTransition, "nope"))
	})
	r.GET("/written", func(c *gin.Context) {
		_ = c.Error(errors.New("logged only"))
		c.Status(http.StatusAccepted)
	})
	r.GET("/body", func(c *gin.Context) {
		_ = c.Error(errors.New("logged only"))
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.GET("/unanswered", func(c *gin.Context) {
		_ = c.Error(errors.New("db down"))
	})

	w := perform(r, http.MethodGet, "/conflict", "", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, apperrors.ReasonIllegalTransition, decode(t, w).Error.Reason)

	w = perform(r, http.MethodGet, "/written", "", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Empty(t, w.Body.String())

	w = perform(r, http.MethodGet, "/body", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true}`, w.Body.String())

	w = perform(r, http.MethodGet, "/unanswered", "", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, apperrors.ReasonInternal, decode(t, w).Error.Reason)
}

func TestRecovery(t *testing.T) {
	r := gin.New()
	r.Use(RequestID(), Logger(logger.Nop()), Recovery(logger.Nop()))
	r.GET("/", func(c *gin.Context) { panic("boom") })

	w := perform(r, http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	resp := decode(t, w)
	assert.Equal(t, apperrors.ReasonInternal, resp.Error.Reason)
	assert.NotContains(t, resp.Error.Message, "boom")
}

func TestTimeout(t *testing.T) {
	r := gin.New()
	r.Use(Timeout(TimeoutConfig{Duration: 20 * time.Millisecond}))
	r.GET("/slow", func(c *gin.Context) {
		<-c.Request.Context().Done()
	})
	r.GET("/fast", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	assert.Equal(t, http.StatusGatewayTimeout, perform(r, http.MethodGet, "/slow", "", nil).Code)
	assert.Equal(t, http.StatusOK, perform(r, http.MethodGet, "/fast", "", nil).Code)
}

func TestCORS(t *testing.T) {
	cfg := DefaultCORSConfig()
	cfg.AllowOrigins = []string{"https://board.example"}

	r := gin.New()
	r.Use(CORS(cfg))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := perform(r, http.MethodOptions, "/", "", map[string]string{"Origin": "https://board.example"})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://board.example", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "600", w.Header().Get("Access-Control-Max-Age"))

	w = perform(r, http.MethodGet, "/", "", map[string]string{"Origin": "https://evil.example"})
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{RPS: 0.001, Burst: 2})
	r := gin.New()
	r.Use(rl.RateLimit())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	get := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = ip + ":1234"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, get("10.0.0.1"))
	assert.Equal(t, http.StatusOK, get("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, get("10.0.0.1"))
	assert.Equal(t, http.StatusOK, get("10.0.0.2"), "limits are per client")
}

func TestSizeLimit(t *testing.T) {
	r := gin.New()
	r.Use(SizeLimit(SizeLimitConfig{MaxBodySize: 16}))
	r.POST("/", func(c *gin.Context) {
		var body map[string]interface{}
		if err := c.ShouldBindJSON(&body); err != nil {
			httputil.RespondWithError(c, httputil.BindError(err))
			return
		}
		c.Status(http.StatusOK)
	})

	assert.Equal(t, http.StatusOK, perform(r, http.MethodPost, "/", `{"a":1}`, nil).Code)
	assert.Equal(t, http.StatusBadRequest, perform(r, http.MethodPost, "/", `{"notes":"far too long for this"}`, nil).Code)
}

func TestSecurityHeaders(t *testing.T) {
	r := gin.New()
	r.Use(SecurityHeaders(DefaultSecurityConfig()))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := perform(r, http.MethodGet, "/", "", nil)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
}

func TestRegisterValidators(t *testing.T) {
	require.NoError(t, RegisterValidators())

	r := gin.New()
	r.POST("/", func(c *gin.Context) {
		var req model.QueueActionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			httputil.RespondWithError(c, httputil.BindError(err))
			return
		}
		c.Status(http.StatusOK)
	})

	w := perform(r, http.MethodPost, "/", `{"action":"START","appointment_id":"`+uuid.NewString()+`"}`, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = perform(r, http.MethodPost, "/", `{"action":"PAUSE"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apperrors.ReasonInvalidAction, decode(t, w).Error.Reason)

	w = perform(r, http.MethodPost, "/", `{"action":"SET_STATUS","status_type":"LUNCH"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decode(t, w)
	assert.Equal(t, apperrors.ReasonValidation, resp.Error.Reason)
	assert.Contains(t, w.Body.String(), `"field":"status_type"`)
}

func TestLoggerKeepsRequestIDOnContext(t *testing.T) {
	r := gin.New()
	r.Use(RequestID(), Logger(logger.Nop()))
	var ctx context.Context
	r.GET("/", func(c *gin.Context) {
		ctx = c.Request.Context()
		c.Status(http.StatusOK)
	})

	perform(r, http.MethodGet, "/", "", map[string]string{HeaderXRequestID: "abc"})
	require.NotNil(t, ctx)
	assert.Equal(t, "abc", logger.RequestIDFromContext(ctx))
}
