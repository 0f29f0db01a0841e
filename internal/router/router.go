package router

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/opd-queue/internal/handler/prometheus"
	"github.com/jwalitptl/opd-queue/internal/middleware"
	"github.com/jwalitptl/opd-queue/pkg/logger"
)

type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

// PublicHandler exposes routes that skip authentication.
type PublicHandler interface {
	RegisterPublicRoutes(*gin.RouterGroup)
}

type QueueHandler interface {
	Handler
	PublicHandler
}

type Router struct {
	engine       *gin.Engine
	auth         *middleware.AuthMiddleware
	queueH       QueueHandler
	appointmentH Handler
	healthH      Handler
	metrics      *prometheus.Handler
	config       RouterConfig
}

type RouterConfig struct {
	Mode           string
	RequestTimeout time.Duration
	RateLimit      middleware.RateLimiterConfig
	RateLimitOn    bool
	CORSConfig     middleware.CORSConfig
	MaxBodySize    int64
	MetricsPath    string
}

func NewRouter(
	log *logger.Logger,
	auth *middleware.AuthMiddleware,
	queueH QueueHandler,
	appointmentH Handler,
	healthH Handler,
	metrics *prometheus.Handler,
	config RouterConfig,
) (*Router, error) {
	if config.Mode != "" {
		gin.SetMode(config.Mode)
	}
	if err := middleware.RegisterValidators(); err != nil {
		return nil, err
	}
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = middleware.DefaultSizeLimitConfig().MaxBodySize
	}
	if config.MetricsPath == "" {
		config.MetricsPath = "/metrics"
	}

	engine := gin.New()

	r := &Router{
		engine:       engine,
		auth:         auth,
		queueH:       queueH,
		appointmentH: appointmentH,
		healthH:      healthH,
		metrics:      metrics,
		config:       config,
	}

	engine.Use(
		middleware.RequestID(),
		middleware.Logger(log),
		middleware.Recovery(log),
		middleware.ErrorHandler(log),
	)
	if metrics != nil {
		engine.Use(metrics.Middleware())
	}
	engine.Use(
		middleware.Timeout(middleware.TimeoutConfig{Duration: config.RequestTimeout}),
		middleware.CORS(config.CORSConfig),
		middleware.SecurityHeaders(middleware.DefaultSecurityConfig()),
	)

	if config.RateLimitOn {
		engine.Use(middleware.NewRateLimiter(config.RateLimit).RateLimit())
	}

	r.setup()
	return r, nil
}

func (r *Router) setup() {
	r.healthH.RegisterRoutes(r.engine.Group(""))
	if r.metrics != nil {
		r.engine.GET(r.config.MetricsPath, r.metrics.Handler())
	}

	api := r.engine.Group("/api/v1")
	api.Use(middleware.SizeLimit(middleware.SizeLimitConfig{MaxBodySize: r.config.MaxBodySize}))

	// Patients and waiting-room screens poll this without credentials.
	r.queueH.RegisterPublicRoutes(api)

	protected := api.Group("")
	protected.Use(r.auth.Authenticate())
	r.queueH.RegisterRoutes(protected)
	r.appointmentH.RegisterRoutes(protected)
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
