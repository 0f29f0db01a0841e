package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jwalitptl/opd-queue/internal/config"
	"github.com/jwalitptl/opd-queue/internal/handler/appointment"
	"github.com/jwalitptl/opd-queue/internal/handler/health"
	promhandler "github.com/jwalitptl/opd-queue/internal/handler/prometheus"
	queuehandler "github.com/jwalitptl/opd-queue/internal/handler/queue"
	"github.com/jwalitptl/opd-queue/internal/middleware"
	"github.com/jwalitptl/opd-queue/internal/repository/postgres"
	redisrepo "github.com/jwalitptl/opd-queue/internal/repository/redis"
	"github.com/jwalitptl/opd-queue/internal/router"
	"github.com/jwalitptl/opd-queue/internal/service/queue"
	"github.com/jwalitptl/opd-queue/pkg/auth"
	"github.com/jwalitptl/opd-queue/pkg/clock"
	"github.com/jwalitptl/opd-queue/pkg/logger"
	"github.com/jwalitptl/opd-queue/pkg/metrics"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Log.Level),
		TimeFormat: time.RFC3339,
		JSON:       cfg.Log.Format == "json",
	})

	if err := run(cfg, log); err != nil {
		log.Fatal(err, "api server stopped")
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	if cfg.JWT.Secret == "" {
		return errors.New("jwt.secret is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := clock.New(cfg.Location())
	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(cfg.Metrics.Namespace, "", registry)

	// Initialize database
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		applied, err := postgres.NewMigrator(db).Up(ctx)
		if err != nil {
			return fmt.Errorf("failed to apply migrations: %w", err)
		}
		log.Info("Database migrations applied", "count", applied)
	}

	rdb, err := redisrepo.NewClient(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()

	// Initialize repositories
	base := postgres.NewBaseRepository(db, m)
	appointments := postgres.NewAppointmentRepository(base)
	doctors := postgres.NewDoctorRepository(base)
	board := redisrepo.NewBoard(rdb, redisrepo.BoardConfig{
		KeyPrefix: cfg.Redis.KeyPrefix,
		TTL:       cfg.Redis.BoardTTL,
	}, log, m)

	// Initialize services
	projector := queue.NewProjector(appointments, doctors, board, clk, log, m, cfg.Queue.PublishTimeout)
	queueSvc := queue.NewService(appointments, projector, clk, log, m)
	reader := queue.NewReader(board, projector, doctors, appointments, clk, log, queue.ReaderConfig{
		DefaultAvgConsultationMinutes: cfg.Queue.DefaultAvgConsultationMinutes,
		PollIntervalSeconds:           cfg.Queue.PollIntervalSeconds,
		SettingsCacheTTL:              cfg.Queue.SettingsCacheTTL,
	})

	jwtSvc := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.AccessTokenTTL)

	// Initialize handlers
	queueH := queuehandler.NewHandler(queueSvc, reader)
	appointmentH := appointment.NewHandler(queueSvc)
	healthH := health.NewHandler(map[string]health.Pinger{
		"postgres": db,
		"redis": health.PingFunc(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}),
	})

	var metricsH *promhandler.Handler
	if cfg.Metrics.Enabled {
		metricsH = promhandler.New(cfg.Metrics.Namespace, registry)
	}

	cors := middleware.DefaultCORSConfig()
	if len(cfg.CORS.AllowOrigins) > 0 {
		cors.AllowOrigins = cfg.CORS.AllowOrigins
	}

	r, err := router.NewRouter(
		log,
		middleware.NewAuthMiddleware(jwtSvc),
		queueH,
		appointmentH,
		healthH,
		metricsH,
		router.RouterConfig{
			Mode:           cfg.Server.Mode,
			RequestTimeout: cfg.Server.RequestTimeout,
			RateLimit: middleware.RateLimiterConfig{
				RPS:     cfg.RateLimit.RPS,
				Burst:   cfg.RateLimit.Burst,
				IdleTTL: cfg.RateLimit.IdleTTL,
			},
			RateLimitOn: cfg.RateLimit.Enabled,
			CORSConfig:  cors,
			MetricsPath: cfg.Metrics.Path,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to build router: %w", err)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("Starting api server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("Shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("Api server exited")
	return nil
}
