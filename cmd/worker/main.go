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

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jwalitptl/opd-queue/internal/config"
	"github.com/jwalitptl/opd-queue/internal/handler/health"
	promhandler "github.com/jwalitptl/opd-queue/internal/handler/prometheus"
	"github.com/jwalitptl/opd-queue/internal/repository/postgres"
	redisrepo "github.com/jwalitptl/opd-queue/internal/repository/redis"
	"github.com/jwalitptl/opd-queue/internal/service/queue"
	"github.com/jwalitptl/opd-queue/internal/worker"
	"github.com/jwalitptl/opd-queue/pkg/clock"
	"github.com/jwalitptl/opd-queue/pkg/logger"
	"github.com/jwalitptl/opd-queue/pkg/metrics"
)

// The worker serves health and metrics on the port after the api's.
const probePortOffset = 1

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
	}).WithFields(map[string]interface{}{"component": "board_refresher"})

	if err := run(cfg, log); err != nil {
		log.Fatal(err, "worker stopped")
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := clock.New(cfg.Location())
	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(cfg.Metrics.Namespace, "worker", registry)

	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	rdb, err := redisrepo.NewClient(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()

	base := postgres.NewBaseRepository(db, m)
	appointments := postgres.NewAppointmentRepository(base)
	doctors := postgres.NewDoctorRepository(base)
	board := redisrepo.NewBoard(rdb, redisrepo.BoardConfig{
		KeyPrefix: cfg.Redis.KeyPrefix,
		TTL:       cfg.Redis.BoardTTL,
	}, log, m)
	projector := queue.NewProjector(appointments, doctors, board, clk, log, m, cfg.Queue.PublishTimeout)

	refresher, err := worker.NewBoardRefresher(appointments, projector, board, clk, worker.BoardRefresherConfig{
		Interval:      cfg.Worker.RefreshInterval,
		RetryAttempts: cfg.Worker.RetryAttempts,
		RetryDelay:    cfg.Worker.RetryDelay,
	}, log, m)
	if err != nil {
		return fmt.Errorf("failed to create board refresher: %w", err)
	}

	probes := setupProbeServer(cfg, map[string]health.Pinger{
		"postgres": db,
		"redis": health.PingFunc(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}),
	}, registry)
	go func() {
		if err := probes.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(err, "Probe server failed")
			stop()
		}
	}()

	refresher.Start(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return probes.Shutdown(shutdownCtx)
}

func setupProbeServer(cfg *config.Config, checks map[string]health.Pinger, registry *prometheus.Registry) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	health.NewHandler(checks).RegisterRoutes(engine.Group(""))

	if cfg.Metrics.Enabled {
		engine.GET(cfg.Metrics.Path, promhandler.New(cfg.Metrics.Namespace, registry).Handler())
	}

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port+probePortOffset),
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
