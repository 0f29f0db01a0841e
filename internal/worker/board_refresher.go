package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/jwalitptl/opd-queue/internal/model"
	"github.com/jwalitptl/opd-queue/pkg/clock"
	"github.com/jwalitptl/opd-queue/pkg/logger"
	"github.com/jwalitptl/opd-queue/pkg/metrics"
)

type QueueLister interface {
	ListActiveQueues(ctx context.Context, day time.Time) ([]model.QueueKey, error)
}

type Projector interface {
	Project(ctx context.Context, key model.QueueKey) (*model.QueueStatus, error)
}

type Publisher interface {
	Publish(ctx context.Context, status *model.QueueStatus) error
}

type BoardRefresherConfig struct {
	Interval      time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
}

// BoardRefresher re-projects every queue with activity today and republishes
// it, repairing board entries lost to failed or expired writes.
type BoardRefresher struct {
	queues    QueueLister
	projector Projector
	board     Publisher
	clock     clock.Clock
	config    BoardRefresherConfig
	logger    *logger.Logger
	metrics   *metrics.Metrics
}

func NewBoardRefresher(
	queues QueueLister,
	projector Projector,
	board Publisher,
	clk clock.Clock,
	config BoardRefresherConfig,
	log *logger.Logger,
	m *metrics.Metrics,
) (*BoardRefresher, error) {
	if config.Interval <= 0 {
		return nil, fmt.Errorf("refresh interval must be greater than 0")
	}
	if config.RetryAttempts <= 0 {
		config.RetryAttempts = 1
	}

	return &BoardRefresher{
		queues:    queues,
		projector: projector,
		board:     board,
		clock:     clk,
		config:    config,
		logger:    log,
		metrics:   m,
	}, nil
}

// Start refreshes once immediately, then on every tick until ctx is done.
func (w *BoardRefresher) Start(ctx context.Context) {
	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	w.logger.Info("Starting board refresher", "interval", w.config.Interval.String())
	w.run(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Shutting down board refresher")
			return
		case <-ticker.C:
			w.run(ctx)
		}
	}
}

func (w *BoardRefresher) run(ctx context.Context) {
	refreshed, err := w.RefreshAll(ctx)
	if err != nil {
		w.logger.Error(err, "Board refresh pass failed", "refreshed", refreshed)
		return
	}
	w.logger.Debug("Board refresh pass complete", "refreshed", refreshed)
}

// RefreshAll republishes every active queue for today. It keeps going past
// individual failures and reports how many queues were refreshed.
func (w *BoardRefresher) RefreshAll(ctx context.Context) (int, error) {
	day := clock.Today(w.clock).Start
	keys, err := w.queues.ListActiveQueues(ctx, day)
	if err != nil {
		w.metrics.BoardRefreshes.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("failed to list active queues: %w", err)
	}

	refreshed := 0
	var failed int
	for _, key := range keys {
		if ctx.Err() != nil {
			return refreshed, ctx.Err()
		}
		if err := w.refresh(ctx, key); err != nil {
			failed++
			w.metrics.BoardRefreshes.WithLabelValues("error").Inc()
			w.logger.Warn(err, "Failed to refresh queue board",
				"hospital_id", key.HospitalID.String(),
				"doctor_id", key.DoctorID.String(),
			)
			continue
		}
		refreshed++
		w.metrics.BoardRefreshes.WithLabelValues("success").Inc()
	}

	if failed > 0 {
		return refreshed, fmt.Errorf("%d of %d queues failed to refresh", failed, len(keys))
	}
	return refreshed, nil
}

func (w *BoardRefresher) refresh(ctx context.Context, key model.QueueKey) error {
	status, err := w.projector.Project(ctx, key)
	if err != nil {
		return err
	}
	return retry(ctx, w.config.RetryAttempts, w.config.RetryDelay, func() error {
		return w.board.Publish(ctx, status)
	})
}

func retry(ctx context.Context, attempts int, delay time.Duration, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return err
}
