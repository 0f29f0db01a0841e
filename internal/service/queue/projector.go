package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jwalitptl/opd-queue/internal/model"
	"github.com/jwalitptl/opd-queue/internal/repository"
	"github.com/jwalitptl/opd-queue/pkg/clock"
	"github.com/jwalitptl/opd-queue/pkg/logger"
	"github.com/jwalitptl/opd-queue/pkg/metrics"
)

const defaultPublishTimeout = 2 * time.Second

// CurrentToken picks the "now serving" token from one queue day: the token in
// consultation, else the highest completed token, else 0.
func CurrentToken(appointments []*model.Appointment) int {
	var (
		completed    int
		completedEnd time.Time
	)
	for _, a := range appointments {
		if a.TokenNumber == nil {
			continue
		}
		switch a.Status {
		case model.AppointmentStatusInConsultation:
			return *a.TokenNumber
		case model.AppointmentStatusCompleted:
			var end time.Time
			if a.ConsultationEndTime != nil {
				end = *a.ConsultationEndTime
			}
			if *a.TokenNumber > completed || (*a.TokenNumber == completed && end.After(completedEnd)) {
				completed = *a.TokenNumber
				completedEnd = end
			}
		}
	}
	return completed
}

// Projector derives QueueStatus from the appointment store and pushes it to
// the board.
type Projector struct {
	appointments   repository.AppointmentRepository
	availability   repository.AvailabilityRepository
	board          repository.QueueBoard
	clock          clock.Clock
	logger         *logger.Logger
	metrics        *metrics.Metrics
	publishTimeout time.Duration
}

func NewProjector(
	appointments repository.AppointmentRepository,
	availability repository.AvailabilityRepository,
	board repository.QueueBoard,
	clk clock.Clock,
	log *logger.Logger,
	m *metrics.Metrics,
	publishTimeout time.Duration,
) *Projector {
	if publishTimeout <= 0 {
		publishTimeout = defaultPublishTimeout
	}
	return &Projector{
		appointments:   appointments,
		availability:   availability,
		board:          board,
		clock:          clk,
		logger:         log,
		metrics:        m,
		publishTimeout: publishTimeout,
	}
}

// Project computes the queue's status for today without writing anything.
// LastUpdated is taken before the reads so a later stamp never reflects an
// older queue.
func (p *Projector) Project(ctx context.Context, key model.QueueKey) (*model.QueueStatus, error) {
	at := p.clock.Now()
	token, err := p.currentToken(ctx, key)
	if err != nil {
		return nil, err
	}

	availability, err := p.loadAvailability(ctx, key)
	if err != nil {
		return nil, err
	}
	return p.compose(key, token, availability, at), nil
}

// Refresh recomputes and publishes the queue's status. Failures are logged
// and counted; the caller's write has already committed.
func (p *Projector) Refresh(ctx context.Context, key model.QueueKey) *model.QueueStatus {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.publishTimeout)
	defer cancel()

	start := time.Now()
	defer func() { p.metrics.BroadcastLatency.Observe(time.Since(start).Seconds()) }()

	status, err := p.Project(ctx, key)
	if err != nil {
		p.broadcastFailed(ctx, key, "project", err)
		return nil
	}
	if err := p.board.Publish(ctx, status); err != nil {
		p.broadcastFailed(ctx, key, "publish", err)
		return status
	}
	return status
}

// SetStatus persists the doctor's availability and republishes the board.
// The current token is computed first so a store failure changes nothing.
func (p *Projector) SetStatus(ctx context.Context, cmd model.SetStatusCommand) (*model.QueueStatus, error) {
	if !cmd.Status.Valid() {
		return nil, fmt.Errorf("invalid availability status %q", cmd.Status)
	}

	at := p.clock.Now()
	token, err := p.currentToken(ctx, cmd.Key)
	if err != nil {
		return nil, err
	}

	availability, err := p.loadAvailability(ctx, cmd.Key)
	if err != nil {
		return nil, err
	}
	availability.Status = cmd.Status
	if cmd.StatusMessage != nil {
		availability.StatusMessage = *cmd.StatusMessage
	}
	if cmd.IsLive != nil {
		availability.IsLive = *cmd.IsLive
	}
	availability.UpdatedAt = p.clock.Now()

	if err := p.availability.UpsertAvailability(ctx, availability); err != nil {
		return nil, fmt.Errorf("failed to save availability: %w", err)
	}

	status := p.compose(cmd.Key, token, availability, at)

	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.publishTimeout)
	defer cancel()
	if err := p.board.Publish(publishCtx, status); err != nil {
		p.broadcastFailed(ctx, cmd.Key, "publish", err)
	}
	return status, nil
}

func (p *Projector) currentToken(ctx context.Context, key model.QueueKey) (int, error) {
	day := clock.Today(p.clock)
	appointments, err := p.appointments.ListQueue(ctx, key, day.Start)
	if err != nil {
		return 0, fmt.Errorf("failed to load queue: %w", err)
	}
	return CurrentToken(appointments), nil
}

func (p *Projector) loadAvailability(ctx context.Context, key model.QueueKey) (*model.DoctorAvailability, error) {
	availability, err := p.availability.GetAvailability(ctx, key)
	if errors.Is(err, repository.ErrNotFound) {
		return model.DefaultAvailability(key), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load availability: %w", err)
	}
	return availability, nil
}

func (p *Projector) compose(key model.QueueKey, token int, availability *model.DoctorAvailability, at time.Time) *model.QueueStatus {
	return &model.QueueStatus{
		HospitalID:    key.HospitalID,
		DoctorID:      key.DoctorID,
		CurrentToken:  token,
		IsLive:        availability.IsLive,
		Status:        availability.Status,
		StatusMessage: availability.StatusMessage,
		LastUpdated:   at,
	}
}

func (p *Projector) broadcastFailed(ctx context.Context, key model.QueueKey, stage string, err error) {
	p.metrics.BroadcastFailures.WithLabelValues(stage).Inc()
	p.logger.WithContext(ctx).Warn(err, "queue board update failed",
		"stage", stage,
		"hospital_id", key.HospitalID.String(),
		"doctor_id", key.DoctorID.String(),
	)
}
