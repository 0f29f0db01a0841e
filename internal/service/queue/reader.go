package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/jwalitptl/opd-queue/internal/model"
	"github.com/jwalitptl/opd-queue/internal/repository"
	"github.com/jwalitptl/opd-queue/pkg/clock"
	apperrors "github.com/jwalitptl/opd-queue/pkg/errors"
	"github.com/jwalitptl/opd-queue/pkg/logger"
)

const defaultPollIntervalSeconds = 15

type ReaderConfig struct {
	DefaultAvgConsultationMinutes int
	PollIntervalSeconds           int
	SettingsCacheTTL              time.Duration
}

// Reader serves the patient-facing queue status. It never writes to the
// board or the store.
type Reader struct {
	board        repository.QueueBoard
	projector    *Projector
	settings     repository.SettingsRepository
	appointments repository.AppointmentRepository
	clock        clock.Clock
	logger       *logger.Logger
	cache        *cache.Cache
	defaultAvg   int
	pollInterval int
}

func NewReader(
	board repository.QueueBoard,
	projector *Projector,
	settings repository.SettingsRepository,
	appointments repository.AppointmentRepository,
	clk clock.Clock,
	log *logger.Logger,
	cfg ReaderConfig,
) *Reader {
	if cfg.DefaultAvgConsultationMinutes <= 0 {
		cfg.DefaultAvgConsultationMinutes = DefaultAvgConsultationMinutes
	}
	if cfg.PollIntervalSeconds <= 0 {
		cfg.PollIntervalSeconds = defaultPollIntervalSeconds
	}
	if cfg.SettingsCacheTTL <= 0 {
		cfg.SettingsCacheTTL = 5 * time.Minute
	}

	return &Reader{
		board:        board,
		projector:    projector,
		settings:     settings,
		appointments: appointments,
		clock:        clk,
		logger:       log,
		cache:        cache.New(cfg.SettingsCacheTTL, 2*cfg.SettingsCacheTTL),
		defaultAvg:   cfg.DefaultAvgConsultationMinutes,
		pollInterval: cfg.PollIntervalSeconds,
	}
}

// GetQueueStatus returns the board entry for the queue, or a status derived
// from the store when the entry is missing, unreadable or from a previous day.
// appointmentID, when set, adds that patient's wait estimate.
func (r *Reader) GetQueueStatus(ctx context.Context, key model.QueueKey, appointmentID *uuid.UUID) (*model.QueueStatusView, error) {
	status, source, err := r.status(ctx, key)
	if err != nil {
		return nil, err
	}

	view := &model.QueueStatusView{
		QueueStatus:         *status,
		AvgConsultationTime: r.avgConsultationMinutes(ctx, key),
		PollIntervalSeconds: r.pollInterval,
		Source:              source,
	}

	if appointmentID != nil {
		wait, err := r.waitFor(ctx, key, *appointmentID, status.CurrentToken, view.AvgConsultationTime)
		if err != nil {
			return nil, err
		}
		view.Wait = wait
	}
	return view, nil
}

func (r *Reader) status(ctx context.Context, key model.QueueKey) (*model.QueueStatus, model.QueueStatusSource, error) {
	status, err := r.board.Get(ctx, key)
	switch {
	case err == nil && !status.LastUpdated.Before(clock.Today(r.clock).Start):
		return status, model.QueueStatusSourceBoard, nil
	case err != nil && !errors.Is(err, repository.ErrNotFound):
		r.logger.WithContext(ctx).Warn(err, "queue board unreadable, deriving status",
			"hospital_id", key.HospitalID.String(),
			"doctor_id", key.DoctorID.String(),
		)
	}

	derived, err := r.projector.Project(ctx, key)
	if err != nil {
		return nil, "", apperrors.Internal(err)
	}
	return derived, model.QueueStatusSourceDerived, nil
}

func (r *Reader) waitFor(ctx context.Context, key model.QueueKey, id uuid.UUID, currentToken, avg int) (*model.WaitEstimate, error) {
	a, err := r.appointments.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound("appointment", err)
	}
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if a.HospitalID != key.HospitalID || a.DoctorID != key.DoctorID {
		return nil, apperrors.NotFound("appointment", nil)
	}
	if a.TokenNumber == nil {
		return nil, apperrors.Conflict(apperrors.ReasonNoToken, "appointment has not been checked in").
			WithDetail("current_status", string(a.Status))
	}
	// Tokens are only comparable within one queue day.
	if a.Status.Terminal() {
		return nil, apperrors.Conflict(apperrors.ReasonNotInQueue, "appointment is no longer waiting").
			WithDetail("current_status", string(a.Status))
	}
	if a.QueueDay == nil || !a.QueueDay.Equal(clock.Today(r.clock).Start) {
		conflict := apperrors.Conflict(apperrors.ReasonNotInQueue, "appointment is not in today's queue").
			WithDetail("current_status", string(a.Status))
		if a.QueueDay != nil {
			conflict.WithDetail("queue_day", a.QueueDay.Format(time.DateOnly))
		}
		return nil, conflict
	}

	wait := EstimateWait(*a.TokenNumber, currentToken, avg)
	return &wait, nil
}

func (r *Reader) avgConsultationMinutes(ctx context.Context, key model.QueueKey) int {
	cacheKey := fmt.Sprintf("%s:%s", key.HospitalID, key.DoctorID)
	if v, ok := r.cache.Get(cacheKey); ok {
		return v.(int)
	}

	avg := r.defaultAvg
	settings, err := r.settings.GetQueueSettings(ctx, key)
	switch {
	case err == nil && settings.AvgConsultationMinutes > 0:
		avg = settings.AvgConsultationMinutes
	case err != nil && !errors.Is(err, repository.ErrNotFound):
		// Don't cache the fallback; the store may be back on the next poll.
		r.logger.WithContext(ctx).Warn(err, "failed to load queue settings", "doctor_id", key.DoctorID.String())
		return avg
	}

	r.cache.SetDefault(cacheKey, avg)
	return avg
}
