package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/opd-queue/internal/model"
	"github.com/jwalitptl/opd-queue/internal/repository"
	"github.com/jwalitptl/opd-queue/pkg/clock"
	apperrors "github.com/jwalitptl/opd-queue/pkg/errors"
	"github.com/jwalitptl/opd-queue/pkg/logger"
	"github.com/jwalitptl/opd-queue/pkg/metrics"
)

// Service runs appointment transitions against the store and keeps the
// now-serving board in step.
type Service struct {
	appointments repository.AppointmentRepository
	projector    *Projector
	clock        clock.Clock
	logger       *logger.Logger
	metrics      *metrics.Metrics
}

func NewService(
	appointments repository.AppointmentRepository,
	projector *Projector,
	clk clock.Clock,
	log *logger.Logger,
	m *metrics.Metrics,
) *Service {
	return &Service{
		appointments: appointments,
		projector:    projector,
		clock:        clk,
		logger:       log,
		metrics:      m,
	}
}

// Book creates a BOOKED appointment. No token is assigned until check-in.
func (s *Service) Book(ctx context.Context, req *model.BookAppointmentRequest) (*model.Appointment, error) {
	key, err := ParseKey(req.HospitalID, req.DoctorID)
	if err != nil {
		return nil, err
	}
	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		return nil, apperrors.BadRequest("invalid patient_id", err)
	}

	today := clock.Today(s.clock)
	if req.ScheduledTime.Before(today.Start) {
		return nil, apperrors.BadRequest("scheduled_time cannot be before today", nil)
	}

	appointmentType := req.Type
	if appointmentType == "" {
		appointmentType = model.AppointmentTypeRegular
	}

	a := &model.Appointment{
		Base:          model.Base{ID: uuid.New()},
		PatientID:     patientID,
		DoctorID:      key.DoctorID,
		HospitalID:    key.HospitalID,
		ScheduledTime: req.ScheduledTime,
		Status:        model.AppointmentStatusBooked,
		Type:          appointmentType,
	}
	if err := s.appointments.Create(ctx, a); err != nil {
		return nil, apperrors.Internal(err)
	}
	return a, nil
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	a, err := s.appointments.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound("appointment", err)
	}
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return a, nil
}

// CheckIn moves a BOOKED appointment scheduled for today into the queue with
// the next token.
func (s *Service) CheckIn(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	return s.transition(ctx, id, model.QueueActionCheckIn, nil)
}

// RegisterWalkIn creates an appointment that joins today's queue immediately.
func (s *Service) RegisterWalkIn(ctx context.Context, req *model.WalkInRequest) (*model.Appointment, error) {
	key, err := ParseKey(req.HospitalID, req.DoctorID)
	if err != nil {
		return nil, err
	}
	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		return nil, apperrors.BadRequest("invalid patient_id", err)
	}

	appointmentType := req.Type
	if appointmentType == "" {
		appointmentType = model.AppointmentTypeWalkIn
	}

	now := s.clock.Now()
	day := clock.Today(s.clock).Start
	a := &model.Appointment{
		Base:          model.Base{ID: uuid.New()},
		PatientID:     patientID,
		DoctorID:      key.DoctorID,
		HospitalID:    key.HospitalID,
		ScheduledTime: now,
		Status:        model.AppointmentStatusCheckedIn,
		Type:          appointmentType,
		QueueDay:      &day,
		CheckInTime:   &now,
	}
	if err := s.appointments.CreateCheckedIn(ctx, a); err != nil {
		s.record(model.QueueActionCheckIn, err)
		return nil, apperrors.Internal(err)
	}
	s.record(model.QueueActionCheckIn, nil)
	s.metrics.TokensAllocated.Inc()
	return a, nil
}

func (s *Service) Start(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	return s.transition(ctx, id, model.QueueActionStart, nil)
}

// Complete ends the consultation. notes, when set, replace the consultation notes.
func (s *Service) Complete(ctx context.Context, id uuid.UUID, notes *string) (*model.Appointment, error) {
	return s.transition(ctx, id, model.QueueActionComplete, notes)
}

func (s *Service) Skip(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	return s.transition(ctx, id, model.QueueActionSkip, nil)
}

func (s *Service) Recall(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	return s.transition(ctx, id, model.QueueActionRecall, nil)
}

func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	return s.transition(ctx, id, model.QueueActionCancel, nil)
}

// SetStatus updates the doctor's availability and returns the republished status.
func (s *Service) SetStatus(ctx context.Context, cmd model.SetStatusCommand) (*model.QueueStatus, error) {
	if !cmd.Status.Valid() {
		return nil, apperrors.BadRequest(fmt.Sprintf("invalid status_type %q", cmd.Status), nil)
	}

	status, err := s.projector.SetStatus(ctx, cmd)
	s.record(model.QueueActionSetStatus, err)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return status, nil
}

// ListToday returns today's queue for a doctor ordered by token.
func (s *Service) ListToday(ctx context.Context, key model.QueueKey) ([]*model.Appointment, error) {
	appointments, err := s.appointments.ListQueue(ctx, key, clock.Today(s.clock).Start)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return appointments, nil
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, action model.QueueAction, notes *string) (*model.Appointment, error) {
	current, err := s.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}

	next, err := s.apply(ctx, current, action, notes)
	s.record(action, err)
	if err != nil {
		return nil, err
	}

	if action == model.QueueActionCheckIn {
		s.metrics.TokensAllocated.Inc()
	}
	if affectsBoard(action) {
		s.projector.Refresh(ctx, model.QueueKey{HospitalID: next.HospitalID, DoctorID: next.DoctorID})
	}
	return next, nil
}

func (s *Service) apply(ctx context.Context, current *model.Appointment, action model.QueueAction, notes *string) (*model.Appointment, error) {
	now := s.clock.Now()
	next, err := Apply(current, action, now)
	if err != nil {
		var te *TransitionError
		if errors.As(err, &te) {
			return nil, apperrors.Conflict(apperrors.ReasonIllegalTransition, te.Error()).
				WithDetail("current_status", string(te.Current)).
				WithDetail("action", string(te.Action))
		}
		return nil, apperrors.InvalidAction(string(action))
	}

	change := repository.StatusChange{
		Appointment:     next,
		From:            current.Status,
		ExpectedVersion: current.Version,
		Notes:           notes,
	}

	switch action {
	case model.QueueActionCheckIn:
		today := clock.Today(s.clock)
		if current.Type != model.AppointmentTypeWalkIn && !today.Contains(current.ScheduledTime) {
			return nil, apperrors.BadRequest("only appointments scheduled for today can be checked in", nil).
				WithDetail("scheduled_time", current.ScheduledTime)
		}
		next.QueueDay = &today.Start
		err = s.appointments.CheckIn(ctx, change)

	case model.QueueActionStart:
		blocking, findErr := s.appointments.FindActiveConsultation(ctx, current.DoctorID, current.ID)
		switch {
		case findErr == nil:
			err = &repository.ActiveConsultationError{AppointmentID: blocking.ID}
		case errors.Is(findErr, repository.ErrNotFound):
			err = s.appointments.StartConsultation(ctx, change)
		default:
			err = findErr
		}

	default:
		err = s.appointments.UpdateStatus(ctx, change)
	}

	if err != nil {
		return nil, s.storeError(ctx, current.ID, err)
	}
	return next, nil
}

// storeError maps repository failures onto the API error taxonomy.
func (s *Service) storeError(ctx context.Context, id uuid.UUID, err error) error {
	var active *repository.ActiveConsultationError
	switch {
	case errors.As(err, &active):
		s.metrics.ActiveConflicts.Inc()
		return apperrors.Conflict(apperrors.ReasonActiveConsultation,
			"doctor already has a patient in consultation").
			WithDetail("blocking_appointment_id", active.AppointmentID.String())

	case errors.Is(err, repository.ErrVersionConflict):
		conflict := apperrors.Conflict(apperrors.ReasonConcurrentModification,
			"appointment was modified concurrently; re-read and retry")
		if fresh, getErr := s.appointments.Get(ctx, id); getErr == nil {
			conflict.WithDetail("current_status", string(fresh.Status))
		}
		return conflict

	case errors.Is(err, repository.ErrNotFound):
		return apperrors.NotFound("appointment", err)
	}

	s.logger.WithContext(ctx).Error(err, "appointment transition failed", "appointment_id", id.String())
	return apperrors.Internal(err)
}

func (s *Service) record(action model.QueueAction, err error) {
	result := "success"
	if err != nil {
		result = "rejected"
		if apperrors.IsCode(err, apperrors.ErrInternal) || !isAppError(err) {
			result = "error"
		}
	}
	s.metrics.QueueActions.WithLabelValues(string(action), result).Inc()
}

func isAppError(err error) bool {
	_, ok := apperrors.As(err)
	return ok
}

// affectsBoard reports whether the action can change the now-serving token.
// Check-in and cancel only touch tokens that are not being served.
func affectsBoard(action model.QueueAction) bool {
	switch action {
	case model.QueueActionStart, model.QueueActionComplete, model.QueueActionSkip, model.QueueActionRecall:
		return true
	}
	return false
}

// ParseKey validates a hospital/doctor id pair from a request.
func ParseKey(hospitalID, doctorID string) (model.QueueKey, error) {
	h, err := uuid.Parse(hospitalID)
	if err != nil {
		return model.QueueKey{}, apperrors.BadRequest("invalid hospital_id", err)
	}
	d, err := uuid.Parse(doctorID)
	if err != nil {
		return model.QueueKey{}, apperrors.BadRequest("invalid doctor_id", err)
	}
	return model.QueueKey{HospitalID: h, DoctorID: d}, nil
}
