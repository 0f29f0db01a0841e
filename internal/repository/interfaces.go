package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/opd-queue/internal/model"
)

var (
	// ErrNotFound is returned when the requested row or board entry does not exist.
	ErrNotFound = errors.New("not found")
	// ErrVersionConflict is returned when a compare-and-swap write lost the race.
	ErrVersionConflict = errors.New("version conflict")
)

// ActiveConsultationError reports the appointment already in consultation
// with the doctor.
type ActiveConsultationError struct {
	AppointmentID uuid.UUID
}

func (e *ActiveConsultationError) Error() string {
	return fmt.Sprintf("doctor already has appointment %s in consultation", e.AppointmentID)
}

// StatusChange is a compare-and-swap status write. Appointment carries the
// desired state; the write only lands if the stored row still has
// ExpectedVersion and From.
type StatusChange struct {
	Appointment     *model.Appointment
	From            model.AppointmentStatus
	ExpectedVersion int64
	// Notes replaces the consultation notes when set. The rest of the
	// consultation payload is left as stored.
	Notes *string
}

// All repository interfaces in one file
type (
	AppointmentRepository interface {
		Create(ctx context.Context, appointment *model.Appointment) error
		Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error)
		// CheckIn allocates the next token for the appointment's queue day and
		// applies the change in the same transaction.
		CheckIn(ctx context.Context, change StatusChange) error
		// CreateCheckedIn inserts an appointment that is checked in on arrival.
		CreateCheckedIn(ctx context.Context, appointment *model.Appointment) error
		UpdateStatus(ctx context.Context, change StatusChange) error
		// StartConsultation applies the change only if the doctor has no other
		// appointment in consultation; otherwise *ActiveConsultationError.
		StartConsultation(ctx context.Context, change StatusChange) error
		FindActiveConsultation(ctx context.Context, doctorID, excludeID uuid.UUID) (*model.Appointment, error)
		ListQueue(ctx context.Context, key model.QueueKey, day time.Time) ([]*model.Appointment, error)
		ListActiveQueues(ctx context.Context, day time.Time) ([]model.QueueKey, error)
	}

	AvailabilityRepository interface {
		GetAvailability(ctx context.Context, key model.QueueKey) (*model.DoctorAvailability, error)
		UpsertAvailability(ctx context.Context, availability *model.DoctorAvailability) error
	}

	SettingsRepository interface {
		GetQueueSettings(ctx context.Context, key model.QueueKey) (*model.QueueSettings, error)
	}

	// QueueBoard is the low-latency "now serving" store patients poll.
	QueueBoard interface {
		Publish(ctx context.Context, status *model.QueueStatus) error
		Get(ctx context.Context, key model.QueueKey) (*model.QueueStatus, error)
	}
)
