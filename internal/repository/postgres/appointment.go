package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/opd-queue/internal/model"
	"github.com/jwalitptl/opd-queue/internal/repository"
)

const (
	activeConsultationIndex = "ux_appointments_one_active_consultation"

	appointmentColumns = `
		id, patient_id, doctor_id, hospital_id, scheduled_time, status, type,
		token_number, queue_day, check_in_time, consultation_start_time,
		consultation_end_time, skip_count, last_skipped_at, consultation,
		version, created_at, updated_at`

	insertAppointmentQuery = `
		INSERT INTO appointments (` + appointmentColumns + `
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`

	checkInQuery = `
		UPDATE appointments
		SET status = $1, token_number = $2, queue_day = $3, check_in_time = $4,
			version = version + 1, updated_at = $5
		WHERE id = $6 AND version = $7 AND status = $8
	`

	// Only the notes key is touched so concurrent edits to the rest of the
	// consultation payload survive.
	updateStatusQuery = `
		UPDATE appointments
		SET status = $1, consultation_start_time = $2, consultation_end_time = $3,
			skip_count = $4, last_skipped_at = $5,
			consultation = CASE
				WHEN $6::text IS NULL THEN consultation
				ELSE jsonb_set(consultation, '{notes}', to_jsonb($6::text))
			END,
			version = version + 1, updated_at = $7
		WHERE id = $8 AND version = $9 AND status = $10
	`

	lockDoctorQuery = `SELECT pg_advisory_xact_lock(hashtext($1))`

	activeConsultationQuery = `
		SELECT ` + appointmentColumns + `
		FROM appointments
		WHERE doctor_id = $1 AND status = 'IN_CONSULTATION' AND id <> $2
		LIMIT 1
	`
)

type appointmentRepository struct {
	BaseRepository
}

func NewAppointmentRepository(base BaseRepository) repository.AppointmentRepository {
	return &appointmentRepository{base}
}

func (r *appointmentRepository) Create(ctx context.Context, appointment *model.Appointment) (err error) {
	defer r.observe("appointment_create", time.Now(), &err)

	if appointment.ID == uuid.Nil {
		appointment.ID = uuid.New()
	}
	now := time.Now()
	appointment.CreatedAt = now
	appointment.UpdatedAt = now

	if err := insertAppointment(ctx, r.db, appointment); err != nil {
		return fmt.Errorf("failed to create appointment: %w", err)
	}
	return nil
}

func (r *appointmentRepository) Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE id = $1`

	var appointment model.Appointment
	if err := r.db.GetContext(ctx, &appointment, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get appointment: %w", err)
	}
	return &appointment, nil
}

func (r *appointmentRepository) CheckIn(ctx context.Context, change repository.StatusChange) (err error) {
	defer r.observe("appointment_check_in", time.Now(), &err)

	a := change.Appointment
	if a.QueueDay == nil {
		return fmt.Errorf("check-in for appointment %s has no queue day", a.ID)
	}
	updatedAt := time.Now()

	var token int
	err = r.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		token, err = allocateToken(ctx, tx, a.HospitalID, a.DoctorID, *a.QueueDay)
		if err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, checkInQuery,
			a.Status,
			token,
			*a.QueueDay,
			a.CheckInTime,
			updatedAt,
			a.ID,
			change.ExpectedVersion,
			change.From,
		)
		if err != nil {
			return fmt.Errorf("failed to check in appointment: %w", err)
		}
		return requireOneRow(ctx, tx, res, a.ID)
	})
	if err != nil {
		return err
	}

	a.TokenNumber = &token
	a.Version = change.ExpectedVersion + 1
	a.UpdatedAt = updatedAt
	return nil
}

func (r *appointmentRepository) CreateCheckedIn(ctx context.Context, appointment *model.Appointment) (err error) {
	defer r.observe("appointment_walk_in", time.Now(), &err)

	if appointment.QueueDay == nil {
		return fmt.Errorf("walk-in for doctor %s has no queue day", appointment.DoctorID)
	}
	if appointment.ID == uuid.Nil {
		appointment.ID = uuid.New()
	}
	now := time.Now()

	var token int
	err = r.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		token, err = allocateToken(ctx, tx, appointment.HospitalID, appointment.DoctorID, *appointment.QueueDay)
		if err != nil {
			return err
		}

		row := *appointment
		row.TokenNumber = &token
		row.CreatedAt = now
		row.UpdatedAt = now
		if err := insertAppointment(ctx, tx, &row); err != nil {
			return fmt.Errorf("failed to create walk-in appointment: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	appointment.TokenNumber = &token
	appointment.CreatedAt = now
	appointment.UpdatedAt = now
	return nil
}

func (r *appointmentRepository) UpdateStatus(ctx context.Context, change repository.StatusChange) (err error) {
	defer r.observe("appointment_update_status", time.Now(), &err)

	updatedAt := time.Now()
	err = r.WithTx(ctx, func(tx *sqlx.Tx) error {
		return updateStatus(ctx, tx, change, updatedAt)
	})
	if err != nil {
		return err
	}
	applied(change, updatedAt)
	return nil
}

func (r *appointmentRepository) StartConsultation(ctx context.Context, change repository.StatusChange) (err error) {
	defer r.observe("appointment_start", time.Now(), &err)

	a := change.Appointment
	updatedAt := time.Now()
	err = r.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, lockDoctorQuery, a.DoctorID.String()); err != nil {
			return fmt.Errorf("failed to lock doctor queue: %w", err)
		}

		var blocking model.Appointment
		err := tx.GetContext(ctx, &blocking, activeConsultationQuery, a.DoctorID, a.ID)
		switch {
		case err == nil:
			return &repository.ActiveConsultationError{AppointmentID: blocking.ID}
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("failed to check active consultation: %w", err)
		}

		return updateStatus(ctx, tx, change, updatedAt)
	})

	if isUniqueViolation(err, activeConsultationIndex) {
		// The index caught a writer that bypassed the lock; name the blocker.
		blocking, findErr := r.FindActiveConsultation(ctx, a.DoctorID, a.ID)
		if errors.Is(findErr, repository.ErrNotFound) {
			// The blocker finished in between; the caller re-reads.
			return repository.ErrVersionConflict
		}
		if findErr != nil {
			return fmt.Errorf("active consultation exists: %w", findErr)
		}
		return &repository.ActiveConsultationError{AppointmentID: blocking.ID}
	}
	if err != nil {
		return err
	}

	applied(change, updatedAt)
	return nil
}

func (r *appointmentRepository) FindActiveConsultation(ctx context.Context, doctorID, excludeID uuid.UUID) (*model.Appointment, error) {
	var appointment model.Appointment
	if err := r.db.GetContext(ctx, &appointment, activeConsultationQuery, doctorID, excludeID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find active consultation: %w", err)
	}
	return &appointment, nil
}

func (r *appointmentRepository) ListQueue(ctx context.Context, key model.QueueKey, day time.Time) ([]*model.Appointment, error) {
	query := `
		SELECT ` + appointmentColumns + `
		FROM appointments
		WHERE hospital_id = $1 AND doctor_id = $2 AND queue_day = $3
		ORDER BY token_number ASC
	`
	var appointments []*model.Appointment
	if err := r.db.SelectContext(ctx, &appointments, query, key.HospitalID, key.DoctorID, day); err != nil {
		return nil, fmt.Errorf("failed to list queue: %w", err)
	}
	return appointments, nil
}

func (r *appointmentRepository) ListActiveQueues(ctx context.Context, day time.Time) ([]model.QueueKey, error) {
	query := `
		SELECT DISTINCT hospital_id, doctor_id
		FROM appointments
		WHERE queue_day = $1
	`
	var keys []model.QueueKey
	if err := r.db.SelectContext(ctx, &keys, query, day); err != nil {
		return nil, fmt.Errorf("failed to list active queues: %w", err)
	}
	return keys, nil
}

func insertAppointment(ctx context.Context, exec sqlx.ExecerContext, a *model.Appointment) error {
	_, err := exec.ExecContext(ctx, insertAppointmentQuery,
		a.ID,
		a.PatientID,
		a.DoctorID,
		a.HospitalID,
		a.ScheduledTime,
		a.Status,
		a.Type,
		a.TokenNumber,
		a.QueueDay,
		a.CheckInTime,
		a.ConsultationStartTime,
		a.ConsultationEndTime,
		a.SkipCount,
		a.LastSkippedAt,
		a.Consultation,
		a.Version,
		a.CreatedAt,
		a.UpdatedAt,
	)
	return err
}

func updateStatus(ctx context.Context, tx *sqlx.Tx, change repository.StatusChange, updatedAt time.Time) error {
	a := change.Appointment
	res, err := tx.ExecContext(ctx, updateStatusQuery,
		a.Status,
		a.ConsultationStartTime,
		a.ConsultationEndTime,
		a.SkipCount,
		a.LastSkippedAt,
		change.Notes,
		updatedAt,
		a.ID,
		change.ExpectedVersion,
		change.From,
	)
	if err != nil {
		return fmt.Errorf("failed to update appointment status: %w", err)
	}
	return requireOneRow(ctx, tx, res, a.ID)
}

// requireOneRow turns a compare-and-swap miss into ErrNotFound or
// ErrVersionConflict.
func requireOneRow(ctx context.Context, tx *sqlx.Tx, res sql.Result, id uuid.UUID) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 1 {
		return nil
	}

	var exists bool
	if err := tx.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM appointments WHERE id = $1)`, id); err != nil {
		return fmt.Errorf("failed to check appointment: %w", err)
	}
	if !exists {
		return repository.ErrNotFound
	}
	return repository.ErrVersionConflict
}

func applied(change repository.StatusChange, updatedAt time.Time) {
	a := change.Appointment
	a.Version = change.ExpectedVersion + 1
	a.UpdatedAt = updatedAt
	if change.Notes != nil {
		a.Consultation.Notes = *change.Notes
	}
}
