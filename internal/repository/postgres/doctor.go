package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jwalitptl/opd-queue/internal/model"
	"github.com/jwalitptl/opd-queue/internal/repository"
)

// DoctorRepository stores the queue-facing parts of a doctor's profile:
// live availability and consultation pacing.
type DoctorRepository struct {
	BaseRepository
}

// NewDoctorRepository returns a repository serving both availability and
// queue settings.
func NewDoctorRepository(base BaseRepository) *DoctorRepository {
	return &DoctorRepository{base}
}

var (
	_ repository.AvailabilityRepository = (*DoctorRepository)(nil)
	_ repository.SettingsRepository     = (*DoctorRepository)(nil)
)

func (r *DoctorRepository) GetAvailability(ctx context.Context, key model.QueueKey) (*model.DoctorAvailability, error) {
	query := `
		SELECT hospital_id, doctor_id, status, status_message, is_live, updated_at
		FROM doctor_availability
		WHERE hospital_id = $1 AND doctor_id = $2
	`
	var availability model.DoctorAvailability
	if err := r.db.GetContext(ctx, &availability, query, key.HospitalID, key.DoctorID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get doctor availability: %w", err)
	}
	return &availability, nil
}

func (r *DoctorRepository) UpsertAvailability(ctx context.Context, availability *model.DoctorAvailability) (err error) {
	defer r.observe("availability_upsert", time.Now(), &err)

	query := `
		INSERT INTO doctor_availability (hospital_id, doctor_id, status, status_message, is_live, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (hospital_id, doctor_id) DO UPDATE
		SET status = EXCLUDED.status,
			status_message = EXCLUDED.status_message,
			is_live = EXCLUDED.is_live,
			updated_at = EXCLUDED.updated_at
	`
	if availability.UpdatedAt.IsZero() {
		availability.UpdatedAt = time.Now()
	}

	_, err = r.db.ExecContext(ctx, query,
		availability.HospitalID,
		availability.DoctorID,
		availability.Status,
		availability.StatusMessage,
		availability.IsLive,
		availability.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save doctor availability: %w", err)
	}
	return nil
}

func (r *DoctorRepository) GetQueueSettings(ctx context.Context, key model.QueueKey) (*model.QueueSettings, error) {
	query := `
		SELECT hospital_id, doctor_id, avg_consultation_minutes
		FROM doctor_queue_settings
		WHERE hospital_id = $1 AND doctor_id = $2
	`
	var settings model.QueueSettings
	if err := r.db.GetContext(ctx, &settings, query, key.HospitalID, key.DoctorID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get queue settings: %w", err)
	}
	return &settings, nil
}
