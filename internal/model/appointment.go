package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	AppointmentStatusBooked         AppointmentStatus = "BOOKED"
	AppointmentStatusCheckedIn      AppointmentStatus = "CHECKED_IN"
	AppointmentStatusInConsultation AppointmentStatus = "IN_CONSULTATION"
	AppointmentStatusCompleted      AppointmentStatus = "COMPLETED"
	AppointmentStatusSkipped        AppointmentStatus = "SKIPPED"
	AppointmentStatusCancelled      AppointmentStatus = "CANCELLED"
)

// Terminal reports whether no further transition is possible.
func (s AppointmentStatus) Terminal() bool {
	return s == AppointmentStatusCompleted || s == AppointmentStatusCancelled
}

type AppointmentType string

const (
	AppointmentTypeWalkIn    AppointmentType = "WALK_IN"
	AppointmentTypeRegular   AppointmentType = "REGULAR"
	AppointmentTypeEmergency AppointmentType = "EMERGENCY"
	AppointmentTypeFollowUp  AppointmentType = "FOLLOW_UP"
)

// Consultation is the clinical payload the doctor edits while the patient is
// in consultation. Queue transitions carry it through untouched.
type Consultation struct {
	Vitals       JSONMap    `json:"vitals,omitempty"`
	Diagnosis    string     `json:"diagnosis,omitempty"`
	Prescription string     `json:"prescription,omitempty"`
	Notes        string     `json:"notes,omitempty"`
	NextVisit    *time.Time `json:"next_visit,omitempty"`
}

// Value implements driver.Valuer for the jsonb consultation column.
func (c Consultation) Value() (driver.Value, error) {
	return json.Marshal(c)
}

// Scan implements sql.Scanner.
func (c *Consultation) Scan(src interface{}) error {
	if src == nil {
		*c = Consultation{}
		return nil
	}
	b, err := asBytes(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, c)
}

type Appointment struct {
	Base
	PatientID             uuid.UUID         `db:"patient_id" json:"patient_id"`
	DoctorID              uuid.UUID         `db:"doctor_id" json:"doctor_id"`
	HospitalID            uuid.UUID         `db:"hospital_id" json:"hospital_id"`
	ScheduledTime         time.Time         `db:"scheduled_time" json:"scheduled_time"`
	Status                AppointmentStatus `db:"status" json:"status"`
	Type                  AppointmentType   `db:"type" json:"type"`
	TokenNumber           *int              `db:"token_number" json:"token_number,omitempty"`
	QueueDay              *time.Time        `db:"queue_day" json:"queue_day,omitempty"`
	CheckInTime           *time.Time        `db:"check_in_time" json:"check_in_time,omitempty"`
	ConsultationStartTime *time.Time        `db:"consultation_start_time" json:"consultation_start_time,omitempty"`
	ConsultationEndTime   *time.Time        `db:"consultation_end_time" json:"consultation_end_time,omitempty"`
	SkipCount             int               `db:"skip_count" json:"skip_count"`
	LastSkippedAt         *time.Time        `db:"last_skipped_at" json:"last_skipped_at,omitempty"`
	Consultation          Consultation      `db:"consultation" json:"consultation"`
	Version               int64             `db:"version" json:"version"`
}

// Token returns the assigned token or 0.
func (a *Appointment) Token() int {
	if a.TokenNumber == nil {
		return 0
	}
	return *a.TokenNumber
}

// Clone returns a deep enough copy for a compare-and-swap update.
func (a *Appointment) Clone() *Appointment {
	c := *a
	if a.Consultation.Vitals != nil {
		c.Consultation.Vitals = make(JSONMap, len(a.Consultation.Vitals))
		for k, v := range a.Consultation.Vitals {
			c.Consultation.Vitals[k] = v
		}
	}
	return &c
}

// Summary is the response shape for queue actions.
func (a *Appointment) Summary() *AppointmentSummary {
	return &AppointmentSummary{
		ID:                    a.ID,
		Status:                a.Status,
		TokenNumber:           a.TokenNumber,
		ConsultationStartTime: a.ConsultationStartTime,
		ConsultationEndTime:   a.ConsultationEndTime,
		SkipCount:             a.SkipCount,
		LastSkippedAt:         a.LastSkippedAt,
	}
}

type AppointmentSummary struct {
	ID                    uuid.UUID         `json:"id"`
	Status                AppointmentStatus `json:"status"`
	TokenNumber           *int              `json:"token_number,omitempty"`
	ConsultationStartTime *time.Time        `json:"consultation_start_time,omitempty"`
	ConsultationEndTime   *time.Time        `json:"consultation_end_time,omitempty"`
	SkipCount             int               `json:"skip_count"`
	LastSkippedAt         *time.Time        `json:"last_skipped_at,omitempty"`
}

type BookAppointmentRequest struct {
	PatientID     string          `json:"patient_id" binding:"required,uuid"`
	DoctorID      string          `json:"doctor_id" binding:"required,uuid"`
	HospitalID    string          `json:"hospital_id" binding:"required,uuid"`
	ScheduledTime time.Time       `json:"scheduled_time" binding:"required"`
	Type          AppointmentType `json:"type" binding:"omitempty,oneof=REGULAR FOLLOW_UP EMERGENCY"`
}

type WalkInRequest struct {
	PatientID  string          `json:"patient_id" binding:"required,uuid"`
	DoctorID   string          `json:"doctor_id" binding:"required,uuid"`
	HospitalID string          `json:"hospital_id" binding:"required,uuid"`
	Type       AppointmentType `json:"type" binding:"omitempty,oneof=WALK_IN EMERGENCY"`
}

// QueueAction names an operation accepted by the queue action endpoint.
type QueueAction string

const (
	QueueActionStart     QueueAction = "START"
	QueueActionComplete  QueueAction = "COMPLETE"
	QueueActionSkip      QueueAction = "SKIP"
	QueueActionRecall    QueueAction = "RECALL"
	QueueActionSetStatus QueueAction = "SET_STATUS"

	// Used internally by reception flows; not accepted on the action endpoint.
	QueueActionCheckIn QueueAction = "CHECK_IN"
	QueueActionCancel  QueueAction = "CANCEL"
)

type QueueActionRequest struct {
	Action        QueueAction `json:"action" binding:"required,queue_action"`
	AppointmentID string      `json:"appointment_id" binding:"omitempty,uuid"`
	Notes         *string     `json:"notes" binding:"omitempty,max=4000"`
	StatusType    string      `json:"status_type" binding:"omitempty,availability_status"`
	StatusMessage *string     `json:"status_message" binding:"omitempty,max=500"`
	IsLive        *bool       `json:"is_live"`
	HospitalID    string      `json:"hospital_id" binding:"omitempty,uuid"`
	DoctorID      string      `json:"doctor_id" binding:"omitempty,uuid"`
}
