package model

import (
	"time"

	"github.com/google/uuid"
)

// AvailabilityStatus is what the doctor is doing right now, as shown on the board.
type AvailabilityStatus string

const (
	AvailabilityOPD       AvailabilityStatus = "OPD"
	AvailabilityRest      AvailabilityStatus = "REST"
	AvailabilityMeeting   AvailabilityStatus = "MEETING"
	AvailabilityEmergency AvailabilityStatus = "EMERGENCY"
)

// Valid reports whether s is one of the known availability states.
func (s AvailabilityStatus) Valid() bool {
	switch s {
	case AvailabilityOPD, AvailabilityRest, AvailabilityMeeting, AvailabilityEmergency:
		return true
	}
	return false
}

// QueueKey identifies one doctor's queue at one hospital.
type QueueKey struct {
	HospitalID uuid.UUID `db:"hospital_id" json:"hospital_id"`
	DoctorID   uuid.UUID `db:"doctor_id" json:"doctor_id"`
}

// DoctorAvailability is the staff-controlled part of the board. It is stored
// durably so the board can be rebuilt after the broadcast store loses it.
type DoctorAvailability struct {
	HospitalID    uuid.UUID          `db:"hospital_id" json:"hospital_id"`
	DoctorID      uuid.UUID          `db:"doctor_id" json:"doctor_id"`
	Status        AvailabilityStatus `db:"status" json:"status"`
	StatusMessage string             `db:"status_message" json:"status_message"`
	IsLive        bool               `db:"is_live" json:"is_live"`
	UpdatedAt     time.Time          `db:"updated_at" json:"updated_at"`
}

// DefaultAvailability is used until staff set a status for the doctor.
func DefaultAvailability(key QueueKey) *DoctorAvailability {
	return &DoctorAvailability{
		HospitalID: key.HospitalID,
		DoctorID:   key.DoctorID,
		Status:     AvailabilityOPD,
		IsLive:     false,
	}
}

// QueueStatus is the "now serving" projection for one doctor's queue.
type QueueStatus struct {
	HospitalID    uuid.UUID          `json:"hospital_id"`
	DoctorID      uuid.UUID          `json:"doctor_id"`
	CurrentToken  int                `json:"current_token"`
	IsLive        bool               `json:"is_live"`
	Status        AvailabilityStatus `json:"status"`
	StatusMessage string             `json:"status_message,omitempty"`
	LastUpdated   time.Time          `json:"last_updated"`
}

// Key returns the queue this status belongs to.
func (q *QueueStatus) Key() QueueKey {
	return QueueKey{HospitalID: q.HospitalID, DoctorID: q.DoctorID}
}

// WaitEstimate is the patient-facing view of their place in the queue.
type WaitEstimate struct {
	MyToken              int  `json:"my_token"`
	TokensAhead          int  `json:"tokens_ahead"`
	EstimatedWaitMinutes int  `json:"estimated_wait_minutes"`
	IsMyTurn             bool `json:"is_my_turn"`
}

// QueueStatusSource says where a read was served from.
type QueueStatusSource string

const (
	QueueStatusSourceBoard   QueueStatusSource = "board"
	QueueStatusSourceDerived QueueStatusSource = "derived"
)

// QueueStatusView is the queue read endpoint response.
type QueueStatusView struct {
	QueueStatus
	AvgConsultationTime int               `json:"avg_consultation_time"`
	PollIntervalSeconds int               `json:"poll_interval_seconds"`
	Source              QueueStatusSource `json:"source"`
	Wait                *WaitEstimate     `json:"wait,omitempty"`
}

// QueueSettings holds per-doctor tuning owned by the profile store.
type QueueSettings struct {
	HospitalID             uuid.UUID `db:"hospital_id"`
	DoctorID               uuid.UUID `db:"doctor_id"`
	AvgConsultationMinutes int       `db:"avg_consultation_minutes"`
}

// SetStatusCommand carries a staff SET_STATUS request.
type SetStatusCommand struct {
	Key           QueueKey
	Status        AvailabilityStatus
	StatusMessage *string
	IsLive        *bool
}
