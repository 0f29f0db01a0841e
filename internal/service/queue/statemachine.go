package queue

import (
	"fmt"
	"time"

	"github.com/jwalitptl/opd-queue/internal/model"
)

type transition struct {
	from []model.AppointmentStatus
	to   model.AppointmentStatus
}

var transitions = map[model.QueueAction]transition{
	model.QueueActionCheckIn: {
		from: []model.AppointmentStatus{model.AppointmentStatusBooked},
		to:   model.AppointmentStatusCheckedIn,
	},
	model.QueueActionStart: {
		from: []model.AppointmentStatus{model.AppointmentStatusCheckedIn, model.AppointmentStatusSkipped},
		to:   model.AppointmentStatusInConsultation,
	},
	model.QueueActionComplete: {
		from: []model.AppointmentStatus{model.AppointmentStatusInConsultation},
		to:   model.AppointmentStatusCompleted,
	},
	model.QueueActionSkip: {
		from: []model.AppointmentStatus{model.AppointmentStatusCheckedIn, model.AppointmentStatusInConsultation},
		to:   model.AppointmentStatusSkipped,
	},
	model.QueueActionRecall: {
		from: []model.AppointmentStatus{model.AppointmentStatusSkipped},
		to:   model.AppointmentStatusCheckedIn,
	},
	model.QueueActionCancel: {
		from: []model.AppointmentStatus{model.AppointmentStatusBooked, model.AppointmentStatusCheckedIn},
		to:   model.AppointmentStatusCancelled,
	},
}

// TransitionError is returned when an action is not allowed from the
// appointment's current status.
type TransitionError struct {
	Action  model.QueueAction
	Current model.AppointmentStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s an appointment that is %s", e.Action, e.Current)
}

// Next returns the status an action moves current to.
func Next(current model.AppointmentStatus, action model.QueueAction) (model.AppointmentStatus, error) {
	t, ok := transitions[action]
	if !ok {
		return "", fmt.Errorf("unknown appointment action %q", action)
	}
	for _, s := range t.from {
		if s == current {
			return t.to, nil
		}
	}
	return "", &TransitionError{Action: action, Current: current}
}

// Apply returns a copy of a with the action's status and timestamp effects.
// a itself is left untouched. Token assignment is the store's job.
func Apply(a *model.Appointment, action model.QueueAction, at time.Time) (*model.Appointment, error) {
	to, err := Next(a.Status, action)
	if err != nil {
		return nil, err
	}

	next := a.Clone()
	next.Status = to

	switch action {
	case model.QueueActionCheckIn:
		next.CheckInTime = &at
	case model.QueueActionStart:
		next.ConsultationStartTime = &at
		next.ConsultationEndTime = nil
	case model.QueueActionComplete:
		next.ConsultationEndTime = &at
	case model.QueueActionSkip:
		next.SkipCount++
		next.LastSkippedAt = &at
	}
	return next, nil
}
