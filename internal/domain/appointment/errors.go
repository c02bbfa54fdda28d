package appointment

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidRequest      = errors.New("invalid appointment request")
	ErrInvalidDuration     = fmt.Errorf("%w: duration must be between %d and %d minutes", ErrInvalidRequest, MinDurationMins, MaxDurationMins)
	ErrScheduledInPast     = fmt.Errorf("%w: appointment must be scheduled in the future", ErrInvalidRequest)
	ErrMissingParticipant  = fmt.Errorf("%w: doctor and patient are required", ErrInvalidRequest)
	ErrInvalidInterval     = errors.New("interval duration must be positive")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrAppointmentConflict = errors.New("appointment time slot is already booked")
	ErrBusy                = errors.New("participant schedule is busy, retry later")
)

type ConflictReason string

const (
	ReasonDoctorBusy  ConflictReason = "doctor-busy"
	ReasonPatientBusy ConflictReason = "patient-busy"
)

func (r ConflictReason) Message() string {
	switch r {
	case ReasonDoctorBusy:
		return "the doctor already has an appointment scheduled at that time"
	case ReasonPatientBusy:
		return "the patient already has an appointment scheduled at that time"
	}
	return string(r)
}

// ConflictError reports every participant whose schedule rejected the slot.
type ConflictError struct {
	Reasons []ConflictReason
}

func (e *ConflictError) Error() string {
	msgs := make([]string, len(e.Reasons))
	for i, r := range e.Reasons {
		msgs[i] = r.Message()
	}
	return ErrAppointmentConflict.Error() + ": " + strings.Join(msgs, "; ")
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrAppointmentConflict
}

func (e *ConflictError) Has(r ConflictReason) bool {
	for _, got := range e.Reasons {
		if got == r {
			return true
		}
	}
	return false
}
