package appointment

import (
	"time"

	"github.com/google/uuid"
)

const (
	MinDurationMins     = 1
	MaxDurationMins     = 480
	DefaultDurationMins = 30
)

type Appointment struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`

	PatientID uuid.UUID `gorm:"column:patient_id;type:uuid;not null;index"`
	DoctorID  uuid.UUID `gorm:"column:doctor_id;type:uuid;not null;index"`

	// ScheduledAt is always UTC.
	ScheduledAt  time.Time `gorm:"column:scheduled_at;type:timestamptz;not null;index"`
	DurationMins int       `gorm:"column:duration_mins;not null;default:30"`

	Title       string `gorm:"column:title;type:varchar(200);not null"`
	Description string `gorm:"column:description;type:text"`
}

func (Appointment) TableName() string {
	return "clinical.appointments"
}

// EndsAt is derived and never persisted.
func (a *Appointment) EndsAt() time.Time {
	return a.ScheduledAt.Add(time.Duration(a.DurationMins) * time.Minute)
}

// Interval returns the half-open slot the appointment occupies.
func (a *Appointment) Interval() Interval {
	return Interval{Start: a.ScheduledAt, End: a.EndsAt()}
}

func (a *Appointment) IsOwnedBy(patientID uuid.UUID) bool {
	return a.PatientID == patientID
}

func (a *Appointment) Involves(participantID uuid.UUID) bool {
	return a.PatientID == participantID || a.DoctorID == participantID
}

type CreateAppointmentCommand struct {
	PatientID    uuid.UUID
	DoctorID     uuid.UUID
	ScheduledAt  time.Time
	DurationMins int
	Title        string
	Description  string
}

// RescheduleAppointmentCommand carries a partial update; nil fields keep their current value.
type RescheduleAppointmentCommand struct {
	DoctorID     *uuid.UUID
	ScheduledAt  *time.Time
	DurationMins *int
	Title        *string
	Description  *string
}

// ApplyTo returns a copy of current with the command's fields merged in.
func (c *RescheduleAppointmentCommand) ApplyTo(current *Appointment) *Appointment {
	next := *current
	if c.DoctorID != nil {
		next.DoctorID = *c.DoctorID
	}
	if c.ScheduledAt != nil {
		next.ScheduledAt = *c.ScheduledAt
	}
	if c.DurationMins != nil {
		next.DurationMins = *c.DurationMins
	}
	if c.Title != nil {
		next.Title = *c.Title
	}
	if c.Description != nil {
		next.Description = *c.Description
	}
	return &next
}

// TouchesSchedule reports whether the command changes when or with whom the appointment happens.
func (c *RescheduleAppointmentCommand) TouchesSchedule() bool {
	return c.DoctorID != nil || c.ScheduledAt != nil || c.DurationMins != nil
}
