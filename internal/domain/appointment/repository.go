package appointment

import (
	"context"
	"sort"

	"github.com/google/uuid"
)

// ListFilter narrows a participant's schedule. The zero value returns every appointment.
type ListFilter struct {
	// Overlapping keeps only appointments whose slot overlaps the window.
	Overlapping *Interval
	// ExcludeID drops one appointment, typically the one being rescheduled.
	ExcludeID uuid.UUID
}

// Keep reports whether a passes the filter. Stores that cannot express the filter in
// their query language apply it in memory with this method.
func (f ListFilter) Keep(a *Appointment) bool {
	if f.ExcludeID != uuid.Nil && a.ID == f.ExcludeID {
		return false
	}
	if f.Overlapping != nil && !f.Overlapping.Overlaps(a.Interval()) {
		return false
	}
	return true
}

type Repository interface {
	// GetByID returns ErrAppointmentNotFound when no row matches.
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// ListByDoctor returns the doctor's appointments ordered by start time.
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, f ListFilter) ([]*Appointment, error)

	// ListByPatient returns the patient's appointments ordered by start time.
	ListByPatient(ctx context.Context, patientID uuid.UUID, f ListFilter) ([]*Appointment, error)

	Insert(ctx context.Context, a *Appointment) error

	// Update returns ErrAppointmentNotFound when the row vanished.
	Update(ctx context.Context, a *Appointment) error

	// Delete returns ErrAppointmentNotFound when the row vanished.
	Delete(ctx context.Context, id uuid.UUID) error
}

// LockKey names one participant's serialization point.
type LockKey string

func DoctorKey(id uuid.UUID) LockKey  { return LockKey("doctor:" + id.String()) }
func PatientKey(id uuid.UUID) LockKey { return LockKey("patient:" + id.String()) }

// SortKeys dedups keys and orders them so every unit of work acquires locks in the same order.
func SortKeys(keys []LockKey) []LockKey {
	seen := make(map[LockKey]struct{}, len(keys))
	out := make([]LockKey, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Store is the shared appointment store.
type Store interface {
	Repository

	// WithinLock runs fn as one atomic unit of work that holds the serialization
	// points named by keys until it commits or rolls back. Reads and writes through
	// the Repository handed to fn belong to that unit of work. A non-nil error from fn
	// discards every write. Failing to obtain the locks in time yields ErrBusy.
	WithinLock(ctx context.Context, keys []LockKey, fn func(ctx context.Context, repo Repository) error) error
}
