package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dmehra2102/prod-golang-projects/medbook/internal/domain/appointment"
	"github.com/google/uuid"
)

// Store is a process-local appointment.Store. It serializes units of work per
// participant with keyed semaphores and applies their writes only on commit.
type Store struct {
	mu   sync.RWMutex
	rows map[uuid.UUID]*appointment.Appointment

	locks       *keyedLocks
	lockTimeout time.Duration
	now         func() time.Time
}

var _ appointment.Store = (*Store)(nil)

func NewStore(lockTimeout time.Duration) *Store {
	return &Store{
		rows:        make(map[uuid.UUID]*appointment.Appointment),
		locks:       newKeyedLocks(),
		lockTimeout: lockTimeout,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func clone(a *appointment.Appointment) *appointment.Appointment {
	c := *a
	return &c
}

func sortByStart(out []*appointment.Appointment) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].ScheduledAt.Equal(out[j].ScheduledAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].ScheduledAt.Before(out[j].ScheduledAt)
	})
}

func (s *Store) GetByID(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.rows[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	return clone(a), nil
}

func (s *Store) ListByDoctor(_ context.Context, doctorID uuid.UUID, f appointment.ListFilter) ([]*appointment.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.list(func(a *appointment.Appointment) bool { return a.DoctorID == doctorID }, f), nil
}

func (s *Store) ListByPatient(_ context.Context, patientID uuid.UUID, f appointment.ListFilter) ([]*appointment.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.list(func(a *appointment.Appointment) bool { return a.PatientID == patientID }, f), nil
}

// list expects s.mu to be held.
func (s *Store) list(match func(*appointment.Appointment) bool, f appointment.ListFilter) []*appointment.Appointment {
	out := make([]*appointment.Appointment, 0)
	for _, a := range s.rows {
		if match(a) && f.Keep(a) {
			out = append(out, clone(a))
		}
	}
	sortByStart(out)
	return out
}

func (s *Store) Insert(ctx context.Context, a *appointment.Appointment) error {
	return s.WithinLock(ctx, nil, func(ctx context.Context, repo appointment.Repository) error {
		return repo.Insert(ctx, a)
	})
}

func (s *Store) Update(ctx context.Context, a *appointment.Appointment) error {
	return s.WithinLock(ctx, nil, func(ctx context.Context, repo appointment.Repository) error {
		return repo.Update(ctx, a)
	})
}

func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	return s.WithinLock(ctx, nil, func(ctx context.Context, repo appointment.Repository) error {
		return repo.Delete(ctx, id)
	})
}

func (s *Store) WithinLock(ctx context.Context, keys []appointment.LockKey, fn func(ctx context.Context, repo appointment.Repository) error) error {
	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	release, err := s.locks.acquire(lockCtx, appointment.SortKeys(keys))
	cancel()
	if err != nil {
		return err
	}
	defer release()

	tx := newTx(s)
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.commit(tx)
	return nil
}

func (s *Store) commit(tx *tx) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range tx.deleted {
		delete(s.rows, id)
	}
	for id, a := range tx.staged {
		s.rows[id] = a
	}
}

// tx is the Repository view handed to a unit of work. Reads see the committed rows
// overlaid with the unit's own pending writes.
type tx struct {
	store   *Store
	staged  map[uuid.UUID]*appointment.Appointment
	deleted map[uuid.UUID]struct{}
}

func newTx(s *Store) *tx {
	return &tx{
		store:   s,
		staged:  make(map[uuid.UUID]*appointment.Appointment),
		deleted: make(map[uuid.UUID]struct{}),
	}
}

func (t *tx) lookup(id uuid.UUID) (*appointment.Appointment, bool) {
	if _, gone := t.deleted[id]; gone {
		return nil, false
	}
	if a, ok := t.staged[id]; ok {
		return a, true
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	a, ok := t.store.rows[id]
	return a, ok
}

func (t *tx) GetByID(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	a, ok := t.lookup(id)
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	return clone(a), nil
}

func (t *tx) ListByDoctor(_ context.Context, doctorID uuid.UUID, f appointment.ListFilter) ([]*appointment.Appointment, error) {
	return t.list(func(a *appointment.Appointment) bool { return a.DoctorID == doctorID }, f), nil
}

func (t *tx) ListByPatient(_ context.Context, patientID uuid.UUID, f appointment.ListFilter) ([]*appointment.Appointment, error) {
	return t.list(func(a *appointment.Appointment) bool { return a.PatientID == patientID }, f), nil
}

func (t *tx) list(match func(*appointment.Appointment) bool, f appointment.ListFilter) []*appointment.Appointment {
	t.store.mu.RLock()
	view := make(map[uuid.UUID]*appointment.Appointment, len(t.store.rows)+len(t.staged))
	for id, a := range t.store.rows {
		view[id] = a
	}
	t.store.mu.RUnlock()

	for id, a := range t.staged {
		view[id] = a
	}
	for id := range t.deleted {
		delete(view, id)
	}

	out := make([]*appointment.Appointment, 0)
	for _, a := range view {
		if match(a) && f.Keep(a) {
			out = append(out, clone(a))
		}
	}
	sortByStart(out)
	return out
}

func (t *tx) Insert(_ context.Context, a *appointment.Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := t.store.now()
	a.CreatedAt = now
	a.UpdatedAt = now

	delete(t.deleted, a.ID)
	t.staged[a.ID] = clone(a)
	return nil
}

func (t *tx) Update(_ context.Context, a *appointment.Appointment) error {
	current, ok := t.lookup(a.ID)
	if !ok {
		return appointment.ErrAppointmentNotFound
	}
	a.CreatedAt = current.CreatedAt
	a.UpdatedAt = t.store.now()

	t.staged[a.ID] = clone(a)
	return nil
}

func (t *tx) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := t.lookup(id); !ok {
		return appointment.ErrAppointmentNotFound
	}
	delete(t.staged, id)
	t.deleted[id] = struct{}{}
	return nil
}
