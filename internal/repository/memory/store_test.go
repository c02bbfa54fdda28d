package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dmehra2102/prod-golang-projects/medbook/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/medbook/internal/domain/appointment"
	"github.com/google/uuid"
)

func at(hh, mm int) time.Time {
	return time.Date(2030, 3, 4, hh, mm, 0, 0, time.UTC)
}

func newAppt(doctor, patient uuid.UUID, start time.Time, mins int) *appointment.Appointment {
	return &appointment.Appointment{
		ID:           uuid.New(),
		DoctorID:     doctor,
		PatientID:    patient,
		ScheduledAt:  start,
		DurationMins: mins,
		Title:        "consultation",
	}
}

func TestStore_InsertAndRead(t *testing.T) {
	ctx := context.Background()
	s := NewStore(time.Second)
	doctor, patient := uuid.New(), uuid.New()

	late := newAppt(doctor, patient, at(11, 0), 30)
	early := newAppt(doctor, uuid.New(), at(9, 0), 30)
	for _, a := range []*appointment.Appointment{late, early} {
		if err := s.Insert(ctx, a); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	got, err := s.GetByID(ctx, late.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("expected timestamps to be stamped")
	}

	list, err := s.ListByDoctor(ctx, doctor, appointment.ListFilter{})
	if err != nil {
		t.Fatalf("ListByDoctor: %v", err)
	}
	if len(list) != 2 || list[0].ID != early.ID || list[1].ID != late.ID {
		t.Errorf("expected both appointments ordered by start, got %v", list)
	}

	list, _ = s.ListByPatient(ctx, patient, appointment.ListFilter{})
	if len(list) != 1 || list[0].ID != late.ID {
		t.Errorf("expected only the patient's appointment, got %v", list)
	}
}

func TestStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewStore(time.Second)
	a := newAppt(uuid.New(), uuid.New(), at(9, 0), 30)
	_ = s.Insert(ctx, a)

	got, _ := s.GetByID(ctx, a.ID)
	got.Title = "changed"

	again, _ := s.GetByID(ctx, a.ID)
	if again.Title != "consultation" {
		t.Errorf("caller mutation leaked into the store: %q", again.Title)
	}
}

func TestStore_UpdateAndDeleteMissing(t *testing.T) {
	ctx := context.Background()
	s := NewStore(time.Second)

	if err := s.Update(ctx, newAppt(uuid.New(), uuid.New(), at(9, 0), 30)); !errors.Is(err, appointment.ErrAppointmentNotFound) {
		t.Errorf("Update: expected not found, got %v", err)
	}
	if err := s.Delete(ctx, uuid.New()); !errors.Is(err, appointment.ErrAppointmentNotFound) {
		t.Errorf("Delete: expected not found, got %v", err)
	}
	if _, err := s.GetByID(ctx, uuid.New()); !errors.Is(err, appointment.ErrAppointmentNotFound) {
		t.Errorf("GetByID: expected not found, got %v", err)
	}
}

func TestWithinLock_RollbackDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	s := NewStore(time.Second)
	existing := newAppt(uuid.New(), uuid.New(), at(9, 0), 30)
	_ = s.Insert(ctx, existing)

	boom := errors.New("boom")
	fresh := newAppt(uuid.New(), uuid.New(), at(10, 0), 30)

	err := s.WithinLock(ctx, []appointment.LockKey{appointment.DoctorKey(fresh.DoctorID)}, func(ctx context.Context, repo appointment.Repository) error {
		if err := repo.Insert(ctx, fresh); err != nil {
			return err
		}
		if err := repo.Delete(ctx, existing.ID); err != nil {
			return err
		}
		// pending writes are visible inside the unit of work
		if _, err := repo.GetByID(ctx, fresh.ID); err != nil {
			t.Errorf("staged insert not visible: %v", err)
		}
		if _, err := repo.GetByID(ctx, existing.ID); !errors.Is(err, appointment.ErrAppointmentNotFound) {
			t.Errorf("staged delete not visible: %v", err)
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}

	if _, err := s.GetByID(ctx, fresh.ID); !errors.Is(err, appointment.ErrAppointmentNotFound) {
		t.Error("rolled back insert must not be visible")
	}
	if _, err := s.GetByID(ctx, existing.ID); err != nil {
		t.Errorf("rolled back delete must not apply: %v", err)
	}
}

func TestWithinLock_StagedListHonoursFilter(t *testing.T) {
	ctx := context.Background()
	s := NewStore(time.Second)
	doctor := uuid.New()
	committed := newAppt(doctor, uuid.New(), at(9, 0), 60)
	_ = s.Insert(ctx, committed)

	err := s.WithinLock(ctx, []appointment.LockKey{appointment.DoctorKey(doctor)}, func(ctx context.Context, repo appointment.Repository) error {
		moved := *committed
		moved.ScheduledAt = at(13, 0)
		if err := repo.Update(ctx, &moved); err != nil {
			return err
		}

		window := appointment.Interval{Start: at(9, 30), End: at(10, 0)}
		list, err := repo.ListByDoctor(ctx, doctor, appointment.ListFilter{Overlapping: &window})
		if err != nil {
			return err
		}
		if len(list) != 0 {
			t.Errorf("expected staged update to move the slot out of the window, got %v", list)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithinLock: %v", err)
	}

	got, _ := s.GetByID(ctx, committed.ID)
	if !got.ScheduledAt.Equal(at(13, 0)) {
		t.Errorf("expected committed update, got %s", got.ScheduledAt)
	}
}

func TestWithinLock_TimesOutWithBusy(t *testing.T) {
	s := NewStore(50 * time.Millisecond)
	key := appointment.DoctorKey(uuid.New())

	holding := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = s.WithinLock(context.Background(), []appointment.LockKey{key}, func(context.Context, appointment.Repository) error {
			close(holding)
			<-done
			return nil
		})
	}()
	<-holding

	ran := false
	err := s.WithinLock(context.Background(), []appointment.LockKey{key}, func(context.Context, appointment.Repository) error {
		ran = true
		return nil
	})
	close(done)

	if !errors.Is(err, appointment.ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if ran {
		t.Error("fn must not run without the lock")
	}
}

func TestWithinLock_CancelledContext(t *testing.T) {
	s := NewStore(time.Second)
	key := appointment.PatientKey(uuid.New())

	holding := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = s.WithinLock(context.Background(), []appointment.LockKey{key}, func(context.Context, appointment.Repository) error {
			close(holding)
			<-done
			return nil
		})
	}()
	<-holding
	defer close(done)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.WithinLock(ctx, []appointment.LockKey{key}, func(context.Context, appointment.Repository) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestWithinLock_DisjointKeysDoNotBlock(t *testing.T) {
	s := NewStore(time.Second)

	holding := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = s.WithinLock(context.Background(), []appointment.LockKey{appointment.DoctorKey(uuid.New())}, func(context.Context, appointment.Repository) error {
			close(holding)
			<-done
			return nil
		})
	}()
	<-holding
	defer close(done)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	err := s.WithinLock(ctx, []appointment.LockKey{appointment.DoctorKey(uuid.New())}, func(context.Context, appointment.Repository) error { return nil })
	if err != nil {
		t.Errorf("unrelated participant was blocked: %v", err)
	}
}

func TestWithinLock_SerializesSameKey(t *testing.T) {
	s := NewStore(5 * time.Second)
	key := appointment.DoctorKey(uuid.New())

	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.WithinLock(context.Background(), []appointment.LockKey{key}, func(context.Context, appointment.Repository) error {
				mu.Lock()
				inside++
				if inside > maxSeen {
					maxSeen = inside
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Errorf("expected at most one holder at a time, saw %d", maxSeen)
	}
	if n := s.locks.size(); n != 0 {
		t.Errorf("expected lock entries to be released, %d left", n)
	}
}

func TestAuditRepository(t *testing.T) {
	r := NewAuditRepository()
	_ = r.Create(context.Background(), &domain.AuditLog{Action: domain.ActionCreate, ResourceType: "appointment"})
	_ = r.Create(context.Background(), &domain.AuditLog{Action: domain.ActionDelete, ResourceType: "appointment"})

	got := r.Entries()
	if len(got) != 2 || got[0].Action != domain.ActionCreate || got[1].Action != domain.ActionDelete {
		t.Fatalf("unexpected entries %v", got)
	}
	if got[0].ID == uuid.Nil {
		t.Error("expected an id to be assigned")
	}
}
