package postgres_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/dmehra2102/prod-golang-projects/medbook/internal/domain/appointment"
	"github.com/dmehra2102/prod-golang-projects/medbook/internal/repository/postgres"
	"github.com/dmehra2102/prod-golang-projects/medbook/pkg/database"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func setup(t *testing.T, lockTimeout time.Duration) *postgres.AppointmentStore {
	t.Helper()
	_ = godotenv.Load("../../../.env")
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set")
	}

	db, err := database.Open(dbURL)
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	if err := database.Migrate(db, zap.NewNop()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return postgres.NewAppointmentStore(db, lockTimeout)
}

func slot(doctor, patient uuid.UUID, start time.Time, mins int) *appointment.Appointment {
	return &appointment.Appointment{
		DoctorID:     doctor,
		PatientID:    patient,
		ScheduledAt:  start,
		DurationMins: mins,
		Title:        "integration",
	}
}

func TestAppointmentStore_CRUD(t *testing.T) {
	s := setup(t, 2*time.Second)
	ctx := context.Background()
	doctor, patient := uuid.New(), uuid.New()
	start := time.Now().UTC().Add(48 * time.Hour).Truncate(time.Minute)

	a := slot(doctor, patient, start, 30)
	if err := s.Insert(ctx, a); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	t.Cleanup(func() { _ = s.Delete(context.Background(), a.ID) })

	got, err := s.GetByID(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.ScheduledAt.Location() != time.UTC || !got.ScheduledAt.Equal(start) {
		t.Errorf("expected UTC start %s, got %s", start, got.ScheduledAt)
	}

	got.DurationMins = 45
	if err := s.Update(ctx, got); err != nil {
		t.Fatalf("Update: %v", err)
	}
	again, _ := s.GetByID(ctx, a.ID)
	if again.DurationMins != 45 {
		t.Errorf("expected duration 45, got %d", again.DurationMins)
	}

	if err := s.Update(ctx, slot(doctor, patient, start, 30)); !errors.Is(err, appointment.ErrAppointmentNotFound) {
		t.Errorf("Update of unknown id: expected not found, got %v", err)
	}
	if err := s.Delete(ctx, uuid.New()); !errors.Is(err, appointment.ErrAppointmentNotFound) {
		t.Errorf("Delete of unknown id: expected not found, got %v", err)
	}
}

func TestAppointmentStore_OverlapFilter(t *testing.T) {
	s := setup(t, 2*time.Second)
	ctx := context.Background()
	doctor := uuid.New()
	base := time.Now().UTC().Add(72 * time.Hour).Truncate(time.Hour)

	long := slot(doctor, uuid.New(), base, 480)
	touching := slot(doctor, uuid.New(), base.Add(8*time.Hour), 30)
	for _, a := range []*appointment.Appointment{long, touching} {
		if err := s.Insert(ctx, a); err != nil {
			t.Fatalf("Insert: %v", err)
		}
		id := a.ID
		t.Cleanup(func() { _ = s.Delete(context.Background(), id) })
	}

	window := appointment.Interval{Start: base.Add(7 * time.Hour), End: base.Add(8 * time.Hour)}
	got, err := s.ListByDoctor(ctx, doctor, appointment.ListFilter{Overlapping: &window})
	if err != nil {
		t.Fatalf("ListByDoctor: %v", err)
	}
	if len(got) != 1 || got[0].ID != long.ID {
		t.Errorf("expected only the long slot, got %v", got)
	}

	got, _ = s.ListByDoctor(ctx, doctor, appointment.ListFilter{Overlapping: &window, ExcludeID: long.ID})
	if len(got) != 0 {
		t.Errorf("expected excluded slot to be dropped, got %v", got)
	}
}

func TestAppointmentStore_WithinLockRollsBack(t *testing.T) {
	s := setup(t, 2*time.Second)
	ctx := context.Background()
	a := slot(uuid.New(), uuid.New(), time.Now().UTC().Add(96*time.Hour), 30)
	boom := errors.New("boom")

	err := s.WithinLock(ctx, []appointment.LockKey{appointment.DoctorKey(a.DoctorID)}, func(ctx context.Context, repo appointment.Repository) error {
		if err := repo.Insert(ctx, a); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}
	if _, err := s.GetByID(ctx, a.ID); !errors.Is(err, appointment.ErrAppointmentNotFound) {
		t.Errorf("rolled back insert is visible: %v", err)
	}
}

func TestAppointmentStore_LockTimeoutIsBusy(t *testing.T) {
	s := setup(t, 100*time.Millisecond)
	key := appointment.DoctorKey(uuid.New())

	holding := make(chan struct{})
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = s.WithinLock(context.Background(), []appointment.LockKey{key}, func(context.Context, appointment.Repository) error {
			close(holding)
			<-done
			return nil
		})
	}()
	<-holding

	err := s.WithinLock(context.Background(), []appointment.LockKey{key}, func(context.Context, appointment.Repository) error {
		return nil
	})
	close(done)
	wg.Wait()

	if !errors.Is(err, appointment.ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
}
