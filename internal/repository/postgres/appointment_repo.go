package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmehra2102/prod-golang-projects/medbook/internal/domain/appointment"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const (
	codeLockNotAvailable     = "55P03"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// AppointmentStore persists appointments in Postgres. WithinLock runs the unit of work in a
// transaction holding one transaction-scoped advisory lock per participant key.
type AppointmentStore struct {
	db          *gorm.DB
	lockTimeout time.Duration
}

var _ appointment.Store = (*AppointmentStore)(nil)

func NewAppointmentStore(db *gorm.DB, lockTimeout time.Duration) *AppointmentStore {
	return &AppointmentStore{db: db, lockTimeout: lockTimeout}
}

func (s *AppointmentStore) WithinLock(ctx context.Context, keys []appointment.LockKey, fn func(ctx context.Context, repo appointment.Repository) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT set_config('lock_timeout', ?, true)", fmt.Sprintf("%dms", s.lockTimeout.Milliseconds())).Error; err != nil {
			return fmt.Errorf("setting lock timeout: %w", err)
		}

		for _, key := range appointment.SortKeys(keys) {
			if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtextextended(?, 0))", string(key)).Error; err != nil {
				return fmt.Errorf("locking %s: %w", key, err)
			}
		}

		return fn(ctx, &appointmentRepo{db: tx})
	})
	return translate(err)
}

func (s *AppointmentStore) repo(ctx context.Context) *appointmentRepo {
	return &appointmentRepo{db: s.db.WithContext(ctx)}
}

func (s *AppointmentStore) GetByID(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	return s.repo(ctx).GetByID(ctx, id)
}

func (s *AppointmentStore) ListByDoctor(ctx context.Context, doctorID uuid.UUID, f appointment.ListFilter) ([]*appointment.Appointment, error) {
	return s.repo(ctx).ListByDoctor(ctx, doctorID, f)
}

func (s *AppointmentStore) ListByPatient(ctx context.Context, patientID uuid.UUID, f appointment.ListFilter) ([]*appointment.Appointment, error) {
	return s.repo(ctx).ListByPatient(ctx, patientID, f)
}

func (s *AppointmentStore) Insert(ctx context.Context, a *appointment.Appointment) error {
	return translate(s.repo(ctx).Insert(ctx, a))
}

func (s *AppointmentStore) Update(ctx context.Context, a *appointment.Appointment) error {
	return translate(s.repo(ctx).Update(ctx, a))
}

func (s *AppointmentStore) Delete(ctx context.Context, id uuid.UUID) error {
	return translate(s.repo(ctx).Delete(ctx, id))
}

// translate folds lock waits that ran out and aborted transactions into ErrBusy.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeLockNotAvailable, codeSerializationFailure, codeDeadlockDetected:
			return fmt.Errorf("%w: %s", appointment.ErrBusy, pgErr.Message)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return appointment.ErrBusy
	}
	return err
}

type appointmentRepo struct {
	db *gorm.DB
}

func normalize(a *appointment.Appointment) *appointment.Appointment {
	a.ScheduledAt = a.ScheduledAt.UTC()
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return a
}

func (r *appointmentRepo) GetByID(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	var a appointment.Appointment
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&a).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, appointment.ErrAppointmentNotFound
		}
		return nil, fmt.Errorf("fetching appointment %s: %w", id, err)
	}
	return normalize(&a), nil
}

func (r *appointmentRepo) ListByDoctor(ctx context.Context, doctorID uuid.UUID, f appointment.ListFilter) ([]*appointment.Appointment, error) {
	return r.list(ctx, "doctor_id = ?", doctorID, f)
}

func (r *appointmentRepo) ListByPatient(ctx context.Context, patientID uuid.UUID, f appointment.ListFilter) ([]*appointment.Appointment, error) {
	return r.list(ctx, "patient_id = ?", patientID, f)
}

func (r *appointmentRepo) list(ctx context.Context, owner string, ownerID uuid.UUID, f appointment.ListFilter) ([]*appointment.Appointment, error) {
	q := r.db.WithContext(ctx).Model(&appointment.Appointment{}).Where(owner, ownerID)

	if f.ExcludeID != uuid.Nil {
		q = q.Where("id <> ?", f.ExcludeID)
	}
	if w := f.Overlapping; w != nil {
		// The lower bound lets the (owner, scheduled_at) index cut the scan; no slot
		// is longer than MaxDurationMins.
		q = q.Where("scheduled_at < ? AND scheduled_at + duration_mins * interval '1 minute' > ? AND scheduled_at > ?",
			w.End, w.Start, w.Start.Add(-appointment.MaxDurationMins*time.Minute))
	}

	var rows []*appointment.Appointment
	if err := q.Order("scheduled_at ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing appointments: %w", err)
	}

	out := make([]*appointment.Appointment, 0, len(rows))
	for _, a := range rows {
		a = normalize(a)
		// Re-checked in Go so half-open semantics do not depend on SQL arithmetic.
		if f.Keep(a) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *appointmentRepo) Insert(ctx context.Context, a *appointment.Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Create(a).Error; err != nil {
		return fmt.Errorf("inserting appointment: %w", err)
	}
	normalize(a)
	return nil
}

func (r *appointmentRepo) Update(ctx context.Context, a *appointment.Appointment) error {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).
		Model(&appointment.Appointment{}).
		Where("id = ?", a.ID).
		Updates(map[string]any{
			"patient_id":    a.PatientID,
			"doctor_id":     a.DoctorID,
			"scheduled_at":  a.ScheduledAt,
			"duration_mins": a.DurationMins,
			"title":         a.Title,
			"description":   a.Description,
			"updated_at":    now,
		})
	if res.Error != nil {
		return fmt.Errorf("updating appointment %s: %w", a.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return appointment.ErrAppointmentNotFound
	}
	a.UpdatedAt = now
	return nil
}

func (r *appointmentRepo) Delete(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&appointment.Appointment{})
	if res.Error != nil {
		return fmt.Errorf("deleting appointment %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return appointment.ErrAppointmentNotFound
	}
	return nil
}
