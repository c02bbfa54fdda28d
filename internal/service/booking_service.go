package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmehra2102/prod-golang-projects/medbook/internal/config"
	"github.com/dmehra2102/prod-golang-projects/medbook/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/medbook/internal/domain/appointment"
	"github.com/dmehra2102/prod-golang-projects/medbook/internal/timezone"
	"github.com/dmehra2102/prod-golang-projects/medbook/pkg/metrics"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	opCreate     = "create"
	opReschedule = "reschedule"
	opDelete     = "delete"

	resourceAppointment = "appointment"
)

// errStaleRead aborts a reschedule attempt whose locked re-read no longer matches the
// record the locks were chosen from.
var errStaleRead = errors.New("appointment changed before its participants were locked")

// BookingService coordinates every write to the shared appointment store. Each write runs
// inside a unit of work that holds the serialization points of the participants involved,
// so conflict checks and the write they guard cannot interleave with another writer for
// the same doctor or patient.
type BookingService struct {
	store    appointment.Store
	cfg      config.BookingConfig
	clock    timezone.Clock
	auditSvc *AuditService
	metrics  *metrics.Collector
	tracer   trace.Tracer
	log      *zap.Logger
}

func NewBookingService(
	store appointment.Store,
	cfg config.BookingConfig,
	clock timezone.Clock,
	auditSvc *AuditService,
	m *metrics.Collector,
	log *zap.Logger,
) *BookingService {
	if clock == nil {
		clock = timezone.System
	}
	if cfg.MaxRescheduleAttempts < 1 {
		cfg.MaxRescheduleAttempts = 1
	}
	return &BookingService{
		store:    store,
		cfg:      cfg,
		clock:    clock,
		auditSvc: auditSvc,
		metrics:  m,
		tracer:   otel.Tracer("medbook/service/booking"),
		log:      log,
	}
}

func (s *BookingService) CreateBooking(
	ctx context.Context,
	cmd *appointment.CreateAppointmentCommand,
	caller *domain.Claims,
) (a *appointment.Appointment, err error) {
	ctx, span := s.tracer.Start(ctx, "BookingService.CreateBooking")
	defer func() { s.finish(span, opCreate, err) }()

	if !caller.IsPatient() || caller.UserID != cmd.PatientID {
		return nil, ErrForbidden
	}

	candidate := &appointment.Appointment{
		ID:           uuid.New(),
		PatientID:    cmd.PatientID,
		DoctorID:     cmd.DoctorID,
		ScheduledAt:  timezone.Normalize(cmd.ScheduledAt),
		DurationMins: cmd.DurationMins,
		Title:        cmd.Title,
		Description:  cmd.Description,
	}
	if err := s.validateParticipants(candidate.DoctorID, candidate.PatientID); err != nil {
		return nil, err
	}
	if err := s.validateDuration(candidate.DurationMins); err != nil {
		return nil, err
	}
	if err := s.validateStart(candidate.ScheduledAt); err != nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.String("appointment.id", candidate.ID.String()),
		attribute.String("appointment.doctor_id", candidate.DoctorID.String()),
	)

	err = s.withinLock(ctx, opCreate, participantKeys(candidate), func(ctx context.Context, repo appointment.Repository) error {
		if err := s.checkConflicts(ctx, repo, candidate); err != nil {
			return err
		}
		if err := repo.Insert(ctx, candidate); err != nil {
			return fmt.Errorf("inserting appointment: %w", err)
		}
		return nil
	})
	if err != nil {
		s.reportFailure(ctx, opCreate, candidate, caller.UserID, caller.Role, err)
		return nil, err
	}

	s.log.Info("appointment booked",
		zap.String("appointment_id", candidate.ID.String()),
		zap.String("doctor_id", candidate.DoctorID.String()),
		zap.Time("scheduled_at", candidate.ScheduledAt),
		zap.Int("duration_mins", candidate.DurationMins),
	)
	s.auditSvc.LogAsync(ctx, AuditEntry{
		UserID:       caller.UserID,
		UserRole:     caller.Role,
		Action:       domain.ActionCreate,
		ResourceType: resourceAppointment,
		ResourceID:   candidate.ID.String(),
		Changes: map[string]any{
			"doctor_id":     candidate.DoctorID,
			"scheduled_at":  candidate.ScheduledAt,
			"duration_mins": candidate.DurationMins,
		},
	})

	return candidate, nil
}

func (s *BookingService) RescheduleBooking(
	ctx context.Context,
	id uuid.UUID,
	patientID uuid.UUID,
	cmd *appointment.RescheduleAppointmentCommand,
) (a *appointment.Appointment, err error) {
	ctx, span := s.tracer.Start(ctx, "BookingService.RescheduleBooking",
		trace.WithAttributes(attribute.String("appointment.id", id.String())))
	defer func() { s.finish(span, opReschedule, err) }()

	cmd = normalizeReschedule(cmd)
	if cmd.DoctorID != nil {
		if err := s.validateParticipants(*cmd.DoctorID, patientID); err != nil {
			return nil, err
		}
	}
	if cmd.DurationMins != nil {
		if err := s.validateDuration(*cmd.DurationMins); err != nil {
			return nil, err
		}
	}
	if cmd.ScheduledAt != nil {
		if err := s.validateStart(*cmd.ScheduledAt); err != nil {
			return nil, err
		}
	}

	var updated *appointment.Appointment
	for attempt := 1; attempt <= s.cfg.MaxRescheduleAttempts; attempt++ {
		current, err := s.store.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if !current.IsOwnedBy(patientID) {
			return nil, ErrForbidden
		}

		planned := cmd.ApplyTo(current)
		err = s.withinLock(ctx, opReschedule, participantKeys(planned), func(ctx context.Context, repo appointment.Repository) error {
			locked, err := repo.GetByID(ctx, id)
			if err != nil {
				return err
			}
			if !locked.IsOwnedBy(patientID) {
				return ErrForbidden
			}
			next := cmd.ApplyTo(locked)
			if next.DoctorID != planned.DoctorID {
				return errStaleRead
			}

			if cmd.TouchesSchedule() {
				if err := s.checkConflicts(ctx, repo, next); err != nil {
					return err
				}
			}
			if err := repo.Update(ctx, next); err != nil {
				return fmt.Errorf("updating appointment: %w", err)
			}
			updated = next
			return nil
		})
		if errors.Is(err, errStaleRead) {
			s.log.Debug("appointment changed while acquiring locks, retrying",
				zap.String("appointment_id", id.String()),
				zap.Int("attempt", attempt),
			)
			continue
		}
		if err != nil {
			s.reportFailure(ctx, opReschedule, planned, patientID, domain.RolePatient, err)
			return nil, err
		}
		break
	}
	if updated == nil {
		s.log.Warn("reschedule gave up after repeated concurrent changes",
			zap.String("appointment_id", id.String()),
			zap.Int("attempts", s.cfg.MaxRescheduleAttempts),
		)
		return nil, appointment.ErrBusy
	}

	changes := map[string]any{}
	if cmd.DoctorID != nil {
		changes["doctor_id"] = updated.DoctorID
	}
	if cmd.ScheduledAt != nil {
		changes["scheduled_at"] = updated.ScheduledAt
	}
	if cmd.DurationMins != nil {
		changes["duration_mins"] = updated.DurationMins
	}
	if cmd.Title != nil {
		changes["title"] = updated.Title
	}
	if cmd.Description != nil {
		changes["description"] = updated.Description
	}

	s.log.Info("appointment rescheduled",
		zap.String("appointment_id", id.String()),
		zap.Time("scheduled_at", updated.ScheduledAt),
		zap.Int("duration_mins", updated.DurationMins),
	)
	s.auditSvc.LogAsync(ctx, AuditEntry{
		UserID:       patientID,
		UserRole:     domain.RolePatient,
		Action:       domain.ActionReschedule,
		ResourceType: resourceAppointment,
		ResourceID:   id.String(),
		Changes:      changes,
	})

	return updated, nil
}

func (s *BookingService) DeleteBooking(ctx context.Context, id uuid.UUID, patientID uuid.UUID) (err error) {
	ctx, span := s.tracer.Start(ctx, "BookingService.DeleteBooking",
		trace.WithAttributes(attribute.String("appointment.id", id.String())))
	defer func() { s.finish(span, opDelete, err) }()

	keys := []appointment.LockKey{appointment.PatientKey(patientID)}
	err = s.withinLock(ctx, opDelete, keys, func(ctx context.Context, repo appointment.Repository) error {
		a, err := repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if !a.IsOwnedBy(patientID) {
			return ErrForbidden
		}
		return repo.Delete(ctx, id)
	})
	if err != nil {
		return err
	}

	s.log.Info("appointment deleted", zap.String("appointment_id", id.String()))
	s.auditSvc.LogAsync(ctx, AuditEntry{
		UserID:       patientID,
		UserRole:     domain.RolePatient,
		Action:       domain.ActionDelete,
		ResourceType: resourceAppointment,
		ResourceID:   id.String(),
	})
	return nil
}

// GetBooking returns one appointment to its patient or its doctor.
func (s *BookingService) GetBooking(ctx context.Context, id uuid.UUID, caller *domain.Claims) (*appointment.Appointment, error) {
	ctx, span := s.tracer.Start(ctx, "BookingService.GetBooking")
	defer span.End()

	a, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case caller.IsPatient() && a.PatientID == caller.UserID:
	case caller.IsDoctor() && a.DoctorID == caller.UserID:
	default:
		return nil, ErrForbidden
	}

	s.auditSvc.LogAsync(ctx, AuditEntry{
		UserID:       caller.UserID,
		UserRole:     caller.Role,
		Action:       domain.ActionRead,
		ResourceType: resourceAppointment,
		ResourceID:   id.String(),
	})
	return a, nil
}

// ListBookings returns the caller's own schedule: booked appointments for a patient,
// assigned ones for a doctor.
func (s *BookingService) ListBookings(ctx context.Context, caller *domain.Claims) ([]*appointment.Appointment, error) {
	ctx, span := s.tracer.Start(ctx, "BookingService.ListBookings")
	defer span.End()

	switch {
	case caller.IsPatient():
		return s.store.ListByPatient(ctx, caller.UserID, appointment.ListFilter{})
	case caller.IsDoctor():
		return s.store.ListByDoctor(ctx, caller.UserID, appointment.ListFilter{})
	}
	return nil, ErrForbidden
}

// ListDoctorBookings lets a doctor read their own schedule by id.
func (s *BookingService) ListDoctorBookings(ctx context.Context, doctorID uuid.UUID, caller *domain.Claims) ([]*appointment.Appointment, error) {
	ctx, span := s.tracer.Start(ctx, "BookingService.ListDoctorBookings")
	defer span.End()

	if !caller.IsDoctor() || caller.UserID != doctorID {
		return nil, ErrForbidden
	}
	return s.store.ListByDoctor(ctx, doctorID, appointment.ListFilter{})
}

// checkConflicts evaluates the doctor's and the patient's schedules independently and
// reports every participant that rejects the slot. a itself is filtered out so a record
// never conflicts with its own current slot.
func (s *BookingService) checkConflicts(ctx context.Context, repo appointment.Repository, a *appointment.Appointment) error {
	slot, err := appointment.NewInterval(a.ScheduledAt, a.DurationMins)
	if err != nil {
		return fmt.Errorf("%w: %w", appointment.ErrInvalidDuration, err)
	}
	filter := appointment.ListFilter{Overlapping: &slot, ExcludeID: a.ID}

	doctorSchedule, err := repo.ListByDoctor(ctx, a.DoctorID, filter)
	if err != nil {
		return fmt.Errorf("loading doctor schedule: %w", err)
	}
	patientSchedule, err := repo.ListByPatient(ctx, a.PatientID, filter)
	if err != nil {
		return fmt.Errorf("loading patient schedule: %w", err)
	}

	var reasons []appointment.ConflictReason
	if len(appointment.FindConflicts(slot, doctorSchedule)) > 0 {
		reasons = append(reasons, appointment.ReasonDoctorBusy)
	}
	if len(appointment.FindConflicts(slot, patientSchedule)) > 0 {
		reasons = append(reasons, appointment.ReasonPatientBusy)
	}
	if len(reasons) > 0 {
		return &appointment.ConflictError{Reasons: reasons}
	}
	return nil
}

func (s *BookingService) withinLock(
	ctx context.Context,
	op string,
	keys []appointment.LockKey,
	fn func(ctx context.Context, repo appointment.Repository) error,
) error {
	start := time.Now()
	err := s.store.WithinLock(ctx, keys, fn)
	s.metrics.LockWaitDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	return err
}

func (s *BookingService) validateParticipants(doctorID, patientID uuid.UUID) error {
	if doctorID == uuid.Nil || patientID == uuid.Nil {
		return appointment.ErrMissingParticipant
	}
	return nil
}

func (s *BookingService) validateDuration(mins int) error {
	if mins < appointment.MinDurationMins || mins > appointment.MaxDurationMins {
		return appointment.ErrInvalidDuration
	}
	return nil
}

func (s *BookingService) validateStart(start time.Time) error {
	if !start.After(s.clock.Now()) {
		return appointment.ErrScheduledInPast
	}
	return nil
}

// reportFailure logs and audits a rejected write at the level its cause deserves.
func (s *BookingService) reportFailure(ctx context.Context, op string, a *appointment.Appointment, userID uuid.UUID, role domain.Role, err error) {
	fields := []zap.Field{
		zap.String("operation", op),
		zap.String("appointment_id", a.ID.String()),
		zap.String("doctor_id", a.DoctorID.String()),
		zap.Error(err),
	}

	var conflict *appointment.ConflictError
	switch {
	case errors.As(err, &conflict):
		reasons := make([]string, len(conflict.Reasons))
		for i, r := range conflict.Reasons {
			reasons[i] = string(r)
			s.metrics.ConflictReasons.WithLabelValues(string(r)).Inc()
		}
		s.log.Info("slot rejected", fields...)
		s.auditSvc.LogAsync(ctx, AuditEntry{
			UserID:       userID,
			UserRole:     role,
			Action:       domain.ActionConflict,
			ResourceType: resourceAppointment,
			ResourceID:   a.ID.String(),
			Changes: map[string]any{
				"operation":     op,
				"reasons":       reasons,
				"doctor_id":     a.DoctorID,
				"scheduled_at":  a.ScheduledAt,
				"duration_mins": a.DurationMins,
			},
		})
	case errors.Is(err, appointment.ErrBusy):
		s.log.Warn("participant schedule busy", fields...)
	case errors.Is(err, appointment.ErrAppointmentNotFound), errors.Is(err, ErrForbidden):
		s.log.Debug("write refused", fields...)
	default:
		s.log.Error("booking write failed", fields...)
	}
}

func (s *BookingService) finish(span trace.Span, op string, err error) {
	outcome := outcomeOf(err)
	s.metrics.BookingsTotal.WithLabelValues(op, outcome).Inc()
	span.SetAttributes(attribute.String("booking.outcome", outcome))
	if outcome == metrics.OutcomeError {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, appointment.ErrAppointmentConflict):
		return metrics.OutcomeConflict
	case errors.Is(err, appointment.ErrInvalidRequest):
		return metrics.OutcomeInvalid
	case errors.Is(err, appointment.ErrBusy):
		return metrics.OutcomeBusy
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		return metrics.OutcomeNotFound
	case errors.Is(err, ErrForbidden):
		return metrics.OutcomeForbidden
	}
	return metrics.OutcomeError
}

func participantKeys(a *appointment.Appointment) []appointment.LockKey {
	return []appointment.LockKey{appointment.DoctorKey(a.DoctorID), appointment.PatientKey(a.PatientID)}
}

func normalizeReschedule(cmd *appointment.RescheduleAppointmentCommand) *appointment.RescheduleAppointmentCommand {
	c := *cmd
	if c.ScheduledAt != nil {
		start := timezone.Normalize(*c.ScheduledAt)
		c.ScheduledAt = &start
	}
	return &c
}
