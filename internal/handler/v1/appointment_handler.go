package v1

import (
	"math"
	"net/http"
	"time"

	"github.com/dmehra2102/prod-golang-projects/medbook/internal/domain/appointment"
	"github.com/dmehra2102/prod-golang-projects/medbook/internal/middleware"
	"github.com/dmehra2102/prod-golang-projects/medbook/internal/service"
	"github.com/dmehra2102/prod-golang-projects/medbook/internal/timezone"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type CreateAppointmentRequest struct {
	DoctorID     uuid.UUID `json:"doctor_id" binding:"required"`
	ScheduledAt  string    `json:"scheduled_at" binding:"required"`
	DurationMins *int      `json:"duration_mins"`
	Title        string    `json:"title" binding:"required,max=200"`
	Description  string    `json:"description"`
}

type RescheduleAppointmentRequest struct {
	DoctorID     *uuid.UUID `json:"doctor_id"`
	ScheduledAt  *string    `json:"scheduled_at"`
	DurationMins *int       `json:"duration_mins"`
	Title        *string    `json:"title" binding:"omitempty,max=200"`
	Description  *string    `json:"description"`
}

type AppointmentResponse struct {
	ID           uuid.UUID `json:"id"`
	PatientID    uuid.UUID `json:"patient_id"`
	DoctorID     uuid.UUID `json:"doctor_id"`
	Title        string    `json:"title"`
	Description  string    `json:"description,omitempty"`
	ScheduledAt  time.Time `json:"scheduled_at"`
	EndsAt       time.Time `json:"ends_at"`
	DurationMins int       `json:"duration_mins"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func toResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:           a.ID,
		PatientID:    a.PatientID,
		DoctorID:     a.DoctorID,
		Title:        a.Title,
		Description:  a.Description,
		ScheduledAt:  a.ScheduledAt,
		EndsAt:       a.EndsAt(),
		DurationMins: a.DurationMins,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
}

func toResponses(list []*appointment.Appointment) []AppointmentResponse {
	out := make([]AppointmentResponse, len(list))
	for i, a := range list {
		out[i] = toResponse(a)
	}
	return out
}

type AppointmentHandler struct {
	svc        *service.BookingService
	retryAfter int
	log        *zap.Logger
}

// NewAppointmentHandler advertises lockTimeout, rounded up to whole seconds, as Retry-After
// on busy responses.
func NewAppointmentHandler(svc *service.BookingService, lockTimeout time.Duration, log *zap.Logger) *AppointmentHandler {
	retryAfter := int(math.Ceil(lockTimeout.Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return &AppointmentHandler{svc: svc, retryAfter: retryAfter, log: log}
}

func (h *AppointmentHandler) fail(c *gin.Context, err error) {
	respondServiceError(c, h.log, err, h.retryAfter)
}

func (h *AppointmentHandler) Create(c *gin.Context) {
	var req CreateAppointmentRequest
	if !bindJSON(c, &req) {
		return
	}

	start, err := timezone.Parse(req.ScheduledAt)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid scheduled_at: "+err.Error())
		return
	}
	duration := appointment.DefaultDurationMins
	if req.DurationMins != nil {
		duration = *req.DurationMins
	}

	caller := middleware.ClaimsFrom(c)
	a, err := h.svc.CreateBooking(c.Request.Context(), &appointment.CreateAppointmentCommand{
		PatientID:    caller.UserID,
		DoctorID:     req.DoctorID,
		ScheduledAt:  start,
		DurationMins: duration,
		Title:        req.Title,
		Description:  req.Description,
	}, caller)
	if err != nil {
		h.fail(c, err)
		return
	}

	respondCreated(c, toResponse(a))
}

func (h *AppointmentHandler) Reschedule(c *gin.Context) {
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	var req RescheduleAppointmentRequest
	if !bindJSON(c, &req) {
		return
	}

	cmd := &appointment.RescheduleAppointmentCommand{
		DoctorID:     req.DoctorID,
		DurationMins: req.DurationMins,
		Title:        req.Title,
		Description:  req.Description,
	}
	if req.ScheduledAt != nil {
		start, err := timezone.Parse(*req.ScheduledAt)
		if err != nil {
			respondError(c, http.StatusBadRequest, "invalid scheduled_at: "+err.Error())
			return
		}
		cmd.ScheduledAt = &start
	}

	caller := middleware.ClaimsFrom(c)
	a, err := h.svc.RescheduleBooking(c.Request.Context(), id, caller.UserID, cmd)
	if err != nil {
		h.fail(c, err)
		return
	}

	respondOK(c, toResponse(a))
}

func (h *AppointmentHandler) Delete(c *gin.Context) {
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	caller := middleware.ClaimsFrom(c)
	if err := h.svc.DeleteBooking(c.Request.Context(), id, caller.UserID); err != nil {
		h.fail(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *AppointmentHandler) Get(c *gin.Context) {
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	a, err := h.svc.GetBooking(c.Request.Context(), id, middleware.ClaimsFrom(c))
	if err != nil {
		h.fail(c, err)
		return
	}

	respondOK(c, toResponse(a))
}

func (h *AppointmentHandler) List(c *gin.Context) {
	list, err := h.svc.ListBookings(c.Request.Context(), middleware.ClaimsFrom(c))
	if err != nil {
		h.fail(c, err)
		return
	}

	respondOK(c, toResponses(list))
}

func (h *AppointmentHandler) ListForDoctor(c *gin.Context) {
	doctorID, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	list, err := h.svc.ListDoctorBookings(c.Request.Context(), doctorID, middleware.ClaimsFrom(c))
	if err != nil {
		h.fail(c, err)
		return
	}

	respondOK(c, toResponses(list))
}
