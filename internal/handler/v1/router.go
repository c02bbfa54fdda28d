package v1

import (
	"net/http"

	"github.com/dmehra2102/prod-golang-projects/medbook/internal/config"
	"github.com/dmehra2102/prod-golang-projects/medbook/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/medbook/internal/middleware"
	"github.com/dmehra2102/prod-golang-projects/medbook/internal/service"
	"github.com/dmehra2102/prod-golang-projects/medbook/pkg/metrics"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type RouterDeps struct {
	Config      *config.Config
	Bookings    *service.BookingService
	Tokens      middleware.TokenValidator
	RateLimiter *middleware.RateLimiter
	Metrics     *metrics.Collector
	Log         *zap.Logger
}

func NewRouter(d RouterDeps) *gin.Engine {
	if d.Config.App.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(
		middleware.Recovery(d.Log),
		middleware.RequestID(),
		middleware.Metrics(d.Metrics),
		middleware.Logger(d.Log),
	)

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service": d.Config.App.Name,
			"version": d.Config.App.Version,
			"store":   d.Config.Booking.Store,
		})
	})
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": d.Config.App.Name})
	})
	r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))

	appointments := NewAppointmentHandler(d.Bookings, d.Config.Booking.LockTimeout, d.Log)

	api := r.Group("/api/v1",
		middleware.RateLimit(d.RateLimiter, d.Metrics),
		middleware.Auth(d.Tokens),
	)
	{
		patientsOnly := middleware.RequireRole(domain.RolePatient)
		participants := middleware.RequireRole(domain.RolePatient, domain.RoleDoctor)

		api.POST("/appointments", patientsOnly, appointments.Create)
		api.GET("/appointments", participants, appointments.List)
		api.GET("/appointments/:id", participants, appointments.Get)
		api.PATCH("/appointments/:id", patientsOnly, appointments.Reschedule)
		api.DELETE("/appointments/:id", patientsOnly, appointments.Delete)

		api.GET("/doctors/:id/appointments", middleware.RequireRole(domain.RoleDoctor), appointments.ListForDoctor)
	}

	return r
}
