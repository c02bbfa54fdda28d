package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/dmehra2102/prod-golang-projects/medbook/internal/config"
	"github.com/dmehra2102/prod-golang-projects/medbook/internal/domain/appointment"
	v1 "github.com/dmehra2102/prod-golang-projects/medbook/internal/handler/v1"
	"github.com/dmehra2102/prod-golang-projects/medbook/internal/middleware"
	"github.com/dmehra2102/prod-golang-projects/medbook/internal/repository/memory"
	"github.com/dmehra2102/prod-golang-projects/medbook/internal/repository/postgres"
	"github.com/dmehra2102/prod-golang-projects/medbook/internal/service"
	"github.com/dmehra2102/prod-golang-projects/medbook/internal/timezone"
	"github.com/dmehra2102/prod-golang-projects/medbook/pkg/auth"
	"github.com/dmehra2102/prod-golang-projects/medbook/pkg/database"
	"github.com/dmehra2102/prod-golang-projects/medbook/pkg/logger"
	"github.com/dmehra2102/prod-golang-projects/medbook/pkg/metrics"
	"github.com/dmehra2102/prod-golang-projects/medbook/pkg/tracer"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "medbook: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// .env is optional; real deployments inject the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	log = log.With(
		zap.String("service", cfg.App.Name),
		zap.String("env", cfg.App.Environment),
		zap.String("version", cfg.App.Version),
	)

	tp, err := tracer.Init(cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Warn("tracer shutdown", zap.Error(err))
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewCollector("medbook", reg)

	var (
		store     appointment.Store
		auditRepo service.AuditRepository
	)
	switch cfg.Booking.Store {
	case config.StorePostgres:
		db, err := database.Connect(cfg.Database)
		if err != nil {
			return err
		}
		if sqlDB, err := db.DB(); err == nil {
			defer sqlDB.Close()
		}
		if err := database.Migrate(db, log); err != nil {
			return err
		}
		store = postgres.NewAppointmentStore(db, cfg.Booking.LockTimeout)
		auditRepo = postgres.NewAuditRepository(db)
	case config.StoreMemory:
		log.Warn("using in-memory appointment store; data is lost on restart")
		store = memory.NewStore(cfg.Booking.LockTimeout)
		auditRepo = memory.NewAuditRepository()
	}

	auditSvc := service.NewAuditService(auditRepo, m, log.Named("audit"))
	defer auditSvc.Shutdown()

	bookings := service.NewBookingService(store, cfg.Booking, timezone.System, auditSvc, m, log.Named("booking"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.BurstSize)
	go limiter.Run(ctx)

	router := v1.NewRouter(v1.RouterDeps{
		Config:      cfg,
		Bookings:    bookings,
		Tokens:      auth.NewJWTManager(cfg.JWT),
		RateLimiter: limiter,
		Metrics:     m,
		Log:         log.Named("http"),
	})

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening",
			zap.String("addr", srv.Addr),
			zap.String("store", cfg.Booking.Store),
			zap.Duration("lock_timeout", cfg.Booking.LockTimeout),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	log.Info("server stopped")
	return nil
}
