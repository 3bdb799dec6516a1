package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

type RouterConfig struct {
	Service *scheduling.Service
	PgPool  *pgxpool.Pool
	Redis   *redis.Client // nil when the slot cache is disabled
	Logger  *zap.Logger
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(CallerMiddleware)

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Public
	r.Get("/doctors", listDoctorsHandler(cfg.Service))
	r.Get("/doctors/{doctorID}/slots", listSlotsHandler(cfg.Service))

	// Slot generation: admins for any doctor, doctors for themselves
	r.Group(func(r chi.Router) {
		r.Use(RequireRole(scheduling.RoleAdmin, scheduling.RoleDoctor))
		r.Post("/slots/generate", generateSlotsHandler(cfg.Service))
	})

	// Patient self-service booking
	r.Group(func(r chi.Router) {
		r.Use(RequireRole(scheduling.RolePatient))
		r.Post("/appointments", bookAppointmentHandler(cfg.Service))
	})

	// Any authenticated caller; the service scopes by role
	r.Group(func(r chi.Router) {
		r.Use(RequireRole(scheduling.RolePatient, scheduling.RoleDoctor, scheduling.RoleAdmin))
		r.Get("/appointments", listAppointmentsHandler(cfg.Service))
		r.Delete("/appointments/{id}", cancelAppointmentHandler(cfg.Service))
	})

	// Admin-only lifecycle management
	r.Group(func(r chi.Router) {
		r.Use(RequireRole(scheduling.RoleAdmin))
		r.Post("/admin/appointments", adminCreateAppointmentHandler(cfg.Service))
		r.Post("/appointments/{id}/reschedule", rescheduleAppointmentHandler(cfg.Service))
		r.Patch("/appointments/{id}", updateAppointmentHandler(cfg.Service))
	})

	return r
}
