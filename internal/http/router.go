package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RouterConfig wires handlers and cross-cutting middleware into the portal API.
type RouterConfig struct {
	Auth         *AuthHandler
	Profile      *ProfileHandler
	Approvals    *ApprovalHandler
	Validator    TokenValidator
	LoginLimiter *RateLimiter
	Metrics      MetricsHandler
	Health       HealthChecker
	Logger       *slog.Logger
	Middleware   []func(http.Handler) http.Handler
}

// MetricsHandler instruments requests and serves the scrape endpoint.
type MetricsHandler interface {
	Instrument(next http.Handler) http.Handler
	Handler() http.Handler
}

// HealthChecker reports whether backing storage is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := defaultLogger(cfg.Logger)
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(logger))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Instrument)
	}
	for _, mw := range cfg.Middleware {
		r.Use(mw)
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		newResponder(logger).writeJSON(req.Context(), w, http.StatusNotFound, errorResponse{
			ErrorCode: CodeNotFound,
			Message:   statusMessage(http.StatusNotFound),
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if cfg.Health != nil {
			if err := cfg.Health.Ping(req.Context()); err != nil {
				logger.Warn("health check failed", "error", err)
				newResponder(logger).writeJSON(req.Context(), w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		newResponder(logger).writeJSON(req.Context(), w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics.Handler())
	}

	limited := func(h http.HandlerFunc) http.Handler {
		if cfg.LoginLimiter == nil {
			return h
		}
		return cfg.LoginLimiter.Middleware(h)
	}

	if cfg.Auth != nil {
		r.Method(http.MethodPost, "/auth/register", limited(cfg.Auth.Register))
		r.Method(http.MethodPost, "/auth/login", limited(cfg.Auth.Login))
		r.Method(http.MethodPost, "/auth/verify-email", limited(cfg.Auth.VerifyEmail))
		r.Method(http.MethodPost, "/auth/resend-verification", limited(cfg.Auth.ResendVerification))
		r.Post("/auth/refresh", cfg.Auth.Refresh)
		r.Post("/auth/logout", cfg.Auth.Logout)
	}

	if cfg.Validator == nil {
		return r
	}

	r.Group(func(r chi.Router) {
		r.Use(RequireSession(cfg.Validator, logger))

		if cfg.Auth != nil {
			r.Post("/auth/logout-all", cfg.Auth.LogoutAll)
			r.Get("/auth/me", cfg.Auth.Me)
		}

		if cfg.Profile != nil {
			r.Post("/profile/ktp", cfg.Profile.CompleteKTP)
			r.Post("/profile/details", cfg.Profile.CompleteDetails)
			r.Get("/user-roles/my-roles", cfg.Profile.MyRoles)
			r.Get("/access/evaluate", cfg.Profile.Evaluate)
			r.Post("/admin/user-roles", cfg.Profile.AssignRole)
		}

		if cfg.Approvals != nil {
			r.Get("/categories", cfg.Approvals.Categories)
			r.Route("/surat-pengantar", func(r chi.Router) {
				r.Post("/", cfg.Approvals.Submit)
				r.Get("/rt/pending", cfg.Approvals.PendingRT)
				r.Get("/rw/pending", cfg.Approvals.PendingRW)
				r.Get("/my-requests", cfg.Approvals.MyRequests)
				r.With(withSuratID).Get("/{id}", cfg.Approvals.Get)
				r.With(withSuratID).Post("/{id}/rt-approval", cfg.Approvals.RTApproval)
				r.With(withSuratID).Post("/{id}/rw-approval", cfg.Approvals.RWApproval)
			})
		}
	})

	return r
}
