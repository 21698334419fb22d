package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/example/neighborhood-portal/internal/application"
)

type authService interface {
	Register(ctx context.Context, params application.RegisterParams) (application.User, error)
	Login(ctx context.Context, params application.LoginParams) (application.AuthResult, error)
	VerifyEmail(ctx context.Context, params application.VerifyEmailParams) (application.AuthResult, error)
	ResendVerification(ctx context.Context, email string) error
	Refresh(ctx context.Context, refreshToken string) (application.AuthResult, error)
	Logout(ctx context.Context, refreshToken string) error
	LogoutAll(ctx context.Context, principal application.Principal) error
}

type profileReader interface {
	Me(ctx context.Context, principal application.Principal) (application.User, error)
}

// AuthObserver receives authentication outcomes for metrics.
type AuthObserver interface {
	ObserveAuth(operation, outcome string)
	ObserveTermination(reason string)
}

type AuthHandler struct {
	service   authService
	profiles  profileReader
	observer  AuthObserver
	responder responder
	logger    *slog.Logger
}

func NewAuthHandler(service authService, profiles profileReader, observer AuthObserver, logger *slog.Logger) *AuthHandler {
	base := defaultLogger(logger)
	return &AuthHandler{service: service, profiles: profiles, observer: observer, responder: newResponder(base), logger: base}
}

func (h *AuthHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "AuthHandler", operation, attrs...)
}

func (h *AuthHandler) observe(operation string, err error) {
	if h.observer == nil {
		return
	}
	outcome := application.ErrorKind(err)
	if outcome == "" {
		outcome = "success"
	}
	h.observer.ObserveAuth(operation, outcome)
	if operation == "refresh" && errors.Is(err, application.ErrSessionExpired) {
		h.observer.ObserveTermination("refresh_rejected")
	}
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, CodeBadRequest, err)
		return
	}

	user, err := h.service.Register(r.Context(), application.RegisterParams{Email: req.Email, Password: req.Password})
	if err != nil {
		h.log(r.Context(), "Register").WarnContext(r.Context(), "registration rejected", "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, userResponse{User: toUserDTO(user)})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, CodeBadRequest, err)
		return
	}

	result, err := h.service.Login(r.Context(), application.LoginParams{Email: req.Email, Password: req.Password})
	h.observe("login", err)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.log(r.Context(), "Login", "user_id", result.User.ID).InfoContext(r.Context(), "user authenticated")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toAuthResponse(result))
}

func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req verifyEmailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, CodeBadRequest, err)
		return
	}

	result, err := h.service.VerifyEmail(r.Context(), application.VerifyEmailParams{Email: req.Email, Code: req.Code})
	h.observe("verify_email", err)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toAuthResponse(result))
}

// ResendVerification always answers 202 so callers cannot discover which
// addresses are registered.
func (h *AuthHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, CodeBadRequest, err)
		return
	}

	if err := h.service.ResendVerification(r.Context(), req.Email); err != nil {
		h.log(r.Context(), "ResendVerification").ErrorContext(r.Context(), "verification resend failed", "error", err, "error_kind", application.ErrorKind(err))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, CodeBadRequest, err)
		return
	}

	result, err := h.service.Refresh(r.Context(), req.RefreshToken)
	h.observe("refresh", err)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toAuthResponse(result))
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, CodeBadRequest, err)
		return
	}

	if err := h.service.Logout(r.Context(), req.RefreshToken); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	if h.observer != nil {
		h.observer.ObserveTermination("logout")
	}
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	if err := h.service.LogoutAll(r.Context(), principal); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	if h.observer != nil {
		h.observer.ObserveTermination("logout_all")
	}
	h.log(r.Context(), "LogoutAll").InfoContext(r.Context(), "all sessions revoked")
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	user, err := h.profiles.Me(r.Context(), principal)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, userResponse{User: toUserDTO(user)})
}
