package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/example/neighborhood-portal/internal/access"
	"github.com/example/neighborhood-portal/internal/application"
)

type profileService interface {
	CompleteKTP(ctx context.Context, principal application.Principal, params application.CompleteKTPParams) (application.User, error)
	CompleteDetails(ctx context.Context, principal application.Principal, params application.CompleteDetailsParams) (application.User, error)
	ResolveIdentity(ctx context.Context, userID string) (*access.Identity, error)
}

type roleService interface {
	access.RoleSource
	MyRoles(ctx context.Context, principal application.Principal) ([]access.RoleAssignment, error)
	Assign(ctx context.Context, actor application.Principal, params application.AssignRoleParams) (access.RoleAssignment, error)
}

// ProfileHandler serves the onboarding steps, role listing and route evaluation.
type ProfileHandler struct {
	profiles  profileService
	roles     roleService
	gate      *access.Gate
	responder responder
	logger    *slog.Logger
}

func NewProfileHandler(profiles profileService, roles roleService, gate *access.Gate, logger *slog.Logger) *ProfileHandler {
	base := defaultLogger(logger)
	if gate == nil {
		gate = access.NewGate(nil)
	}
	return &ProfileHandler{profiles: profiles, roles: roles, gate: gate, responder: newResponder(base), logger: base}
}

func (h *ProfileHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return handlerLogger(ctx, h.logger, "ProfileHandler", operation, attrs...)
}

func (h *ProfileHandler) CompleteKTP(w http.ResponseWriter, r *http.Request) {
	var req ktpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, CodeBadRequest, err)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	user, err := h.profiles.CompleteKTP(r.Context(), principal, application.CompleteKTPParams{NIK: req.NIK, FullName: req.FullName})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, userResponse{User: toUserDTO(user)})
}

func (h *ProfileHandler) CompleteDetails(w http.ResponseWriter, r *http.Request) {
	var req detailsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, CodeBadRequest, err)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	user, err := h.profiles.CompleteDetails(r.Context(), principal, application.CompleteDetailsParams{
		RTID:    req.RTID,
		Address: req.Address,
		Phone:   req.Phone,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, userResponse{User: toUserDTO(user)})
}

func (h *ProfileHandler) MyRoles(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	roles, err := h.roles.MyRoles(r.Context(), principal)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	payload := rolesResponse{Roles: make([]roleDTO, 0, len(roles))}
	for _, role := range roles {
		payload.Roles = append(payload.Roles, toRoleDTO(role))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, payload)
}

// Evaluate runs the onboarding gate and then the role predicate for the
// caller against ?path=.
func (h *ProfileHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	requested := strings.TrimSpace(r.URL.Query().Get("path"))
	if requested == "" {
		h.responder.handleServiceError(r.Context(), w, &application.ValidationError{FieldErrors: map[string]string{"path": "is required"}})
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	identity, err := h.profiles.ResolveIdentity(r.Context(), principal.UserID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	decision, result := h.gate.Check(r.Context(), identity, requested, h.roles)
	if result.Err != nil {
		h.log(r.Context(), "Evaluate", "path", requested).WarnContext(r.Context(), "role lookup failed, route denied", "error", result.Err)
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, evaluateResponse{
		Allow:      decision.Allow,
		RedirectTo: decision.RedirectTo,
		ReturnTo:   decision.ReturnTo,
		Authorized: decision.Allow && result.Allowed,
		Reason:     string(result.Reason),
	})
}

func (h *ProfileHandler) AssignRole(w http.ResponseWriter, r *http.Request) {
	var req assignRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, CodeBadRequest, err)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	assignment, err := h.roles.Assign(r.Context(), principal, application.AssignRoleParams{
		UserID: req.UserID,
		Role:   access.RoleName(strings.ToUpper(strings.TrimSpace(req.Role))),
		RTID:   req.RTID,
		RWID:   req.RWID,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, toRoleDTO(assignment))
}
