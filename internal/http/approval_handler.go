package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/example/neighborhood-portal/internal/application"
	"github.com/example/neighborhood-portal/internal/approval"
)

type approvalService interface {
	Submit(ctx context.Context, params application.SubmitParams) (approval.Request, error)
	Decide(ctx context.Context, params application.DecideParams) (approval.Request, error)
	PendingForRT(ctx context.Context, viewerID string, query application.ListQuery) (application.RequestPage, error)
	PendingForRW(ctx context.Context, viewerID string, query application.ListQuery) (application.RequestPage, error)
	MyRequests(ctx context.Context, applicantID string, query application.ListQuery) (application.RequestPage, error)
	Get(ctx context.Context, viewerID, requestID string) (approval.Request, error)
	Categories(ctx context.Context) ([]application.Category, error)
}

// ApprovalHandler serves Surat Pengantar submission, decisions and queues.
type ApprovalHandler struct {
	service   approvalService
	responder responder
	logger    *slog.Logger
}

func NewApprovalHandler(service approvalService, logger *slog.Logger) *ApprovalHandler {
	base := defaultLogger(logger)
	return &ApprovalHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *ApprovalHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return handlerLogger(ctx, h.logger, "ApprovalHandler", operation, attrs...)
}

func (h *ApprovalHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, CodeBadRequest, err)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	request, err := h.service.Submit(r.Context(), application.SubmitParams{
		ApplicantID: principal.UserID,
		CategoryID:  req.CategoryID,
		Reason:      req.Reason,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, toRequestDTO(request))
}

func (h *ApprovalHandler) Get(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	id, _ := SuratIDFromContext(r.Context())
	request, err := h.service.Get(r.Context(), principal.UserID, id)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toRequestDTO(request))
}

func (h *ApprovalHandler) RTApproval(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, approval.TierRT)
}

func (h *ApprovalHandler) RWApproval(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, approval.TierRW)
}

func (h *ApprovalHandler) decide(w http.ResponseWriter, r *http.Request, tier approval.Tier) {
	var req decisionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, CodeBadRequest, err)
		return
	}

	action, err := approval.ParseWireAction(req.Action)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, &application.ValidationError{FieldErrors: map[string]string{"action": "must be A or R"}})
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	requestID, _ := SuratIDFromContext(r.Context())
	request, err := h.service.Decide(r.Context(), application.DecideParams{
		RequestID: requestID,
		Tier:      tier,
		ActorID:   principal.UserID,
		Action:    action,
		Notes:     req.Notes,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.log(r.Context(), "Decide", "tier", tier).InfoContext(r.Context(), "decision accepted", "status", request.Status)
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toRequestDTO(request))
}

func (h *ApprovalHandler) PendingRT(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.service.PendingForRT)
}

func (h *ApprovalHandler) PendingRW(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.service.PendingForRW)
}

func (h *ApprovalHandler) MyRequests(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.service.MyRequests)
}

func (h *ApprovalHandler) list(w http.ResponseWriter, r *http.Request, fetch func(context.Context, string, application.ListQuery) (application.RequestPage, error)) {
	q := r.URL.Query()
	query, err := application.ParseListQuery(q.Get("page"), q.Get("limit"), q.Get("status"), q.Get("sortOrder"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	page, err := fetch(r.Context(), principal.UserID, query)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toRequestPageResponse(page))
}

func (h *ApprovalHandler) Categories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.service.Categories(r.Context())
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	payload := categoriesResponse{Categories: make([]categoryDTO, 0, len(categories))}
	for _, category := range categories {
		payload.Categories = append(payload.Categories, categoryDTO{ID: category.ID, Name: category.Name, Description: category.Description})
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, payload)
}
