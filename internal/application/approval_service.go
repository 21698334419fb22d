package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/example/neighborhood-portal/internal/access"
	"github.com/example/neighborhood-portal/internal/approval"
)

// ApprovalRepository captures Surat Pengantar persistence.
type ApprovalRepository interface {
	CreateRequest(ctx context.Context, request approval.Request) error
	GetRequest(ctx context.Context, id string) (approval.Request, error)
	// UpdateRequestIfStatus stores request only while the stored status is
	// still expected; otherwise it reports a conflict.
	UpdateRequestIfStatus(ctx context.Context, request approval.Request, expected approval.Status) error
	ListRequests(ctx context.Context, filter RequestFilter) ([]approval.Request, int, error)
}

// CategoryRepository reads the letter catalog.
type CategoryRepository interface {
	ListCategories(ctx context.Context) ([]Category, error)
	GetCategory(ctx context.Context, id string) (Category, error)
}

// DecisionObserver is notified of every decision attempt with its outcome label.
type DecisionObserver interface {
	ObserveDecision(tier approval.Tier, action approval.Action, outcome string)
}

// ApprovalService runs the two-tier RT then RW approval workflow.
type ApprovalService struct {
	requests    ApprovalRepository
	categories  CategoryRepository
	users       UserReader
	roles       access.RoleSource
	observer    DecisionObserver
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
}

// NewApprovalService constructs an ApprovalService with the provided dependencies.
func NewApprovalService(requests ApprovalRepository, categories CategoryRepository, users UserReader, roles access.RoleSource, observer DecisionObserver, idGenerator func() string, now func() time.Time) *ApprovalService {
	return NewApprovalServiceWithLogger(requests, categories, users, roles, observer, idGenerator, now, nil)
}

// NewApprovalServiceWithLogger constructs an ApprovalService with a specified logger.
func NewApprovalServiceWithLogger(requests ApprovalRepository, categories CategoryRepository, users UserReader, roles access.RoleSource, observer DecisionObserver, idGenerator func() string, now func() time.Time, logger *slog.Logger) *ApprovalService {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	return &ApprovalService{
		requests:    requests,
		categories:  categories,
		users:       users,
		roles:       roles,
		observer:    observer,
		idGenerator: idGenerator,
		now:         now,
		logger:      defaultLogger(logger),
	}
}

func (s *ApprovalService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "ApprovalService", operation, attrs...)
}

// Submit files a new request in SUBMITTED status. The applicant's RT and RW
// are copied from their residence details.
func (s *ApprovalService) Submit(ctx context.Context, params SubmitParams) (request approval.Request, err error) {
	logger := s.loggerWith(ctx, "Submit",
		"applicant_id", params.ApplicantID,
		"category_id", params.CategoryID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "request submission failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "request submitted", "request_id", request.ID, "rt_id", request.RTID)
	}()

	vErr := &ValidationError{}
	reason, reasonErr := approval.NormalizeReason(params.Reason)
	if reasonErr != nil {
		vErr.add("reason", reasonErr.Error())
	}
	categoryID := strings.TrimSpace(params.CategoryID)
	if categoryID == "" {
		vErr.add("categoryId", "is required")
	}
	applicantID := strings.TrimSpace(params.ApplicantID)
	if applicantID == "" {
		vErr.add("applicantId", "is required")
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}

	var category Category
	category, err = s.categories.GetCategory(ctx, categoryID)
	if err != nil {
		if errors.Is(mapRepoError(err), ErrNotFound) {
			err = fieldError("categoryId", "does not exist")
			return
		}
		return
	}
	if !category.Active {
		err = fieldError("categoryId", "is not accepting requests")
		return
	}

	var applicant User
	applicant, err = s.users.GetUser(ctx, applicantID)
	if err != nil {
		if errors.Is(mapRepoError(err), ErrNotFound) {
			err = fieldError("applicantId", "does not exist")
			return
		}
		return
	}
	if !applicant.Identity(nil).ProfileComplete() || applicant.RTID <= 0 || applicant.RWID <= 0 {
		err = fieldError("applicantId", "has no registered residence")
		return
	}

	now := s.now()
	request = approval.Request{
		ID:          s.idGenerator(),
		CategoryID:  category.ID,
		ApplicantID: applicant.ID,
		RTID:        applicant.RTID,
		RWID:        applicant.RWID,
		Reason:      reason,
		Status:      approval.StatusSubmitted,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err = s.requests.CreateRequest(ctx, request); err != nil {
		err = mapRepoError(err)
		request = approval.Request{}
	}
	return
}

// Decide records an RT or RW decision. A request that does not exist has no
// legal transition and reports ErrInvalidTransition. The state precondition
// is checked before authorization, so a second decision on the same request reports
// ErrInvalidTransition even to an approver outside its scope. The write is
// conditional on the status read, which makes concurrent decisions on one
// request resolve to exactly one winner.
func (s *ApprovalService) Decide(ctx context.Context, params DecideParams) (request approval.Request, err error) {
	logger := s.loggerWith(ctx, "Decide",
		"request_id", params.RequestID,
		"tier", params.Tier,
		"actor_id", params.ActorID,
		"action", params.Action,
	)
	defer func() {
		s.observe(params, err)
		if err != nil {
			logger.ErrorContext(ctx, "decision failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "decision recorded", "status", request.Status)
	}()

	var tier approval.Tier
	if tier, err = approval.ParseTier(string(params.Tier)); err != nil {
		err = fieldError("tier", "must be RT or RW")
		return
	}
	params.Tier = tier
	if strings.TrimSpace(params.ActorID) == "" {
		err = denied(access.ReasonNotAuthenticated)
		return
	}

	var current approval.Request
	current, err = s.requests.GetRequest(ctx, params.RequestID)
	if err != nil {
		err = mapRepoError(err)
		if errors.Is(err, ErrNotFound) {
			err = fmt.Errorf("%w: request %s does not exist", ErrInvalidTransition, params.RequestID)
		}
		return
	}

	var next approval.Request
	next, err = approval.Apply(current, params.Tier, approval.Decision{
		ApproverID: params.ActorID,
		Action:     params.Action,
		Notes:      params.Notes,
		DecidedAt:  s.now(),
	})
	switch {
	case err == nil:
	case errors.Is(err, approval.ErrNotesRequired):
		err = fieldError("notes", "are required when rejecting")
		return
	case errors.Is(err, approval.ErrUnknownAction):
		err = fieldError("action", "must be A or R")
		return
	default:
		return
	}

	var actor *access.Identity
	actor, err = s.identity(ctx, params.ActorID)
	if err != nil {
		return
	}
	required := []access.RoleName{access.RoleKetuaRT}
	if params.Tier == approval.TierRW {
		required = []access.RoleName{access.RoleKetuaRW}
	}
	result := access.Authorize(actor, required, &access.Location{RTID: current.RTID, RWID: current.RWID})
	if !result.Allowed {
		err = denied(result.Reason)
		return
	}

	if err = s.requests.UpdateRequestIfStatus(ctx, next, current.Status); err != nil {
		err = mapRepoError(err)
		if errors.Is(err, ErrInvalidTransition) {
			err = fmt.Errorf("%w: request %s was decided concurrently", ErrInvalidTransition, current.ID)
		}
		return
	}
	request = next
	return
}

// PendingForRT lists SUBMITTED requests in the RTs the viewer leads.
func (s *ApprovalService) PendingForRT(ctx context.Context, viewerID string, query ListQuery) (RequestPage, error) {
	return s.pending(ctx, "PendingForRT", viewerID, approval.TierRT, query)
}

// PendingForRW lists RT_APPROVED requests in the RWs the viewer leads.
func (s *ApprovalService) PendingForRW(ctx context.Context, viewerID string, query ListQuery) (RequestPage, error) {
	return s.pending(ctx, "PendingForRW", viewerID, approval.TierRW, query)
}

func (s *ApprovalService) pending(ctx context.Context, operation, viewerID string, tier approval.Tier, query ListQuery) (page RequestPage, err error) {
	logger := s.loggerWith(ctx, operation, "viewer_id", viewerID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "pending queue failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.DebugContext(ctx, "pending queue listed", "total", page.Total)
	}()

	var viewer *access.Identity
	viewer, err = s.identity(ctx, viewerID)
	if err != nil {
		return
	}
	if !viewer.ProfileComplete() {
		err = denied(access.ReasonIncompleteProfile)
		return
	}

	filter := RequestFilter{Statuses: []approval.Status{approval.PendingStatus(tier)}}
	if tier == approval.TierRT {
		filter.RTIDs = viewer.RTIDs()
		if len(filter.RTIDs) == 0 {
			err = denied(access.ReasonMissingRole)
			return
		}
	} else {
		filter.RWIDs = viewer.RWIDs()
		if len(filter.RWIDs) == 0 {
			err = denied(access.ReasonMissingRole)
			return
		}
	}

	query = query.withDefaults()
	page = RequestPage{Page: query.Page, Limit: query.Limit}
	if query.Status != "" && query.Status != approval.PendingStatus(tier) {
		return
	}
	page.Items, page.Total, err = s.list(ctx, filter, query)
	return
}

// MyRequests lists the applicant's own requests.
func (s *ApprovalService) MyRequests(ctx context.Context, applicantID string, query ListQuery) (page RequestPage, err error) {
	logger := s.loggerWith(ctx, "MyRequests", "applicant_id", applicantID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "request listing failed", "error", err, "error_kind", ErrorKind(err))
		}
	}()

	if strings.TrimSpace(applicantID) == "" {
		err = denied(access.ReasonNotAuthenticated)
		return
	}
	query = query.withDefaults()
	filter := RequestFilter{ApplicantID: applicantID}
	if query.Status != "" {
		filter.Statuses = []approval.Status{query.Status}
	}
	page = RequestPage{Page: query.Page, Limit: query.Limit}
	page.Items, page.Total, err = s.list(ctx, filter, query)
	return
}

// Get returns one request to its applicant, to an approver whose scope
// covers it, or to an administrator.
func (s *ApprovalService) Get(ctx context.Context, viewerID, requestID string) (approval.Request, error) {
	request, err := s.requests.GetRequest(ctx, requestID)
	if err != nil {
		return approval.Request{}, mapRepoError(err)
	}
	if request.ApplicantID == viewerID && viewerID != "" {
		return request, nil
	}

	viewer, err := s.identity(ctx, viewerID)
	if err != nil {
		return approval.Request{}, err
	}
	loc := &access.Location{RTID: request.RTID, RWID: request.RWID}
	result := access.Authorize(viewer, []access.RoleName{access.RoleKetuaRT, access.RoleKetuaRW, access.RoleAdmin, access.RoleSuperAdmin}, loc)
	if !result.Allowed {
		s.loggerWith(ctx, "Get", "viewer_id", viewerID, "request_id", requestID).
			WarnContext(ctx, "request access denied", "reason", result.Reason)
		return approval.Request{}, denied(result.Reason)
	}
	return request, nil
}

// Categories lists the active letter categories.
func (s *ApprovalService) Categories(ctx context.Context) ([]Category, error) {
	categories, err := s.categories.ListCategories(ctx)
	if err != nil {
		return nil, mapRepoError(err)
	}
	return categories, nil
}

func (s *ApprovalService) list(ctx context.Context, filter RequestFilter, query ListQuery) ([]approval.Request, int, error) {
	filter.Limit = query.Limit
	filter.Offset = (query.Page - 1) * query.Limit
	filter.Ascending = query.SortOrder == SortAscending
	items, total, err := s.requests.ListRequests(ctx, filter)
	if err != nil {
		return nil, 0, mapRepoError(err)
	}
	return items, total, nil
}

// identity loads the user's onboarding facts and roles. Unknown users are
// treated as unauthenticated.
func (s *ApprovalService) identity(ctx context.Context, userID string) (*access.Identity, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, denied(access.ReasonNotAuthenticated)
	}
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(mapRepoError(err), ErrNotFound) {
			return nil, denied(access.ReasonNotAuthenticated)
		}
		return nil, err
	}
	roles, err := s.roles.RolesFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	return user.Identity(roles), nil
}

func (s *ApprovalService) observe(params DecideParams, err error) {
	if s.observer == nil {
		return
	}
	outcome := ErrorKind(err)
	if outcome == "" {
		outcome = "applied"
	}
	s.observer.ObserveDecision(params.Tier, params.Action, outcome)
}

func (q ListQuery) withDefaults() ListQuery {
	if q.Page <= 0 {
		q.Page = 1
	}
	if q.Limit <= 0 {
		q.Limit = DefaultPageSize
	}
	if q.Limit > MaxPageSize {
		q.Limit = MaxPageSize
	}
	if q.SortOrder == "" {
		q.SortOrder = SortDescending
	}
	return q
}

// ParseListQuery validates raw query parameters. Empty values take defaults:
// page 1, limit 10, newest first.
func ParseListQuery(page, limit, status, sortOrder string) (ListQuery, error) {
	vErr := &ValidationError{}
	query := ListQuery{Page: 1, Limit: DefaultPageSize, SortOrder: SortDescending}

	if page = strings.TrimSpace(page); page != "" {
		n, err := strconv.Atoi(page)
		if err != nil || n < 1 {
			vErr.add("page", "must be a positive integer")
		} else {
			query.Page = n
		}
	}
	if limit = strings.TrimSpace(limit); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 1 || n > MaxPageSize {
			vErr.add("limit", fmt.Sprintf("must be between 1 and %d", MaxPageSize))
		} else {
			query.Limit = n
		}
	}
	if status = strings.TrimSpace(status); status != "" {
		parsed, err := approval.ParseStatus(strings.ToUpper(status))
		if err != nil {
			vErr.add("status", "is not a known status")
		} else {
			query.Status = parsed
		}
	}
	switch SortOrder(strings.ToLower(strings.TrimSpace(sortOrder))) {
	case "":
	case SortAscending:
		query.SortOrder = SortAscending
	case SortDescending:
		query.SortOrder = SortDescending
	default:
		vErr.add("sortOrder", "must be asc or desc")
	}

	if vErr.HasErrors() {
		return ListQuery{}, vErr
	}
	return query, nil
}
