package main

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/example/neighborhood-portal/internal/access"
	"github.com/example/neighborhood-portal/internal/application"
	"github.com/example/neighborhood-portal/internal/approval"
	"github.com/example/neighborhood-portal/internal/persistence"
)

// The adapters below translate between the nullable storage rows and the
// application models. Persistence errors pass through unchanged so the
// services can classify them.

type credentialStoreAdapter struct {
	repo persistence.UserRepository
}

func newCredentialStoreAdapter(repo persistence.UserRepository) *credentialStoreAdapter {
	return &credentialStoreAdapter{repo: repo}
}

func (a *credentialStoreAdapter) CreateUser(ctx context.Context, credentials application.UserCredentials) error {
	return a.repo.CreateUser(ctx, toPersistenceUser(credentials.User, credentials.PasswordHash))
}

func (a *credentialStoreAdapter) GetUser(ctx context.Context, id string) (application.User, error) {
	stored, err := a.repo.GetUser(ctx, id)
	if err != nil {
		return application.User{}, err
	}
	return toApplicationUser(stored), nil
}

func (a *credentialStoreAdapter) GetUserCredentialsByEmail(ctx context.Context, email string) (application.UserCredentials, error) {
	stored, err := a.repo.GetUserByEmail(ctx, email)
	if err != nil {
		return application.UserCredentials{}, err
	}
	return application.UserCredentials{
		User:         toApplicationUser(stored),
		PasswordHash: stored.PasswordHash,
	}, nil
}

// UpdateUser writes profile columns only; the stored password hash is kept.
func (a *credentialStoreAdapter) UpdateUser(ctx context.Context, user application.User) error {
	return a.repo.UpdateUser(ctx, toPersistenceUser(user, ""))
}

type sessionRepositoryAdapter struct {
	repo persistence.SessionRepository
}

func newSessionRepositoryAdapter(repo persistence.SessionRepository) *sessionRepositoryAdapter {
	return &sessionRepositoryAdapter{repo: repo}
}

func (a *sessionRepositoryAdapter) CreateSession(ctx context.Context, session application.Session) (application.Session, error) {
	stored, err := a.repo.CreateSession(ctx, toPersistenceSession(session))
	if err != nil {
		return application.Session{}, err
	}
	return toApplicationSession(stored), nil
}

func (a *sessionRepositoryAdapter) GetSession(ctx context.Context, token string) (application.Session, error) {
	stored, err := a.repo.GetSession(ctx, token)
	if err != nil {
		return application.Session{}, err
	}
	return toApplicationSession(stored), nil
}

func (a *sessionRepositoryAdapter) RevokeSession(ctx context.Context, token string, revokedAt time.Time) (application.Session, error) {
	stored, err := a.repo.RevokeSession(ctx, token, revokedAt)
	if err != nil {
		return application.Session{}, err
	}
	return toApplicationSession(stored), nil
}

func (a *sessionRepositoryAdapter) RevokeUserSessions(ctx context.Context, userID string, revokedAt time.Time) (int, error) {
	return a.repo.RevokeUserSessions(ctx, userID, revokedAt)
}

func (a *sessionRepositoryAdapter) DeleteExpiredSessions(ctx context.Context, reference time.Time) error {
	return a.repo.DeleteExpiredSessions(ctx, reference)
}

type verificationCodeAdapter struct {
	repo persistence.VerificationCodeRepository
}

func newVerificationCodeAdapter(repo persistence.VerificationCodeRepository) *verificationCodeAdapter {
	return &verificationCodeAdapter{repo: repo}
}

func (a *verificationCodeAdapter) CreateCode(ctx context.Context, code application.VerificationCode) error {
	return a.repo.CreateCode(ctx, persistence.VerificationCode{
		ID:         code.ID,
		UserID:     code.UserID,
		CodeHash:       code.CodeHash,
		ExpiresAt:      code.ExpiresAt,
		ConsumedAt:     cloneTime(code.ConsumedAt),
		FailedAttempts: code.FailedAttempts,
		CreatedAt:      code.CreatedAt,
	})
}

func (a *verificationCodeAdapter) LatestCode(ctx context.Context, userID string) (application.VerificationCode, error) {
	stored, err := a.repo.LatestCode(ctx, userID)
	if err != nil {
		return application.VerificationCode{}, err
	}
	return application.VerificationCode{
		ID:         stored.ID,
		UserID:     stored.UserID,
		CodeHash:       stored.CodeHash,
		ExpiresAt:      stored.ExpiresAt,
		ConsumedAt:     cloneTime(stored.ConsumedAt),
		FailedAttempts: stored.FailedAttempts,
		CreatedAt:      stored.CreatedAt,
	}, nil
}

func (a *verificationCodeAdapter) ConsumeCode(ctx context.Context, id string, consumedAt time.Time) error {
	return a.repo.ConsumeCode(ctx, id, consumedAt)
}

func (a *verificationCodeAdapter) RecordFailedAttempt(ctx context.Context, id string, limit int, at time.Time) (int, error) {
	return a.repo.RecordFailedAttempt(ctx, id, limit, at)
}

type roleRepositoryAdapter struct {
	repo persistence.RoleRepository
}

func newRoleRepositoryAdapter(repo persistence.RoleRepository) *roleRepositoryAdapter {
	return &roleRepositoryAdapter{repo: repo}
}

func (a *roleRepositoryAdapter) ListRoles(ctx context.Context, userID string) ([]access.RoleAssignment, error) {
	models, err := a.repo.ListRolesForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return nil, nil
	}
	roles := make([]access.RoleAssignment, 0, len(models))
	for _, model := range models {
		roles = append(roles, access.RoleAssignment{
			Role: access.RoleName(model.Role),
			RTID: derefInt64(model.RTID),
			RTNo: model.RTNo,
			RWID: derefInt64(model.RWID),
			RWNo: model.RWNo,
		})
	}
	return roles, nil
}

func (a *roleRepositoryAdapter) AddRole(ctx context.Context, grant application.RoleGrant) error {
	return a.repo.CreateRole(ctx, persistence.RoleAssignment{
		ID:        grant.ID,
		UserID:    grant.UserID,
		Role:      string(grant.Assignment.Role),
		RTID:      positiveInt64(grant.Assignment.RTID),
		RWID:      positiveInt64(grant.Assignment.RWID),
		CreatedAt: grant.CreatedAt,
	})
}

type neighborhoodDirectoryAdapter struct {
	repo persistence.NeighborhoodRepository
}

func newNeighborhoodDirectoryAdapter(repo persistence.NeighborhoodRepository) *neighborhoodDirectoryAdapter {
	return &neighborhoodDirectoryAdapter{repo: repo}
}

func (a *neighborhoodDirectoryAdapter) GetRT(ctx context.Context, rtID int64) (application.Neighborhood, error) {
	stored, err := a.repo.GetRT(ctx, rtID)
	if err != nil {
		return application.Neighborhood{}, err
	}
	return application.Neighborhood(stored), nil
}

func (a *neighborhoodDirectoryAdapter) GetRW(ctx context.Context, rwID int64) (application.Neighborhood, error) {
	stored, err := a.repo.GetRW(ctx, rwID)
	if err != nil {
		return application.Neighborhood{}, err
	}
	return application.Neighborhood(stored), nil
}

type categoryRepositoryAdapter struct {
	repo persistence.CategoryRepository
}

func newCategoryRepositoryAdapter(repo persistence.CategoryRepository) *categoryRepositoryAdapter {
	return &categoryRepositoryAdapter{repo: repo}
}

func (a *categoryRepositoryAdapter) ListCategories(ctx context.Context) ([]application.Category, error) {
	models, err := a.repo.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	categories := make([]application.Category, 0, len(models))
	for _, model := range models {
		categories = append(categories, application.Category(model))
	}
	return categories, nil
}

func (a *categoryRepositoryAdapter) GetCategory(ctx context.Context, id string) (application.Category, error) {
	stored, err := a.repo.GetCategory(ctx, id)
	if err != nil {
		return application.Category{}, err
	}
	return application.Category(stored), nil
}

type approvalRepositoryAdapter struct {
	repo persistence.ApprovalRepository
}

func newApprovalRepositoryAdapter(repo persistence.ApprovalRepository) *approvalRepositoryAdapter {
	return &approvalRepositoryAdapter{repo: repo}
}

func (a *approvalRepositoryAdapter) CreateRequest(ctx context.Context, request approval.Request) error {
	return a.repo.CreateRequest(ctx, toPersistenceRequest(request))
}

func (a *approvalRepositoryAdapter) GetRequest(ctx context.Context, id string) (approval.Request, error) {
	stored, err := a.repo.GetRequest(ctx, id)
	if err != nil {
		return approval.Request{}, err
	}
	return toApprovalRequest(stored), nil
}

func (a *approvalRepositoryAdapter) UpdateRequestIfStatus(ctx context.Context, request approval.Request, expected approval.Status) error {
	return a.repo.UpdateRequestIfStatus(ctx, toPersistenceRequest(request), string(expected))
}

func (a *approvalRepositoryAdapter) ListRequests(ctx context.Context, filter application.RequestFilter) ([]approval.Request, int, error) {
	statuses := make([]string, 0, len(filter.Statuses))
	for _, status := range filter.Statuses {
		statuses = append(statuses, string(status))
	}
	models, total, err := a.repo.ListRequests(ctx, persistence.ApprovalFilter{
		ApplicantID: filter.ApplicantID,
		RTIDs:       append([]int64(nil), filter.RTIDs...),
		RWIDs:       append([]int64(nil), filter.RWIDs...),
		Statuses:    statuses,
		Offset:      filter.Offset,
		Limit:       filter.Limit,
		Ascending:   filter.Ascending,
	})
	if err != nil {
		return nil, 0, err
	}
	requests := make([]approval.Request, 0, len(models))
	for _, model := range models {
		requests = append(requests, toApprovalRequest(model))
	}
	return requests, total, nil
}

// logCodeSender writes verification codes to the server log in place of an
// outbound mailer.
type logCodeSender struct {
	logger *slog.Logger
}

func (s logCodeSender) SendVerificationCode(ctx context.Context, email, code string) error {
	s.logger.InfoContext(ctx, "verification code issued", "email", email, "code", code)
	return nil
}

func toApplicationUser(model persistence.User) application.User {
	return application.User{
		ID:               model.ID,
		Email:            model.Email,
		EmailVerified:    model.EmailVerified,
		KTPCompleted:     model.KTPCompleted,
		DetailsCompleted: model.DetailsCompleted,
		NIK:              derefString(model.NIK),
		FullName:         derefString(model.FullName),
		RTID:             derefInt64(model.RTID),
		RWID:             derefInt64(model.RWID),
		Address:          derefString(model.Address),
		Phone:            derefString(model.Phone),
		CreatedAt:        model.CreatedAt,
		UpdatedAt:        model.UpdatedAt,
	}
}

func toPersistenceUser(user application.User, passwordHash string) persistence.User {
	return persistence.User{
		ID:               user.ID,
		Email:            user.Email,
		PasswordHash:     passwordHash,
		EmailVerified:    user.EmailVerified,
		KTPCompleted:     user.KTPCompleted,
		DetailsCompleted: user.DetailsCompleted,
		NIK:              optionalString(user.NIK),
		FullName:         optionalString(user.FullName),
		RTID:             positiveInt64(user.RTID),
		Address:          optionalString(user.Address),
		Phone:            optionalString(user.Phone),
		CreatedAt:        user.CreatedAt,
		UpdatedAt:        user.UpdatedAt,
	}
}

func toApplicationSession(model persistence.Session) application.Session {
	return application.Session{
		ID:        model.ID,
		UserID:    model.UserID,
		Token:     model.Token,
		ExpiresAt: model.ExpiresAt,
		RevokedAt: cloneTime(model.RevokedAt),
		CreatedAt: model.CreatedAt,
		UpdatedAt: model.UpdatedAt,
	}
}

func toPersistenceSession(session application.Session) persistence.Session {
	return persistence.Session{
		ID:        session.ID,
		UserID:    session.UserID,
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt,
		RevokedAt: cloneTime(session.RevokedAt),
		CreatedAt: session.CreatedAt,
		UpdatedAt: session.UpdatedAt,
	}
}

func toApprovalRequest(model persistence.ApprovalRequest) approval.Request {
	request := approval.Request{
		ID:          model.ID,
		CategoryID:  model.CategoryID,
		ApplicantID: model.ApplicantID,
		RTID:        model.RTID,
		RWID:        model.RWID,
		Reason:      model.Reason,
		Status:      approval.Status(model.Status),
		RejectedAt:  approval.Tier(derefString(model.RejectedAt)),
		CreatedAt:   model.CreatedAt,
		UpdatedAt:   model.UpdatedAt,
	}
	request.RTDecision = toDecision(model.RTApproverID, model.RTAction, model.RTNotes, model.RTDecidedAt)
	request.RWDecision = toDecision(model.RWApproverID, model.RWAction, model.RWNotes, model.RWDecidedAt)
	return request
}

func toDecision(approverID, action, notes *string, decidedAt *time.Time) *approval.Decision {
	if action == nil {
		return nil
	}
	decision := &approval.Decision{
		ApproverID: derefString(approverID),
		Action:     approval.Action(*action),
		Notes:      derefString(notes),
	}
	if decidedAt != nil {
		decision.DecidedAt = *decidedAt
	}
	return decision
}

func toPersistenceRequest(request approval.Request) persistence.ApprovalRequest {
	model := persistence.ApprovalRequest{
		ID:          request.ID,
		CategoryID:  request.CategoryID,
		ApplicantID: request.ApplicantID,
		RTID:        request.RTID,
		RWID:        request.RWID,
		Reason:      request.Reason,
		Status:      string(request.Status),
		RejectedAt:  optionalString(string(request.RejectedAt)),
		CreatedAt:   request.CreatedAt,
		UpdatedAt:   request.UpdatedAt,
	}
	if d := request.RTDecision; d != nil {
		model.RTApproverID = optionalString(d.ApproverID)
		model.RTAction = optionalString(string(d.Action))
		model.RTNotes = optionalString(d.Notes)
		model.RTDecidedAt = optionalTime(d.DecidedAt)
	}
	if d := request.RWDecision; d != nil {
		model.RWApproverID = optionalString(d.ApproverID)
		model.RWAction = optionalString(string(d.Action))
		model.RWNotes = optionalString(d.Notes)
		model.RWDecidedAt = optionalTime(d.DecidedAt)
	}
	return model
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func optionalString(value string) *string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return &value
}

func derefInt64(value *int64) int64 {
	if value == nil {
		return 0
	}
	return *value
}

func positiveInt64(value int64) *int64 {
	if value <= 0 {
		return nil
	}
	return &value
}

func optionalTime(value time.Time) *time.Time {
	if value.IsZero() {
		return nil
	}
	return &value
}

func cloneTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	clone := *value
	return &clone
}
