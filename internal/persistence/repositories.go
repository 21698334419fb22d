package persistence

import (
	"context"
	"time"
)

// UserRepository stores resident accounts.
type UserRepository interface {
	CreateUser(ctx context.Context, user User) error
	UpdateUser(ctx context.Context, user User) error
	GetUser(ctx context.Context, id string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
}

// NeighborhoodRepository resolves RT and RW reference data.
type NeighborhoodRepository interface {
	GetRT(ctx context.Context, rtID int64) (Neighborhood, error)
	GetRW(ctx context.Context, rwID int64) (Neighborhood, error)
}

// RoleRepository stores role assignments.
type RoleRepository interface {
	ListRolesForUser(ctx context.Context, userID string) ([]RoleAssignment, error)
	CreateRole(ctx context.Context, role RoleAssignment) error
}

// CategoryRepository reads the letter category catalog.
type CategoryRepository interface {
	ListCategories(ctx context.Context) ([]Category, error)
	GetCategory(ctx context.Context, id string) (Category, error)
}

// ApprovalFilter narrows approval request listings. Empty slices do not filter.
type ApprovalFilter struct {
	ApplicantID string
	RTIDs       []int64
	RWIDs       []int64
	Statuses    []string
	Offset      int
	Limit       int
	Ascending   bool
}

// ApprovalRepository stores Surat Pengantar requests.
type ApprovalRepository interface {
	CreateRequest(ctx context.Context, request ApprovalRequest) error
	GetRequest(ctx context.Context, id string) (ApprovalRequest, error)
	// UpdateRequestIfStatus writes request only when the stored status still
	// equals expectedStatus, returning ErrConflict otherwise.
	UpdateRequestIfStatus(ctx context.Context, request ApprovalRequest, expectedStatus string) error
	ListRequests(ctx context.Context, filter ApprovalFilter) ([]ApprovalRequest, int, error)
}

// SessionRepository stores refresh session state.
type SessionRepository interface {
	CreateSession(ctx context.Context, session Session) (Session, error)
	GetSession(ctx context.Context, token string) (Session, error)
	RevokeSession(ctx context.Context, token string, revokedAt time.Time) (Session, error)
	RevokeUserSessions(ctx context.Context, userID string, revokedAt time.Time) (int, error)
	DeleteExpiredSessions(ctx context.Context, reference time.Time) error
}

// VerificationCodeRepository stores email verification codes.
type VerificationCodeRepository interface {
	CreateCode(ctx context.Context, code VerificationCode) error
	LatestCode(ctx context.Context, userID string) (VerificationCode, error)
	ConsumeCode(ctx context.Context, id string, consumedAt time.Time) error
	RecordFailedAttempt(ctx context.Context, id string, limit int, at time.Time) (int, error)
}
