package application

import (
	"time"

	"github.com/example/neighborhood-portal/internal/access"
	"github.com/example/neighborhood-portal/internal/approval"
)

// Principal represents the authenticated user invoking a service method.
type Principal struct {
	UserID string
	Email  string
}

// User is a resident account together with its onboarding progress.
type User struct {
	ID               string
	Email            string
	EmailVerified    bool
	KTPCompleted     bool
	DetailsCompleted bool
	NIK              string
	FullName         string
	RTID             int64
	RWID             int64
	Address          string
	Phone            string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Identity projects the user's onboarding flags and the given roles into the
// shape the access package evaluates.
func (u User) Identity(roles []access.RoleAssignment) *access.Identity {
	return &access.Identity{
		UserID:           u.ID,
		Email:            u.Email,
		EmailVerified:    u.EmailVerified,
		KTPCompleted:     u.KTPCompleted,
		DetailsCompleted: u.DetailsCompleted,
		Roles:            roles,
	}
}

// UserCredentials pairs a user with the stored password hash.
type UserCredentials struct {
	User         User
	PasswordHash string
}

// Session is a refresh session. Access tokens are stateless and not stored.
type Session struct {
	ID        string
	UserID    string
	Token     string
	ExpiresAt time.Time
	RevokedAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TokenPair is what login, verification, and refresh hand back to a client.
// ExpiresAt is the access token's expiry and drives client session monitoring.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	ExpiresAt        time.Time
	RefreshExpiresAt time.Time
}

// AuthResult bundles the signed-in user with freshly issued tokens.
type AuthResult struct {
	User   User
	Tokens TokenPair
}

// VerificationCode is a stored, hashed one-time email code.
type VerificationCode struct {
	ID             string
	UserID         string
	CodeHash       string
	ExpiresAt      time.Time
	ConsumedAt     *time.Time
	FailedAttempts int
	CreatedAt      time.Time
}

// Neighborhood is an RT with its parent RW. For RW lookups RTID is zero.
type Neighborhood struct {
	RTID int64
	RTNo string
	RWID int64
	RWNo string
}

// Category is a letter type residents can request.
type Category struct {
	ID          string
	Name        string
	Description string
	Active      bool
}

// SortOrder controls list ordering by creation time.
type SortOrder string

const (
	SortAscending  SortOrder = "asc"
	SortDescending SortOrder = "desc"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// ListQuery carries paging and filtering for request listings. A zero Status
// does not filter.
type ListQuery struct {
	Page      int
	Limit     int
	Status    approval.Status
	SortOrder SortOrder
}

// RequestPage is one page of approval requests.
type RequestPage struct {
	Items []approval.Request
	Page  int
	Limit int
	Total int
}

// RequestFilter is the repository-level form of a listing.
type RequestFilter struct {
	ApplicantID string
	RTIDs       []int64
	RWIDs       []int64
	Statuses    []approval.Status
	Offset      int
	Limit       int
	Ascending   bool
}

// RegisterParams carries sign-up input.
type RegisterParams struct {
	Email    string
	Password string
}

// LoginParams carries sign-in input.
type LoginParams struct {
	Email    string
	Password string
}

// VerifyEmailParams carries the emailed code for confirmation.
type VerifyEmailParams struct {
	Email string
	Code  string
}

// CompleteKTPParams carries the identity card step.
type CompleteKTPParams struct {
	NIK      string
	FullName string
}

// CompleteDetailsParams carries the residence step.
type CompleteDetailsParams struct {
	RTID    int64
	Address string
	Phone   string
}

// AssignRoleParams describes a role grant made by an administrator.
type AssignRoleParams struct {
	UserID string
	Role   access.RoleName
	RTID   int64
	RWID   int64
}

// SubmitParams carries a new Surat Pengantar request.
type SubmitParams struct {
	ApplicantID string
	CategoryID  string
	Reason      string
}

// DecideParams carries one tier's decision on a request.
type DecideParams struct {
	RequestID string
	Tier      approval.Tier
	ActorID   string
	Action    approval.Action
	Notes     string
}
