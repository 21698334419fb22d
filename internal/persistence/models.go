package persistence

import "time"

// User represents a resident account together with its onboarding progress.
type User struct {
	ID               string
	Email            string
	PasswordHash     string
	EmailVerified    bool
	KTPCompleted     bool
	DetailsCompleted bool
	NIK              *string
	FullName         *string
	RTID             *int64
	RWID             *int64 // derived from RTID on read
	Address          *string
	Phone            *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Neighborhood is an RT joined with the RW it belongs to.
type Neighborhood struct {
	RTID int64
	RTNo string
	RWID int64
	RWNo string
}

// RoleAssignment is one row of the role_assignments table. RTNo and RWNo are
// filled from the neighborhood tables on read.
type RoleAssignment struct {
	ID        string
	UserID    string
	Role      string
	RTID      *int64
	RTNo      string
	RWID      *int64
	RWNo      string
	CreatedAt time.Time
}

// Category is a letter type residents can request.
type Category struct {
	ID          string
	Name        string
	Description string
	Active      bool
}

// ApprovalRequest is the stored form of a Surat Pengantar request. Decision
// columns stay nil until the tier has decided.
type ApprovalRequest struct {
	ID           string
	CategoryID   string
	ApplicantID  string
	RTID         int64
	RWID         int64
	Reason       string
	Status       string
	RTApproverID *string
	RTAction     *string
	RTNotes      *string
	RTDecidedAt  *time.Time
	RWApproverID *string
	RWAction     *string
	RWNotes      *string
	RWDecidedAt  *time.Time
	RejectedAt   *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Session represents a refresh session persisted for a user.
type Session struct {
	ID        string
	UserID    string
	Token     string
	ExpiresAt time.Time
	RevokedAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// VerificationCode stores the hash of an emailed one-time code.
type VerificationCode struct {
	ID             string
	UserID         string
	CodeHash       string
	ExpiresAt      time.Time
	ConsumedAt     *time.Time
	FailedAttempts int
	CreatedAt      time.Time
}
