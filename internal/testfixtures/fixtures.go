package testfixtures

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/example/neighborhood-portal/internal/access"
	"github.com/example/neighborhood-portal/internal/application"
	"github.com/example/neighborhood-portal/internal/approval"
	"github.com/example/neighborhood-portal/internal/persistence"
)

var (
	userCounter    uint64
	requestCounter uint64
)

var referenceTime = time.Date(2024, time.January, 2, 15, 4, 5, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// Seeded reference data from the default migrations.
const (
	SeedRWID int64 = 1
	SeedRTID int64 = 1
	SeedRTNo       = "001"
	SeedRWNo       = "001"

	CategoryDomisili = "domisili"
)

// ----------------------------- Resident fixtures -----------------------------

// UserFixture is a deterministic resident account. By default it has finished
// onboarding and lives in the seeded RT.
type UserFixture struct {
	ID               string
	Email            string
	PasswordHash     string
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
}

// UserOption configures the generated user fixture.
type UserOption func(*UserFixture)

// NewUserFixture returns a deterministic, fully onboarded resident.
func NewUserFixture(opts ...UserOption) UserFixture {
	idx := atomic.AddUint64(&userCounter, 1)
	id := fmt.Sprintf("warga-%03d", idx)
	fixture := UserFixture{
		ID:               id,
		Email:            fmt.Sprintf("%s@example.com", id),
		PasswordHash:     fmt.Sprintf("hash-%03d", idx),
		EmailVerified:    true,
		KTPCompleted:     true,
		DetailsCompleted: true,
		NIK:              fmt.Sprintf("3174%012d", idx),
		FullName:         fmt.Sprintf("Warga %03d", idx),
		RTID:             SeedRTID,
		RWID:             SeedRWID,
		Address:          fmt.Sprintf("Jl. Melati No. %d", idx),
		Phone:            fmt.Sprintf("0812%08d", idx),
		CreatedAt:        referenceTime.Add(time.Duration(idx) * time.Minute),
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithUserID overrides the generated identifier.
func WithUserID(id string) UserOption {
	return func(f *UserFixture) {
		f.ID = id
	}
}

// WithUserEmail overrides the generated email address.
func WithUserEmail(email string) UserOption {
	return func(f *UserFixture) {
		f.Email = email
	}
}

// WithUserPasswordHash overrides the stored password hash.
func WithUserPasswordHash(hash string) UserOption {
	return func(f *UserFixture) {
		f.PasswordHash = hash
	}
}

// WithResidence places the resident in another RT.
func WithResidence(rtID, rwID int64) UserOption {
	return func(f *UserFixture) {
		f.RTID = rtID
		f.RWID = rwID
	}
}

// AtStep rewinds onboarding so that step is the next one the resident must
// complete. StepNone keeps the fixture fully onboarded.
func AtStep(step access.Step) UserOption {
	return func(f *UserFixture) {
		switch step {
		case access.StepVerifyEmail:
			f.EmailVerified = false
			fallthrough
		case access.StepCompleteKTP:
			f.KTPCompleted = false
			f.NIK = ""
			f.FullName = ""
			fallthrough
		case access.StepCompleteProfile:
			f.DetailsCompleted = false
			f.RTID = 0
			f.RWID = 0
			f.Address = ""
			f.Phone = ""
		}
	}
}

// Application returns the fixture as an application.User value.
func (f UserFixture) Application() application.User {
	return application.User{
		ID:               f.ID,
		Email:            f.Email,
		EmailVerified:    f.EmailVerified,
		KTPCompleted:     f.KTPCompleted,
		DetailsCompleted: f.DetailsCompleted,
		NIK:              f.NIK,
		FullName:         f.FullName,
		RTID:             f.RTID,
		RWID:             f.RWID,
		Address:          f.Address,
		Phone:            f.Phone,
		CreatedAt:        f.CreatedAt,
		UpdatedAt:        f.CreatedAt,
	}
}

// Principal returns an application.Principal derived from the fixture.
func (f UserFixture) Principal() application.Principal {
	return application.Principal{UserID: f.ID, Email: f.Email}
}

// Identity returns the access identity for the fixture holding roles.
func (f UserFixture) Identity(roles ...access.RoleAssignment) *access.Identity {
	return f.Application().Identity(roles)
}

// Persistence returns the fixture as a persistence.User value. RWID is left
// nil because storage derives it from the RT.
func (f UserFixture) Persistence() persistence.User {
	return persistence.User{
		ID:               f.ID,
		Email:            f.Email,
		PasswordHash:     f.PasswordHash,
		EmailVerified:    f.EmailVerified,
		KTPCompleted:     f.KTPCompleted,
		DetailsCompleted: f.DetailsCompleted,
		NIK:              optional(f.NIK),
		FullName:         optional(f.FullName),
		RTID:             optionalID(f.RTID),
		Address:          optional(f.Address),
		Phone:            optional(f.Phone),
		CreatedAt:        f.CreatedAt,
		UpdatedAt:        f.CreatedAt,
	}
}

// ----------------------------- Role fixtures -----------------------------

// KetuaRT returns an RT head assignment scoped to the given RT.
func KetuaRT(rtID, rwID int64) access.RoleAssignment {
	return access.RoleAssignment{
		Role: access.RoleKetuaRT,
		RTID: rtID,
		RTNo: fmt.Sprintf("%03d", rtID),
		RWID: rwID,
		RWNo: fmt.Sprintf("%03d", rwID),
	}
}

// KetuaRW returns an RW head assignment scoped to the given RW.
func KetuaRW(rwID int64) access.RoleAssignment {
	return access.RoleAssignment{
		Role: access.RoleKetuaRW,
		RWID: rwID,
		RWNo: fmt.Sprintf("%03d", rwID),
	}
}

// Admin returns an unscoped administrator assignment.
func Admin() access.RoleAssignment {
	return access.RoleAssignment{Role: access.RoleAdmin}
}

// RoleRow returns the stored form of assignment for userID.
func RoleRow(id, userID string, assignment access.RoleAssignment) persistence.RoleAssignment {
	return persistence.RoleAssignment{
		ID:        id,
		UserID:    userID,
		Role:      string(assignment.Role),
		RTID:      optionalID(assignment.RTID),
		RWID:      optionalID(assignment.RWID),
		CreatedAt: referenceTime,
	}
}

// ----------------------------- Request fixtures -----------------------------

// RequestOption configures a request fixture.
type RequestOption func(*approval.Request)

// NewRequest returns a SUBMITTED request from applicant scoped to the
// applicant's residence.
func NewRequest(applicant UserFixture, opts ...RequestOption) approval.Request {
	idx := atomic.AddUint64(&requestCounter, 1)
	created := referenceTime.Add(time.Duration(idx) * time.Hour)
	request := approval.Request{
		ID:          fmt.Sprintf("req-%04d", idx),
		CategoryID:  CategoryDomisili,
		ApplicantID: applicant.ID,
		RTID:        applicant.RTID,
		RWID:        applicant.RWID,
		Reason:      "Keperluan administrasi pindah domisili",
		Status:      approval.StatusSubmitted,
		CreatedAt:   created,
		UpdatedAt:   created,
	}
	for _, opt := range opts {
		opt(&request)
	}
	return request
}

// WithRequestID overrides the generated identifier.
func WithRequestID(id string) RequestOption {
	return func(r *approval.Request) {
		r.ID = id
	}
}

// WithReason overrides the request reason.
func WithReason(reason string) RequestOption {
	return func(r *approval.Request) {
		r.Reason = reason
	}
}

// DecidedBy applies decisions in order through the workflow, so the fixture
// always holds a reachable state. It panics on an invalid sequence.
func DecidedBy(decisions ...TierDecision) RequestOption {
	return func(r *approval.Request) {
		for _, d := range decisions {
			next, err := approval.Apply(*r, d.Tier, approval.Decision{
				ApproverID: d.ApproverID,
				Action:     d.Action,
				Notes:      d.Notes,
				DecidedAt:  r.UpdatedAt.Add(time.Hour),
			})
			if err != nil {
				panic(fmt.Sprintf("testfixtures: %s %s: %v", d.Tier, d.Action, err))
			}
			*r = next
		}
	}
}

// TierDecision is one step fed to DecidedBy.
type TierDecision struct {
	Tier       approval.Tier
	ApproverID string
	Action     approval.Action
	Notes      string
}

// RTApproves is an RT approval by approverID.
func RTApproves(approverID string) TierDecision {
	return TierDecision{Tier: approval.TierRT, ApproverID: approverID, Action: approval.ActionApprove}
}

// RWApproves is an RW approval by approverID.
func RWApproves(approverID string) TierDecision {
	return TierDecision{Tier: approval.TierRW, ApproverID: approverID, Action: approval.ActionApprove}
}

// Rejects is a rejection at tier with notes.
func Rejects(tier approval.Tier, approverID, notes string) TierDecision {
	return TierDecision{Tier: tier, ApproverID: approverID, Action: approval.ActionReject, Notes: notes}
}

func optional(value string) *string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return &value
}

func optionalID(value int64) *int64 {
	if value <= 0 {
		return nil
	}
	return &value
}
