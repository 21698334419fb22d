// Package approval holds the Surat Pengantar request state machine.
//
//	DRAFT/SUBMITTED --RT approve--> RT_APPROVED
//	DRAFT/SUBMITTED --RT reject---> REJECTED (RT)
//	RT_APPROVED     --RW approve--> COMPLETED
//	RT_APPROVED     --RW reject---> REJECTED (RW)
//
// COMPLETED and REJECTED are terminal. The package has no I/O; callers load a
// request, call Apply, and persist the result conditionally on the prior status.
package approval

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Status is the wire status enum of a request.
type Status string

const (
	StatusDraft      Status = "DRAFT"
	StatusSubmitted  Status = "SUBMITTED"
	StatusRTApproved Status = "RT_APPROVED"
	// StatusRWApproved is accepted on the wire; Apply moves RW approvals straight to COMPLETED.
	StatusRWApproved Status = "RW_APPROVED"
	StatusCompleted  Status = "COMPLETED"
	StatusRejected   Status = "REJECTED"
)

// Statuses lists every status value in workflow order.
var Statuses = []Status{StatusDraft, StatusSubmitted, StatusRTApproved, StatusRWApproved, StatusCompleted, StatusRejected}

// ParseStatus validates a wire status.
func ParseStatus(value string) (Status, error) {
	for _, status := range Statuses {
		if string(status) == value {
			return status, nil
		}
	}
	return "", fmt.Errorf("approval: unknown status %q", value)
}

// Terminal reports whether no further decision is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusRejected
}

// Tier is an approval level.
type Tier string

const (
	TierRT Tier = "RT"
	TierRW Tier = "RW"
)

// ParseTier validates a tier name.
func ParseTier(value string) (Tier, error) {
	switch Tier(strings.ToUpper(strings.TrimSpace(value))) {
	case TierRT:
		return TierRT, nil
	case TierRW:
		return TierRW, nil
	}
	return "", fmt.Errorf("approval: unknown tier %q", value)
}

// Action is an approver's verdict.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// ParseWireAction maps the 'A'/'R' wire codes.
func ParseWireAction(code string) (Action, error) {
	switch strings.TrimSpace(code) {
	case "A":
		return ActionApprove, nil
	case "R":
		return ActionReject, nil
	}
	return "", fmt.Errorf("approval: unknown action %q", code)
}

// WireCode returns the 'A'/'R' code for the action.
func (a Action) WireCode() string {
	if a == ActionReject {
		return "R"
	}
	return "A"
}

// Reason length bounds, counted in characters after trimming.
const (
	MinReasonLength = 10
	MaxReasonLength = 500
)

var (
	// ErrInvalidTransition is returned when the request is not in the state the tier decides from.
	ErrInvalidTransition = errors.New("approval: invalid transition")
	// ErrNotesRequired is returned for a rejection without notes.
	ErrNotesRequired = errors.New("approval: notes are required when rejecting")
	// ErrReasonLength is returned when a reason falls outside the allowed bounds.
	ErrReasonLength = fmt.Errorf("approval: reason must be between %d and %d characters", MinReasonLength, MaxReasonLength)
	// ErrUnknownAction is returned for actions other than approve or reject.
	ErrUnknownAction = errors.New("approval: unknown action")
)

// Decision is one tier's recorded verdict.
type Decision struct {
	ApproverID string
	Action     Action
	Notes      string
	DecidedAt  time.Time
}

// Request is a Surat Pengantar request. RTID and RWID are copied from the
// applicant's residence at submission and scope who may decide.
type Request struct {
	ID          string
	CategoryID  string
	ApplicantID string
	RTID        int64
	RWID        int64
	Reason      string
	Status      Status
	RTDecision  *Decision
	RWDecision  *Decision
	RejectedAt  Tier
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Downloadable reports whether the letter may be rendered and downloaded.
func (r Request) Downloadable() bool {
	return r.Status == StatusCompleted &&
		r.RTDecision != nil && r.RTDecision.Action == ActionApprove &&
		r.RWDecision != nil && r.RWDecision.Action == ActionApprove
}

// NormalizeReason trims the reason and checks its length.
func NormalizeReason(reason string) (string, error) {
	trimmed := strings.TrimSpace(reason)
	n := utf8.RuneCountInString(trimmed)
	if n < MinReasonLength || n > MaxReasonLength {
		return "", ErrReasonLength
	}
	return trimmed, nil
}

// PendingStatus is the status a request must be in for tier to decide it.
func PendingStatus(tier Tier) Status {
	if tier == TierRW {
		return StatusRTApproved
	}
	return StatusSubmitted
}

// CanDecide reports whether tier may decide a request in status.
func CanDecide(status Status, tier Tier) bool {
	switch tier {
	case TierRT:
		return status == StatusSubmitted || status == StatusDraft
	case TierRW:
		return status == StatusRTApproved
	}
	return false
}

// Apply records decision for tier and returns the advanced request. The
// state precondition is checked before the notes requirement so a second
// decision is always reported as ErrInvalidTransition. req is not modified.
func Apply(req Request, tier Tier, decision Decision) (Request, error) {
	if !CanDecide(req.Status, tier) {
		return req, fmt.Errorf("%w: %s cannot decide a %s request", ErrInvalidTransition, tier, req.Status)
	}

	decision.Notes = strings.TrimSpace(decision.Notes)
	switch decision.Action {
	case ActionApprove:
	case ActionReject:
		if decision.Notes == "" {
			return req, ErrNotesRequired
		}
	default:
		return req, fmt.Errorf("%w: %q", ErrUnknownAction, decision.Action)
	}

	next := req
	recorded := decision
	switch tier {
	case TierRT:
		next.RTDecision = &recorded
		if decision.Action == ActionApprove {
			next.Status = StatusRTApproved
		} else {
			next.Status = StatusRejected
			next.RejectedAt = TierRT
		}
	case TierRW:
		next.RWDecision = &recorded
		if decision.Action == ActionApprove {
			next.Status = StatusCompleted
		} else {
			next.Status = StatusRejected
			next.RejectedAt = TierRW
		}
	}
	next.UpdatedAt = decision.DecidedAt
	return next, nil
}
