// Package access decides whether an identity may reach a portal route or act
// on a location-scoped resource.
//
// Two checks run in order. The onboarding gate looks only at profile
// completion facts and either allows the route or redirects to the next
// onboarding step. The authorization predicate then compares role
// assignments, optionally scoped to an RT or RW, against what the route or
// action requires.
package access

import (
	"errors"
	"fmt"
)

// RoleName enumerates the roles a resident account can be assigned.
type RoleName string

const (
	RoleKetuaRT    RoleName = "KETUA_RT"
	RoleKetuaRW    RoleName = "KETUA_RW"
	RoleAdmin      RoleName = "ADMIN"
	RoleSuperAdmin RoleName = "SUPER_ADMIN"
)

// ParseRoleName validates a wire role name.
func ParseRoleName(value string) (RoleName, error) {
	switch RoleName(value) {
	case RoleKetuaRT, RoleKetuaRW, RoleAdmin, RoleSuperAdmin:
		return RoleName(value), nil
	}
	return "", fmt.Errorf("access: unknown role %q", value)
}

// ErrUnscopedAssignment reports a tier role without its location.
var ErrUnscopedAssignment = errors.New("access: tier role requires a location scope")

// RoleAssignment is a role optionally scoped to one RT or RW. Zero IDs mean unscoped.
type RoleAssignment struct {
	Role RoleName
	RTID int64
	RTNo string
	RWID int64
	RWNo string
}

// Validate enforces that KETUA_RT carries an RT and KETUA_RW carries an RW.
func (a RoleAssignment) Validate() error {
	if _, err := ParseRoleName(string(a.Role)); err != nil {
		return err
	}
	switch a.Role {
	case RoleKetuaRT:
		if a.RTID <= 0 {
			return fmt.Errorf("%w: %s needs rt_id", ErrUnscopedAssignment, a.Role)
		}
	case RoleKetuaRW:
		if a.RWID <= 0 {
			return fmt.Errorf("%w: %s needs rw_id", ErrUnscopedAssignment, a.Role)
		}
	}
	return nil
}

// Step names an onboarding step in the order a resident completes them.
type Step int

const (
	StepNone Step = iota
	StepVerifyEmail
	StepCompleteKTP
	StepCompleteProfile
)

// Path returns the route that hosts the step, or the dashboard once onboarding is done.
func (s Step) Path() string {
	switch s {
	case StepVerifyEmail:
		return PathVerifyEmail
	case StepCompleteKTP:
		return PathCompleteKTP
	case StepCompleteProfile:
		return PathCompleteProfile
	default:
		return PathDashboard
	}
}

func (s Step) String() string {
	switch s {
	case StepVerifyEmail:
		return "verify_email"
	case StepCompleteKTP:
		return "complete_ktp"
	case StepCompleteProfile:
		return "complete_profile"
	default:
		return "none"
	}
}

// Identity is the authenticated actor together with the onboarding facts
// accumulated so far. The flags are expected to be set in order but any
// combination is tolerated.
type Identity struct {
	UserID           string
	Email            string
	EmailVerified    bool
	KTPCompleted     bool
	DetailsCompleted bool
	Roles            []RoleAssignment
}

// NextStep returns the first unmet requirement: email, then KTP, then details.
func (i *Identity) NextStep() Step {
	switch {
	case i == nil:
		return StepVerifyEmail
	case !i.EmailVerified:
		return StepVerifyEmail
	case !i.KTPCompleted:
		return StepCompleteKTP
	case !i.DetailsCompleted:
		return StepCompleteProfile
	}
	return StepNone
}

// ProfileComplete reports whether every onboarding step is done.
func (i *Identity) ProfileComplete() bool {
	return i != nil && i.NextStep() == StepNone
}

// HasRole reports whether any assignment carries one of the roles.
func (i *Identity) HasRole(roles ...RoleName) bool {
	if i == nil {
		return false
	}
	for _, assignment := range i.Roles {
		for _, role := range roles {
			if assignment.Role == role {
				return true
			}
		}
	}
	return false
}

// RTIDs returns the RTs the identity heads.
func (i *Identity) RTIDs() []int64 {
	return i.scopeIDs(RoleKetuaRT, func(a RoleAssignment) int64 { return a.RTID })
}

// RWIDs returns the RWs the identity heads.
func (i *Identity) RWIDs() []int64 {
	return i.scopeIDs(RoleKetuaRW, func(a RoleAssignment) int64 { return a.RWID })
}

func (i *Identity) scopeIDs(role RoleName, pick func(RoleAssignment) int64) []int64 {
	if i == nil {
		return nil
	}
	var out []int64
	seen := make(map[int64]struct{})
	for _, assignment := range i.Roles {
		if assignment.Role != role {
			continue
		}
		id := pick(assignment)
		if id <= 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
