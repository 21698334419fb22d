package access

import (
	"context"
	"slices"
)

// DenyReason tags why authorization failed.
type DenyReason string

const (
	ReasonNotAuthenticated  DenyReason = "not_authenticated"
	ReasonIncompleteProfile DenyReason = "incomplete_profile"
	ReasonMissingRole       DenyReason = "missing_role"
	ReasonWrongLocation     DenyReason = "wrong_location"
)

// Result is the authorization outcome. Err is set when role lookup failed.
type Result struct {
	Allowed bool
	Reason  DenyReason
	Err     error
}

func permitted() Result { return Result{Allowed: true} }

func denied(reason DenyReason) Result { return Result{Reason: reason} }

// Location scopes an action to the RT and RW that own a resource. Zero IDs are not checked.
type Location struct {
	RTID int64
	RWID int64
}

// Authorize checks identity against the required roles. With loc set, a
// KETUA_RT assignment only counts when its RT equals loc.RTID and a KETUA_RW
// assignment only when its RW equals loc.RWID; other roles are unscoped.
func Authorize(identity *Identity, requiredRoles []RoleName, loc *Location) Result {
	if identity == nil {
		return denied(ReasonNotAuthenticated)
	}
	if !identity.ProfileComplete() {
		return denied(ReasonIncompleteProfile)
	}
	if len(requiredRoles) == 0 {
		return permitted()
	}

	holdsRole := false
	for _, assignment := range identity.Roles {
		if !slices.Contains(requiredRoles, assignment.Role) {
			continue
		}
		holdsRole = true
		if loc == nil || inScope(assignment, *loc) {
			return permitted()
		}
	}
	if holdsRole {
		return denied(ReasonWrongLocation)
	}
	return denied(ReasonMissingRole)
}

func inScope(assignment RoleAssignment, loc Location) bool {
	switch assignment.Role {
	case RoleKetuaRT:
		return loc.RTID == 0 || assignment.RTID == loc.RTID
	case RoleKetuaRW:
		return loc.RWID == 0 || assignment.RWID == loc.RWID
	default:
		return true
	}
}

// RoleSource loads the role assignments of a user.
type RoleSource interface {
	RolesFor(ctx context.Context, userID string) ([]RoleAssignment, error)
}

// AuthorizeRoute applies the route's role requirement after the gate allowed
// it. Routes without required roles are allowed without consulting source, so
// they stay reachable while the role service is down; routes with required
// roles are denied when the lookup fails.
func (g *Gate) AuthorizeRoute(ctx context.Context, identity *Identity, requested string, source RoleSource) Result {
	if identity == nil {
		return denied(ReasonNotAuthenticated)
	}
	rule, known := g.routes.Lookup(requested)
	if !known || len(rule.RequiredRoles) == 0 {
		return permitted()
	}

	scoped := *identity
	if source != nil {
		roles, err := source.RolesFor(ctx, identity.UserID)
		if err != nil {
			return Result{Reason: ReasonMissingRole, Err: err}
		}
		scoped.Roles = roles
	}
	return Authorize(&scoped, rule.RequiredRoles, nil)
}

// Check runs the gate and then the predicate for a route.
func (g *Gate) Check(ctx context.Context, identity *Identity, requested string, source RoleSource) (Decision, Result) {
	decision := g.Evaluate(identity, requested)
	if !decision.Allow {
		return decision, Result{}
	}
	return decision, g.AuthorizeRoute(ctx, identity, requested, source)
}
