package access

import (
	"context"
	"errors"
	"testing"
)

type roleSourceStub struct {
	roles []RoleAssignment
	err   error
	calls int
}

func (s *roleSourceStub) RolesFor(context.Context, string) ([]RoleAssignment, error) {
	s.calls++
	return s.roles, s.err
}

func completeIdentity(roles ...RoleAssignment) *Identity {
	identity := identityWith(true, true, true)
	identity.Roles = roles
	return identity
}

func TestAuthorize(t *testing.T) {
	t.Parallel()

	rt5 := RoleAssignment{Role: RoleKetuaRT, RTID: 5, RWID: 2}
	rw2 := RoleAssignment{Role: RoleKetuaRW, RWID: 2}
	admin := RoleAssignment{Role: RoleAdmin}

	tests := []struct {
		name     string
		identity *Identity
		required []RoleName
		loc      *Location
		want     Result
	}{
		{name: "nil identity", required: nil, want: denied(ReasonNotAuthenticated)},
		{name: "incomplete profile", identity: identityWith(true, true, false), want: denied(ReasonIncompleteProfile)},
		{name: "no roles required", identity: completeIdentity(), want: permitted()},
		{name: "role present", identity: completeIdentity(rt5), required: []RoleName{RoleKetuaRT}, want: permitted()},
		{name: "role missing", identity: completeIdentity(rw2), required: []RoleName{RoleKetuaRT}, want: denied(ReasonMissingRole)},
		{name: "rt scope matches", identity: completeIdentity(rt5), required: []RoleName{RoleKetuaRT}, loc: &Location{RTID: 5}, want: permitted()},
		{name: "rt scope mismatch", identity: completeIdentity(rt5), required: []RoleName{RoleKetuaRT}, loc: &Location{RTID: 7}, want: denied(ReasonWrongLocation)},
		{name: "rw scope mismatch", identity: completeIdentity(rw2), required: []RoleName{RoleKetuaRW}, loc: &Location{RWID: 3}, want: denied(ReasonWrongLocation)},
		{name: "second assignment in scope", identity: completeIdentity(RoleAssignment{Role: RoleKetuaRT, RTID: 1}, rt5), required: []RoleName{RoleKetuaRT}, loc: &Location{RTID: 5}, want: permitted()},
		{name: "admin is unscoped", identity: completeIdentity(admin), required: []RoleName{RoleAdmin, RoleKetuaRT}, loc: &Location{RTID: 9, RWID: 9}, want: permitted()},
		{name: "admin does not satisfy tier role", identity: completeIdentity(admin), required: []RoleName{RoleKetuaRT}, loc: &Location{RTID: 5}, want: denied(ReasonMissingRole)},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := Authorize(tc.identity, tc.required, tc.loc)
			if got != tc.want {
				t.Fatalf("Authorize() = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestGate_AuthorizeRoute(t *testing.T) {
	t.Parallel()

	gate := NewGate(nil)
	ctx := context.Background()

	t.Run("rt surface accepts any rt assignment", func(t *testing.T) {
		t.Parallel()
		source := &roleSourceStub{roles: []RoleAssignment{{Role: RoleKetuaRT, RTID: 3}}}
		got := gate.AuthorizeRoute(ctx, completeIdentity(), "/rt/pending", source)
		if !got.Allowed {
			t.Fatalf("expected rt page access, got %+v", got)
		}
	})

	t.Run("admin surface requires fixed role set", func(t *testing.T) {
		t.Parallel()
		source := &roleSourceStub{roles: []RoleAssignment{{Role: RoleKetuaRW, RWID: 1}}}
		got := gate.AuthorizeRoute(ctx, completeIdentity(), "/admin/users", source)
		if got.Allowed || got.Reason != ReasonMissingRole {
			t.Fatalf("expected missing_role, got %+v", got)
		}
	})

	t.Run("role fetch failure fails closed on role routes", func(t *testing.T) {
		t.Parallel()
		boom := errors.New("role service unavailable")
		source := &roleSourceStub{err: boom}
		got := gate.AuthorizeRoute(ctx, completeIdentity(), "/rw/pending", source)
		if got.Allowed {
			t.Fatalf("expected deny when roles cannot be fetched")
		}
		if !errors.Is(got.Err, boom) {
			t.Fatalf("expected fetch error to be reported, got %v", got.Err)
		}
	})

	t.Run("role fetch failure fails open on role-less routes", func(t *testing.T) {
		t.Parallel()
		source := &roleSourceStub{err: errors.New("role service unavailable")}
		got := gate.AuthorizeRoute(ctx, completeIdentity(), PathDashboard, source)
		if !got.Allowed {
			t.Fatalf("expected role-less route to stay reachable, got %+v", got)
		}
		if source.calls != 0 {
			t.Fatalf("expected no role lookup for role-less route")
		}
	})

	t.Run("check short circuits on gate redirect", func(t *testing.T) {
		t.Parallel()
		source := &roleSourceStub{}
		decision, result := gate.Check(ctx, identityWith(true, false, false), "/rt/pending", source)
		if decision.Allow || decision.RedirectTo != PathCompleteKTP {
			t.Fatalf("expected ktp redirect, got %+v", decision)
		}
		if result.Allowed || source.calls != 0 {
			t.Fatalf("expected predicate to be skipped, got %+v calls=%d", result, source.calls)
		}
	})
}

func TestRoleAssignment_Validate(t *testing.T) {
	t.Parallel()

	valid := []RoleAssignment{
		{Role: RoleKetuaRT, RTID: 1},
		{Role: RoleKetuaRW, RWID: 1},
		{Role: RoleAdmin},
		{Role: RoleSuperAdmin},
	}
	for _, a := range valid {
		if err := a.Validate(); err != nil {
			t.Fatalf("expected %+v to be valid, got %v", a, err)
		}
	}

	invalid := []RoleAssignment{
		{Role: RoleKetuaRT},
		{Role: RoleKetuaRW, RTID: 4},
		{Role: "MAYOR"},
	}
	for _, a := range invalid {
		if err := a.Validate(); err == nil {
			t.Fatalf("expected %+v to be rejected", a)
		}
	}
	if err := (RoleAssignment{Role: RoleKetuaRT}).Validate(); !errors.Is(err, ErrUnscopedAssignment) {
		t.Fatalf("expected ErrUnscopedAssignment, got %v", err)
	}
}
