package access

import (
	"path"
	"sort"
	"strings"
)

// Well-known portal routes.
const (
	PathRoot            = "/"
	PathLogin           = "/login"
	PathRegister        = "/register"
	PathVerifyEmail     = "/verify-email"
	PathCompleteKTP     = "/complete-ktp"
	PathCompleteProfile = "/complete-profile"
	PathDashboard       = "/dashboard"
)

// Level is the minimum onboarding progress a route needs.
type Level int

const (
	LevelPublic Level = iota
	LevelAuthenticated
	LevelEmailVerified
	LevelKTP
	LevelComplete
)

// Rule describes one route. Pattern is an exact path or a "prefix/*" subtree.
// Step marks onboarding pages; they are only reachable while that step is next.
type Rule struct {
	Pattern       string
	Level         Level
	Step          Step
	RequiredRoles []RoleName
}

func (r Rule) matches(p string) bool {
	if prefix, ok := strings.CutSuffix(r.Pattern, "/*"); ok {
		return p == prefix || strings.HasPrefix(p, prefix+"/")
	}
	return p == r.Pattern
}

// RouteTable is the declarative route requirement list shared by the gate and
// the authorization predicate.
type RouteTable struct {
	exact    map[string]Rule
	prefixes []Rule
}

// NewRouteTable indexes the rules. Longer prefixes win over shorter ones.
func NewRouteTable(rules ...Rule) *RouteTable {
	table := &RouteTable{exact: make(map[string]Rule)}
	for _, rule := range rules {
		if strings.HasSuffix(rule.Pattern, "/*") {
			table.prefixes = append(table.prefixes, rule)
			continue
		}
		table.exact[rule.Pattern] = rule
	}
	sort.SliceStable(table.prefixes, func(i, j int) bool {
		return len(table.prefixes[i].Pattern) > len(table.prefixes[j].Pattern)
	})
	return table
}

// Lookup finds the rule for a path. ok is false for paths the table does not know.
func (t *RouteTable) Lookup(requested string) (Rule, bool) {
	if t == nil {
		return Rule{}, false
	}
	p := NormalizePath(requested)
	if rule, ok := t.exact[p]; ok {
		return rule, true
	}
	for _, rule := range t.prefixes {
		if rule.matches(p) {
			return rule, true
		}
	}
	return Rule{}, false
}

// NormalizePath drops query strings and fragments and cleans dot segments so
// that "/rt/../admin" is judged as "/admin".
func NormalizePath(requested string) string {
	p := strings.TrimSpace(requested)
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return PathRoot
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

var (
	tierRTRoles    = []RoleName{RoleKetuaRT}
	tierRWRoles    = []RoleName{RoleKetuaRW}
	administrators = []RoleName{RoleAdmin, RoleSuperAdmin}
)

// DefaultRoutes returns the portal's route requirement table.
func DefaultRoutes() *RouteTable {
	return NewRouteTable(
		Rule{Pattern: PathLogin, Level: LevelPublic},
		Rule{Pattern: PathRegister, Level: LevelPublic},
		Rule{Pattern: "/forgot-password", Level: LevelPublic},
		Rule{Pattern: "/verify/*", Level: LevelPublic},
		Rule{Pattern: PathVerifyEmail, Level: LevelAuthenticated, Step: StepVerifyEmail},
		Rule{Pattern: PathCompleteKTP, Level: LevelEmailVerified, Step: StepCompleteKTP},
		Rule{Pattern: PathCompleteProfile, Level: LevelKTP, Step: StepCompleteProfile},
		Rule{Pattern: "/profile", Level: LevelKTP},
		Rule{Pattern: PathDashboard, Level: LevelComplete},
		Rule{Pattern: "/surat-pengantar/*", Level: LevelComplete},
		Rule{Pattern: "/rt/*", Level: LevelComplete, RequiredRoles: tierRTRoles},
		Rule{Pattern: "/rw/*", Level: LevelComplete, RequiredRoles: tierRWRoles},
		Rule{Pattern: "/admin/*", Level: LevelComplete, RequiredRoles: administrators},
	)
}
