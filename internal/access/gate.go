package access

// Decision is the onboarding gate outcome. When Allow is false the caller
// must navigate to RedirectTo. ReturnTo carries the originally requested path
// for replay after login.
type Decision struct {
	Allow      bool
	RedirectTo string
	ReturnTo   string
}

func allow() Decision { return Decision{Allow: true} }

func redirect(to string) Decision { return Decision{RedirectTo: to} }

// Gate evaluates route reachability from onboarding facts.
type Gate struct {
	routes *RouteTable
}

// NewGate builds a gate over the table. A nil table uses DefaultRoutes.
func NewGate(routes *RouteTable) *Gate {
	if routes == nil {
		routes = DefaultRoutes()
	}
	return &Gate{routes: routes}
}

// Routes exposes the table backing the gate.
func (g *Gate) Routes() *RouteTable {
	return g.routes
}

// Evaluate decides whether identity may open requested. A nil identity is
// treated as unauthenticated.
//
// Unknown paths are allowed only when onboarding is complete; otherwise they
// redirect to the next step, so URLs missing from the table cannot bypass it.
func (g *Gate) Evaluate(identity *Identity, requested string) Decision {
	p := NormalizePath(requested)
	rule, known := g.routes.Lookup(p)

	if known && rule.Level == LevelPublic {
		return allow()
	}
	if identity == nil {
		return Decision{RedirectTo: PathLogin, ReturnTo: p}
	}

	next := identity.NextStep()

	if p == PathRoot {
		return redirect(next.Path())
	}

	if !identity.EmailVerified {
		if known && rule.Step == StepVerifyEmail {
			return allow()
		}
		return redirect(PathVerifyEmail)
	}

	if !known {
		if next == StepNone {
			return allow()
		}
		return redirect(next.Path())
	}

	if rule.Step != StepNone {
		if rule.Step == next {
			return allow()
		}
		return redirect(next.Path())
	}

	if rule.Level >= LevelKTP && !identity.KTPCompleted {
		return redirect(PathCompleteKTP)
	}
	if rule.Level >= LevelComplete && !identity.DetailsCompleted {
		return redirect(PathCompleteProfile)
	}
	return allow()
}
