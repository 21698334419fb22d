package portalclient

import (
	"context"
	"net/http"
	"net/url"

	"github.com/example/neighborhood-portal/internal/access"
	"github.com/example/neighborhood-portal/internal/application"
	"github.com/example/neighborhood-portal/internal/session"
)

func shapeError(op string, err error) error {
	return &application.TransportError{Op: op, Err: err}
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (c *Client) Register(ctx context.Context, email, password string) (application.User, error) {
	var out wireUserEnvelope
	err := c.do(ctx, call{op: "register", method: http.MethodPost, path: "/auth/register", body: credentials{email, password}, expect: http.StatusCreated, out: &out})
	if err != nil {
		return application.User{}, err
	}
	user, err := out.User.toUser()
	if err != nil {
		return application.User{}, shapeError("register", err)
	}
	return user, nil
}

// Login signs in and installs the new session in the store.
func (c *Client) Login(ctx context.Context, email, password string) (application.AuthResult, error) {
	return c.signIn(ctx, "login", "/auth/login", credentials{email, password})
}

// VerifyEmail confirms the emailed code, which also signs the user in.
func (c *Client) VerifyEmail(ctx context.Context, email, code string) (application.AuthResult, error) {
	body := struct {
		Email string `json:"email"`
		Code  string `json:"code"`
	}{email, code}
	return c.signIn(ctx, "verify_email", "/auth/verify-email", body)
}

func (c *Client) signIn(ctx context.Context, op, path string, body any) (application.AuthResult, error) {
	var out wireAuth
	if err := c.do(ctx, call{op: op, method: http.MethodPost, path: path, body: body, expect: http.StatusOK, out: &out}); err != nil {
		return application.AuthResult{}, err
	}
	result, err := out.toResult()
	if err != nil {
		return application.AuthResult{}, shapeError(op, err)
	}
	c.store.Set(sessionFrom(result.Tokens))
	c.store.SetIdentity(result.User.Identity(nil))
	return result, nil
}

func (c *Client) ResendVerification(ctx context.Context, email string) error {
	body := struct {
		Email string `json:"email"`
	}{email}
	var out wireAccepted
	return c.do(ctx, call{op: "resend_verification", method: http.MethodPost, path: "/auth/resend-verification", body: body, expect: http.StatusAccepted, out: &out})
}

type refreshBody struct {
	RefreshToken string `json:"refreshToken"`
}

// Refresh exchanges refreshToken for a new session without touching the
// store; the session monitor decides how to apply it.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (session.Session, error) {
	var out wireAuth
	if err := c.do(ctx, call{op: "refresh", method: http.MethodPost, path: "/auth/refresh", body: refreshBody{refreshToken}, expect: http.StatusOK, out: &out}); err != nil {
		return session.Session{}, err
	}
	result, err := out.toResult()
	if err != nil {
		return session.Session{}, shapeError("refresh", err)
	}
	return sessionFrom(result.Tokens), nil
}

// Logout revokes the refresh session and clears the store even when the
// server could not be reached.
func (c *Client) Logout(ctx context.Context) error {
	current, ok := c.store.Get()
	c.store.Clear()
	if !ok {
		return nil
	}
	return c.do(ctx, call{op: "logout", method: http.MethodPost, path: "/auth/logout", body: refreshBody{current.RefreshToken}, expect: http.StatusNoContent})
}

// LogoutAll revokes every session of the user, then clears the store.
func (c *Client) LogoutAll(ctx context.Context) error {
	err := c.do(ctx, call{op: "logout_all", method: http.MethodPost, path: "/auth/logout-all", auth: true, expect: http.StatusNoContent})
	c.store.Clear()
	return err
}

func (c *Client) Me(ctx context.Context) (application.User, error) {
	return c.userCall(ctx, "me", http.MethodGet, "/auth/me", nil)
}

func (c *Client) CompleteKTP(ctx context.Context, nik, fullName string) (application.User, error) {
	body := struct {
		NIK      string `json:"nik"`
		FullName string `json:"fullName"`
	}{nik, fullName}
	return c.userCall(ctx, "complete_ktp", http.MethodPost, "/profile/ktp", body)
}

func (c *Client) CompleteDetails(ctx context.Context, rtID int64, address, phone string) (application.User, error) {
	body := struct {
		RTID    int64  `json:"rtId"`
		Address string `json:"address"`
		Phone   string `json:"phone"`
	}{rtID, address, phone}
	return c.userCall(ctx, "complete_details", http.MethodPost, "/profile/details", body)
}

func (c *Client) userCall(ctx context.Context, op, method, path string, body any) (application.User, error) {
	var out wireUserEnvelope
	if err := c.do(ctx, call{op: op, method: method, path: path, body: body, auth: true, expect: http.StatusOK, out: &out}); err != nil {
		return application.User{}, err
	}
	user, err := out.User.toUser()
	if err != nil {
		return application.User{}, shapeError(op, err)
	}
	return user, nil
}

func (c *Client) MyRoles(ctx context.Context) ([]access.RoleAssignment, error) {
	var out wireRoles
	if err := c.do(ctx, call{op: "my_roles", method: http.MethodGet, path: "/user-roles/my-roles", auth: true, expect: http.StatusOK, out: &out}); err != nil {
		return nil, err
	}
	roles := make([]access.RoleAssignment, 0, len(out.Roles))
	for _, w := range out.Roles {
		role, err := w.toAssignment()
		if err != nil {
			return nil, shapeError("my_roles", err)
		}
		roles = append(roles, role)
	}
	return roles, nil
}

// LoadIdentity fetches the user and roles and caches the identity in the store.
func (c *Client) LoadIdentity(ctx context.Context) (*access.Identity, error) {
	user, err := c.Me(ctx)
	if err != nil {
		return nil, err
	}
	roles, err := c.MyRoles(ctx)
	if err != nil {
		return nil, err
	}
	identity := user.Identity(roles)
	c.store.SetIdentity(identity)
	return identity, nil
}

// Evaluation is the server's gate and role decision for one path.
type Evaluation struct {
	Decision access.Decision
	Result   access.Result
}

func (c *Client) Evaluate(ctx context.Context, path string) (Evaluation, error) {
	var out wireEvaluate
	if err := c.do(ctx, call{op: "evaluate", method: http.MethodGet, path: "/access/evaluate", query: url.Values{"path": {path}}, auth: true, expect: http.StatusOK, out: &out}); err != nil {
		return Evaluation{}, err
	}
	return Evaluation{
		Decision: access.Decision{Allow: out.Allow, RedirectTo: out.RedirectTo, ReturnTo: out.ReturnTo},
		Result:   access.Result{Allowed: out.Authorized, Reason: access.DenyReason(out.Reason)},
	}, nil
}

func (c *Client) AssignRole(ctx context.Context, params application.AssignRoleParams) (access.RoleAssignment, error) {
	body := struct {
		UserID string `json:"userId"`
		Role   string `json:"role"`
		RTID   int64  `json:"rtId,omitempty"`
		RWID   int64  `json:"rwId,omitempty"`
	}{params.UserID, string(params.Role), params.RTID, params.RWID}
	var out wireRole
	if err := c.do(ctx, call{op: "assign_role", method: http.MethodPost, path: "/admin/user-roles", body: body, auth: true, expect: http.StatusCreated, out: &out}); err != nil {
		return access.RoleAssignment{}, err
	}
	role, err := out.toAssignment()
	if err != nil {
		return access.RoleAssignment{}, shapeError("assign_role", err)
	}
	return role, nil
}
