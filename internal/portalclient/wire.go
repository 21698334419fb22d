package portalclient

import (
	"errors"
	"fmt"
	"time"

	"github.com/example/neighborhood-portal/internal/access"
	"github.com/example/neighborhood-portal/internal/application"
	"github.com/example/neighborhood-portal/internal/approval"
	"github.com/example/neighborhood-portal/internal/session"
)

type wireUser struct {
	ID               string `json:"id"`
	Email            string `json:"email"`
	EmailVerified    bool   `json:"emailVerified"`
	KTPCompleted     bool   `json:"ktpCompleted"`
	DetailsCompleted bool   `json:"detailsCompleted"`
	NIK              string `json:"nik,omitempty"`
	FullName         string `json:"fullName,omitempty"`
	RTID             int64  `json:"rtId,omitempty"`
	RWID             int64  `json:"rwId,omitempty"`
	Address          string `json:"address,omitempty"`
	Phone            string `json:"phone,omitempty"`
	CreatedAt        string `json:"createdAt"`
	UpdatedAt        string `json:"updatedAt"`
}

type wireUserEnvelope struct {
	User wireUser `json:"user"`
}

type wireAuth struct {
	User             wireUser `json:"user"`
	AccessToken      string   `json:"accessToken"`
	RefreshToken     string   `json:"refreshToken"`
	ExpiresAt        string   `json:"expiresAt"`
	RefreshExpiresAt string   `json:"refreshExpiresAt,omitempty"`
}

type wireRole struct {
	RoleName string `json:"role_name"`
	RTID     int64  `json:"rt_id,omitempty"`
	RTNo     string `json:"rt_no,omitempty"`
	RWID     int64  `json:"rw_id,omitempty"`
	RWNo     string `json:"rw_no,omitempty"`
}

type wireRoles struct {
	Roles []wireRole `json:"roles"`
}

type wireDecision struct {
	ApproverID string `json:"approverId"`
	Action     string `json:"action"`
	Notes      string `json:"notes,omitempty"`
	DecidedAt  string `json:"decidedAt"`
}

type wireRequest struct {
	ID           string        `json:"id"`
	CategoryID   string        `json:"categoryId"`
	ApplicantID  string        `json:"applicantId"`
	RTID         int64         `json:"rtId"`
	RWID         int64         `json:"rwId"`
	Reason       string        `json:"reason"`
	Status       string        `json:"status"`
	RTApproval   *wireDecision `json:"rtApproval,omitempty"`
	RWApproval   *wireDecision `json:"rwApproval,omitempty"`
	RejectedAt   string        `json:"rejectedAt,omitempty"`
	Downloadable bool          `json:"downloadable"`
	CreatedAt    string        `json:"createdAt"`
	UpdatedAt    string        `json:"updatedAt"`
}

type wirePage struct {
	Items []wireRequest `json:"items"`
	Page  int           `json:"page"`
	Limit int           `json:"limit"`
	Total int           `json:"total"`
}

type wireCategory struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type wireCategories struct {
	Categories []wireCategory `json:"categories"`
}

type wireEvaluate struct {
	Allow      bool   `json:"allow"`
	RedirectTo string `json:"redirectTo,omitempty"`
	ReturnTo   string `json:"returnTo,omitempty"`
	Authorized bool   `json:"authorized"`
	Reason     string `json:"reason,omitempty"`
}

type wireAccepted struct {
	Status string `json:"status"`
}

func parseTime(field, value string, required bool) (time.Time, error) {
	if value == "" {
		if required {
			return time.Time{}, fmt.Errorf("%s is missing", field)
		}
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", field, err)
	}
	return t, nil
}

func (w wireUser) toUser() (application.User, error) {
	if w.ID == "" {
		return application.User{}, errors.New("user id is missing")
	}
	created, err := parseTime("createdAt", w.CreatedAt, false)
	if err != nil {
		return application.User{}, err
	}
	updated, err := parseTime("updatedAt", w.UpdatedAt, false)
	if err != nil {
		return application.User{}, err
	}
	return application.User{
		ID:               w.ID,
		Email:            w.Email,
		EmailVerified:    w.EmailVerified,
		KTPCompleted:     w.KTPCompleted,
		DetailsCompleted: w.DetailsCompleted,
		NIK:              w.NIK,
		FullName:         w.FullName,
		RTID:             w.RTID,
		RWID:             w.RWID,
		Address:          w.Address,
		Phone:            w.Phone,
		CreatedAt:        created,
		UpdatedAt:        updated,
	}, nil
}

func (w wireAuth) toResult() (application.AuthResult, error) {
	user, err := w.User.toUser()
	if err != nil {
		return application.AuthResult{}, err
	}
	if w.AccessToken == "" || w.RefreshToken == "" {
		return application.AuthResult{}, errors.New("tokens are missing")
	}
	expires, err := parseTime("expiresAt", w.ExpiresAt, true)
	if err != nil {
		return application.AuthResult{}, err
	}
	refreshExpires, err := parseTime("refreshExpiresAt", w.RefreshExpiresAt, false)
	if err != nil {
		return application.AuthResult{}, err
	}
	return application.AuthResult{
		User: user,
		Tokens: application.TokenPair{
			AccessToken:      w.AccessToken,
			RefreshToken:     w.RefreshToken,
			ExpiresAt:        expires,
			RefreshExpiresAt: refreshExpires,
		},
	}, nil
}

func sessionFrom(tokens application.TokenPair) session.Session {
	return session.Session{AccessToken: tokens.AccessToken, RefreshToken: tokens.RefreshToken, ExpiresAt: tokens.ExpiresAt}
}

// toAssignment rejects tier roles that arrive without the scope they need.
func (w wireRole) toAssignment() (access.RoleAssignment, error) {
	role, err := access.ParseRoleName(w.RoleName)
	if err != nil {
		return access.RoleAssignment{}, err
	}
	switch {
	case role == access.RoleKetuaRT && w.RTID == 0:
		return access.RoleAssignment{}, fmt.Errorf("%s role without rt_id", role)
	case role == access.RoleKetuaRW && w.RWID == 0:
		return access.RoleAssignment{}, fmt.Errorf("%s role without rw_id", role)
	}
	return access.RoleAssignment{Role: role, RTID: w.RTID, RTNo: w.RTNo, RWID: w.RWID, RWNo: w.RWNo}, nil
}

func (w *wireDecision) toDecision() (*approval.Decision, error) {
	if w == nil {
		return nil, nil
	}
	action, err := approval.ParseWireAction(w.Action)
	if err != nil {
		return nil, err
	}
	decided, err := parseTime("decidedAt", w.DecidedAt, true)
	if err != nil {
		return nil, err
	}
	return &approval.Decision{ApproverID: w.ApproverID, Action: action, Notes: w.Notes, DecidedAt: decided}, nil
}

func (w wireRequest) toRequest() (approval.Request, error) {
	if w.ID == "" {
		return approval.Request{}, errors.New("request id is missing")
	}
	status, err := approval.ParseStatus(w.Status)
	if err != nil {
		return approval.Request{}, err
	}
	request := approval.Request{
		ID:          w.ID,
		CategoryID:  w.CategoryID,
		ApplicantID: w.ApplicantID,
		RTID:        w.RTID,
		RWID:        w.RWID,
		Reason:      w.Reason,
		Status:      status,
	}
	if w.RejectedAt != "" {
		if request.RejectedAt, err = approval.ParseTier(w.RejectedAt); err != nil {
			return approval.Request{}, err
		}
	}
	if request.RTDecision, err = w.RTApproval.toDecision(); err != nil {
		return approval.Request{}, err
	}
	if request.RWDecision, err = w.RWApproval.toDecision(); err != nil {
		return approval.Request{}, err
	}
	if request.CreatedAt, err = parseTime("createdAt", w.CreatedAt, true); err != nil {
		return approval.Request{}, err
	}
	if request.UpdatedAt, err = parseTime("updatedAt", w.UpdatedAt, true); err != nil {
		return approval.Request{}, err
	}
	if w.Downloadable != request.Downloadable() {
		return approval.Request{}, fmt.Errorf("request %s downloadable flag disagrees with its decisions", w.ID)
	}
	return request, nil
}

func (w wirePage) toPage() (application.RequestPage, error) {
	page := application.RequestPage{Items: make([]approval.Request, 0, len(w.Items)), Page: w.Page, Limit: w.Limit, Total: w.Total}
	for _, item := range w.Items {
		request, err := item.toRequest()
		if err != nil {
			return application.RequestPage{}, err
		}
		page.Items = append(page.Items, request)
	}
	return page, nil
}
