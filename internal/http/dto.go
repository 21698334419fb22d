package http

import (
	"time"

	"github.com/example/neighborhood-portal/internal/access"
	"github.com/example/neighborhood-portal/internal/application"
	"github.com/example/neighborhood-portal/internal/approval"
)

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

type userDTO struct {
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

func toUserDTO(user application.User) userDTO {
	return userDTO{
		ID:               user.ID,
		Email:            user.Email,
		EmailVerified:    user.EmailVerified,
		KTPCompleted:     user.KTPCompleted,
		DetailsCompleted: user.DetailsCompleted,
		NIK:              user.NIK,
		FullName:         user.FullName,
		RTID:             user.RTID,
		RWID:             user.RWID,
		Address:          user.Address,
		Phone:            user.Phone,
		CreatedAt:        formatTime(user.CreatedAt),
		UpdatedAt:        formatTime(user.UpdatedAt),
	}
}

type userResponse struct {
	User userDTO `json:"user"`
}

type authResponse struct {
	User             userDTO `json:"user"`
	AccessToken      string  `json:"accessToken"`
	RefreshToken     string  `json:"refreshToken"`
	ExpiresAt        string  `json:"expiresAt"`
	RefreshExpiresAt string  `json:"refreshExpiresAt,omitempty"`
}

func toAuthResponse(result application.AuthResult) authResponse {
	return authResponse{
		User:             toUserDTO(result.User),
		AccessToken:      result.Tokens.AccessToken,
		RefreshToken:     result.Tokens.RefreshToken,
		ExpiresAt:        formatTime(result.Tokens.ExpiresAt),
		RefreshExpiresAt: formatTime(result.Tokens.RefreshExpiresAt),
	}
}

type roleDTO struct {
	RoleName string `json:"role_name"`
	RTID     int64  `json:"rt_id,omitempty"`
	RTNo     string `json:"rt_no,omitempty"`
	RWID     int64  `json:"rw_id,omitempty"`
	RWNo     string `json:"rw_no,omitempty"`
}

func toRoleDTO(role access.RoleAssignment) roleDTO {
	return roleDTO{
		RoleName: string(role.Role),
		RTID:     role.RTID,
		RTNo:     role.RTNo,
		RWID:     role.RWID,
		RWNo:     role.RWNo,
	}
}

type rolesResponse struct {
	Roles []roleDTO `json:"roles"`
}

type decisionDTO struct {
	ApproverID string `json:"approverId"`
	Action     string `json:"action"`
	Notes      string `json:"notes,omitempty"`
	DecidedAt  string `json:"decidedAt"`
}

func toDecisionDTO(decision *approval.Decision) *decisionDTO {
	if decision == nil {
		return nil
	}
	return &decisionDTO{
		ApproverID: decision.ApproverID,
		Action:     decision.Action.WireCode(),
		Notes:      decision.Notes,
		DecidedAt:  formatTime(decision.DecidedAt),
	}
}

type requestDTO struct {
	ID           string       `json:"id"`
	CategoryID   string       `json:"categoryId"`
	ApplicantID  string       `json:"applicantId"`
	RTID         int64        `json:"rtId"`
	RWID         int64        `json:"rwId"`
	Reason       string       `json:"reason"`
	Status       string       `json:"status"`
	RTApproval   *decisionDTO `json:"rtApproval,omitempty"`
	RWApproval   *decisionDTO `json:"rwApproval,omitempty"`
	RejectedAt   string       `json:"rejectedAt,omitempty"`
	Downloadable bool         `json:"downloadable"`
	CreatedAt    string       `json:"createdAt"`
	UpdatedAt    string       `json:"updatedAt"`
}

func toRequestDTO(request approval.Request) requestDTO {
	return requestDTO{
		ID:           request.ID,
		CategoryID:   request.CategoryID,
		ApplicantID:  request.ApplicantID,
		RTID:         request.RTID,
		RWID:         request.RWID,
		Reason:       request.Reason,
		Status:       string(request.Status),
		RTApproval:   toDecisionDTO(request.RTDecision),
		RWApproval:   toDecisionDTO(request.RWDecision),
		RejectedAt:   string(request.RejectedAt),
		Downloadable: request.Downloadable(),
		CreatedAt:    formatTime(request.CreatedAt),
		UpdatedAt:    formatTime(request.UpdatedAt),
	}
}

type requestPageResponse struct {
	Items []requestDTO `json:"items"`
	Page  int          `json:"page"`
	Limit int          `json:"limit"`
	Total int          `json:"total"`
}

func toRequestPageResponse(page application.RequestPage) requestPageResponse {
	items := make([]requestDTO, 0, len(page.Items))
	for _, request := range page.Items {
		items = append(items, toRequestDTO(request))
	}
	return requestPageResponse{Items: items, Page: page.Page, Limit: page.Limit, Total: page.Total}
}

type categoryDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type categoriesResponse struct {
	Categories []categoryDTO `json:"categories"`
}

type evaluateResponse struct {
	Allow      bool   `json:"allow"`
	RedirectTo string `json:"redirectTo,omitempty"`
	ReturnTo   string `json:"returnTo,omitempty"`
	Authorized bool   `json:"authorized"`
	Reason     string `json:"reason,omitempty"`
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type verifyEmailRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type ktpRequest struct {
	NIK      string `json:"nik"`
	FullName string `json:"fullName"`
}

type detailsRequest struct {
	RTID    int64  `json:"rtId"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
}

type submitRequest struct {
	CategoryID string `json:"categoryId"`
	Reason     string `json:"reason"`
}

type decisionRequest struct {
	Action string `json:"action"`
	Notes  string `json:"notes"`
}

type assignRoleRequest struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
	RTID   int64  `json:"rtId"`
	RWID   int64  `json:"rwId"`
}
