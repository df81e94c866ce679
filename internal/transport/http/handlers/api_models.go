package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/incplusplus/thermostat-accounts/internal/core/domain"
)

// ErrorResponse represents a generic error payload with trace ID for debugging.
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// NewErrorResponse creates an error response with trace ID from context
func NewErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	traceID, _ := c.Get("trace_id")
	traceIDStr, _ := traceID.(string)

	return ErrorResponse{
		Error:   errorMsg,
		TraceID: traceIDStr,
	}
}

// MessageResponse represents a simple message payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// AccountSummary is the public view of an account. The password hash is never exposed.
type AccountSummary struct {
	ID          string               `json:"id"`
	Email       string               `json:"email"`
	FirstName   string               `json:"first_name,omitempty"`
	LastName    string               `json:"last_name,omitempty"`
	Status      domain.AccountStatus `json:"status"`
	Roles       []string             `json:"roles"`
	Authorities []string             `json:"authorities"`
	CreatedAt   time.Time            `json:"created_at"`
}

func newAccountSummary(account domain.Account) AccountSummary {
	return AccountSummary{
		ID:          account.ID,
		Email:       account.Email,
		FirstName:   account.FirstName,
		LastName:    account.LastName,
		Status:      account.Status,
		Roles:       account.RoleNames(),
		Authorities: account.Authorities(),
		CreatedAt:   account.CreatedAt,
	}
}

// AccountListResponse is returned by the admin account listing.
type AccountListResponse struct {
	Accounts []AccountSummary `json:"accounts"`
	Total    int              `json:"total"`
}

// RegistrationRequest is the registration form. JSON and urlencoded bodies are accepted.
type RegistrationRequest struct {
	Email            string `json:"email" form:"email" binding:"required,email"`
	Password         string `json:"password" form:"password" binding:"required"`
	MatchingPassword string `json:"matchingPassword" form:"matchingPassword" binding:"required"`
	FirstName        string `json:"firstName" form:"firstName"`
	LastName         string `json:"lastName" form:"lastName"`
}

// ConfirmationResponse reports the outcome of following a confirmation link.
type ConfirmationResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message,omitempty"`
	Expired bool            `json:"expired"`
	Token   string          `json:"token,omitempty"`
	Account *AccountSummary `json:"account,omitempty"`
}

// PasswordResetRequest starts the reset flow.
type PasswordResetRequest struct {
	Email string `json:"email" form:"email" binding:"required,email"`
}

// PasswordResetCheckResponse tells the console whether to show the new password form.
type PasswordResetCheckResponse struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	ID      string `json:"id,omitempty"`
	Token   string `json:"token,omitempty"`
}

// SavePasswordRequest completes the reset flow.
type SavePasswordRequest struct {
	ID               string `json:"id" form:"id" binding:"required"`
	Token            string `json:"token" form:"token" binding:"required"`
	NewPassword      string `json:"newPassword" form:"newPassword" binding:"required"`
	MatchingPassword string `json:"matchingPassword" form:"matchingPassword"`
}

// UpdatePasswordRequest changes the password of the signed-in account.
type UpdatePasswordRequest struct {
	OldPassword string `json:"oldPassword" form:"oldPassword" binding:"required"`
	NewPassword string `json:"newPassword" form:"newPassword" binding:"required"`
	Token       string `json:"token" form:"token"`
}

// ChangePasswordRequest sets a new password for the signed-in account.
type ChangePasswordRequest struct {
	NewPassword string `json:"newPassword" form:"newPassword" binding:"required"`
}

// LoginRequest carries console credentials.
type LoginRequest struct {
	Email    string `json:"email" form:"email" binding:"required,email"`
	Password string `json:"password" form:"password" binding:"required"`
}

// LoginResponse describes the session opened by a login.
type LoginResponse struct {
	Account   AccountSummary `json:"account"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
}

// LoggedUsersResponse lists the signed-in users.
type LoggedUsersResponse struct {
	Users []string `json:"users"`
	Total int      `json:"total"`
}

// HealthResponse is returned by the liveness probe.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
}

// ReadinessResponse reports each dependency check.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}
