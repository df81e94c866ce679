package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/incplusplus/thermostat-accounts/internal/transport/http/middleware"
	"github.com/incplusplus/thermostat-accounts/internal/usecase"
)

const resetRequestedMessage = "You should receive a password reset email shortly."

// PasswordHandler exposes endpoints for password reset and change.
type PasswordHandler struct {
	accounts *usecase.AccountService
	notify   notifier
	baseURL  string
	logger   *zap.Logger
}

// NewPasswordHandler constructs a password handler.
func NewPasswordHandler(accounts *usecase.AccountService, opts HandlerOptions) *PasswordHandler {
	return &PasswordHandler{
		accounts: accounts,
		notify:   newNotifier(opts.Dispatcher, opts.Metrics, opts.logger()),
		baseURL:  opts.BaseURL,
		logger:   opts.logger(),
	}
}

// RegisterRoutes binds the public reset endpoints. limited guards the reset request.
func (h *PasswordHandler) RegisterRoutes(r gin.IRouter, limited ...gin.HandlerFunc) {
	r.POST("/user/resetPassword", chain(limited, h.ResetPassword)...)
	r.GET("/user/changePassword", h.ShowChangePassword)
	r.POST("/user/savePassword", chain(limited, h.SavePassword)...)
}

// RegisterAuthenticatedRoutes binds endpoints acting on the signed-in account.
func (h *PasswordHandler) RegisterAuthenticatedRoutes(r gin.IRouter) {
	r.POST("/user/updatePassword", h.UpdatePassword)
	r.POST("/user/password", h.ChangePassword)
}

// ResetPassword emails a reset link. The response is the same whether or not the email is registered.
func (h *PasswordHandler) ResetPassword(c *gin.Context) {
	var req PasswordResetRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "a valid email is required"))
		return
	}

	result, err := h.accounts.RequestPasswordReset(c.Request.Context(), req.Email, appURL(c, h.baseURL))
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrInvalidEmail, Status: http.StatusBadRequest, Message: "a valid email is required"},
		}, http.StatusInternalServerError, "failed to request password reset")
		return
	}

	h.notify.send(c.Request.Context(), result.Notifications...)

	c.JSON(http.StatusOK, MessageResponse{Message: resetRequestedMessage})
}

// ShowChangePassword checks the emailed reset link without consuming it.
func (h *PasswordHandler) ShowChangePassword(c *gin.Context) {
	id := strings.TrimSpace(c.Query("id"))
	token := strings.TrimSpace(c.Query("token"))

	check, err := h.accounts.ConfirmPasswordReset(c.Request.Context(), id, token)
	if err != nil {
		RespondWithMappedError(c, err, nil, http.StatusInternalServerError, "failed to check reset token")
		return
	}

	if !check.Allowed {
		c.JSON(http.StatusBadRequest, PasswordResetCheckResponse{Reason: check.Reason})
		return
	}
	c.JSON(http.StatusOK, PasswordResetCheckResponse{Allowed: true, ID: id, Token: token})
}

// SavePassword sets the new password chosen after following the reset link.
func (h *PasswordHandler) SavePassword(c *gin.Context) {
	var req SavePasswordRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid password payload"))
		return
	}
	if req.MatchingPassword != "" && req.MatchingPassword != req.NewPassword {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "passwords do not match"))
		return
	}

	err := h.accounts.ResetPassword(c.Request.Context(), strings.TrimSpace(req.ID), req.Token, req.NewPassword)
	if err != nil {
		respondPasswordError(c, err, []ErrorCase{
			{Err: usecase.ErrInvalidToken, Status: http.StatusBadRequest, Message: usecase.ResetReasonInvalidToken},
			{Err: usecase.ErrExpiredToken, Status: http.StatusBadRequest, Message: usecase.ResetReasonExpired},
		}, "failed to reset password")
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "Password reset successfully"})
}

// UpdatePassword changes the password after checking the current one.
func (h *PasswordHandler) UpdatePassword(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	var req UpdatePasswordRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid password payload"))
		return
	}

	err := h.accounts.UpdatePassword(c.Request.Context(), principal, usecase.UpdatePasswordInput{
		OldPassword: req.OldPassword,
		NewPassword: req.NewPassword,
		ResetToken:  req.Token,
	})
	if err != nil {
		respondPasswordError(c, err, []ErrorCase{
			{Err: usecase.ErrInvalidOldPassword, Status: http.StatusBadRequest, Message: "Invalid Old Password"},
			{Err: usecase.ErrInvalidToken, Status: http.StatusBadRequest, Message: usecase.ResetReasonInvalidToken},
			{Err: usecase.ErrExpiredToken, Status: http.StatusBadRequest, Message: usecase.ResetReasonExpired},
			{Err: usecase.ErrNotFound, Status: http.StatusNotFound, Message: "account not found"},
		}, "failed to update password")
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "Password updated successfully"})
}

// ChangePassword sets a new password for the signed-in account.
func (h *PasswordHandler) ChangePassword(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	var req ChangePasswordRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid password payload"))
		return
	}

	if err := h.accounts.ChangePassword(c.Request.Context(), principal, req.NewPassword); err != nil {
		respondPasswordError(c, err, []ErrorCase{
			{Err: usecase.ErrNotFound, Status: http.StatusNotFound, Message: "account not found"},
		}, "failed to change password")
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "Password updated successfully"})
}
