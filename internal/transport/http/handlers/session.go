package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/incplusplus/thermostat-accounts/internal/transport/http/middleware"
	"github.com/incplusplus/thermostat-accounts/internal/usecase"
)

// SessionHandler exposes login, logout and signed-in user listings.
type SessionHandler struct {
	accounts *usecase.AccountService
	cookie   middleware.SessionCookie
	logger   *zap.Logger
}

// NewSessionHandler constructs a session handler.
func NewSessionHandler(accounts *usecase.AccountService, opts HandlerOptions) *SessionHandler {
	return &SessionHandler{
		accounts: accounts,
		cookie:   opts.Cookie,
		logger:   opts.logger(),
	}
}

// RegisterRoutes binds the public session endpoints. limited guards login.
func (h *SessionHandler) RegisterRoutes(r gin.IRouter, limited ...gin.HandlerFunc) {
	r.POST("/login", chain(limited, h.Login)...)
	r.POST("/logout", h.Logout)
}

// RegisterAuthenticatedRoutes binds the signed-in user listings.
func (h *SessionHandler) RegisterAuthenticatedRoutes(r gin.IRouter) {
	r.GET("/loggedUsers", h.LoggedUsers)
	r.GET("/loggedUsersFromSessionRegistry", h.LoggedUsersFromSessionRegistry)
}

// Login checks credentials and opens a session.
func (h *SessionHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "a valid email and password are required"))
		return
	}

	cases := []ErrorCase{
		{Err: usecase.ErrInvalidCredentials, Status: http.StatusUnauthorized, Message: "invalid credentials"},
		{Err: usecase.ErrAccountNotVerified, Status: http.StatusForbidden, Message: "account not verified"},
	}

	principal, err := h.accounts.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		RespondWithMappedError(c, err, cases, http.StatusInternalServerError, "failed to sign in")
		return
	}

	session, err := h.accounts.EstablishSession(c.Request.Context(), *principal)
	if err != nil {
		RespondWithMappedError(c, err, cases, http.StatusInternalServerError, "failed to sign in")
		return
	}
	h.cookie.Set(c, session.Handle)

	resp := LoginResponse{}
	if account, err := h.accounts.GetAccount(c.Request.Context(), principal.AccountID); err == nil {
		resp.Account = newAccountSummary(*account)
	} else {
		resp.Account = AccountSummary{ID: principal.AccountID, Email: principal.Email, Authorities: principal.Authorities, Roles: []string{}}
	}
	if !session.ExpiresAt.IsZero() {
		expires := session.ExpiresAt
		resp.ExpiresAt = &expires
	}

	c.JSON(http.StatusOK, resp)
}

// Logout ends the current session and clears the cookie. It succeeds without a session.
func (h *SessionHandler) Logout(c *gin.Context) {
	if err := h.accounts.Logout(c.Request.Context(), h.cookie.SessionHandle(c)); err != nil {
		RespondWithMappedError(c, err, nil, http.StatusInternalServerError, "failed to sign out")
		return
	}
	h.cookie.Clear(c)
	c.JSON(http.StatusOK, MessageResponse{Message: "logged out"})
}

// LoggedUsers lists the email of every signed-in account.
func (h *SessionHandler) LoggedUsers(c *gin.Context) {
	emails, err := h.accounts.ListActiveEmails(c.Request.Context())
	if err != nil {
		RespondWithMappedError(c, err, nil, http.StatusInternalServerError, "failed to list signed-in users")
		return
	}
	c.JSON(http.StatusOK, LoggedUsersResponse{Users: emails, Total: len(emails)})
}

// LoggedUsersFromSessionRegistry lists the ids of accounts holding a live session.
func (h *SessionHandler) LoggedUsersFromSessionRegistry(c *gin.Context) {
	ids, err := h.accounts.ListActiveSessions(c.Request.Context())
	if err != nil {
		RespondWithMappedError(c, err, nil, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	c.JSON(http.StatusOK, LoggedUsersResponse{Users: ids, Total: len(ids)})
}
