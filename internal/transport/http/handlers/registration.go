package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/incplusplus/thermostat-accounts/internal/core/port"
	"github.com/incplusplus/thermostat-accounts/internal/infra/telemetry"
	"github.com/incplusplus/thermostat-accounts/internal/transport/http/middleware"
	"github.com/incplusplus/thermostat-accounts/internal/usecase"
)

// RegistrationHandler exposes endpoints for account registration and email verification.
type RegistrationHandler struct {
	accounts *usecase.AccountService
	notify   notifier
	cookie   middleware.SessionCookie
	baseURL  string
	logger   *zap.Logger
}

// HandlerOptions carries the collaborators shared by the account handlers.
type HandlerOptions struct {
	Dispatcher port.NotificationDispatcher
	Metrics    *telemetry.Metrics
	Cookie     middleware.SessionCookie
	// BaseURL prefixes links in emails. Config validation only lets it be empty in development, where it is derived from the request.
	BaseURL string
	Logger  *zap.Logger
}

func (o HandlerOptions) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

// NewRegistrationHandler constructs a registration handler.
func NewRegistrationHandler(accounts *usecase.AccountService, opts HandlerOptions) *RegistrationHandler {
	return &RegistrationHandler{
		accounts: accounts,
		notify:   newNotifier(opts.Dispatcher, opts.Metrics, opts.logger()),
		cookie:   opts.Cookie,
		baseURL:  opts.BaseURL,
		logger:   opts.logger(),
	}
}

// RegisterRoutes binds registration endpoints.
func (h *RegistrationHandler) RegisterRoutes(r gin.IRouter, limited ...gin.HandlerFunc) {
	r.POST("/user/registration", chain(limited, h.Register)...)
	r.GET("/registrationConfirm", h.ConfirmRegistration)
	r.GET("/user/resendRegistrationToken", chain(limited, h.ResendRegistrationToken)...)
}

// Register creates an unverified account and emails the confirmation link.
func (h *RegistrationHandler) Register(c *gin.Context) {
	var req RegistrationRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid registration payload"))
		return
	}

	result, err := h.accounts.Register(c.Request.Context(), usecase.RegistrationInput{
		Email:            req.Email,
		Password:         req.Password,
		MatchingPassword: req.MatchingPassword,
		FirstName:        req.FirstName,
		LastName:         req.LastName,
		AppURL:           appURL(c, h.baseURL),
	})
	if err != nil {
		respondPasswordError(c, err, []ErrorCase{
			{Err: usecase.ErrAlreadyExists, Status: http.StatusConflict, Message: "an account for that email already exists"},
			{Err: usecase.ErrInvalidEmail, Status: http.StatusBadRequest, Message: "invalid email address"},
		}, "failed to register account")
		return
	}

	h.notify.send(c.Request.Context(), result.Notification)

	c.JSON(http.StatusOK, MessageResponse{Message: "success"})
}

// ConfirmRegistration redeems the emailed token and signs the account in.
func (h *RegistrationHandler) ConfirmRegistration(c *gin.Context) {
	token := strings.TrimSpace(c.Query("token"))

	result, err := h.accounts.ConfirmRegistration(c.Request.Context(), token)
	if err != nil {
		RespondWithMappedError(c, err, nil, http.StatusInternalServerError, "failed to confirm registration")
		return
	}

	switch result.Status {
	case usecase.ConfirmationValid:
		resp := ConfirmationResponse{Status: string(result.Status), Message: "Your account verified successfully"}
		if result.Account != nil {
			summary := newAccountSummary(*result.Account)
			resp.Account = &summary
		}
		if session, err := h.accounts.EstablishSession(c.Request.Context(), *result.Principal); err != nil {
			h.logger.Warn("sign in after confirmation failed", zap.String("account_id", result.Principal.AccountID), zap.Error(err))
		} else {
			h.cookie.Set(c, session.Handle)
		}
		c.JSON(http.StatusOK, resp)
	case usecase.ConfirmationExpired:
		c.JSON(http.StatusBadRequest, ConfirmationResponse{
			Status:  string(result.Status),
			Message: "Your registration token has expired. Please register again.",
			Expired: true,
			Token:   token,
		})
	default:
		c.JSON(http.StatusBadRequest, ConfirmationResponse{
			Status:  string(result.Status),
			Message: "Invalid token.",
			Token:   token,
		})
	}
}

// ResendRegistrationToken replaces the verification token and emails the new link.
func (h *RegistrationHandler) ResendRegistrationToken(c *gin.Context) {
	notification, err := h.accounts.ResendVerification(c.Request.Context(), c.Query("token"), appURL(c, h.baseURL))
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrInvalidToken, Status: http.StatusBadRequest, Message: "Invalid token."},
		}, http.StatusInternalServerError, "failed to resend registration token")
		return
	}

	h.notify.send(c.Request.Context(), notification)

	c.JSON(http.StatusOK, MessageResponse{Message: "We will send an email with a new registration token to your email account."})
}

func appURL(c *gin.Context, configured string) string {
	if configured != "" {
		return configured
	}
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if forwarded := c.GetHeader("X-Forwarded-Proto"); forwarded != "" {
		scheme = forwarded
	}
	return scheme + "://" + c.Request.Host
}

func chain(pre []gin.HandlerFunc, handler gin.HandlerFunc) []gin.HandlerFunc {
	out := make([]gin.HandlerFunc, 0, len(pre)+1)
	out = append(out, pre...)
	return append(out, handler)
}
