package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/incplusplus/thermostat-accounts/internal/core/domain"
	"github.com/incplusplus/thermostat-accounts/internal/usecase"
)

const (
	principalKey        = "principal"
	sessionAuthScheme   = "Session"
	basicAuthRealmValue = `Basic realm="thermostat"`
)

// ErrorResponse matches the handlers.ErrorResponse structure
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

func newErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	return ErrorResponse{
		Error:   errorMsg,
		TraceID: GetTraceID(c),
	}
}

// PrincipalResolver turns request credentials into a principal.
type PrincipalResolver interface {
	ResolveSession(ctx context.Context, handle string) (*domain.Principal, error)
	Authenticate(ctx context.Context, email, password string) (*domain.Principal, error)
}

// SessionCookie describes the cookie carrying the session handle.
type SessionCookie struct {
	Name   string
	Secure bool
	MaxAge time.Duration
}

// Set writes the session handle cookie.
func (s SessionCookie) Set(c *gin.Context, handle string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(s.Name, handle, int(s.MaxAge.Seconds()), "/", "", s.Secure, true)
}

// Clear expires the session handle cookie.
func (s SessionCookie) Clear(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(s.Name, "", -1, "/", "", s.Secure, true)
}

// SessionHandle extracts the session handle from the cookie or an
// "Authorization: Session <handle>" header.
func (s SessionCookie) SessionHandle(c *gin.Context) string {
	if scheme, value, ok := strings.Cut(c.GetHeader("Authorization"), " "); ok && strings.EqualFold(scheme, sessionAuthScheme) {
		return strings.TrimSpace(value)
	}
	if s.Name == "" {
		return ""
	}
	handle, err := c.Cookie(s.Name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(handle)
}

// RequireAuth resolves the session handle, falling back to HTTP Basic
// credentials, and stores the principal on the context.
// Basic authentication does not register a session.
func RequireAuth(resolver PrincipalResolver, cookie SessionCookie, log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}

	return func(c *gin.Context) {
		ctx := c.Request.Context()

		var (
			principal *domain.Principal
			err       error
		)
		if handle := cookie.SessionHandle(c); handle != "" {
			principal, err = resolver.ResolveSession(ctx, handle)
		} else if email, password, ok := c.Request.BasicAuth(); ok {
			principal, err = resolver.Authenticate(ctx, email, password)
		} else {
			c.Header("WWW-Authenticate", basicAuthRealmValue)
			c.AbortWithStatusJSON(http.StatusUnauthorized, newErrorResponse(c, "authentication required"))
			return
		}

		if err != nil {
			switch {
			case errors.Is(err, usecase.ErrInvalidCredentials):
				c.AbortWithStatusJSON(http.StatusUnauthorized, newErrorResponse(c, "invalid credentials"))
			case errors.Is(err, usecase.ErrAccountNotVerified):
				c.AbortWithStatusJSON(http.StatusForbidden, newErrorResponse(c, "account not verified"))
			default:
				log.Error("resolve principal failed", zap.Error(err))
				c.AbortWithStatusJSON(http.StatusInternalServerError, newErrorResponse(c, "authentication failed"))
			}
			return
		}

		c.Set(principalKey, *principal)
		c.Set(AccountIDKey, principal.AccountID)
		GetRequestContext(c).AccountID = principal.AccountID

		c.Next()
	}
}

// RequireAuthority rejects principals lacking any of the named privileges.
func RequireAuthority(authorities ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := GetPrincipal(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, newErrorResponse(c, "authentication required"))
			return
		}

		for _, authority := range authorities {
			if principal.HasAuthority(authority) {
				c.Next()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusForbidden, newErrorResponse(c, "insufficient permissions"))
	}
}

// GetPrincipal returns the principal stored by RequireAuth.
func GetPrincipal(c *gin.Context) (domain.Principal, bool) {
	value, exists := c.Get(principalKey)
	if !exists {
		return domain.Principal{}, false
	}
	principal, ok := value.(domain.Principal)
	return principal, ok
}
