package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"

	"github.com/incplusplus/thermostat-accounts/internal/core/domain"
	"github.com/incplusplus/thermostat-accounts/internal/usecase"
)

type fakeResolver struct {
	sessions map[string]domain.Principal
	accounts map[string]string
	authErr  error

	authenticated int
}

func (f *fakeResolver) ResolveSession(_ context.Context, handle string) (*domain.Principal, error) {
	p, ok := f.sessions[handle]
	if !ok {
		return nil, usecase.ErrInvalidCredentials
	}
	p.SessionHandle = handle
	return &p, nil
}

func (f *fakeResolver) Authenticate(_ context.Context, email, password string) (*domain.Principal, error) {
	f.authenticated++
	if f.authErr != nil {
		return nil, f.authErr
	}
	if f.accounts[email] != password {
		return nil, usecase.ErrInvalidCredentials
	}
	return &domain.Principal{AccountID: "acc-" + email, Email: email, Authorities: []string{domain.PrivilegeRead}}, nil
}

var testCookie = SessionCookie{Name: "THERMOSTAT_SESSION"}

func newAuthRouter(t *testing.T, resolver PrincipalResolver, extra ...gin.HandlerFunc) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	router := gin.New()
	handlers := append([]gin.HandlerFunc{RequireAuth(resolver, testCookie, zaptest.NewLogger(t))}, extra...)
	handlers = append(handlers, func(c *gin.Context) {
		principal, ok := GetPrincipal(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, principal.AccountID)
	})
	router.GET("/me", handlers...)
	return router
}

func newResolver() *fakeResolver {
	return &fakeResolver{
		sessions: map[string]domain.Principal{
			"handle-1": {AccountID: "carol", Authorities: []string{domain.PrivilegeRead}},
			"handle-2": {AccountID: "root", Authorities: []string{domain.PrivilegeAdmin}},
		},
		accounts: map[string]string{"dave@example.com": "secret"},
	}
}

func TestRequireAuth_SessionCookie(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: "THERMOSTAT_SESSION", Value: "handle-1"})

	rr := httptest.NewRecorder()
	newAuthRouter(t, newResolver()).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK || rr.Body.String() != "carol" {
		t.Fatalf("expected carol, got %d %q", rr.Code, rr.Body.String())
	}
}

func TestRequireAuth_SessionHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Session handle-2")

	rr := httptest.NewRecorder()
	newAuthRouter(t, newResolver()).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK || rr.Body.String() != "root" {
		t.Fatalf("expected root, got %d %q", rr.Code, rr.Body.String())
	}
}

func TestRequireAuth_BasicCredentials(t *testing.T) {
	resolver := newResolver()

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.SetBasicAuth("dave@example.com", "secret")
	rr := httptest.NewRecorder()
	newAuthRouter(t, resolver).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK || rr.Body.String() != "acc-dave@example.com" {
		t.Fatalf("expected basic auth to pass, got %d %q", rr.Code, rr.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.SetBasicAuth("dave@example.com", "wrong")
	rr = httptest.NewRecorder()
	newAuthRouter(t, resolver).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestRequireAuth_Failures(t *testing.T) {
	cases := []struct {
		name     string
		prepare  func(*http.Request)
		resolver *fakeResolver
		want     int
	}{
		{
			name:     "no credentials",
			prepare:  func(*http.Request) {},
			resolver: newResolver(),
			want:     http.StatusUnauthorized,
		},
		{
			name: "unknown session",
			prepare: func(r *http.Request) {
				r.AddCookie(&http.Cookie{Name: "THERMOSTAT_SESSION", Value: "gone"})
			},
			resolver: newResolver(),
			want:     http.StatusUnauthorized,
		},
		{
			name: "unverified account",
			prepare: func(r *http.Request) {
				r.SetBasicAuth("dave@example.com", "secret")
			},
			resolver: &fakeResolver{authErr: usecase.ErrAccountNotVerified},
			want:     http.StatusForbidden,
		},
		{
			name: "backend failure",
			prepare: func(r *http.Request) {
				r.SetBasicAuth("dave@example.com", "secret")
			},
			resolver: &fakeResolver{authErr: errors.New("db down")},
			want:     http.StatusInternalServerError,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			tc.prepare(req)
			rr := httptest.NewRecorder()
			newAuthRouter(t, tc.resolver).ServeHTTP(rr, req)

			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rr.Code)
			}
		})
	}
}

func TestRequireAuth_NoCredentialsAdvertisesBasic(t *testing.T) {
	rr := httptest.NewRecorder()
	newAuthRouter(t, newResolver()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/me", nil))

	if got := rr.Header().Get("WWW-Authenticate"); got == "" {
		t.Fatalf("expected WWW-Authenticate header")
	}
}

func TestRequireAuthority(t *testing.T) {
	router := newAuthRouter(t, newResolver(), RequireAuthority(domain.PrivilegeAdmin))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Session handle-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Session handle-2")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d", rr.Code)
	}
}

func TestSessionCookie_SetAndClear(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rr := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rr)
	c.Request = httptest.NewRequest(http.MethodPost, "/login", nil)

	SessionCookie{Name: "THERMOSTAT_SESSION", Secure: true, MaxAge: time.Hour}.Set(c, "abc")

	cookies := rr.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("expected one cookie, got %d", len(cookies))
	}
	cookie := cookies[0]
	if cookie.Value != "abc" || !cookie.HttpOnly || !cookie.Secure || cookie.MaxAge != 3600 {
		t.Fatalf("unexpected cookie %+v", cookie)
	}
}
