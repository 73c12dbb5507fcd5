// README: Tests for auth middleware and identity mapping.
package middleware_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"trackd/internal/http/middleware"
	"trackd/internal/infra"
	"trackd/internal/types"
)

// stubVerifier is a test double for infra.TokenVerifier.
type stubVerifier struct {
	token *infra.FirebaseToken
	err   error
}

func (s *stubVerifier) VerifyIDToken(_ context.Context, _ string) (*infra.FirebaseToken, error) {
	return s.token, s.err
}

func newTestRouter(verifier infra.TokenVerifier) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.Auth(verifier))
	r.GET("/test", func(c *gin.Context) {
		uid := middleware.CallerUID(c)
		role := middleware.CallerRole(c)
		c.JSON(http.StatusOK, gin.H{"uid": uid, "role": role})
	})
	return r
}

func TestAuth_MissingHeader(t *testing.T) {
	r := newTestRouter(&stubVerifier{token: &infra.FirebaseToken{UID: "user1"}})
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestAuth_InvalidBearerPrefix(t *testing.T) {
	r := newTestRouter(&stubVerifier{token: &infra.FirebaseToken{UID: "user1"}})
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Token sometoken")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestAuth_VerifierError(t *testing.T) {
	r := newTestRouter(&stubVerifier{err: errors.New("bad token")})
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Bearer invalidtoken")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestAuth_ValidToken_UIDAndRolePopulated(t *testing.T) {
	token := &infra.FirebaseToken{
		UID:    "driver123",
		Claims: map[string]interface{}{"role": "driver"},
	}
	r := newTestRouter(&stubVerifier{token: token})
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Bearer validtoken")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	if body == "" {
		t.Error("expected non-empty body")
	}
	// Verify response contains the uid and role.
	if !strings.Contains(body, "driver123") {
		t.Errorf("expected uid driver123 in body, got %s", body)
	}
	if !strings.Contains(body, "driver") {
		t.Errorf("expected role driver in body, got %s", body)
	}
}

func TestAuth_ValidToken_NoRoleClaim(t *testing.T) {
	token := &infra.FirebaseToken{
		UID:    "customer456",
		Claims: map[string]interface{}{},
	}
	r := newTestRouter(&stubVerifier{token: token})
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Bearer validtoken")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "customer456") {
		t.Errorf("expected uid customer456 in body")
	}
	if !strings.Contains(w.Body.String(), `"role":"customer"`) {
		t.Errorf("expected default customer role, got %s", w.Body.String())
	}
}

func TestIdentityFromToken_Scope(t *testing.T) {
	cases := []struct {
		name      string
		claims    map[string]interface{}
		wantRole  types.Role
		wantScope types.ID
	}{
		{"restaurant with claim", map[string]interface{}{"role": "restaurant", "restaurant_id": "r-9"}, types.RoleRestaurant, "r-9"},
		{"restaurant without claim", map[string]interface{}{"role": "restaurant"}, types.RoleRestaurant, "u1"},
		{"driver with claim", map[string]interface{}{"role": "driver", "driver_id": "d-3"}, types.RoleDriver, "d-3"},
		{"customer ignores scope claims", map[string]interface{}{"driver_id": "d-3"}, types.RoleCustomer, "u1"},
		{"unknown role", map[string]interface{}{"role": "wizard"}, types.RoleCustomer, "u1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			id := middleware.IdentityFromToken(&infra.FirebaseToken{UID: "u1", Claims: tc.claims})
			if id.Role != tc.wantRole {
				t.Errorf("role = %s, want %s", id.Role, tc.wantRole)
			}
			if id.ScopeID() != tc.wantScope {
				t.Errorf("scope = %s, want %s", id.ScopeID(), tc.wantScope)
			}
			if id.Guest {
				t.Error("verified identity marked guest")
			}
		})
	}
}

func TestOptionalAuth_DowngradesToGuest(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.OptionalAuth(&stubVerifier{err: errors.New("expired")}))
	r.GET("/test", func(c *gin.Context) {
		id := middleware.Caller(c)
		c.JSON(http.StatusOK, gin.H{"uid": id.SubjectID, "role": id.Role, "guest": id.Guest})
	})

	for _, target := range []string{"/test", "/test?token=whatever"} {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", target, w.Code)
		}
		body := w.Body.String()
		if !strings.Contains(body, `"uid":"guest-`) || !strings.Contains(body, `"guest":true`) {
			t.Errorf("%s: expected guest identity, got %s", target, body)
		}
	}
}

func TestRequestToken_QueryFallback(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws?token=abc", nil)
	if got := middleware.RequestToken(req); got != "abc" {
		t.Errorf("token = %q, want abc", got)
	}
	req.Header.Set("Authorization", "Bearer hdr")
	if got := middleware.RequestToken(req); got != "hdr" {
		t.Errorf("token = %q, want header token to win", got)
	}
}
