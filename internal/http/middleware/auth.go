// README: Auth middleware: bearer token -> caller identity (strict or guest fallback).
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"trackd/internal/infra"
	"trackd/internal/realtime"
	"trackd/internal/types"
)

const identityKey = "caller_identity"

// Auth rejects requests without a valid bearer token.
func Auth(verifier infra.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearer(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		id, err := Resolve(c.Request.Context(), verifier, raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

// OptionalAuth downgrades a missing or bad token to a guest identity. The
// token may also come from the token query parameter, for clients (browser
// EventSource, WebSocket) that cannot set headers.
func OptionalAuth(verifier infra.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(identityKey, ResolveOrGuest(c.Request.Context(), verifier, RequestToken(c.Request)))
		c.Next()
	}
}

// Resolve verifies raw and maps its claims onto an identity.
func Resolve(ctx context.Context, verifier infra.TokenVerifier, raw string) (realtime.Identity, error) {
	tok, err := verifier.VerifyIDToken(ctx, raw)
	if err != nil {
		return realtime.Identity{}, err
	}
	return IdentityFromToken(tok), nil
}

func ResolveOrGuest(ctx context.Context, verifier infra.TokenVerifier, raw string) realtime.Identity {
	if raw == "" || verifier == nil {
		return Guest()
	}
	id, err := Resolve(ctx, verifier, raw)
	if err != nil {
		return Guest()
	}
	return id
}

func Guest() realtime.Identity {
	return realtime.Identity{
		SubjectID: types.ID("guest-" + uuid.NewString()),
		Role:      types.RoleGuest,
		Guest:     true,
	}
}

// IdentityFromToken reads the role claim plus restaurant_id / driver_id
// scope claims. Tokens without a role are customers.
func IdentityFromToken(tok *infra.FirebaseToken) realtime.Identity {
	role := types.RoleCustomer
	if v, ok := tok.Claims["role"].(string); ok {
		role = types.ParseRole(v)
	}
	id := realtime.Identity{SubjectID: types.ID(tok.UID), Role: role}
	switch role {
	case types.RoleRestaurant:
		if v, ok := tok.Claims["restaurant_id"].(string); ok {
			id.Scope = types.ID(v)
		}
	case types.RoleDriver:
		if v, ok := tok.Claims["driver_id"].(string); ok {
			id.Scope = types.ID(v)
		}
	}
	return id
}

// RequestToken prefers the Authorization header and falls back to ?token=.
func RequestToken(r *http.Request) string {
	if raw, ok := bearer(r.Header.Get("Authorization")); ok {
		return raw
	}
	return r.URL.Query().Get("token")
}

func bearer(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	raw := strings.TrimSpace(header[len(prefix):])
	return raw, raw != ""
}

// Caller returns the identity set by Auth or OptionalAuth.
func Caller(c *gin.Context) realtime.Identity {
	if v, ok := c.Get(identityKey); ok {
		if id, ok := v.(realtime.Identity); ok {
			return id
		}
	}
	return realtime.Identity{}
}

func CallerUID(c *gin.Context) string { return string(Caller(c).SubjectID) }

func CallerRole(c *gin.Context) types.Role { return Caller(c).Role }
