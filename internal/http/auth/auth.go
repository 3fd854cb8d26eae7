// Package auth issues and verifies the bearer tokens that scope API calls
// to a tenant.
package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type contextKey struct{}

// Claims is the token payload. An empty TenantID marks an operator token
// valid for any tenant.
type Claims struct {
	TenantID string `json:"tenant_id,omitempty"`
	jwt.RegisteredClaims
}

// Middleware verifies Bearer tokens signed with secret and stores the
// tenant claim in the request context. An empty secret disables
// authentication entirely, for local development.
func Middleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if secret == "" {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}

			claims := &Claims{}

			_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
				return []byte(secret), nil
			}, jwt.WithValidMethods([]string{"HS256"}))
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), contextKey{}, claims.TenantID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Token issues a signed token scoped to tenantID, valid for ttl. A nil
// tenant id issues an operator token.
func Token(secret string, tenantID uuid.UUID, ttl time.Duration) (string, error) {
	now := time.Now()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if tenantID != uuid.Nil {
		claims.TenantID = tenantID.String()
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// TenantAllowed reports whether the request may act on the given tenant.
// Requests without a tenant claim, operator tokens and requests on routes
// with authentication disabled may act on any tenant.
func TenantAllowed(r *http.Request, tenantID uuid.UUID) bool {
	claimed, ok := r.Context().Value(contextKey{}).(string)
	if !ok || claimed == "" {
		return true
	}

	return claimed == tenantID.String()
}

// Operator reports whether the request may manage the tenant registry.
// Only operator tokens (or disabled authentication) qualify.
func Operator(r *http.Request) bool {
	claimed, ok := r.Context().Value(contextKey{}).(string)

	return !ok || claimed == ""
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")

	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}

	return strings.TrimSpace(header[len(prefix):])
}
