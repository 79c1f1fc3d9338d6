/*
middleware.go - HTTP request guards

PURPOSE:
  Bearer-token middleware for the two audiences. On success the verified
  subject is stashed in the request context; handlers read it back with
  AccountFrom / AdminFrom instead of trusting anything in the request body.
*/
package auth

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const (
	accountKey contextKey = "auth.account"
	adminKey   contextKey = "auth.admin"
)

// RequireDevice guards player endpoints.
func (m *Manager) RequireDevice(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := m.Verify(bearerToken(r), RoleDevice)
		if err != nil {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), accountKey, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin guards admin endpoints.
func (m *Manager) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := m.Verify(bearerToken(r), RoleAdmin)
		if err != nil {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), adminKey, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AccountFrom returns the authenticated account id, if any.
func AccountFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(accountKey).(string)
	return id, ok && id != ""
}

// AdminFrom returns the authenticated admin username, if any.
func AdminFrom(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(adminKey).(string)
	return name, ok && name != ""
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return token
	}
	return ""
}
