package middleware

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

// UserIDKey is the context key for the calling user.
const UserIDKey contextKey = "user_id"

// DefaultUser owns resources created without a user header.
const DefaultUser = "default"

// UserExtractor reads the calling user from header (X-User-Id by default)
// and falls back to DefaultUser. Agents, deployments and training jobs are
// scoped to this user.
func UserExtractor(header string) func(http.Handler) http.Handler {
	if header == "" {
		header = "X-User-Id"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := strings.TrimSpace(r.Header.Get(header))
			if user == "" {
				user = DefaultUser
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), user)))
		})
	}
}

// WithUserID returns ctx carrying the user ID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetUserID retrieves the user ID from the request context.
func GetUserID(ctx context.Context) string {
	if v, ok := ctx.Value(UserIDKey).(string); ok {
		return v
	}
	return DefaultUser
}
