package middleware

import (
	"context"
	"net/http"
	"strings"
)

// UserIDHeader carries the caller's locally cached participant id.
const UserIDHeader = "userId"

const userIDKey contextKey = "user_id"

// RequireUser rejects requests without a userId header and stores it in the context.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(UserIDHeader))
		if userID == "" {
			http.Error(w, "missing userId header", http.StatusUnauthorized)
			return
		}

		AddSpanEvent(r.Context(), "identity.resolved")
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}

// WithUserID returns a copy of ctx carrying userID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext returns the caller id stored by RequireUser.
func UserIDFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(userIDKey).(string)
	return userID
}
