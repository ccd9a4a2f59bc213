package middleware

import (
	"context"
	"net/http"
)

type contextKey string

const userKey contextKey = "active-user"

// ActiveUser resolves the acting user for a request. Identity resolution
// proper is a collaborator concern; the front end sends an already-resolved
// identifier in the X-User-ID header and defaultUser covers single-user
// setups without one.
func ActiveUser(defaultUser string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := r.Header.Get("X-User-ID")
			if user == "" {
				user = defaultUser
			}
			if user == "" {
				http.Error(w, `{"error":"no user identity provided"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
		})
	}
}

// UserFrom returns the acting user stored by ActiveUser.
func UserFrom(ctx context.Context) string {
	user, _ := ctx.Value(userKey).(string)
	return user
}
