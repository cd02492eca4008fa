// Package middleware contains HTTP middleware for the task API.
package middleware

import (
	"net/http"
	"strings"

	"fieldtasks/internal/auth"
)

// RequireToken ensures the request carries the configured bearer token.
func RequireToken(token string) func(http.Handler) http.Handler {
	digest := auth.HashToken(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Missing authorization header", http.StatusUnauthorized)
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, "Invalid authorization header", http.StatusUnauthorized)
				return
			}

			if !auth.Verify(parts[1], digest) {
				http.Error(w, "Invalid authorization token", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
