// Package middleware provides HTTP middleware for engram.
package middleware

import (
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// publicPaths are exempt from authentication.
var publicPaths = map[string]bool{
	"/health":       true,
	"/health/ready": true,
}

// APIKeyAuth returns middleware that validates the admin API key against
// its bcrypt hash. Clients send the key as "Authorization: Bearer <key>"
// or in the X-API-Key header; WebSocket clients may use ?token=. An
// empty hash disables authentication entirely.
func APIKeyAuth(keyHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if keyHash == "" || publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			key := extractKey(r)
			if key == "" {
				unauthorized(w, "authorization required")
				return
			}

			if err := bcrypt.CompareHashAndPassword([]byte(keyHash), []byte(key)); err != nil {
				unauthorized(w, "invalid api key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func extractKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token := strings.TrimPrefix(auth, "Bearer "); token != auth {
			return token
		}
		return ""
	}
	if r.URL.Path == "/ws" {
		return r.URL.Query().Get("token")
	}
	return ""
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
