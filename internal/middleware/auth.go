package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
)

type contextKey string

const ownerContextKey contextKey = "owner"

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// RequireOwner reads the caller's user id from header. The header is trusted:
// an upstream proxy authenticates the user and sets it, so this only checks
// that it carries a positive integer.
func RequireOwner(header string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get(header))
			if raw == "" {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Authentication required"})
				return
			}
			id, err := strconv.ParseUint(raw, 10, 0)
			if err != nil || id == 0 {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Invalid user id"})
				return
			}
			ctx := context.WithValue(r.Context(), ownerContextKey, uint(id))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OwnerID returns the owner attached by RequireOwner, or 0.
func OwnerID(r *http.Request) uint {
	id, _ := r.Context().Value(ownerContextKey).(uint)
	return id
}
