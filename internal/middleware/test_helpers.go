package middleware

import (
	"context"
	"net/http"
)

// WithOwnerForTest attaches an owner id to the request context for testing.
func WithOwnerForTest(r *http.Request, ownerID uint) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), ownerContextKey, ownerID))
}
