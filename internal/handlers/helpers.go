package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/gluk-w/claworc/keyvault/internal/credentials"
	"github.com/gluk-w/claworc/keyvault/internal/crypto"
	"github.com/gluk-w/claworc/keyvault/internal/middleware"
	"github.com/gluk-w/claworc/keyvault/internal/ratelimit"
	"github.com/gluk-w/claworc/keyvault/internal/sshkeys"
)

// maxBodyBytes bounds request bodies. A bulk create of MaxBulkItems 4096-bit
// keys fits comfortably.
const maxBodyBytes = 4 << 20

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// writeFailure maps an error from the store or the generator to a response.
// Internal details go to the log, never to the client.
func (h *Handler) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	var (
		genErr     *sshkeys.GenerationError
		storageErr *credentials.StorageError
	)
	switch {
	case errors.Is(err, credentials.ErrValidation), errors.Is(err, sshkeys.ErrInvalidParameter):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, credentials.ErrNotFound):
		writeError(w, http.StatusNotFound, "Credential not found")
	case errors.As(err, &genErr):
		h.log.Error("key generation failed",
			zap.String("backend", string(genErr.Backend)),
			zap.Error(genErr.Err),
			zap.String("stderr", genErr.Stderr),
		)
		writeError(w, http.StatusInternalServerError, "Key generation failed")
	case errors.Is(err, crypto.ErrDecryption):
		h.log.Error("credential decryption failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to decrypt credential")
	case errors.As(err, &storageErr):
		h.log.Error("storage failure", zap.String("op", storageErr.Op), zap.Error(storageErr.Err))
		writeError(w, http.StatusInternalServerError, "Storage error")
	default:
		h.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// allow applies l to the caller and writes a 429 when the attempt is refused.
func allow(w http.ResponseWriter, r *http.Request, l *ratelimit.Limiter) bool {
	err := l.Allow(ownerKey(r))
	if err == nil {
		return true
	}
	var limitErr *ratelimit.LimitError
	if errors.As(err, &limitErr) {
		secs := int(limitErr.RetryAfter / time.Second)
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	writeError(w, http.StatusTooManyRequests, err.Error())
	return false
}

func ownerKey(r *http.Request) string {
	return strconv.FormatUint(uint64(middleware.OwnerID(r)), 10)
}
