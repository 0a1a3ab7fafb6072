package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/gluk-w/claworc/keyvault/internal/credentials"
	"github.com/gluk-w/claworc/keyvault/internal/middleware"
	"github.com/gluk-w/claworc/keyvault/internal/sshkeys"
)

// maxNameLength matches the name and username limit of the credential store.
const maxNameLength = 255

type generateKeyRequest struct {
	Name       string `json:"name"`
	Username   string `json:"username"`
	KeyType    string `json:"key_type"`
	KeySize    int    `json:"key_size"`
	Comment    string `json:"comment"`
	Passphrase string `json:"passphrase"`
}

type keyInfo struct {
	KeyType       sshkeys.KeyType `json:"key_type"`
	KeySize       int             `json:"key_size"`
	Fingerprint   string          `json:"fingerprint"`
	HasPassphrase bool            `json:"has_passphrase"`
	Comment       string          `json:"comment"`
	Backend       sshkeys.Backend `json:"backend"`
}

type generateKeyResponse struct {
	Credential *credentials.Credential `json:"credential"`
	KeyInfo    keyInfo                 `json:"key_info"`
	PublicKey  string                  `json:"public_key"`
}

// GenerateKey generates a key pair and stores its private half as a new
// private_key credential. The public half is returned and not stored.
func (h *Handler) GenerateKey(w http.ResponseWriter, r *http.Request) {
	var body generateKeyRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.Name) == "" {
		writeError(w, http.StatusBadRequest, "name: is required")
		return
	}
	if utf8.RuneCountInString(body.Name) > maxNameLength {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("name: must be at most %d characters", maxNameLength))
		return
	}
	if utf8.RuneCountInString(body.Username) > maxNameLength {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("username: must be at most %d characters", maxNameLength))
		return
	}
	if !allow(w, r, h.keygenLimit) {
		return
	}

	kp, err := h.keygen.Generate(r.Context(), sshkeys.GenerateRequest{
		KeyType:    sshkeys.KeyType(body.KeyType),
		KeySize:    body.KeySize,
		Comment:    body.Comment,
		Passphrase: body.Passphrase,
	})
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}

	c, err := h.store.CreateFromKeyPair(r.Context(), middleware.OwnerID(r), body.Name, body.Username, kp, body.Passphrase)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, generateKeyResponse{
		Credential: c,
		KeyInfo: keyInfo{
			KeyType:       kp.KeyType,
			KeySize:       kp.KeySize,
			Fingerprint:   kp.Fingerprint,
			HasPassphrase: kp.HasPassphrase,
			Comment:       kp.Comment,
			Backend:       kp.Backend,
		},
		PublicKey: string(kp.PublicKey),
	})
}

type validateKeyRequest struct {
	PrivateKey string `json:"private_key"`
	PublicKey  string `json:"public_key"`
	Passphrase string `json:"passphrase"`
}

type publicKeyResult struct {
	Valid bool                   `json:"valid"`
	Error string                 `json:"error,omitempty"`
	Info  *sshkeys.PublicKeyInfo `json:"info,omitempty"`
}

type pairResult struct {
	Match bool   `json:"match"`
	Error string `json:"error,omitempty"`
}

type validateKeyResponse struct {
	PrivateKey *sshkeys.ValidationResult `json:"private_key,omitempty"`
	PublicKey  *publicKeyResult          `json:"public_key,omitempty"`
	// Pair is set when both halves were given and parse, unless the private
	// key is a legacy encrypted PEM submitted without its passphrase.
	Pair *pairResult `json:"pair,omitempty"`
}

// ValidateKey checks a private key, a public key, or both. Malformed input is
// reported in the body with status 200; nothing is stored.
func (h *Handler) ValidateKey(w http.ResponseWriter, r *http.Request) {
	var body validateKeyRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.PrivateKey == "" && body.PublicKey == "" {
		writeError(w, http.StatusBadRequest, "private_key or public_key is required")
		return
	}
	if !allow(w, r, h.validateLimit) {
		return
	}

	var resp validateKeyResponse
	if body.PrivateKey != "" {
		blob := []byte(body.PrivateKey)
		res := sshkeys.ValidatePrivateKeyWithPassphrase(blob, []byte(body.Passphrase))
		resp.PrivateKey = &res
		// Only a guess against a protected key counts toward the failure
		// streak, and only opening one clears it.
		if body.Passphrase != "" && sshkeys.ValidatePrivateKey(blob).Status == sshkeys.StatusPassphraseRequired {
			switch {
			case res.Status == sshkeys.StatusMalformed && res.Error == sshkeys.ReasonIncorrectPassphrase:
				h.validateLimit.RecordFailure(ownerKey(r))
			case res.Status == sshkeys.StatusValid:
				h.validateLimit.RecordSuccess(ownerKey(r))
			}
		}
	}
	if body.PublicKey != "" {
		info, err := sshkeys.ParsePublicKey([]byte(body.PublicKey))
		if err != nil {
			resp.PublicKey = &publicKeyResult{Error: err.Error()}
		} else {
			resp.PublicKey = &publicKeyResult{Valid: true, Info: info}
		}
	}

	if resp.PrivateKey != nil && resp.PrivateKey.WellFormed() && resp.PublicKey != nil && resp.PublicKey.Valid {
		err := sshkeys.MatchKeyPair([]byte(body.PrivateKey), []byte(body.PublicKey), []byte(body.Passphrase))
		switch {
		case err == nil:
			resp.Pair = &pairResult{Match: true}
		case errors.Is(err, sshkeys.ErrNoPublicHalf):
		default:
			resp.Pair = &pairResult{Error: err.Error()}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

type keygenStatusResponse struct {
	Available      bool              `json:"available"`
	Backend        sshkeys.Backend   `json:"backend"`
	SupportedTypes []sshkeys.KeyType `json:"supported_types"`
}

// KeygenStatus reports whether ssh-keygen is in use and which key types the
// active backend can generate.
func (h *Handler) KeygenStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, keygenStatusResponse{
		Available:      h.keygen.IsBackendAvailable(),
		Backend:        h.keygen.ActiveBackend(),
		SupportedTypes: h.keygen.SupportedTypes(),
	})
}
