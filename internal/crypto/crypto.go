// Package crypto encrypts individual credential secrets at rest.
//
// Every value is sealed as a Fernet token (AES-128-CBC with an HMAC-SHA256
// over version, timestamp, IV and ciphertext) under a server-held master key.
// A token that was altered in any way, or that was produced under another
// key, fails verification and is rejected with a *DecryptionError.
package crypto

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/fernet/fernet-go"
)

// ErrDecryption is matched by every *DecryptionError.
var ErrDecryption = errors.New("decryption failed")

// DecryptionError reports a token that failed authentication or decoding.
type DecryptionError struct {
	Reason string
}

func (e *DecryptionError) Error() string {
	return "decrypt: " + e.Reason
}

func (e *DecryptionError) Is(target error) bool {
	return target == ErrDecryption
}

// Codec seals and opens secrets with a single master key. It holds no other
// state and is safe for concurrent use.
type Codec struct {
	key *fernet.Key
}

// NewCodec decodes an encoded Fernet master key (32 bytes, base64).
func NewCodec(masterKey string) (*Codec, error) {
	if masterKey == "" {
		return nil, errors.New("master key is empty")
	}
	key, err := fernet.DecodeKey(masterKey)
	if err != nil {
		return nil, fmt.Errorf("decode master key: %w", err)
	}
	return &Codec{key: key}, nil
}

// GenerateMasterKey returns a new random master key in its encoded form.
func GenerateMasterKey() (string, error) {
	var k fernet.Key
	if err := k.Generate(); err != nil {
		return "", fmt.Errorf("generate master key: %w", err)
	}
	return k.Encode(), nil
}

// Encrypt seals plaintext. The empty string is a valid plaintext and yields a
// regular token.
func (c *Codec) Encrypt(plaintext string) (string, error) {
	tok, err := fernet.EncryptAndSign([]byte(plaintext), c.key)
	if err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}
	return string(tok), nil
}

// Decrypt opens a token produced by Encrypt under the same master key.
func (c *Codec) Decrypt(token string) (string, error) {
	if token == "" {
		return "", &DecryptionError{Reason: "empty token"}
	}
	// fernet-go tolerates line breaks and non-canonical padding bits, which
	// would let an altered token verify. Only the canonical encoding is accepted.
	if strings.ContainsAny(token, "\r\n") {
		return "", &DecryptionError{Reason: "token contains line breaks"}
	}
	if _, err := base64.URLEncoding.Strict().DecodeString(token); err != nil {
		return "", &DecryptionError{Reason: "token is not canonical base64"}
	}
	// ttl 0: tokens do not expire.
	msg := fernet.VerifyAndDecrypt([]byte(token), 0, []*fernet.Key{c.key})
	if msg == nil {
		return "", &DecryptionError{Reason: "invalid token or wrong key"}
	}
	return string(msg), nil
}

// Mask hides all but the last four characters of value.
func Mask(value string) string {
	if value == "" {
		return ""
	}
	if len(value) > 4 {
		return "****" + value[len(value)-4:]
	}
	return "****"
}
