package sshkeys

import (
	"errors"
	"fmt"
)

// ErrNoPublicHalf is returned by MatchKeyPair when the private key is
// encrypted and its public half cannot be recovered without the passphrase.
var ErrNoPublicHalf = errors.New("public key not recoverable from encrypted private key")

// FingerprintMismatchError is returned when a key fingerprint does not match
// the expected value.
type FingerprintMismatchError struct {
	Expected string
	Actual   string
}

func (e *FingerprintMismatchError) Error() string {
	return fmt.Sprintf("SSH key fingerprint mismatch: expected %s, got %s", e.Expected, e.Actual)
}

// GetPublicKeyFingerprint returns the SHA256 fingerprint of a public key in
// any format ParsePublicKey accepts.
func GetPublicKeyFingerprint(publicKey []byte) (string, error) {
	info, err := ParsePublicKey(publicKey)
	if err != nil {
		return "", fmt.Errorf("get fingerprint: %w", err)
	}
	return info.Fingerprint, nil
}

// VerifyFingerprint checks that publicKey has the expected fingerprint. An
// empty expectedFingerprint matches any key.
func VerifyFingerprint(publicKey []byte, expectedFingerprint string) error {
	if expectedFingerprint == "" {
		return nil
	}

	actual, err := GetPublicKeyFingerprint(publicKey)
	if err != nil {
		return fmt.Errorf("verify fingerprint: %w", err)
	}

	if actual != expectedFingerprint {
		return &FingerprintMismatchError{
			Expected: expectedFingerprint,
			Actual:   actual,
		}
	}

	return nil
}

// MatchKeyPair checks that publicKey is the public half of privateKey.
// passphrase may be nil; it is only needed for encrypted PEM keys, since
// OpenSSH containers store the public key in clear.
func MatchKeyPair(privateKey, publicKey, passphrase []byte) error {
	res := ValidatePrivateKeyWithPassphrase(privateKey, passphrase)
	if res.Status == StatusMalformed {
		return fmt.Errorf("match key pair: private key: %s", res.Error)
	}
	if res.Fingerprint == "" {
		return fmt.Errorf("match key pair: %w", ErrNoPublicHalf)
	}
	return VerifyFingerprint(publicKey, res.Fingerprint)
}
