package sshkeys

import (
	"bytes"
	"crypto/dsa" //nolint:staticcheck // DSA keys are still parsed for validation.
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/ssh"
)

// ValidationStatus is the outcome of validating a private key blob.
type ValidationStatus string

const (
	// StatusValid means the key decoded and can be used as is.
	StatusValid ValidationStatus = "valid"
	// StatusPassphraseRequired means the encoding is well-formed but the key
	// material is encrypted and was not decrypted.
	StatusPassphraseRequired ValidationStatus = "passphrase_required"
	// StatusMalformed means the blob is not a supported private key.
	StatusMalformed ValidationStatus = "malformed"
)

// ValidationResult describes a private key blob. Algorithm and Fingerprint
// are set whenever the public half is recoverable: always for valid keys, and
// for passphrase-protected OpenSSH keys whose public key is stored in clear.
type ValidationResult struct {
	Status      ValidationStatus `json:"status"`
	Format      string           `json:"format,omitempty"`
	Algorithm   string           `json:"algorithm,omitempty"`
	Fingerprint string           `json:"fingerprint,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// WellFormed reports whether the encoding is valid, with or without a passphrase.
func (r ValidationResult) WellFormed() bool {
	return r.Status == StatusValid || r.Status == StatusPassphraseRequired
}

// ReasonIncorrectPassphrase is the Error of a result whose key did not open
// with the supplied passphrase.
const ReasonIncorrectPassphrase = "incorrect passphrase"

func malformed(format, reason string) ValidationResult {
	return ValidationResult{Status: StatusMalformed, Format: format, Error: reason}
}

// PEM block types of the private key encodings we accept.
const (
	pemOpenSSH      = "OPENSSH PRIVATE KEY"
	pemPKCS1        = "RSA PRIVATE KEY"
	pemPKCS8        = "PRIVATE KEY"
	pemPKCS8Encrypt = "ENCRYPTED PRIVATE KEY"
	pemSEC1         = "EC PRIVATE KEY"
	pemDSA          = "DSA PRIVATE KEY"
)

// ValidatePrivateKey classifies a private key blob without decrypting it.
// A passphrase-protected key is a well-formed key, not a failure.
func ValidatePrivateKey(blob []byte) ValidationResult {
	block, rest := pem.Decode(bytes.TrimSpace(blob))
	if block == nil {
		return malformed("", "no PEM block found")
	}
	if len(bytes.TrimSpace(rest)) > 0 {
		return malformed(block.Type, "unexpected data after key block")
	}

	switch block.Type {
	case pemOpenSSH, pemPKCS1, pemPKCS8, pemSEC1, pemDSA:
	case pemPKCS8Encrypt:
		if err := checkEncryptedPKCS8(block.Bytes); err != nil {
			return malformed(block.Type, err.Error())
		}
		return ValidationResult{Status: StatusPassphraseRequired, Format: block.Type}
	default:
		return malformed(block.Type, fmt.Sprintf("unsupported key type %q", block.Type))
	}

	raw, err := ssh.ParseRawPrivateKey(pem.EncodeToMemory(block))
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if !errors.As(err, &missing) {
			return malformed(block.Type, err.Error())
		}
		if block.Type != pemOpenSSH && !x509.IsEncryptedPEMBlock(block) { //nolint:staticcheck // legacy PEM encryption detection
			return malformed(block.Type, "encrypted PEM block without DEK-Info header")
		}
		res := ValidationResult{Status: StatusPassphraseRequired, Format: block.Type}
		if missing.PublicKey != nil {
			res.Algorithm = missing.PublicKey.Type()
			res.Fingerprint = Fingerprint(missing.PublicKey)
		}
		return res
	}

	return fromRawKey(block.Type, raw)
}

// ValidatePrivateKeyWithPassphrase is ValidatePrivateKey followed by an
// attempt to decrypt the key with passphrase. Unencrypted keys are reported as
// valid regardless of the passphrase; a passphrase that does not open the key
// is reported as malformed with reason "incorrect passphrase".
func ValidatePrivateKeyWithPassphrase(blob, passphrase []byte) ValidationResult {
	res := ValidatePrivateKey(blob)
	if res.Status != StatusPassphraseRequired || len(passphrase) == 0 {
		return res
	}
	if res.Format == pemPKCS8Encrypt {
		res.Error = "decrypting PKCS#8 keys is not supported"
		return res
	}

	raw, err := ssh.ParseRawPrivateKeyWithPassphrase(bytes.TrimSpace(blob), passphrase)
	if err != nil {
		if errors.Is(err, x509.IncorrectPasswordError) {
			return malformed(res.Format, ReasonIncorrectPassphrase)
		}
		return malformed(res.Format, err.Error())
	}
	return fromRawKey(res.Format, raw)
}

func fromRawKey(format string, raw interface{}) ValidationResult {
	signer, err := ssh.NewSignerFromKey(raw)
	if err != nil {
		return malformed(format, err.Error())
	}
	pub := signer.PublicKey()
	return ValidationResult{
		Status:      StatusValid,
		Format:      format,
		Algorithm:   pub.Type(),
		Fingerprint: Fingerprint(pub),
	}
}

// checkEncryptedPKCS8 verifies the outer EncryptedPrivateKeyInfo structure
// (RFC 5208) without attempting decryption.
func checkEncryptedPKCS8(der []byte) error {
	var info struct {
		Algo          pkix.AlgorithmIdentifier
		EncryptedData []byte
	}
	rest, err := asn1.Unmarshal(der, &info)
	if err != nil {
		return fmt.Errorf("invalid encrypted PKCS#8 structure: %w", err)
	}
	if len(rest) > 0 {
		return errors.New("trailing data after encrypted PKCS#8 structure")
	}
	if len(info.EncryptedData) == 0 {
		return errors.New("encrypted PKCS#8 key has no payload")
	}
	return nil
}

// PublicKeyInfo is the parsed form of a public key.
type PublicKeyInfo struct {
	Algorithm   string  `json:"algorithm"`
	KeyType     KeyType `json:"key_type"`
	BitLength   int     `json:"bit_length"`
	Fingerprint string  `json:"fingerprint"`
	Comment     string  `json:"comment"`
}

// ParsePublicKey parses a single OpenSSH authorized_keys line
// ("ssh-ed25519 AAAA... comment") or a PEM "PUBLIC KEY" block.
func ParsePublicKey(blob []byte) (*PublicKeyInfo, error) {
	trimmed := bytes.TrimSpace(blob)
	if len(trimmed) == 0 {
		return nil, &ParseError{Err: errors.New("public key is empty")}
	}

	var (
		pub     ssh.PublicKey
		comment string
	)
	if bytes.HasPrefix(trimmed, []byte("-----BEGIN")) {
		block, rest := pem.Decode(trimmed)
		if block == nil || block.Type != "PUBLIC KEY" {
			return nil, &ParseError{Err: errors.New("expected a PEM PUBLIC KEY block")}
		}
		if len(bytes.TrimSpace(rest)) > 0 {
			return nil, &ParseError{Err: errors.New("unexpected data after key block")}
		}
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, &ParseError{Err: err}
		}
		pub, err = ssh.NewPublicKey(key)
		if err != nil {
			return nil, &ParseError{Err: err}
		}
	} else {
		if bytes.ContainsAny(trimmed, "\r\n") {
			return nil, &ParseError{Err: errors.New("expected a single key line")}
		}
		var err error
		pub, comment, _, _, err = ssh.ParseAuthorizedKey(trimmed)
		if err != nil {
			return nil, &ParseError{Err: err}
		}
	}

	return &PublicKeyInfo{
		Algorithm:   pub.Type(),
		KeyType:     keyTypeForAlgorithm(pub.Type()),
		BitLength:   publicKeyBits(pub),
		Fingerprint: Fingerprint(pub),
		Comment:     comment,
	}, nil
}

// Fingerprint returns the SHA256 fingerprint of pub in OpenSSH form
// ("SHA256:" followed by unpadded base64).
func Fingerprint(pub ssh.PublicKey) string {
	return ssh.FingerprintSHA256(pub)
}

func publicKeyBits(pub ssh.PublicKey) int {
	cpk, ok := pub.(ssh.CryptoPublicKey)
	if !ok {
		return 0
	}
	switch k := cpk.CryptoPublicKey().(type) {
	case *rsa.PublicKey:
		return k.N.BitLen()
	case *ecdsa.PublicKey:
		return k.Curve.Params().BitSize
	case ed25519.PublicKey:
		return 256
	case *dsa.PublicKey:
		return k.P.BitLen()
	default:
		return 0
	}
}

func keyTypeForAlgorithm(algo string) KeyType {
	switch {
	case algo == ssh.KeyAlgoRSA:
		return KeyTypeRSA
	case algo == ssh.KeyAlgoED25519:
		return KeyTypeEd25519
	case strings.HasPrefix(algo, "ecdsa-sha2-"):
		return KeyTypeECDSA
	case algo == ssh.KeyAlgoDSA:
		return KeyTypeDSA
	default:
		return KeyType(algo)
	}
}
