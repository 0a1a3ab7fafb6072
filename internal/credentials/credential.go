package credentials

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/gluk-w/claworc/keyvault/internal/database"
	"github.com/gluk-w/claworc/keyvault/internal/sshkeys"
)

const (
	TypePassword   = database.CredentialTypePassword
	TypePrivateKey = database.CredentialTypePrivateKey
)

// Credential is a stored credential with its secrets decrypted.
type Credential struct {
	ID         string    `json:"id"`
	OwnerID    uint      `json:"owner_id"`
	Name       string    `json:"name"`
	Type       string    `json:"type"`
	Username   string    `json:"username"`
	Password   Secret    `json:"password"`
	PrivateKey Secret    `json:"private_key"`
	Passphrase Secret    `json:"passphrase"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Input carries the mutable fields of a credential for create and update.
// Update replaces every field, so a secret left unset is cleared.
type Input struct {
	Name       string `json:"name" validate:"required,max=255"`
	Type       string `json:"type" validate:"required,oneof=password private_key"`
	Username   string `json:"username" validate:"max=255"`
	Password   Secret `json:"password"`
	PrivateKey Secret `json:"private_key"`
	Passphrase Secret `json:"passphrase"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// check validates in and returns its normalized form. Private keys must be
// in a format the key parser understands, and a passphrase is accepted only
// for a private key that is encrypted with it.
func (s *Store) check(in Input) (Input, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Type = strings.TrimSpace(in.Type)

	if err := s.validate.Struct(in); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
			return Input{}, fieldError(errs[0])
		}
		return Input{}, &ValidationError{Reason: err.Error()}
	}

	switch in.Type {
	case TypePassword:
		if !in.Password.IsSet() {
			return Input{}, &ValidationError{Field: "password", Reason: "required for password credentials"}
		}
		if in.PrivateKey.IsSet() {
			return Input{}, &ValidationError{Field: "private_key", Reason: "not allowed for password credentials"}
		}
		if in.Passphrase.IsSet() {
			return Input{}, &ValidationError{Field: "passphrase", Reason: "not allowed for password credentials"}
		}
	case TypePrivateKey:
		if !in.PrivateKey.IsSet() {
			return Input{}, &ValidationError{Field: "private_key", Reason: "required for private_key credentials"}
		}
		if in.Password.IsSet() {
			return Input{}, &ValidationError{Field: "password", Reason: "not allowed for private_key credentials"}
		}
		if err := checkPrivateKey(in.PrivateKey.Value(), in.Passphrase); err != nil {
			return Input{}, err
		}
	}
	return in, nil
}

func checkPrivateKey(key string, passphrase Secret) error {
	res := sshkeys.ValidatePrivateKey([]byte(key))
	switch res.Status {
	case sshkeys.StatusMalformed:
		return &ValidationError{Field: "private_key", Reason: res.Error}
	case sshkeys.StatusValid:
		if passphrase.IsSet() {
			return &ValidationError{Field: "passphrase", Reason: "private key is not passphrase-protected"}
		}
		return nil
	}

	if !passphrase.IsSet() || passphrase.Value() == "" {
		return &ValidationError{Field: "passphrase", Reason: "required for a passphrase-protected private key"}
	}
	opened := sshkeys.ValidatePrivateKeyWithPassphrase([]byte(key), []byte(passphrase.Value()))
	if opened.Status == sshkeys.StatusMalformed {
		return &ValidationError{Field: "passphrase", Reason: opened.Error}
	}
	return nil
}

func fieldError(e validator.FieldError) *ValidationError {
	field := e.Field()
	switch e.Tag() {
	case "required":
		return &ValidationError{Field: field, Reason: "is required"}
	case "max":
		return &ValidationError{Field: field, Reason: fmt.Sprintf("must be at most %s characters", e.Param())}
	case "oneof":
		return &ValidationError{Field: field, Reason: fmt.Sprintf("must be one of: %s", e.Param())}
	default:
		return &ValidationError{Field: field, Reason: fmt.Sprintf("failed on '%s'", e.Tag())}
	}
}
