package sshkeys

import (
	"errors"
	"fmt"
)

var (
	// ErrGeneration is matched by every *GenerationError.
	ErrGeneration = errors.New("key generation failed")
	// ErrInvalidParameter is matched by every *InvalidParameterError.
	ErrInvalidParameter = errors.New("invalid key parameters")
	// ErrParse is matched by every *ParseError.
	ErrParse = errors.New("cannot parse key")
)

// InvalidParameterError is returned when the requested algorithm or size is
// not offered by the backend that would serve the request.
type InvalidParameterError struct {
	KeyType string
	KeySize int
	Backend Backend
	Reason  string
}

func (e *InvalidParameterError) Error() string {
	if e.KeySize != 0 {
		return fmt.Sprintf("unsupported key parameters %s/%d for %s backend: %s", e.KeyType, e.KeySize, e.Backend, e.Reason)
	}
	return fmt.Sprintf("unsupported key type %q for %s backend: %s", e.KeyType, e.Backend, e.Reason)
}

func (e *InvalidParameterError) Is(target error) bool {
	return target == ErrInvalidParameter
}

// GenerationError wraps a backend failure. Stderr holds the external tool's
// diagnostic output when there is one.
type GenerationError struct {
	Backend Backend
	Err     error
	Stderr  string
}

func (e *GenerationError) Error() string {
	msg := fmt.Sprintf("generate key (%s): %v", e.Backend, e.Err)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *GenerationError) Unwrap() error { return e.Err }

func (e *GenerationError) Is(target error) bool {
	return target == ErrGeneration
}

// ParseError is returned by ParsePublicKey for input that is not a supported
// public key encoding.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse public key: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}
