package credentials

import (
	"bytes"
	"encoding/json"
)

// Secret is an optional secret string. The zero value is unset. An unset
// Secret and a Secret holding "" are different values and stay different
// through storage.
type Secret struct {
	value string
	set   bool
}

func Some(v string) Secret { return Secret{value: v, set: true} }

func None() Secret { return Secret{} }

// SomeIf returns Some(v) when ok, otherwise None.
func SomeIf(v string, ok bool) Secret {
	if !ok {
		return None()
	}
	return Some(v)
}

func (s Secret) IsSet() bool { return s.set }

// Value returns the secret, or "" when unset.
func (s Secret) Value() string { return s.value }

// String keeps secrets out of formatted output.
func (s Secret) String() string {
	if !s.set {
		return "<unset>"
	}
	return "<redacted>"
}

// GoString covers %#v.
func (s Secret) GoString() string { return s.String() }

func (s Secret) MarshalJSON() ([]byte, error) {
	if !s.set {
		return []byte("null"), nil
	}
	return json.Marshal(s.value)
}

func (s *Secret) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*s = None()
		return nil
	}
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = Some(v)
	return nil
}

// MarshalYAML renders unset secrets as null.
func (s Secret) MarshalYAML() (interface{}, error) {
	if !s.set {
		return nil, nil
	}
	return s.value, nil
}
