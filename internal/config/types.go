package config

import "encoding/json"

const redacted = "[REDACTED]"

// Secret holds a credential (API key, DSN) that must never reach logs,
// run records or serialized config. Use Value() to read it.
type Secret string

// String implements fmt.Stringer. Always returns the redacted form.
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

// GoString implements fmt.GoStringer for %#v formatting.
func (s Secret) GoString() string {
	return "Secret(" + redacted + ")"
}

// Value returns the actual secret value.
func (s Secret) Value() string {
	return string(s)
}

// IsSet reports whether the secret is non-empty.
func (s Secret) IsSet() bool {
	return s != ""
}

// MarshalJSON implements json.Marshaler. Always returns the redacted form.
func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// MarshalText implements encoding.TextMarshaler. Always returns the redacted form.
func (s Secret) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Accepts raw values from
// YAML and environment variables.
func (s *Secret) UnmarshalText(text []byte) error {
	*s = Secret(text)
	return nil
}
