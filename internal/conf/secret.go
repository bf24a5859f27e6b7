package conf

import "log/slog"

const redacted = "[REDACTED]"

// Secret is a string that never prints its value. Use Value to read it.
type Secret string

// Value returns the raw secret.
func (s Secret) Value() string { return string(s) }

func (s Secret) String() string { return redacted }

func (s Secret) GoString() string { return redacted }

// LogValue implements slog.LogValuer.
func (s Secret) LogValue() slog.Value { return slog.StringValue(redacted) }

// MarshalText redacts the secret in JSON and YAML output.
func (s Secret) MarshalText() ([]byte, error) { return []byte(redacted), nil }

// UnmarshalText keeps the raw value when decoding.
func (s *Secret) UnmarshalText(text []byte) error {
	*s = Secret(text)
	return nil
}
