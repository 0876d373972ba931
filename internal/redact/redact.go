// Package redact wraps secret values so they can be carried through the
// process without ever reaching a log line or a JSON encoding.
package redact

import "log/slog"

// String holds a secret. Its zero value is the empty secret. It never
// serializes and always logs as "***" once set.
type String struct {
	value string
}

// New wraps a secret value.
func New(v string) String { return String{value: v} }

// Reveal returns the underlying value. Callers must not log or persist it.
func (s String) Reveal() string { return s.value }

// IsZero reports whether no secret was set.
func (s String) IsZero() bool { return s.value == "" }

// LogValue implements slog.LogValuer so structured logging never leaks it.
func (s String) LogValue() slog.Value {
	if s.IsZero() {
		return slog.StringValue("")
	}
	return slog.StringValue("***")
}

// String implements fmt.Stringer the same way, for %v/%s formatting.
func (s String) String() string {
	if s.IsZero() {
		return ""
	}
	return "***"
}

// MarshalJSON always emits null; secrets are never serialized.
func (s String) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}
