package redact

import (
	"encoding/json"
	"fmt"
	"testing"
)

func TestRevealReturnsUnderlyingValue(t *testing.T) {
	s := New("super-secret")
	if s.Reveal() != "super-secret" {
		t.Fatal("Reveal should return the wrapped value")
	}
}

func TestZeroValueIsZero(t *testing.T) {
	var s String
	if !s.IsZero() {
		t.Fatal("zero value should report IsZero")
	}
	if New("x").IsZero() {
		t.Fatal("a set value should not report IsZero")
	}
}

func TestStringerNeverLeaksValue(t *testing.T) {
	s := New("super-secret")
	formatted := fmt.Sprintf("%v", s)
	if formatted != "***" {
		t.Fatalf("formatted = %q, want ***", formatted)
	}
	if fmt.Sprintf("%v", String{}) != "" {
		t.Fatal("zero value should format as empty")
	}
}

func TestLogValueNeverLeaksValue(t *testing.T) {
	s := New("super-secret")
	if s.LogValue().String() != "***" {
		t.Fatalf("LogValue = %q, want ***", s.LogValue().String())
	}
}

func TestMarshalJSONAlwaysNull(t *testing.T) {
	s := New("super-secret")
	out, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != "null" {
		t.Fatalf("marshaled = %s, want null", out)
	}

	type wrapper struct {
		Secret String `json:"secret"`
	}
	out, err = json.Marshal(wrapper{Secret: s})
	if err != nil {
		t.Fatalf("marshal wrapper: %v", err)
	}
	var roundTrip map[string]any
	if err := json.Unmarshal(out, &roundTrip); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if roundTrip["secret"] != nil {
		t.Fatalf("secret field should serialize as null, got %v", roundTrip["secret"])
	}
}
