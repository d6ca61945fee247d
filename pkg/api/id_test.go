package api

import (
	"testing"
)

func TestNewID(t *testing.T) {
	id := NewID()
	if !ValidateID(id) {
		t.Errorf("NewID() = %q, want valid ID", id)
	}
}

func TestValidateID(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want bool
	}{
		{"valid", "6f1c2a0e-3b4d-4e5f-8a9b-0c1d2e3f4a5b", true},
		{"upper case", "6F1C2A0E-3B4D-4E5F-8A9B-0C1D2E3F4A5B", true},
		{"braced", "{6f1c2a0e-3b4d-4e5f-8a9b-0c1d2e3f4a5b}", false},
		{"urn", "urn:uuid:6f1c2a0e-3b4d-4e5f-8a9b-0c1d2e3f4a5b", false},
		{"no dashes", "6f1c2a0e3b4d4e5f8a9b0c1d2e3f4a5b", false},
		{"bad chars", "zz1c2a0e-3b4d-4e5f-8a9b-0c1d2e3f4a5b", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateID(tt.id); got != tt.want {
				t.Errorf("ValidateID(%q) = %v, want %v", tt.id, got, tt.want)
			}
		})
	}
}

func TestIDUniqueness(t *testing.T) {
	const count = 1000
	seen := make(map[string]bool, count)

	for i := 0; i < count; i++ {
		id := NewID()
		if seen[id] {
			t.Fatalf("duplicate ID after %d generations: %s", i, id)
		}
		seen[id] = true
	}
}
