package model

import (
	"regexp"
	"testing"
)

// crockfordBase32 matches valid ULID strings (26 chars, Crockford Base32 alphabet).
var crockfordBase32 = regexp.MustCompile(`^[0123456789ABCDEFGHJKMNPQRSTVWXYZ]{26}$`)

func TestNewIDFormat(t *testing.T) {
	id := NewID()
	if !crockfordBase32.MatchString(id) {
		t.Errorf("NewID() = %q, does not match Crockford Base32 ULID format", id)
	}
}

func TestNewIDUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewID()
		if seen[id] {
			t.Fatalf("NewID() produced duplicate: %s", id)
		}
		seen[id] = true
	}
}

func TestValidTransition(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{RunPending, RunRunning, true},
		{RunPending, RunFailed, true},
		{RunPending, RunCompleted, false},
		{RunRunning, RunCompleted, true},
		{RunRunning, RunFailed, true},
		{RunRunning, RunPending, false},
		{RunCompleted, RunRunning, false},
		{RunFailed, RunRunning, false},
		{"bogus", RunRunning, false},
	}
	for _, tt := range tests {
		if got := ValidTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("ValidTransition(%q, %q) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestValidMode(t *testing.T) {
	for _, m := range []string{ModeCollect, ModeFailFast} {
		if !ValidMode(m) {
			t.Errorf("ValidMode(%q) = false, want true", m)
		}
	}
	for _, m := range []string{"", "all", "FAILFAST"} {
		if ValidMode(m) {
			t.Errorf("ValidMode(%q) = true, want false", m)
		}
	}
}

func TestRunTerminal(t *testing.T) {
	tests := []struct {
		status string
		want   bool
	}{
		{RunPending, false},
		{RunRunning, false},
		{RunCompleted, true},
		{RunFailed, true},
	}
	for _, tt := range tests {
		r := &RefreshRun{Status: tt.status}
		if got := r.Terminal(); got != tt.want {
			t.Errorf("Terminal() for %q = %v, want %v", tt.status, got, tt.want)
		}
	}
}
