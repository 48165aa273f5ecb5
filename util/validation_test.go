package util

import (
	"strings"
	"testing"
)

func TestIsValidWebFingerUsername(t *testing.T) {
	tests := []struct {
		username string
		valid    bool
		errMsg   string
	}{
		{"alice", true, ""},
		{"alice-bob", true, ""},
		{"alice.bob_123", true, ""},
		{"test!$&'()*+,;=123", true, ""},

		{"", false, "must be at least 1 character"},
		{"älice", false, "invalid characters"},
		{"字", false, "invalid characters"},
		{"alice bob", false, "invalid characters"},
		{"alice\n", false, "invalid characters"},
		{"alice@bob", false, "invalid characters"},
		{"alice/bob", false, "invalid characters"},
		{"alice:bob", false, "invalid characters"},
	}

	for _, tt := range tests {
		t.Run(tt.username, func(t *testing.T) {
			valid, errMsg := IsValidWebFingerUsername(tt.username)

			if valid != tt.valid {
				t.Errorf("Expected valid=%v, got %v for name '%s'", tt.valid, valid, tt.username)
			}
			if !tt.valid && !strings.Contains(strings.ToLower(errMsg), strings.ToLower(tt.errMsg)) {
				t.Errorf("Expected error containing '%s', got '%s'", tt.errMsg, errMsg)
			}
		})
	}
}

func TestParseHandle(t *testing.T) {
	tests := []struct {
		handle string
		name   string
		host   string
		ok     bool
	}{
		{"@alice@Lemmy.World", "alice", "lemmy.world", true},
		{"alice@lemmy.world", "alice", "lemmy.world", true},
		{"acct:tech@kbin.social", "tech", "kbin.social", true},
		{"!tech@kbin.social", "tech", "kbin.social", true},
		{"alice", "", "", false},
		{"@alice@", "", "", false},
		{"https://lemmy.world/u/alice", "", "", false},
		{"@al ice@lemmy.world", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.handle, func(t *testing.T) {
			name, host, ok := ParseHandle(tt.handle)
			if ok != tt.ok || name != tt.name || host != tt.host {
				t.Errorf("ParseHandle(%q) = %q, %q, %v; want %q, %q, %v", tt.handle, name, host, ok, tt.name, tt.host, tt.ok)
			}
		})
	}
}
