package logging

import (
	"errors"
	"log/slog"
	"testing"
	"time"
)

func TestWithOperation(t *testing.T) {
	logger := slog.Default()
	result := WithOperation(logger, "dispatch.send")
	if result == nil {
		t.Error("WithOperation returned nil")
	}
}

func TestWithTool(t *testing.T) {
	result := WithTool(slog.Default(), "mail_send")
	if result == nil {
		t.Error("WithTool returned nil")
	}
}

func TestWithUser(t *testing.T) {
	result := WithUser(slog.Default(), "user-1")
	if result == nil {
		t.Error("WithUser returned nil")
	}
}

func TestAttrs(t *testing.T) {
	tests := []struct {
		name    string
		attr    slog.Attr
		wantKey string
		wantVal string
	}{
		{"operation", Operation("dispatch.reply"), KeyOperation, "dispatch.reply"},
		{"transport", Transport("gmail_api"), KeyTransport, "gmail_api"},
		{"message", MessageID("m-1"), KeyMessageID, "m-1"},
		{"conversation", ConversationID("c-1"), KeyConversationID, "c-1"},
		{"user", UserID("u-1"), KeyUserID, "u-1"},
		{"status", Status(StatusSuccess), KeyStatus, StatusSuccess},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.attr.Key != tt.wantKey {
				t.Errorf("key = %q, want %q", tt.attr.Key, tt.wantKey)
			}
			if tt.attr.Value.String() != tt.wantVal {
				t.Errorf("value = %q, want %q", tt.attr.Value.String(), tt.wantVal)
			}
		})
	}
}

func TestAttempt(t *testing.T) {
	attr := Attempt(2)
	if attr.Key != KeyAttempt {
		t.Errorf("Attempt key = %q, want %q", attr.Key, KeyAttempt)
	}
	if attr.Value.Int64() != 2 {
		t.Errorf("Attempt value = %d, want 2", attr.Value.Int64())
	}
}

func TestDuration(t *testing.T) {
	attr := Duration(1500 * time.Millisecond)
	if attr.Key != KeyDuration {
		t.Errorf("Duration key = %q, want %q", attr.Key, KeyDuration)
	}
	if attr.Value.Duration() != 1500*time.Millisecond {
		t.Errorf("Duration value = %v", attr.Value.Duration())
	}
}

func TestErr(t *testing.T) {
	attr := Err(errors.New("test error"))
	if attr.Key != KeyError {
		t.Errorf("Err key = %q, want %q", attr.Key, KeyError)
	}
	if attr.Value.String() != "test error" {
		t.Errorf("Err value = %q, want %q", attr.Value.String(), "test error")
	}

	// Empty Group has empty key
	attr = Err(nil)
	if attr.Key != "" {
		t.Errorf("Err(nil) key = %q, want empty string (empty group)", attr.Key)
	}
}

func TestAnonymizeEmail(t *testing.T) {
	tests := []struct {
		email    string
		wantLen  int
		hasValue bool
	}{
		{"jane@example.com", 21, true}, // "user:" + 16 hex chars
		{"founder@startup.io", 21, true},
		{"", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			result := AnonymizeEmail(tt.email)
			if tt.hasValue {
				if len(result) != tt.wantLen {
					t.Errorf("AnonymizeEmail(%q) length = %d, want %d", tt.email, len(result), tt.wantLen)
				}
				if result[:5] != "user:" {
					t.Errorf("AnonymizeEmail(%q) should start with 'user:', got %q", tt.email, result)
				}
			} else if result != "" {
				t.Errorf("AnonymizeEmail(%q) = %q, want empty string", tt.email, result)
			}
		})
	}

	if AnonymizeEmail("test@example.com") != AnonymizeEmail("test@example.com") {
		t.Error("AnonymizeEmail should return deterministic results")
	}
	if AnonymizeEmail("Test@Example.com") != AnonymizeEmail("test@example.com") {
		t.Error("AnonymizeEmail should ignore case")
	}
	if AnonymizeEmail("test@example.com") == AnonymizeEmail("other@example.com") {
		t.Error("Different emails should produce different hashes")
	}
}

func TestUserHash(t *testing.T) {
	attr := UserHash("jane@example.com")
	if attr.Key != KeyUserHash {
		t.Errorf("UserHash key = %q, want %q", attr.Key, KeyUserHash)
	}
	if len(attr.Value.String()) != 21 {
		t.Errorf("UserHash value length = %d, want 21", len(attr.Value.String()))
	}
}

func TestSanitizeToken(t *testing.T) {
	tests := []struct {
		token    string
		expected string
	}{
		{"", "<empty>"},
		{"ya29.abc", "[token:8 chars]"},
		{"a_very_long_token_string", "[token:24 chars]"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := SanitizeToken(tt.token); got != tt.expected {
				t.Errorf("SanitizeToken(%q) = %q, want %q", tt.token, got, tt.expected)
			}
		})
	}
}

func TestExtractDomain(t *testing.T) {
	tests := []struct {
		email    string
		expected string
	}{
		{"jane@example.com", "example.com"},
		{"lead@Company.COM", "company.com"},
		{"invalid", ""},
		{"", ""},
		{"@", ""},
		{"user@", ""},
	}

	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			if got := ExtractDomain(tt.email); got != tt.expected {
				t.Errorf("ExtractDomain(%q) = %q, want %q", tt.email, got, tt.expected)
			}
		})
	}
}

func TestDomain(t *testing.T) {
	attr := Domain("jane@example.com")
	if attr.Key != "recipient_domain" {
		t.Errorf("Domain key = %q, want %q", attr.Key, "recipient_domain")
	}
	if attr.Value.String() != "example.com" {
		t.Errorf("Domain value = %q, want %q", attr.Value.String(), "example.com")
	}
}
