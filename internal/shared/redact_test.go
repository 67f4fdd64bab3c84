package shared

import (
	"testing"
)

func TestRedact_BearerToken(t *testing.T) {
	input := "Bearer abc123def456ghi789jkl0"
	result := Redact(input)
	if result != "Bearer [REDACTED]" {
		t.Fatalf("expected 'Bearer [REDACTED]', got %q", result)
	}
}

func TestRedact_APIKey(t *testing.T) {
	input := `api_key=abcdef1234567890abcdef`
	result := Redact(input)
	if result == input {
		t.Fatalf("expected redaction, got %q", result)
	}
}

func TestRedact_OrgXKey(t *testing.T) {
	input := "using key oxk_live_0123456789abcdefABCDEF for sync"
	result := Redact(input)
	if result != "using key [REDACTED] for sync" {
		t.Fatalf("unexpected redaction: %q", result)
	}
}

func TestRedact_NoSecret(t *testing.T) {
	input := "outbox flushed for session s1"
	result := Redact(input)
	if result != input {
		t.Fatalf("expected no redaction, got %q", result)
	}
}

func TestRedact_Empty(t *testing.T) {
	if result := Redact(""); result != "" {
		t.Fatalf("expected empty, got %q", result)
	}
}

func TestRedact_KeepsLabel(t *testing.T) {
	got := Redact(`config api_key: "abcdef1234567890abcdef" loaded`)
	if got != "config api_key[REDACTED] loaded" {
		t.Fatalf("unexpected redaction: %q", got)
	}
}

func TestSensitiveKey(t *testing.T) {
	cases := map[string]bool{
		"ORGX_API_KEY":  true,
		"Authorization": true,
		"auth_token":    true,
		"password":      true,
		" apiKey ":      true,
		"ORGX_BASE_URL": false,
		"session_id":    false,
		"":              false,
	}
	for key, want := range cases {
		if got := SensitiveKey(key); got != want {
			t.Errorf("SensitiveKey(%q) = %v, want %v", key, got, want)
		}
	}
}
