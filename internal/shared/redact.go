package shared

import (
	"regexp"
	"strings"
)

// Redacted replaces a credential value.
const Redacted = "[REDACTED]"

// redactRule matches one credential shape. When prefixed is set, group 1 is a
// label that survives redaction and group 2 is the secret.
type redactRule struct {
	re       *regexp.Regexp
	prefixed bool
}

var redactRules = []redactRule{
	{re: regexp.MustCompile(`(?i)(api[_-]?key|apikey|secret[_-]?key|auth[_-]?token|bearer)\s*[:=]\s*"?([A-Za-z0-9_\-./+=]{16,})"?`), prefixed: true},
	{re: regexp.MustCompile(`(?i)(Bearer\s+)([A-Za-z0-9_\-./+=]{16,})`), prefixed: true},
	{re: regexp.MustCompile(`oxk_[A-Za-z0-9_\-]{16,}`)},
	{re: regexp.MustCompile(`(?i)(token|secret)\s*[:=]\s*"?([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})"?`), prefixed: true},
}

// sensitiveKeyParts mark a field name whose whole value is a credential.
var sensitiveKeyParts = []string{"api_key", "apikey", "token", "secret", "password", "authorization", "bearer", "credential"}

// Redact masks API keys and bearer tokens found anywhere in s.
func Redact(s string) string {
	if s == "" {
		return s
	}
	for _, rule := range redactRules {
		if !rule.prefixed {
			s = rule.re.ReplaceAllString(s, Redacted)
			continue
		}
		s = rule.re.ReplaceAllString(s, "${1}"+Redacted)
	}
	return s
}

// SensitiveKey reports whether a field or header named key carries a
// credential, such as "api_key" or "Authorization".
func SensitiveKey(key string) bool {
	lower := strings.ToLower(strings.TrimSpace(key))
	if lower == "" {
		return false
	}
	for _, part := range sensitiveKeyParts {
		if strings.Contains(lower, part) {
			return true
		}
	}
	return false
}
