package logging

import (
	"regexp"
	"strings"
)

// SensitiveFields contains field names whose values are masked in logs.
// Matching is case-insensitive and by substring, so "SessionToken" and
// "x_api_key" are covered.
var SensitiveFields = []string{
	"password",
	"passwd",
	"secret",
	"token",
	"api_key",
	"apikey",
	"x-api-key",
	"access_key",
	"private_key",
	"credentials",
	"authorization",
	"bearer",
	"jwt",
	"session_id",
	"cookie",
}

// MaskedValue is the string used to replace sensitive values.
const MaskedValue = "[REDACTED]"

// IsSensitiveField checks if a field name is sensitive.
func IsSensitiveField(fieldName string) bool {
	lower := strings.ToLower(fieldName)
	for _, sensitive := range SensitiveFields {
		if strings.Contains(lower, sensitive) {
			return true
		}
	}
	return false
}

// SensitivePatterns contains regex patterns for secrets embedded in raw strings.
var SensitivePatterns = []*regexp.Regexp{
	// Bearer tokens
	regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9_\-\.]+`),
	// Basic auth
	regexp.MustCompile(`(?i)basic\s+[a-zA-Z0-9+/=]{8,}`),
	// AWS access key IDs
	regexp.MustCompile(`\b(AKIA|ASIA|ABIA|ACCA)[A-Z0-9]{16}\b`),
	// Generic secrets with common prefixes
	regexp.MustCompile(`(?i)(sk_live_|pk_live_|sk_test_|pk_test_)[a-zA-Z0-9]+`),
}

// MaskSensitivePatterns masks secret-looking substrings of s.
func MaskSensitivePatterns(s string) string {
	for _, pattern := range SensitivePatterns {
		s = pattern.ReplaceAllString(s, MaskedValue)
	}
	return s
}

// SafeLogValue returns a loggable version of value stored under fieldName.
func SafeLogValue(fieldName string, value any) any {
	if value == nil {
		return nil
	}
	if IsSensitiveField(fieldName) {
		return MaskedValue
	}

	switch v := value.(type) {
	case string:
		return MaskSensitivePatterns(v)
	case map[string]any:
		return SafeContext(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = SafeLogValue("", item)
		}
		return out
	default:
		return value
	}
}

// SafeContext returns a copy of an alert context with sensitive keys masked
// at any depth. The input is not modified.
func SafeContext(ctx map[string]any) map[string]any {
	if ctx == nil {
		return nil
	}
	out := make(map[string]any, len(ctx))
	for k, v := range ctx {
		out[k] = SafeLogValue(k, v)
	}
	return out
}
