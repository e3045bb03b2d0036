package errors

import (
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
)

var (
	// Absolute file paths (Linux and Windows), as found in panic values.
	filePathPattern = regexp.MustCompile(`(/[a-zA-Z0-9_\-./]+)|([A-Z]:\\[a-zA-Z0-9_\-\\ ./]+)`)

	// Credential-looking assignments.
	secretPattern = regexp.MustCompile(`(?i)(password|secret|token|api[_-]?key)=\S+`)
)

var productionMode atomic.Bool

// SetProductionMode toggles message sanitization. In development mode
// messages are returned unchanged.
func SetProductionMode(production bool) {
	productionMode.Store(production)
}

// IsProduction reports whether messages are sanitized.
func IsProduction() bool {
	return productionMode.Load()
}

// SafeMessage renders err for places where rule output leaves the process,
// such as the alert_context_error field of a decision.
func SafeMessage(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeString(err.Error())
}

// SanitizeString strips file paths, credentials and stack traces from s when
// production mode is enabled.
func SanitizeString(s string) string {
	if !IsProduction() {
		return s
	}

	s = filePathPattern.ReplaceAllStringFunc(s, func(match string) string {
		return filepath.Base(match)
	})

	s = secretPattern.ReplaceAllString(s, "$1=[REDACTED]")

	if strings.Contains(s, "goroutine ") || strings.Count(s, "\n") > 3 {
		if i := strings.IndexByte(s, '\n'); i > 0 {
			return s[:i]
		}
		return "rule function failed"
	}

	return s
}
