package rule

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Severity is an ordinal alert severity. Only the order
// INFO < LOW < MEDIUM < HIGH < CRITICAL is defined.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = [...]string{"INFO", "LOW", "MEDIUM", "HIGH", "CRITICAL"}

// String returns the upper-case severity name.
func (s Severity) String() string {
	if s.Valid() {
		return severityNames[s]
	}
	return fmt.Sprintf("Severity(%d)", int(s))
}

// Valid reports whether s is one of the five defined levels.
func (s Severity) Valid() bool {
	return s >= SeverityInfo && s <= SeverityCritical
}

// ParseSeverity parses a severity name, case-insensitively.
func ParseSeverity(s string) (Severity, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for i, n := range severityNames {
		if n == name {
			return Severity(i), nil
		}
	}
	return SeverityInfo, fmt.Errorf("unknown severity %q", s)
}

// SeverityOf converts a severity, a severity name or an ordinal number.
func SeverityOf(v any) (Severity, error) {
	switch t := v.(type) {
	case Severity:
		if !t.Valid() {
			return SeverityInfo, fmt.Errorf("unknown severity %d", int(t))
		}
		return t, nil
	case string:
		return ParseSeverity(t)
	case int:
		return SeverityOf(Severity(t))
	case int64:
		return SeverityOf(Severity(t))
	case float64:
		if t != float64(int(t)) {
			return SeverityInfo, fmt.Errorf("unknown severity %v", t)
		}
		return SeverityOf(Severity(int(t)))
	}
	return SeverityInfo, fmt.Errorf("cannot use %T as severity", v)
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("unknown severity %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// UnmarshalYAML accepts either a name or an ordinal.
func (s *Severity) UnmarshalYAML(value *yaml.Node) error {
	var raw any
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := SeverityOf(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// MarshalYAML renders the severity name.
func (s Severity) MarshalYAML() (any, error) {
	return s.String(), nil
}
