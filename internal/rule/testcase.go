package rule

import (
	"time"

	"siem-detect/internal/schema"
)

// Test is a declared rule test case: a literal log and the expected outcome.
// Expected title, severity, context and dedup key are only checked when set
// and the rule matched.
type Test struct {
	Name                 string         `yaml:"name"`
	LogType              string         `yaml:"log_type,omitempty"`
	Timestamp            time.Time      `yaml:"timestamp,omitempty"`
	Log                  map[string]any `yaml:"log"`
	ExpectedResult       bool           `yaml:"expected_result"`
	ExpectedTitle        *string        `yaml:"expected_title,omitempty"`
	ExpectedSeverity     *Severity      `yaml:"expected_severity,omitempty"`
	ExpectedAlertContext map[string]any `yaml:"expected_alert_context,omitempty"`
	ExpectedDedup        *string        `yaml:"expected_dedup,omitempty"`
	Mocks                []Mock         `yaml:"mocks,omitempty"`
}

// Mock substitutes a helper, rule function or configuration field for the
// duration of one test. Exactly one of New, SideEffect or ReturnValue is
// used, in that order of precedence.
type Mock struct {
	Name        string                    `yaml:"name"`
	ReturnValue any                       `yaml:"return_value"`
	SideEffect  func(e *schema.Event) any `yaml:"-"`
	New         any                       `yaml:"-"`
}

// Clone deep-copies the test case.
func (t Test) Clone() Test {
	c := t
	c.Log = cloneConfig(t.Log)
	if t.ExpectedAlertContext != nil {
		c.ExpectedAlertContext = cloneConfig(t.ExpectedAlertContext)
	}
	c.Mocks = append([]Mock(nil), t.Mocks...)
	return c
}

// Event builds the test's input event. The rule's first log type is used when
// the test does not name one.
func (t Test) Event(r *Rule) *schema.Event {
	logType := t.LogType
	if logType == "" && len(r.LogTypes) > 0 {
		logType = r.LogTypes[0]
	}
	if t.Timestamp.IsZero() {
		return schema.NewEvent(logType, t.Log)
	}
	return schema.NewEventAt(logType, t.Log, t.Timestamp)
}

// Ptr returns a pointer to v, for optional expectations.
func Ptr[T any](v T) *T {
	return &v
}
