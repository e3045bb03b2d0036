package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorKinds_Is(t *testing.T) {
	cause := errors.New("boom")

	tests := []struct {
		name     string
		err      error
		sentinel error
		contains string
	}{
		{
			name:     "configuration",
			err:      NewConfigurationError("Upload.Artifacts", "allowed_users", "must not be empty"),
			sentinel: ErrConfiguration,
			contains: `field "allowed_users"`,
		},
		{
			name:     "duplicate",
			err:      &DuplicateRuleError{RuleID: "AWS.ALB.HighVol400s"},
			sentinel: ErrDuplicateRule,
			contains: "already registered",
		},
		{
			name:     "not found",
			err:      &NotFoundError{RuleID: "Nope"},
			sentinel: ErrRuleNotFound,
			contains: "not found",
		},
		{
			name:     "execution",
			err:      &RuleExecutionError{RuleID: "R", Phase: PhaseMatch, Cause: cause},
			sentinel: ErrRuleExecution,
			contains: "match failed: boom",
		},
		{
			name:     "filter",
			err:      &FilterExecutionError{RuleID: "R", Filter: "include", Index: 1, Cause: cause},
			sentinel: ErrFilterExecution,
			contains: "include filter 1",
		},
		{
			name:     "assertion",
			err:      &TestAssertionError{RuleID: "R", TestName: "Root Login", Field: "title", Expected: "a", Actual: "b"},
			sentinel: ErrTestAssertion,
			contains: `test "Root Login": title = b, want a`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("registering: %w", tt.err)
			if !errors.Is(wrapped, tt.sentinel) {
				t.Errorf("errors.Is(%v, %v) = false, want true", wrapped, tt.sentinel)
			}
			if !strings.Contains(tt.err.Error(), tt.contains) {
				t.Errorf("Error() = %q, want it to contain %q", tt.err.Error(), tt.contains)
			}
		})
	}
}

func TestRuleExecutionError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	err := error(&RuleExecutionError{RuleID: "R", Phase: PhaseTitle, Cause: cause})

	if !errors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false, want true")
	}

	var execErr *RuleExecutionError
	if !errors.As(err, &execErr) || execErr.Phase != PhaseTitle {
		t.Errorf("errors.As() phase = %v, want %v", execErr.Phase, PhaseTitle)
	}
	if errors.Is(err, ErrFilterExecution) {
		t.Error("execution error must not match the filter sentinel")
	}
}

func TestRecovered(t *testing.T) {
	cause := errors.New("nil map")
	if err := Recovered(cause); !errors.Is(err, cause) {
		t.Errorf("Recovered(error) = %v, want wrapped cause", err)
	}
	if err := Recovered("index out of range"); err.Error() != "panic: index out of range" {
		t.Errorf("Recovered(string) = %q", err.Error())
	}
}
