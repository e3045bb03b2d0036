// Package errors defines the error kinds produced while configuring, evaluating
// and testing detection rules. Every kind carries the rule ID, and every kind
// matches its sentinel through errors.Is.
package errors

import (
	"errors"
	"fmt"
)

var (
	ErrConfiguration   = errors.New("rule configuration error")
	ErrDuplicateRule   = errors.New("duplicate rule")
	ErrRuleNotFound    = errors.New("rule not found")
	ErrRuleExecution   = errors.New("rule execution error")
	ErrFilterExecution = errors.New("filter execution error")
	ErrTestAssertion   = errors.New("test assertion failed")
)

// Phase names the rule function that was running when an execution error
// occurred.
type Phase string

const (
	PhaseMatch        Phase = "match"
	PhaseTitle        Phase = "title"
	PhaseSeverity     Phase = "severity"
	PhaseAlertContext Phase = "alert_context"
	PhaseDedup        Phase = "dedup"
	PhaseDestinations Phase = "destinations"
	PhaseHelper       Phase = "helper"
)

// ConfigurationError reports an invalid or missing rule attribute or
// configuration field. It is fatal to registering that rule only.
type ConfigurationError struct {
	RuleID string
	Field  string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("rule %q: %v", e.RuleID, e.Err)
	}
	return fmt.Sprintf("rule %q: field %q: %v", e.RuleID, e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// NewConfigurationError builds a ConfigurationError with a formatted cause.
func NewConfigurationError(ruleID, field, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{RuleID: ruleID, Field: field, Err: fmt.Errorf(format, args...)}
}

// DuplicateRuleError reports an ID collision on registration.
type DuplicateRuleError struct {
	RuleID string
}

func (e *DuplicateRuleError) Error() string {
	return fmt.Sprintf("rule %q is already registered", e.RuleID)
}

func (e *DuplicateRuleError) Is(target error) bool { return target == ErrDuplicateRule }

// NotFoundError reports a lookup of an unknown rule ID.
type NotFoundError struct {
	RuleID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("rule %q not found", e.RuleID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrRuleNotFound }

// RuleExecutionError reports a rule function that failed or panicked during
// evaluation. It never aborts evaluation of other rules.
type RuleExecutionError struct {
	RuleID string
	Phase  Phase
	Cause  error
}

func (e *RuleExecutionError) Error() string {
	return fmt.Sprintf("rule %q: %s failed: %v", e.RuleID, e.Phase, e.Cause)
}

func (e *RuleExecutionError) Unwrap() error { return e.Cause }

func (e *RuleExecutionError) Is(target error) bool { return target == ErrRuleExecution }

// FilterExecutionError reports an include or exclude filter that panicked.
// The event is treated as excluded.
type FilterExecutionError struct {
	RuleID string
	Filter string
	Index  int
	Cause  error
}

func (e *FilterExecutionError) Error() string {
	return fmt.Sprintf("rule %q: %s filter %d failed: %v", e.RuleID, e.Filter, e.Index, e.Cause)
}

func (e *FilterExecutionError) Unwrap() error { return e.Cause }

func (e *FilterExecutionError) Is(target error) bool { return target == ErrFilterExecution }

// TestAssertionError reports an expected vs actual mismatch in a rule test.
type TestAssertionError struct {
	RuleID   string
	TestName string
	Field    string
	Expected any
	Actual   any
}

func (e *TestAssertionError) Error() string {
	return fmt.Sprintf("rule %q test %q: %s = %v, want %v", e.RuleID, e.TestName, e.Field, e.Actual, e.Expected)
}

func (e *TestAssertionError) Is(target error) bool { return target == ErrTestAssertion }

// Recovered converts a value obtained from recover() into an error.
func Recovered(r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", r)
}
