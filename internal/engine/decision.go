package engine

import (
	"errors"
	"time"

	"siem-detect/internal/rule"

	"github.com/google/uuid"
)

// Decision is the outcome of evaluating one rule against one event.
type Decision struct {
	ID           uuid.UUID      `json:"id"`
	RuleID       string         `json:"rule_id"`
	RuleName     string         `json:"rule_name"`
	Matched      bool           `json:"matched"`
	Title        string         `json:"title,omitempty"`
	Severity     rule.Severity  `json:"severity"`
	AlertContext map[string]any `json:"alert_context,omitempty"`
	DedupKey     string         `json:"dedup_key,omitempty"`
	Destinations []string       `json:"destinations,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
	EventID      uuid.UUID      `json:"event_id"`
	LogType      string         `json:"log_type"`

	// Set by the tracker for matched decisions. Signal marks a threshold
	// crossing by a rule that does not create alerts.
	Alerted bool `json:"alerted"`
	Signal  bool `json:"signal,omitempty"`
	Count   int  `json:"count,omitempty"`

	// Rule execution errors isolated during evaluation.
	Errors []error `json:"-"`
}

// Err joins the execution errors recorded on the decision.
func (d *Decision) Err() error {
	if d == nil {
		return nil
	}
	return errors.Join(d.Errors...)
}

// Failed reports whether any rule function failed during evaluation.
func (d *Decision) Failed() bool {
	return d != nil && len(d.Errors) > 0
}
