// Package engine evaluates detection rules against events. The Evaluator is
// the pure, per-rule evaluation step; the Engine streams events through the
// registry, the evaluator and the dedup tracker.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"unicode/utf8"

	derrors "siem-detect/internal/errors"
	"siem-detect/internal/logging"
	"siem-detect/internal/rule"
	"siem-detect/internal/schema"

	"github.com/google/uuid"
)

const (
	// TitleErrorPlaceholder replaces a title whose function failed.
	TitleErrorPlaceholder = "<TITLE_ERROR>"
	// AlertContextErrorKey holds the failure message when the alert context
	// function fails.
	AlertContextErrorKey = "alert_context_error"
	// MaxDedupKeyLength bounds dedup keys in bytes.
	MaxDedupKeyLength = 1000
)

// Evaluator runs rules against events with per-phase failure isolation.
type Evaluator struct {
	logger  *slog.Logger
	metrics *Metrics
}

// EvaluatorOption configures an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithLogger sets the evaluator's logger.
func WithLogger(logger *slog.Logger) EvaluatorOption {
	return func(ev *Evaluator) {
		if logger != nil {
			ev.logger = logger
		}
	}
}

// WithMetrics sets the evaluator's metrics.
func WithMetrics(m *Metrics) EvaluatorOption {
	return func(ev *Evaluator) { ev.metrics = m }
}

// NewEvaluator creates an evaluator. It logs to slog.Default() and records
// metrics on the global meter unless options say otherwise.
func NewEvaluator(opts ...EvaluatorOption) *Evaluator {
	ev := &Evaluator{logger: slog.Default(), metrics: NewMetrics()}
	for _, opt := range opts {
		opt(ev)
	}
	return ev
}

var defaultEvaluator = NewEvaluator()

// Evaluate runs r against e with the default evaluator.
func Evaluate(r *rule.Rule, e *schema.Event) *Decision {
	return defaultEvaluator.Evaluate(r, e)
}

// Evaluate runs r against e. It returns nil when the rule does not apply: the
// rule is disabled, e's log type is not covered or the filter chain rejects
// the event. Otherwise it returns a decision, with Matched false when the
// match function returned false or failed.
func (ev *Evaluator) Evaluate(r *rule.Rule, e *schema.Event) *Decision {
	return ev.evaluate(context.Background(), r, e)
}

func (ev *Evaluator) evaluate(ctx context.Context, r *rule.Rule, e *schema.Event) *Decision {
	if r == nil || e == nil || !r.Enabled || !r.AppliesTo(e.LogType) {
		return nil
	}

	ok, err := r.ShouldEvaluate(e)
	if err != nil {
		ev.metrics.recordFilterError(ctx, r.ID)
		ev.logger.Warn("filter failed, event excluded",
			"rule_id", r.ID,
			"event_id", e.ID,
			"error", derrors.SafeMessage(err))
	}
	if !ok {
		return nil
	}

	d := &Decision{
		ID:        uuid.New(),
		RuleID:    r.ID,
		RuleName:  r.Name(),
		Severity:  r.DefaultSeverity,
		Timestamp: e.Timestamp,
		EventID:   e.ID,
		LogType:   e.LogType,
	}

	matched, err := run(r, derrors.PhaseMatch, func() bool { return r.Matches(e) })
	if err != nil {
		d.Errors = append(d.Errors, err)
		matched = false
	}
	d.Matched = matched

	if matched {
		ev.populate(d, r, e)
	}

	ev.metrics.recordEvaluation(ctx, r.ID, d.Matched)
	ev.metrics.recordRuleErrors(ctx, r.ID, len(d.Errors))
	ev.log(d)
	return d
}

// populate computes the derived values of a matched decision. Each function
// is isolated: a failure records an error and substitutes a placeholder.
func (ev *Evaluator) populate(d *Decision, r *rule.Rule, e *schema.Event) {
	title, err := run(r, derrors.PhaseTitle, func() string { return r.TitleFor(e) })
	if err != nil {
		d.Errors = append(d.Errors, err)
		title = TitleErrorPlaceholder
	}
	d.Title = title

	sev, err := run(r, derrors.PhaseSeverity, func() rule.Severity { return r.SeverityFor(e) })
	if err == nil && !sev.Valid() {
		err = &derrors.RuleExecutionError{
			RuleID: r.ID,
			Phase:  derrors.PhaseSeverity,
			Cause:  fmt.Errorf("invalid severity %s", sev),
		}
	}
	if err != nil {
		d.Errors = append(d.Errors, err)
		sev = r.DefaultSeverity
	}
	d.Severity = sev

	ctxMap, err := run(r, derrors.PhaseAlertContext, func() map[string]any {
		return normalizeContext(r.AlertContextFor(e))
	})
	if err != nil {
		d.Errors = append(d.Errors, err)
		ctxMap = map[string]any{AlertContextErrorKey: derrors.SafeMessage(err)}
	}
	d.AlertContext = ctxMap

	key, err := run(r, derrors.PhaseDedup, func() string { return r.DedupFor(e) })
	if err != nil {
		d.Errors = append(d.Errors, err)
		key = r.ID
	}
	if key == "" {
		key = r.ID
	}
	d.DedupKey = truncateKey(key, MaxDedupKeyLength)

	dests, err := run(r, derrors.PhaseDestinations, func() []string { return r.DestinationsFor(e) })
	if err != nil {
		d.Errors = append(d.Errors, err)
		dests = append([]string(nil), r.DefaultDestinations...)
	}
	d.Destinations = dests
}

func (ev *Evaluator) log(d *Decision) {
	for _, err := range d.Errors {
		ev.logger.Warn("rule function failed",
			"rule_id", d.RuleID,
			"event_id", d.EventID,
			"error", derrors.SafeMessage(err))
	}
	if !d.Matched {
		return
	}
	ev.logger.Debug("rule matched",
		"rule_id", d.RuleID,
		"title", d.Title,
		"severity", d.Severity.String(),
		"dedup_key", d.DedupKey,
		"alert_context", logging.SafeContext(d.AlertContext))
}

// run calls fn, converting a panic into a RuleExecutionError for phase.
func run[T any](r *rule.Rule, phase derrors.Phase, fn func() T) (v T, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			var zero T
			v = zero
			err = &derrors.RuleExecutionError{
				RuleID: r.ID,
				Phase:  phase,
				Cause:  derrors.Recovered(rec),
			}
		}
	}()
	return fn(), nil
}

func normalizeContext(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	if n, ok := schema.Normalize(m).(map[string]any); ok {
		return n
	}
	return map[string]any{}
}

// truncateKey cuts s to at most limit bytes without splitting a rune.
func truncateKey(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
