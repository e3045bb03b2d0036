// Package harness runs the tests declared on detection rules. Each test runs
// against its own copy of the rule, so mocks never leak between tests or
// into the registered rule.
package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"time"

	"siem-detect/internal/engine"
	derrors "siem-detect/internal/errors"
	"siem-detect/internal/rule"
	"siem-detect/internal/schema"

	"golang.org/x/sync/errgroup"
)

// Result is the outcome of one rule test.
type Result struct {
	RuleID   string
	TestName string
	Passed   bool
	Duration time.Duration

	// Decision is nil when the rule did not evaluate the event.
	Decision *engine.Decision

	// ConfigError reports a mock or configuration that left the rule
	// invalid. The test is not evaluated.
	ConfigError error
	// Failures holds TestAssertionErrors for mismatched expectations.
	Failures []error
	// ExecErrors holds rule execution errors raised during evaluation.
	ExecErrors []error
}

// Err joins every error recorded on the result.
func (r Result) Err() error {
	errs := make([]error, 0, 1+len(r.Failures)+len(r.ExecErrors))
	if r.ConfigError != nil {
		errs = append(errs, r.ConfigError)
	}
	errs = append(errs, r.ExecErrors...)
	errs = append(errs, r.Failures...)
	return errors.Join(errs...)
}

// Runner evaluates rule tests.
type Runner struct {
	evaluator *engine.Evaluator
}

// NewRunner creates a runner. Rule function failures are logged to logger; a
// nil logger discards them.
func NewRunner(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Runner{evaluator: engine.NewEvaluator(engine.WithLogger(logger))}
}

var defaultRunner = NewRunner(nil)

// Run runs the tests of r with the default runner.
func Run(ctx context.Context, r *rule.Rule) []Result {
	return defaultRunner.Run(ctx, r)
}

// RunAll runs the tests of every rule with the default runner.
func RunAll(ctx context.Context, rules []*rule.Rule, workers int) ([]Result, error) {
	return defaultRunner.RunAll(ctx, rules, workers)
}

// Run runs every test declared on r in order. A failing test never stops
// the others; cancellation of ctx does.
func (h *Runner) Run(ctx context.Context, r *rule.Rule) []Result {
	results := make([]Result, 0, len(r.Tests))
	for _, tc := range r.Tests {
		if ctx.Err() != nil {
			break
		}
		results = append(results, h.runTest(r, tc))
	}
	return results
}

// RunAll runs the tests of rules concurrently, with at most workers rules
// in flight. Results are grouped by rule in the order given.
func (h *Runner) RunAll(ctx context.Context, rules []*rule.Rule, workers int) ([]Result, error) {
	if workers < 1 {
		workers = 1
	}
	perRule := make([][]Result, len(rules))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, r := range rules {
		g.Go(func() error {
			perRule[i] = h.Run(gctx, r)
			return gctx.Err()
		})
	}
	err := g.Wait()

	var out []Result
	for _, rs := range perRule {
		out = append(out, rs...)
	}
	return out, err
}

func (h *Runner) runTest(r *rule.Rule, tc rule.Test) (res Result) {
	start := time.Now()
	res = Result{RuleID: r.ID, TestName: tc.Name}
	defer func() { res.Duration = time.Since(start) }()

	subject := r.Clone()
	subject.Enabled = true
	subject.Tests = nil

	if err := applyMocks(subject, tc.Mocks); err != nil {
		res.ConfigError = err
		return res
	}
	if err := subject.Validate(); err != nil {
		res.ConfigError = err
		return res
	}

	d := h.evaluator.Evaluate(subject, tc.Event(subject))
	res.Decision = d
	if d != nil {
		res.ExecErrors = append(res.ExecErrors, d.Errors...)
	}
	res.Failures = compare(r.ID, tc, d)
	res.Passed = len(res.ExecErrors) == 0 && len(res.Failures) == 0
	return res
}

// compare checks the decision against the test's expectations. Derived
// values are compared only when the rule matched and the test sets them.
func compare(ruleID string, tc rule.Test, d *engine.Decision) []error {
	var failures []error
	fail := func(field string, want, got any) {
		failures = append(failures, &derrors.TestAssertionError{
			RuleID:   ruleID,
			TestName: tc.Name,
			Field:    field,
			Expected: want,
			Actual:   got,
		})
	}

	matched := d != nil && d.Matched
	if matched != tc.ExpectedResult {
		fail("result", tc.ExpectedResult, matched)
	}
	if !matched {
		return failures
	}

	if tc.ExpectedTitle != nil && *tc.ExpectedTitle != d.Title {
		fail("title", *tc.ExpectedTitle, d.Title)
	}
	if tc.ExpectedSeverity != nil && *tc.ExpectedSeverity != d.Severity {
		fail("severity", *tc.ExpectedSeverity, d.Severity)
	}
	if tc.ExpectedAlertContext != nil {
		want := schema.Normalize(tc.ExpectedAlertContext)
		if !reflect.DeepEqual(want, any(d.AlertContext)) {
			fail("alert_context", want, d.AlertContext)
		}
	}
	if tc.ExpectedDedup != nil && *tc.ExpectedDedup != d.DedupKey {
		fail("dedup", *tc.ExpectedDedup, d.DedupKey)
	}
	return failures
}

// applyMocks installs the test's mocks on r. A mock named after an existing
// configuration field replaces that field; any other name rebinds a rule
// function slot or an existing helper. Naming anything else is a
// configuration error.
func applyMocks(r *rule.Rule, mocks []rule.Mock) error {
	for _, m := range mocks {
		if _, ok := r.Config[m.Name]; ok && m.SideEffect == nil && !isFunc(m.New) {
			r.SetConfig(m.Name, mockValue(m))
			continue
		}
		v := mockValue(m)
		if m.New == nil && m.SideEffect != nil {
			v = sideEffect(m.Name, m.SideEffect)
		}
		if err := r.SetMethod(m.Name, v); err != nil {
			return fmt.Errorf("mock %q: %w", m.Name, err)
		}
	}
	return nil
}

func mockValue(m rule.Mock) any {
	if m.New != nil {
		return m.New
	}
	return m.ReturnValue
}

// sideEffect adapts a side-effect function to the signature of the slot it
// replaces.
func sideEffect(name string, fn func(*schema.Event) any) any {
	switch name {
	case "match", "rule":
		return func(e *schema.Event) bool { return schema.ValueOf(fn(e)).Truthy() }
	case "title", "dedup":
		return func(e *schema.Event) string { return schema.ValueOf(fn(e)).String() }
	case "severity":
		return func(e *schema.Event) rule.Severity {
			sev, err := rule.SeverityOf(fn(e))
			if err != nil {
				panic(err)
			}
			return sev
		}
	case "alert_context":
		return func(e *schema.Event) map[string]any {
			m, _ := schema.Normalize(fn(e)).(map[string]any)
			return m
		}
	case "destinations", "destinations_func":
		return func(e *schema.Event) []string { return schema.ValueOf(fn(e)).Strings() }
	}
	return fn
}

func isFunc(v any) bool {
	t := reflect.TypeOf(v)
	return t != nil && t.Kind() == reflect.Func
}

// Summary counts passed and failed results.
type Summary struct {
	Total        int
	Passed       int
	Failed       int
	ConfigErrors int
}

// Summarize counts results.
func Summarize(results []Result) Summary {
	var s Summary
	for _, r := range results {
		s.Total++
		switch {
		case r.Passed:
			s.Passed++
		case r.ConfigError != nil:
			s.ConfigErrors++
			s.Failed++
		default:
			s.Failed++
		}
	}
	return s
}
