package engine

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"unicode/utf8"

	derrors "siem-detect/internal/errors"
	"siem-detect/internal/rule"
	"siem-detect/internal/schema"
)

func quietEvaluator() *Evaluator {
	return NewEvaluator(WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func loginRule() *rule.Rule {
	r := rule.New("AWS.Console.RootLogin", schema.LogTypeAWSCloudTrail)
	r.DefaultSeverity = rule.SeverityHigh
	r.DefaultDestinations = []string{"slack-secops"}
	r.Match = func(_ *rule.Rule, e *schema.Event) bool {
		return e.Get("eventName").Equal("ConsoleLogin") &&
			e.DeepGet("userIdentity", "type").Equal("Root")
	}
	return r
}

func rootLogin() *schema.Event {
	return schema.NewEvent(schema.LogTypeAWSCloudTrail, map[string]any{
		"eventName":          "ConsoleLogin",
		"sourceIPAddress":    "111.111.111.111",
		"recipientAccountId": "123456789012",
		"userIdentity": map[string]any{
			"type": "Root",
		},
	})
}

func TestEvaluate_NotApplicable(t *testing.T) {
	tests := []struct {
		name  string
		rule  func() *rule.Rule
		event *schema.Event
	}{
		{
			name: "disabled",
			rule: func() *rule.Rule {
				r := loginRule()
				r.Enabled = false
				return r
			},
			event: rootLogin(),
		},
		{
			name:  "log type mismatch",
			rule:  loginRule,
			event: schema.NewEvent(schema.LogTypeAWSALB, map[string]any{"eventName": "ConsoleLogin"}),
		},
		{
			name: "excluded",
			rule: func() *rule.Rule {
				return loginRule().Exclude(func(e *schema.Event) bool {
					return e.Get("sourceIPAddress").Equal("111.111.111.111")
				})
			},
			event: rootLogin(),
		},
		{
			name: "include not satisfied",
			rule: func() *rule.Rule {
				return loginRule().Include(rule.FieldIn([]string{"recipientAccountId"}, "988776655444"))
			},
			event: rootLogin(),
		},
		{
			name: "filter panics",
			rule: func() *rule.Rule {
				return loginRule().Include(func(*schema.Event) bool { panic("boom") })
			},
			event: rootLogin(),
		},
	}

	ev := quietEvaluator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if d := ev.Evaluate(tt.rule(), tt.event); d != nil {
				t.Errorf("Evaluate() = %+v, want nil", d)
			}
		})
	}
}

func TestEvaluate_NonMatch(t *testing.T) {
	e := schema.NewEvent(schema.LogTypeAWSCloudTrail, map[string]any{"eventName": "GetObject"})

	d := quietEvaluator().Evaluate(loginRule(), e)
	if d == nil {
		t.Fatal("Evaluate() = nil, want a non-matching decision")
	}
	if d.Matched {
		t.Error("Matched = true, want false")
	}
	if d.Title != "" || d.DedupKey != "" || d.AlertContext != nil {
		t.Errorf("non-match decision carries derived values: %+v", d)
	}
	if d.Failed() {
		t.Errorf("Errors = %v, want none", d.Errors)
	}
}

func TestEvaluate_Defaults(t *testing.T) {
	e := rootLogin()
	d := quietEvaluator().Evaluate(loginRule(), e)
	if d == nil || !d.Matched {
		t.Fatalf("Evaluate() = %+v, want match", d)
	}

	if d.Title != "AWS.Console.RootLogin" {
		t.Errorf("Title = %q, want rule ID", d.Title)
	}
	if d.Severity != rule.SeverityHigh {
		t.Errorf("Severity = %v, want HIGH", d.Severity)
	}
	if d.AlertContext == nil || len(d.AlertContext) != 0 {
		t.Errorf("AlertContext = %v, want empty map", d.AlertContext)
	}
	if d.DedupKey != "AWS.Console.RootLogin" {
		t.Errorf("DedupKey = %q, want rule ID", d.DedupKey)
	}
	if len(d.Destinations) != 1 || d.Destinations[0] != "slack-secops" {
		t.Errorf("Destinations = %v", d.Destinations)
	}
	if !d.Timestamp.Equal(e.Timestamp) || d.EventID != e.ID {
		t.Error("decision should carry the event time and ID")
	}
}

func TestEvaluate_CustomFunctions(t *testing.T) {
	r := loginRule()
	r.Title = func(_ *rule.Rule, e *schema.Event) string {
		return "Root login from " + e.Get("sourceIPAddress").StrOr("unknown")
	}
	r.Severity = func(*rule.Rule, *schema.Event) rule.Severity { return rule.SeverityCritical }
	r.AlertContext = func(_ *rule.Rule, e *schema.Event) map[string]any {
		return map[string]any{"ip": e.Get("sourceIPAddress").Interface(), "attempts": 3}
	}
	r.Dedup = func(_ *rule.Rule, e *schema.Event) string {
		return e.Get("recipientAccountId").StrOr("")
	}

	d := quietEvaluator().Evaluate(r, rootLogin())
	if d.Title != "Root login from 111.111.111.111" {
		t.Errorf("Title = %q", d.Title)
	}
	if d.Severity != rule.SeverityCritical {
		t.Errorf("Severity = %v, want CRITICAL", d.Severity)
	}
	if d.AlertContext["attempts"] != float64(3) {
		t.Errorf("AlertContext[attempts] = %#v, want normalized float64", d.AlertContext["attempts"])
	}
	if d.DedupKey != "123456789012" {
		t.Errorf("DedupKey = %q", d.DedupKey)
	}
}

func TestEvaluate_PhaseIsolation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *rule.Rule)
		phase   derrors.Phase
		matched bool
		check   func(t *testing.T, d *Decision)
	}{
		{
			name:    "match panics",
			mutate:  func(r *rule.Rule) { r.Match = func(*rule.Rule, *schema.Event) bool { panic("nil map") } },
			phase:   derrors.PhaseMatch,
			matched: false,
		},
		{
			name: "undefined helper",
			mutate: func(r *rule.Rule) {
				r.Match = func(r *rule.Rule, e *schema.Event) bool { return r.Call("is_admin", e).Truthy() }
			},
			phase:   derrors.PhaseMatch,
			matched: false,
		},
		{
			name: "title panics",
			mutate: func(r *rule.Rule) {
				r.Title = func(*rule.Rule, *schema.Event) string { panic("bad title") }
				r.Severity = func(*rule.Rule, *schema.Event) rule.Severity { return rule.SeverityCritical }
			},
			phase:   derrors.PhaseTitle,
			matched: true,
			check: func(t *testing.T, d *Decision) {
				if d.Title != TitleErrorPlaceholder {
					t.Errorf("Title = %q, want %q", d.Title, TitleErrorPlaceholder)
				}
				if d.Severity != rule.SeverityCritical {
					t.Errorf("Severity = %v, want CRITICAL still computed", d.Severity)
				}
			},
		},
		{
			name: "severity out of range",
			mutate: func(r *rule.Rule) {
				r.Severity = func(*rule.Rule, *schema.Event) rule.Severity { return rule.Severity(9) }
			},
			phase:   derrors.PhaseSeverity,
			matched: true,
			check: func(t *testing.T, d *Decision) {
				if d.Severity != rule.SeverityHigh {
					t.Errorf("Severity = %v, want default HIGH", d.Severity)
				}
			},
		},
		{
			name: "alert context panics",
			mutate: func(r *rule.Rule) {
				r.AlertContext = func(*rule.Rule, *schema.Event) map[string]any { panic("ctx failed") }
			},
			phase:   derrors.PhaseAlertContext,
			matched: true,
			check: func(t *testing.T, d *Decision) {
				msg, ok := d.AlertContext[AlertContextErrorKey].(string)
				if !ok || !strings.Contains(msg, "ctx failed") {
					t.Errorf("AlertContext = %v, want %s", d.AlertContext, AlertContextErrorKey)
				}
			},
		},
		{
			name: "dedup panics",
			mutate: func(r *rule.Rule) {
				r.Dedup = func(*rule.Rule, *schema.Event) string { panic("no key") }
			},
			phase:   derrors.PhaseDedup,
			matched: true,
			check: func(t *testing.T, d *Decision) {
				if d.DedupKey != "AWS.Console.RootLogin" {
					t.Errorf("DedupKey = %q, want rule ID", d.DedupKey)
				}
			},
		},
		{
			name: "destinations panics",
			mutate: func(r *rule.Rule) {
				r.Destinations = func(*rule.Rule, *schema.Event) []string { panic("no dest") }
			},
			phase:   derrors.PhaseDestinations,
			matched: true,
			check: func(t *testing.T, d *Decision) {
				if len(d.Destinations) != 1 || d.Destinations[0] != "slack-secops" {
					t.Errorf("Destinations = %v, want defaults", d.Destinations)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := loginRule()
			tt.mutate(r)

			d := quietEvaluator().Evaluate(r, rootLogin())
			if d == nil {
				t.Fatal("Evaluate() = nil")
			}
			if d.Matched != tt.matched {
				t.Errorf("Matched = %v, want %v", d.Matched, tt.matched)
			}
			if len(d.Errors) != 1 {
				t.Fatalf("Errors = %v, want exactly one", d.Errors)
			}
			if !errors.Is(d.Err(), derrors.ErrRuleExecution) {
				t.Errorf("Err() = %v, want ErrRuleExecution", d.Err())
			}
			var execErr *derrors.RuleExecutionError
			if !errors.As(d.Errors[0], &execErr) || execErr.Phase != tt.phase {
				t.Errorf("error = %v, want phase %s", d.Errors[0], tt.phase)
			}
			if tt.check != nil {
				tt.check(t, d)
			}
		})
	}
}

func TestEvaluate_DedupKeyBounds(t *testing.T) {
	tests := []struct {
		name string
		key  string
		want func(got string) bool
	}{
		{"empty falls back to rule ID", "", func(got string) bool { return got == "AWS.Console.RootLogin" }},
		{"short kept", "acct-1", func(got string) bool { return got == "acct-1" }},
		{"long ascii truncated", strings.Repeat("a", 1500), func(got string) bool { return len(got) == MaxDedupKeyLength }},
		{"multibyte cut on rune boundary", strings.Repeat("é", 600), func(got string) bool {
			return len(got) <= MaxDedupKeyLength && utf8.ValidString(got)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := loginRule()
			key := tt.key
			r.Dedup = func(*rule.Rule, *schema.Event) string { return key }

			d := quietEvaluator().Evaluate(r, rootLogin())
			if !tt.want(d.DedupKey) {
				t.Errorf("DedupKey = %q (len %d)", d.DedupKey, len(d.DedupKey))
			}
		})
	}
}

func TestEvaluate_DerivedCallThrough(t *testing.T) {
	base := loginRule()
	derived := rule.Derive(base, "AWS.CloudTrail.RootLoginProd")
	derived.Match = func(r *rule.Rule, e *schema.Event) bool {
		return r.Base().Match(r, e) && e.Get("recipientAccountId").Equal("988776655444")
	}

	ev := quietEvaluator()
	if d := ev.Evaluate(derived, rootLogin()); d == nil || d.Matched {
		t.Errorf("derived rule matched a non-production account: %+v", d)
	}

	prod := schema.NewEvent(schema.LogTypeAWSCloudTrail, map[string]any{
		"eventName":          "ConsoleLogin",
		"recipientAccountId": "988776655444",
		"userIdentity":       map[string]any{"type": "Root"},
	})
	d := ev.Evaluate(derived, prod)
	if d == nil || !d.Matched {
		t.Fatalf("derived rule should match production root login: %+v", d)
	}
	if d.DedupKey != "AWS.CloudTrail.RootLoginProd" {
		t.Errorf("DedupKey = %q, want derived rule ID", d.DedupKey)
	}
	if !base.Matches(prod) {
		t.Error("base rule behaviour changed by derivation")
	}
}

func TestTruncateKey(t *testing.T) {
	if got := truncateKey("abc", 5); got != "abc" {
		t.Errorf("truncateKey() = %q", got)
	}
	if got := truncateKey("aé", 2); got != "a" {
		t.Errorf("truncateKey() = %q, want %q", got, "a")
	}
}
