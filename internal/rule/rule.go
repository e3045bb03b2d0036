// Package rule provides detection rule definitions: metadata, pluggable rule
// functions, filters, declared tests and the override/extend transforms used
// to build rule variants.
package rule

import (
	"fmt"
	"time"

	"siem-detect/internal/schema"
)

// Defaults applied by New.
const (
	DefaultThreshold   = 1
	DefaultDedupPeriod = 60 * time.Minute
)

// Rule function signatures. Each receives the rule being evaluated so it can
// read configuration, call helpers and call through to its base.
type (
	MatchFunc        func(r *Rule, e *schema.Event) bool
	TitleFunc        func(r *Rule, e *schema.Event) string
	SeverityFunc     func(r *Rule, e *schema.Event) Severity
	AlertContextFunc func(r *Rule, e *schema.Event) map[string]any
	DedupFunc        func(r *Rule, e *schema.Event) string
	DestinationsFunc func(r *Rule, e *schema.Event) []string
)

// Helper is a named sub-function of a rule. Helpers are the unit tests mock.
type Helper func(r *Rule, e *schema.Event) any

// Filter gates whether a rule evaluates an event at all.
type Filter func(e *schema.Event) bool

// ConfigValidator checks rule configuration beyond required fields.
type ConfigValidator func(r *Rule) error

// Funcs holds the pluggable rule functions. A nil slot uses the default.
type Funcs struct {
	Match        MatchFunc        `yaml:"-"`
	Title        TitleFunc        `yaml:"-"`
	Severity     SeverityFunc     `yaml:"-"`
	AlertContext AlertContextFunc `yaml:"-"`
	Dedup        DedupFunc        `yaml:"-"`
	Destinations DestinationsFunc `yaml:"-"`
}

// Rule is a detection rule definition.
type Rule struct {
	ID                  string              `yaml:"id" validate:"required,max=512"`
	DisplayName         string              `yaml:"display_name,omitempty"`
	Enabled             bool                `yaml:"enabled"`
	CreateAlert         bool                `yaml:"create_alert"`
	LogTypes            []string            `yaml:"log_types" validate:"required,min=1,dive,required"`
	DefaultSeverity     Severity            `yaml:"default_severity" validate:"min=0,max=4"`
	Threshold           int                 `yaml:"threshold" validate:"min=1"`
	DedupPeriod         time.Duration       `yaml:"dedup_period" validate:"gt=0"`
	Tags                []string            `yaml:"tags,omitempty"`
	Reports             map[string][]string `yaml:"reports,omitempty"`
	Description         string              `yaml:"description,omitempty"`
	Runbook             string              `yaml:"runbook,omitempty"`
	Reference           string              `yaml:"reference,omitempty"`
	DefaultDestinations []string            `yaml:"destinations,omitempty"`
	Config              map[string]any      `yaml:"config,omitempty"`
	Required            []string            `yaml:"required,omitempty"`
	Tests               []Test              `yaml:"tests,omitempty"`

	Validators     []ConfigValidator `yaml:"-"`
	IncludeFilters []Filter          `yaml:"-"`
	ExcludeFilters []Filter          `yaml:"-"`
	Helpers        map[string]Helper `yaml:"-"`

	Funcs `yaml:"-"`

	base *Rule
}

// New returns an enabled, alerting rule with default threshold and dedup
// period.
func New(id string, logTypes ...string) *Rule {
	return &Rule{
		ID:          id,
		Enabled:     true,
		CreateAlert: true,
		LogTypes:    append([]string(nil), logTypes...),
		Threshold:   DefaultThreshold,
		DedupPeriod: DefaultDedupPeriod,
		Config:      make(map[string]any),
		Helpers:     make(map[string]Helper),
	}
}

// Name returns the display name, falling back to the ID.
func (r *Rule) Name() string {
	if r.DisplayName != "" {
		return r.DisplayName
	}
	return r.ID
}

// AppliesTo reports whether the rule covers logType.
func (r *Rule) AppliesTo(logType string) bool {
	for _, lt := range r.LogTypes {
		if lt == logType {
			return true
		}
	}
	return false
}

// HasTag reports whether the rule carries tag.
func (r *Rule) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Clone returns a deep copy. Function values are shared; collections are not.
func (r *Rule) Clone() *Rule {
	c := *r
	c.LogTypes = cloneStrings(r.LogTypes)
	c.Tags = cloneStrings(r.Tags)
	c.DefaultDestinations = cloneStrings(r.DefaultDestinations)
	c.Required = cloneStrings(r.Required)
	c.Reports = cloneReports(r.Reports)
	c.Config = cloneConfig(r.Config)
	c.Validators = append([]ConfigValidator(nil), r.Validators...)
	c.IncludeFilters = append([]Filter(nil), r.IncludeFilters...)
	c.ExcludeFilters = append([]Filter(nil), r.ExcludeFilters...)
	c.Tests = make([]Test, len(r.Tests))
	for i, t := range r.Tests {
		c.Tests[i] = t.Clone()
	}
	c.Helpers = make(map[string]Helper, len(r.Helpers))
	for k, h := range r.Helpers {
		c.Helpers[k] = h
	}
	return &c
}

// Derive returns an independent copy of base with a new ID. The copy's Base
// method exposes the functions base had at derive time, so the derived rule
// can call through to them.
func Derive(base *Rule, id string) *Rule {
	d := base.Clone()
	d.ID = id
	d.base = base.Clone()
	return d
}

// Parent returns the frozen base snapshot of a derived rule, or nil.
func (r *Rule) Parent() *Rule {
	return r.base
}

// Base returns the rule functions of the rule this one was derived from,
// with defaults filled in. For a rule that was not derived it returns the
// default functions.
func (r *Rule) Base() Funcs {
	if r.base == nil {
		return defaultFuncs
	}
	p := r.base
	pf := p.Funcs.withDefaults()
	bind := func(child *Rule) *Rule {
		v := *child
		v.base = p.base
		return &v
	}
	return Funcs{
		Match: func(child *Rule, e *schema.Event) bool {
			return pf.Match(bind(child), e)
		},
		Title: func(child *Rule, e *schema.Event) string {
			return pf.Title(bind(child), e)
		},
		Severity: func(child *Rule, e *schema.Event) Severity {
			return pf.Severity(bind(child), e)
		},
		AlertContext: func(child *Rule, e *schema.Event) map[string]any {
			return pf.AlertContext(bind(child), e)
		},
		Dedup: func(child *Rule, e *schema.Event) string {
			return pf.Dedup(bind(child), e)
		},
		Destinations: func(child *Rule, e *schema.Event) []string {
			return pf.Destinations(bind(child), e)
		},
	}
}

var defaultFuncs = Funcs{
	Match: func(*Rule, *schema.Event) bool { return false },
	Title: func(r *Rule, _ *schema.Event) string { return r.Name() },
	Severity: func(r *Rule, _ *schema.Event) Severity {
		return r.DefaultSeverity
	},
	AlertContext: func(*Rule, *schema.Event) map[string]any { return map[string]any{} },
	Dedup:        func(r *Rule, _ *schema.Event) string { return r.ID },
	Destinations: func(r *Rule, _ *schema.Event) []string {
		return cloneStrings(r.DefaultDestinations)
	},
}

func (f Funcs) withDefaults() Funcs {
	if f.Match == nil {
		f.Match = defaultFuncs.Match
	}
	if f.Title == nil {
		f.Title = defaultFuncs.Title
	}
	if f.Severity == nil {
		f.Severity = defaultFuncs.Severity
	}
	if f.AlertContext == nil {
		f.AlertContext = defaultFuncs.AlertContext
	}
	if f.Dedup == nil {
		f.Dedup = defaultFuncs.Dedup
	}
	if f.Destinations == nil {
		f.Destinations = defaultFuncs.Destinations
	}
	return f
}

// Matches runs the match function. Panics propagate to the caller.
func (r *Rule) Matches(e *schema.Event) bool {
	return r.Funcs.withDefaults().Match(r, e)
}

// TitleFor runs the title function.
func (r *Rule) TitleFor(e *schema.Event) string {
	return r.Funcs.withDefaults().Title(r, e)
}

// SeverityFor runs the severity function.
func (r *Rule) SeverityFor(e *schema.Event) Severity {
	return r.Funcs.withDefaults().Severity(r, e)
}

// AlertContextFor runs the alert context function.
func (r *Rule) AlertContextFor(e *schema.Event) map[string]any {
	return r.Funcs.withDefaults().AlertContext(r, e)
}

// DedupFor runs the dedup function.
func (r *Rule) DedupFor(e *schema.Event) string {
	return r.Funcs.withDefaults().Dedup(r, e)
}

// DestinationsFor runs the destinations function.
func (r *Rule) DestinationsFor(e *schema.Event) []string {
	return r.Funcs.withDefaults().Destinations(r, e)
}

// Call runs the named helper. An undefined helper panics with an error, which
// evaluation reports as a rule execution error.
func (r *Rule) Call(name string, e *schema.Event) schema.Value {
	h, ok := r.Helpers[name]
	if !ok || h == nil {
		panic(fmt.Errorf("rule %q: helper %q is not defined", r.ID, name))
	}
	return schema.ValueOf(h(r, e))
}

// SetHelper binds a helper. Later writes win.
func (r *Rule) SetHelper(name string, h Helper) *Rule {
	if r.Helpers == nil {
		r.Helpers = make(map[string]Helper)
	}
	r.Helpers[name] = h
	return r
}

// ConfigValue returns a configuration field as a Value.
func (r *Rule) ConfigValue(name string) schema.Value {
	return schema.ValueOf(r.Config[name])
}

// ConfigStrings returns a list-valued configuration field.
func (r *Rule) ConfigStrings(name string) []string {
	return r.ConfigValue(name).Strings()
}

// ConfigContains reports whether the list-valued configuration field name
// contains v.
func (r *Rule) ConfigContains(name string, v any) bool {
	for _, item := range r.ConfigValue(name).Array() {
		if item.Equal(v) {
			return true
		}
	}
	return false
}

// SetConfig sets a configuration field without validating.
func (r *Rule) SetConfig(name string, v any) *Rule {
	if r.Config == nil {
		r.Config = make(map[string]any)
	}
	r.Config[name] = cloneValue(v)
	return r
}

// Include appends include filters and returns r.
func (r *Rule) Include(filters ...Filter) *Rule {
	r.IncludeFilters = append(r.IncludeFilters, filters...)
	return r
}

// Exclude appends exclude filters and returns r.
func (r *Rule) Exclude(filters ...Filter) *Rule {
	r.ExcludeFilters = append(r.ExcludeFilters, filters...)
	return r
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}

func cloneReports(m map[string][]string) map[string][]string {
	if m == nil {
		return nil
	}
	out := make(map[string][]string, len(m))
	for k, v := range m {
		out[k] = cloneStrings(v)
	}
	return out
}

func cloneConfig(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

// cloneValue copies the collection shapes rule configuration uses and leaves
// everything else as is.
func cloneValue(v any) any {
	switch t := v.(type) {
	case []string:
		return cloneStrings(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	case map[string]any:
		return cloneConfig(t)
	case map[string]string:
		out := make(map[string]string, len(t))
		for k, item := range t {
			out[k] = item
		}
		return out
	case map[string]bool:
		out := make(map[string]bool, len(t))
		for k, item := range t {
			out[k] = item
		}
		return out
	}
	return v
}
