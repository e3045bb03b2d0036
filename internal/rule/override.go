package rule

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"time"

	derrors "siem-detect/internal/errors"
	"siem-detect/internal/schema"
)

var (
	errNilFilter     = errors.New("filter is nil")
	errUnknownField  = errors.New("unknown field")
	errNotCollection = errors.New("field is not a collection and cannot be extended")
	errUnknownMethod = errors.New("no such rule function or helper")
)

// Override returns a copy of r with the named fields replaced. r is not
// modified. The ID is kept unless "id" is among the updates.
func Override(r *Rule, updates map[string]any) (*Rule, error) {
	c := r.Clone()
	if err := c.ApplyOverride(updates); err != nil {
		return nil, err
	}
	return c, nil
}

// Extend returns a copy of r with the named collection fields appended to.
func Extend(r *Rule, appends map[string]any) (*Rule, error) {
	c := r.Clone()
	if err := c.ApplyExtend(appends); err != nil {
		return nil, err
	}
	return c, nil
}

// ApplyOverride replaces the named fields in place. Either every update is
// applied or, on error, none is.
func (r *Rule) ApplyOverride(updates map[string]any) error {
	work := r.Clone()
	for _, key := range sortedKeys(updates) {
		if err := work.overrideField(key, updates[key]); err != nil {
			return &derrors.ConfigurationError{RuleID: r.ID, Field: key, Err: err}
		}
	}
	*r = *work
	return nil
}

// ApplyExtend appends to the named collection fields in place. Reports and
// config are merged key-wise with the new values winning.
func (r *Rule) ApplyExtend(appends map[string]any) error {
	work := r.Clone()
	for _, key := range sortedKeys(appends) {
		if err := work.extendField(key, appends[key]); err != nil {
			return &derrors.ConfigurationError{RuleID: r.ID, Field: key, Err: err}
		}
	}
	*r = *work
	return nil
}

func (r *Rule) overrideField(key string, v any) error {
	var err error
	switch key {
	case "id":
		r.ID, err = toString(v)
	case "display_name":
		r.DisplayName, err = toString(v)
	case "enabled":
		r.Enabled, err = toBool(v)
	case "create_alert":
		r.CreateAlert, err = toBool(v)
	case "log_types":
		r.LogTypes, err = toStrings(v)
	case "default_severity", "severity_level":
		r.DefaultSeverity, err = SeverityOf(v)
	case "threshold":
		r.Threshold, err = toInt(v)
		if err == nil && r.Threshold < 1 {
			err = fmt.Errorf("threshold must be at least 1, got %d", r.Threshold)
		}
	case "dedup_period":
		r.DedupPeriod, err = toDuration(v)
		if err == nil && r.DedupPeriod <= 0 {
			err = fmt.Errorf("dedup period must be positive, got %v", r.DedupPeriod)
		}
	case "dedup_period_minutes":
		var minutes int
		minutes, err = toInt(v)
		if err == nil && minutes < 1 {
			err = fmt.Errorf("dedup period must be at least one minute, got %d", minutes)
		}
		r.DedupPeriod = time.Duration(minutes) * time.Minute
	case "tags":
		r.Tags, err = toStrings(v)
	case "reports":
		r.Reports, err = toReports(v)
	case "description":
		r.Description, err = toString(v)
	case "runbook":
		r.Runbook, err = toString(v)
	case "reference":
		r.Reference, err = toString(v)
	case "destinations":
		r.DefaultDestinations, err = toStrings(v)
	case "required":
		r.Required, err = toStrings(v)
	case "include_filters":
		r.IncludeFilters, err = toFilters(v)
	case "exclude_filters":
		r.ExcludeFilters, err = toFilters(v)
	case "tests":
		r.Tests, err = toTests(v)
	case "config":
		var cfg map[string]any
		cfg, err = toConfig(v)
		r.Config = cfg
	case "match", "title", "severity", "alert_context", "dedup", "destinations_func":
		return r.setMethod(key, v)
	default:
		return errUnknownField
	}
	return err
}

func (r *Rule) extendField(key string, v any) error {
	switch key {
	case "log_types":
		items, err := toStrings(v)
		if err != nil {
			return err
		}
		r.LogTypes = append(r.LogTypes, items...)
	case "tags":
		items, err := toStrings(v)
		if err != nil {
			return err
		}
		r.Tags = append(r.Tags, items...)
	case "destinations":
		items, err := toStrings(v)
		if err != nil {
			return err
		}
		r.DefaultDestinations = append(r.DefaultDestinations, items...)
	case "required":
		items, err := toStrings(v)
		if err != nil {
			return err
		}
		r.Required = append(r.Required, items...)
	case "include_filters":
		filters, err := toFilters(v)
		if err != nil {
			return err
		}
		r.IncludeFilters = append(r.IncludeFilters, filters...)
	case "exclude_filters":
		filters, err := toFilters(v)
		if err != nil {
			return err
		}
		r.ExcludeFilters = append(r.ExcludeFilters, filters...)
	case "tests":
		tests, err := toTests(v)
		if err != nil {
			return err
		}
		r.Tests = append(r.Tests, tests...)
	case "reports":
		reports, err := toReports(v)
		if err != nil {
			return err
		}
		if r.Reports == nil {
			r.Reports = make(map[string][]string, len(reports))
		}
		for k, ids := range reports {
			r.Reports[k] = ids
		}
	case "config":
		cfg, err := toConfig(v)
		if err != nil {
			return err
		}
		if r.Config == nil {
			r.Config = make(map[string]any, len(cfg))
		}
		for k, item := range cfg {
			r.Config[k] = item
		}
	case "id", "display_name", "enabled", "create_alert", "default_severity", "severity_level",
		"threshold", "dedup_period", "dedup_period_minutes", "description", "runbook", "reference",
		"match", "title", "severity", "alert_context", "dedup", "destinations_func":
		return errNotCollection
	default:
		return errUnknownField
	}
	return nil
}

// SetMethod re-binds a rule function or helper. A value that is not a
// function is wrapped in a function returning it. The last write wins.
//
// Recognised names are match, title, severity, alert_context, dedup and
// destinations. Any other name must be a helper the rule already defines;
// use SetHelper to add one.
func (r *Rule) SetMethod(name string, v any) error {
	if err := r.setMethod(name, v); err != nil {
		return &derrors.ConfigurationError{RuleID: r.ID, Field: name, Err: err}
	}
	return nil
}

func (r *Rule) setMethod(name string, v any) error {
	switch name {
	case "match", "rule":
		fn, err := toMatchFunc(v)
		if err != nil {
			return err
		}
		r.Match = fn
	case "title":
		fn, err := toTitleFunc(v)
		if err != nil {
			return err
		}
		r.Title = fn
	case "severity":
		fn, err := toSeverityFunc(v)
		if err != nil {
			return err
		}
		r.Severity = fn
	case "alert_context":
		fn, err := toAlertContextFunc(v)
		if err != nil {
			return err
		}
		r.AlertContext = fn
	case "dedup":
		fn, err := toDedupFunc(v)
		if err != nil {
			return err
		}
		r.Dedup = fn
	case "destinations", "destinations_func":
		fn, err := toDestinationsFunc(v)
		if err != nil {
			return err
		}
		r.Destinations = fn
	default:
		if _, ok := r.Helpers[name]; !ok {
			return fmt.Errorf("%w: %q", errUnknownMethod, name)
		}
		r.SetHelper(name, toHelper(v))
	}
	return nil
}

func toMatchFunc(v any) (MatchFunc, error) {
	switch fn := v.(type) {
	case MatchFunc:
		return fn, nil
	case func(*Rule, *schema.Event) bool:
		return fn, nil
	case func(*schema.Event) bool:
		return func(_ *Rule, e *schema.Event) bool { return fn(e) }, nil
	case Filter:
		return func(_ *Rule, e *schema.Event) bool { return fn(e) }, nil
	}
	if isFunc(v) {
		return nil, fmt.Errorf("unsupported match function %T", v)
	}
	result := schema.ValueOf(v).Truthy()
	return func(*Rule, *schema.Event) bool { return result }, nil
}

func toTitleFunc(v any) (TitleFunc, error) {
	switch fn := v.(type) {
	case TitleFunc:
		return fn, nil
	case func(*Rule, *schema.Event) string:
		return fn, nil
	case func(*schema.Event) string:
		return func(_ *Rule, e *schema.Event) string { return fn(e) }, nil
	}
	if isFunc(v) {
		return nil, fmt.Errorf("unsupported title function %T", v)
	}
	title := schema.ValueOf(v).String()
	return func(*Rule, *schema.Event) string { return title }, nil
}

func toSeverityFunc(v any) (SeverityFunc, error) {
	switch fn := v.(type) {
	case SeverityFunc:
		return fn, nil
	case func(*Rule, *schema.Event) Severity:
		return fn, nil
	case func(*schema.Event) Severity:
		return func(_ *Rule, e *schema.Event) Severity { return fn(e) }, nil
	}
	if isFunc(v) {
		return nil, fmt.Errorf("unsupported severity function %T", v)
	}
	sev, err := SeverityOf(v)
	if err != nil {
		return nil, err
	}
	return func(*Rule, *schema.Event) Severity { return sev }, nil
}

func toAlertContextFunc(v any) (AlertContextFunc, error) {
	switch fn := v.(type) {
	case AlertContextFunc:
		return fn, nil
	case func(*Rule, *schema.Event) map[string]any:
		return fn, nil
	case func(*schema.Event) map[string]any:
		return func(_ *Rule, e *schema.Event) map[string]any { return fn(e) }, nil
	}
	if isFunc(v) {
		return nil, fmt.Errorf("unsupported alert context function %T", v)
	}
	ctx, err := toConfig(v)
	if err != nil {
		return nil, err
	}
	return func(*Rule, *schema.Event) map[string]any { return cloneConfig(ctx) }, nil
}

func toDedupFunc(v any) (DedupFunc, error) {
	switch fn := v.(type) {
	case DedupFunc:
		return fn, nil
	case func(*Rule, *schema.Event) string:
		return fn, nil
	case func(*schema.Event) string:
		return func(_ *Rule, e *schema.Event) string { return fn(e) }, nil
	}
	if isFunc(v) {
		return nil, fmt.Errorf("unsupported dedup function %T", v)
	}
	key := schema.ValueOf(v).String()
	return func(*Rule, *schema.Event) string { return key }, nil
}

func toDestinationsFunc(v any) (DestinationsFunc, error) {
	switch fn := v.(type) {
	case DestinationsFunc:
		return fn, nil
	case func(*Rule, *schema.Event) []string:
		return fn, nil
	case func(*schema.Event) []string:
		return func(_ *Rule, e *schema.Event) []string { return fn(e) }, nil
	}
	if isFunc(v) {
		return nil, fmt.Errorf("unsupported destinations function %T", v)
	}
	dests, err := toStrings(v)
	if err != nil {
		return nil, err
	}
	return func(*Rule, *schema.Event) []string { return cloneStrings(dests) }, nil
}

func toHelper(v any) Helper {
	switch fn := v.(type) {
	case Helper:
		return fn
	case func(*Rule, *schema.Event) any:
		return fn
	case func(*schema.Event) any:
		return func(_ *Rule, e *schema.Event) any { return fn(e) }
	case func(*Rule, *schema.Event) bool:
		return func(r *Rule, e *schema.Event) any { return fn(r, e) }
	case func(*schema.Event) bool:
		return func(_ *Rule, e *schema.Event) any { return fn(e) }
	case func(*Rule, *schema.Event) string:
		return func(r *Rule, e *schema.Event) any { return fn(r, e) }
	}
	value := cloneValue(v)
	return func(*Rule, *schema.Event) any { return value }
}

func isFunc(v any) bool {
	t := reflect.TypeOf(v)
	return t != nil && t.Kind() == reflect.Func
}

func toString(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("expected string, got %T", v)
	}
	return s, nil
}

func toBool(v any) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("expected bool, got %T", v)
	}
	return b, nil
}

func toInt(v any) (int, error) {
	n, ok := schema.ValueOf(v).Int()
	if !ok {
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
	return int(n), nil
}

func toDuration(v any) (time.Duration, error) {
	switch t := v.(type) {
	case time.Duration:
		return t, nil
	case string:
		d, err := time.ParseDuration(t)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", t, err)
		}
		return d, nil
	}
	minutes, err := toInt(v)
	if err != nil {
		return 0, fmt.Errorf("expected duration or minutes, got %T", v)
	}
	return time.Duration(minutes) * time.Minute, nil
}

func toStrings(v any) ([]string, error) {
	switch t := v.(type) {
	case []string:
		return cloneStrings(t), nil
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected list of strings, found %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	case string:
		return []string{t}, nil
	}
	return nil, fmt.Errorf("expected list of strings, got %T", v)
}

func toReports(v any) (map[string][]string, error) {
	switch t := v.(type) {
	case map[string][]string:
		return cloneReports(t), nil
	case map[string]any:
		out := make(map[string][]string, len(t))
		for k, item := range t {
			ids, err := toStrings(item)
			if err != nil {
				return nil, fmt.Errorf("reports[%s]: %w", k, err)
			}
			out[k] = ids
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected mapping of framework to technique IDs, got %T", v)
}

func toConfig(v any) (map[string]any, error) {
	switch t := v.(type) {
	case map[string]any:
		return cloneConfig(t), nil
	case map[string]string:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = item
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected mapping, got %T", v)
}

func toFilters(v any) ([]Filter, error) {
	switch t := v.(type) {
	case []Filter:
		return append([]Filter(nil), t...), nil
	case Filter:
		return []Filter{t}, nil
	case func(*schema.Event) bool:
		return []Filter{t}, nil
	case []func(*schema.Event) bool:
		out := make([]Filter, len(t))
		for i, f := range t {
			out[i] = f
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected filters, got %T", v)
}

func toTests(v any) ([]Test, error) {
	switch t := v.(type) {
	case []Test:
		out := make([]Test, len(t))
		for i, tc := range t {
			out[i] = tc.Clone()
		}
		return out, nil
	case Test:
		return []Test{t.Clone()}, nil
	}
	return nil, fmt.Errorf("expected tests, got %T", v)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
