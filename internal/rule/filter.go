package rule

import (
	derrors "siem-detect/internal/errors"
	"siem-detect/internal/schema"
)

// ShouldEvaluate applies the filter chain. Any exclude filter returning true
// rejects the event; otherwise every include filter must return true. A
// filter that panics rejects the event and the failure is returned as a
// FilterExecutionError.
func (r *Rule) ShouldEvaluate(e *schema.Event) (bool, error) {
	for i, f := range r.ExcludeFilters {
		excluded, err := r.runFilter("exclude", i, f, e)
		if err != nil {
			return false, err
		}
		if excluded {
			return false, nil
		}
	}
	for i, f := range r.IncludeFilters {
		included, err := r.runFilter("include", i, f, e)
		if err != nil {
			return false, err
		}
		if !included {
			return false, nil
		}
	}
	return true, nil
}

func (r *Rule) runFilter(kind string, index int, f Filter, e *schema.Event) (result bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			result = false
			err = &derrors.FilterExecutionError{
				RuleID: r.ID,
				Filter: kind,
				Index:  index,
				Cause:  derrors.Recovered(rec),
			}
		}
	}()
	if f == nil {
		return false, &derrors.FilterExecutionError{
			RuleID: r.ID,
			Filter: kind,
			Index:  index,
			Cause:  errNilFilter,
		}
	}
	return f(e), nil
}

// Not negates a filter.
func Not(f Filter) Filter {
	return func(e *schema.Event) bool { return !f(e) }
}

// All combines filters with AND.
func All(filters ...Filter) Filter {
	return func(e *schema.Event) bool {
		for _, f := range filters {
			if !f(e) {
				return false
			}
		}
		return true
	}
}

// Any combines filters with OR.
func Any(filters ...Filter) Filter {
	return func(e *schema.Event) bool {
		for _, f := range filters {
			if f(e) {
				return true
			}
		}
		return false
	}
}

// FieldIn returns a filter that passes when the value at path equals one of
// the candidates.
func FieldIn(path []string, candidates ...any) Filter {
	return func(e *schema.Event) bool {
		return e.DeepGet(path...).In(candidates...)
	}
}
