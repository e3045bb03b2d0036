package rule

import (
	"errors"
	"testing"

	derrors "siem-detect/internal/errors"
	"siem-detect/internal/schema"
)

func TestShouldEvaluate_Composition(t *testing.T) {
	isProd := FieldIn([]string{"recipientAccountId"}, "988776655444", "444556677788")
	isDiscovery := func(e *schema.Event) bool {
		return e.Get("eventCategory").Equal("Discovery")
	}

	r := New("Filtered", schema.LogTypeAWSCloudTrail)
	r.Include(isProd).Exclude(isDiscovery)

	tests := []struct {
		name   string
		fields map[string]any
		want   bool
	}{
		{"prod and not discovery", map[string]any{"recipientAccountId": "988776655444", "eventCategory": "Management"}, true},
		{"prod and discovery", map[string]any{"recipientAccountId": "988776655444", "eventCategory": "Discovery"}, false},
		{"not prod", map[string]any{"recipientAccountId": "111111111111", "eventCategory": "Management"}, false},
		{"not prod and discovery", map[string]any{"recipientAccountId": "111111111111", "eventCategory": "Discovery"}, false},
		{"missing account", map[string]any{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.ShouldEvaluate(schema.NewEvent(schema.LogTypeAWSCloudTrail, tt.fields))
			if err != nil {
				t.Fatalf("ShouldEvaluate() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ShouldEvaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestShouldEvaluate_EmptyChain(t *testing.T) {
	r := New("Open", schema.LogTypeAWSALB)
	ok, err := r.ShouldEvaluate(schema.NewEvent(schema.LogTypeAWSALB, nil))
	if err != nil || !ok {
		t.Errorf("ShouldEvaluate() = %v, %v, want true, nil", ok, err)
	}
}

func TestShouldEvaluate_ExcludeShortCircuits(t *testing.T) {
	calls := 0
	r := New("ShortCircuit", schema.LogTypeAWSALB)
	r.Exclude(func(*schema.Event) bool { return true })
	r.Exclude(func(*schema.Event) bool { calls++; return false })
	r.Include(func(*schema.Event) bool { calls++; return true })

	ok, err := r.ShouldEvaluate(schema.NewEvent(schema.LogTypeAWSALB, nil))
	if ok || err != nil {
		t.Errorf("ShouldEvaluate() = %v, %v, want false, nil", ok, err)
	}
	if calls != 0 {
		t.Errorf("filters after a matching exclude ran %d times", calls)
	}
}

func TestShouldEvaluate_PanicFailsClosed(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(r *Rule)
		filter string
	}{
		{
			name: "include panics",
			setup: func(r *Rule) {
				r.Include(func(e *schema.Event) bool {
					var m map[string]int
					m["x"]++
					return true
				})
			},
			filter: "include",
		},
		{
			name: "exclude panics",
			setup: func(r *Rule) {
				r.Exclude(func(e *schema.Event) bool {
					panic("malformed event")
				})
			},
			filter: "exclude",
		},
		{
			name: "nil filter",
			setup: func(r *Rule) {
				r.Include(nil)
			},
			filter: "include",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New("Panicky", schema.LogTypeAWSALB)
			tt.setup(r)

			ok, err := r.ShouldEvaluate(schema.NewEvent(schema.LogTypeAWSALB, nil))
			if ok {
				t.Error("ShouldEvaluate() = true, want false for a failing filter")
			}
			if !errors.Is(err, derrors.ErrFilterExecution) {
				t.Fatalf("ShouldEvaluate() error = %v, want filter execution error", err)
			}
			var filterErr *derrors.FilterExecutionError
			if errors.As(err, &filterErr) && (filterErr.Filter != tt.filter || filterErr.RuleID != "Panicky") {
				t.Errorf("FilterExecutionError = %+v", filterErr)
			}
		})
	}
}

func TestFilterCombinators(t *testing.T) {
	yes := func(*schema.Event) bool { return true }
	no := func(*schema.Event) bool { return false }
	e := schema.NewEvent(schema.LogTypeAWSALB, nil)

	tests := []struct {
		name string
		f    Filter
		want bool
	}{
		{"all true", All(yes, yes), true},
		{"all mixed", All(yes, no), false},
		{"all empty", All(), true},
		{"any mixed", Any(no, yes), true},
		{"any false", Any(no, no), false},
		{"any empty", Any(), false},
		{"not", Not(no), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.f(e); got != tt.want {
				t.Errorf("filter() = %v, want %v", got, tt.want)
			}
		})
	}
}
