// Package registry holds the catalog of active detection rules keyed by ID.
package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/gobwas/glob"

	derrors "siem-detect/internal/errors"
	"siem-detect/internal/rule"
)

// Registry maps rule IDs to rule definitions. Entries are only ever removed
// explicitly. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	rules map[string]*rule.Rule
	// byLogType indexes rule IDs per log type for event dispatch.
	byLogType map[string]map[string]struct{}
	// indexed holds the log types each ID was indexed under. Rules can be
	// changed in place after registration, so r.LogTypes may have moved on.
	indexed map[string][]string
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		rules:     make(map[string]*rule.Rule),
		byLogType: make(map[string]map[string]struct{}),
		indexed:   make(map[string][]string),
	}
}

// Register validates r and adds it. Registering the same *Rule again only
// refreshes its log type index; a different rule with an existing ID fails
// with DuplicateRuleError.
func (reg *Registry) Register(r *rule.Rule) error {
	if r == nil {
		return fmt.Errorf("register: nil rule")
	}
	if err := r.Validate(); err != nil {
		return err
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	if existing, ok := reg.rules[r.ID]; ok {
		if existing == r {
			reg.unindex(r.ID)
			reg.insert(r)
			return nil
		}
		return &derrors.DuplicateRuleError{RuleID: r.ID}
	}

	reg.insert(r)
	slog.Debug("registered rule", "rule_id", r.ID, "log_types", r.LogTypes)
	return nil
}

// Replace validates r and adds it, replacing any rule with the same ID.
func (reg *Registry) Replace(r *rule.Rule) error {
	if r == nil {
		return fmt.Errorf("replace: nil rule")
	}
	if err := r.Validate(); err != nil {
		return err
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	reg.unindex(r.ID)
	reg.insert(r)
	slog.Debug("replaced rule", "rule_id", r.ID)
	return nil
}

// Get returns the rule with the given ID.
func (reg *Registry) Get(id string) (*rule.Rule, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.rules[id]
	return r, ok
}

// Remove deletes the rule with the given ID.
func (reg *Registry) Remove(id string) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if _, ok := reg.rules[id]; !ok {
		return &derrors.NotFoundError{RuleID: id}
	}
	reg.unindex(id)
	delete(reg.rules, id)
	return nil
}

// Len returns the number of registered rules.
func (reg *Registry) Len() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rules)
}

// All returns every rule sorted by ID.
func (reg *Registry) All() []*rule.Rule {
	reg.mu.RLock()
	out := make([]*rule.Rule, 0, len(reg.rules))
	for _, r := range reg.rules {
		out = append(out, r)
	}
	reg.mu.RUnlock()

	sortByID(out)
	return out
}

// ForLogType returns the enabled rules covering logType, sorted by ID.
func (reg *Registry) ForLogType(logType string) []*rule.Rule {
	reg.mu.RLock()
	ids := reg.byLogType[logType]
	out := make([]*rule.Rule, 0, len(ids))
	for id := range ids {
		if r := reg.rules[id]; r != nil && r.Enabled && r.AppliesTo(logType) {
			out = append(out, r)
		}
	}
	reg.mu.RUnlock()

	sortByID(out)
	return out
}

// Query selects rules. Every set criterion must hold; a multi-valued
// criterion holds when the rule has at least one of its values.
type Query struct {
	LogTypes    []string
	Severities  []rule.Severity
	Tags        []string
	EnabledOnly bool
	// IDs are glob patterns such as "AWS.CloudTrail.*". A single star stops
	// at dots; "**" does not.
	IDs []string
}

// Query returns the rules selected by q, sorted by ID.
func (reg *Registry) Query(q Query) ([]*rule.Rule, error) {
	return q.Select(reg.All())
}

// Select returns the rules in rules selected by q, keeping their order.
func (q Query) Select(rules []*rule.Rule) ([]*rule.Rule, error) {
	patterns := make([]glob.Glob, 0, len(q.IDs))
	for _, p := range q.IDs {
		g, err := glob.Compile(p, '.')
		if err != nil {
			return nil, fmt.Errorf("invalid rule ID pattern %q: %w", p, err)
		}
		patterns = append(patterns, g)
	}

	var out []*rule.Rule
	for _, r := range rules {
		if q.matches(r, patterns) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (q Query) matches(r *rule.Rule, patterns []glob.Glob) bool {
	if q.EnabledOnly && !r.Enabled {
		return false
	}
	if len(q.LogTypes) > 0 && !anyOf(q.LogTypes, r.AppliesTo) {
		return false
	}
	if len(q.Tags) > 0 && !anyOf(q.Tags, r.HasTag) {
		return false
	}
	if len(q.Severities) > 0 {
		found := false
		for _, s := range q.Severities {
			if r.DefaultSeverity == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(patterns) > 0 {
		found := false
		for _, g := range patterns {
			if g.Match(r.ID) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (reg *Registry) insert(r *rule.Rule) {
	reg.rules[r.ID] = r
	logTypes := append([]string(nil), r.LogTypes...)
	reg.indexed[r.ID] = logTypes
	for _, lt := range logTypes {
		ids, ok := reg.byLogType[lt]
		if !ok {
			ids = make(map[string]struct{})
			reg.byLogType[lt] = ids
		}
		ids[r.ID] = struct{}{}
	}
}

func (reg *Registry) unindex(id string) {
	for _, lt := range reg.indexed[id] {
		if ids, ok := reg.byLogType[lt]; ok {
			delete(ids, id)
			if len(ids) == 0 {
				delete(reg.byLogType, lt)
			}
		}
	}
	delete(reg.indexed, id)
}

func anyOf(values []string, pred func(string) bool) bool {
	for _, v := range values {
		if pred(v) {
			return true
		}
	}
	return false
}

func sortByID(rules []*rule.Rule) {
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
}
