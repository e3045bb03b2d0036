// Package manager stages detection rules before registration. Rules are
// loaded from content, tuned with overrides, filters and test updates, and
// then registered as a set.
package manager

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	derrors "siem-detect/internal/errors"
	"siem-detect/internal/registry"
	"siem-detect/internal/rule"
)

// Manager holds working copies of rules keyed by ID. Loading copies each
// rule, so tuning never changes the content a rule came from. It is safe
// for concurrent use.
type Manager struct {
	mu      sync.RWMutex
	rules   map[string]*rule.Rule
	filters map[string]rule.Filter
	logger  *slog.Logger
}

// New creates an empty manager. A nil logger discards output.
func New(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Manager{
		rules:   make(map[string]*rule.Rule),
		filters: make(map[string]rule.Filter),
		logger:  logger,
	}
}

// Load copies the rules selected by sel into the manager and returns how
// many were loaded. A loaded rule replaces any earlier rule with its ID.
func (m *Manager) Load(rules []*rule.Rule, sel registry.Query) (int, error) {
	selected, err := sel.Select(rules)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range selected {
		if _, ok := m.rules[r.ID]; ok {
			m.logger.Debug("replacing loaded rule", "rule_id", r.ID)
		}
		m.rules[r.ID] = r.Clone()
	}
	m.logger.Info("loaded rules", "selected", len(selected), "offered", len(rules))
	return len(selected), nil
}

// Len returns the number of loaded rules.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rules)
}

// Rules returns the loaded rules sorted by ID.
func (m *Manager) Rules() []*rule.Rule {
	m.mu.RLock()
	out := make([]*rule.Rule, 0, len(m.rules))
	for _, r := range m.rules {
		out = append(out, r)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns the loaded rule with the given ID.
func (m *Manager) Get(id string) (*rule.Rule, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rules[id]
	return r, ok
}

// update runs fn against a copy of rule id and stores the copy only when fn
// succeeds. An override that changes the ID re-keys the rule.
func (m *Manager) update(id string, fn func(r *rule.Rule) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rules[id]
	if !ok {
		return &derrors.NotFoundError{RuleID: id}
	}
	work := r.Clone()
	if err := fn(work); err != nil {
		return err
	}
	if work.ID != id {
		if _, taken := m.rules[work.ID]; taken {
			return &derrors.DuplicateRuleError{RuleID: work.ID}
		}
		delete(m.rules, id)
	}
	m.rules[work.ID] = work
	return nil
}

// Override replaces the named fields of rule id.
func (m *Manager) Override(id string, updates map[string]any) error {
	return m.update(id, func(r *rule.Rule) error {
		return r.ApplyOverride(updates)
	})
}

// Extend appends to the named collection fields of rule id.
func (m *Manager) Extend(id string, appends map[string]any) error {
	return m.update(id, func(r *rule.Rule) error {
		return r.ApplyExtend(appends)
	})
}

// SetMethod rebinds a rule function slot or helper. Later writes win.
func (m *Manager) SetMethod(id, name string, v any) error {
	return m.update(id, func(r *rule.Rule) error {
		return r.SetMethod(name, v)
	})
}

// SetTitle is SetMethod for the title slot.
func (m *Manager) SetTitle(id string, v any) error {
	return m.SetMethod(id, "title", v)
}

// SetProperty sets a configuration field and re-validates the rule. The rule
// is unchanged when validation fails.
func (m *Manager) SetProperty(id, name string, v any) error {
	return m.update(id, func(r *rule.Rule) error {
		return r.SetProperty(name, v)
	})
}

// Include appends include filters to rule id.
func (m *Manager) Include(id string, filters ...rule.Filter) error {
	return m.update(id, func(r *rule.Rule) error {
		r.Include(filters...)
		return nil
	})
}

// Exclude appends exclude filters to rule id.
func (m *Manager) Exclude(id string, filters ...rule.Filter) error {
	return m.update(id, func(r *rule.Rule) error {
		r.Exclude(filters...)
		return nil
	})
}

// IncludeBulk appends include filters to every rule covering logType and
// returns how many rules changed.
func (m *Manager) IncludeBulk(logType string, filters ...rule.Filter) int {
	return m.bulk(logType, func(r *rule.Rule) { r.Include(filters...) })
}

// ExcludeBulk appends exclude filters to every rule covering logType.
func (m *Manager) ExcludeBulk(logType string, filters ...rule.Filter) int {
	return m.bulk(logType, func(r *rule.Rule) { r.Exclude(filters...) })
}

func (m *Manager) bulk(logType string, fn func(r *rule.Rule)) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, r := range m.rules {
		if !r.AppliesTo(logType) {
			continue
		}
		work := r.Clone()
		fn(work)
		m.rules[id] = work
		n++
	}
	m.logger.Debug("applied bulk filters", "log_type", logType, "rules", n)
	return n
}

// UpdateTests replaces the tests of rule id with fn's result.
func (m *Manager) UpdateTests(id string, fn func(tests []rule.Test) []rule.Test) error {
	return m.update(id, func(r *rule.Rule) error {
		r.Tests = fn(r.Tests)
		return nil
	})
}

// RegisterFilter names a filter for use by override documents.
func (m *Manager) RegisterFilter(name string, f rule.Filter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filters[name] = f
}

func (m *Manager) namedFilters(names []string) ([]rule.Filter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]rule.Filter, 0, len(names))
	for _, name := range names {
		f, ok := m.filters[name]
		if !ok {
			return nil, fmt.Errorf("unknown filter %q", name)
		}
		out = append(out, f)
	}
	return out, nil
}

// RegisterAll registers every loaded rule with reg. A rule that fails to
// register does not stop the others; all failures are returned joined.
func (m *Manager) RegisterAll(reg *registry.Registry) error {
	var errs []error
	registered := 0
	for _, r := range m.Rules() {
		if err := reg.Register(r); err != nil {
			m.logger.Warn("rule not registered", "rule_id", r.ID, "error", err)
			errs = append(errs, err)
			continue
		}
		registered++
	}
	m.logger.Info("registered rules", "registered", registered, "failed", len(errs))
	return errors.Join(errs...)
}
