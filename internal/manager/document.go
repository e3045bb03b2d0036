package manager

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"siem-detect/internal/registry"
	"siem-detect/internal/rule"
)

// Document is a YAML override document. Entries apply in order.
//
//	overrides:
//	  - rules: ["AWS.CloudTrail.*"]
//	    set:
//	      default_severity: LOW
//	    extend:
//	      tags: [Tuned]
//	    config:
//	      allowed_users: [ci-bot]
//	    include:
//	      - field: recipientAccountId
//	        operator: in
//	        values: ["988776655444"]
//	    include_filters: [production]
type Document struct {
	Overrides []Entry `yaml:"overrides" validate:"dive"`
}

// Entry tunes the rules whose IDs match one of Rules and, when LogTypes is
// set, cover one of LogTypes.
type Entry struct {
	Rules    []string `yaml:"rules" validate:"required,min=1,dive,required"`
	LogTypes []string `yaml:"log_types,omitempty"`

	// Set replaces rule fields, as rule.Override.
	Set map[string]any `yaml:"set,omitempty"`
	// Extend appends to collection fields, as rule.Extend.
	Extend map[string]any `yaml:"extend,omitempty"`
	// Config sets configuration fields. The rule is re-validated.
	Config map[string]any `yaml:"config,omitempty"`

	Include []rule.Condition `yaml:"include,omitempty"`
	Exclude []rule.Condition `yaml:"exclude,omitempty"`

	// IncludeFilters and ExcludeFilters name filters registered with
	// Manager.RegisterFilter.
	IncludeFilters []string `yaml:"include_filters,omitempty"`
	ExcludeFilters []string `yaml:"exclude_filters,omitempty"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// ParseDocument decodes and validates an override document.
func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse override document: %w", err)
	}

	validateOnce.Do(func() { validate = validator.New() })
	if err := validate.Struct(doc); err != nil {
		return nil, fmt.Errorf("invalid override document: %w", err)
	}
	for i, e := range doc.Overrides {
		for _, conds := range [][]rule.Condition{e.Include, e.Exclude} {
			for j := range conds {
				if err := conds[j].Validate(); err != nil {
					return nil, fmt.Errorf("overrides[%d]: condition %d: %w", i, j, err)
				}
			}
		}
	}
	return &doc, nil
}

// compiled is an entry with its filters resolved.
type compiled struct {
	entry   Entry
	include []rule.Filter
	exclude []rule.Filter
}

func (m *Manager) compile(e Entry) (*compiled, error) {
	c := &compiled{entry: e}
	for _, cond := range e.Include {
		f, err := cond.Filter()
		if err != nil {
			return nil, err
		}
		c.include = append(c.include, f)
	}
	for _, cond := range e.Exclude {
		f, err := cond.Filter()
		if err != nil {
			return nil, err
		}
		c.exclude = append(c.exclude, f)
	}

	named, err := m.namedFilters(e.IncludeFilters)
	if err != nil {
		return nil, err
	}
	c.include = append(c.include, named...)
	if named, err = m.namedFilters(e.ExcludeFilters); err != nil {
		return nil, err
	}
	c.exclude = append(c.exclude, named...)
	return c, nil
}

func (c *compiled) apply(r *rule.Rule) error {
	if len(c.entry.Set) > 0 {
		if err := r.ApplyOverride(c.entry.Set); err != nil {
			return err
		}
	}
	if len(c.entry.Extend) > 0 {
		if err := r.ApplyExtend(c.entry.Extend); err != nil {
			return err
		}
	}
	for name, v := range c.entry.Config {
		r.SetConfig(name, v)
	}
	r.Include(c.include...)
	r.Exclude(c.exclude...)
	if len(c.entry.Config) > 0 {
		return r.Validate()
	}
	return nil
}

// Apply applies every entry of doc. A rule that fails an entry keeps its
// state from before that entry; the remaining rules and entries still
// apply. All failures are returned joined.
func (m *Manager) Apply(doc *Document) error {
	var errs []error
	for i, e := range doc.Overrides {
		c, err := m.compile(e)
		if err != nil {
			errs = append(errs, fmt.Errorf("overrides[%d]: %w", i, err))
			continue
		}

		targets, err := registry.Query{IDs: e.Rules, LogTypes: e.LogTypes}.Select(m.Rules())
		if err != nil {
			errs = append(errs, fmt.Errorf("overrides[%d]: %w", i, err))
			continue
		}
		if len(targets) == 0 {
			m.logger.Warn("override matched no rules", "index", i, "rules", e.Rules)
			continue
		}

		for _, r := range targets {
			if err := m.update(r.ID, c.apply); err != nil {
				errs = append(errs, fmt.Errorf("overrides[%d]: %w", i, err))
				continue
			}
			m.logger.Debug("applied override", "index", i, "rule_id", r.ID)
		}
	}
	return errors.Join(errs...)
}
