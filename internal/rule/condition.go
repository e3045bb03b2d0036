package rule

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"siem-detect/internal/schema"
)

// Condition is a declarative filter over one event field, used where filters
// come from YAML rather than code. Field is a dotted path into the event; the
// prefix "udm." resolves a unified data model field instead.
type Condition struct {
	Field    string      `yaml:"field,omitempty"`
	Operator string      `yaml:"operator,omitempty"` // eq, ne, gt, gte, lt, lte, contains, regex, in, not_in, exists, not_exists
	Value    any         `yaml:"value,omitempty"`
	Values   []any       `yaml:"values,omitempty"` // For "in" and "not_in"
	And      []Condition `yaml:"and,omitempty"`
	Or       []Condition `yaml:"or,omitempty"`
	Not      *Condition  `yaml:"not,omitempty"`
}

var validOperators = map[string]bool{
	"eq": true, "ne": true, "gt": true, "gte": true,
	"lt": true, "lte": true, "contains": true,
	"regex": true, "in": true, "not_in": true,
	"exists": true, "not_exists": true,
}

// Validate validates a condition tree.
func (c *Condition) Validate() error {
	if len(c.And) > 0 || len(c.Or) > 0 || c.Not != nil {
		for i := range c.And {
			if err := c.And[i].Validate(); err != nil {
				return fmt.Errorf("and[%d]: %w", i, err)
			}
		}
		for i := range c.Or {
			if err := c.Or[i].Validate(); err != nil {
				return fmt.Errorf("or[%d]: %w", i, err)
			}
		}
		if c.Not != nil {
			if err := c.Not.Validate(); err != nil {
				return fmt.Errorf("not: %w", err)
			}
		}
		return nil
	}

	if c.Field == "" {
		return fmt.Errorf("field is required")
	}
	if c.Operator == "" {
		return fmt.Errorf("operator is required")
	}
	if !validOperators[c.Operator] {
		return fmt.Errorf("invalid operator: %s", c.Operator)
	}
	if (c.Operator == "in" || c.Operator == "not_in") && len(c.Values) == 0 {
		return fmt.Errorf("values required for %s operator", c.Operator)
	}
	if c.Operator == "regex" {
		if _, err := regexp.Compile(fmt.Sprintf("%v", c.Value)); err != nil {
			return fmt.Errorf("invalid regex: %w", err)
		}
	}
	return nil
}

// Filter compiles the condition into a Filter. The condition must be valid.
func (c *Condition) Filter() (Filter, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c.compile(), nil
}

func (c *Condition) compile() Filter {
	if len(c.And) > 0 || len(c.Or) > 0 || c.Not != nil {
		var parts []Filter
		for i := range c.And {
			parts = append(parts, c.And[i].compile())
		}
		if len(c.Or) > 0 {
			var alts []Filter
			for i := range c.Or {
				alts = append(alts, c.Or[i].compile())
			}
			parts = append(parts, Any(alts...))
		}
		if c.Not != nil {
			parts = append(parts, Not(c.Not.compile()))
		}
		return All(parts...)
	}

	resolve := fieldResolver(c.Field)
	cond := *c
	var re *regexp.Regexp
	if c.Operator == "regex" {
		re = regexp.MustCompile(fmt.Sprintf("%v", c.Value))
	}
	return func(e *schema.Event) bool {
		return cond.match(resolve(e), re)
	}
}

func fieldResolver(field string) func(*schema.Event) schema.Value {
	if udm, ok := strings.CutPrefix(field, "udm."); ok {
		return func(e *schema.Event) schema.Value { return e.UDM(udm) }
	}
	path := strings.Split(field, ".")
	return func(e *schema.Event) schema.Value { return e.DeepGet(path...) }
}

// match checks if an event value satisfies this condition.
func (c *Condition) match(v schema.Value, re *regexp.Regexp) bool {
	switch c.Operator {
	case "eq":
		return c.matchEquals(v)
	case "ne":
		return !c.matchEquals(v)
	case "gt":
		cmp, ok := c.compare(v)
		return ok && cmp > 0
	case "gte":
		cmp, ok := c.compare(v)
		return ok && cmp >= 0
	case "lt":
		cmp, ok := c.compare(v)
		return ok && cmp < 0
	case "lte":
		cmp, ok := c.compare(v)
		return ok && cmp <= 0
	case "contains":
		return v.Exists() && strings.Contains(strings.ToLower(v.String()), strings.ToLower(fmt.Sprintf("%v", c.Value)))
	case "regex":
		return v.Exists() && re != nil && re.MatchString(v.String())
	case "in":
		return v.In(c.Values...)
	case "not_in":
		return !v.In(c.Values...)
	case "exists":
		return v.Exists() && v.String() != ""
	case "not_exists":
		return v.IsNull() || v.String() == ""
	}
	return false
}

func (c *Condition) matchEquals(v schema.Value) bool {
	if v.Equal(c.Value) {
		return true
	}
	// "403" in YAML against 403 in the event, or the reverse.
	return v.Exists() && v.Kind() != schema.KindObject && v.Kind() != schema.KindArray &&
		v.String() == schema.ValueOf(c.Value).String()
}

func (c *Condition) compare(v schema.Value) (int, bool) {
	left, ok1 := v.Number()
	right, ok2 := schema.ValueOf(c.Value).Number()
	if !ok1 || !ok2 {
		if v.Kind() != schema.KindString {
			return 0, false
		}
		return strings.Compare(v.String(), fmt.Sprintf("%v", c.Value)), true
	}
	switch {
	case left < right:
		return -1, true
	case left > right:
		return 1, true
	}
	return 0, true
}

// ParseConditions parses a YAML list of conditions.
func ParseConditions(data []byte) ([]Condition, error) {
	var conds []Condition
	if err := yaml.Unmarshal(data, &conds); err != nil {
		return nil, fmt.Errorf("failed to parse conditions: %w", err)
	}
	for i := range conds {
		if err := conds[i].Validate(); err != nil {
			return nil, fmt.Errorf("condition %d: %w", i, err)
		}
	}
	return conds, nil
}
