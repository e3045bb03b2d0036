package rule

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	derrors "siem-detect/internal/errors"
	"siem-detect/internal/schema"
)

var (
	validateOnce sync.Once
	structCheck  *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		structCheck = validator.New()
		// Report fields by their override key rather than the Go name.
		structCheck.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
			if name == "-" || name == "" {
				return f.Name
			}
			return name
		})
	})
	return structCheck
}

// Validate checks the rule's attributes and configuration: ID present, at
// least one well-formed log type, known severity, threshold of at least one,
// positive dedup period, every required configuration field set and every
// custom validator passing. The returned error is a ConfigurationError.
func (r *Rule) Validate() error {
	if err := structValidator().Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return derrors.NewConfigurationError(r.ID, fe.Field(), "failed %q check (value %v)", fe.Tag(), fe.Value())
		}
		return &derrors.ConfigurationError{RuleID: r.ID, Err: err}
	}

	for _, lt := range r.LogTypes {
		if !schema.ValidateLogType(lt) {
			return derrors.NewConfigurationError(r.ID, "log_types", "invalid log type %q", lt)
		}
	}

	for _, name := range r.Required {
		if !r.ConfigValue(name).Truthy() {
			return derrors.NewConfigurationError(r.ID, name, "required configuration is missing or empty")
		}
	}

	for _, check := range r.Validators {
		if err := check(r); err != nil {
			var cfgErr *derrors.ConfigurationError
			if errors.As(err, &cfgErr) {
				return cfgErr
			}
			return &derrors.ConfigurationError{RuleID: r.ID, Err: err}
		}
	}

	return nil
}

// SetProperty sets a configuration field and re-validates the rule. The
// field keeps its previous value when validation fails.
func (r *Rule) SetProperty(name string, v any) error {
	prev, had := r.Config[name]
	r.SetConfig(name, v)
	if err := r.Validate(); err != nil {
		if had {
			r.Config[name] = prev
		} else {
			delete(r.Config, name)
		}
		return err
	}
	return nil
}

// RequireNonEmpty returns a validator that fails when the list-valued
// configuration field name is missing or empty.
func RequireNonEmpty(name string) ConfigValidator {
	return func(r *Rule) error {
		if len(r.ConfigValue(name).Array()) == 0 {
			return derrors.NewConfigurationError(r.ID, name, "must be a non-empty list")
		}
		return nil
	}
}

// RequireKind returns a validator that fails unless the configuration field
// name holds a value of the given kind.
func RequireKind(name string, kind schema.Kind) ConfigValidator {
	return func(r *Rule) error {
		if got := r.ConfigValue(name).Kind(); got != kind {
			return derrors.NewConfigurationError(r.ID, name, "expected %s, got %s", kind, got)
		}
		return nil
	}
}

// MustValidate panics when r is invalid. It is meant for built-in content.
func MustValidate(r *Rule) *Rule {
	if err := r.Validate(); err != nil {
		panic(fmt.Sprintf("invalid built-in rule: %v", err))
	}
	return r
}
