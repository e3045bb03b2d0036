package schema

import (
	"fmt"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
)

// logTypePattern defines the valid format for log type identifiers.
// Log types are dot separated segments starting with a letter.
// Examples: "AWS.CloudTrail", "GSuite.ActivityEvent", "Custom.HostIDS"
var logTypePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*(\.[A-Za-z][A-Za-z0-9_]*)+$`)

// Validator checks event envelopes before they are handed to the engine.
type Validator struct {
	validate  *validator.Validate
	maxAge    time.Duration
	maxFuture time.Duration
}

// ValidatorConfig holds configuration for the validator.
type ValidatorConfig struct {
	// MaxAge rejects events older than now-MaxAge. Zero disables the check,
	// which is what replaying historical fixtures needs.
	MaxAge    time.Duration `yaml:"max_event_age"`
	MaxFuture time.Duration `yaml:"max_future"`
}

// DefaultValidatorConfig returns the default validator configuration.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		MaxAge:    0,
		MaxFuture: 5 * time.Minute,
	}
}

// NewValidator creates a new Validator with default configuration.
func NewValidator() *Validator {
	return NewValidatorWithConfig(DefaultValidatorConfig())
}

// NewValidatorWithConfig creates a new Validator with the specified configuration.
func NewValidatorWithConfig(cfg ValidatorConfig) *Validator {
	v := validator.New()

	v.RegisterValidation("log_type", func(fl validator.FieldLevel) bool {
		return logTypePattern.MatchString(fl.Field().String())
	})

	return &Validator{
		validate:  v,
		maxAge:    cfg.MaxAge,
		maxFuture: cfg.MaxFuture,
	}
}

// Validate validates an event envelope. Field contents are never inspected:
// events are schema-less by design of the rule layer.
func (v *Validator) Validate(event *Event) error {
	if event == nil {
		return fmt.Errorf("validation failed: nil event")
	}
	if err := v.validate.Struct(event); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	now := time.Now().UTC()

	if v.maxAge > 0 && event.Timestamp.Before(now.Add(-v.maxAge)) {
		return fmt.Errorf("timestamp too old: %v (max age: %v)", event.Timestamp, v.maxAge)
	}

	if v.maxFuture > 0 && event.Timestamp.After(now.Add(v.maxFuture)) {
		return fmt.Errorf("timestamp in future: %v (max future: %v)", event.Timestamp, v.maxFuture)
	}

	return nil
}

// ValidateLogType checks if a log type string matches the required format.
func ValidateLogType(logType string) bool {
	return logTypePattern.MatchString(logType)
}
