// Package schema defines the normalized event representation that detection
// rules are evaluated against. Events are schema-less: every lookup returns a
// Value and absent keys never cause a failure.
package schema

import (
	"time"

	"github.com/google/uuid"
)

// Well-known log types. Log types are free-form strings; these are the ones
// the built-in data models and content pack know about.
const (
	LogTypeAWSALB              = "AWS.ALB"
	LogTypeAWSCloudTrail       = "AWS.CloudTrail"
	LogTypeAWSGuardDuty        = "AWS.GuardDuty"
	LogTypeAzureAudit          = "Azure.Audit"
	LogTypeAsanaAudit          = "Asana.Audit"
	LogTypeGitHubAudit         = "GitHub.Audit"
	LogTypeGSuiteActivityEvent = "GSuite.ActivityEvent"
	LogTypeOktaSystemLog       = "Okta.SystemLog"
	LogTypePantherAudit        = "Panther.Audit"
	LogTypeHostIDS             = "Custom.HostIDS"
)

// Event is an immutable, normalized log record tagged with its log type.
type Event struct {
	ID        uuid.UUID `json:"id" validate:"required"`
	LogType   string    `json:"log_type" validate:"required,log_type"`
	Timestamp time.Time `json:"timestamp" validate:"required"`

	fields map[string]any
}

// NewEvent builds an event from a raw mapping. The mapping is deep-copied so
// later changes by the caller are not visible through the event.
func NewEvent(logType string, fields map[string]any) *Event {
	return NewEventAt(logType, fields, time.Now().UTC())
}

// NewEventAt is NewEvent with an explicit event time.
func NewEventAt(logType string, fields map[string]any, ts time.Time) *Event {
	normalized, _ := Normalize(fields).(map[string]any)
	if normalized == nil {
		normalized = make(map[string]any)
	}
	return &Event{
		ID:        uuid.New(),
		LogType:   logType,
		Timestamp: ts,
		fields:    normalized,
	}
}

// Get returns the top-level field key, or null.
func (e *Event) Get(key string) Value {
	if e == nil {
		return Null
	}
	return Value{raw: e.fields[key]}
}

// GetOr returns the top-level field key, or def when absent or null.
func (e *Event) GetOr(key string, def any) Value {
	v := e.Get(key)
	if v.IsNull() {
		return ValueOf(def)
	}
	return v
}

// DeepGet walks nested objects along path.
func (e *Event) DeepGet(path ...string) Value {
	if e == nil || len(path) == 0 {
		return Null
	}
	return e.Get(path[0]).Path(path[1:]...)
}

// DeepGetOr is DeepGet returning def when the path does not resolve.
func (e *Event) DeepGetOr(def any, path ...string) Value {
	v := e.DeepGet(path...)
	if v.IsNull() {
		return ValueOf(def)
	}
	return v
}

// UDM resolves a unified data model field (for example "source_ip") through
// the data model registered for the event's log type.
func (e *Event) UDM(field string) Value {
	if e == nil {
		return Null
	}
	dm, ok := LookupDataModel(e.LogType)
	if !ok {
		return Null
	}
	return dm.Resolve(e, field)
}

// Has reports whether key is present and not null.
func (e *Event) Has(key string) bool {
	return e.Get(key).Exists()
}

// Fields returns a deep copy of the underlying mapping.
func (e *Event) Fields() map[string]any {
	if e == nil {
		return map[string]any{}
	}
	out, _ := Normalize(e.fields).(map[string]any)
	return out
}

// Root returns the whole event as an object Value.
func (e *Event) Root() Value {
	if e == nil {
		return Null
	}
	return Value{raw: e.fields}
}
