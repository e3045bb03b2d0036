package schema

import (
	"bytes"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var jsonAPI = jsoniter.Config{
	UseNumber:              true,
	EscapeHTML:             false,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
}.Froze()

// ParseEvent decodes a JSON object into an event of the given log type.
func ParseEvent(logType string, data []byte) (*Event, error) {
	fields, err := decodeObject(data)
	if err != nil {
		return nil, err
	}
	return NewEvent(logType, fields), nil
}

// Envelope is the line format accepted by ParseEnvelope: a log type, an
// optional event time and the raw record.
type Envelope struct {
	LogType   string         `json:"log_type"`
	Timestamp time.Time      `json:"timestamp"`
	Event     map[string]any `json:"event"`
}

// ParseEnvelope decodes one envelope line into an event.
func ParseEnvelope(data []byte) (*Event, error) {
	var env Envelope
	dec := jsonAPI.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("failed to parse event envelope: %w", err)
	}
	if env.LogType == "" {
		return nil, fmt.Errorf("failed to parse event envelope: log_type is required")
	}
	ts := env.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return NewEventAt(env.LogType, env.Event, ts), nil
}

// MarshalJSON renders the event fields.
func (e *Event) MarshalJSON() ([]byte, error) {
	return jsonAPI.Marshal(map[string]any{
		"id":        e.ID,
		"log_type":  e.LogType,
		"timestamp": e.Timestamp,
		"event":     e.fields,
	})
}

func decodeObject(data []byte) (map[string]any, error) {
	var fields map[string]any
	if err := jsonAPI.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("failed to parse event: %w", err)
	}
	if fields == nil {
		return nil, fmt.Errorf("failed to parse event: expected a JSON object")
	}
	return fields, nil
}
