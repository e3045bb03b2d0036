package schema

import (
	"strings"
	"testing"
	"time"
)

func TestEvent_Immutable(t *testing.T) {
	fields := map[string]any{
		"eventName": "ConsoleLogin",
		"userIdentity": map[string]any{
			"type": "Root",
		},
	}
	event := NewEvent(LogTypeAWSCloudTrail, fields)

	fields["eventName"] = "StopLogging"
	fields["userIdentity"].(map[string]any)["type"] = "IAMUser"

	if got := event.Get("eventName").StrOr(""); got != "ConsoleLogin" {
		t.Errorf("Get(eventName) = %q, want ConsoleLogin", got)
	}
	if got := event.DeepGet("userIdentity", "type").StrOr(""); got != "Root" {
		t.Errorf("DeepGet(userIdentity.type) = %q, want Root", got)
	}

	copied := event.Fields()
	copied["eventName"] = "Changed"
	if got := event.Get("eventName").StrOr(""); got != "ConsoleLogin" {
		t.Errorf("Fields() leaked internal state: eventName = %q", got)
	}
}

func TestEvent_AbsentKeys(t *testing.T) {
	event := NewEvent(LogTypeAWSALB, map[string]any{"domainName": nil})

	if event.Has("domainName") {
		t.Error("Has(domainName) = true for null field")
	}
	if !event.Get("nope").IsNull() {
		t.Error("Get(nope) should be null")
	}
	if !event.DeepGet("a", "b", "c").IsNull() {
		t.Error("DeepGet(a.b.c) should be null")
	}
	if got := event.GetOr("domainName", "default").StrOr(""); got != "default" {
		t.Errorf("GetOr() = %q, want default", got)
	}
	if got := event.DeepGetOr("<UNKNOWN>", "a", "b").StrOr(""); got != "<UNKNOWN>" {
		t.Errorf("DeepGetOr() = %q, want <UNKNOWN>", got)
	}

	var nilEvent *Event
	if !nilEvent.Get("x").IsNull() || !nilEvent.UDM("source_ip").IsNull() {
		t.Error("nil event lookups should be null")
	}
}

func TestEvent_UDM(t *testing.T) {
	tests := []struct {
		name    string
		logType string
		fields  map[string]any
		field   string
		want    string
	}{
		{
			name:    "alb source ip",
			logType: LogTypeAWSALB,
			fields:  map[string]any{"clientIp": "10.0.0.1"},
			field:   "source_ip",
			want:    "10.0.0.1",
		},
		{
			name:    "cloudtrail root actor",
			logType: LogTypeAWSCloudTrail,
			fields:  map[string]any{"userIdentity": map[string]any{"type": "Root"}},
			field:   "actor_user",
			want:    "root",
		},
		{
			name:    "cloudtrail named actor",
			logType: LogTypeAWSCloudTrail,
			fields:  map[string]any{"userIdentity": map[string]any{"type": "IAMUser", "userName": "alice"}},
			field:   "actor_user",
			want:    "alice",
		},
		{
			name:    "unknown field",
			logType: LogTypeAWSALB,
			fields:  map[string]any{},
			field:   "nope",
			want:    "null",
		},
		{
			name:    "unknown log type",
			logType: "Custom.Nothing",
			fields:  map[string]any{"clientIp": "10.0.0.1"},
			field:   "source_ip",
			want:    "null",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := NewEvent(tt.logType, tt.fields)
			if got := event.UDM(tt.field).String(); got != tt.want {
				t.Errorf("UDM(%q) = %q, want %q", tt.field, got, tt.want)
			}
		})
	}
}

func TestParseEvent(t *testing.T) {
	event, err := ParseEvent(LogTypeAWSALB, []byte(`{"targetPort": 443, "elbStatusCode": 403, "domainName": "x.example.com"}`))
	if err != nil {
		t.Fatalf("ParseEvent() error = %v", err)
	}
	if !event.Get("elbStatusCode").In(429, 400, 403) {
		t.Errorf("elbStatusCode = %v, want 403", event.Get("elbStatusCode"))
	}
	if !event.Get("targetPort").Equal(443) {
		t.Errorf("targetPort = %v, want 443", event.Get("targetPort"))
	}

	if _, err := ParseEvent(LogTypeAWSALB, []byte(`[1,2]`)); err == nil {
		t.Error("ParseEvent() should fail for non-object input")
	}
	if _, err := ParseEvent(LogTypeAWSALB, []byte(`null`)); err == nil {
		t.Error("ParseEvent() should fail for null input")
	}
}

func TestParseEnvelope(t *testing.T) {
	line := `{"log_type":"Custom.HostIDS","timestamp":"2024-03-01T10:00:00Z","event":{"event_type":"c2","host_name":"web-1"}}`
	event, err := ParseEnvelope([]byte(line))
	if err != nil {
		t.Fatalf("ParseEnvelope() error = %v", err)
	}
	if event.LogType != LogTypeHostIDS {
		t.Errorf("LogType = %q, want %q", event.LogType, LogTypeHostIDS)
	}
	if want := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC); !event.Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v, want %v", event.Timestamp, want)
	}
	if got := event.UDM("hostname").StrOr(""); got != "web-1" {
		t.Errorf("UDM(hostname) = %q, want web-1", got)
	}

	if _, err := ParseEnvelope([]byte(`{"event":{}}`)); err == nil {
		t.Error("ParseEnvelope() should fail without log_type")
	}
}

func TestEvent_MarshalJSON(t *testing.T) {
	event := NewEvent(LogTypeAWSALB, map[string]any{"clientIp": "10.0.0.1"})
	data, err := event.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON() error = %v", err)
	}
	for _, want := range []string{`"log_type":"AWS.ALB"`, `"clientIp":"10.0.0.1"`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("MarshalJSON() = %s, missing %s", data, want)
		}
	}
}
