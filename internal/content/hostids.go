package content

import (
	"fmt"
	"time"

	"siem-detect/internal/rule"
	"siem-detect/internal/schema"
)

func hostIDSLog(eventType string) map[string]any {
	log := map[string]any{
		"event_name": "confirmed_compromise",
		"host_name":  "host1",
		"event_time": "2021-01-01T00:00:00Z",
		"user_agent": "Chrome",
	}
	if eventType != "" {
		log["event_type"] = eventType
	}
	return log
}

// HostIDSBase is the base rule for confirmed host IDS compromises. The
// compromise_type config names the compromise in the title; derived rules
// replace it.
func HostIDSBase() *rule.Rule {
	r := rule.New("HostIDS.BaseRule", schema.LogTypeHostIDS)
	r.DefaultSeverity = rule.SeverityHigh
	r.Threshold = 1
	r.DedupPeriod = 6 * time.Hour
	r.SetConfig("compromise_type", "compromise")
	r.SetHelper("host_user_lookup", func(*rule.Rule, *schema.Event) any { return "groot" })

	r.Match = func(_ *rule.Rule, e *schema.Event) bool {
		return e.Get("event_name").Equal("confirmed_compromise")
	}
	r.Title = func(r *rule.Rule, e *schema.Event) string {
		return fmt.Sprintf("Confirmed [%s] on host [%s]", r.ConfigValue("compromise_type"), e.Get("host_name"))
	}
	r.AlertContext = func(r *rule.Rule, e *schema.Event) map[string]any {
		return map[string]any{
			"hostname": e.UDM("hostname").Interface(),
			"time":     e.Get("event_time").Interface(),
			"user":     r.Call("host_user_lookup", e).Interface(),
		}
	}

	r.Tests = []rule.Test{
		{
			Name:           "Confirmed Compromise",
			ExpectedResult: true,
			ExpectedTitle:  rule.Ptr("Confirmed [compromise] on host [host1]"),
			ExpectedAlertContext: map[string]any{
				"hostname": "host1",
				"time":     "2021-01-01T00:00:00Z",
				"user":     "groot",
			},
			Log: hostIDSLog(""),
		},
		{
			Name:           "Compromise with a looked up user",
			ExpectedResult: true,
			ExpectedAlertContext: map[string]any{
				"hostname": "host1",
				"time":     "2021-01-01T00:00:00Z",
				"user":     "rocket",
			},
			Mocks: []rule.Mock{{Name: "host_user_lookup", ReturnValue: "rocket"}},
			Log:   hostIDSLog(""),
		},
		{
			Name:           "Suspected Compromise",
			ExpectedResult: false,
			Log:            merge(hostIDSLog(""), map[string]any{"event_name": "suspected_compromise"}),
		},
	}
	return r
}

// HostIDSCommandAndControl narrows the base rule to command and control
// events with an include filter.
func HostIDSCommandAndControl(base *rule.Rule) *rule.Rule {
	r := rule.Derive(base, "HostIDS.CommandAndControl")
	r.Threshold = 18
	r.SetConfig("compromise_type", "command and control")
	r.Include(func(e *schema.Event) bool { return e.Get("event_type").Equal("c2") })

	r.Tests = []rule.Test{
		{
			Name:           "Confirmed C2",
			ExpectedResult: true,
			ExpectedTitle:  rule.Ptr("Confirmed [command and control] on host [host1]"),
			Log:            hostIDSLog("c2"),
		},
		{
			Name:           "Confirmed Malware",
			ExpectedResult: false,
			Log:            hostIDSLog("malware"),
		},
	}
	return r
}

// HostIDSMalware narrows the base rule to malware by calling through to the
// base match function.
func HostIDSMalware(base *rule.Rule) *rule.Rule {
	r := rule.Derive(base, "HostIDS.Malware")
	r.Threshold = 2
	r.DedupPeriod = 60 * time.Minute
	r.DefaultSeverity = rule.SeverityCritical
	r.SetConfig("compromise_type", "malware")

	r.Match = func(r *rule.Rule, e *schema.Event) bool {
		return r.Base().Match(r, e) && e.Get("event_type").Equal("malware")
	}

	r.Tests = []rule.Test{
		{
			Name:             "Confirmed Malware",
			ExpectedResult:   true,
			ExpectedTitle:    rule.Ptr("Confirmed [malware] on host [host1]"),
			ExpectedSeverity: rule.Ptr(rule.SeverityCritical),
			Log:              hostIDSLog("malware"),
		},
		{
			Name:           "Suspected Malware",
			ExpectedResult: false,
			Log:            merge(hostIDSLog("malware"), map[string]any{"event_name": "suspected_compromise"}),
		},
	}
	return r
}
