package content

import (
	"fmt"
	"strings"
	"time"

	"siem-detect/internal/rule"
	"siem-detect/internal/schema"
)

func sampleALBLog() map[string]any {
	return map[string]any{
		"actionsExecuted":       []any{"forward"},
		"chosenCertArn":         "arn:aws:acm:us-east-1:112233445566:certificate/77c83668-2cdd-4563-9d83-24bfd87fbbc0",
		"clientIp":              "146.70.45.217",
		"clientPort":            42445,
		"elb":                   "app/web/22222f55555e618c",
		"elbStatusCode":         429,
		"receivedBytes":         424,
		"requestHttpMethod":     "GET",
		"requestUrl":            "https://ec2-55-22-444-111.us-east-1.compute.amazonaws.com:443/pagekit/index.php",
		"sentBytes":             1787,
		"targetGroupArn":        "arn:aws:elasticloadbalancing:us-east-1:112233445566:targetgroup/web/22222f55555e618c",
		"targetIp":              "10.0.0.12",
		"targetPort":            80,
		"targetProcessingTime":  0.001,
		"targetStatusCode":      429,
		"type":                  "https",
		"userAgent":             "Mozilla/5.0 (Windows NT 10.0; Win64; x64)",
		"requestProcessingTime": 0,
	}
}

// ALBHighVol400s tracks abuse of web ports through AWS load balancers.
func ALBHighVol400s() *rule.Rule {
	r := rule.New("AWS.ALB.HighVol400s", schema.LogTypeAWSALB)
	r.DefaultSeverity = rule.SeverityMedium
	r.Threshold = 50 // 10 matches per minute
	r.DedupPeriod = 5 * time.Minute
	r.Description = "This rule tracks abuse to web ports via AWS Load Balancers"
	r.Reports = map[string][]string{"MITRE ATT&CK": {"TA0010:T1499"}}
	r.Runbook = "Correlate the source IP to find matches from other triggered rules. " +
		"Check which path is being requested to see if it is particularly sensitive. " +
		"Check if the source IP is known bad through threat intelligence integrations. " +
		"Check if the load balancer availability was affected. " +
		"Check if this volume of 400 errors is typical or not for that load balancer."

	// 429 Too Many Requests, 400 Bad Request, 403 Forbidden
	r.SetConfig("status_codes", []any{429, 400, 403})
	r.SetConfig("target_web_ports", []any{80, 443, 4443, 8080})
	r.Required = []string{"status_codes", "target_web_ports"}

	r.Match = func(r *rule.Rule, e *schema.Event) bool {
		// The target status code is the host's response, not the balancer's.
		return r.ConfigContains("status_codes", e.Get("targetStatusCode").Interface()) &&
			r.ConfigContains("target_web_ports", e.Get("targetPort").Interface()) &&
			e.Get("domainName").Exists()
	}
	r.Title = func(_ *rule.Rule, e *schema.Event) string {
		return fmt.Sprintf("High volume of web port 4xx errors to [%s] in account [%s]",
			e.Get("domainName"), arnAccount(e.Get("targetGroupArn").StrOr("")))
	}
	r.AlertContext = func(_ *rule.Rule, e *schema.Event) map[string]any {
		return map[string]any{
			"elb":                e.Get("elb").Interface(),
			"actionsExecuted":    e.Get("actionsExecuted").Interface(),
			"source_ip":          e.UDM("source_ip").Interface(),
			"target_port":        e.Get("targetPort").Interface(),
			"elb_status_code":    e.Get("elbStatusCode").Interface(),
			"target_status_code": e.Get("targetStatusCode").Interface(),
			"user_agent":         e.UDM("user_agent").Interface(),
			"request_url":        e.Get("requestUrl").Interface(),
			"mitre_technique":    "Endpoint Denial of Service",
			"mitre_tactic":       "Impact",
		}
	}

	withDomain := merge(sampleALBLog(), map[string]any{"domainName": "example.com"})
	r.Tests = []rule.Test{
		{
			Name:           "ELB 400s, no domain",
			ExpectedResult: false,
			Log:            sampleALBLog(),
		},
		{
			Name:           "ELB 400s, with a domain",
			ExpectedResult: true,
			ExpectedTitle:  rule.Ptr("High volume of web port 4xx errors to [example.com] in account [112233445566]"),
			ExpectedAlertContext: map[string]any{
				"elb":                "app/web/22222f55555e618c",
				"actionsExecuted":    []any{"forward"},
				"source_ip":          "146.70.45.217",
				"target_port":        80,
				"elb_status_code":    429,
				"target_status_code": 429,
				"user_agent":         "Mozilla/5.0 (Windows NT 10.0; Win64; x64)",
				"request_url":        "https://ec2-55-22-444-111.us-east-1.compute.amazonaws.com:443/pagekit/index.php",
				"mitre_technique":    "Endpoint Denial of Service",
				"mitre_tactic":       "Impact",
			},
			Log: withDomain,
		},
		{
			Name:           "ELB 200s, with a domain",
			ExpectedResult: false,
			Log: merge(withDomain, map[string]any{
				"elbStatusCode":    200,
				"targetStatusCode": 200,
			}),
		},
		{
			Name:           "ELB 403 on a non-web port",
			ExpectedResult: false,
			Log:            merge(withDomain, map[string]any{"targetStatusCode": 403, "targetPort": 22}),
		},
	}
	return r
}

// arnAccount returns the account field of an ARN, or "unknown".
func arnAccount(arn string) string {
	parts := strings.Split(arn, ":")
	if len(parts) < 5 || parts[4] == "" {
		return "unknown"
	}
	return parts[4]
}
