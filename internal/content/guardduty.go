package content

import (
	"strings"
	"time"

	"siem-detect/internal/rule"
	"siem-detect/internal/schema"
)

var sensitiveServices = []string{"s3", "dynamodb", "iam", "secretsmanager", "ec2"}

// IsDiscoveryFinding passes GuardDuty findings of the Discovery family.
func IsDiscoveryFinding(e *schema.Event) bool {
	return strings.HasPrefix(e.Get("type").StrOr(""), "Discovery")
}

// SensitiveServiceFilter passes GuardDuty findings raised against a
// sensitive AWS service.
func SensitiveServiceFilter(e *schema.Event) bool {
	name := e.DeepGet("service", "action", "awsApiCallAction", "serviceName").StrOr("")
	for _, svc := range sensitiveServices {
		if strings.HasPrefix(name, svc) {
			return true
		}
	}
	return false
}

func guardDutyFinding(severity float64, createdAt string) map[string]any {
	return map[string]any{
		"schemaVersion": "2.0",
		"accountId":     "123456789012",
		"region":        "us-east-1",
		"partition":     "aws",
		"arn":           "arn:aws:guardduty:us-west-2:123456789012:detector/111111bbbbbbbbbb5555555551111111/finding/90b82273685661b9318f078d0851fe9a",
		"type":          "PrivilegeEscalation:IAMUser/AdministrativePermissions",
		"service": map[string]any{
			"serviceName": "guardduty",
			"detectorId":  "111111bbbbbbbbbb5555555551111111",
			"action": map[string]any{
				"actionType": "AWS_API_CALL",
				"awsApiCallAction": map[string]any{
					"api":         "PutRolePolicy",
					"serviceName": "iam.amazonaws.com",
					"callerType":  "Domain",
				},
			},
			"resourceRole":   "TARGET",
			"additionalInfo": map[string]any{},
			"eventFirstSeen": "2020-02-14T17:59:17Z",
			"eventLastSeen":  "2020-02-14T17:59:17Z",
			"archived":       false,
			"count":          1,
		},
		"severity":    severity,
		"id":          "eeb88ab56556eb7771b266670dddee5a",
		"createdAt":   createdAt,
		"updatedAt":   createdAt,
		"title":       "Principal AssumedRole:IAMRole attempted to add a policy to themselves that is highly permissive.",
		"description": "Principal AssumedRole:IAMRole attempted to add a highly permissive policy to themselves.",
	}
}

// GuardDutyHighVolFindings alerts on high volumes of high severity
// GuardDuty findings. Findings created on a weekend are raised to CRITICAL.
func GuardDutyHighVolFindings() *rule.Rule {
	r := rule.New("AWS.GuardDuty.HighVolFindings", schema.LogTypeAWSGuardDuty)
	r.DisplayName = "High volume of GuardDuty findings"
	r.DefaultSeverity = rule.SeverityHigh
	r.Threshold = 100
	r.DedupPeriod = 45 * time.Minute
	r.Tags = []string{"GuardDuty", "Security"}
	r.Reports = map[string][]string{"MITRE ATT&CK": {"TA0010:T1499"}}
	r.Description = "This rule tracks high volumes of GuardDuty findings"
	r.DefaultDestinations = []string{"slack:my-channel"}

	r.Match = func(_ *rule.Rule, e *schema.Event) bool {
		// Sample findings are generated by GuardDuty itself.
		if e.DeepGet("service", "additionalInfo", "sample").Truthy() {
			return false
		}
		sev, _ := e.Get("severity").Number()
		return sev >= 7.0 && sev <= 8.9
	}
	r.Title = func(_ *rule.Rule, e *schema.Event) string {
		return e.GetOr("title", "GuardDuty finding").String()
	}
	r.Severity = func(r *rule.Rule, e *schema.Event) rule.Severity {
		switch findingTime(e).Weekday() {
		case time.Saturday, time.Sunday:
			return rule.SeverityCritical
		}
		return r.DefaultSeverity
	}
	r.AlertContext = func(_ *rule.Rule, e *schema.Event) map[string]any {
		return map[string]any{
			"description": e.Get("description").Interface(),
			"severity":    e.Get("severity").Interface(),
			"id":          e.Get("id").Interface(),
			"type":        e.Get("type").Interface(),
			"resource":    e.Get("resource").Interface(),
			"service":     e.Get("service").Interface(),
		}
	}

	sample := guardDutyFinding(8, "2020-02-14T18:12:22.316Z")
	sample["service"] = merge(sample["service"].(map[string]any), map[string]any{
		"additionalInfo": map[string]any{"sample": true},
	})
	r.Tests = []rule.Test{
		{
			Name:             "High Sev Finding",
			ExpectedResult:   true,
			ExpectedSeverity: rule.Ptr(rule.SeverityHigh),
			ExpectedTitle: rule.Ptr("Principal AssumedRole:IAMRole attempted to add a policy " +
				"to themselves that is highly permissive."),
			Log: guardDutyFinding(8, "2020-02-14T18:12:22.316Z"),
		},
		{
			Name:             "High Sev Finding on a weekend",
			ExpectedResult:   true,
			ExpectedSeverity: rule.Ptr(rule.SeverityCritical),
			Log:              guardDutyFinding(7.5, "2020-02-15T09:00:00Z"),
		},
		{
			Name:           "High Sev Finding As Sample Data",
			ExpectedResult: false,
			Log:            sample,
		},
		{
			Name:           "Medium Sev Finding",
			ExpectedResult: false,
			Log:            guardDutyFinding(5, "2020-02-14T18:12:22.316Z"),
		},
	}
	return r
}

// findingTime returns when the finding was created, falling back to the
// event time.
func findingTime(e *schema.Event) time.Time {
	for _, key := range []string{"createdAt", "updatedAt"} {
		if s, ok := e.Get(key).Str(); ok {
			if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
				return ts.UTC()
			}
		}
	}
	return e.Timestamp
}
