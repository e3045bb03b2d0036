package content

import (
	"fmt"

	"siem-detect/internal/cloud"
	"siem-detect/internal/rule"
	"siem-detect/internal/schema"
)

const cloudTrailStoppedRunbook = "If the account is in production, investigate why CloudTrail was stopped. " +
	"If it was intentional, ensure that the account is monitored by another CloudTrail. " +
	"If it was not intentional, investigate the account for unauthorized access."

func rootLoginLog(accountID string) map[string]any {
	return map[string]any{
		"eventVersion": "1.05",
		"userIdentity": map[string]any{
			"type":        "Root",
			"principalId": "1111",
			"arn":         "arn:aws:iam::" + accountID + ":root",
			"accountId":   accountID,
			"userName":    "root",
		},
		"eventTime":         "2019-01-01T00:00:00Z",
		"eventSource":       "signin.amazonaws.com",
		"eventName":         "ConsoleLogin",
		"awsRegion":         "us-east-1",
		"sourceIPAddress":   "136.90.223.255",
		"userAgent":         "Mozilla",
		"requestParameters": nil,
		"responseElements":  map[string]any{"ConsoleLogin": "Success"},
		"additionalEventData": map[string]any{
			"LoginTo":       "https://console.aws.amazon.com/console/",
			"MobileVersion": "No",
			"MFAUsed":       "No",
		},
		"eventID":            "1",
		"eventType":          "AwsConsoleSignIn",
		"recipientAccountId": accountID,
	}
}

// RootLoginTitle names the account a root login happened in. Unknown
// accounts render as cloud.NotFound.
func RootLoginTitle(dir *cloud.Directory) rule.TitleFunc {
	return func(_ *rule.Rule, e *schema.Event) string {
		return fmt.Sprintf("Root Login from [%s] in account [%s]",
			e.Get("sourceIPAddress"), dir.AccountNameOf(e, "recipientAccountId"))
	}
}

// ConsoleRootLogin detects successful console logins by the root user.
func ConsoleRootLogin(dir *cloud.Directory) *rule.Rule {
	r := rule.New("AWS.Console.RootLogin", schema.LogTypeAWSCloudTrail)
	r.DisplayName = "Root Console Login"
	r.DefaultSeverity = rule.SeverityHigh
	r.Tags = []string{"AWS", "Identity & Access Management", "Authentication", "Privilege Escalation:Valid Accounts"}
	r.Reports = map[string][]string{"MITRE ATT&CK": {"TA0004:T1078"}}
	r.Description = "The root account has been logged into."
	r.Runbook = "Investigate the usage of the root account. If this root activity was not authorized, " +
		"immediately change the root credentials and investigate what actions the root account took."
	r.Reference = "https://docs.aws.amazon.com/IAM/latest/UserGuide/id_root-user.html"

	r.Match = func(_ *rule.Rule, e *schema.Event) bool {
		return e.Get("eventName").Equal("ConsoleLogin") &&
			e.DeepGet("userIdentity", "type").Equal("Root") &&
			e.DeepGet("responseElements", "ConsoleLogin").Equal("Success")
	}
	r.Title = RootLoginTitle(dir)
	r.Dedup = func(_ *rule.Rule, e *schema.Event) string {
		return e.Get("sourceIPAddress").StrOr("")
	}
	r.AlertContext = func(_ *rule.Rule, e *schema.Event) map[string]any {
		return map[string]any{
			"sourceIPAddress":       e.UDM("source_ip").Interface(),
			"userIdentityAccountId": e.DeepGet("userIdentity", "accountId").Interface(),
			"mfaUsed":               e.DeepGet("additionalEventData", "MFAUsed").Interface(),
		}
	}

	r.Tests = []rule.Test{
		{
			Name:           "Root login in a production account",
			ExpectedResult: true,
			ExpectedTitle:  rule.Ptr("Root Login from [136.90.223.255] in account [Blue]"),
			ExpectedDedup:  rule.Ptr("136.90.223.255"),
			Log:            rootLoginLog("988776655444"),
		},
		{
			Name:           "Root login in an unknown account",
			ExpectedResult: true,
			ExpectedTitle:  rule.Ptr("Root Login from [136.90.223.255] in account [not found]"),
			Log:            rootLoginLog("123456789012"),
		},
		{
			Name:           "Failed root login",
			ExpectedResult: false,
			Log: merge(rootLoginLog("988776655444"), map[string]any{
				"responseElements": map[string]any{"ConsoleLogin": "Failure"},
			}),
		},
		{
			Name:           "IAM user login",
			ExpectedResult: false,
			Log: merge(rootLoginLog("988776655444"), map[string]any{
				"userIdentity": map[string]any{"type": "IAMUser", "userName": "alice"},
			}),
		},
	}
	return r
}

// CloudTrailRootLoginProd narrows root login detection to production
// accounts.
func CloudTrailRootLoginProd(base *rule.Rule, dir *cloud.Directory) *rule.Rule {
	r := rule.Derive(base, "AWS.CloudTrail.RootLoginProd")
	r.DisplayName = "Root Console Login in Production"
	r.DefaultSeverity = rule.SeverityHigh
	r.IncludeFilters = []rule.Filter{dir.ProductionFilter("recipientAccountId")}
	r.Title = RootLoginTitle(dir)

	r.Tests = []rule.Test{
		{
			Name:           "Root Login from 136.90.223.255 in account [988776655444]",
			ExpectedResult: true,
			ExpectedTitle:  rule.Ptr("Root Login from [136.90.223.255] in account [Blue]"),
			Log:            rootLoginLog("988776655444"),
		},
		{
			Name:           "Root login outside production",
			ExpectedResult: false,
			Log:            rootLoginLog("123456789012"),
		},
	}
	return r
}

func stoppedLog(accountID, eventName string) map[string]any {
	return map[string]any{
		"eventVersion": "1.05",
		"userIdentity": map[string]any{
			"type":        "AssumedRole",
			"principalId": "1111",
			"arn":         "arn:aws:sts::" + accountID + ":assumed-role/Admin/alice",
			"accountId":   accountID,
		},
		"eventTime":          "2019-01-01T00:00:00Z",
		"eventSource":        "cloudtrail.amazonaws.com",
		"eventName":          eventName,
		"awsRegion":          "us-west-2",
		"sourceIPAddress":    "111.111.111.111",
		"userAgent":          "console.amazonaws.com",
		"requestParameters":  map[string]any{"name": "arn:aws:cloudtrail:us-west-2:" + accountID + ":trail/example-trail"},
		"eventType":          "AwsApiCall",
		"recipientAccountId": accountID,
	}
}

// CloudTrailStopped detects a trail being stopped or deleted.
func CloudTrailStopped(dir *cloud.Directory) *rule.Rule {
	r := rule.New("AWS.CloudTrail.Stopped", schema.LogTypeAWSCloudTrail)
	r.DisplayName = "CloudTrail Stopped"
	r.DefaultSeverity = rule.SeverityMedium
	r.Tags = []string{"AWS", "Security Control", "Defense Evasion:Impair Defenses"}
	r.Reports = map[string][]string{"MITRE ATT&CK": {"TA0005:T1562"}}
	r.Description = "A CloudTrail Trail was modified."
	r.Runbook = cloudTrailStoppedRunbook
	r.SetConfig("stop_events", []string{"DeleteTrail", "StopLogging"})

	r.Match = func(r *rule.Rule, e *schema.Event) bool {
		return e.Get("eventSource").Equal("cloudtrail.amazonaws.com") &&
			r.ConfigContains("stop_events", e.Get("eventName").Interface()) &&
			!e.Get("errorCode").Exists()
	}
	r.Title = func(_ *rule.Rule, e *schema.Event) string {
		return fmt.Sprintf("CloudTrail [%s] was stopped in account [%s]",
			e.DeepGet("requestParameters", "name"), dir.AccountNameOf(e, "recipientAccountId"))
	}
	r.Dedup = func(_ *rule.Rule, e *schema.Event) string {
		return e.Get("recipientAccountId").StrOr("")
	}
	r.AlertContext = func(_ *rule.Rule, e *schema.Event) map[string]any {
		return map[string]any{
			"account":  e.UDM("account_id").Interface(),
			"actor":    e.UDM("actor_user").Interface(),
			"trail":    e.DeepGet("requestParameters", "name").Interface(),
			"event":    e.Get("eventName").Interface(),
			"sourceIP": e.UDM("source_ip").Interface(),
		}
	}

	r.Tests = []rule.Test{
		{
			Name:           "CloudTrail was stopped",
			ExpectedResult: true,
			ExpectedTitle: rule.Ptr("CloudTrail [arn:aws:cloudtrail:us-west-2:988776655444:trail/example-trail] " +
				"was stopped in account [Blue]"),
			ExpectedDedup: rule.Ptr("988776655444"),
			Log:           stoppedLog("988776655444", "StopLogging"),
		},
		{
			Name:           "CloudTrail was deleted",
			ExpectedResult: true,
			Log:            stoppedLog("123456789012", "DeleteTrail"),
		},
		{
			Name:           "CloudTrail stop failed",
			ExpectedResult: false,
			Log:            merge(stoppedLog("988776655444", "StopLogging"), map[string]any{"errorCode": "AccessDenied"}),
		},
		{
			Name:           "CloudTrail was started",
			ExpectedResult: false,
			Log:            stoppedLog("988776655444", "StartLogging"),
		},
	}
	return r
}

// CloudTrailStoppedProd is the production-only variant of CloudTrailStopped.
func CloudTrailStoppedProd(base *rule.Rule, dir *cloud.Directory) *rule.Rule {
	r := rule.Derive(base, base.ID)
	err := r.ApplyOverride(map[string]any{
		"id":               "AWS.CloudTrailStopped.Prod",
		"display_name":     "CloudTrail Stopped in Production",
		"default_severity": rule.SeverityHigh,
		"runbook":          cloudTrailStoppedRunbook,
		"include_filters":  []rule.Filter{dir.ProductionFilter()},
		"tests": []rule.Test{
			{
				Name:             "Production trail stopped",
				ExpectedResult:   true,
				ExpectedSeverity: rule.Ptr(rule.SeverityHigh),
				Log:              stoppedLog("444556677788", "StopLogging"),
			},
			{
				Name:           "Non-production trail stopped",
				ExpectedResult: false,
				Log:            stoppedLog("123456789012", "StopLogging"),
			},
		},
	})
	if err != nil {
		panic(err)
	}
	return r
}
