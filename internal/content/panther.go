package content

import (
	"fmt"
	"time"

	"siem-detect/internal/rule"
	"siem-detect/internal/schema"
)

var pantherAdminActions = []any{
	// user management
	"CREATE_USER", "DELETE_USER", "UPDATE_USER",
	"CREATE_USER_ROLE", "DELETE_USER_ROLE", "UPDATE_USER_ROLE",
	"RESET_USER_PASSWORD",
	// authentication and access control
	"CREATE_API_TOKEN", "DELETE_API_TOKEN", "UPDATE_API_TOKEN",
	"CREATE_RSA_KEY", "UPDATE_SAML_SETTINGS", "GET_SAML_SETTINGS",
	// alert configuration
	"CREATE_ALERT_DESTINATION", "UPDATE_ALERT_DESTINATION", "DELETE_ALERT_DESTINATION",
	// system configuration
	"UPDATE_GENERAL_SETTINGS", "UPDATE_UNIVERSAL_SETTINGS",
	"GET_SUPPORT_LOGIN_CONFIG", "UPDATE_SUPPORT_LOGIN_SETTINGS",
	// cloud accounts
	"CREATE_CLOUD_ACCOUNT", "DELETE_CLOUD_ACCOUNT", "UPDATE_CLOUD_ACCOUNT",
	// detection packs
	"CREATE_DETECTION_PACK_SOURCE", "DELETE_DETECTION_PACK_SOURCE",
	"UPDATE_DETECTION_PACK_SOURCE", "UPDATE_DETECTION_PACK_STATE",
	// log sources
	"CREATE_LOG_SOURCE", "DELETE_LOG_SOURCE", "UPDATE_LOG_SOURCE",
}

var pantherSearchActions = []any{
	"EXECUTE_DATA_LAKE_QUERY", "EXECUTE_INDICATOR_SEARCH_QUERY", "EXECUTE_SIMPLE_SEARCH_QUERY",
	"EXECUTE_UBER_SEARCH", "EXECUTE_UBER_SEARCH_PROPERTY_SUMMARY",
	"GENERATE_DATA_LAKE_SQL_QUERY_SNIPPET", "GENERATE_SIMPLE_SEARCH_QUERY", "GENERATE_UBER_SEARCH_QUERY",
	"GET_DATA_LAKE_QUERY", "GET_DATA_LAKE_QUERY_SUMMARY", "GET_UBER_SEARCH", "GET_UBER_SEARCH_VISUALIZATION",
	"LIST_DATA_LAKE_QUERIES", "SUMMARIZE_DATA_LAKE_QUERY",
	"UBER_SEARCH_COLUMN_SUMMARY", "UBER_SEARCH_PROPERTY_SUMMARY", "UBER_SEARCH_TABLES",
	"DOWNLOAD_DATA_LAKE_QUERY", "DOWNLOAD_UBER_SEARCH_QUERY",
	"CANCEL_DATA_LAKE_QUERY", "CANCEL_UBER_SEARCH",
}

func pantherAuditLog(action, result, actor string) map[string]any {
	return map[string]any{
		"actionName":   action,
		"actionResult": result,
		"actor": map[string]any{
			"id":   "user123",
			"type": "USER",
			"name": actor,
		},
		"sourceIP":       "192.0.2.1",
		"userAgent":      "Mozilla/5.0",
		"timestamp":      "2024-02-07T00:00:00Z",
		"pantherVersion": "1.39.0",
	}
}

// PantherAdminActions detects administrative actions in Panther that could
// affect security or access control.
func PantherAdminActions() *rule.Rule {
	r := rule.New("Custom.PantherAudit.AdminActions", schema.LogTypePantherAudit)
	r.DisplayName = "Panther Administrative Actions"
	r.DefaultSeverity = rule.SeverityHigh
	r.DedupPeriod = 60 * time.Minute
	r.Tags = []string{"Compliance"}
	r.Reference = "https://docs.panther.com/system-configuration/panther-audit-logs"
	r.Description = "Detects when administrative actions are performed in Panther that could impact " +
		"system security or access controls."
	r.SetConfig("admin_actions", pantherAdminActions)

	r.Match = func(r *rule.Rule, e *schema.Event) bool {
		if !r.ConfigContains("admin_actions", e.Get("actionName").Interface()) {
			return false
		}
		switch e.Get("actionResult").StrOr("") {
		case "SUCCEEDED":
			return true
		case "FAILED", "PARTIALLY_FAILED":
			// Failures without errors are usually validation noise.
			return e.Get("errors").Truthy()
		}
		return false
	}
	r.Title = func(_ *rule.Rule, e *schema.Event) string {
		return fmt.Sprintf("Administrative Actions in Panther taken by [%s]", e.DeepGet("actor", "name"))
	}
	r.AlertContext = func(_ *rule.Rule, e *schema.Event) map[string]any {
		actor := e.Get("actor")
		return map[string]any{
			"action": map[string]any{
				"name":        e.Get("actionName").Interface(),
				"description": e.Get("actionDescription").Interface(),
				"result":      e.Get("actionResult").Interface(),
				"parameters":  e.Get("actionParams").Interface(),
				"details":     e.Get("actionDetails").Interface(),
			},
			"actor": map[string]any{
				"id":         actor.Get("id").Interface(),
				"type":       actor.Get("type").Interface(),
				"name":       actor.Get("name").Interface(),
				"attributes": actor.Get("attributes").Interface(),
			},
			"errors":          e.GetOr("errors", []any{}).Interface(),
			"source_ip":       e.UDM("source_ip").Interface(),
			"x_forwarded_for": e.GetOr("XForwardedFor", []any{}).Interface(),
			"user_agent":      e.UDM("user_agent").Interface(),
			"timestamp":       e.Get("timestamp").Interface(),
			"panther_version": e.Get("pantherVersion").Interface(),
		}
	}

	r.Tests = []rule.Test{
		{
			Name:           "Successful User Creation",
			ExpectedResult: true,
			ExpectedTitle:  rule.Ptr("Administrative Actions in Panther taken by [admin.user]"),
			Log:            pantherAuditLog("CREATE_USER", "SUCCEEDED", "admin.user"),
		},
		{
			Name:           "Failed SAML Settings Update",
			ExpectedResult: true,
			Log: merge(pantherAuditLog("UPDATE_SAML_SETTINGS", "FAILED", "security.admin"), map[string]any{
				"errors": []any{map[string]any{"message": "Invalid SAML certificate format"}},
			}),
		},
		{
			Name:           "Non-administrative Action",
			ExpectedResult: false,
			Log:            pantherAuditLog("LIST_USERS", "SUCCEEDED", "readonly.user"),
		},
		{
			Name:           "Failed Admin Action Without Errors",
			ExpectedResult: false,
			Log:            pantherAuditLog("CREATE_API_TOKEN", "FAILED", "service.account"),
		},
	}
	return r
}

// PantherUploadArtifacts records detection uploads by the allowed API
// tokens. It does not raise alerts on its own.
func PantherUploadArtifacts() *rule.Rule {
	r := rule.New("Custom.PantherAudit.UploadArtifacts", schema.LogTypePantherAudit)
	r.DefaultSeverity = rule.SeverityInfo
	r.Tags = []string{"Compliance"}
	r.SetConfig("allowed_users", []string{"new"})
	r.Required = []string{"allowed_users"}
	r.Validators = []rule.ConfigValidator{rule.RequireNonEmpty("allowed_users")}

	r.Match = func(r *rule.Rule, e *schema.Event) bool {
		return e.Get("actionName").Equal("BULK_UPLOAD_DETECTIONS") &&
			r.ConfigContains("allowed_users", e.DeepGet("actor", "name").Interface())
	}

	r.Tests = []rule.Test{
		{
			Name:           "Upload by an allowed token",
			ExpectedResult: true,
			Log:            pantherAuditLog("BULK_UPLOAD_DETECTIONS", "SUCCEEDED", "new"),
		},
		{
			Name:           "Upload by another user",
			ExpectedResult: false,
			Log:            pantherAuditLog("BULK_UPLOAD_DETECTIONS", "SUCCEEDED", "alice"),
		},
	}
	return r
}

// PantherRuleModificationOutsideCICD detects rule changes made by anyone
// other than the CI/CD service account.
func PantherRuleModificationOutsideCICD() *rule.Rule {
	r := rule.New("Custom.PantherAudit.RuleModificationOutsideCICD", schema.LogTypePantherAudit)
	r.DisplayName = "Panther Rule Modified Outside CICD"
	r.DefaultSeverity = rule.SeverityHigh
	r.DedupPeriod = 60 * time.Minute
	r.Tags = []string{"Panther", "CICD", "Change Management", "Security"}
	r.Reference = "https://docs.panther.com/guides/ci-cd"
	r.Description = "Detects when users modify Panther rules outside of the expected CICD process. " +
		"All rule changes should be made through version control and deployed via CICD."
	r.SetConfig("modification_actions", []string{
		"CREATE_RULE",
		"UPDATE_RULE_AND_FILTER",
		"BULK_UPLOAD_DETECTIONS",
		"UPDATE_DETECTION_STATE",
		"UPDATE_DETECTION_PACK_STATE",
	})
	r.SetConfig("authorized_cicd_users", []string{"api-token-cicd"})
	r.Required = []string{"modification_actions", "authorized_cicd_users"}
	r.Validators = []rule.ConfigValidator{rule.RequireNonEmpty("authorized_cicd_users")}

	r.Match = func(r *rule.Rule, e *schema.Event) bool {
		if !r.ConfigContains("modification_actions", e.Get("actionName").Interface()) {
			return false
		}
		return !r.ConfigContains("authorized_cicd_users", e.DeepGet("actor", "name").Interface())
	}
	r.Title = func(_ *rule.Rule, e *schema.Event) string {
		return fmt.Sprintf("Panther Rule Modified Outside CICD Process - %s by %s",
			e.Get("actionName"), e.DeepGet("actor", "name"))
	}
	r.Severity = func(_ *rule.Rule, e *schema.Event) rule.Severity {
		// Direct rule changes rank above state changes.
		if e.Get("actionName").In("CREATE_RULE", "UPDATE_RULE_AND_FILTER", "BULK_UPLOAD_DETECTIONS") {
			return rule.SeverityHigh
		}
		return rule.SeverityMedium
	}
	r.AlertContext = func(_ *rule.Rule, e *schema.Event) map[string]any {
		input := e.DeepGet("actionParams", "dynamic", "input")
		return map[string]any{
			"actor_name":        e.DeepGet("actor", "name").Interface(),
			"actor_email":       e.DeepGet("actor", "attributes", "email").Interface(),
			"actor_role":        e.DeepGet("actor", "attributes", "roleName").Interface(),
			"action":            e.Get("actionName").Interface(),
			"rule_id":           e.DeepGet("actionDetails", "addRule.id").Interface(),
			"rule_display_name": input.Get("displayName").Interface(),
			"log_types":         input.Get("logTypes").Interface(),
			"severity":          input.Get("severity").Interface(),
			"timestamp":         e.Get("timestamp").Interface(),
			"source_ip":         e.UDM("source_ip").Interface(),
			"user_agent":        e.UDM("user_agent").Interface(),
			"status":            e.Get("actionResult").Interface(),
		}
	}

	r.Tests = []rule.Test{
		{
			Name:             "Unauthorized Rule Creation",
			ExpectedResult:   true,
			ExpectedTitle:    rule.Ptr("Panther Rule Modified Outside CICD Process - CREATE_RULE by alice"),
			ExpectedSeverity: rule.Ptr(rule.SeverityHigh),
			Log: merge(pantherAuditLog("CREATE_RULE", "SUCCEEDED", "alice"), map[string]any{
				"requestParameters": map[string]any{
					"detectionIds":   []any{"Custom.Rule.Test"},
					"detectionTypes": []any{"RULE"},
				},
			}),
		},
		{
			Name:           "Authorized CICD Update",
			ExpectedResult: false,
			Log:            pantherAuditLog("BULK_UPLOAD_DETECTIONS", "SUCCEEDED", "api-token-cicd"),
		},
		{
			Name:             "Unauthorized Rule State Change",
			ExpectedResult:   true,
			ExpectedSeverity: rule.Ptr(rule.SeverityMedium),
			Log: merge(pantherAuditLog("UPDATE_DETECTION_STATE", "SUCCEEDED", "bob"), map[string]any{
				"requestParameters": map[string]any{"detectionIds": []any{"Custom.Rule.Test"}, "enabled": true},
			}),
		},
		{
			Name:           "Non-Rule Action",
			ExpectedResult: false,
			Log:            without(pantherAuditLog("LIST_DETECTIONS", "SUCCEEDED", "alice"), "userAgent"),
		},
	}
	return r
}

// PantherSearchActivity records search and query operations in Panther as
// signals. It never creates alerts.
func PantherSearchActivity() *rule.Rule {
	r := rule.New("Custom.PantherAudit.SearchActivity", schema.LogTypePantherAudit)
	r.DisplayName = "Panther Audit Log Search Activity"
	r.DefaultSeverity = rule.SeverityInfo
	r.CreateAlert = false
	r.Tags = []string{"Compliance"}
	r.Reference = "https://docs.panther.com/system-configuration/panther-audit-logs"
	r.Description = "Detects when users perform search or query operations in Panther."
	r.SetConfig("search_actions", pantherSearchActions)

	r.Match = func(r *rule.Rule, e *schema.Event) bool {
		return r.ConfigContains("search_actions", e.Get("actionName").Interface())
	}

	r.Tests = []rule.Test{
		{
			Name:           "Data Lake Query Execution",
			ExpectedResult: true,
			Log: merge(pantherAuditLog("EXECUTE_DATA_LAKE_QUERY", "SUCCEEDED", "analyst"), map[string]any{
				"requestParameters": map[string]any{"query": "SELECT * FROM data_lake.table LIMIT 10"},
			}),
		},
		{
			Name:           "Uber Search Execution",
			ExpectedResult: true,
			Log: merge(pantherAuditLog("EXECUTE_UBER_SEARCH", "SUCCEEDED", "analyst"), map[string]any{
				"requestParameters": map[string]any{"searchTerm": "error"},
			}),
		},
		{
			Name:           "Non-search Operation",
			ExpectedResult: false,
			Log:            pantherAuditLog("CREATE_USER", "SUCCEEDED", "admin"),
		},
	}
	return r
}
