package content

import (
	"fmt"
	"strings"
	"time"

	"siem-detect/internal/rule"
	"siem-detect/internal/schema"
)

func gworkspaceLoginLog(loginType string, methods ...string) map[string]any {
	params := map[string]any{"login_type": loginType}
	if len(methods) > 0 {
		params["login_challenge_method"] = methods
		params["is_second_factor"] = false
		params["login_challenge_status"] = "passed"
	}
	return map[string]any{
		"id":         map[string]any{"applicationName": "login"},
		"actor":      map[string]any{"email": "user@example.com"},
		"parameters": params,
		"ipAddress":  "192.0.2.1",
		"name":       "login_verification",
	}
}

// GoogleWorkspaceNonPasskeyLogin detects Google Workspace logins that did
// not use a passkey. Reauthentication is ignored.
func GoogleWorkspaceNonPasskeyLogin() *rule.Rule {
	r := rule.New("Custom.GoogleWorkspace.NonPasskeyLogin", schema.LogTypeGSuiteActivityEvent)
	r.DisplayName = "Google Workspace Login Without Passkey"
	r.DefaultSeverity = rule.SeverityLow
	r.DedupPeriod = 60 * time.Minute
	r.Tags = []string{"Google Workspace", "Login", "Security", "Passkey"}
	r.Reference = "https://developers.google.com/admin-sdk/audit/reference/rest/v1/activities"
	r.Description = "Detects when users log in to Google Workspace without using a passkey."

	r.Match = func(_ *rule.Rule, e *schema.Event) bool {
		if !e.DeepGet("id", "applicationName").Equal("login") {
			return false
		}
		if e.DeepGet("parameters", "login_type").Equal("reauth") {
			return false
		}
		for _, m := range e.DeepGet("parameters", "login_challenge_method").Strings() {
			if m == "passkey" {
				return false
			}
		}
		return true
	}
	r.Title = func(_ *rule.Rule, e *schema.Event) string {
		methods := "unknown"
		if m := e.DeepGet("parameters", "login_challenge_method").Strings(); len(m) > 0 {
			methods = strings.Join(m, ", ")
		}
		return fmt.Sprintf("Non-Passkey Login Detected - [%s] using %s", e.DeepGet("actor", "email"), methods)
	}
	r.AlertContext = func(_ *rule.Rule, e *schema.Event) map[string]any {
		return map[string]any{
			"ip_address":              e.UDM("source_ip").Interface(),
			"login_type":              e.Get("name").Interface(),
			"user_email":              e.UDM("actor_user").Interface(),
			"login_challenge_methods": e.DeepGetOr([]any{}, "parameters", "login_challenge_method").Interface(),
			"is_second_factor":        e.DeepGetOr(false, "parameters", "is_second_factor").Interface(),
			"login_challenge_status":  e.DeepGet("parameters", "login_challenge_status").Interface(),
		}
	}

	r.Tests = []rule.Test{
		{
			Name:           "Password Login",
			ExpectedResult: true,
			ExpectedTitle:  rule.Ptr("Non-Passkey Login Detected - [user@example.com] using unknown"),
			Log:            gworkspaceLoginLog("google_password"),
		},
		{
			Name:           "Password and TOTP Login",
			ExpectedResult: true,
			ExpectedTitle:  rule.Ptr("Non-Passkey Login Detected - [user@example.com] using password, totp"),
			Log:            gworkspaceLoginLog("google_password", "password", "totp"),
		},
		{
			Name:           "Passkey Login",
			ExpectedResult: false,
			Log:            gworkspaceLoginLog("google_password", "passkey"),
		},
		{
			Name:           "Reauth Event",
			ExpectedResult: false,
			Log:            gworkspaceLoginLog("reauth", "password"),
		},
		{
			Name:           "Non-login Event",
			ExpectedResult: false,
			Log: map[string]any{
				"id":         map[string]any{"applicationName": "drive"},
				"actor":      map[string]any{"email": "user@example.com"},
				"parameters": map[string]any{"browser": "Chrome", "device_type": "desktop"},
				"ipAddress":  "192.0.2.1",
				"name":       "file_access",
			},
		},
	}
	return r
}
