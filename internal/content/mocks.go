package content

import (
	"siem-detect/internal/rule"
	"siem-detect/internal/schema"
)

func blockedAzureLog() map[string]any {
	return map[string]any{"action": "Blocked", "internalIp": ""}
}

// MockTestRule shows the mock forms a test can use: replacing a config
// field, replacing a helper with a side effect, and fixing a helper's
// return value.
func MockTestRule() *rule.Rule {
	r := rule.New("mock_test_rule", schema.LogTypeAzureAudit)
	r.DisplayName = "Mock Test Rule"
	r.Description = "This rule provides an example of how to mock objects within a rule in rule tests."
	r.DefaultSeverity = rule.SeverityInfo
	r.CreateAlert = false
	r.SetConfig("INSIDE", []string{})
	r.SetHelper("inside", func(r *rule.Rule, _ *schema.Event) any {
		return r.ConfigValue("INSIDE").Interface()
	})

	r.Match = func(r *rule.Rule, e *schema.Event) bool {
		return r.Call("inside", e).Truthy()
	}

	r.Tests = []rule.Test{
		{
			Name:           "Mock new Test",
			ExpectedResult: true,
			Mocks:          []rule.Mock{{Name: "INSIDE", New: []string{"test"}}},
			Log:            blockedAzureLog(),
		},
		{
			Name:           "Mock side_effect Test",
			ExpectedResult: true,
			Mocks: []rule.Mock{{
				Name:       "inside",
				SideEffect: func(e *schema.Event) any { return e.Get("action").Equal("Blocked") },
			}},
			Log: blockedAzureLog(),
		},
		{
			Name:           "Mock return_value Test",
			ExpectedResult: true,
			Mocks:          []rule.Mock{{Name: "inside", ReturnValue: true}},
			Log:            blockedAzureLog(),
		},
		{
			Name:           "No mock",
			ExpectedResult: false,
			Log:            blockedAzureLog(),
		},
	}
	return r
}

// OutsideMockTest shows mocks replacing a value the rule reads through a
// shared helper rather than from its own logic.
func OutsideMockTest() *rule.Rule {
	r := rule.New("outside_mock_test", schema.LogTypeAzureAudit)
	r.DisplayName = "Outside Mock Test"
	r.Description = "This rule provides an example of how to mock objects outside of the rule in rule tests."
	r.DefaultSeverity = rule.SeverityInfo
	r.CreateAlert = false
	r.SetConfig("OUTSIDE", "outside")
	r.SetHelper("outside", func(r *rule.Rule, _ *schema.Event) any {
		return r.ConfigValue("OUTSIDE").Interface()
	})

	r.Match = func(r *rule.Rule, e *schema.Event) bool {
		return r.Call("outside", e).Equal("outside")
	}

	r.Tests = []rule.Test{
		{
			Name:           "Mock outside new",
			ExpectedResult: false,
			Mocks:          []rule.Mock{{Name: "OUTSIDE", New: "inside"}},
			Log:            blockedAzureLog(),
		},
		{
			Name:           "Mock outside return_value",
			ExpectedResult: false,
			Mocks:          []rule.Mock{{Name: "outside", ReturnValue: "inside"}},
			Log:            blockedAzureLog(),
		},
		{
			Name:           "Mock outside side_effect",
			ExpectedResult: false,
			Mocks: []rule.Mock{{
				Name:       "outside",
				SideEffect: func(*schema.Event) any { return "inside" },
			}},
			Log: blockedAzureLog(),
		},
		{
			Name:           "No mock",
			ExpectedResult: true,
			Log:            blockedAzureLog(),
		},
	}
	return r
}
