package content

import (
	"context"
	"strings"
	"testing"

	"siem-detect/internal/cloud"
	"siem-detect/internal/engine"
	"siem-detect/internal/harness"
	"siem-detect/internal/rule"
	"siem-detect/internal/schema"
)

func TestRules_Tests(t *testing.T) {
	for _, r := range Rules(nil) {
		t.Run(r.ID, func(t *testing.T) {
			if len(r.Tests) == 0 {
				t.Fatal("rule declares no tests")
			}
			for _, res := range harness.Run(context.Background(), r) {
				if !res.Passed {
					t.Errorf("%s: %v", res.TestName, res.Err())
				}
			}
		})
	}
}

func TestRules_Valid(t *testing.T) {
	seen := make(map[string]bool)
	for _, r := range Rules(cloud.Default()) {
		if seen[r.ID] {
			t.Errorf("duplicate rule ID %q", r.ID)
		}
		seen[r.ID] = true
		if err := r.Validate(); err != nil {
			t.Errorf("Validate(%s) error = %v", r.ID, err)
		}
	}
	if len(seen) != 16 {
		t.Errorf("Rules() returned %d rules, want 16", len(seen))
	}
}

func TestRules_SignalOnly(t *testing.T) {
	signals := map[string]bool{
		"Custom.PantherAudit.SearchActivity": true,
		"mock_test_rule":                     true,
		"outside_mock_test":                  true,
	}
	for _, r := range Rules(nil) {
		if r.CreateAlert == signals[r.ID] {
			t.Errorf("%s: CreateAlert = %v", r.ID, r.CreateAlert)
		}
	}
}

func TestRules_Independent(t *testing.T) {
	a := Rules(nil)
	b := Rules(nil)
	a[0].Tags = append(a[0].Tags, "mutated")
	if b[0].HasTag("mutated") {
		t.Error("rule sets share state")
	}
}

func TestALBHighVol400s_EndToEnd(t *testing.T) {
	r := ALBHighVol400s()
	fields := map[string]any{
		"targetStatusCode": 429,
		"targetPort":       80,
		"domainName":       "example.com",
		"targetGroupArn":   "arn:aws:elasticloadbalancing:us-east-1:112233445566:targetgroup/web/1",
	}

	d := engine.Evaluate(r, schema.NewEvent(schema.LogTypeAWSALB, fields))
	if d == nil || !d.Matched {
		t.Fatalf("Evaluate() = %+v, want a match", d)
	}
	if !strings.Contains(d.Title, "example.com") || !strings.Contains(d.Title, "112233445566") {
		t.Errorf("Title = %q, want domain and account", d.Title)
	}

	delete(fields, "domainName")
	if d := engine.Evaluate(r, schema.NewEvent(schema.LogTypeAWSALB, fields)); d != nil && d.Matched {
		t.Error("Evaluate() matched without a domain")
	}
}

func TestRootLogin_AccountNames(t *testing.T) {
	dir := cloud.Default()
	base := ConsoleRootLogin(dir)
	prod := CloudTrailRootLoginProd(base, dir)

	tests := []struct {
		name      string
		rule      *rule.Rule
		account   string
		wantMatch bool
		wantTitle string
	}{
		{"prod rule, prod account", prod, "988776655444", true, "Root Login from [136.90.223.255] in account [Blue]"},
		{"prod rule, unknown account", prod, "123456789012", false, ""},
		{"base rule, unknown account", base, "123456789012", true, "Root Login from [136.90.223.255] in account [not found]"},
		{"base rule, second prod account", base, "444556677788", true, "Root Login from [136.90.223.255] in account [Red]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := schema.NewEvent(schema.LogTypeAWSCloudTrail, rootLoginLog(tt.account))
			d := engine.Evaluate(tt.rule, e)
			matched := d != nil && d.Matched
			if matched != tt.wantMatch {
				t.Fatalf("matched = %v, want %v", matched, tt.wantMatch)
			}
			if tt.wantMatch && d.Title != tt.wantTitle {
				t.Errorf("Title = %q, want %q", d.Title, tt.wantTitle)
			}
			if d != nil && d.Failed() {
				t.Errorf("unexpected errors: %v", d.Err())
			}
		})
	}
}

func TestRootLogin_CustomDirectory(t *testing.T) {
	dir, err := cloud.New(map[string][]cloud.Account{
		cloud.EnvProduction: {{ID: "111122223333", Name: "Prod"}},
	})
	if err != nil {
		t.Fatalf("cloud.New() error = %v", err)
	}
	prod := CloudTrailRootLoginProd(ConsoleRootLogin(dir), dir)

	d := engine.Evaluate(prod, schema.NewEvent(schema.LogTypeAWSCloudTrail, rootLoginLog("111122223333")))
	if d == nil || d.Title != "Root Login from [136.90.223.255] in account [Prod]" {
		t.Errorf("Evaluate() = %+v", d)
	}
	if d := engine.Evaluate(prod, schema.NewEvent(schema.LogTypeAWSCloudTrail, rootLoginLog("988776655444"))); d != nil {
		t.Error("default production account should not pass a custom directory")
	}
}

func TestMockTestRule_MocksDoNotLeak(t *testing.T) {
	r := MockTestRule()
	results := harness.Run(context.Background(), r)
	if len(results) != 4 {
		t.Fatalf("Run() returned %d results, want 4", len(results))
	}
	for _, res := range results {
		if !res.Passed {
			t.Errorf("%s: %v", res.TestName, res.Err())
		}
	}
	if got := r.ConfigValue("INSIDE").Array(); len(got) != 0 {
		t.Errorf("INSIDE = %v after run, want empty", got)
	}
}

func TestHostIDS_Derived(t *testing.T) {
	base := HostIDSBase()
	c2 := HostIDSCommandAndControl(base)
	malware := HostIDSMalware(base)

	if base.Threshold != 1 || c2.Threshold != 18 || malware.Threshold != 2 {
		t.Errorf("thresholds = %d/%d/%d", base.Threshold, c2.Threshold, malware.Threshold)
	}
	if got := base.ConfigValue("compromise_type").String(); got != "compromise" {
		t.Errorf("base compromise_type = %q after deriving", got)
	}
	if len(base.IncludeFilters) != 0 {
		t.Error("deriving added filters to the base rule")
	}

	e := schema.NewEvent(schema.LogTypeHostIDS, hostIDSLog("malware"))
	d := engine.Evaluate(malware, e)
	if d == nil || !d.Matched || d.Severity != rule.SeverityCritical {
		t.Fatalf("Evaluate(malware) = %+v", d)
	}
	if got := d.AlertContext["user"]; got != "groot" {
		t.Errorf("context user = %v, want groot", got)
	}
}

func TestGuardDutyFilters(t *testing.T) {
	tests := []struct {
		name      string
		fields    map[string]any
		discovery bool
		sensitive bool
	}{
		{"discovery finding", map[string]any{"type": "Discovery:S3/MaliciousIPCaller"}, true, false},
		{"other finding", map[string]any{"type": "UnauthorizedAccess:EC2/MaliciousIPCaller.Custom"}, false, false},
		{"secretsmanager call", map[string]any{
			"service": map[string]any{"action": map[string]any{"awsApiCallAction": map[string]any{"serviceName": "secretsmanager"}}},
		}, false, true},
		{"cloudwatch call", map[string]any{
			"service": map[string]any{"action": map[string]any{"awsApiCallAction": map[string]any{"serviceName": "cloudwatch"}}},
		}, false, false},
		{"missing type", map[string]any{}, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := schema.NewEvent(schema.LogTypeAWSGuardDuty, tt.fields)
			if got := IsDiscoveryFinding(e); got != tt.discovery {
				t.Errorf("IsDiscoveryFinding() = %v, want %v", got, tt.discovery)
			}
			if got := SensitiveServiceFilter(e); got != tt.sensitive {
				t.Errorf("SensitiveServiceFilter() = %v, want %v", got, tt.sensitive)
			}
		})
	}
}

func TestPantherUploadArtifacts_RequiresUsers(t *testing.T) {
	r := PantherUploadArtifacts()
	r.SetConfig("allowed_users", []string{})
	if err := r.Validate(); err == nil {
		t.Error("Validate() should reject an empty allowed_users")
	}
}

func TestArnAccount(t *testing.T) {
	tests := []struct {
		arn  string
		want string
	}{
		{"arn:aws:elasticloadbalancing:us-east-1:112233445566:targetgroup/web/1", "112233445566"},
		{"arn:aws:s3:::bucket", "unknown"},
		{"", "unknown"},
	}
	for _, tt := range tests {
		if got := arnAccount(tt.arn); got != tt.want {
			t.Errorf("arnAccount(%q) = %q, want %q", tt.arn, got, tt.want)
		}
	}
}
