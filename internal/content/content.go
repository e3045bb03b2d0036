// Package content ships the built-in detection rules. Every constructor
// returns a fresh rule, so callers may tune the result without affecting
// other copies.
package content

import (
	"sort"

	"siem-detect/internal/cloud"
	"siem-detect/internal/rule"
)

// Rules returns the built-in rule set. Account lookups use dir; a nil dir
// uses the built-in account directory.
func Rules(dir *cloud.Directory) []*rule.Rule {
	if dir == nil {
		dir = cloud.Default()
	}

	rootLogin := ConsoleRootLogin(dir)
	stopped := CloudTrailStopped(dir)
	hostBase := HostIDSBase()

	rules := []*rule.Rule{
		ALBHighVol400s(),
		rootLogin,
		CloudTrailRootLoginProd(rootLogin, dir),
		stopped,
		CloudTrailStoppedProd(stopped, dir),
		GuardDutyHighVolFindings(),
		hostBase,
		HostIDSCommandAndControl(hostBase),
		HostIDSMalware(hostBase),
		PantherAdminActions(),
		PantherUploadArtifacts(),
		PantherRuleModificationOutsideCICD(),
		PantherSearchActivity(),
		GoogleWorkspaceNonPasskeyLogin(),
		MockTestRule(),
		OutsideMockTest(),
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules
}

// merge returns a copy of base with overrides applied on top.
func merge(base map[string]any, overrides map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(overrides))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

// without returns a copy of m without keys.
func without(m map[string]any, keys ...string) map[string]any {
	out := merge(m, nil)
	for _, k := range keys {
		delete(out, k)
	}
	return out
}
