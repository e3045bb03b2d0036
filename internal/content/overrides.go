package content

import (
	"siem-detect/internal/cloud"
	"siem-detect/internal/manager"
	"siem-detect/internal/rule"
	"siem-detect/internal/schema"
)

// Filters returns the named filters override documents may reference.
func Filters(dir *cloud.Directory) map[string]rule.Filter {
	if dir == nil {
		dir = cloud.Default()
	}
	return map[string]rule.Filter{
		"production":                  dir.ProductionFilter("recipientAccountId"),
		"production_guardduty":        dir.ProductionFilter("accountId"),
		"guardduty_discovery":         IsDiscoveryFinding,
		"guardduty_sensitive_service": SensitiveServiceFilter,
	}
}

// RegisterFilters makes Filters(dir) available to m's override documents.
func RegisterFilters(m *manager.Manager, dir *cloud.Directory) {
	for name, f := range Filters(dir) {
		m.RegisterFilter(name, f)
	}
}

// TuneGuardDuty narrows every GuardDuty rule in m to findings against
// sensitive services and drops Discovery findings. It returns the number of
// rules tuned.
func TuneGuardDuty(m *manager.Manager) int {
	n := m.ExcludeBulk(schema.LogTypeAWSGuardDuty, IsDiscoveryFinding)
	m.IncludeBulk(schema.LogTypeAWSGuardDuty, SensitiveServiceFilter)
	return n
}
