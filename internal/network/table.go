package network

// DefaultTableBase is the table number offset used when none is configured.
const DefaultTableBase = 9999

// RouteTable is the table holding the default route for a link.
func RouteTable(base, idx int) int {
	return base + idx + idx
}

// RuleTable is the table referenced by a link's from/to policy rules.
func RuleTable(base, idx int) int {
	return base + idx
}
