package network

import (
	"fmt"
	"net"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// RoutingPolicyRule is a from or to /32 rule pointing at a table.
// Exactly one of From and To is set.
type RoutingPolicyRule struct {
	From  net.IP `json:"from,omitempty"`
	To    net.IP `json:"to,omitempty"`
	Table int    `json:"table"`
}

// FromRule selects traffic sourced from ip.
func FromRule(ip net.IP, table int) RoutingPolicyRule {
	return RoutingPolicyRule{From: ip, Table: table}
}

// ToRule selects traffic destined to ip.
func ToRule(ip net.IP, table int) RoutingPolicyRule {
	return RoutingPolicyRule{To: ip, Table: table}
}

func hostNet(ip net.IP) *net.IPNet {
	if v4 := ip.To4(); v4 != nil {
		return &net.IPNet{IP: v4, Mask: net.CIDRMask(32, 32)}
	}
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(128, 128)}
}

func (r RoutingPolicyRule) netlinkRule() *netlink.Rule {
	rule := netlink.NewRule()
	rule.Family = unix.AF_INET
	rule.Table = r.Table
	if r.From != nil {
		rule.Src = hostNet(r.From)
	}
	if r.To != nil {
		rule.Dst = hostNet(r.To)
	}
	return rule
}

func (r RoutingPolicyRule) String() string {
	switch {
	case r.From != nil:
		return fmt.Sprintf("from %s lookup %d", r.From, r.Table)
	case r.To != nil:
		return fmt.Sprintf("to %s lookup %d", r.To, r.Table)
	}
	return fmt.Sprintf("lookup %d", r.Table)
}

// ipMatches treats both-absent as a match and both-present as a match
// only when the addresses are equal.
func ipMatches(want net.IP, got *net.IPNet) bool {
	switch {
	case want == nil && got == nil:
		return true
	case want == nil || got == nil:
		return false
	}
	return want.Equal(got.IP)
}

// RuleExists scans the kernel's IPv4 rules in r.Table for an exact
// from/to match.
func (m *Manager) RuleExists(r RoutingPolicyRule) (bool, error) {
	rules, err := m.nl.RuleList(unix.AF_INET)
	if err != nil {
		return false, fmt.Errorf("failed to list rules: %w", err)
	}
	for _, kr := range rules {
		if kr.Table != r.Table {
			continue
		}
		if ipMatches(r.From, kr.Src) && ipMatches(r.To, kr.Dst) {
			return true, nil
		}
	}
	return false, nil
}

// PolicyRoutingEnabled reports whether the host has at least two
// non-loopback links. Policy rules are only installed when it does.
func (m *Manager) PolicyRoutingEnabled() (bool, error) {
	links, err := m.Enumerate()
	if err != nil {
		return false, err
	}
	return links.Len() >= 2, nil
}

// AddRule installs r unless the host has a single uplink or the rule is
// already present. applied reports whether r is now in the kernel.
func (m *Manager) AddRule(r RoutingPolicyRule) (applied bool, err error) {
	enabled, err := m.PolicyRoutingEnabled()
	if err != nil {
		return false, err
	}
	if !enabled {
		m.logger.Debug("single uplink host, skipping policy rule", "rule", r.String())
		return false, nil
	}

	exists, err := m.RuleExists(r)
	if err != nil {
		return false, err
	}
	if exists {
		return true, nil
	}

	err = m.nl.RuleAdd(r.netlinkRule())
	if isExist(err) {
		err = nil
	}
	m.metrics.RecordKernelOp("rule", "add", err)
	if err != nil {
		return false, fmt.Errorf("failed to add rule %s: %w", r, err)
	}
	return true, nil
}

// RemoveRule deletes r. Errors are logged and swallowed.
func (m *Manager) RemoveRule(r RoutingPolicyRule) {
	err := m.nl.RuleDel(r.netlinkRule())
	m.metrics.RecordKernelOp("rule", "delete", err)
	if err != nil {
		m.logger.Debug("ignoring rule removal failure", "rule", r.String(), "error", err)
	}
}
