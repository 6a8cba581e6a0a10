package network

import (
	"fmt"
	"net"
)

// ConfigureByIndex gives a link that is not described by cloud metadata
// its own route table and from/to rules, using whatever gateway and IPv4
// addresses the kernel already has for it.
func (m *Manager) ConfigureByIndex(base, idx int) error {
	gw, err := m.ResolveGateway(idx, nil)
	if err != nil {
		return err
	}
	if err := m.AddRoute(Route{Table: RouteTable(base, idx), LinkIndex: idx, Gw: gw}); err != nil {
		return err
	}

	name, err := m.NameByIndex(idx)
	if err != nil {
		return err
	}
	addrs, err := m.IPv4Addresses(name)
	if err != nil {
		return err
	}

	table := RuleTable(base, idx)
	for _, cidr := range addrs.Sorted() {
		ip := net.ParseIP(HostIP(cidr))
		if _, err := m.AddRule(FromRule(ip, table)); err != nil {
			return err
		}
		if _, err := m.AddRule(ToRule(ip, table)); err != nil {
			return err
		}
	}
	return nil
}

// ConfigureSupplementary runs ConfigureByIndex for each named link.
// Names that do not resolve are skipped.
func (m *Manager) ConfigureSupplementary(base int, names []string) error {
	for _, name := range names {
		idx, err := m.IndexByName(name)
		if err != nil {
			m.logger.Debug("supplementary link not found, ignoring", "link", name, "error", err)
			continue
		}
		if err := m.ConfigureByIndex(base, idx); err != nil {
			m.logger.Error("failed to configure supplementary link", "link", name, "ifindex", idx, "error", err)
			return fmt.Errorf("supplementary link %s: %w", name, err)
		}
		m.logger.Debug("configured supplementary link", "link", name, "ifindex", idx)
	}
	return nil
}
