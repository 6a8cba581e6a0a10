package network

import (
	"fmt"
	"net"
	"sort"
	"strings"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// AddressSet is a set of CIDR strings. Values carry no meaning.
type AddressSet map[string]bool

// NewAddressSet builds a set from the given CIDRs.
func NewAddressSet(cidrs ...string) AddressSet {
	s := make(AddressSet, len(cidrs))
	for _, c := range cidrs {
		s[c] = true
	}
	return s
}

// Sorted returns the members in lexical order.
func (s AddressSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Clone returns an independent copy.
func (s AddressSet) Clone() AddressSet {
	out := make(AddressSet, len(s))
	for c, v := range s {
		out[c] = v
	}
	return out
}

// ParseCIDR strictly parses "ip/prefix", keeping the host address.
func ParseCIDR(cidr string) (*netlink.Addr, error) {
	if !strings.Contains(cidr, "/") {
		return nil, fmt.Errorf("%w: %q: missing prefix length", ErrInvalidCIDR, cidr)
	}
	ip, ipNet, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidCIDR, cidr, err)
	}
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	return &netlink.Addr{IPNet: &net.IPNet{IP: ip, Mask: ipNet.Mask}}, nil
}

// HostIP returns the address part of a CIDR, prefix stripped.
func HostIP(cidr string) string {
	if i := strings.IndexByte(cidr, '/'); i >= 0 {
		return cidr[:i]
	}
	return cidr
}

// AddOrReplaceAddress installs cidr on the named link with replace
// semantics. An existing identical address is success.
func (m *Manager) AddOrReplaceAddress(ifName, cidr string) error {
	addr, err := ParseCIDR(cidr)
	if err != nil {
		return err
	}

	link, err := m.nl.LinkByName(ifName)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrLinkNotFound, ifName, err)
	}

	err = m.nl.AddrReplace(link, addr)
	if isExist(err) {
		err = nil
	}
	m.metrics.RecordKernelOp("address", "replace", err)
	if err != nil {
		return fmt.Errorf("failed to add address %s on %s: %w", cidr, ifName, err)
	}
	return nil
}

// RemoveAddress deletes cidr from the named link. Kernel errors are logged
// and swallowed; an address already gone is not a failure.
func (m *Manager) RemoveAddress(ifName, cidr string) error {
	addr, err := ParseCIDR(cidr)
	if err != nil {
		return err
	}

	link, err := m.nl.LinkByName(ifName)
	if err != nil {
		m.logger.Debug("link gone, skipping address removal", "link", ifName, "address", cidr, "error", err)
		return nil
	}

	err = m.nl.AddrDel(link, addr)
	m.metrics.RecordKernelOp("address", "delete", err)
	if err != nil {
		m.logger.Debug("ignoring address removal failure", "link", ifName, "address", cidr, "error", err)
	}
	return nil
}

// IPv4Addresses returns the IPv4 CIDRs currently configured on a link.
func (m *Manager) IPv4Addresses(ifName string) (AddressSet, error) {
	link, err := m.nl.LinkByName(ifName)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLinkNotFound, ifName, err)
	}
	addrs, err := m.nl.AddrList(link, unix.AF_INET)
	if err != nil {
		return nil, fmt.Errorf("failed to list addresses on %s: %w", ifName, err)
	}
	set := make(AddressSet, len(addrs))
	for _, a := range addrs {
		if a.IPNet == nil {
			continue
		}
		set[a.IPNet.String()] = true
	}
	return set, nil
}
