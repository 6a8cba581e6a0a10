package network

import (
	"fmt"
	"net"
	"sort"

	"github.com/vishvananda/netlink"
)

// Link is one non-loopback interface as the kernel reports it.
type Link struct {
	Name      string `json:"name"`
	Index     int    `json:"ifindex"`
	MAC       string `json:"mac"`
	MTU       int    `json:"mtu"`
	OperState string `json:"oper_state"`
}

// IsUp reports whether the kernel considers the link operationally up.
func (l Link) IsUp() bool {
	return l.OperState == netlink.LinkOperState(netlink.OperUp).String()
}

// Links is the inventory of links keyed by MAC, rebuilt on every pass.
type Links struct {
	ByMAC map[string]Link `json:"links_by_mac"`
}

// NewLinks returns an empty inventory.
func NewLinks() Links {
	return Links{ByMAC: make(map[string]Link)}
}

// Len returns the number of links in the inventory.
func (l Links) Len() int {
	return len(l.ByMAC)
}

// Sorted returns the links ordered by interface index.
func (l Links) Sorted() []Link {
	out := make([]Link, 0, len(l.ByMAC))
	for _, link := range l.ByMAC {
		out = append(out, link)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// ByIndex finds a link by interface index.
func (l Links) ByIndex(idx int) (Link, bool) {
	for _, link := range l.ByMAC {
		if link.Index == idx {
			return link, true
		}
	}
	return Link{}, false
}

// Names returns the link names ordered by interface index.
func (l Links) Names() []string {
	sorted := l.Sorted()
	names := make([]string, len(sorted))
	for i, link := range sorted {
		names[i] = link.Name
	}
	return names
}

func linkFromNetlink(nl netlink.Link) Link {
	attrs := nl.Attrs()
	return Link{
		Name:      attrs.Name,
		Index:     attrs.Index,
		MAC:       attrs.HardwareAddr.String(),
		MTU:       attrs.MTU,
		OperState: attrs.OperState.String(),
	}
}

// Enumerate lists all non-loopback links that carry a hardware address.
func (m *Manager) Enumerate() (Links, error) {
	list, err := m.nl.LinkList()
	if err != nil {
		return Links{}, fmt.Errorf("failed to list links: %w", err)
	}

	links := NewLinks()
	for _, nl := range list {
		attrs := nl.Attrs()
		if attrs.Name == "lo" || attrs.Flags&net.FlagLoopback != 0 {
			continue
		}
		if len(attrs.HardwareAddr) == 0 {
			m.logger.Debug("skipping link without hardware address", "link", attrs.Name)
			continue
		}
		link := linkFromNetlink(nl)
		links.ByMAC[link.MAC] = link
	}
	return links, nil
}

// IndexByName resolves an interface name to its index.
func (m *Manager) IndexByName(name string) (int, error) {
	link, err := m.nl.LinkByName(name)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrLinkNotFound, name, err)
	}
	return link.Attrs().Index, nil
}

// NameByIndex resolves an interface index to its name.
func (m *Manager) NameByIndex(idx int) (string, error) {
	link, err := m.nl.LinkByIndex(idx)
	if err != nil {
		return "", fmt.Errorf("%w: ifindex %d: %v", ErrLinkNotFound, idx, err)
	}
	return link.Attrs().Name, nil
}

// SetUp brings the link up.
func (m *Manager) SetUp(idx int) error {
	link, err := m.nl.LinkByIndex(idx)
	if err != nil {
		return fmt.Errorf("%w: ifindex %d: %v", ErrLinkNotFound, idx, err)
	}
	err = m.nl.LinkSetUp(link)
	m.metrics.RecordKernelOp("link", "up", err)
	if err != nil {
		return fmt.Errorf("failed to bring up link %s: %w", link.Attrs().Name, err)
	}
	return nil
}

// SetMTU sets the link MTU.
func (m *Manager) SetMTU(idx, mtu int) error {
	link, err := m.nl.LinkByIndex(idx)
	if err != nil {
		return fmt.Errorf("%w: ifindex %d: %v", ErrLinkNotFound, idx, err)
	}
	err = m.nl.LinkSetMTU(link, mtu)
	m.metrics.RecordKernelOp("link", "mtu", err)
	if err != nil {
		return fmt.Errorf("failed to set mtu %d on link %s: %w", mtu, link.Attrs().Name, err)
	}
	return nil
}
