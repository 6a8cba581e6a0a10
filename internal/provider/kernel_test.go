package provider

import (
	"fmt"
	"net"
	"sync"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// fakeKernel is an in-memory Netlinker. It counts every call that
// changes kernel state.
type fakeKernel struct {
	mu        sync.Mutex
	links     []*netlink.Device
	addrs     map[int]map[string]netlink.Addr
	routes    []netlink.Route
	rules     []netlink.Rule
	mutations int
}

func newFakeKernel(links ...*netlink.Device) *fakeKernel {
	return &fakeKernel{links: links, addrs: make(map[int]map[string]netlink.Addr)}
}

func device(name string, idx int, mac string) *netlink.Device {
	hw, _ := net.ParseMAC(mac)
	return &netlink.Device{LinkAttrs: netlink.LinkAttrs{
		Name:         name,
		Index:        idx,
		HardwareAddr: hw,
		MTU:          1500,
		OperState:    netlink.OperUp,
	}}
}

func (k *fakeKernel) addMainRoute(idx int, dst, gw string) {
	r := netlink.Route{LinkIndex: idx, Gw: net.ParseIP(gw).To4(), Table: unix.RT_TABLE_MAIN}
	if dst != "" {
		_, r.Dst, _ = net.ParseCIDR(dst)
	}
	k.routes = append(k.routes, r)
}

func (k *fakeKernel) find(idx int) (*netlink.Device, error) {
	for _, l := range k.links {
		if l.Index == idx {
			return l, nil
		}
	}
	return nil, fmt.Errorf("no such device: %d", idx)
}

func (k *fakeKernel) LinkList() ([]netlink.Link, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]netlink.Link, len(k.links))
	for i, l := range k.links {
		cp := *l
		out[i] = &cp
	}
	return out, nil
}

func (k *fakeKernel) LinkByName(name string) (netlink.Link, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, l := range k.links {
		if l.Name == name {
			return l, nil
		}
	}
	return nil, fmt.Errorf("link %s not found", name)
}

func (k *fakeKernel) LinkByIndex(index int) (netlink.Link, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.find(index)
}

func (k *fakeKernel) LinkSetUp(link netlink.Link) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, err := k.find(link.Attrs().Index)
	if err != nil {
		return err
	}
	l.OperState = netlink.OperUp
	k.mutations++
	return nil
}

func (k *fakeKernel) LinkSetMTU(link netlink.Link, mtu int) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, err := k.find(link.Attrs().Index)
	if err != nil {
		return err
	}
	l.MTU = mtu
	k.mutations++
	return nil
}

func (k *fakeKernel) AddrList(link netlink.Link, family int) ([]netlink.Addr, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	var out []netlink.Addr
	for _, a := range k.addrs[link.Attrs().Index] {
		out = append(out, a)
	}
	return out, nil
}

func (k *fakeKernel) AddrReplace(link netlink.Link, addr *netlink.Addr) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	idx := link.Attrs().Index
	if k.addrs[idx] == nil {
		k.addrs[idx] = make(map[string]netlink.Addr)
	}
	key := addr.IPNet.String()
	if _, ok := k.addrs[idx][key]; !ok {
		k.mutations++
	}
	k.addrs[idx][key] = *addr
	return nil
}

func (k *fakeKernel) AddrDel(link netlink.Link, addr *netlink.Addr) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	idx := link.Attrs().Index
	key := addr.IPNet.String()
	if _, ok := k.addrs[idx][key]; !ok {
		return unix.EADDRNOTAVAIL
	}
	delete(k.addrs[idx], key)
	k.mutations++
	return nil
}

// RouteList with a nil link returns the main table, as netlink does.
func (k *fakeKernel) RouteList(link netlink.Link, family int) ([]netlink.Route, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	var out []netlink.Route
	for _, r := range k.routes {
		if r.Table == unix.RT_TABLE_MAIN {
			out = append(out, r)
		}
	}
	return out, nil
}

func (k *fakeKernel) routeIndex(route *netlink.Route) int {
	for i, r := range k.routes {
		if r.Table == route.Table && r.LinkIndex == route.LinkIndex && r.Dst == nil && route.Dst == nil {
			return i
		}
	}
	return -1
}

func (k *fakeKernel) RouteAdd(route *netlink.Route) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.routeIndex(route) >= 0 {
		return unix.EEXIST
	}
	k.routes = append(k.routes, *route)
	k.mutations++
	return nil
}

func (k *fakeKernel) RouteDel(route *netlink.Route) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	i := k.routeIndex(route)
	if i < 0 {
		return unix.ESRCH
	}
	k.routes = append(k.routes[:i], k.routes[i+1:]...)
	k.mutations++
	return nil
}

func (k *fakeKernel) tableRoutes(table int) []netlink.Route {
	k.mu.Lock()
	defer k.mu.Unlock()
	var out []netlink.Route
	for _, r := range k.routes {
		if r.Table == table {
			out = append(out, r)
		}
	}
	return out
}

func (k *fakeKernel) RuleList(family int) ([]netlink.Rule, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]netlink.Rule(nil), k.rules...), nil
}

func netString(n *net.IPNet) string {
	if n == nil {
		return ""
	}
	return n.String()
}

func (k *fakeKernel) ruleIndex(rule *netlink.Rule) int {
	for i, r := range k.rules {
		if r.Table == rule.Table && netString(r.Src) == netString(rule.Src) && netString(r.Dst) == netString(rule.Dst) {
			return i
		}
	}
	return -1
}

func (k *fakeKernel) RuleAdd(rule *netlink.Rule) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.ruleIndex(rule) >= 0 {
		return unix.EEXIST
	}
	k.rules = append(k.rules, *rule)
	k.mutations++
	return nil
}

func (k *fakeKernel) RuleDel(rule *netlink.Rule) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	i := k.ruleIndex(rule)
	if i < 0 {
		return unix.ENOENT
	}
	k.rules = append(k.rules[:i], k.rules[i+1:]...)
	k.mutations++
	return nil
}

// ruleStrings lists the kernel rules as "from|to ip table".
func (k *fakeKernel) ruleStrings() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	var out []string
	for _, r := range k.rules {
		switch {
		case r.Src != nil:
			out = append(out, fmt.Sprintf("from %s %d", r.Src.IP, r.Table))
		case r.Dst != nil:
			out = append(out, fmt.Sprintf("to %s %d", r.Dst.IP, r.Table))
		}
	}
	return out
}

func (k *fakeKernel) addressStrings(idx int) []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	var out []string
	for key := range k.addrs[idx] {
		out = append(out, key)
	}
	return out
}

func (k *fakeKernel) mutationCount() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.mutations
}
