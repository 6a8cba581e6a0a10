package network

import (
	"fmt"
	"net"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// Route is the per-link default route installed in the link's route table.
type Route struct {
	Table     int    `json:"table"`
	LinkIndex int    `json:"ifindex"`
	Gw        net.IP `json:"gateway"`
}

func (r Route) netlinkRoute() *netlink.Route {
	return &netlink.Route{
		LinkIndex: r.LinkIndex,
		Gw:        r.Gw,
		Table:     r.Table,
	}
}

// AddRoute installs the route. An existing route is success.
func (m *Manager) AddRoute(r Route) error {
	err := m.nl.RouteAdd(r.netlinkRoute())
	if isExist(err) {
		m.logger.Debug("route already present", "table", r.Table, "ifindex", r.LinkIndex, "gateway", r.Gw)
		err = nil
	}
	m.metrics.RecordKernelOp("route", "add", err)
	if err != nil {
		return fmt.Errorf("failed to add default route via %s to table %d: %w", r.Gw, r.Table, err)
	}
	return nil
}

// RemoveRoute deletes the route. Unlike address and rule removal, errors
// are returned: a tracked route is expected to exist.
func (m *Manager) RemoveRoute(r Route) error {
	err := m.nl.RouteDel(r.netlinkRoute())
	m.metrics.RecordKernelOp("route", "delete", err)
	if err != nil {
		return fmt.Errorf("failed to remove default route via %s from table %d: %w", r.Gw, r.Table, err)
	}
	return nil
}

func isDefault(r netlink.Route) bool {
	if r.Dst == nil {
		return true
	}
	ones, _ := r.Dst.Mask.Size()
	return ones == 0
}

func ipv4Gateway(r netlink.Route) net.IP {
	if r.Gw == nil {
		return nil
	}
	return r.Gw.To4()
}

func (m *Manager) mainRoutes() ([]netlink.Route, error) {
	routes, err := m.nl.RouteList(nil, unix.AF_INET)
	if err != nil {
		return nil, fmt.Errorf("failed to list routes: %w", err)
	}
	return routes, nil
}

// DefaultGatewayByLink returns the gateway of a default route leaving via idx.
func (m *Manager) DefaultGatewayByLink(idx int) (net.IP, error) {
	routes, err := m.mainRoutes()
	if err != nil {
		return nil, err
	}
	for _, r := range routes {
		if r.LinkIndex != idx || !isDefault(r) {
			continue
		}
		if gw := ipv4Gateway(r); gw != nil {
			return gw, nil
		}
	}
	return nil, fmt.Errorf("%w: no default route on ifindex %d", ErrNoGateway, idx)
}

// GatewayByLink returns the gateway of any route leaving via idx.
func (m *Manager) GatewayByLink(idx int) (net.IP, error) {
	routes, err := m.mainRoutes()
	if err != nil {
		return nil, err
	}
	for _, r := range routes {
		if r.LinkIndex != idx {
			continue
		}
		if gw := ipv4Gateway(r); gw != nil {
			return gw, nil
		}
	}
	return nil, fmt.Errorf("%w: no route with a gateway on ifindex %d", ErrNoGateway, idx)
}

// DefaultGateway returns the host's system default gateway.
func (m *Manager) DefaultGateway() (net.IP, error) {
	routes, err := m.mainRoutes()
	if err != nil {
		return nil, err
	}
	for _, r := range routes {
		if !isDefault(r) {
			continue
		}
		if gw := ipv4Gateway(r); gw != nil {
			return gw, nil
		}
	}
	return nil, fmt.Errorf("%w: no system default route", ErrNoGateway)
}

// ResolveGateway picks the gateway for a link. The first source that
// answers wins: explicit, the link's default route, any route on the
// link, the system default route.
func (m *Manager) ResolveGateway(idx int, explicit net.IP) (net.IP, error) {
	if explicit != nil {
		return explicit, nil
	}
	lookups := []func() (net.IP, error){
		func() (net.IP, error) { return m.DefaultGatewayByLink(idx) },
		func() (net.IP, error) { return m.GatewayByLink(idx) },
		m.DefaultGateway,
	}
	for _, lookup := range lookups {
		if gw, err := lookup(); err == nil {
			return gw, nil
		}
	}
	return nil, fmt.Errorf("%w for ifindex %d", ErrNoGateway, idx)
}
