package network

import (
	"errors"
	"strings"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"grimm.is/cloudnet/internal/logging"
	"grimm.is/cloudnet/internal/metrics"
)

var (
	// ErrNoGateway is returned when every gateway lookup for a link fails.
	ErrNoGateway = errors.New("no gateway found")
	// ErrInvalidCIDR is returned for addresses that are not ip/prefix.
	ErrInvalidCIDR = errors.New("invalid CIDR")
	// ErrLinkNotFound is returned when a name or index has no link.
	ErrLinkNotFound = errors.New("link not found")
)

// Netlinker is an interface that abstracts netlink interactions.
type Netlinker interface {
	LinkList() ([]netlink.Link, error)
	LinkByName(name string) (netlink.Link, error)
	LinkByIndex(index int) (netlink.Link, error)
	LinkSetUp(link netlink.Link) error
	LinkSetMTU(link netlink.Link, mtu int) error

	AddrList(link netlink.Link, family int) ([]netlink.Addr, error)
	AddrReplace(link netlink.Link, addr *netlink.Addr) error
	AddrDel(link netlink.Link, addr *netlink.Addr) error

	RouteList(link netlink.Link, family int) ([]netlink.Route, error)
	RouteAdd(route *netlink.Route) error
	RouteDel(route *netlink.Route) error

	RuleList(family int) ([]netlink.Rule, error)
	RuleAdd(rule *netlink.Rule) error
	RuleDel(rule *netlink.Rule) error
}

// Manager owns the kernel-facing stores.
type Manager struct {
	nl      Netlinker
	logger  *logging.Logger
	metrics *metrics.Registry
}

// NewManager creates a manager backed by the real netlink package.
func NewManager() *Manager {
	return NewManagerWithDeps(DefaultNetlinker)
}

// NewManagerWithDeps creates a new manager with injected dependencies.
func NewManagerWithDeps(nl Netlinker) *Manager {
	return &Manager{
		nl:      nl,
		logger:  logging.WithComponent("network"),
		metrics: metrics.Get(),
	}
}

// isExist reports whether err is the kernel's "File exists" answer.
func isExist(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, unix.EEXIST) || strings.Contains(err.Error(), "file exists")
}
