//go:build !linux

package network

import (
	"fmt"

	"github.com/vishvananda/netlink"
)

// DefaultNetlinker is the default RealNetlinker instance (stub).
var DefaultNetlinker Netlinker = &RealNetlinker{}

// RealNetlinker is a stub implementation of Netlinker.
type RealNetlinker struct{}

var errUnsupported = fmt.Errorf("netlink not supported on this platform")

func (r *RealNetlinker) LinkList() ([]netlink.Link, error) { return nil, nil }

func (r *RealNetlinker) LinkByName(name string) (netlink.Link, error) {
	return nil, errUnsupported
}

func (r *RealNetlinker) LinkByIndex(index int) (netlink.Link, error) {
	return nil, errUnsupported
}

func (r *RealNetlinker) LinkSetUp(link netlink.Link) error           { return errUnsupported }
func (r *RealNetlinker) LinkSetMTU(link netlink.Link, mtu int) error { return errUnsupported }

func (r *RealNetlinker) AddrList(link netlink.Link, family int) ([]netlink.Addr, error) {
	return nil, nil
}

func (r *RealNetlinker) AddrReplace(link netlink.Link, addr *netlink.Addr) error {
	return errUnsupported
}

func (r *RealNetlinker) AddrDel(link netlink.Link, addr *netlink.Addr) error { return errUnsupported }

func (r *RealNetlinker) RouteList(link netlink.Link, family int) ([]netlink.Route, error) {
	return nil, nil
}

func (r *RealNetlinker) RouteAdd(route *netlink.Route) error { return errUnsupported }
func (r *RealNetlinker) RouteDel(route *netlink.Route) error { return errUnsupported }

func (r *RealNetlinker) RuleList(family int) ([]netlink.Rule, error) { return nil, nil }
func (r *RealNetlinker) RuleAdd(rule *netlink.Rule) error            { return errUnsupported }
func (r *RealNetlinker) RuleDel(rule *netlink.Rule) error            { return errUnsupported }
