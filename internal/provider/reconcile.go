package provider

import (
	"context"
	"errors"
	"fmt"
	"net"

	"grimm.is/cloudnet/internal/logging"
	"grimm.is/cloudnet/internal/network"
)

// Configure reconciles one link against its desired state.
func (e *Environment) Configure(ctx context.Context, link network.Link, addrs network.AddressSet, gw net.IP, mtu int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.configure(ctx, e.logger, link, addrs, gw, mtu)
}

// configureAll reconciles every link in the refreshed inventory. Errors
// on one link do not stop the others.
func (e *Environment) configureAll(ctx context.Context, logger *logging.Logger) error {
	var errs []error
	for _, link := range e.Links.Sorted() {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		desired, _ := e.snapshot.Lookup(link.MAC)
		if err := e.configure(ctx, logger, link, desired.Addresses, desired.Gateway, desired.MTU); err != nil {
			e.metrics.LinkErrors.WithLabelValues(link.Name).Inc()
			errs = append(errs, fmt.Errorf("link %s: %w", link.Name, err))
		}
	}
	e.forgetVanishedLinks(logger)
	return errors.Join(errs...)
}

func (e *Environment) configure(_ context.Context, logger *logging.Logger, link network.Link, addrs network.AddressSet, gw net.IP, mtu int) error {
	logger = logger.WithFields(map[string]any{"link": link.Name, "mac": link.MAC})
	idx := link.Index
	ruleTable := network.RuleTable(e.RouteTableBase, idx)

	var errs []error
	if len(addrs) > 0 {
		if !link.IsUp() {
			if err := e.net.SetUp(idx); err != nil {
				return err
			}
		}
		if mtu > 0 && mtu != link.MTU {
			if err := e.net.SetMTU(idx, mtu); err != nil {
				return err
			}
		}

		desired := addrs.Sorted()
		for _, cidr := range desired {
			if err := e.net.AddOrReplaceAddress(link.Name, cidr); err != nil {
				return err
			}
		}

		if err := e.installRoute(idx, gw); err != nil {
			logger.Warn("route step abandoned", "error", err)
			errs = append(errs, err)
		}

		for _, cidr := range desired {
			if err := e.installRules(net.ParseIP(network.HostIP(cidr)), ruleTable); err != nil {
				errs = append(errs, err)
			}
		}
	}

	errs = append(errs, e.retract(logger, link, addrs)...)

	if len(addrs) == 0 {
		delete(e.AddressesByMAC, link.MAC)
	} else {
		e.AddressesByMAC[link.MAC] = addrs.Clone()
	}
	return errors.Join(errs...)
}

func (e *Environment) installRoute(idx int, explicit net.IP) error {
	gw, err := e.net.ResolveGateway(idx, explicit)
	if err != nil {
		return err
	}
	route := network.Route{Table: network.RouteTable(e.RouteTableBase, idx), LinkIndex: idx, Gw: gw}
	if err := e.net.AddRoute(route); err != nil {
		return err
	}
	e.RoutesByIndex[idx] = route
	return nil
}

// installRules adds the from/to pair for ip. Each rule is recorded only
// when the rule store reports it is in the kernel. A pair tracked for
// another table belongs to the link the address moved from and is
// removed first.
func (e *Environment) installRules(ip net.IP, table int) error {
	key := ip.String()
	if err := e.installRule(e.RulesByAddressFrom, key, network.FromRule(ip, table)); err != nil {
		return err
	}
	return e.installRule(e.RulesByAddressTo, key, network.ToRule(ip, table))
}

func (e *Environment) installRule(tracked map[string]network.RoutingPolicyRule, key string, rule network.RoutingPolicyRule) error {
	if old, ok := tracked[key]; ok && old.Table != rule.Table {
		e.net.RemoveRule(old)
		delete(tracked, key)
	}
	applied, err := e.net.AddRule(rule)
	if err != nil {
		return err
	}
	if applied {
		tracked[key] = rule
	}
	return nil
}

// retract removes every address recorded for the link last pass that
// is absent from addrs, along with its rules, and the link's route once
// nothing references the link's rule table.
func (e *Environment) retract(logger *logging.Logger, link network.Link, addrs network.AddressSet) []error {
	previous, ok := e.AddressesByMAC[link.MAC]
	if !ok {
		return nil
	}

	var errs []error
	ruleTable := network.RuleTable(e.RouteTableBase, link.Index)
	for _, cidr := range previous.Sorted() {
		if addrs[cidr] {
			continue
		}
		logger.Info("retracting address", "address", cidr)

		e.releaseRules(network.HostIP(cidr), ruleTable)

		if err := e.net.RemoveAddress(link.Name, cidr); err != nil {
			errs = append(errs, err)
		}

		route, tracked := e.RoutesByIndex[link.Index]
		if !tracked || e.ruleTableInUse(ruleTable) || !e.routeReleasable(addrs) {
			continue
		}
		if err := e.net.RemoveRoute(route); err != nil {
			errs = append(errs, err)
			continue
		}
		delete(e.RoutesByIndex, link.Index)
	}
	return errs
}

// releaseRules removes the pair tracked for ip when it points at table.
// A pair for another table was taken over by the link the address moved
// to.
func (e *Environment) releaseRules(ip string, table int) {
	for _, tracked := range []map[string]network.RoutingPolicyRule{e.RulesByAddressFrom, e.RulesByAddressTo} {
		if r, ok := tracked[ip]; ok && r.Table == table {
			e.net.RemoveRule(r)
			delete(tracked, ip)
		}
	}
}

func (e *Environment) ruleTableInUse(table int) bool {
	for _, m := range []map[string]network.RoutingPolicyRule{e.RulesByAddressFrom, e.RulesByAddressTo} {
		for _, r := range m {
			if r.Table == table {
				return true
			}
		}
	}
	return false
}

// routeReleasable reports whether a route with no rules left may go.
// Single-uplink hosts never record rules, so there the route follows
// the link's address set instead.
func (e *Environment) routeReleasable(addrs network.AddressSet) bool {
	if e.Links.Len() >= 2 {
		return true
	}
	return len(addrs) == 0
}

// forgetVanishedLinks drops bookkeeping for links no longer present on
// the host. The kernel took their addresses and routes with the link,
// but policy rules outlive it, so rules pointing at a table no present
// link owns are removed.
func (e *Environment) forgetVanishedLinks(logger *logging.Logger) {
	live := make(map[int]bool, e.Links.Len())
	for _, link := range e.Links.ByMAC {
		live[network.RuleTable(e.RouteTableBase, link.Index)] = true
	}

	for mac, set := range e.AddressesByMAC {
		if _, ok := e.Links.ByMAC[mac]; ok {
			continue
		}
		logger.Info("forgetting state for vanished link", "mac", mac)
		for cidr := range set {
			key := network.HostIP(cidr)
			for _, tracked := range []map[string]network.RoutingPolicyRule{e.RulesByAddressFrom, e.RulesByAddressTo} {
				if r, ok := tracked[key]; ok && !live[r.Table] {
					e.net.RemoveRule(r)
					delete(tracked, key)
				}
			}
		}
		delete(e.AddressesByMAC, mac)
	}
	for idx := range e.RoutesByIndex {
		if _, ok := e.Links.ByIndex(idx); !ok {
			delete(e.RoutesByIndex, idx)
		}
	}
}
