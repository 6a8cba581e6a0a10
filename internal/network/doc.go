// Package network drives the kernel's link, address, route and policy-rule
// tables via netlink.
//
// # Overview
//
// The package is a set of small stores over a [Netlinker]: link inventory,
// address add-or-replace, per-link default routes and from/to policy rules.
// Each store is idempotent on add (an existing object is success) and the
// removal paths differ on purpose: address and rule removal is best-effort,
// route removal reports errors.
//
// # Routing tables
//
// Every link gets two private table numbers derived from its interface index:
//
//	RouteTable(base, idx) = base + 2*idx   holds the link's default route
//	RuleTable(base, idx)  = base + idx     referenced by the from/to rules
//
// # Dependencies
//
// Uses github.com/vishvananda/netlink for all netlink operations and
// github.com/safchain/ethtool for driver information.
package network
