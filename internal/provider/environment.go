// Package provider owns the Environment: the record of what the daemon
// last installed in the kernel, and the reconciliation pass that moves
// the kernel from that record to what cloud metadata now describes.
//
// A pass is acquire (refresh the link inventory, fetch metadata),
// configure (reconcile every link) and save (persist snapshots and the
// baseline). All three run under the Environment mutex, which Status
// also takes, so at most one pass is ever in flight and readers never
// see a half-applied pass.
package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"grimm.is/cloudnet/internal/clock"
	"grimm.is/cloudnet/internal/cloud"
	"grimm.is/cloudnet/internal/logging"
	"grimm.is/cloudnet/internal/metadata"
	"grimm.is/cloudnet/internal/metrics"
	"grimm.is/cloudnet/internal/network"
	"grimm.is/cloudnet/internal/state"
)

// Saver persists the metadata snapshot of a pass.
type Saver interface {
	Save(snap *metadata.Snapshot, links network.Links) error
}

// BaselineStore persists the applied-state baseline between runs.
type BaselineStore interface {
	Load() (*state.Baseline, error)
	Save(b *state.Baseline) error
}

// Options configures an Environment. Zero values select defaults.
type Options struct {
	RouteTableBase int
	IPv6           bool

	Saver    Saver
	Baseline BaselineStore
	Clock    clock.Clock
	Metrics  *metrics.Registry
}

// Pass describes the most recent reconciliation pass.
type Pass struct {
	ID       string        `json:"id"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}

// Environment is the mutex-guarded aggregate shared by the pass loop,
// the signal handler and the HTTP status surface.
type Environment struct {
	mu sync.Mutex

	Kind               cloud.Kind
	Links              network.Links
	RouteTableBase     int
	AddressesByMAC     map[string]network.AddressSet
	RoutesByIndex      map[int]network.Route
	RulesByAddressFrom map[string]network.RoutingPolicyRule
	RulesByAddressTo   map[string]network.RoutingPolicyRule

	adapter  metadata.Adapter
	net      *network.Manager
	saver    Saver
	baseline BaselineStore
	clock    clock.Clock
	metrics  *metrics.Registry
	logger   *logging.Logger

	snapshot *metadata.Snapshot
	restored bool
	last     Pass
	passes   uint64
}

// New creates an Environment reconciling adapter's metadata through nm.
func New(adapter metadata.Adapter, nm *network.Manager, opts Options) *Environment {
	if opts.RouteTableBase <= 0 {
		opts.RouteTableBase = network.DefaultTableBase
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Get()
	}

	e := &Environment{
		Kind:               adapter.Kind(),
		Links:              network.NewLinks(),
		RouteTableBase:     opts.RouteTableBase,
		AddressesByMAC:     make(map[string]network.AddressSet),
		RoutesByIndex:      make(map[int]network.Route),
		RulesByAddressFrom: make(map[string]network.RoutingPolicyRule),
		RulesByAddressTo:   make(map[string]network.RoutingPolicyRule),
		adapter:            adapter,
		net:                nm,
		saver:              opts.Saver,
		baseline:           opts.Baseline,
		clock:              opts.Clock,
		metrics:            opts.Metrics,
		logger:             logging.WithComponent("provider"),
	}
	if opts.IPv6 {
		e.logger.Warn("IPv6 reconciliation is not implemented, only IPv4 is configured")
	}
	return e
}

// Begin runs one full pass: acquire, configure, save.
func (e *Environment) Begin(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := uuid.NewString()
	logger := e.logger.WithFields(map[string]any{"pass": id})
	start := e.clock.Now()

	err := e.runPass(ctx, logger)

	e.passes++
	e.last = Pass{ID: id, Started: start, Duration: e.clock.Since(start), Err: err}
	e.metrics.RecordPass(e.last.Duration, err)
	e.metrics.SetManaged(e.addressCount(), len(e.RulesByAddressFrom)+len(e.RulesByAddressTo), len(e.RoutesByIndex))

	if err != nil {
		logger.Error("reconciliation pass failed", "error", err, "duration", e.last.Duration)
	} else {
		logger.Info("reconciliation pass complete", "links", e.Links.Len(), "duration", e.last.Duration)
	}
	return err
}

func (e *Environment) runPass(ctx context.Context, logger *logging.Logger) error {
	if !e.restored {
		e.restoreBaseline(logger)
		e.restored = true
	}
	if err := e.acquire(ctx); err != nil {
		return err
	}
	err := e.configureAll(ctx, logger)
	e.save(logger)
	return err
}

// acquire refreshes the link inventory and fetches metadata.
func (e *Environment) acquire(ctx context.Context) error {
	links, err := e.net.Enumerate()
	if err != nil {
		return err
	}
	e.Links = links

	snap, err := e.adapter.Fetch(ctx)
	e.metrics.RecordMetadataFetch(string(e.Kind), err)
	if err != nil {
		return fmt.Errorf("failed to fetch %s metadata: %w", e.Kind, err)
	}
	e.snapshot = snap
	return nil
}

// save persists the snapshot files and the baseline. Failures are
// logged; the kernel state they describe is already applied.
func (e *Environment) save(logger *logging.Logger) {
	if e.saver != nil {
		if err := e.saver.Save(e.snapshot, e.Links); err != nil {
			logger.Warn("failed to save metadata snapshot", "error", err)
		}
	}
	if e.baseline != nil {
		if err := e.baseline.Save(e.toBaseline()); err != nil {
			logger.Warn("failed to save applied-state baseline", "error", err)
		}
	}
}

func (e *Environment) restoreBaseline(logger *logging.Logger) {
	if e.baseline == nil {
		return
	}
	bl, err := e.baseline.Load()
	if err != nil {
		logger.Warn("failed to load applied-state baseline", "error", err)
		return
	}
	if bl == nil {
		return
	}
	for mac, cidrs := range bl.Addresses {
		e.AddressesByMAC[mac] = network.NewAddressSet(cidrs...)
	}
	for idx, r := range bl.Routes {
		e.RoutesByIndex[idx] = r
	}
	for ip, r := range bl.RulesFrom {
		e.RulesByAddressFrom[ip] = r
	}
	for ip, r := range bl.RulesTo {
		e.RulesByAddressTo[ip] = r
	}
	logger.Info("restored applied-state baseline", "previous_pass", bl.PassID, "links", len(bl.Addresses))
}

func (e *Environment) toBaseline() *state.Baseline {
	bl := &state.Baseline{
		PassID:    e.last.ID,
		Addresses: make(map[string][]string, len(e.AddressesByMAC)),
		Routes:    make(map[int]network.Route, len(e.RoutesByIndex)),
		RulesFrom: make(map[string]network.RoutingPolicyRule, len(e.RulesByAddressFrom)),
		RulesTo:   make(map[string]network.RoutingPolicyRule, len(e.RulesByAddressTo)),
	}
	for mac, set := range e.AddressesByMAC {
		bl.Addresses[mac] = set.Sorted()
	}
	for idx, r := range e.RoutesByIndex {
		bl.Routes[idx] = r
	}
	for ip, r := range e.RulesByAddressFrom {
		bl.RulesFrom[ip] = r
	}
	for ip, r := range e.RulesByAddressTo {
		bl.RulesTo[ip] = r
	}
	return bl
}

func (e *Environment) addressCount() int {
	n := 0
	for _, set := range e.AddressesByMAC {
		n += len(set)
	}
	return n
}

// ConfigureSupplementary gives each named link its own table and rules
// from the addresses the kernel already has on it.
func (e *Environment) ConfigureSupplementary(names []string) error {
	if len(names) == 0 {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.net.ConfigureSupplementary(e.RouteTableBase, names)
}

// Status is a consistent copy of the Environment.
type Status struct {
	Provider  cloud.Kind                  `json:"provider"`
	Passes    uint64                      `json:"passes"`
	LastPass  Pass                        `json:"last_pass"`
	LastError string                      `json:"last_error,omitempty"`
	TableBase int                         `json:"route_table_base"`
	Links     []network.Link              `json:"links"`
	Addresses map[string][]string         `json:"addresses_by_mac"`
	Routes    []network.Route             `json:"routes"`
	Rules     []network.RoutingPolicyRule `json:"rules"`
}

// Status returns a snapshot taken under the pass mutex.
func (e *Environment) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := Status{
		Provider:  e.Kind,
		Passes:    e.passes,
		LastPass:  e.last,
		TableBase: e.RouteTableBase,
		Links:     e.Links.Sorted(),
		Addresses: make(map[string][]string, len(e.AddressesByMAC)),
	}
	if e.last.Err != nil {
		st.LastError = e.last.Err.Error()
	}
	for mac, set := range e.AddressesByMAC {
		st.Addresses[mac] = set.Sorted()
	}
	for _, r := range e.RoutesByIndex {
		st.Routes = append(st.Routes, r)
	}
	sort.Slice(st.Routes, func(i, j int) bool { return st.Routes[i].LinkIndex < st.Routes[j].LinkIndex })
	for _, m := range []map[string]network.RoutingPolicyRule{e.RulesByAddressFrom, e.RulesByAddressTo} {
		for _, r := range m {
			st.Rules = append(st.Rules, r)
		}
	}
	sort.Slice(st.Rules, func(i, j int) bool {
		if st.Rules[i].Table != st.Rules[j].Table {
			return st.Rules[i].Table < st.Rules[j].Table
		}
		return st.Rules[i].String() < st.Rules[j].String()
	})
	return st
}

// System returns the provider's system document from the last fetch.
func (e *Environment) System() (any, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.snapshot == nil || e.snapshot.System == nil {
		return nil, false
	}
	return e.snapshot.System, true
}

// LastPass returns the most recent pass and whether any pass has run.
func (e *Environment) LastPass() (Pass, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last, e.passes > 0
}

// Gateways returns the gateway of every tracked route, keyed by link name.
func (e *Environment) Gateways() map[string]string {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string]string, len(e.RoutesByIndex))
	for idx, r := range e.RoutesByIndex {
		name := fmt.Sprintf("ifindex%d", idx)
		if link, ok := e.Links.ByIndex(idx); ok {
			name = link.Name
		}
		out[name] = r.Gw.String()
	}
	return out
}

// LastPassInfo reports when the last pass started and how it ended.
func (e *Environment) LastPassInfo() (started time.Time, ran bool, err error) {
	p, ran := e.LastPass()
	return p.Started, ran, p.Err
}

// LinkCount returns the size of the current link inventory.
func (e *Environment) LinkCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Links.Len()
}
