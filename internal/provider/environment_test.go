package provider

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vishvananda/netlink"

	"grimm.is/cloudnet/internal/clock"
	"grimm.is/cloudnet/internal/cloud"
	"grimm.is/cloudnet/internal/metadata"
	"grimm.is/cloudnet/internal/network"
	"grimm.is/cloudnet/internal/state"
)

const (
	mac0 = "aa:bb:cc:dd:ee:ff"
	mac1 = "aa:bb:cc:dd:ee:01"
)

type fakeAdapter struct {
	mu    sync.Mutex
	snap  *metadata.Snapshot
	err   error
	calls int
}

func (a *fakeAdapter) Kind() cloud.Kind { return cloud.Azure }

func (a *fakeAdapter) Fetch(ctx context.Context) (*metadata.Snapshot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	return a.snap, a.err
}

func (a *fakeAdapter) set(ifaces ...metadata.Interface) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.snap = &metadata.Snapshot{
		Provider:   cloud.Azure,
		System:     map[string]string{"vmId": "vm-1"},
		Interfaces: make(map[string]metadata.Interface),
	}
	for _, iface := range ifaces {
		a.snap.Interfaces[iface.MAC] = iface
	}
}

func desired(mac string, cidrs ...string) metadata.Interface {
	return metadata.Interface{MAC: mac, Addresses: network.NewAddressSet(cidrs...)}
}

type recordingSaver struct {
	saved int
	last  *metadata.Snapshot
}

func (s *recordingSaver) Save(snap *metadata.Snapshot, links network.Links) error {
	s.saved++
	s.last = snap
	return nil
}

type memBaseline struct {
	stored *state.Baseline
}

func (b *memBaseline) Load() (*state.Baseline, error) { return b.stored, nil }
func (b *memBaseline) Save(bl *state.Baseline) error  { b.stored = bl; return nil }

// twoLinkHost is eth0 (ifindex 3) with a default route via 10.0.0.1 and
// eth1 (ifindex 4), which qualifies the host for policy rules.
func twoLinkHost() *fakeKernel {
	k := newFakeKernel(device("eth0", 3, mac0), device("eth1", 4, mac1))
	k.addMainRoute(3, "", "10.0.0.1")
	return k
}

func newTestEnv(k *fakeKernel, a *fakeAdapter, opts Options) *Environment {
	if opts.Clock == nil {
		opts.Clock = clock.NewMock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	}
	return New(a, network.NewManagerWithDeps(k), opts)
}

func TestBegin_ExampleScenario(t *testing.T) {
	k := twoLinkHost()
	a := &fakeAdapter{}
	a.set(desired(mac0, "10.0.0.5/24"))
	saver := &recordingSaver{}
	env := newTestEnv(k, a, Options{RouteTableBase: 9999, Saver: saver})

	require.NoError(t, env.Begin(context.Background()))

	routes := k.tableRoutes(10005)
	require.Len(t, routes, 1)
	assert.Equal(t, 3, routes[0].LinkIndex)
	assert.True(t, routes[0].Gw.Equal(net.ParseIP("10.0.0.1")))

	assert.ElementsMatch(t, []string{"from 10.0.0.5 10002", "to 10.0.0.5 10002"}, k.ruleStrings())
	assert.Equal(t, []string{"10.0.0.5/24"}, k.addressStrings(3))

	assert.Equal(t, network.NewAddressSet("10.0.0.5/24"), env.AddressesByMAC[mac0])
	assert.Equal(t, 10005, env.RoutesByIndex[3].Table)
	assert.Equal(t, 10002, env.RulesByAddressFrom["10.0.0.5"].Table)
	assert.Equal(t, 10002, env.RulesByAddressTo["10.0.0.5"].Table)
	assert.NotContains(t, env.AddressesByMAC, mac1, "links without metadata record nothing")
	assert.Equal(t, 1, saver.saved)
}

func TestBegin_SingleUplinkInstallsNoRules(t *testing.T) {
	k := newFakeKernel(device("eth0", 3, mac0))
	k.addMainRoute(3, "", "10.0.0.1")
	a := &fakeAdapter{}
	a.set(desired(mac0, "10.0.0.5/24"))
	env := newTestEnv(k, a, Options{})

	require.NoError(t, env.Begin(context.Background()))

	assert.Empty(t, k.ruleStrings())
	assert.Empty(t, env.RulesByAddressFrom)
	assert.Empty(t, env.RulesByAddressTo)
	assert.Len(t, k.tableRoutes(10005), 1)
	assert.Contains(t, env.RoutesByIndex, 3)
}

func TestBegin_Idempotent(t *testing.T) {
	k := twoLinkHost()
	a := &fakeAdapter{}
	a.set(desired(mac0, "10.0.0.5/24", "10.0.0.6/24"), desired(mac1, "10.1.0.5/24"))
	k.addMainRoute(4, "10.1.0.0/24", "10.1.0.1")
	env := newTestEnv(k, a, Options{})

	require.NoError(t, env.Begin(context.Background()))
	after := k.mutationCount()
	require.NotZero(t, after)

	require.NoError(t, env.Begin(context.Background()))
	assert.Equal(t, after, k.mutationCount(), "second pass changes nothing")
	assert.Len(t, k.ruleStrings(), 6)
}

func TestBegin_RetractionKeepsRouteWhileAddressRemains(t *testing.T) {
	k := twoLinkHost()
	a := &fakeAdapter{}
	a.set(desired(mac0, "10.0.0.5/24", "10.0.0.6/24"))
	env := newTestEnv(k, a, Options{})
	require.NoError(t, env.Begin(context.Background()))

	a.set(desired(mac0, "10.0.0.5/24"))
	require.NoError(t, env.Begin(context.Background()))

	assert.Equal(t, []string{"10.0.0.5/24"}, k.addressStrings(3))
	assert.ElementsMatch(t, []string{"from 10.0.0.5 10002", "to 10.0.0.5 10002"}, k.ruleStrings())
	assert.NotContains(t, env.RulesByAddressFrom, "10.0.0.6")
	assert.Len(t, k.tableRoutes(10005), 1)
	assert.Contains(t, env.RoutesByIndex, 3)
}

func TestBegin_LinkDroppedFromMetadataRetractsEverything(t *testing.T) {
	k := twoLinkHost()
	a := &fakeAdapter{}
	a.set(desired(mac0, "10.0.0.5/24"))
	env := newTestEnv(k, a, Options{})
	require.NoError(t, env.Begin(context.Background()))

	a.set()
	require.NoError(t, env.Begin(context.Background()))

	assert.Empty(t, k.addressStrings(3))
	assert.Empty(t, k.ruleStrings())
	assert.Empty(t, k.tableRoutes(10005))
	assert.NotContains(t, env.AddressesByMAC, mac0)
	assert.NotContains(t, env.RoutesByIndex, 3)
}

func TestBegin_SingleUplinkRouteFollowsAddressSet(t *testing.T) {
	k := newFakeKernel(device("eth0", 3, mac0))
	k.addMainRoute(3, "", "10.0.0.1")
	a := &fakeAdapter{}
	a.set(desired(mac0, "10.0.0.5/24", "10.0.0.6/24"))
	env := newTestEnv(k, a, Options{})
	require.NoError(t, env.Begin(context.Background()))

	a.set(desired(mac0, "10.0.0.5/24"))
	require.NoError(t, env.Begin(context.Background()))
	assert.Len(t, k.tableRoutes(10005), 1)

	a.set()
	require.NoError(t, env.Begin(context.Background()))
	assert.Empty(t, k.tableRoutes(10005))
	assert.Empty(t, env.RoutesByIndex)
}

func TestBegin_ExactConvergence(t *testing.T) {
	k := twoLinkHost()
	a := &fakeAdapter{}
	env := newTestEnv(k, a, Options{})

	sets := [][]string{
		{"10.0.0.5/24"},
		{"10.0.0.5/24", "10.0.0.7/24"},
		{"10.0.0.8/24"},
		{"10.0.0.8/24", "10.0.0.5/24"},
	}
	for _, want := range sets {
		a.set(desired(mac0, want...))
		require.NoError(t, env.Begin(context.Background()))

		assert.ElementsMatch(t, want, k.addressStrings(3))
		assert.ElementsMatch(t, want, env.AddressesByMAC[mac0].Sorted())
		assert.Len(t, env.RulesByAddressFrom, len(want))
		assert.Len(t, env.RulesByAddressTo, len(want))
		assert.Len(t, k.ruleStrings(), 2*len(want))
	}
}

func TestBegin_GatewayFailureStillAppliesAddressesAndRules(t *testing.T) {
	k := newFakeKernel(device("eth0", 3, mac0), device("eth1", 4, mac1))
	a := &fakeAdapter{}
	a.set(desired(mac0, "10.0.0.5/24"))
	env := newTestEnv(k, a, Options{})

	err := env.Begin(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, network.ErrNoGateway)
	assert.ErrorContains(t, err, "link eth0")

	assert.Equal(t, []string{"10.0.0.5/24"}, k.addressStrings(3))
	assert.Len(t, k.ruleStrings(), 2)
	assert.Empty(t, env.RoutesByIndex)
	assert.Contains(t, env.AddressesByMAC, mac0)

	last, ok := env.LastPass()
	require.True(t, ok)
	assert.Error(t, last.Err)
	assert.NotEmpty(t, env.Status().LastError)
}

func TestBegin_ExplicitGatewayAndMTU(t *testing.T) {
	eth0 := device("eth0", 3, mac0)
	eth0.OperState = netlink.OperDown
	k := newFakeKernel(eth0, device("eth1", 4, mac1))
	k.addMainRoute(3, "", "10.0.0.1")

	iface := desired(mac0, "10.0.0.5/24")
	iface.Gateway = net.ParseIP("10.0.0.254").To4()
	iface.MTU = 9000
	a := &fakeAdapter{}
	a.set(iface)
	env := newTestEnv(k, a, Options{})

	require.NoError(t, env.Begin(context.Background()))

	assert.Equal(t, netlink.LinkOperState(netlink.OperUp), eth0.OperState)
	assert.Equal(t, 9000, eth0.MTU)
	routes := k.tableRoutes(10005)
	require.Len(t, routes, 1)
	assert.True(t, routes[0].Gw.Equal(net.ParseIP("10.0.0.254")))
}

func TestBegin_BadAddressAbortsOnlyThatLink(t *testing.T) {
	k := twoLinkHost()
	k.addMainRoute(4, "", "10.1.0.1")
	a := &fakeAdapter{}
	a.set(desired(mac0, "10.0.0.5"), desired(mac1, "10.1.0.5/24"))
	env := newTestEnv(k, a, Options{})

	err := env.Begin(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, network.ErrInvalidCIDR)

	assert.Empty(t, k.addressStrings(3))
	assert.Equal(t, []string{"10.1.0.5/24"}, k.addressStrings(4))
	assert.Len(t, k.tableRoutes(network.RouteTable(9999, 4)), 1)
}

func TestBegin_FetchErrorChangesNothing(t *testing.T) {
	k := twoLinkHost()
	a := &fakeAdapter{err: errors.New("connection refused")}
	env := newTestEnv(k, a, Options{})

	err := env.Begin(context.Background())
	assert.ErrorContains(t, err, "failed to fetch azure metadata")
	assert.Zero(t, k.mutationCount())
}

func TestBegin_RestoredBaselineRetractsStaleAddresses(t *testing.T) {
	k := twoLinkHost()
	require.NoError(t, k.AddrReplace(device("eth0", 3, mac0), mustAddr(t, "10.0.0.9/24")))

	ip := net.ParseIP("10.0.0.9").To4()
	bl := &memBaseline{stored: &state.Baseline{
		PassID:    "previous",
		Addresses: map[string][]string{mac0: {"10.0.0.9/24"}},
		Routes:    map[int]network.Route{3: {Table: 10005, LinkIndex: 3, Gw: net.ParseIP("10.0.0.1").To4()}},
		RulesFrom: map[string]network.RoutingPolicyRule{"10.0.0.9": network.FromRule(ip, 10002)},
		RulesTo:   map[string]network.RoutingPolicyRule{"10.0.0.9": network.ToRule(ip, 10002)},
	}}
	a := &fakeAdapter{}
	a.set(desired(mac0, "10.0.0.5/24"))
	env := newTestEnv(k, a, Options{Baseline: bl})

	require.NoError(t, env.Begin(context.Background()))

	assert.Equal(t, []string{"10.0.0.5/24"}, k.addressStrings(3))
	assert.NotContains(t, env.RulesByAddressFrom, "10.0.0.9")
	require.NotNil(t, bl.stored)
	assert.Equal(t, map[string][]string{mac0: {"10.0.0.5/24"}}, bl.stored.Addresses)
	assert.NotEqual(t, "previous", bl.stored.PassID)
}

func TestBegin_VanishedLinkIsForgotten(t *testing.T) {
	k := twoLinkHost()
	k.addMainRoute(4, "", "10.1.0.1")
	a := &fakeAdapter{}
	a.set(desired(mac0, "10.0.0.5/24"), desired(mac1, "10.1.0.5/24"))
	env := newTestEnv(k, a, Options{})
	require.NoError(t, env.Begin(context.Background()))
	require.Contains(t, env.RoutesByIndex, 4)

	k.links = k.links[:1]
	require.NoError(t, env.Begin(context.Background()))

	assert.NotContains(t, env.AddressesByMAC, mac1)
	assert.NotContains(t, env.RoutesByIndex, 4)
	assert.NotContains(t, env.RulesByAddressFrom, "10.1.0.5")
	assert.NotContains(t, env.RulesByAddressTo, "10.1.0.5")
	assert.ElementsMatch(t, []string{"from 10.0.0.5 10002", "to 10.0.0.5 10002"}, k.ruleStrings())
}

func TestBegin_AddressMovesToLowerIndexLink(t *testing.T) {
	k := twoLinkHost()
	k.addMainRoute(4, "", "10.1.0.1")
	a := &fakeAdapter{}
	a.set(desired(mac0, "10.0.0.5/24"), desired(mac1, "10.1.0.5/24", "10.1.0.9/24"))
	env := newTestEnv(k, a, Options{})
	require.NoError(t, env.Begin(context.Background()))
	require.Contains(t, k.ruleStrings(), "from 10.1.0.9 10003")

	a.set(desired(mac0, "10.0.0.5/24", "10.1.0.9/24"), desired(mac1, "10.1.0.5/24"))
	require.NoError(t, env.Begin(context.Background()))

	assert.ElementsMatch(t, []string{
		"from 10.0.0.5 10002", "to 10.0.0.5 10002",
		"from 10.1.0.9 10002", "to 10.1.0.9 10002",
		"from 10.1.0.5 10003", "to 10.1.0.5 10003",
	}, k.ruleStrings())
	assert.ElementsMatch(t, []string{"10.0.0.5/24", "10.1.0.9/24"}, k.addressStrings(3))
	assert.ElementsMatch(t, []string{"10.1.0.5/24"}, k.addressStrings(4))
	assert.Equal(t, 10002, env.RulesByAddressFrom["10.1.0.9"].Table)
	assert.Equal(t, 10002, env.RulesByAddressTo["10.1.0.9"].Table)
	assert.Contains(t, env.RoutesByIndex, 4)

	before := k.mutationCount()
	require.NoError(t, env.Begin(context.Background()))
	assert.Equal(t, before, k.mutationCount())
}

func TestBegin_AddressMovesToHigherIndexLink(t *testing.T) {
	k := twoLinkHost()
	k.addMainRoute(4, "", "10.1.0.1")
	a := &fakeAdapter{}
	a.set(desired(mac0, "10.0.0.5/24", "10.0.0.9/24"), desired(mac1, "10.1.0.5/24"))
	env := newTestEnv(k, a, Options{})
	require.NoError(t, env.Begin(context.Background()))

	a.set(desired(mac0, "10.0.0.5/24"), desired(mac1, "10.1.0.5/24", "10.0.0.9/24"))
	require.NoError(t, env.Begin(context.Background()))

	assert.ElementsMatch(t, []string{
		"from 10.0.0.5 10002", "to 10.0.0.5 10002",
		"from 10.1.0.5 10003", "to 10.1.0.5 10003",
		"from 10.0.0.9 10003", "to 10.0.0.9 10003",
	}, k.ruleStrings())
	assert.Equal(t, 10003, env.RulesByAddressFrom["10.0.0.9"].Table)
	assert.Equal(t, 10003, env.RulesByAddressTo["10.0.0.9"].Table)
}

func TestStatus(t *testing.T) {
	k := twoLinkHost()
	a := &fakeAdapter{}
	a.set(desired(mac0, "10.0.0.5/24"))
	mock := clock.NewMock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	env := newTestEnv(k, a, Options{Clock: mock})

	_, ran := env.LastPass()
	assert.False(t, ran)

	require.NoError(t, env.Begin(context.Background()))
	st := env.Status()

	assert.Equal(t, cloud.Azure, st.Provider)
	assert.Equal(t, uint64(1), st.Passes)
	assert.Equal(t, mock.Now(), st.LastPass.Started)
	assert.NotEmpty(t, st.LastPass.ID)
	assert.Empty(t, st.LastError)
	assert.Len(t, st.Links, 2)
	assert.Equal(t, []string{"10.0.0.5/24"}, st.Addresses[mac0])
	require.Len(t, st.Routes, 1)
	assert.Equal(t, 10005, st.Routes[0].Table)
	assert.Len(t, st.Rules, 2)

	sys, ok := env.System()
	require.True(t, ok)
	assert.Equal(t, map[string]string{"vmId": "vm-1"}, sys)
	assert.Equal(t, map[string]string{"eth0": "10.0.0.1"}, env.Gateways())
}

func TestConcurrentPassesAndStatus(t *testing.T) {
	k := twoLinkHost()
	a := &fakeAdapter{}
	a.set(desired(mac0, "10.0.0.5/24"))
	env := newTestEnv(k, a, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = env.Begin(context.Background())
		}()
		go func() {
			defer wg.Done()
			st := env.Status()
			if len(st.Addresses) > 0 {
				assert.Len(t, st.Rules, 2)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(8), env.Status().Passes)
}

func TestConfigureSupplementary(t *testing.T) {
	k := twoLinkHost()
	k.addMainRoute(4, "", "10.1.0.1")
	require.NoError(t, k.AddrReplace(device("eth1", 4, mac1), mustAddr(t, "10.1.0.5/24")))
	a := &fakeAdapter{}
	env := newTestEnv(k, a, Options{})

	require.NoError(t, env.ConfigureSupplementary([]string{"eth1", "missing0"}))
	assert.Len(t, k.tableRoutes(network.RouteTable(9999, 4)), 1)
	assert.ElementsMatch(t, []string{"from 10.1.0.5 10003", "to 10.1.0.5 10003"}, k.ruleStrings())
}

func TestRun_TriggerStartsPass(t *testing.T) {
	k := twoLinkHost()
	a := &fakeAdapter{}
	a.set(desired(mac0, "10.0.0.5/24"))
	env := newTestEnv(k, a, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	trigger := make(chan struct{})
	done := make(chan struct{})
	go func() {
		env.Run(ctx, time.Hour, trigger)
		close(done)
	}()

	trigger <- struct{}{}
	assert.Eventually(t, func() bool {
		_, ran := env.LastPass()
		return ran
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func mustAddr(t *testing.T, cidr string) *netlink.Addr {
	t.Helper()
	addr, err := network.ParseCIDR(cidr)
	require.NoError(t, err)
	return addr
}
