package core

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/netip"
	"strings"
	"testing"

	"github.com/encodeous/routesim/protocol"
	"github.com/encodeous/routesim/state"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

var extAddr = netip.MustParseAddr("10.192.0.1")

func mustCommand(t *testing.T, line string) protocol.Command {
	t.Helper()
	cmd, err := protocol.ParseCommand(line)
	require.NoError(t, err)
	return cmd
}

// chain builds a -> b -> c where each node is the provider of the next, with an external
// provider session on a.
func chain(t *testing.T) *state.Topology {
	t.Helper()
	topo, err := state.NewTopologyBuilder().
		AddNode("a", 65001).
		AddNode("b", 65002).
		AddNode("c", 65003, netip.MustParsePrefix("10.3.0.0/16")).
		Provider("a", "b").
		Provider("b", "c").
		External("ext", extAddr, "a", state.RelProvider).
		Build()
	require.NoError(t, err)
	return topo
}

func testConfig() state.SimulationConfig {
	cfg := state.DefaultSimulationConfig()
	cfg.Prefix = netip.MustParsePrefix("128.0.0.0/16")
	return cfg
}

func bestLen(t *testing.T, sim *Simulation, id state.NodeId, prefix string) int {
	t.Helper()
	best, ok := sim.Node(id).RIB.Best(netip.MustParsePrefix(prefix))
	if !ok {
		return -1
	}
	return best.Route.PathLen()
}

func TestChainPropagation(t *testing.T) {
	sim := NewSimulation(chain(t), testConfig(), nil)
	require.NoError(t, sim.Inject(0, "", mustCommand(t, "neighbor 10.192.0.1 announce route 128.0.0.0/16 next-hop self as-path [100]")))

	for sim.Now() <= 2 && sim.Step() {
	}
	assert.Equal(t, 1, bestLen(t, sim, "a", "128.0.0.0/16"))
	assert.Equal(t, 2, bestLen(t, sim, "b", "128.0.0.0/16"))
	assert.Equal(t, 3, bestLen(t, sim, "c", "128.0.0.0/16"))

	res := sim.RunUntilIdle(context.Background())
	assert.Equal(t, Converged, res.Outcome)
	assert.Equal(t, state.Tick(2), res.Tick)
	assert.Equal(t, 3, res.Processed)
	assert.NoError(t, res.Err())

	best, _ := sim.Node("c").RIB.Best(netip.MustParsePrefix("128.0.0.0/16"))
	assert.Equal(t, []state.ASN{65002, 65001, 100}, best.Route.ASPath)
	assert.Equal(t, state.NodeId("b"), best.Route.NextHop)
}

func TestWithdrawSupersedesInFlightAnnounce(t *testing.T) {
	cfg := testConfig()
	cfg.PropagationDelay = 5
	sim := NewSimulation(chain(t), cfg, nil)
	require.NoError(t, sim.Inject(0, "ext", mustCommand(t, "announce route 128.0.0.0/16 next-hop self as-path [100]")))
	// a learns the route and queues its announce to b for tick 5
	require.True(t, sim.Step())
	require.Len(t, sim.Pending(), 1)
	require.NoError(t, sim.Inject(1, "ext", mustCommand(t, "withdraw route 128.0.0.0/16")))

	res := sim.RunUntilIdle(context.Background())
	assert.Equal(t, Converged, res.Outcome)
	// the announce a -> b scheduled for tick 5 was cancelled by the withdraw for tick 6
	assert.Equal(t, 1, res.Superseded)
	assert.Equal(t, 3, res.Processed)
	assert.Empty(t, sim.Node("b").RIB.Prefixes())
	assert.Empty(t, sim.Node("c").RIB.Prefixes())
}

func TestWithdrawKeepsLaterAnnounce(t *testing.T) {
	sim := NewSimulation(chain(t), testConfig(), nil)
	require.NoError(t, sim.Inject(5, "ext", mustCommand(t, "announce route 128.0.0.0/16 next-hop self as-path [100]")))
	require.NoError(t, sim.Inject(1, "ext", mustCommand(t, "withdraw route 128.0.0.0/16")))

	res := sim.RunUntilIdle(context.Background())
	assert.Equal(t, Converged, res.Outcome)
	assert.Equal(t, 0, res.Superseded)
	assert.Equal(t, 4, res.Processed)
	assert.Equal(t, state.Tick(7), res.Tick)
	assert.Equal(t, 1, bestLen(t, sim, "a", "128.0.0.0/16"))
	assert.Equal(t, 3, bestLen(t, sim, "c", "128.0.0.0/16"))
}

func TestDuplicateInjectionIsAbsorbed(t *testing.T) {
	sim := NewSimulation(chain(t), testConfig(), nil)
	cmd := mustCommand(t, "announce route 128.0.0.0/16 next-hop self as-path [100]")
	require.NoError(t, sim.Inject(0, "", cmd))
	first := sim.RunUntilIdle(context.Background())

	require.NoError(t, sim.Inject(sim.Now(), "", cmd))
	second := sim.RunUntilIdle(context.Background())
	assert.Equal(t, first.Processed+1, second.Processed, "only the injected event is delivered")
}

func TestTickBoundExceeded(t *testing.T) {
	cfg := testConfig()
	cfg.MaxTicks = 1
	sim := NewSimulation(chain(t), cfg, nil)
	require.NoError(t, sim.Inject(0, "", mustCommand(t, "announce route 128.0.0.0/16 next-hop self as-path [100]")))
	res := sim.RunUntilIdle(context.Background())
	assert.Equal(t, TickBoundExceeded, res.Outcome)
	assert.Equal(t, 1, res.Pending)

	var timeout *state.ConvergenceTimeout
	require.True(t, errors.As(res.Err(), &timeout))
	assert.Equal(t, state.Tick(1), timeout.MaxTicks)
	assert.Equal(t, 1, timeout.Pending)
}

func TestCancelledRun(t *testing.T) {
	sim := NewSimulation(chain(t), testConfig(), nil)
	require.NoError(t, sim.Inject(0, "", mustCommand(t, "announce route 128.0.0.0/16 next-hop self as-path [100]")))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := sim.RunUntilIdle(ctx)
	assert.Equal(t, Cancelled, res.Outcome)
	assert.ErrorIs(t, res.Err(), context.Canceled)
}

func TestUnknownNeighbor(t *testing.T) {
	sim := NewSimulation(chain(t), testConfig(), nil)
	err := sim.Inject(0, "", mustCommand(t, "neighbor 1.1.1.1 announce route 128.0.0.0/16 next-hop self as-path [100]"))
	assert.True(t, state.IsParseError(err))
	assert.Equal(t, 0, sim.RunUntilIdle(context.Background()).Processed)
}

func TestBgpDisabledStaysAtIngress(t *testing.T) {
	cfg := testConfig()
	cfg.Features.Bgp = false
	sim := NewSimulation(chain(t), cfg, nil)
	require.NoError(t, sim.Inject(0, "", mustCommand(t, "announce route 128.0.0.0/16 next-hop self as-path [100]")))
	res := sim.RunUntilIdle(context.Background())
	assert.Equal(t, 1, bestLen(t, sim, "a", "128.0.0.0/16"))
	assert.Equal(t, -1, bestLen(t, sim, "b", "128.0.0.0/16"))
	assert.Equal(t, 1, res.Dropped)
	assert.True(t, Verify(sim.Topology, cfg).OK())
}

func TestStaticRoutes(t *testing.T) {
	sim := NewSimulation(chain(t), testConfig(), nil)
	sim.Originate()
	sim.RunUntilIdle(context.Background())
	assert.Equal(t, 0, bestLen(t, sim, "c", "10.3.0.0/16"))
	assert.Equal(t, 1, bestLen(t, sim, "b", "10.3.0.0/16"))
	assert.Equal(t, 2, bestLen(t, sim, "a", "10.3.0.0/16"))
	assert.Equal(t, []netip.Prefix{netip.MustParsePrefix("10.3.0.0/16")}, sim.Node("a").Reachable())

	require.NoError(t, sim.RetractAt("c", "10.3.0.0/16"))
	sim.RunUntilIdle(context.Background())
	assert.Equal(t, -1, bestLen(t, sim, "a", "10.3.0.0/16"))

	cfg := testConfig()
	cfg.Features.StaticRoutes = false
	sim = NewSimulation(chain(t), cfg, nil)
	sim.Originate()
	assert.Empty(t, sim.Pending())
	assert.Equal(t, -1, bestLen(t, sim, "c", "10.3.0.0/16"))
}

func TestScriptedRun(t *testing.T) {
	script := `neighbor 10.192.0.1 announce route 128.0.0.0/16 next-hop self as-path [100, 60]
sleep 10
neighbor 10.192.0.1 withdraw route 128.0.0.0/16
neighbor 10.192.0.1 withdraw route not-a-prefix
neighbor 9.9.9.9 withdraw route 128.0.0.0/16
`
	entries, errs, err := protocol.ParseScript("peer", strings.NewReader(script))
	require.NoError(t, err)
	require.Len(t, errs, 1)

	sim := NewSimulation(chain(t), testConfig(), nil)
	for _, e := range errs {
		sim.ReportParseError(e)
	}
	res, err := sim.Run(context.Background(), NewScriptedFeed(entries, 1))
	require.NoError(t, err)
	assert.Equal(t, Converged, res.Outcome)
	assert.Equal(t, state.Tick(12), res.Tick)
	assert.Equal(t, 2, res.Injected)
	assert.Equal(t, 2, res.ParseErrors, "one malformed line and one unknown neighbor")
	assert.Empty(t, sim.Node("c").RIB.Prefixes())
}

func TestScriptedRunBeyondBound(t *testing.T) {
	cfg := testConfig()
	cfg.MaxTicks = 5
	sim := NewSimulation(chain(t), cfg, nil)
	entries := []protocol.ScriptEntry{
		{Command: mustCommand(t, "announce route 128.0.0.0/16 next-hop self as-path [100]")},
		{Delay: 10, Command: mustCommand(t, "withdraw route 128.0.0.0/16")},
	}
	res, err := sim.Run(context.Background(), NewScriptedFeed(entries, 1))
	require.NoError(t, err)
	assert.Equal(t, TickBoundExceeded, res.Outcome)
	assert.Equal(t, 1, res.Pending)
	assert.Equal(t, 3, bestLen(t, sim, "c", "128.0.0.0/16"))
}

func TestLiveRun(t *testing.T) {
	defer goleak.VerifyNone(t)
	input := `neighbor 10.192.0.1 announce route 128.0.0.0/16 next-hop self as-path [100]
neighbor 10.192.0.1 announce route 128.0.0.0/16 next-hop self as-path [100]
garbage
neighbor 10.192.0.1 announce route 129.0.0.0/16 next-hop self as-path [100, 200]
`
	ctx := context.Background()
	sim := NewSimulation(chain(t), testConfig(), nil)
	feed := NewLiveFeed(ctx, "stdin", strings.NewReader(input), state.LiveDedupWindow)
	res, err := sim.Run(ctx, feed)
	require.NoError(t, err)
	assert.Equal(t, Converged, res.Outcome)
	assert.Equal(t, 2, res.Injected)
	assert.Equal(t, 1, res.ParseErrors)
	assert.Equal(t, 1, feed.Suppressed)
	// the second prefix is injected once the first one converged at tick 2
	assert.Equal(t, state.Tick(4), res.Tick)
	assert.Equal(t, 4, bestLen(t, sim, "c", "129.0.0.0/16"))
}

// randomTopology builds a provider hierarchy where lower indices are providers of higher ones,
// with peer links sprinkled in between and external sessions on a few nodes.
func randomTopology(t *testing.T, seed uint64, size int) *state.Topology {
	t.Helper()
	rng := rand.New(rand.NewPCG(seed, seed^0x5eed))
	b := state.NewTopologyBuilder()
	ids := make([]state.NodeId, size)
	for i := range size {
		ids[i] = state.NodeId(fmt.Sprintf("n%02d", i))
		b.AddNode(ids[i], state.ASN(65000+i))
	}
	linked := make(map[state.Pair[int, int]]bool)
	for j := 1; j < size; j++ {
		for _, i := range []int{rng.IntN(j), rng.IntN(j)} {
			if !linked[state.Pair[int, int]{V1: i, V2: j}] {
				linked[state.Pair[int, int]{V1: i, V2: j}] = true
				b.Provider(ids[i], ids[j])
			}
		}
	}
	for range size {
		i, j := rng.IntN(size), rng.IntN(size)
		if i == j {
			continue
		}
		i, j = min(i, j), max(i, j)
		if !linked[state.Pair[int, int]{V1: i, V2: j}] {
			linked[state.Pair[int, int]{V1: i, V2: j}] = true
			b.Peer(ids[i], ids[j])
		}
	}
	rels := []state.Relation{state.RelCustomer, state.RelPeer, state.RelProvider}
	for e := range 3 {
		b.External(state.NodeId(fmt.Sprintf("x%d", e)), netip.AddrFrom4([4]byte{10, 192, 0, byte(e + 1)}),
			ids[rng.IntN(size)], rels[rng.IntN(len(rels))])
	}
	topo, err := b.Build()
	require.NoError(t, err)
	return topo
}

func randomFeed(t *testing.T, seed uint64) []protocol.ScriptEntry {
	t.Helper()
	rng := rand.New(rand.NewPCG(seed, 7))
	entries := make([]protocol.ScriptEntry, 0)
	for range 20 {
		prefix := fmt.Sprintf("%d.%d.0.0/16", 100+rng.IntN(3), rng.IntN(2))
		ext := fmt.Sprintf("10.192.0.%d", 1+rng.IntN(3))
		line := fmt.Sprintf("neighbor %s withdraw route %s", ext, prefix)
		if rng.IntN(3) > 0 {
			line = fmt.Sprintf("neighbor %s announce route %s next-hop self as-path [%d, %d]", ext, prefix, 100+rng.IntN(5), 200+rng.IntN(5))
		}
		entries = append(entries, protocol.ScriptEntry{
			Delay:   state.Tick(rng.IntN(4)),
			Command: mustCommand(t, line),
		})
	}
	return entries
}

// exportAudit checks every announcement the engine sends against the sender's selected route.
type exportAudit struct {
	Router
	topo     *state.Topology
	policy   state.ExportPolicy
	sent     int
	offences []string
}

func (a *exportAudit) SendAnnounce(from, to state.NodeId, route state.Route) {
	a.sent++
	n := a.topo.Node(from)
	best, ok := n.RIB.Best(route.Prefix)
	if !ok || !best.Route.Prepend(n.ASN, n.Id).Equal(route) {
		a.offences = append(a.offences, fmt.Sprintf("%s announced %s to %s without selecting it", from, route, to))
	}
	learned := learnedRelation(n, best)
	sess := n.Sessions[to]
	switch {
	case sess.External:
		a.offences = append(a.offences, fmt.Sprintf("%s announced %s to external %s", from, route, to))
	case learned == state.RelPeer && sess.Relation == state.RelPeer:
		a.offences = append(a.offences, fmt.Sprintf("%s sent a peer route %s to peer %s", from, route, to))
	case !a.policy.Exportable(learned, sess.Relation):
		a.offences = append(a.offences, fmt.Sprintf("%s exported a %s route %s to %s %s", from, learned, route, sess.Relation, to))
	}
	a.Router.SendAnnounce(from, to, route)
}

func runRandom(t *testing.T, seed uint64, policy state.ExportPolicy) *Simulation {
	sim, _ := runAudited(t, seed, policy)
	return sim
}

func runAudited(t *testing.T, seed uint64, policy state.ExportPolicy) (*Simulation, *exportAudit) {
	t.Helper()
	cfg := testConfig()
	cfg.ExportPolicy = policy
	sim := NewSimulation(randomTopology(t, seed, 12), cfg, nil)
	audit := &exportAudit{Router: sim.router, topo: sim.Topology, policy: policy}
	sim.router = audit
	res, err := sim.Run(context.Background(), NewScriptedFeed(randomFeed(t, seed), 2))
	require.NoError(t, err)
	require.Equal(t, Converged, res.Outcome)
	return sim, audit
}

func TestDeterministicReplay(t *testing.T) {
	for seed := range uint64(5) {
		a := runRandom(t, seed, state.PolicyValleyFree).Snapshot()
		b := runRandom(t, seed, state.PolicyValleyFree).Snapshot()
		if diff := cmp.Diff(a, b, cmpopts.EquateComparable(netip.Prefix{})); diff != "" {
			t.Fatalf("seed %d replay differs (-first +second):\n%s", seed, diff)
		}
	}
}

func TestRandomTopologiesHoldInvariants(t *testing.T) {
	for _, policy := range []state.ExportPolicy{state.PolicyValleyFree, state.PolicyGaoRexford} {
		sent := 0
		for seed := range uint64(10) {
			sim, audit := runAudited(t, seed, policy)
			sent += audit.sent
			assert.Empty(t, audit.offences, "seed %d policy %s", seed, policy)
			topo := sim.Topology
			for _, id := range topo.NodeIds() {
				n := topo.Node(id)
				for _, prefix := range n.RIB.SelectedPrefixes() {
					best, _ := n.RIB.Best(prefix)
					assert.False(t, best.Route.HasASN(n.ASN), "loop at %s: %s", id, best.Route)

					// what was exported must be allowed by the policy
					learned := learnedRelation(n, best)
					for neigh := range n.AdjOut[prefix] {
						rel := n.Sessions[neigh].Relation
						if learned == state.RelPeer {
							assert.NotEqual(t, state.RelPeer, rel, "%s sent a peer route to peer %s", id, neigh)
						}
						assert.True(t, policy.Exportable(learned, rel))
					}
				}
			}
			for i := range 3 {
				for j := range 2 {
					prefix := netip.MustParsePrefix(fmt.Sprintf("%d.%d.0.0/16", 100+i, j))
					rep := Verify(topo, state.SimulationConfig{Prefix: prefix, ExportPolicy: policy, Features: state.Features{Bgp: true}})
					assert.True(t, rep.OK(), "seed %d policy %s prefix %s: %v", seed, policy, prefix, rep.Violations)
				}
			}
		}
		assert.Positive(t, sent, "policy %s", policy)
	}
}
