package core

import (
	"fmt"
	"net/netip"
	"slices"

	"github.com/encodeous/routesim/state"
)

type ViolationKind int

const (
	ForwardingLoop ViolationKind = iota
	BlackHole
	LoopedRoute
	PolicyViolation
	StaleAdvertisement
)

func (k ViolationKind) String() string {
	switch k {
	case ForwardingLoop:
		return "forwarding loop"
	case BlackHole:
		return "black hole"
	case LoopedRoute:
		return "looped route selected"
	case PolicyViolation:
		return "export policy violated"
	case StaleAdvertisement:
		return "stale advertisement"
	}
	return fmt.Sprintf("violation(%d)", int(k))
}

type Violation struct {
	Kind   ViolationKind
	Node   state.NodeId
	Prefix netip.Prefix
	Path   []state.NodeId
	Detail string
}

func (v Violation) String() string {
	s := fmt.Sprintf("%s at %s for %s", v.Kind, v.Node, v.Prefix)
	if len(v.Path) > 0 {
		s += fmt.Sprintf(" path %v", v.Path)
	}
	if v.Detail != "" {
		s += ": " + v.Detail
	}
	return s
}

// Report is the verifier's view of the converged forwarding state for one prefix.
type Report struct {
	Prefix netip.Prefix
	// Paths holds the forwarding path from every node that has a route.
	Paths       map[state.NodeId][]state.NodeId
	Unreachable []state.NodeId
	Violations  []Violation
}

func (r *Report) OK() bool {
	return len(r.Violations) == 0
}

// TracePath follows forwarding table lookups for addr starting at from. It stops at the origin,
// at an external session, at a node without a route (black hole) or on a revisit (loop).
func TracePath(topo *state.Topology, from state.NodeId, addr netip.Addr) ([]state.NodeId, *ViolationKind) {
	path := []state.NodeId{from}
	cur := topo.Node(from)
	for {
		nh, ok := cur.RIB.Lookup(addr)
		if !ok {
			k := BlackHole
			return path, &k
		}
		if nh == cur.Id {
			return path, nil
		}
		if sess, ok := cur.Session(nh); ok && sess.External {
			return append(path, nh), nil
		}
		next := topo.Node(nh)
		if next == nil {
			k := BlackHole
			return append(path, nh), &k
		}
		if slices.Contains(path, nh) {
			k := ForwardingLoop
			return append(path, nh), &k
		}
		path = append(path, nh)
		cur = next
	}
}

// Verify walks the forwarding state towards cfg.Prefix from every node and audits routing
// invariants on every node and prefix.
func Verify(topo *state.Topology, cfg state.SimulationConfig) *Report {
	prefix := cfg.Prefix
	rep := &Report{
		Prefix: prefix,
		Paths:  make(map[state.NodeId][]state.NodeId),
	}
	if prefix.IsValid() {
		addr := prefix.Masked().Addr()
		for _, id := range topo.NodeIds() {
			n := topo.Node(id)
			if _, ok := n.RIB.Lookup(addr); !ok {
				rep.Unreachable = append(rep.Unreachable, id)
				continue
			}
			path, kind := TracePath(topo, id, addr)
			rep.Paths[id] = path
			if kind != nil {
				rep.Violations = append(rep.Violations, Violation{
					Kind:   *kind,
					Node:   id,
					Prefix: prefix,
					Path:   path,
				})
			}
		}
	}
	rep.Violations = append(rep.Violations, Audit(topo, cfg.ExportPolicy, cfg.Features.Bgp)...)
	return rep
}

// Audit checks that no node selected a route containing its own ASN, that Adj-RIB-Out only holds
// routes the export policy allows and, when updates were delivered, that every neighbour holds
// what it was last sent.
func Audit(topo *state.Topology, policy state.ExportPolicy, delivered bool) []Violation {
	out := make([]Violation, 0)
	for _, id := range topo.NodeIds() {
		n := topo.Node(id)
		for _, prefix := range n.RIB.SelectedPrefixes() {
			best, _ := n.RIB.Best(prefix)
			if best.Route.HasASN(n.ASN) {
				out = append(out, Violation{Kind: LoopedRoute, Node: id, Prefix: prefix, Detail: best.Route.String()})
			}
		}
		for _, prefix := range sortedAdjOut(n) {
			best, ok := n.RIB.Best(prefix)
			learned := learnedRelation(n, best)
			for _, neigh := range sortedNeighbours(n.AdjOut[prefix]) {
				adv := n.AdjOut[prefix][neigh]
				sess := n.Sessions[neigh]
				if !ok || !policy.Exportable(learned, sess.Relation) {
					out = append(out, Violation{
						Kind:   PolicyViolation,
						Node:   id,
						Prefix: prefix,
						Detail: fmt.Sprintf("%s-learned route exported to %s %s", learned, sess.Relation, neigh),
					})
				}
				remote := topo.Node(neigh)
				if !delivered || remote == nil || adv.HasASN(remote.ASN) {
					continue
				}
				got, has := candidateFrom(remote, prefix, id)
				if !has || !got.Equal(adv) {
					out = append(out, Violation{
						Kind:   StaleAdvertisement,
						Node:   id,
						Prefix: prefix,
						Detail: fmt.Sprintf("%s holds %v, was sent %s", neigh, got, adv),
					})
				}
			}
		}
	}
	return out
}

func candidateFrom(n *state.Node, prefix netip.Prefix, from state.NodeId) (state.Route, bool) {
	for _, c := range n.RIB.Candidates(prefix) {
		if c.From == from {
			return c.Route, true
		}
	}
	return state.Route{}, false
}
