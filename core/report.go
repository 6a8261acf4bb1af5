package core

import (
	"fmt"
	"io"
	"net/netip"
	"strings"

	"github.com/encodeous/routesim/state"
)

// NodeSnapshot is a deterministic dump of one node's routing state.
type NodeSnapshot struct {
	Id     state.NodeId
	ASN    state.ASN
	Routes []state.RibEntry
	// Multipath is only populated when load balancing is enabled.
	Multipath map[netip.Prefix][]state.NodeId
}

// Snapshot dumps every node in index order.
func (s *Simulation) Snapshot() []NodeSnapshot {
	out := make([]NodeSnapshot, 0, s.Topology.Len())
	for _, id := range s.Topology.NodeIds() {
		n := s.Topology.Node(id)
		snap := NodeSnapshot{
			Id:     id,
			ASN:    n.ASN,
			Routes: n.RIB.Snapshot(),
		}
		if s.Config.Features.LoadBalancing {
			snap.Multipath = make(map[netip.Prefix][]state.NodeId)
			for _, prefix := range n.RIB.SelectedPrefixes() {
				for _, c := range n.RIB.Multipath(prefix) {
					snap.Multipath[prefix] = append(snap.Multipath[prefix], c.From)
				}
			}
		}
		out = append(out, snap)
	}
	return out
}

// NextHops returns where node forwards traffic for prefix. With load balancing every equal length
// candidate is included.
func (s *Simulation) NextHops(id state.NodeId, prefix netip.Prefix) []state.NodeId {
	n := s.Topology.Node(id)
	if n == nil {
		return nil
	}
	if s.Config.Features.LoadBalancing {
		out := make([]state.NodeId, 0)
		for _, c := range n.RIB.Multipath(prefix) {
			out = append(out, c.From)
		}
		return out
	}
	if best, ok := n.RIB.Best(prefix); ok {
		return []state.NodeId{best.From}
	}
	return nil
}

// WriteFwState prints the forwarding next hops of every node towards the prefix of interest.
func (s *Simulation) WriteFwState(w io.Writer) error {
	prefix := s.Config.Prefix
	if !prefix.IsValid() {
		_, err := fmt.Fprintln(w, "no prefix of interest configured")
		return err
	}
	sb := strings.Builder{}
	sb.WriteString(fmt.Sprintf("forwarding state for %s\n", prefix))
	for _, id := range s.Topology.NodeIds() {
		nhs := s.NextHops(id, prefix)
		switch {
		case len(nhs) == 0:
			sb.WriteString(fmt.Sprintf("%s -> (drop)\n", id))
		case len(nhs) == 1 && nhs[0] == id:
			sb.WriteString(fmt.Sprintf("%s -> (local)\n", id))
		default:
			parts := make([]string, 0, len(nhs))
			for _, nh := range nhs {
				parts = append(parts, string(nh))
			}
			sb.WriteString(fmt.Sprintf("%s -> %s\n", id, strings.Join(parts, ", ")))
		}
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

// WriteRouteTable prints every node's full route table.
func (s *Simulation) WriteRouteTable(w io.Writer) error {
	sb := strings.Builder{}
	for _, snap := range s.Snapshot() {
		n := s.Topology.Node(snap.Id)
		sb.WriteString(fmt.Sprintf("%s (as%d)\n", snap.Id, snap.ASN))
		for _, entry := range snap.Routes {
			for _, c := range entry.Candidates {
				mark := " "
				if entry.Best != nil && entry.Best.From == c.From {
					mark = "*"
				}
				if c.Route.HasASN(snap.ASN) {
					mark = "x"
				}
				sb.WriteString(fmt.Sprintf("  %s %s via %s\n", mark, c.Route, c.From))
			}
		}
		if reach := n.Reachable(); len(reach) > 0 {
			sb.WriteString(fmt.Sprintf("  reachable: %v\n", reach))
		}
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

// WriteLayer prints the configured output layer.
func (s *Simulation) WriteLayer(w io.Writer) error {
	if s.Config.Layer == state.LayerRouteTable {
		return s.WriteRouteTable(w)
	}
	return s.WriteFwState(w)
}

func (r Result) String() string {
	return fmt.Sprintf("%s at tick %d: processed=%d superseded=%d pending=%d injected=%d parse_errors=%d",
		r.Outcome, r.Tick, r.Processed, r.Superseded, r.Pending, r.Injected, r.ParseErrors)
}
