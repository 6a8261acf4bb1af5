package core

import (
	"fmt"
	"maps"
	"net/netip"
	"slices"

	"github.com/encodeous/routesim/state"
)

func parsePrefix(s string) (netip.Prefix, error) {
	p, err := netip.ParsePrefix(s)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid prefix %q: %w", s, err)
	}
	return p.Masked(), nil
}

func sortedAdjOut(n *state.Node) []netip.Prefix {
	return slices.SortedFunc(maps.Keys(n.AdjOut), state.ComparePrefix)
}

func sortedNeighbours(m map[state.NodeId]state.Route) []state.NodeId {
	return slices.Sorted(maps.Keys(m))
}
