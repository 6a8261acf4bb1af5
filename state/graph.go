package state

import (
	"fmt"
	"slices"
	"strings"
)

func parseSymbolList(s string, validSymbols []string) ([]string, error) {
	line := make([]string, 0)
	for _, sym := range strings.Split(strings.TrimSpace(s), ",") {
		x := strings.TrimSpace(sym)
		if x == "" {
			continue
		}
		if !slices.Contains(validSymbols, x) {
			return nil, fmt.Errorf(`%s is not a valid node/group`, x)
		}
		line = append(line, x)
	}
	if len(line) == 0 {
		return nil, fmt.Errorf(`node/group list must not be empty`)
	}
	slices.Sort(line)
	return line, nil
}

/*
ParseGraph expands a peering graph into node pairs.

	tier1 = a, b, c      // group definition
	edge = d, e
	tier1, tier1         // full mesh inside tier1
	tier1, edge          // every tier1 node with every edge node, not within the groups
	d, e                 // a single pairing

Lines are case-insensitive. Groups may reference other groups but not form cycles.
*/
func ParseGraph(graph []string, nodes []string) ([]Pair[NodeId, NodeId], error) {
	groups := make(map[string][]string)
	symbols := slices.Clone(nodes)
	var defs, meshes []string

	for _, line := range graph {
		line = strings.ToLower(strings.TrimSpace(line))
		if !strings.Contains(line, "=") {
			meshes = append(meshes, line)
			continue
		}
		spl := strings.Split(line, "=")
		if len(spl) != 2 {
			return nil, fmt.Errorf("invalid graph: %s. group definition must contain one '='", line)
		}
		grp := strings.TrimSpace(spl[0])
		if slices.Contains(nodes, grp) {
			return nil, fmt.Errorf("group name must not be a node name: %s", grp)
		}
		if _, ok := groups[grp]; ok {
			return nil, fmt.Errorf("duplicate group name: %s", grp)
		}
		groups[grp] = nil
		symbols = append(symbols, grp)
		defs = append(defs, line)
	}

	for _, line := range defs {
		spl := strings.Split(line, "=")
		members, err := parseSymbolList(spl[1], symbols)
		if err != nil {
			return nil, err
		}
		groups[strings.TrimSpace(spl[0])] = members
	}

	expanded := make(map[string][]NodeId)
	var expand func(sym string, stack []string) ([]NodeId, error)
	expand = func(sym string, stack []string) ([]NodeId, error) {
		if slices.Contains(nodes, sym) {
			return []NodeId{NodeId(sym)}, nil
		}
		if res, ok := expanded[sym]; ok {
			return res, nil
		}
		if slices.Contains(stack, sym) {
			cycle := slices.Clone(stack[slices.Index(stack, sym):])
			slices.Sort(cycle)
			return nil, fmt.Errorf("cycle detected in graph: %v", cycle)
		}
		res := make([]NodeId, 0)
		for _, m := range groups[sym] {
			sub, err := expand(m, append(stack, sym))
			if err != nil {
				return nil, err
			}
			res = append(res, sub...)
		}
		slices.Sort(res)
		res = slices.Compact(res)
		expanded[sym] = res
		return res, nil
	}

	pairings := make([]Pair[NodeId, NodeId], 0)
	for _, line := range meshes {
		names, err := parseSymbolList(line, symbols)
		if err != nil {
			return nil, err
		}
		if len(names) < 2 {
			return nil, fmt.Errorf("invalid pairing, %v", names)
		}
		sets := make([][]NodeId, 0, len(names))
		for _, name := range names {
			set, err := expand(name, nil)
			if err != nil {
				return nil, err
			}
			sets = append(sets, set)
		}
		for i := range sets {
			for j := i + 1; j < len(sets); j++ {
				for _, x := range sets[i] {
					for _, y := range sets[j] {
						if x != y {
							pairings = append(pairings, MakeSortedPair(x, y))
						}
					}
				}
			}
		}
	}
	// groups that are only defined still have to be cycle free
	for _, line := range defs {
		if _, err := expand(strings.TrimSpace(strings.Split(line, "=")[0]), nil); err != nil {
			return nil, err
		}
	}
	SortPairs(pairings)
	return slices.Compact(pairings), nil
}
