package state

import (
	"cmp"
	"maps"
	"net/netip"
	"slices"

	"github.com/gaissmai/bart"
)

// Candidate is a route together with the session it was learned from.
type Candidate struct {
	From  NodeId
	Route Route
}

// Better reports whether a is preferred over b: shorter AS path first, then the lower
// next hop. The sending session breaks any remaining tie so the order is total.
func (a Candidate) Better(b Candidate) bool {
	if a.Route.PathLen() != b.Route.PathLen() {
		return a.Route.PathLen() < b.Route.PathLen()
	}
	if a.Route.NextHop != b.Route.NextHop {
		return a.Route.NextHop < b.Route.NextHop
	}
	return a.From < b.From
}

type RibEntry struct {
	Prefix     netip.Prefix
	Best       *Candidate
	Candidates []Candidate
}

// RouteStore is the per-node Adj-RIB-In plus Loc-RIB. It must only be touched by the owning node.
type RouteStore struct {
	// LocalASN filters out looped routes during selection.
	LocalASN   ASN
	candidates map[netip.Prefix]map[NodeId]Route
	best       map[netip.Prefix]Candidate
	// fib maps each selected prefix to the session traffic is forwarded to
	fib bart.Table[NodeId]
}

func NewRouteStore(local ASN) *RouteStore {
	return &RouteStore{
		LocalASN:   local,
		candidates: make(map[netip.Prefix]map[NodeId]Route),
		best:       make(map[netip.Prefix]Candidate),
	}
}

// Upsert inserts or replaces the candidate from neighbour and reports whether the best route changed.
func (s *RouteStore) Upsert(prefix netip.Prefix, neighbour NodeId, route Route) bool {
	prefix = prefix.Masked()
	route.Prefix = prefix
	tbl, ok := s.candidates[prefix]
	if !ok {
		tbl = make(map[NodeId]Route)
		s.candidates[prefix] = tbl
	}
	if old, ok := tbl[neighbour]; ok && old.Equal(route) {
		return false
	}
	tbl[neighbour] = route
	return s.reselect(prefix)
}

// Withdraw removes the candidate from neighbour. Unknown prefixes and neighbours are a no-op.
func (s *RouteStore) Withdraw(prefix netip.Prefix, neighbour NodeId) bool {
	prefix = prefix.Masked()
	tbl, ok := s.candidates[prefix]
	if !ok {
		return false
	}
	if _, ok := tbl[neighbour]; !ok {
		return false
	}
	delete(tbl, neighbour)
	if len(tbl) == 0 {
		delete(s.candidates, prefix)
	}
	return s.reselect(prefix)
}

func (s *RouteStore) Best(prefix netip.Prefix) (Candidate, bool) {
	c, ok := s.best[prefix.Masked()]
	return c, ok
}

// Candidates lists every candidate for prefix, best first. Looped candidates come last.
func (s *RouteStore) Candidates(prefix netip.Prefix) []Candidate {
	tbl := s.candidates[prefix.Masked()]
	out := make([]Candidate, 0, len(tbl))
	for from, r := range tbl {
		out = append(out, Candidate{From: from, Route: r})
	}
	slices.SortFunc(out, func(a, b Candidate) int {
		ua, ub := s.usable(a.Route), s.usable(b.Route)
		if ua != ub {
			if ua {
				return -1
			}
			return 1
		}
		if a.Better(b) {
			return -1
		}
		if b.Better(a) {
			return 1
		}
		return 0
	})
	return out
}

// Multipath returns the selectable candidates tied with the best route on AS path length.
func (s *RouteStore) Multipath(prefix netip.Prefix) []Candidate {
	best, ok := s.Best(prefix)
	if !ok {
		return nil
	}
	out := make([]Candidate, 0)
	for _, c := range s.Candidates(prefix) {
		if s.usable(c.Route) && c.Route.PathLen() == best.Route.PathLen() {
			out = append(out, c)
		}
	}
	return out
}

// Lookup performs a longest-prefix match over the selected routes and returns the forwarding session.
func (s *RouteStore) Lookup(addr netip.Addr) (NodeId, bool) {
	return s.fib.Lookup(addr)
}

// Prefixes returns every prefix with at least one candidate, in address order.
func (s *RouteStore) Prefixes() []netip.Prefix {
	return slices.SortedFunc(maps.Keys(s.candidates), ComparePrefix)
}

// SelectedPrefixes returns the prefixes that currently have a best route.
func (s *RouteStore) SelectedPrefixes() []netip.Prefix {
	return slices.SortedFunc(maps.Keys(s.best), ComparePrefix)
}

func (s *RouteStore) Snapshot() []RibEntry {
	out := make([]RibEntry, 0, len(s.candidates))
	for _, prefix := range s.Prefixes() {
		entry := RibEntry{
			Prefix:     prefix,
			Candidates: s.Candidates(prefix),
		}
		if best, ok := s.best[prefix]; ok {
			entry.Best = &best
		}
		out = append(out, entry)
	}
	return out
}

func (s *RouteStore) usable(r Route) bool {
	return !r.HasASN(s.LocalASN)
}

func (s *RouteStore) reselect(prefix netip.Prefix) bool {
	var sel *Candidate
	for from, r := range s.candidates[prefix] {
		if !s.usable(r) {
			continue // a looped route is never selected
		}
		c := Candidate{From: from, Route: r}
		if sel == nil || c.Better(*sel) {
			sel = &c
		}
	}

	old, had := s.best[prefix]
	if sel == nil {
		if !had {
			return false
		}
		delete(s.best, prefix)
		s.fib.Delete(prefix)
		return true
	}
	if had && old.From == sel.From && old.Route.Equal(sel.Route) {
		return false
	}
	s.best[prefix] = *sel
	s.fib.Insert(prefix, sel.From)
	return true
}

func ComparePrefix(a, b netip.Prefix) int {
	if c := a.Addr().Compare(b.Addr()); c != 0 {
		return c
	}
	return cmp.Compare(a.Bits(), b.Bits())
}
