package core

import (
	"net/netip"

	"github.com/encodeous/routesim/state"
)

// learnedRelation is the relation of the session the node's best route came from.
func learnedRelation(n *state.Node, best state.Candidate) state.Relation {
	if best.From == n.Id {
		return state.RelSelf
	}
	sess, ok := n.Session(best.From)
	if !ok {
		return state.RelSelf
	}
	return sess.Relation
}

func setAdjOut(n *state.Node, prefix netip.Prefix, neigh state.NodeId, route state.Route) {
	tbl, ok := n.AdjOut[prefix]
	if !ok {
		tbl = make(map[state.NodeId]state.Route)
		n.AdjOut[prefix] = tbl
	}
	tbl[neigh] = route
}

func deleteAdjOut(n *state.Node, prefix netip.Prefix, neigh state.NodeId) {
	tbl, ok := n.AdjOut[prefix]
	if !ok {
		return
	}
	delete(tbl, neigh)
	if len(tbl) == 0 {
		delete(n.AdjOut, prefix)
	}
}

// Disseminate brings every neighbour's view of prefix in line with the node's current best route.
// Eligible neighbours receive the best route with our ASN prepended, everyone else that was sent
// the route before receives a withdraw. Nothing is sent when the neighbour already has the same route.
func Disseminate(n *state.Node, r Router, prefix netip.Prefix) {
	best, ok := n.RIB.Best(prefix)
	learned := learnedRelation(n, best)
	policy := r.ExportPolicy()

	var out state.Route
	if ok {
		out = best.Route.Prepend(n.ASN, n.Id)
	}

	for _, neigh := range n.Neighbours() {
		sess := n.Sessions[neigh]
		eligible := ok && neigh != best.From && policy.Exportable(learned, sess.Relation)
		adv, had := n.Advertised(prefix, neigh)
		if eligible {
			if had && adv.Equal(out) {
				r.Log(DuplicateSuppressed, "neighbour already has route", "node", n.Id, "neigh", neigh, "route", out)
				continue
			}
			setAdjOut(n, prefix, neigh, out)
			r.SendAnnounce(n.Id, neigh, out)
		} else if had {
			deleteAdjOut(n, prefix, neigh)
			r.SendWithdraw(n.Id, neigh, prefix)
		}
	}
}

func afterUpdate(n *state.Node, r Router, prefix netip.Prefix) {
	if best, ok := n.RIB.Best(prefix); ok {
		r.Log(RouteSelected, "best route changed", "node", n.Id, "from", best.From, "route", best.Route)
	} else {
		r.Log(RouteLost, "no route left", "node", n.Id, "prefix", prefix)
	}
	Disseminate(n, r, prefix)
}

// HandleAnnounce processes an announcement received by n over the session with from.
func HandleAnnounce(n *state.Node, r Router, from state.NodeId, route state.Route) {
	if _, ok := n.Session(from); !ok {
		r.Log(UnknownSession, "announce over unknown session", "node", n.Id, "from", from, "route", route)
		return
	}
	if route.PathLen() == 0 || !route.Prefix.IsValid() {
		r.Log(InvalidRoute, "announce without as path", "node", n.Id, "from", from, "route", route)
		return
	}
	if route.HasASN(n.ASN) {
		// the neighbour's previous candidate is no longer usable either
		r.Log(LoopDetected, "own asn in path, treating as withdraw", "node", n.Id, "from", from, "route", route)
		if n.RIB.Withdraw(route.Prefix, from) {
			afterUpdate(n, r, route.Prefix.Masked())
		}
		return
	}
	if !n.RIB.Upsert(route.Prefix, from, route) {
		r.Log(CandidateUpdated, "best route unchanged", "node", n.Id, "from", from, "route", route)
		return
	}
	afterUpdate(n, r, route.Prefix.Masked())
}

// HandleWithdraw processes a withdraw of prefix received by n over the session with from.
func HandleWithdraw(n *state.Node, r Router, from state.NodeId, prefix netip.Prefix) {
	if _, ok := n.Session(from); !ok {
		r.Log(UnknownSession, "withdraw over unknown session", "node", n.Id, "from", from, "prefix", prefix)
		return
	}
	if !n.RIB.Withdraw(prefix, from) {
		r.Log(CandidateUpdated, "withdraw did not change best route", "node", n.Id, "from", from, "prefix", prefix)
		return
	}
	afterUpdate(n, r, prefix.Masked())
}

// Originate makes n the origin of prefix. The local route has an empty path and wins selection.
func Originate(n *state.Node, r Router, prefix netip.Prefix) {
	prefix = prefix.Masked()
	n.Local[prefix] = struct{}{}
	r.Log(RouteOriginated, "originating prefix", "node", n.Id, "prefix", prefix)
	changed := n.RIB.Upsert(prefix, n.Id, state.Route{
		Prefix:  prefix,
		NextHop: n.Id,
		Origin:  state.OriginIGP,
	})
	if changed {
		afterUpdate(n, r, prefix)
	}
}

// Retract stops originating prefix.
func Retract(n *state.Node, r Router, prefix netip.Prefix) {
	prefix = prefix.Masked()
	if _, ok := n.Local[prefix]; !ok {
		return
	}
	delete(n.Local, prefix)
	r.Log(RouteRetracted, "retracting prefix", "node", n.Id, "prefix", prefix)
	if n.RIB.Withdraw(prefix, n.Id) {
		afterUpdate(n, r, prefix)
	}
}
