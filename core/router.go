package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"

	"github.com/encodeous/routesim/state"
)

type RouterEvent int

// trace events

const (
	RouteSelected RouterEvent = iota
	RouteLost
	CandidateUpdated
	LoopDetected
	DuplicateSuppressed
	RouteOriginated
	RouteRetracted
	PropagationDisabled
)

// warn events

const (
	UnknownSession RouterEvent = iota + 1000
	InvalidRoute
)

func (e RouterEvent) String() string {
	switch e {
	case RouteSelected:
		return "ROUTE_SELECTED"
	case RouteLost:
		return "ROUTE_LOST"
	case CandidateUpdated:
		return "CANDIDATE_UPDATED"
	case LoopDetected:
		return "LOOP_DETECTED"
	case DuplicateSuppressed:
		return "DUPLICATE_SUPPRESSED"
	case RouteOriginated:
		return "ROUTE_ORIGINATED"
	case RouteRetracted:
		return "ROUTE_RETRACTED"
	case PropagationDisabled:
		return "PROPAGATION_DISABLED"
	case UnknownSession:
		return "UNKNOWN_SESSION"
	case InvalidRoute:
		return "INVALID_ROUTE"
	}
	return fmt.Sprintf("ROUTER_EVENT(%d)", int(e))
}

// Router is the output side of the path-vector engine
type Router interface {
	SendAnnounce(from, to state.NodeId, route state.Route)
	SendWithdraw(from, to state.NodeId, prefix netip.Prefix)
	ExportPolicy() state.ExportPolicy
	Log(event RouterEvent, desc string, args ...any)
}

// simRouter feeds engine output back into the scheduler.
type simRouter struct {
	sim *Simulation
}

func (r *simRouter) push(ev state.Event) {
	s := r.sim
	if !s.Config.Features.Bgp {
		s.dropped++
		r.Log(PropagationDisabled, "update not propagated", "event", ev)
		return
	}
	s.sched.Push(ev, s.sched.Now()+s.Config.PropagationDelay)
}

func (r *simRouter) SendAnnounce(from, to state.NodeId, route state.Route) {
	r.push(state.MakeAnnounce(from, to, route))
}

func (r *simRouter) SendWithdraw(from, to state.NodeId, prefix netip.Prefix) {
	r.push(state.MakeWithdraw(from, to, prefix))
}

func (r *simRouter) ExportPolicy() state.ExportPolicy {
	return r.sim.Config.ExportPolicy
}

func (r *simRouter) Log(event RouterEvent, desc string, args ...any) {
	level := slog.LevelDebug
	if event >= UnknownSession {
		level = slog.LevelWarn
	} else if r.sim.Config.Features.Simple {
		return
	}
	args = append(args, "tick", r.sim.sched.Now())
	r.sim.Log.Log(context.Background(), level, fmt.Sprintf("%s %s", event.String(), desc), args...)
}
