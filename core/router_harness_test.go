package core

import (
	"fmt"
	"net/netip"
	"slices"
	"strings"
	"testing"

	"github.com/encodeous/routesim/state"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

type HarnessEvent struct {
	Message string
	Args    []any
}

func MakeEvent(msg string, args ...any) HarnessEvent {
	return HarnessEvent{
		Message: msg,
		Args:    args,
	}
}

// RouterHarness records engine output instead of scheduling it.
type RouterHarness struct {
	Policy  state.ExportPolicy
	actions []HarnessEvent
}

func (h *RouterHarness) SendAnnounce(from, to state.NodeId, route state.Route) {
	h.actions = append(h.actions, MakeEvent("ANNOUNCE", to, route))
}

func (h *RouterHarness) SendWithdraw(from, to state.NodeId, prefix netip.Prefix) {
	h.actions = append(h.actions, MakeEvent("WITHDRAW", to, prefix))
}

func (h *RouterHarness) ExportPolicy() state.ExportPolicy {
	return h.Policy
}

func (h *RouterHarness) Log(event RouterEvent, desc string, args ...any) {
	x := make([]any, 0)
	x = append(x, event)
	x = append(x, desc)
	x = append(x, args...)
	h.actions = append(h.actions, MakeEvent("LOG", x...))
}

type HarnessEvents []HarnessEvent

func (h HarnessEvents) String() string {
	out := make([]string, 0)
	for _, action := range h {
		cur := action.Message
		for _, arg := range action.Args {
			cur += " " + fmt.Sprint(arg)
		}
		out = append(out, cur)
	}
	slices.Sort(out)
	return strings.Join(out, "\n")
}

// GetActions returns and clears the recorded non-log actions.
func (h *RouterHarness) GetActions() HarnessEvents {
	x := make([]HarnessEvent, 0)
	for _, action := range h.actions {
		if action.Message != "LOG" {
			x = append(x, action)
		}
	}

	h.actions = make([]HarnessEvent, 0)
	return x
}

// Logs returns the router events recorded since the last GetActions.
func (h *RouterHarness) Logs() []RouterEvent {
	x := make([]RouterEvent, 0)
	for _, action := range h.actions {
		if action.Message == "LOG" {
			x = append(x, action.Args[0].(RouterEvent))
		}
	}
	return x
}

func (e HarnessEvents) contains(msg string, args ...any) bool {
	for _, event := range e {
		if event.Message == msg {
			if len(event.Args) >= len(args) {
				match := true
				for i, arg := range args {
					if !cmp.Equal(event.Args[i], arg, cmpopts.EquateComparable(netip.Prefix{}), cmpopts.EquateEmpty()) {
						match = false
						break
					}
				}
				if match {
					return true
				}
			}
		}
	}
	return false
}

func (e HarnessEvents) AssertContains(t *testing.T, msg string, args ...any) {
	t.Helper()
	if e.contains(msg, args...) {
		return
	}
	t.Fatal("Expected event not found: ", msg, " with args: ", args, " in ", e)
}

func (e HarnessEvents) AssertNotContains(t *testing.T, msg string, args ...any) {
	t.Helper()
	if e.contains(msg, args...) {
		t.Fatal("Unexpected event found: ", msg, " with args: ", args, " in ", e)
	}
}

func MakeRoute(prefix string, nh state.NodeId, path ...state.ASN) state.Route {
	return state.Route{
		Prefix:  netip.MustParsePrefix(prefix),
		NextHop: nh,
		ASPath:  path,
	}
}

// MakeNode builds a standalone node with the given sessions, keyed by remote id.
func MakeNode(id state.NodeId, asn state.ASN, sessions map[state.NodeId]state.Relation) *state.Node {
	n := &state.Node{
		Id:       id,
		ASN:      asn,
		Sessions: make(map[state.NodeId]state.Session),
		RIB:      state.NewRouteStore(asn),
		AdjOut:   make(map[netip.Prefix]map[state.NodeId]state.Route),
		Local:    make(map[netip.Prefix]struct{}),
	}
	for remote, rel := range sessions {
		n.Sessions[remote] = state.Session{Remote: remote, Relation: rel}
	}
	return n
}

func AddExternal(n *state.Node, name state.NodeId, rel state.Relation) {
	n.Sessions[name] = state.Session{Remote: name, Relation: rel, External: true}
}
