package state

import (
	"fmt"
	"net/netip"
	"slices"
	"strings"
)

type NodeId string

// ASN is an autonomous system number. Zero is reserved and never valid in a topology.
type ASN uint32

// Tick is a unit of virtual simulation time.
type Tick uint64

type Origin uint8

const (
	OriginIGP Origin = iota
	OriginEGP
	OriginIncomplete
)

func (o Origin) String() string {
	switch o {
	case OriginIGP:
		return "igp"
	case OriginEGP:
		return "egp"
	case OriginIncomplete:
		return "incomplete"
	}
	return fmt.Sprintf("origin(%d)", uint8(o))
}

// Route is a path-vector advertisement for a single prefix.
type Route struct {
	Prefix      netip.Prefix
	NextHop     NodeId
	ASPath      []ASN
	Origin      Origin
	Med         *uint32  `yaml:",omitempty"`
	Communities []string `yaml:",omitempty"`
}

// HasASN reports whether asn appears anywhere in the AS path.
func (r Route) HasASN(asn ASN) bool {
	return slices.Contains(r.ASPath, asn)
}

// PathLen is the number of AS hops in the path.
func (r Route) PathLen() int {
	return len(r.ASPath)
}

// Prepend returns a copy of the route with asn at the head of the path and the
// next hop rewritten to nh.
func (r Route) Prepend(asn ASN, nh NodeId) Route {
	path := make([]ASN, 0, len(r.ASPath)+1)
	path = append(path, asn)
	path = append(path, r.ASPath...)
	out := r
	out.ASPath = path
	out.NextHop = nh
	out.Communities = slices.Clone(r.Communities)
	return out
}

// Equal compares all route attributes.
func (r Route) Equal(o Route) bool {
	if r.Prefix != o.Prefix || r.NextHop != o.NextHop || r.Origin != o.Origin {
		return false
	}
	if !slices.Equal(r.ASPath, o.ASPath) || !slices.Equal(r.Communities, o.Communities) {
		return false
	}
	if (r.Med == nil) != (o.Med == nil) {
		return false
	}
	return r.Med == nil || *r.Med == *o.Med
}

func (r Route) String() string {
	path := make([]string, 0, len(r.ASPath))
	for _, asn := range r.ASPath {
		path = append(path, fmt.Sprint(uint32(asn)))
	}
	return fmt.Sprintf("(prefix: %s, nh: %s, path: [%s])", r.Prefix, r.NextHop, strings.Join(path, " "))
}

type EventKind uint8

const (
	Announce EventKind = iota
	Withdraw
)

func (k EventKind) String() string {
	switch k {
	case Announce:
		return "announce"
	case Withdraw:
		return "withdraw"
	}
	return fmt.Sprintf("event(%d)", uint8(k))
}

// Event is a single update travelling over a session from From to To.
type Event struct {
	Kind   EventKind
	Time   Tick
	To     NodeId
	From   NodeId
	Prefix netip.Prefix
	// Route is only set for Announce events.
	Route Route
}

func (e Event) String() string {
	if e.Kind == Announce {
		return fmt.Sprintf("t=%d %s %s -> %s %s", e.Time, e.Kind, e.From, e.To, e.Route)
	}
	return fmt.Sprintf("t=%d %s %s -> %s %s", e.Time, e.Kind, e.From, e.To, e.Prefix)
}

func MakeAnnounce(from, to NodeId, route Route) Event {
	return Event{
		Kind:   Announce,
		To:     to,
		From:   from,
		Prefix: route.Prefix,
		Route:  route,
	}
}

func MakeWithdraw(from, to NodeId, prefix netip.Prefix) Event {
	return Event{
		Kind:   Withdraw,
		To:     to,
		From:   from,
		Prefix: prefix,
	}
}
