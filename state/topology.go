package state

import (
	"maps"
	"net/netip"
	"slices"
	"strings"
)

// Session is one side of a BGP session as seen by the local node.
type Session struct {
	Remote   NodeId
	Relation Relation
	// External sessions lead to injected peers outside the simulated topology. Nothing is
	// exported over them.
	External bool
	Address  netip.Addr
}

// Node is a single simulated AS. Routing state is only mutated by the path-vector engine
// while it processes an event addressed to this node.
type Node struct {
	Id         NodeId
	Index      int
	ASN        ASN
	Sessions   map[NodeId]Session
	Originated []netip.Prefix
	RIB        *RouteStore
	// AdjOut holds the route last announced to each neighbour, per prefix
	AdjOut map[netip.Prefix]map[NodeId]Route
	// Local holds the prefixes this node currently originates
	Local map[netip.Prefix]struct{}
}

// Neighbours returns the internal sessions ordered by id.
func (n *Node) Neighbours() []NodeId {
	out := make([]NodeId, 0, len(n.Sessions))
	for id, s := range n.Sessions {
		if !s.External {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

func (n *Node) Session(id NodeId) (Session, bool) {
	s, ok := n.Sessions[id]
	return s, ok
}

// Advertised returns what this node last announced to neigh for prefix.
func (n *Node) Advertised(prefix netip.Prefix, neigh NodeId) (Route, bool) {
	r, ok := n.AdjOut[prefix][neigh]
	return r, ok
}

type External struct {
	Name     NodeId
	Address  netip.Addr
	Node     NodeId
	Relation Relation
}

// Topology owns all nodes. Its shape is fixed once built.
type Topology struct {
	nodes     map[NodeId]*Node
	externals []External
}

func (t *Topology) Node(id NodeId) *Node {
	return t.nodes[id]
}

// NodeIds returns all node ids in index order.
func (t *Topology) NodeIds() []NodeId {
	ids := slices.Collect(maps.Keys(t.nodes))
	slices.SortFunc(ids, func(a, b NodeId) int {
		if d := t.nodes[a].Index - t.nodes[b].Index; d != 0 {
			return d
		}
		return strings.Compare(string(a), string(b))
	})
	return ids
}

func (t *Topology) Len() int {
	return len(t.nodes)
}

func (t *Topology) Externals() []External {
	return slices.Clone(t.externals)
}

// FindExternal resolves an external session by name or address. An empty key selects the
// first external session.
func (t *Topology) FindExternal(key string) (External, bool) {
	if key == "" {
		if len(t.externals) == 0 {
			return External{}, false
		}
		return t.externals[0], true
	}
	for _, e := range t.externals {
		if string(e.Name) == key || (e.Address.IsValid() && e.Address.String() == key) {
			return e, true
		}
	}
	return External{}, false
}

type linkSpec struct {
	from, to NodeId
	rel      Relation
}

// TopologyBuilder collects nodes and sessions and validates them on Build.
type TopologyBuilder struct {
	nodes     []NodeCfg
	links     []linkSpec
	externals []External
}

func NewTopologyBuilder() *TopologyBuilder {
	return &TopologyBuilder{}
}

func (b *TopologyBuilder) AddNode(id NodeId, asn ASN, routes ...netip.Prefix) *TopologyBuilder {
	b.nodes = append(b.nodes, NodeCfg{
		Index:  len(b.nodes),
		Name:   id,
		ASN:    asn,
		Routes: routes,
	})
	return b
}

// Link adds a session where to has relation rel from the perspective of from.
func (b *TopologyBuilder) Link(from, to NodeId, rel Relation) *TopologyBuilder {
	b.links = append(b.links, linkSpec{from, to, rel})
	return b
}

// Provider makes provider the upstream of customer.
func (b *TopologyBuilder) Provider(provider, customer NodeId) *TopologyBuilder {
	return b.Link(provider, customer, RelCustomer)
}

func (b *TopologyBuilder) Peer(a, c NodeId) *TopologyBuilder {
	return b.Link(a, c, RelPeer)
}

func (b *TopologyBuilder) External(name NodeId, addr netip.Addr, node NodeId, rel Relation) *TopologyBuilder {
	b.externals = append(b.externals, External{
		Name:     name,
		Address:  addr,
		Node:     node,
		Relation: rel,
	})
	return b
}

func (b *TopologyBuilder) Build() (*Topology, error) {
	t := &Topology{
		nodes: make(map[NodeId]*Node),
	}
	asns := make(map[ASN]NodeId)
	for _, cfg := range b.nodes {
		if err := NameValidator(string(cfg.Name)); err != nil {
			return nil, topologyErr(cfg.Name, "%v", err)
		}
		if _, ok := t.nodes[cfg.Name]; ok {
			return nil, topologyErr(cfg.Name, "duplicate node")
		}
		if cfg.ASN == 0 {
			return nil, topologyErr(cfg.Name, "asn must not be 0")
		}
		if other, ok := asns[cfg.ASN]; ok {
			return nil, topologyErr(cfg.Name, "asn %d already used by %s", cfg.ASN, other)
		}
		asns[cfg.ASN] = cfg.Name
		for _, p := range cfg.Routes {
			if !p.IsValid() {
				return nil, topologyErr(cfg.Name, "invalid originated prefix")
			}
		}
		t.nodes[cfg.Name] = &Node{
			Id:         cfg.Name,
			Index:      cfg.Index,
			ASN:        cfg.ASN,
			Sessions:   make(map[NodeId]Session),
			Originated: slices.Clone(cfg.Routes),
			RIB:        NewRouteStore(cfg.ASN),
			AdjOut:     make(map[netip.Prefix]map[NodeId]Route),
			Local:      make(map[netip.Prefix]struct{}),
		}
	}

	for _, l := range b.links {
		from, ok := t.nodes[l.from]
		if !ok {
			return nil, topologyErr(l.from, "link references unknown node %s", l.from)
		}
		to, ok := t.nodes[l.to]
		if !ok {
			return nil, topologyErr(l.from, "link references unknown neighbour %s", l.to)
		}
		if l.from == l.to {
			return nil, topologyErr(l.from, "self-loop in adjacency")
		}
		if l.rel == RelSelf || l.rel > RelProvider {
			return nil, topologyErr(l.from, "invalid relation %s towards %s", l.rel, l.to)
		}
		if _, ok := from.Sessions[l.to]; ok {
			return nil, topologyErr(l.from, "duplicate session with %s", l.to)
		}
		from.Sessions[l.to] = Session{Remote: l.to, Relation: l.rel}
		to.Sessions[l.from] = Session{Remote: l.from, Relation: l.rel.Reverse()}
	}

	for _, e := range b.externals {
		if err := NameValidator(string(e.Name)); err != nil {
			return nil, topologyErr(e.Node, "external %v", err)
		}
		if _, ok := t.nodes[e.Name]; ok {
			return nil, topologyErr(e.Node, "external session name %s collides with a node", e.Name)
		}
		n, ok := t.nodes[e.Node]
		if !ok {
			return nil, topologyErr(e.Node, "external session %s attached to unknown node", e.Name)
		}
		if e.Relation == RelSelf || e.Relation > RelProvider {
			return nil, topologyErr(e.Node, "invalid relation %s for external %s", e.Relation, e.Name)
		}
		if slices.ContainsFunc(t.externals, func(o External) bool { return o.Name == e.Name }) {
			return nil, topologyErr(e.Node, "duplicate external session %s", e.Name)
		}
		n.Sessions[e.Name] = Session{
			Remote:   e.Name,
			Relation: e.Relation,
			External: true,
			Address:  e.Address,
		}
		t.externals = append(t.externals, e)
	}
	return t, nil
}
