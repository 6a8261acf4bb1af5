package state

import (
	"fmt"
	"net/netip"
	"slices"
)

type Layer string

const (
	// LayerFwState prints the forwarding next hops towards the prefix of interest.
	LayerFwState Layer = "FwState"
	// LayerRouteTable prints every node's full route table.
	LayerRouteTable Layer = "RouteTable"
)

// FeaturesCfg is the on-disk form of the feature flags. Every flag is optional.
type FeaturesCfg struct {
	LoadBalancing *bool `yaml:"load_balancing,omitempty" json:"load_balancing,omitempty"`
	Ospf          *bool `yaml:"ospf,omitempty" json:"ospf,omitempty"`
	Bgp           *bool `yaml:"bgp,omitempty" json:"bgp,omitempty"`
	Specification *bool `yaml:"specification,omitempty" json:"specification,omitempty"`
	StaticRoutes  *bool `yaml:"static_routes,omitempty" json:"static_routes,omitempty"`
	Simple        *bool `yaml:"simple,omitempty" json:"simple,omitempty"`
}

// SettingsCfg is the on-disk form of the scenario settings. Missing keys take the defaults
// applied in SimulationConfig.
type SettingsCfg struct {
	Prefix           string        `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	Layer            Layer         `yaml:"layer,omitempty" json:"layer,omitempty"`
	ManualSimulation bool          `yaml:"manual_simulation,omitempty" json:"manual_simulation,omitempty"`
	Features         FeaturesCfg   `yaml:"features" json:"features"`
	PropagationDelay *Tick         `yaml:"propagation_delay,omitempty" json:"propagation_delay,omitempty"`
	MaxTicks         *Tick         `yaml:"max_ticks,omitempty" json:"max_ticks,omitempty"`
	ExportPolicy     *ExportPolicy `yaml:"export_policy,omitempty" json:"export_policy,omitempty"`
}

// NodeCfg is one entry of config_nodes_routes: a node and the prefixes it originates.
type NodeCfg struct {
	Index  int            `yaml:"index" json:"index"`
	Name   NodeId         `yaml:"name" json:"name"`
	ASN    ASN            `yaml:"asn" json:"asn"`
	Routes []netip.Prefix `yaml:"routes,omitempty" json:"routes,omitempty"`
}

// LinkCfg is a session where To has role Relation from the perspective of From.
type LinkCfg struct {
	From     NodeId   `yaml:"from" json:"from"`
	To       NodeId   `yaml:"to" json:"to"`
	Relation Relation `yaml:"relation" json:"relation"`
}

type ExternalCfg struct {
	Name     NodeId     `yaml:"name" json:"name"`
	Address  netip.Addr `yaml:"address,omitempty" json:"address,omitempty"`
	Node     NodeId     `yaml:"node" json:"node"`
	Relation Relation   `yaml:"relation" json:"relation"`
}

// FeedEntryCfg is one scripted feed command, issued Delay ticks after the previous one.
type FeedEntryCfg struct {
	Delay   Tick   `yaml:"delay" json:"delay"`
	Command string `yaml:"command" json:"command"`
}

type Position struct {
	X float64 `yaml:"x" json:"x"`
	Y float64 `yaml:"y" json:"y"`
}

// Features are the resolved feature flags.
type Features struct {
	LoadBalancing bool
	Ospf          bool
	Bgp           bool
	Specification bool
	StaticRoutes  bool
	Simple        bool
}

// SimulationConfig is built once from the scenario settings and passed by value to
// the scheduler and engine.
type SimulationConfig struct {
	Prefix           netip.Prefix
	Layer            Layer
	ManualSimulation bool
	Features         Features
	PropagationDelay Tick
	MaxTicks         Tick
	ExportPolicy     ExportPolicy
}

func DefaultSimulationConfig() SimulationConfig {
	return SimulationConfig{
		Layer: LayerFwState,
		Features: Features{
			LoadBalancing: true,
			Ospf:          false,
			Bgp:           true,
			Specification: true,
			StaticRoutes:  true,
			Simple:        false,
		},
		PropagationDelay: DefaultPropagationDelay,
		MaxTicks:         DefaultMaxTicks,
		ExportPolicy:     PolicyValleyFree,
	}
}

func pick(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func Ptr[T any](v T) *T {
	return &v
}

// SimulationConfig resolves defaults for every optional setting and validates the result.
func (s SettingsCfg) SimulationConfig() (SimulationConfig, error) {
	cfg := DefaultSimulationConfig()
	if s.Prefix != "" {
		p, err := netip.ParsePrefix(s.Prefix)
		if err != nil {
			return cfg, fmt.Errorf("settings.prefix: %w", err)
		}
		cfg.Prefix = p.Masked()
	}
	if s.Layer != "" {
		cfg.Layer = s.Layer
	}
	cfg.ManualSimulation = s.ManualSimulation
	f := cfg.Features
	cfg.Features = Features{
		LoadBalancing: pick(s.Features.LoadBalancing, f.LoadBalancing),
		Ospf:          pick(s.Features.Ospf, f.Ospf),
		Bgp:           pick(s.Features.Bgp, f.Bgp),
		Specification: pick(s.Features.Specification, f.Specification),
		StaticRoutes:  pick(s.Features.StaticRoutes, f.StaticRoutes),
		Simple:        pick(s.Features.Simple, f.Simple),
	}
	if s.PropagationDelay != nil {
		cfg.PropagationDelay = *s.PropagationDelay
	}
	if s.MaxTicks != nil {
		cfg.MaxTicks = *s.MaxTicks
	}
	if s.ExportPolicy != nil {
		cfg.ExportPolicy = *s.ExportPolicy
	}
	return cfg, SimulationConfigValidator(&cfg)
}

// SimplePreset applies the feature preset used for plain BGP scenarios.
func (f *FeaturesCfg) SimplePreset() {
	f.LoadBalancing = Ptr(false)
	f.Ospf = Ptr(false)
	f.Bgp = Ptr(true)
	f.Specification = Ptr(false)
	f.StaticRoutes = Ptr(false)
	f.Simple = Ptr(true)
}

// GetNode looks up a node entry by name.
func (s *Scenario) GetNode(name NodeId) *NodeCfg {
	idx := slices.IndexFunc(s.ConfigNodesRoutes, func(n NodeCfg) bool {
		return n.Name == name
	})
	if idx == -1 {
		return nil
	}
	return &s.ConfigNodesRoutes[idx]
}

func (s *Scenario) NodeNames() []string {
	names := make([]string, 0, len(s.ConfigNodesRoutes))
	for _, n := range s.ConfigNodesRoutes {
		names = append(names, string(n.Name))
	}
	return names
}

// Topology builds and validates the simulated topology described by the scenario.
func (s *Scenario) Topology() (*Topology, error) {
	b := NewTopologyBuilder()
	for _, n := range s.ConfigNodesRoutes {
		b.nodes = append(b.nodes, n)
	}
	for _, l := range s.Links {
		b.Link(l.From, l.To, l.Relation)
	}
	if len(s.Peering) > 0 {
		pairs, err := ParseGraph(s.Peering, s.NodeNames())
		if err != nil {
			return nil, &TopologyError{Reason: fmt.Sprintf("peering: %v", err)}
		}
		for _, p := range pairs {
			b.Peer(p.V1, p.V2)
		}
	}
	for _, e := range s.Externals {
		b.External(e.Name, e.Address, e.Node, e.Relation)
	}
	return b.Build()
}
