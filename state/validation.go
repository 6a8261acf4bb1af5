package state

import (
	"fmt"
	"regexp"
	"strconv"
)

var namePattern, _ = regexp.Compile("^[0-9a-z._-]+$")

func NameValidator(s string) error {
	if !namePattern.MatchString(s) {
		return fmt.Errorf("%s is not a valid name, must match pattern %s", s, namePattern.String())
	}
	if len(s) > 100 {
		return fmt.Errorf("len(\"%s\") = %d > 100 is too long", s, len(s))
	}
	return nil
}

func LayerValidator(l Layer) error {
	switch l {
	case LayerFwState, LayerRouteTable:
		return nil
	}
	return fmt.Errorf("unknown layer %q", l)
}

func SimulationConfigValidator(cfg *SimulationConfig) error {
	if err := LayerValidator(cfg.Layer); err != nil {
		return err
	}
	if cfg.PropagationDelay == 0 {
		return fmt.Errorf("propagation delay must be at least 1 tick")
	}
	if cfg.MaxTicks == 0 {
		return fmt.Errorf("max ticks must be at least 1")
	}
	return nil
}

// ScenarioValidator checks the parts of a scenario that are not covered by topology
// construction: settings, node indices and layout positions.
func ScenarioValidator(sc *Scenario) error {
	if _, err := sc.Settings.SimulationConfig(); err != nil {
		return &ParseError{Source: "settings", Reason: err.Error()}
	}
	indices := make(map[int]NodeId)
	for _, n := range sc.ConfigNodesRoutes {
		if other, ok := indices[n.Index]; ok {
			return &TopologyError{Node: n.Name, Reason: fmt.Sprintf("index %d already used by %s", n.Index, other)}
		}
		indices[n.Index] = n.Name
	}
	for key := range sc.Pos {
		idx, err := strconv.Atoi(key)
		if err != nil {
			return &ParseError{Source: "pos", Reason: fmt.Sprintf("key %q is not a node index", key)}
		}
		if _, ok := indices[idx]; !ok {
			return &TopologyError{Reason: fmt.Sprintf("pos references unknown node index %d", idx)}
		}
	}
	for i, f := range sc.Feed {
		if f.Command == "" {
			return &ParseError{Source: "feed", Line: i + 1, Reason: "empty command"}
		}
	}
	return nil
}
