package state

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"net/netip"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
)

// Scenario is the scenario file consumed by the simulator.
type Scenario struct {
	Settings          SettingsCfg         `yaml:"settings" json:"settings"`
	ConfigNodesRoutes []NodeCfg           `yaml:"config_nodes_routes" json:"config_nodes_routes"`
	Links             []LinkCfg           `yaml:"links,omitempty" json:"links,omitempty"`
	Peering           []string            `yaml:"peering,omitempty" json:"peering,omitempty"` // graph syntax, every pairing becomes a peer session
	Externals         []ExternalCfg       `yaml:"externals,omitempty" json:"externals,omitempty"`
	Feed              []FeedEntryCfg      `yaml:"feed,omitempty" json:"feed,omitempty"`
	Pos               map[string]Position `yaml:"pos,omitempty" json:"pos,omitempty"`

	// unknown top-level json keys, kept so read-modify-write tools don't drop them
	extra map[string]json.RawMessage
}

var scenarioKeys = []string{"settings", "config_nodes_routes", "links", "peering", "externals", "feed", "pos"}

type scenarioAlias Scenario

func (s *Scenario) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, (*scenarioAlias)(s)); err != nil {
		return err
	}
	all := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, k := range scenarioKeys {
		delete(all, k)
	}
	if len(all) > 0 {
		s.extra = all
	} else {
		s.extra = nil
	}
	return nil
}

func (s Scenario) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(scenarioAlias(s))
	if err != nil {
		return nil, err
	}
	if len(s.extra) == 0 {
		return known, nil
	}
	all := make(map[string]json.RawMessage)
	if err := json.Unmarshal(known, &all); err != nil {
		return nil, err
	}
	for k, v := range s.extra {
		if _, ok := all[k]; !ok {
			all[k] = v
		}
	}
	return json.Marshal(all)
}

// Extra returns the unknown top-level key k, if present.
func (s *Scenario) Extra(k string) (json.RawMessage, bool) {
	v, ok := s.extra[k]
	return v, ok
}

// SetPrefix makes p the prefix of interest and switches to forwarding state output with manual
// stepping.
func (s *Scenario) SetPrefix(p netip.Prefix) {
	s.Settings.Prefix = p.Masked().String()
	s.Settings.Layer = LayerFwState
	s.Settings.ManualSimulation = true
}

// CopyPos replaces the node layout with the one from other.
func (s *Scenario) CopyPos(other *Scenario) {
	s.Pos = maps.Clone(other.Pos)
}

func isYaml(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// ParseScenario decodes a scenario. Yaml is used when the name has a yaml extension,
// json otherwise.
func ParseScenario(name string, data []byte) (*Scenario, error) {
	sc := &Scenario{}
	var err error
	if isYaml(name) {
		err = yaml.Unmarshal(data, sc)
	} else {
		dec := json.NewDecoder(bytes.NewReader(data))
		err = dec.Decode(sc)
	}
	if err != nil {
		return nil, &ParseError{Source: name, Reason: err.Error()}
	}
	return sc, nil
}

func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseScenario(path, data)
}

func MarshalScenario(name string, sc *Scenario) ([]byte, error) {
	if isYaml(name) {
		return yaml.Marshal(sc)
	}
	return json.Marshal(sc)
}

func StoreScenario(path string, sc *Scenario) error {
	data, err := MarshalScenario(path, sc)
	if err != nil {
		return fmt.Errorf("encode scenario %s: %w", path, err)
	}
	return os.WriteFile(path, data, 0644)
}
