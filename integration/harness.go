//go:build integration

package integration

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"path/filepath"
	"testing"

	"github.com/encodeous/routesim/core"
	"github.com/encodeous/routesim/state"
)

type Signal chan bool

func NewSignal() Signal {
	return make(chan bool)
}
func (s Signal) Trigger() {
	select {
	case <-s:
	default:
		close(s)
	}
}
func (s Signal) Triggered() bool {
	select {
	case <-s:
		return true
	default:
		return false
	}
}
func (s Signal) Wait() {
	<-s
}

// ScenarioHarness assembles a scenario in memory and runs it end to end through a scenario file.
type ScenarioHarness struct {
	Scenario state.Scenario
	// Format is the scenario file extension, json when empty
	Format   string
	LogLevel slog.Level
	Input    io.Reader
	Logs     bytes.Buffer
}

func (v *ScenarioHarness) NewNode(id state.NodeId, asn state.ASN, routes ...string) {
	cfg := state.NodeCfg{
		Index: len(v.Scenario.ConfigNodesRoutes),
		Name:  id,
		ASN:   asn,
	}
	for _, r := range routes {
		cfg.Routes = append(cfg.Routes, netip.MustParsePrefix(r))
	}
	v.Scenario.ConfigNodesRoutes = append(v.Scenario.ConfigNodesRoutes, cfg)
}

// AddLink adds a session where to has relation rel as seen from from.
func (v *ScenarioHarness) AddLink(from, to state.NodeId, rel state.Relation) {
	v.Scenario.Links = append(v.Scenario.Links, state.LinkCfg{From: from, To: to, Relation: rel})
}

func (v *ScenarioHarness) AddExternal(name state.NodeId, addr string, node state.NodeId, rel state.Relation) {
	v.Scenario.Externals = append(v.Scenario.Externals, state.ExternalCfg{
		Name:     name,
		Address:  netip.MustParseAddr(addr),
		Node:     node,
		Relation: rel,
	})
}

func (v *ScenarioHarness) Feed(delay state.Tick, command string, args ...any) {
	v.Scenario.Feed = append(v.Scenario.Feed, state.FeedEntryCfg{Delay: delay, Command: fmt.Sprintf(command, args...)})
}

// Run stores the scenario and simulates it, returning the run and the printed output layer.
func (v *ScenarioHarness) Run(t *testing.T, opts core.Options) (*core.Run, string) {
	t.Helper()
	ext := v.Format
	if ext == "" {
		ext = "json"
	}
	path := filepath.Join(t.TempDir(), "scenario."+ext)
	if err := state.StoreScenario(path, &v.Scenario); err != nil {
		t.Fatal(err)
	}
	out := &bytes.Buffer{}
	opts.ScenarioPath = path
	opts.Output = out
	opts.LogOutput = &v.Logs
	opts.LogLevel = v.LogLevel
	if v.Input != nil {
		opts.Input = v.Input
	}
	run, err := core.Start(context.Background(), opts)
	if err != nil {
		t.Fatalf("simulation failed: %v\nlogs:\n%s", err, v.Logs.String())
	}
	return run, out.String()
}
