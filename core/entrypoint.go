package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/encodeous/routesim/perf"
	"github.com/encodeous/routesim/protocol"
	"github.com/encodeous/routesim/state"
	"github.com/encodeous/tint"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	slogmulti "github.com/samber/slog-multi"
)

type FeedMode string

const (
	FeedScripted FeedMode = "scripted"
	FeedLive     FeedMode = "live"
)

type Options struct {
	ScenarioPath string
	Feed         FeedMode
	// ScriptPath replaces the scenario's feed entries with a script file.
	ScriptPath string
	Repeat     int
	// MaxTicks and Delay override the scenario settings when non-zero.
	MaxTicks   state.Tick
	Delay      state.Tick
	LogLevel   slog.Level
	LogPath    string
	MetricsOut string
	DebugAddr  string
	Input      io.Reader
	Output     io.Writer
	// LogOutput is where console logs go, os.Stderr when nil.
	LogOutput io.Writer
}

// Run is everything a finished Start reports on.
type Run struct {
	Id     string
	Result Result
	Report *Report
}

// NewLogger builds the console logger and, when logPath is set, a plain text file logger next to it.
func NewLogger(w io.Writer, prefix string, level slog.Level, logPath string) (*slog.Logger, io.Closer, error) {
	handlers := make([]slog.Handler, 0)
	handlers = append(handlers,
		tint.NewHandler(w, &tint.Options{
			Level:        level,
			AddSource:    false,
			CustomPrefix: prefix,
			ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
				if attr.Key == "time" {
					return slog.Attr{}
				}
				return attr
			},
		}))

	var closer io.Closer = io.NopCloser(nil)
	if logPath != "" {
		err := os.MkdirAll(path.Dir(logPath), 0700)
		if err != nil {
			return nil, nil, err
		}
		f, err := os.OpenFile(logPath, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0600)
		if err != nil {
			return nil, nil, err
		}
		handlers = append(handlers, slog.NewTextHandler(f, &slog.HandlerOptions{Level: level}))
		closer = f
	}

	return slog.New(slogmulti.Fanout(handlers...)), closer, nil
}

func setupDebugging(addr string, logger *slog.Logger) {
	if addr == "" {
		return
	}
	go func() {
		logger.Info("serving debug metrics", "addr", addr)
		log.Println(http.ListenAndServe(addr, nil))
	}()
}

// LoadSimulation reads and validates a scenario and builds its topology and resolved settings.
func LoadSimulation(scenarioPath string) (*state.Scenario, *state.Topology, state.SimulationConfig, error) {
	sc, err := state.LoadScenario(scenarioPath)
	if err != nil {
		return nil, nil, state.SimulationConfig{}, fmt.Errorf("load scenario: %w", err)
	}
	if err := state.ScenarioValidator(sc); err != nil {
		return nil, nil, state.SimulationConfig{}, fmt.Errorf("validate scenario: %w", err)
	}
	cfg, err := sc.Settings.SimulationConfig()
	if err != nil {
		return nil, nil, cfg, &state.ParseError{Source: scenarioPath, Reason: err.Error()}
	}
	topo, err := sc.Topology()
	if err != nil {
		return nil, nil, cfg, fmt.Errorf("build topology: %w", err)
	}
	return sc, topo, cfg, nil
}

func openFeed(ctx context.Context, sim *Simulation, sc *state.Scenario, opts Options) (Feed, error) {
	switch opts.Feed {
	case FeedLive:
		in := opts.Input
		if in == nil {
			in = os.Stdin
		}
		return NewLiveFeed(ctx, "stdin", in, state.LiveDedupWindow), nil
	case FeedScripted, "":
		var entries []protocol.ScriptEntry
		var errs []error
		if opts.ScriptPath != "" {
			f, err := os.Open(opts.ScriptPath)
			if err != nil {
				return nil, fmt.Errorf("open script: %w", err)
			}
			defer f.Close()
			entries, errs, err = protocol.ParseScript(filepath.Base(opts.ScriptPath), f)
			if err != nil {
				return nil, err
			}
		} else {
			entries, errs = protocol.FromFeed(sc.Feed)
		}
		for _, err := range errs {
			sim.ReportParseError(err)
		}
		return NewScriptedFeed(entries, opts.Repeat), nil
	}
	return nil, &state.ParseError{Source: "flags", Reason: fmt.Sprintf("unknown feed mode %q", opts.Feed)}
}

// Start runs one simulation from a scenario file until it converges, hits the tick bound or is
// interrupted.
func Start(ctx context.Context, opts Options) (*Run, error) {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	sc, topo, cfg, err := LoadSimulation(opts.ScenarioPath)
	if err != nil {
		return nil, err
	}
	if opts.MaxTicks != 0 {
		cfg.MaxTicks = opts.MaxTicks
	}
	if opts.Delay != 0 {
		cfg.PropagationDelay = opts.Delay
	}

	logOut := opts.LogOutput
	if logOut == nil {
		logOut = os.Stderr
	}
	name := strings.TrimSuffix(filepath.Base(opts.ScenarioPath), filepath.Ext(opts.ScenarioPath))
	logger, closer, err := NewLogger(logOut, name, opts.LogLevel, opts.LogPath)
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	run := &Run{Id: uuid.NewString()}
	logger = logger.With("run", run.Id)
	setupDebugging(opts.DebugAddr, logger)

	reg := prometheus.NewRegistry()
	collector, err := perf.NewSimulationCollector(reg)
	if err != nil {
		return nil, err
	}

	sim := NewSimulation(topo, cfg, logger)
	sim.Collector = collector

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(c)
	go func() {
		select {
		case <-c:
			cancel(errors.New("received shutdown signal"))
		case <-ctx.Done():
		}
	}()

	logger.Info("starting simulation", "nodes", topo.Len(), "externals", len(topo.Externals()),
		"prefix", cfg.Prefix, "policy", cfg.ExportPolicy, "delay", cfg.PropagationDelay, "max_ticks", cfg.MaxTicks)

	feed, err := openFeed(ctx, sim, sc, opts)
	if err != nil {
		return nil, err
	}
	sim.Originate()
	res, err := sim.Run(ctx, feed)
	run.Result = res
	if err != nil {
		return run, err
	}
	if res.Outcome == Cancelled {
		logger.Info("simulation interrupted", "reason", context.Cause(ctx))
	}
	logger.Info("simulation finished", "outcome", res.Outcome, "tick", res.Tick, "processed", res.Processed,
		"superseded", res.Superseded, "pending", res.Pending, "parse_errors", res.ParseErrors)

	if cfg.Features.Specification && res.Outcome == Converged {
		run.Report = Verify(topo, cfg)
		collector.SetViolations(len(run.Report.Violations))
		for _, v := range run.Report.Violations {
			logger.Error("verification failed", "violation", v.String())
		}
		if run.Report.OK() {
			logger.Info("verification passed", "reachable", len(run.Report.Paths), "unreachable", len(run.Report.Unreachable))
		}
	}

	if opts.Output != nil {
		if err := sim.WriteLayer(opts.Output); err != nil {
			return run, err
		}
	}
	if opts.MetricsOut != "" {
		if err := collector.WriteTextfile(opts.MetricsOut); err != nil {
			return run, fmt.Errorf("write metrics: %w", err)
		}
	}
	return run, nil
}
