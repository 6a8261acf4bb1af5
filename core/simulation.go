package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/encodeous/routesim/perf"
	"github.com/encodeous/routesim/protocol"
	"github.com/encodeous/routesim/state"
)

type Outcome int

const (
	Converged Outcome = iota
	TickBoundExceeded
	Cancelled
)

func (o Outcome) String() string {
	switch o {
	case Converged:
		return "converged"
	case TickBoundExceeded:
		return "tick_bound_exceeded"
	case Cancelled:
		return "cancelled"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

var allOutcomes = []string{Converged.String(), TickBoundExceeded.String(), Cancelled.String()}

type Result struct {
	Outcome     Outcome
	Tick        state.Tick
	Processed   int
	Superseded  int
	Pending     int
	Injected    int
	ParseErrors int
	// Dropped counts updates that were not propagated because bgp is disabled.
	Dropped int
}

// Err returns the error form of a run that did not converge.
func (r Result) Err() error {
	switch r.Outcome {
	case TickBoundExceeded:
		return &state.ConvergenceTimeout{MaxTicks: r.Tick, Pending: r.Pending}
	case Cancelled:
		return context.Canceled
	}
	return nil
}

// Simulation drives the path-vector engine on every node of a topology.
type Simulation struct {
	Topology  *state.Topology
	Config    state.SimulationConfig
	Log       *slog.Logger
	Collector *perf.SimulationCollector

	sched       *Scheduler
	router      Router
	injected    int
	parseErrors int
	dropped     int
	// superseded events already reported to the collector
	reported int
}

func NewSimulation(topo *state.Topology, cfg state.SimulationConfig, logger *slog.Logger) *Simulation {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Simulation{
		Topology: topo,
		Config:   cfg,
		Log:      logger,
		sched:    NewScheduler(),
	}
	s.router = &simRouter{sim: s}
	if cfg.Features.Ospf {
		logger.Warn("ospf is not supported, the feature flag is ignored")
	}
	return s
}

func (s *Simulation) Node(id state.NodeId) *state.Node {
	return s.Topology.Node(id)
}

func (s *Simulation) Now() state.Tick {
	return s.sched.Now()
}

// Pending lists the queued events in delivery order.
func (s *Simulation) Pending() []state.Event {
	return s.sched.Events()
}

// Originate announces every configured static route. It is a no-op when static routes are disabled.
func (s *Simulation) Originate() {
	if !s.Config.Features.StaticRoutes {
		return
	}
	for _, id := range s.Topology.NodeIds() {
		n := s.Topology.Node(id)
		for _, prefix := range n.Originated {
			Originate(n, s.router, prefix)
		}
	}
}

// OriginateAt makes node the origin of prefix at the current tick.
func (s *Simulation) OriginateAt(id state.NodeId, prefix string) error {
	n := s.Topology.Node(id)
	if n == nil {
		return fmt.Errorf("unknown node %s", id)
	}
	p, err := parsePrefix(prefix)
	if err != nil {
		return err
	}
	Originate(n, s.router, p)
	return nil
}

// RetractAt stops node from originating prefix.
func (s *Simulation) RetractAt(id state.NodeId, prefix string) error {
	n := s.Topology.Node(id)
	if n == nil {
		return fmt.Errorf("unknown node %s", id)
	}
	p, err := parsePrefix(prefix)
	if err != nil {
		return err
	}
	Retract(n, s.router, p)
	return nil
}

// Inject schedules cmd from the external session peer for tick at. An empty peer uses the
// command's neighbor, and without one the first external session.
func (s *Simulation) Inject(at state.Tick, peer string, cmd protocol.Command) error {
	if peer == "" {
		peer = cmd.Neighbor
	}
	ext, ok := s.Topology.FindExternal(peer)
	if !ok {
		return &state.ParseError{Source: "feed", Text: cmd.String(), Reason: fmt.Sprintf("unknown neighbor %q", peer)}
	}
	var ev state.Event
	if cmd.Kind == state.Announce {
		ev = state.MakeAnnounce(ext.Name, ext.Node, cmd.Route(ext.Name))
	} else {
		ev = state.MakeWithdraw(ext.Name, ext.Node, cmd.Prefix)
	}
	s.sched.Push(ev, at)
	s.injected++
	perf.InjectsPerSecond.Add(1)
	s.Collector.IncInjected()
	if !s.Config.Features.Simple {
		s.Log.Debug("injected", "peer", ext.Name, "node", ext.Node, "command", cmd.String(), "at", max(at, s.sched.Now()))
	}
	return nil
}

// ReportParseError records a skipped feed line.
func (s *Simulation) ReportParseError(err error) {
	s.parseErrors++
	s.Collector.IncParseErrors()
	s.Log.Warn("skipping malformed feed line", "error", err)
}

func (s *Simulation) deliver(ev state.Event) {
	n := s.Topology.Node(ev.To)
	if n == nil {
		s.Log.Warn("event addressed to unknown node", "event", ev)
		return
	}
	start := time.Now()
	switch ev.Kind {
	case state.Announce:
		HandleAnnounce(n, s.router, ev.From, ev.Route)
	case state.Withdraw:
		HandleWithdraw(n, s.router, ev.From, ev.Prefix)
	}
	elapsed := time.Since(start)
	perf.DispatchLatency.Add(float64(elapsed.Microseconds()))
	perf.EventsPerSecond.Add(1)
	perf.QueueDepth.Add(float64(s.sched.Len()))
	s.Collector.ObserveDispatch(ev.Kind.String(), elapsed)
	if elapsed > state.SlowEventThreshold {
		s.Log.Warn("event took a long time!", "event", ev, "elapsed", elapsed, "len", s.sched.Len())
	}
}

// Step delivers the next event. It returns false when the queue is empty.
func (s *Simulation) Step() bool {
	ev, ok := s.sched.Pop()
	if !ok {
		return false
	}
	s.deliver(ev)
	return true
}

func (s *Simulation) result(outcome Outcome) Result {
	res := Result{
		Outcome:     outcome,
		Tick:        s.sched.Now(),
		Processed:   s.sched.Processed,
		Superseded:  s.sched.Superseded,
		Pending:     s.sched.Len(),
		Injected:    s.injected,
		ParseErrors: s.parseErrors,
		Dropped:     s.dropped,
	}
	if outcome == TickBoundExceeded {
		res.Tick = s.Config.MaxTicks
	}
	return res
}

// runBefore delivers every event scheduled before tick t. It stops early when the tick bound is
// crossed or ctx is done, returning the terminal outcome.
func (s *Simulation) runBefore(ctx context.Context, t state.Tick, bounded bool) (Outcome, bool) {
	for {
		if ctx.Err() != nil {
			return Cancelled, true
		}
		ev, ok := s.sched.Peek()
		if !ok || (bounded && ev.Time >= t) {
			return Converged, false
		}
		if ev.Time > s.Config.MaxTicks {
			return TickBoundExceeded, true
		}
		s.Step()
		s.Collector.SetProgress(s.sched.Len(), uint64(s.sched.Now()))
	}
}

// RunUntilIdle processes events until the queue drains or the tick bound is reached.
func (s *Simulation) RunUntilIdle(ctx context.Context) Result {
	outcome, _ := s.runBefore(ctx, 0, false)
	return s.finish(outcome)
}

func (s *Simulation) finish(outcome Outcome) Result {
	res := s.result(outcome)
	s.Collector.AddSuperseded(res.Superseded - s.reported)
	perf.SupersedePerSecond.Add(float64(res.Superseded - s.reported))
	s.reported = res.Superseded
	s.Collector.SetOutcome(outcome.String(), allOutcomes)
	s.Collector.SetProgress(res.Pending, uint64(res.Tick))
	return res
}

// Run injects every command of feed and processes events until the queue drains. Errors other than
// malformed feed lines abort the run.
func (s *Simulation) Run(ctx context.Context, feed Feed) (Result, error) {
	cursor := s.sched.Now()
	for {
		if feed.Live() {
			if outcome, stop := s.runBefore(ctx, 0, false); stop {
				return s.finish(outcome), nil
			}
			cursor = s.sched.Now()
		}
		item, err := feed.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if state.IsParseError(err) {
			s.ReportParseError(err)
			continue
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return s.finish(Cancelled), nil
		}
		if err != nil {
			return s.finish(Cancelled), err
		}

		target := cursor + item.Delay
		if outcome, stop := s.runBefore(ctx, target, true); stop {
			return s.finish(outcome), nil
		}
		if target > s.Config.MaxTicks {
			res := s.finish(TickBoundExceeded)
			res.Pending++
			return res, nil
		}
		s.sched.AdvanceTo(target)
		if err := s.Inject(target, "", item.Command); err != nil {
			s.ReportParseError(err)
		}
		cursor = target
	}
	outcome, _ := s.runBefore(ctx, 0, false)
	return s.finish(outcome), nil
}
