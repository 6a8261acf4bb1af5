package perf

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SimulationCollector exposes simulation counters as Prometheus metrics.
type SimulationCollector struct {
	gatherer prometheus.Gatherer

	EventsProcessed  *prometheus.CounterVec
	EventsSuperseded prometheus.Counter
	ParseErrors      prometheus.Counter
	Injected         prometheus.Counter
	QueueLength      prometheus.Gauge
	VirtualTick      prometheus.Gauge
	Violations       prometheus.Gauge
	Outcome          *prometheus.GaugeVec
	DispatchDuration prometheus.Histogram
}

// NewSimulationCollector registers simulation metrics against the provided registerer.
func NewSimulationCollector(reg prometheus.Registerer) (*SimulationCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &SimulationCollector{
		gatherer: gatherer,
		EventsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "routesim_events_processed_total",
			Help: "Route updates delivered to a node, by kind.",
		}, []string{"kind"}),
		EventsSuperseded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "routesim_events_superseded_total",
			Help: "Pending announcements cancelled by a later withdraw.",
		}),
		ParseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "routesim_feed_parse_errors_total",
			Help: "Malformed feed lines that were skipped.",
		}),
		Injected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "routesim_feed_commands_total",
			Help: "Commands injected by external peers.",
		}),
		QueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "routesim_queue_length",
			Help: "Events waiting in the propagation scheduler.",
		}),
		VirtualTick: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "routesim_virtual_tick",
			Help: "Current virtual time of the simulation.",
		}),
		Violations: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "routesim_verifier_violations",
			Help: "Violations reported by the last verifier run.",
		}),
		Outcome: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "routesim_outcome",
			Help: "Set to 1 for the outcome of the finished run.",
		}, []string{"outcome"}),
		DispatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "routesim_dispatch_duration_seconds",
			Help:    "Wall time spent delivering one event.",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		}),
	}

	for _, col := range []prometheus.Collector{
		c.EventsProcessed,
		c.EventsSuperseded,
		c.ParseErrors,
		c.Injected,
		c.QueueLength,
		c.VirtualTick,
		c.Violations,
		c.Outcome,
		c.DispatchDuration,
	} {
		if err := reg.Register(col); err != nil {
			return nil, fmt.Errorf("register simulation metrics: %w", err)
		}
	}
	return c, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SimulationCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

func (c *SimulationCollector) ObserveDispatch(kind string, d time.Duration) {
	if c == nil {
		return
	}
	c.EventsProcessed.WithLabelValues(kind).Inc()
	c.DispatchDuration.Observe(d.Seconds())
}

func (c *SimulationCollector) AddSuperseded(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.EventsSuperseded.Add(float64(n))
}

func (c *SimulationCollector) IncParseErrors() {
	if c == nil {
		return
	}
	c.ParseErrors.Inc()
}

func (c *SimulationCollector) IncInjected() {
	if c == nil {
		return
	}
	c.Injected.Inc()
}

// SetProgress updates the queue depth and virtual time gauges.
func (c *SimulationCollector) SetProgress(queued int, tick uint64) {
	if c == nil {
		return
	}
	c.QueueLength.Set(float64(queued))
	c.VirtualTick.Set(float64(tick))
}

func (c *SimulationCollector) SetViolations(n int) {
	if c == nil {
		return
	}
	c.Violations.Set(float64(n))
}

// SetOutcome marks outcome as the result of the run and clears the others.
func (c *SimulationCollector) SetOutcome(outcome string, all []string) {
	if c == nil {
		return
	}
	for _, o := range all {
		c.Outcome.WithLabelValues(o).Set(0)
	}
	c.Outcome.WithLabelValues(outcome).Set(1)
}

// WriteTextfile dumps the gathered metrics in the node exporter textfile format.
func (c *SimulationCollector) WriteTextfile(path string) error {
	if c == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, c.gatherer)
}
