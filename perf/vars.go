package perf

import (
	"expvar"
	"net/http"

	"github.com/encodeous/metric"
)

var (
	DispatchLatency    = metric.NewHistogram("1m1s")
	EventsPerSecond    = metric.NewCounter("10s1s")
	InjectsPerSecond   = metric.NewCounter("10s1s")
	SupersedePerSecond = metric.NewCounter("10s1s")
	QueueDepth         = metric.NewHistogram("10s1s")
)

func init() {
	http.Handle("/debug/metrics", metric.Handler(metric.Exposed))
	expvar.Publish("routesim:Events/s", EventsPerSecond)
	expvar.Publish("routesim:Injects/s", InjectsPerSecond)
	expvar.Publish("routesim:Superseded/s", SupersedePerSecond)
	expvar.Publish("routesim:QueueDepth", QueueDepth)
	expvar.Publish("routesim:DispatchLatency (µs)", DispatchLatency)
}
