// Package metrics exposes scheduler state as Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"heartbeat/internal/beat"
	"heartbeat/internal/diag"
	"heartbeat/internal/runtime/supervisor"
)

const namespace = "heartbeat"

// Sources feeds a Collector. Only Snapshot is required.
type Sources struct {
	Snapshot   func() beat.Snapshot
	Diag       func() diag.Counters
	Goroutines func() []supervisor.Stats
	BusDropped func() uint64
}

// Collector implements prometheus.Collector. Values are read at scrape time.
type Collector struct {
	src Sources

	globalCount *prometheus.Desc
	isrSeconds  *prometheus.Desc
	running     *prometheus.Desc
	hooks       *prometheus.Desc
	capacity    *prometheus.Desc

	hookPeriod  *prometheus.Desc
	hookCount   *prometheus.Desc
	hookFired   *prometheus.Desc
	hookEnabled *prometheus.Desc

	diagChecks     *prometheus.Desc
	diagWarnings   *prometheus.Desc
	diagErrors     *prometheus.Desc
	diagOverruns   *prometheus.Desc
	diagSuppressed *prometheus.Desc

	restarts   *prometheus.Desc
	panics     *prometheus.Desc
	busDropped *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

func NewCollector(src Sources) *Collector {
	hookLabels := []string{"hook"}
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}
	return &Collector{
		src: src,

		globalCount: desc("global_count", "Ticks handled so far, modulo 2^32."),
		isrSeconds:  desc("isr_seconds", "Duration of the last tick handler run."),
		running:     desc("running", "1 when the tick source is enabled."),
		hooks:       desc("hooks", "Registered hooks."),
		capacity:    desc("capacity", "Hook slots."),

		hookPeriod:  desc("hook_period_ticks", "Hook period in ticks.", hookLabels...),
		hookCount:   desc("hook_count_ticks", "Ticks until the hook is due; negative when late.", hookLabels...),
		hookFired:   desc("hook_fired_total", "Times the hook was dispatched.", hookLabels...),
		hookEnabled: desc("hook_enabled", "1 when the hook counts down.", hookLabels...),

		diagChecks:     desc("diag_checks_total", "Monitor runs."),
		diagWarnings:   desc("diag_warnings_total", "Late dispatches seen by the monitor."),
		diagErrors:     desc("diag_errors_total", "Dispatches still late after reload."),
		diagOverruns:   desc("diag_isr_overruns_total", "Tick handler runs over the threshold."),
		diagSuppressed: desc("diag_log_suppressed_total", "Warning log lines dropped by the rate limit."),

		restarts:   desc("goroutine_restarts_total", "Restarts of supervised goroutines.", "name"),
		panics:     desc("goroutine_panics_total", "Panics recovered in supervised goroutines.", "name"),
		busDropped: desc("events_dropped_total", "Events dropped by slow subscribers."),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.globalCount, c.isrSeconds, c.running, c.hooks, c.capacity,
		c.hookPeriod, c.hookCount, c.hookFired, c.hookEnabled,
		c.diagChecks, c.diagWarnings, c.diagErrors, c.diagOverruns, c.diagSuppressed,
		c.restarts, c.panics, c.busDropped,
	} {
		ch <- d
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}
	counter := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, v, labels...)
	}

	snap := c.src.Snapshot()
	gauge(c.globalCount, float64(snap.GlobalCount))
	gauge(c.isrSeconds, snap.InterruptServiceDuration.Seconds())
	gauge(c.running, boolFloat(snap.Running))
	gauge(c.hooks, float64(len(snap.Hooks)))
	gauge(c.capacity, float64(snap.Capacity))
	for _, h := range snap.Hooks {
		name := h.Name
		if name == "" {
			name = h.Handle.String()
		}
		gauge(c.hookPeriod, float64(h.Period), name)
		gauge(c.hookCount, float64(h.Count), name)
		counter(c.hookFired, float64(h.Fired), name)
		gauge(c.hookEnabled, boolFloat(h.Flags.Has(beat.FlagEnabled)), name)
	}

	if c.src.Diag != nil {
		d := c.src.Diag()
		counter(c.diagChecks, float64(d.Checks))
		counter(c.diagWarnings, float64(d.Warnings))
		counter(c.diagErrors, float64(d.Errors))
		counter(c.diagOverruns, float64(d.Overruns))
		counter(c.diagSuppressed, float64(d.Suppressed))
	}
	if c.src.Goroutines != nil {
		for _, st := range c.src.Goroutines() {
			counter(c.restarts, float64(st.Restarts), st.Name)
			counter(c.panics, float64(st.Panics), st.Name)
		}
	}
	if c.src.BusDropped != nil {
		counter(c.busDropped, float64(c.src.BusDropped()))
	}
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
