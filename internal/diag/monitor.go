// Package diag watches a beat.Scheduler from one of its own hooks and turns
// late hooks and slow tick handler runs into events.
package diag

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"heartbeat/internal/beat"
	"heartbeat/internal/eventbus"
	logx "heartbeat/pkg/logx"
)

// Counters are cumulative totals since the monitor was created.
type Counters struct {
	Checks     uint64
	Warnings   uint64
	Errors     uint64
	Overruns   uint64
	Suppressed uint64 // log lines dropped by the rate limit; events are never dropped here
}

// Monitor consumes the clear-on-read warning and error flags of every hook.
// Run Check from a main-loop hook; it takes the scheduler gate.
type Monitor struct {
	sched *beat.Scheduler
	bus   eventbus.Bus
	log   logx.Logger

	mu      sync.Mutex
	maxISR  time.Duration
	limiter *rate.Limiter

	checks, warnings, errors, overruns, suppressed atomic.Uint64
}

type Option func(*Monitor)

// WithMaxISR sets the tick handler duration above which an overrun is reported.
// 0 disables the check.
func WithMaxISR(d time.Duration) Option { return func(m *Monitor) { m.maxISR = d } }

// WithWarnRate limits warning log lines per second (burst = rate).
func WithWarnRate(perSec int) Option {
	return func(m *Monitor) { m.limiter = newLimiter(perSec) }
}

func WithLogger(log logx.Logger) Option { return func(m *Monitor) { m.log = log } }

func newLimiter(perSec int) *rate.Limiter {
	perSec = max(1, perSec)
	return rate.NewLimiter(rate.Limit(perSec), perSec)
}

func NewMonitor(s *beat.Scheduler, bus eventbus.Bus, opts ...Option) *Monitor {
	m := &Monitor{sched: s, bus: bus, log: logx.Nop(), limiter: newLimiter(2)}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Reconfigure swaps the overrun threshold and the log rate.
func (m *Monitor) Reconfigure(maxISR time.Duration, warnPerSec int) {
	m.mu.Lock()
	m.maxISR = maxISR
	m.limiter.SetLimit(rate.Limit(max(1, warnPerSec)))
	m.limiter.SetBurst(max(1, warnPerSec))
	m.mu.Unlock()
}

// Check reads and clears every hook's warning and error flag and compares
// the last tick handler run with the threshold.
func (m *Monitor) Check() {
	m.checks.Add(1)
	snap := m.sched.Snapshot()

	for _, h := range snap.Hooks {
		if m.sched.Warning(h.Handle) {
			m.warnings.Add(1)
			m.report(eventbus.HookWarning, h, "hook serviced late")
		}
		if m.sched.Error(h.Handle) {
			m.errors.Add(1)
			m.report(eventbus.HookError, h, "hook still late after reload")
		}
	}

	m.mu.Lock()
	maxISR := m.maxISR
	m.mu.Unlock()
	if maxISR > 0 && snap.InterruptServiceDuration > maxISR {
		m.overruns.Add(1)
		m.publish(eventbus.Event{
			Type: eventbus.ISROverrun,
			Data: map[string]any{
				"isr_ns":       snap.InterruptServiceDuration.Nanoseconds(),
				"max_isr_ns":   maxISR.Nanoseconds(),
				"global_count": snap.GlobalCount,
			},
		})
		if m.allow() {
			m.log.Warn("tick handler overrun",
				logx.Duration("isr", snap.InterruptServiceDuration),
				logx.Duration("max_isr", maxISR),
			)
		}
	}
}

func (m *Monitor) report(typ string, h beat.HookInfo, msg string) {
	// Count is the value after reload; it still says how late the hook is.
	m.publish(eventbus.Event{
		Type: typ,
		Hook: h.Name,
		Data: map[string]any{"period": h.Period, "count": h.Count, "fired": h.Fired},
	})
	if m.allow() {
		m.log.Warn(msg,
			logx.String("hook", h.Name),
			logx.Int("period", int(h.Period)),
			logx.Int("count", int(h.Count)),
			logx.Uint64("fired", h.Fired),
		)
	}
}

func (m *Monitor) publish(e eventbus.Event) {
	if m.bus != nil {
		m.bus.Publish(e)
	}
}

func (m *Monitor) allow() bool {
	m.mu.Lock()
	ok := m.limiter.Allow()
	m.mu.Unlock()
	if !ok {
		m.suppressed.Add(1)
	}
	return ok
}

func (m *Monitor) Counters() Counters {
	return Counters{
		Checks:     m.checks.Load(),
		Warnings:   m.warnings.Load(),
		Errors:     m.errors.Load(),
		Overruns:   m.overruns.Load(),
		Suppressed: m.suppressed.Load(),
	}
}
