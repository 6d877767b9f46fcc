package ticksource

import (
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	logx "heartbeat/pkg/logx"
)

// Ticker delivers ticks from a dedicated goroutine driven by time.Ticker.
//
// Ticks are delivered one at a time. When the handler overruns the period,
// the ticks that elapsed meanwhile are dropped, never queued.
type Ticker struct {
	log logx.Logger

	mu      sync.Mutex
	period  time.Duration
	handler func()
	stopCh  chan struct{}
	running bool

	delivered atomic.Uint64
	panics    atomic.Uint64
}

func NewTicker(log logx.Logger) *Ticker {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Ticker{log: log}
}

// Configure sets period and handler. The ticker must be stopped.
func (t *Ticker) Configure(period time.Duration, handler func()) error {
	if period <= 0 {
		return ErrBadPeriod
	}
	if handler == nil {
		return ErrNilHandler
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return ErrRunning
	}
	t.period = period
	t.handler = handler
	return nil
}

// Enable starts delivering ticks. No-op if already running.
func (t *Ticker) Enable() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.handler == nil {
		return ErrNotConfigured
	}
	if t.running {
		return nil
	}
	t.stopCh = make(chan struct{})
	t.running = true
	go t.run(t.stopCh, t.period, t.handler)
	return nil
}

// Disable stops delivery. It does not wait for an in-flight handler call,
// so it is safe to call from the handler itself; no tick starts after it
// returns.
func (t *Ticker) Disable() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return nil
	}
	close(t.stopCh)
	t.running = false
	return nil
}

func (t *Ticker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Delivered is the number of handler calls made so far.
func (t *Ticker) Delivered() uint64 { return t.delivered.Load() }

// Panics is the number of handler calls that panicked.
func (t *Ticker) Panics() uint64 { return t.panics.Load() }

func (t *Ticker) run(stopCh <-chan struct{}, period time.Duration, handler func()) {
	tk := time.NewTicker(period)
	defer tk.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-tk.C:
			// Both cases may be ready; a stop always wins.
			select {
			case <-stopCh:
				return
			default:
			}
			t.deliver(handler)
		}
	}
}

func (t *Ticker) deliver(handler func()) {
	defer func() {
		if r := recover(); r != nil {
			t.panics.Add(1)
			t.log.Error("tick handler panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	handler()
	t.delivered.Add(1)
}
