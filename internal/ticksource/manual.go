package ticksource

import (
	"sync"
	"time"
)

// Manual is a tick source that only ticks when told to. Ticks fired while it
// is disabled are dropped, like a stopped hardware timer.
type Manual struct {
	mu      sync.Mutex
	period  time.Duration
	handler func()
	enabled bool
	dropped uint64
}

func NewManual() *Manual { return &Manual{} }

func (m *Manual) Configure(period time.Duration, handler func()) error {
	if period <= 0 {
		return ErrBadPeriod
	}
	if handler == nil {
		return ErrNilHandler
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.enabled {
		return ErrRunning
	}
	m.period = period
	m.handler = handler
	return nil
}

func (m *Manual) Enable() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handler == nil {
		return ErrNotConfigured
	}
	m.enabled = true
	return nil
}

func (m *Manual) Disable() error {
	m.mu.Lock()
	m.enabled = false
	m.mu.Unlock()
	return nil
}

func (m *Manual) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

func (m *Manual) Period() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.period
}

// Fire delivers one tick and reports whether it was delivered.
func (m *Manual) Fire() bool {
	m.mu.Lock()
	h := m.handler
	if !m.enabled || h == nil {
		m.dropped++
		m.mu.Unlock()
		return false
	}
	m.mu.Unlock()
	h()
	return true
}

// FireN fires n ticks and returns how many were delivered.
func (m *Manual) FireN(n int) int {
	delivered := 0
	for i := 0; i < n; i++ {
		if m.Fire() {
			delivered++
		}
	}
	return delivered
}

// Dropped is the number of ticks fired while disabled.
func (m *Manual) Dropped() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}
