package ticksource

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	logx "heartbeat/pkg/logx"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before timeout")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestTickerConfigureValidation(t *testing.T) {
	t.Parallel()
	tk := NewTicker(logx.Nop())
	if err := tk.Configure(0, func() {}); !errors.Is(err, ErrBadPeriod) {
		t.Fatalf("Configure(0) error = %v, want %v", err, ErrBadPeriod)
	}
	if err := tk.Configure(time.Millisecond, nil); !errors.Is(err, ErrNilHandler) {
		t.Fatalf("Configure(nil) error = %v, want %v", err, ErrNilHandler)
	}
	if err := tk.Enable(); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("Enable before Configure error = %v, want %v", err, ErrNotConfigured)
	}
}

func TestTickerDeliversUntilDisabled(t *testing.T) {
	t.Parallel()
	var n atomic.Int64
	tk := NewTicker(logx.Nop())
	if err := tk.Configure(time.Millisecond, func() { n.Add(1) }); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := tk.Enable(); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if err := tk.Enable(); err != nil {
		t.Fatalf("second Enable: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return n.Load() >= 3 })

	if err := tk.Configure(time.Second, func() {}); !errors.Is(err, ErrRunning) {
		t.Fatalf("Configure while running error = %v, want %v", err, ErrRunning)
	}
	if err := tk.Disable(); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	if tk.Running() {
		t.Fatal("ticker still running after Disable")
	}
	// Allow an in-flight delivery to finish, then the count must freeze.
	time.Sleep(10 * time.Millisecond)
	frozen := n.Load()
	time.Sleep(20 * time.Millisecond)
	if got := n.Load(); got != frozen {
		t.Fatalf("ticks after Disable: %d -> %d", frozen, got)
	}
}

func TestTickerRecoversHandlerPanic(t *testing.T) {
	t.Parallel()
	var n atomic.Int64
	tk := NewTicker(logx.Nop())
	_ = tk.Configure(time.Millisecond, func() {
		if n.Add(1) == 1 {
			panic("boom")
		}
	})
	_ = tk.Enable()
	defer tk.Disable()

	waitFor(t, 2*time.Second, func() bool { return n.Load() >= 3 })
	if tk.Panics() != 1 {
		t.Fatalf("Panics() = %d, want 1", tk.Panics())
	}
}

func TestManualDropsWhileDisabled(t *testing.T) {
	t.Parallel()
	var n int
	m := NewManual()
	if m.Fire() {
		t.Fatal("unconfigured manual source delivered a tick")
	}
	if err := m.Configure(5*time.Millisecond, func() { n++ }); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if got := m.FireN(3); got != 0 {
		t.Fatalf("FireN while disabled = %d, want 0", got)
	}
	_ = m.Enable()
	if got := m.FireN(4); got != 4 {
		t.Fatalf("FireN = %d, want 4", got)
	}
	if n != 4 {
		t.Fatalf("handler calls = %d, want 4", n)
	}
	if m.Dropped() != 4 {
		t.Fatalf("Dropped() = %d, want 4", m.Dropped())
	}
	if m.Period() != 5*time.Millisecond {
		t.Fatalf("Period() = %v", m.Period())
	}
}
