package diag

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"heartbeat/internal/beat"
	"heartbeat/internal/eventbus"
	"heartbeat/internal/storage"
	"heartbeat/internal/ticksource"
	logx "heartbeat/pkg/logx"
)

func newScheduler(t *testing.T) *beat.Scheduler {
	t.Helper()
	s := beat.New(ticksource.NewManual())
	if err := s.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return s
}

func drain(ch <-chan eventbus.Event) []eventbus.Event {
	var out []eventbus.Event
	for {
		select {
		case e := <-ch:
			out = append(out, e)
		default:
			return out
		}
	}
}

func TestMonitorReportsLateHooks(t *testing.T) {
	t.Parallel()
	s := newScheduler(t)
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(16)
	defer unsub()

	if _, err := s.Register("slow", 2, func() {}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	m := NewMonitor(s, bus, WithWarnRate(1))

	// 7 ticks before the pump: count -5, reload -3 -> warning and error.
	for i := 0; i < 7; i++ {
		s.Tick()
	}
	s.Exec()
	m.Check()

	events := drain(ch)
	if len(events) != 2 || events[0].Type != eventbus.HookWarning || events[1].Type != eventbus.HookError {
		t.Fatalf("events = %+v", events)
	}
	if events[0].Hook != "slow" || events[0].Data["count"] != int32(-3) {
		t.Fatalf("warning event = %+v", events[0])
	}
	c := m.Counters()
	if c.Warnings != 1 || c.Errors != 1 || c.Suppressed != 1 {
		t.Fatalf("Counters() = %+v", c)
	}

	// Flags were consumed.
	m.Check()
	if events := drain(ch); len(events) != 0 {
		t.Fatalf("flags reported twice: %+v", events)
	}
}

func TestMonitorReportsOverrun(t *testing.T) {
	t.Parallel()
	s := newScheduler(t)
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4)
	defer unsub()

	if _, err := s.Register("heavy", 1, func() { time.Sleep(3 * time.Millisecond) }, beat.InInterrupt()); err != nil {
		t.Fatalf("Register: %v", err)
	}
	m := NewMonitor(s, bus, WithMaxISR(time.Millisecond))
	s.Tick()
	m.Check()

	events := drain(ch)
	if len(events) != 1 || events[0].Type != eventbus.ISROverrun {
		t.Fatalf("events = %+v", events)
	}

	m.Reconfigure(0, 5)
	s.Tick()
	m.Check()
	if events := drain(ch); len(events) != 0 {
		t.Fatalf("overrun reported with check disabled: %+v", events)
	}
}

func TestRecorderPersistsEvents(t *testing.T) {
	t.Parallel()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "hb")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	bus := eventbus.New()
	ch, unsub := bus.Subscribe(8)
	r := NewRecorder(st, storage.NewSession(), logx.Nop())
	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background(), ch) }()

	bus.Publish(eventbus.Event{Type: eventbus.HookWarning, Hook: "a", Data: map[string]any{"count": -1}})
	bus.Publish(eventbus.Event{Type: eventbus.ISROverrun})
	unsub()
	if err := <-done; err != nil {
		t.Fatalf("Run() = %v", err)
	}

	counts, err := st.CountEvents(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("CountEvents: %v", err)
	}
	if counts[eventbus.HookWarning] != 1 || counts[eventbus.ISROverrun] != 1 {
		t.Fatalf("counts = %v", counts)
	}
}

func TestSampleOf(t *testing.T) {
	t.Parallel()
	s := newScheduler(t)
	_, _ = s.Register("a", 3, func() {}, beat.WithUserFlags(beat.FlagUser1))
	s.Tick()
	sm := SampleOf(s.Snapshot(), "sess")
	if sm.GlobalCount != 1 || !sm.Running || len(sm.Hooks) != 1 {
		t.Fatalf("sample = %+v", sm)
	}
	if h := sm.Hooks[0]; h.Name != "a" || h.Count != 2 || h.Flags != "enabled|looped|user1" {
		t.Fatalf("hook sample = %+v", h)
	}
}
