package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	logx "heartbeat/pkg/logx"
)

func openTestStore(t *testing.T, driver string) Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hb.db")
	st, err := Open(Config{Driver: driver, Path: path, BusyTimeout: time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("Open(%s): %v", driver, err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestStores(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st := openTestStore(t, driver)
			session := NewSession()
			now := time.Now()
			old := now.Add(-48 * time.Hour)

			if err := st.AppendSample(ctx, Sample{At: old, Session: session, GlobalCount: 10, Hooks: []HookSample{{Name: "blink", Period: 5}}}); err != nil {
				t.Fatalf("AppendSample: %v", err)
			}
			if err := st.AppendSample(ctx, Sample{At: now, Session: session, GlobalCount: 20, Running: true}); err != nil {
				t.Fatalf("AppendSample: %v", err)
			}
			for _, e := range []Event{
				{At: old, Session: session, Type: "hook.warning", Hook: "blink"},
				{At: now, Session: session, Type: "hook.warning", Hook: "blink", Data: `{"count":-3}`},
				{At: now, Session: session, Type: "isr.overrun"},
			} {
				if err := st.AppendEvent(ctx, e); err != nil {
					t.Fatalf("AppendEvent: %v", err)
				}
			}

			counts, err := st.CountEvents(ctx, now.Add(-time.Hour))
			if err != nil {
				t.Fatalf("CountEvents: %v", err)
			}
			if counts["hook.warning"] != 1 || counts["isr.overrun"] != 1 {
				t.Fatalf("CountEvents = %v", counts)
			}

			n, err := st.Prune(ctx, now.Add(-24*time.Hour))
			if err != nil {
				t.Fatalf("Prune: %v", err)
			}
			if n != 2 {
				t.Fatalf("Prune removed %d, want 2", n)
			}
			counts, _ = st.CountEvents(ctx, time.Time{})
			if counts["hook.warning"] != 1 {
				t.Fatalf("after prune CountEvents = %v", counts)
			}
			// Appends still work after the file was rewritten.
			if err := st.AppendEvent(ctx, Event{Session: session, Type: "config.reloaded"}); err != nil {
				t.Fatalf("AppendEvent after prune: %v", err)
			}

			if err := st.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}
			if err := st.AppendEvent(ctx, Event{Type: "x"}); !errors.Is(err, ErrClosed) {
				t.Fatalf("AppendEvent after Close = %v, want %v", err, ErrClosed)
			}
		})
	}
}

func TestOpen(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{Driver: "none"}, logx.Nop())
	if st != nil || err != nil {
		t.Fatalf("Open(none) = %v, %v", st, err)
	}
	if _, err := Open(Config{Driver: "redis", Path: "x"}, logx.Nop()); !errors.Is(err, ErrUnknownDriver) {
		t.Fatalf("Open(redis) error = %v", err)
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("Open(file) without path succeeded")
	}
}

func TestSession(t *testing.T) {
	t.Parallel()
	a, b := NewSession(), NewSession()
	if a == b || !ValidSession(a) || ValidSession("nope") {
		t.Fatalf("sessions %q %q", a, b)
	}
}
