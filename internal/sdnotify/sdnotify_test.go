package sdnotify

import (
	"errors"
	"testing"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "heartbeat/pkg/logx"
)

func TestNotifierSendsOnlyWhenEnabled(t *testing.T) {
	t.Parallel()
	var got []string
	n := New(false, logx.Nop())
	n.notify = func(state string) (bool, error) {
		got = append(got, state)
		return true, nil
	}

	n.Ready()
	if len(got) != 0 {
		t.Fatalf("disabled notifier sent %v", got)
	}
	n.SetEnabled(true)
	n.Ready()
	n.Watchdog()
	n.Status("3 hooks")
	want := []string{daemon.SdNotifyReady, daemon.SdNotifyWatchdog, "STATUS=3 hooks"}
	if len(got) != len(want) {
		t.Fatalf("sent %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sent[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if n.Sent() != 3 {
		t.Fatalf("Sent() = %d, want 3", n.Sent())
	}
}

func TestNotifierCountsFailures(t *testing.T) {
	t.Parallel()
	n := New(true, logx.Nop())
	n.notify = func(string) (bool, error) { return false, errors.New("socket gone") }
	n.Stopping()
	if n.Sent() != 0 || n.failed.Load() != 1 {
		t.Fatalf("sent=%d failed=%d", n.Sent(), n.failed.Load())
	}
}

func TestTicksFor(t *testing.T) {
	t.Parallel()
	tests := []struct {
		interval, tick time.Duration
		want           int32
	}{
		{5 * time.Second, time.Millisecond, 5000},
		{time.Microsecond, time.Millisecond, 1},
		{time.Second, 0, 1},
	}
	for _, tt := range tests {
		if got := TicksFor(tt.interval, tt.tick); got != tt.want {
			t.Fatalf("TicksFor(%v, %v) = %d, want %d", tt.interval, tt.tick, got, tt.want)
		}
	}
}
