package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"heartbeat/internal/beat"
	"heartbeat/internal/diag"
	"heartbeat/internal/ticksource"
)

func TestCollectorExportsHooks(t *testing.T) {
	t.Parallel()
	s := beat.New(ticksource.NewManual())
	if _, err := s.Register("blink", 2, func() {}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := s.Register("idle", 9, func() {}, beat.Disabled()); err != nil {
		t.Fatalf("Register: %v", err)
	}
	for i := 0; i < 4; i++ {
		s.Tick()
		s.Exec()
	}

	c := NewCollector(Sources{
		Snapshot: s.Snapshot,
		Diag:     func() diag.Counters { return diag.Counters{Warnings: 3} },
	})
	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(c); err != nil {
		t.Fatalf("Register collector: %v", err)
	}

	want := `
# HELP heartbeat_hook_fired_total Times the hook was dispatched.
# TYPE heartbeat_hook_fired_total counter
heartbeat_hook_fired_total{hook="blink"} 2
heartbeat_hook_fired_total{hook="idle"} 0
# HELP heartbeat_global_count Ticks handled so far, modulo 2^32.
# TYPE heartbeat_global_count gauge
heartbeat_global_count 4
# HELP heartbeat_diag_warnings_total Late dispatches seen by the monitor.
# TYPE heartbeat_diag_warnings_total counter
heartbeat_diag_warnings_total 3
# HELP heartbeat_hook_enabled 1 when the hook counts down.
# TYPE heartbeat_hook_enabled gauge
heartbeat_hook_enabled{hook="blink"} 1
heartbeat_hook_enabled{hook="idle"} 0
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(want),
		"heartbeat_hook_fired_total", "heartbeat_global_count", "heartbeat_diag_warnings_total", "heartbeat_hook_enabled"); err != nil {
		t.Fatal(err)
	}
	// Optional sources left nil emit nothing.
	if n := testutil.CollectAndCount(c, "heartbeat_goroutine_restarts_total"); n != 0 {
		t.Fatalf("restarts series = %d, want 0", n)
	}
}
