package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"heartbeat/internal/beat"
	"heartbeat/internal/config"
	"heartbeat/internal/ticksource"
	logx "heartbeat/pkg/logx"
)

type fakeSampler struct{ n int }

func (f *fakeSampler) Sample(context.Context) error { f.n++; return nil }

type fakeWatchdog struct{ n int }

func (f *fakeWatchdog) Watchdog() { f.n++ }

func TestBuildErrors(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	tests := []struct {
		name string
		hook config.HookConfig
		want error
	}{
		{"unknown", config.HookConfig{Name: "a", Action: "reboot"}, ErrUnknownAction},
		{"not tick safe", config.HookConfig{Name: "a", Action: "log", Interrupt: true}, ErrNotTickSafe},
		{"watchdog in tick context", config.HookConfig{Name: "a", Action: "watchdog", Interrupt: true}, ErrNotTickSafe},
	}
	for _, tt := range tests {
		if _, err := r.Build(Env{}, tt.hook); !errors.Is(err, tt.want) {
			t.Fatalf("%s: Build() error = %v, want %v", tt.name, err, tt.want)
		}
	}
	if _, err := r.Build(Env{}, config.HookConfig{Name: "a", Action: "log", Args: json.RawMessage(`{"msg":"x"}`)}); err == nil {
		t.Fatal("unknown arg accepted")
	}
	if _, err := r.Build(Env{}, config.HookConfig{Name: "a", Action: "sample"}); err == nil {
		t.Fatal("sample without storage accepted")
	}
	if _, err := r.Build(Env{}, config.HookConfig{Name: "a", Action: "watchdog"}); err == nil {
		t.Fatal("watchdog without notifier accepted")
	}
}

func TestLogActionEvery(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	s := beat.New(ticksource.NewManual())
	env := Env{Log: logx.NewJSON(&buf, "debug"), Scheduler: s}
	cb, err := NewRegistry().Build(env, config.HookConfig{
		Name: "blink", Action: "LOG", Args: json.RawMessage(`{"message":"blink","level":"warn","every":2}`),
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for i := 0; i < 4; i++ {
		cb()
	}
	out := buf.String()
	if n := strings.Count(out, `"message":"blink"`); n != 2 {
		t.Fatalf("logged %d lines, want 2: %s", n, out)
	}
	if !strings.Contains(out, `"level":"warn"`) || !strings.Contains(out, `"hook":"blink"`) {
		t.Fatalf("unexpected output %s", out)
	}
}

func TestSampleAndWatchdogActions(t *testing.T) {
	t.Parallel()
	smp := &fakeSampler{}
	wd := &fakeWatchdog{}
	env := Env{Sampler: smp, Watchdog: wd}
	r := NewRegistry()

	sample, err := r.Build(env, config.HookConfig{Name: "s", Action: "sample", Args: json.RawMessage(`{"timeout":"250ms"}`)})
	if err != nil {
		t.Fatalf("Build(sample): %v", err)
	}
	ping, err := r.Build(env, config.HookConfig{Name: "w", Action: "watchdog"})
	if err != nil {
		t.Fatalf("Build(watchdog): %v", err)
	}
	sample()
	ping()
	ping()
	if smp.n != 1 || wd.n != 2 {
		t.Fatalf("samples=%d pings=%d", smp.n, wd.n)
	}
}

func TestCustomAction(t *testing.T) {
	t.Parallel()
	var fired int
	r := NewRegistry(Action{Name: "count", TickSafe: true, New: func(Env, string, json.RawMessage) (func(), error) {
		return func() { fired++ }, nil
	}})
	if got := strings.Join(r.Names(), ","); got != "count,log,noop,sample,watchdog" {
		t.Fatalf("Names() = %s", got)
	}
	cb, err := r.Build(Env{}, config.HookConfig{Name: "c", Action: "count", Interrupt: true})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	cb()
	if fired != 1 {
		t.Fatalf("fired = %d", fired)
	}
}
