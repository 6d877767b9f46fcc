// Package actions binds hook declarations from config to callbacks.
package actions

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"heartbeat/internal/beat"
	"heartbeat/internal/config"
	logx "heartbeat/pkg/logx"
)

var (
	ErrUnknownAction = errors.New("unknown action")
	ErrNotTickSafe   = errors.New("action cannot run in tick context")
)

// Env is what an action may use to build its callback.
type Env struct {
	Log       logx.Logger
	Scheduler *beat.Scheduler
	Sampler   Sampler  // may be nil
	Watchdog  Watchdog // may be nil
}

// Factory builds the callback of one hook. args is the raw "args" object
// of the hook declaration and may be empty.
type Factory func(env Env, hook string, args json.RawMessage) (func(), error)

// Action is a named callback factory.
//
// TickSafe actions never take the scheduler gate, block or do I/O, so they may be
// declared with interrupt: true.
type Action struct {
	Name     string
	TickSafe bool
	New      Factory
}

type Registry struct {
	mu      sync.RWMutex
	actions map[string]Action
}

// NewRegistry returns a registry holding the built-in actions plus extra.
func NewRegistry(extra ...Action) *Registry {
	r := &Registry{actions: map[string]Action{}}
	for _, a := range append(Builtins(), extra...) {
		r.Add(a)
	}
	return r
}

// Add registers a, replacing an action of the same name.
func (r *Registry) Add(a Action) {
	r.mu.Lock()
	r.actions[strings.ToLower(a.Name)] = a
	r.mu.Unlock()
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.actions))
	for n := range r.actions {
		out = append(out, n)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Build returns the callback for a hook declaration.
func (r *Registry) Build(env Env, h config.HookConfig) (func(), error) {
	name := strings.ToLower(strings.TrimSpace(h.Action))
	r.mu.RLock()
	a, ok := r.actions[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("hook %q: %w: %q", h.Name, ErrUnknownAction, h.Action)
	}
	if h.Interrupt && !a.TickSafe {
		return nil, fmt.Errorf("hook %q: %w: %q", h.Name, ErrNotTickSafe, a.Name)
	}
	if env.Log.IsZero() {
		env.Log = logx.Nop()
	}
	cb, err := a.New(env, h.Name, h.Args)
	if err != nil {
		return nil, fmt.Errorf("hook %q: action %q: %w", h.Name, a.Name, err)
	}
	return cb, nil
}

// decodeArgs decodes args strictly into v. Empty args leave v untouched.
func decodeArgs(args json.RawMessage, v any) error {
	if len(bytes.TrimSpace(args)) == 0 || string(bytes.TrimSpace(args)) == "null" {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(args))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("args: %w", err)
	}
	return nil
}
