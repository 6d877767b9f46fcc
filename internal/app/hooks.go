package app

import (
	"errors"
	"fmt"
	"strings"

	"heartbeat/internal/actions"
	"heartbeat/internal/beat"
	"heartbeat/internal/config"
	"heartbeat/internal/eventbus"
	logx "heartbeat/pkg/logx"
)

// hookOptions maps a declaration to registration options.
func hookOptions(h config.HookConfig) []beat.HookOption {
	opts := []beat.HookOption{beat.WithInitialCount(h.InitialCountOrPeriod())}
	if h.OneShot {
		opts = append(opts, beat.OneShot())
	}
	if h.Interrupt {
		opts = append(opts, beat.InInterrupt())
	}
	if h.Disabled {
		opts = append(opts, beat.Disabled())
	}
	if f := userFlags(h.UserFlags); f != 0 {
		opts = append(opts, beat.WithUserFlags(f))
	}
	return opts
}

func userFlags(ns []int) beat.Flags {
	var f beat.Flags
	for _, n := range ns {
		switch n {
		case 1:
			f |= beat.FlagUser1
		case 2:
			f |= beat.FlagUser2
		case 3:
			f |= beat.FlagUser3
		}
	}
	return f
}

func (a *App) actionEnv() actions.Env {
	env := actions.Env{
		Log:       a.log.With(logx.String("comp", "hooks")),
		Scheduler: a.sched,
		Watchdog:  a.notify,
	}
	if a.store != nil {
		env.Sampler = storeSampler{store: a.store, sched: a.sched, session: a.session}
	}
	return env
}

// builtinCount is the number of slots the daemon's own hooks take under cfg.
func (a *App) builtinCount(cfg *config.Config) int {
	n := 0
	if cfg.Diagnostics.Enabled {
		n++
	}
	if cfg.Systemd.Watchdog && a.watchdogEvery > 0 {
		n++
	}
	return n
}

// checkHooks builds every declared callback without registering anything.
func (a *App) checkHooks(cfg *config.Config) error {
	if total := len(cfg.Hooks) + a.builtinCount(cfg); total > a.sched.Capacity() {
		return fmt.Errorf("hooks: %d hooks exceed the running capacity %d (capacity changes need a restart)", total, a.sched.Capacity())
	}
	env := a.actionEnv()
	var errs []error
	for _, h := range cfg.Hooks {
		if _, err := a.actions.Build(env, h); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// registerHooks registers every declared hook. Used once at startup.
func (a *App) registerHooks(hooks []config.HookConfig) error {
	a.hmu.Lock()
	defer a.hmu.Unlock()
	env := a.actionEnv()
	for _, h := range hooks {
		cb, err := a.actions.Build(env, h)
		if err != nil {
			return err
		}
		if err := a.registerLocked(h, cb); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) registerLocked(h config.HookConfig, cb func()) error {
	name := strings.TrimSpace(h.Name)
	if _, err := a.sched.Register(name, h.Period, cb, hookOptions(h)...); err != nil {
		return err
	}
	a.hooks[name] = h
	a.bus.Publish(eventbus.Event{
		Type: eventbus.HookRegistered,
		Hook: name,
		Data: map[string]any{"action": h.Action, "period": h.Period, "interrupt": h.Interrupt},
	})
	return nil
}

func (a *App) unregisterLocked(name string) error {
	hd, ok := a.sched.Lookup(name)
	delete(a.hooks, name)
	if !ok {
		return nil
	}
	if err := a.sched.Unregister(hd); err != nil {
		return err
	}
	a.bus.Publish(eventbus.Event{Type: eventbus.HookRemoved, Hook: name})
	return nil
}

// reconcileHooks moves the registry to next by name. Hooks whose binding
// (action, args, context) is unchanged stay registered and are re-armed
// with their new period and flags; the rest are replaced. Every callback is
// built before the registry is touched, so a failed build changes nothing.
func (a *App) reconcileHooks(next []config.HookConfig) error {
	a.hmu.Lock()
	defer a.hmu.Unlock()

	prev := make([]config.HookConfig, 0, len(a.hooks))
	for _, h := range a.hooks {
		prev = append(prev, h)
	}
	diff := config.DiffHooks(prev, next)
	if diff.Empty() {
		return nil
	}
	want := make(map[string]config.HookConfig, len(next))
	for _, h := range next {
		want[strings.TrimSpace(h.Name)] = h
	}

	env := a.actionEnv()
	built := map[string]func(){}
	var errs []error
	build := func(name string) {
		cb, err := a.actions.Build(env, want[name])
		if err != nil {
			errs = append(errs, err)
			return
		}
		built[name] = cb
	}
	var adjust []string
	for _, name := range diff.Added {
		build(name)
	}
	for _, name := range diff.Changed {
		if config.SameBinding(a.hooks[name], want[name]) {
			adjust = append(adjust, name)
			continue
		}
		build(name)
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	for _, name := range diff.Removed {
		if err := a.unregisterLocked(name); err != nil {
			errs = append(errs, fmt.Errorf("remove %q: %w", name, err))
		}
	}
	for name := range built {
		if _, ok := a.hooks[name]; ok {
			if err := a.unregisterLocked(name); err != nil {
				errs = append(errs, fmt.Errorf("replace %q: %w", name, err))
			}
		}
	}
	for _, name := range adjust {
		if err := a.adjustLocked(want[name]); err != nil {
			errs = append(errs, fmt.Errorf("adjust %q: %w", name, err))
		}
	}
	// Register in declaration order so equal periods keep the file's order.
	for _, h := range next {
		name := strings.TrimSpace(h.Name)
		cb, ok := built[name]
		if !ok {
			continue
		}
		if err := a.registerLocked(h, cb); err != nil {
			errs = append(errs, err)
		}
	}

	a.log.Info("hooks reconciled",
		logx.Any("added", diff.Added),
		logx.Any("removed", diff.Removed),
		logx.Any("changed", diff.Changed),
		logx.Int("registered", a.sched.Len()),
	)
	return errors.Join(errs...)
}

// adjustLocked re-arms a registered hook in place: period and countdown are
// reset from h, then the flags follow h.
func (a *App) adjustLocked(h config.HookConfig) error {
	name := strings.TrimSpace(h.Name)
	hd, ok := a.sched.Lookup(name)
	if !ok {
		return beat.ErrUnknownHook
	}
	// A looped hook refuses a non-positive period, so drop the loop first.
	if h.OneShot {
		if err := a.sched.SetLooped(hd, false); err != nil {
			return err
		}
	}
	if err := a.sched.SetPeriod(hd, h.Period, beat.WithCount(h.InitialCountOrPeriod())); err != nil {
		return err
	}
	if !h.OneShot {
		if err := a.sched.SetLooped(hd, true); err != nil {
			return err
		}
	}
	if err := a.sched.SetUserFlags(hd, userFlags(h.UserFlags)); err != nil {
		return err
	}
	var err error
	if h.Disabled {
		err = a.sched.Disable(hd)
	} else {
		err = a.sched.Enable(hd)
	}
	if err != nil {
		return err
	}
	a.hooks[name] = h
	return nil
}

type builtinHook struct {
	name   string
	want   bool
	period int32
	cb     func()
}

func (a *App) builtins(cfg *config.Config) []builtinHook {
	return []builtinHook{
		{config.HookMonitor, cfg.Diagnostics.Enabled, cfg.Diagnostics.PeriodOrDefault(), a.monitor.Check},
		{config.HookWatchdog, cfg.Systemd.Watchdog && a.watchdogEvery > 0, a.watchdogPeriod(), a.notify.Watchdog},
	}
}

// removeBuiltins unregisters the daemon's own hooks that cfg no longer wants.
func (a *App) removeBuiltins(cfg *config.Config) error {
	a.hmu.Lock()
	defer a.hmu.Unlock()
	var errs []error
	for _, b := range a.builtins(cfg) {
		if !b.want {
			errs = append(errs, a.dropBuiltin(b.name))
		}
	}
	return errors.Join(errs...)
}

// syncBuiltins removes, re-periods or registers the daemon's own hooks.
// Removals run first so a freed slot can be reused.
func (a *App) syncBuiltins(cfg *config.Config) error {
	a.hmu.Lock()
	defer a.hmu.Unlock()
	if cfg.Systemd.Watchdog && a.watchdogEvery <= 0 {
		a.log.Info("systemd watchdog not configured for this unit; hook not registered")
	}
	hooks := a.builtins(cfg)
	var errs []error
	for _, b := range hooks {
		if !b.want {
			errs = append(errs, a.dropBuiltin(b.name))
		}
	}
	for _, b := range hooks {
		if b.want {
			errs = append(errs, a.armBuiltin(b))
		}
	}
	return errors.Join(errs...)
}

func (a *App) dropBuiltin(name string) error {
	hd, ok := a.sched.Lookup(name)
	if !ok {
		return nil
	}
	if err := a.sched.Unregister(hd); err != nil {
		return err
	}
	a.bus.Publish(eventbus.Event{Type: eventbus.HookRemoved, Hook: name})
	return nil
}

func (a *App) armBuiltin(b builtinHook) error {
	hd, ok := a.sched.Lookup(b.name)
	if !ok {
		if _, err := a.sched.Register(b.name, b.period, b.cb); err != nil {
			return err
		}
		a.bus.Publish(eventbus.Event{Type: eventbus.HookRegistered, Hook: b.name, Data: map[string]any{"period": b.period, "builtin": true}})
		return nil
	}
	if p, err := a.sched.Period(hd); err == nil && p != b.period {
		return a.sched.SetPeriod(hd, b.period)
	}
	return nil
}
