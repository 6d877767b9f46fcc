package app

import (
	"context"
	"slices"
	"strings"

	"heartbeat/internal/config"
	"heartbeat/internal/eventbus"
	logx "heartbeat/pkg/logx"
)

// reloadLoop applies every committed config until ctx is done.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	// Track last applied config to generate a safe diff summary for logs.
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

// applyConfig moves the running daemon from prev to next. next has passed
// validation, including a dry-run build of every hook.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs, hd := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	a.notify.SetEnabled(next.Systemd.Notify)
	a.notify.Reloading()

	// update logging first so the rest of the reload logs at the new level
	a.logs.Apply(mapLogConfig(next))

	if slices.Contains(sections, "scheduler") {
		if prev.Scheduler.TickPeriod != next.Scheduler.TickPeriod || prev.Scheduler.Capacity != next.Scheduler.Capacity {
			a.log.Warn("scheduler.tick_period and scheduler.capacity need a restart; keeping current values",
				logx.Duration("tick", a.sched.TickPeriod()),
				logx.Int("capacity", a.sched.Capacity()),
			)
		}
		if d, err := next.Scheduler.PumpIntervalOrDefault(); err == nil {
			a.setPumpInterval(d)
		}
	}
	if slices.Contains(sections, "storage") {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}

	maxISR, warnRate := diagSettings(next, a.sched.TickPeriod())
	a.monitor.Reconfigure(maxISR, warnRate)

	// Free slots before anything is registered: validation counted the
	// final set against the running capacity, not the intermediate ones.
	if err := a.removeBuiltins(next); err != nil {
		a.log.Warn("built-in hooks not fully removed", logx.Err(err))
	}
	if !hd.Empty() {
		if err := a.reconcileHooks(next.Hooks); err != nil {
			a.log.Warn("hooks not fully applied", logx.Err(err))
		}
	}
	if err := a.syncBuiltins(next); err != nil {
		a.log.Warn("built-in hooks not fully applied", logx.Err(err))
	}

	a.cron.Apply(mapCronConfig(next))
	if err := a.cron.Set(a.cronJobs(next)); err != nil {
		a.log.Warn("invalid cron config; keeping previous", logx.Err(err))
	}
	a.httpd.Reconfigure(ctx, mapHTTPConfig(next))

	a.bus.Publish(eventbus.Event{
		Type: eventbus.ConfigReloaded,
		Data: map[string]any{"changed": sections, "hooks": a.sched.Len()},
	})
	a.notify.Ready()
	a.log.Info("config reloaded", fields...)
}
