package config

import (
	"reflect"
	"sort"
	"strings"

	logx "heartbeat/pkg/logx"
)

// HookDiff lists hook names by what a reload does to them.
type HookDiff struct {
	Added   []string
	Removed []string
	Changed []string
}

func (d HookDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// SummarizeConfigChange returns a compact sorted list of changed sections,
// structured attrs for logging, and the hook-level diff.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, HookDiff) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.tick_period", strings.TrimSpace(newCfg.Scheduler.TickPeriod)),
			logx.Int("scheduler.capacity", newCfg.Scheduler.Capacity),
			logx.String("scheduler.pump_interval", strings.TrimSpace(newCfg.Scheduler.PumpInterval)),
		)
	}

	hd := DiffHooks(oldCfg.Hooks, newCfg.Hooks)
	if !hd.Empty() {
		changed = append(changed, "hooks")
		attrs = append(attrs,
			logx.Int("hooks.added", len(hd.Added)),
			logx.Int("hooks.removed", len(hd.Removed)),
			logx.Int("hooks.changed", len(hd.Changed)),
			logx.Int("hooks.total", len(newCfg.Hooks)),
		)
	}

	if oldCfg.Diagnostics != newCfg.Diagnostics {
		changed = append(changed, "diagnostics")
		attrs = append(attrs,
			logx.Bool("diagnostics.enabled", newCfg.Diagnostics.Enabled),
			logx.Int("diagnostics.period", int(newCfg.Diagnostics.Period)),
			logx.String("diagnostics.max_isr", strings.TrimSpace(newCfg.Diagnostics.MaxISR)),
		)
	}

	// Nil means disabled.
	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if (oldCfg.Storage != nil) != (newCfg.Storage != nil) || oS != nS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
			logx.String("storage.retention", strings.TrimSpace(nS.Retention)),
		)
	}

	if oldCfg.Metrics != newCfg.Metrics {
		changed = append(changed, "metrics")
		attrs = append(attrs,
			logx.Bool("metrics.enabled", newCfg.Metrics.Enabled),
			logx.String("metrics.addr", strings.TrimSpace(newCfg.Metrics.Addr)),
			logx.Bool("metrics.pprof", newCfg.Metrics.Pprof),
		)
	}

	if oldCfg.Systemd != newCfg.Systemd {
		changed = append(changed, "systemd")
		attrs = append(attrs,
			logx.Bool("systemd.notify", newCfg.Systemd.Notify),
			logx.Bool("systemd.watchdog", newCfg.Systemd.Watchdog),
		)
	}

	if oldCfg.Cron != newCfg.Cron {
		changed = append(changed, "cron")
		attrs = append(attrs,
			logx.String("cron.timezone", strings.TrimSpace(newCfg.Cron.Timezone)),
			logx.String("cron.summary", strings.TrimSpace(newCfg.Cron.Summary)),
			logx.String("cron.prune", strings.TrimSpace(newCfg.Cron.Prune)),
		)
	}

	sort.Strings(changed)
	return changed, attrs, hd
}

// DiffHooks compares hook declarations by name. Args are compared after
// JSON canonicalization.
func DiffHooks(oldHooks, newHooks []HookConfig) HookDiff {
	oldM := indexHooks(oldHooks)
	newM := indexHooks(newHooks)

	var d HookDiff
	for name, n := range newM {
		o, ok := oldM[name]
		switch {
		case !ok:
			d.Added = append(d.Added, name)
		case !sameHook(o, n):
			d.Changed = append(d.Changed, name)
		}
	}
	for name := range oldM {
		if _, ok := newM[name]; !ok {
			d.Removed = append(d.Removed, name)
		}
	}
	sort.Strings(d.Added)
	sort.Strings(d.Removed)
	sort.Strings(d.Changed)
	return d
}

func indexHooks(hooks []HookConfig) map[string]HookConfig {
	m := make(map[string]HookConfig, len(hooks))
	for _, h := range hooks {
		m[strings.TrimSpace(h.Name)] = h
	}
	return m
}

func sameHook(a, b HookConfig) bool {
	if canonicalHashJSON(a.Args) != canonicalHashJSON(b.Args) {
		return false
	}
	a.Args, b.Args = nil, nil
	return reflect.DeepEqual(a, b)
}

// SameBinding reports whether two declarations bind the same action with
// the same args and context. A reload keeps such a hook registered and only
// adjusts its period and flags.
func SameBinding(a, b HookConfig) bool {
	return strings.TrimSpace(a.Action) == strings.TrimSpace(b.Action) &&
		a.Interrupt == b.Interrupt &&
		canonicalHashJSON(a.Args) == canonicalHashJSON(b.Args)
}
