package app

import (
	"context"
	"strings"
	"time"

	"heartbeat/internal/beat"
	"heartbeat/internal/config"
	"heartbeat/internal/diag"
	"heartbeat/internal/storage"
)

const defaultBusyTimeout = time.Second

// mapStorageConfig returns the store config and whether storage is enabled.
// cfg must have passed config.Validate.
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, defaultBusyTimeout)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{Driver: driver, Path: strings.TrimSpace(sc.Path), BusyTimeout: busy}, true, nil
}

// retentionOf returns how long records are kept; 0 keeps everything.
func retentionOf(cfg *config.Config) time.Duration {
	if cfg == nil || cfg.Storage == nil {
		return 0
	}
	d, err := config.ParseDurationField("storage.retention", cfg.Storage.Retention)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// storeSampler persists scheduler snapshots. It backs the "sample" action.
type storeSampler struct {
	store   storage.Store
	sched   *beat.Scheduler
	session string
}

func (s storeSampler) Sample(ctx context.Context) error {
	return s.store.AppendSample(ctx, diag.SampleOf(s.sched.Snapshot(), s.session))
}
