package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	logx "heartbeat/pkg/logx"
)

// Store is the persistence API used by the daemon.
type Store interface {
	AppendSample(ctx context.Context, s Sample) error
	AppendEvent(ctx context.Context, e Event) error
	// CountEvents counts events by type recorded at or after since.
	CountEvents(ctx context.Context, since time.Time) (map[string]int, error)
	// Prune deletes records older than before and returns how many went.
	Prune(ctx context.Context, before time.Time) (int64, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("driver", driver))

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, driver)
	}
}
