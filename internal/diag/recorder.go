package diag

import (
	"context"
	"encoding/json"
	"time"

	"heartbeat/internal/beat"
	"heartbeat/internal/eventbus"
	"heartbeat/internal/storage"
	logx "heartbeat/pkg/logx"
)

const writeTimeout = 2 * time.Second

// Recorder persists bus events to a store.
type Recorder struct {
	store   storage.Store
	session string
	log     logx.Logger
}

func NewRecorder(store storage.Store, session string, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{store: store, session: session, log: log}
}

// Run writes every event received on ch until ctx is done or ch closes.
// Write errors are logged, not returned.
func (r *Recorder) Run(ctx context.Context, ch <-chan eventbus.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := r.store.AppendEvent(wctx, ToRecord(e, r.session))
			cancel()
			if err != nil {
				r.log.Warn("event write failed", logx.String("type", e.Type), logx.Err(err))
			}
		}
	}
}

// ToRecord converts a bus event into a storage record.
func ToRecord(e eventbus.Event, session string) storage.Event {
	rec := storage.Event{At: e.Time, Session: session, Type: e.Type, Hook: e.Hook}
	if len(e.Data) > 0 {
		if b, err := json.Marshal(e.Data); err == nil {
			rec.Data = string(b)
		}
	}
	return rec
}

// SampleOf converts a scheduler snapshot into a storage sample.
func SampleOf(snap beat.Snapshot, session string) storage.Sample {
	sm := storage.Sample{
		At:          time.Now(),
		Session:     session,
		GlobalCount: snap.GlobalCount,
		ISR:         snap.InterruptServiceDuration.Nanoseconds(),
		Running:     snap.Running,
		Hooks:       make([]storage.HookSample, 0, len(snap.Hooks)),
	}
	for _, h := range snap.Hooks {
		sm.Hooks = append(sm.Hooks, storage.HookSample{
			Name:   h.Name,
			Period: h.Period,
			Count:  h.Count,
			Flags:  h.Flags.String(),
			Fired:  h.Fired,
		})
	}
	return sm
}
