package storage

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrDisabled      = errors.New("storage disabled")
	ErrClosed        = errors.New("storage closed")
	ErrUnknownDriver = errors.New("unknown storage driver")
)

// Config configures storage. An empty Driver or "none" disables it.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Sample is a periodic snapshot of the scheduler.
type Sample struct {
	At          time.Time    `json:"at"`
	Session     string       `json:"session"`
	GlobalCount uint32       `json:"global_count"`
	ISR         int64        `json:"isr_ns"`
	Running     bool         `json:"running"`
	Hooks       []HookSample `json:"hooks"`
}

type HookSample struct {
	Name   string `json:"name"`
	Period int32  `json:"period"`
	Count  int32  `json:"count"`
	Flags  string `json:"flags"`
	Fired  uint64 `json:"fired"`
}

// Event is one diagnostic event (late hook, tick handler overrun, reload).
type Event struct {
	At      time.Time `json:"at"`
	Session string    `json:"session"`
	Type    string    `json:"type"`
	Hook    string    `json:"hook,omitempty"`
	Data    string    `json:"data,omitempty"` // JSON object
}

// NewSession returns a fresh session id for one daemon run.
func NewSession() string { return uuid.NewString() }

// ValidSession reports whether s is a session id produced by NewSession.
func ValidSession(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
