// Package storage persists diagnostic samples and events of the heartbeat
// scheduler.
//
// Drivers:
//   - "file": JSON Lines files next to the configured path
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//
// Every record carries the session id of the daemon run that wrote it.
package storage
