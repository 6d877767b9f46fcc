// Package ticksource provides the periodic tick sources that drive a
// beat.Scheduler: Ticker for production and Manual for deterministic tests.
package ticksource
