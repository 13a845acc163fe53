// Package storage persists the dispatch journal: one record per scheduler
// lifecycle event (added, fired, rescheduled, retired, deleted), stamped with
// the daemon run that produced it.
//
// The journal is an audit trail only. Queued work is never restored from it.
//
// Drivers:
//   - "file": JSON Lines, compacted to the newest Retain records
//   - "sqlite": SQLite via modernc.org/sqlite (pure Go, no cgo)
package storage
