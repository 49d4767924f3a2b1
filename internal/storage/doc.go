// Package storage persists delivery history and the callback envelopes of
// transports that cannot carry message metadata.
//
// Drivers:
//   - "file": JSON Lines history plus an envelope snapshot and journal
//   - "sqlite": a single SQLite database file (modernc.org/sqlite, no cgo)
package storage
