// Package storage persists schedule records.
//
// It provides schedule.Repository implementations:
//   - sqlite: one database file, one connection (default)
//   - file: JSON snapshot plus an append-only journal
//   - memory: process-local, for tests and dry runs
package storage
