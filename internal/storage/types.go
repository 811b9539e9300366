package storage

import (
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "sqlite" (or empty): SQLite database file
//   - "file": snapshot + journal files next to Path
//   - "memory": nothing is written to disk
type Config struct {
	Driver       string
	Path         string
	BusyTimeout  time.Duration // sqlite only; 0 means default
	CompactEvery int           // file only; journal entries between compactions
}

const (
	defaultSQLitePath   = "./data/maintd.db"
	defaultCompactEvery = 500
)
