package storage

import (
	"errors"
	"strings"

	"maintd/internal/schedule"
	logx "maintd/pkg/logx"
)

// Open initializes the configured schedule repository.
func Open(cfg Config, log logx.Logger) (schedule.Repository, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "file":
		return openFile(cfg, log)
	case "memory", "none":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
