package engine

import "errors"

var (
	// ErrFatal is returned by Run when the loop hit an unrecoverable fault.
	ErrFatal = errors.New("scheduler loop died")

	ErrMinuteDisabled = errors.New("minute intervals are disabled (engine.allow_minute_intervals)")
	ErrNoProvider     = errors.New("no provider configured for scope kind")
	ErrBadFormat      = errors.New("unknown output format")
	ErrStarted        = errors.New("engine already started")
)
