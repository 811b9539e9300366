package provider

import (
	"errors"
	"fmt"
)

// Outcome classifies an action result.
type Outcome int

const (
	OutcomeOK Outcome = iota
	// OutcomeTransient is retried at the next occurrence.
	OutcomeTransient
	// OutcomePermanent deactivates the governing schedule.
	OutcomePermanent
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeTransient:
		return "transient"
	case OutcomePermanent:
		return "permanent"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is what an Executor reports back.
type Result struct {
	Outcome Outcome
	Err     error
	// Affected counts items the action touched (entries purged, snapshots
	// created). Informational only.
	Affected int
}

func OK(affected int) Result { return Result{Outcome: OutcomeOK, Affected: affected} }

func Transient(err error) Result { return Result{Outcome: OutcomeTransient, Err: err} }

func Permanent(err error) Result { return Result{Outcome: OutcomePermanent, Err: err} }

// FromError classifies err: nil is OK, errors wrapped with NoRetry or
// matching ErrScopeGone are permanent, anything else is transient.
func FromError(err error) Result {
	switch {
	case err == nil:
		return OK(0)
	case IsNoRetry(err), errors.Is(err, ErrScopeGone):
		return Permanent(err)
	default:
		return Transient(err)
	}
}

func (r Result) Failed() bool { return r.Outcome != OutcomeOK }

// NoRetry marks an error as permanent.
//
// Example:
//
//	return provider.NoRetry(fmt.Errorf("pool %s: %w", name, err))
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return noRetryError{err: err}
}

// IsNoRetry reports whether err is wrapped with NoRetry.
func IsNoRetry(err error) bool {
	var e noRetryError
	return errors.As(err, &e)
}

type noRetryError struct{ err error }

func (e noRetryError) Error() string { return fmt.Sprintf("no-retry: %v", e.err) }
func (e noRetryError) Unwrap() error { return e.err }
