package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"maintd/internal/levelspec"
	"maintd/internal/retention"
	"maintd/internal/schedule"
	logx "maintd/pkg/logx"
)

// Code classifies an admin result.
type Code int

const (
	CodeOK Code = iota
	CodeInvalidArgument
	CodeNotFound
	CodeUnavailable
	CodeInternal
)

func (c Code) String() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeInvalidArgument:
		return "invalid_argument"
	case CodeNotFound:
		return "not_found"
	case CodeUnavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

// Result is the reply to an admin operation. Payload is set by List and
// Status.
type Result struct {
	Code    Code
	Message string
	Payload []byte
}

func (r Result) OK() bool { return r.Code == CodeOK }

func okMsg(msg string) Result { return Result{Code: CodeOK, Message: msg} }

// fail maps an error to a result code.
func fail(err error) Result {
	code := CodeInternal
	switch {
	case errors.Is(err, levelspec.ErrInvalidSpec),
		errors.Is(err, schedule.ErrInvalidInterval),
		errors.Is(err, schedule.ErrInvalidStart),
		errors.Is(err, retention.ErrInvalidPolicy),
		errors.Is(err, schedule.ErrRetentionConflict),
		errors.Is(err, ErrMinuteDisabled),
		errors.Is(err, ErrNoProvider),
		errors.Is(err, ErrBadFormat):
		code = CodeInvalidArgument
	case errors.Is(err, schedule.ErrNotFound):
		code = CodeNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		code = CodeUnavailable
	}
	return Result{Code: code, Message: err.Error()}
}

type target struct {
	level levelspec.LevelSpec
	iv    schedule.Interval
	start time.Time
}

// parseTarget parses the (level, interval, start) triple. Interval and
// start may be empty; required says whether the interval must be given.
func (e *Engine) parseTarget(level, interval, start string, required bool) (target, error) {
	var t target
	var err error
	if t.level, err = levelspec.Parse(level); err != nil {
		return t, err
	}
	if strings.TrimSpace(interval) != "" || required {
		if t.iv, err = schedule.ParseInterval(interval); err != nil {
			return t, err
		}
		if t.iv.Unit == schedule.Minute && !e.cfg.AllowMinuteIntervals {
			return t, ErrMinuteDisabled
		}
	}
	if t.start, err = schedule.ParseStart(start); err != nil {
		return t, err
	}
	return t, nil
}

// mutatedLocked rebuilds the queue after a store change and wakes the loop.
// Caller holds e.mu.
func (e *Engine) mutatedLocked(discover bool) {
	if discover {
		e.reg.Invalidate()
	}
	e.rebuildLocked(e.now())
	e.notify()
}

// Add creates or replaces the schedule (level, interval, start).
func (e *Engine) Add(ctx context.Context, level, interval, start, policy string) Result {
	t, err := e.parseTarget(level, interval, start, true)
	if err != nil {
		return fail(err)
	}
	if k := t.level.Kind; k != levelspec.KindAny {
		if _, found := e.providers[k]; !found {
			return fail(fmt.Errorf("%w: %s", ErrNoProvider, k))
		}
	}
	pol, err := retention.ParsePolicy(policy)
	if err != nil {
		return fail(err)
	}

	var rec schedule.Record
	e.locked(func() {
		if rec, err = e.store.Add(ctx, t.level, t.iv, t.start, pol); err == nil {
			e.mutatedLocked(true)
		}
	})
	if err != nil {
		e.log.Warn("adding schedule failed", logx.String("level", t.level.String()), logx.Err(err))
		return fail(err)
	}
	e.log.Info("schedule added", logx.String("schedule", rec.Key()))
	return okMsg("added " + rec.Key())
}

// Remove deletes matching schedules. Removing nothing is not an error.
func (e *Engine) Remove(ctx context.Context, level, interval, start string) Result {
	t, err := e.parseTarget(level, interval, start, false)
	if err != nil {
		return fail(err)
	}

	var n int
	e.locked(func() {
		if n, err = e.store.Remove(ctx, t.level, t.iv, t.start); n > 0 {
			e.mutatedLocked(false)
		}
	})
	if err != nil {
		return fail(err)
	}
	if n == 0 {
		return okMsg("no matching schedule for " + t.level.String())
	}
	e.log.Info("schedules removed", logx.String("level", t.level.String()), logx.Int("count", n))
	return okMsg(fmt.Sprintf("removed %d schedule(s)", n))
}

// Activate re-enables matching schedules.
func (e *Engine) Activate(ctx context.Context, level, interval, start string) Result {
	return e.setActive(ctx, level, interval, start, true)
}

// Deactivate pauses matching schedules without removing them.
func (e *Engine) Deactivate(ctx context.Context, level, interval, start string) Result {
	return e.setActive(ctx, level, interval, start, false)
}

func (e *Engine) setActive(ctx context.Context, level, interval, start string, active bool) Result {
	t, err := e.parseTarget(level, interval, start, false)
	if err != nil {
		return fail(err)
	}
	var n int
	e.locked(func() {
		if n, err = e.store.SetActive(ctx, t.level, t.iv, t.start, active); n > 0 {
			e.mutatedLocked(active)
		}
	})
	if err != nil {
		return fail(err)
	}
	verb := "deactivated"
	if active {
		verb = "activated"
	}
	return okMsg(fmt.Sprintf("%s %d schedule(s)", verb, n))
}

// AddRetention adds retention periods to the schedules attached to level.
func (e *Engine) AddRetention(ctx context.Context, level, policy string) Result {
	return e.editRetention(ctx, level, policy, true)
}

// RemoveRetention removes retention periods from the schedules attached to
// level.
func (e *Engine) RemoveRetention(ctx context.Context, level, policy string) Result {
	return e.editRetention(ctx, level, policy, false)
}

func (e *Engine) editRetention(ctx context.Context, level, policy string, add bool) Result {
	t, err := e.parseTarget(level, "", "", false)
	if err != nil {
		return fail(err)
	}
	pol, err := retention.ParsePolicy(policy)
	if err != nil {
		return fail(err)
	}
	if len(pol) == 0 {
		return fail(fmt.Errorf("%w: no retention given", retention.ErrInvalidPolicy))
	}

	e.locked(func() {
		if add {
			err = e.store.AddRetention(ctx, t.level, pol)
		} else {
			err = e.store.RemoveRetention(ctx, t.level, pol)
		}
	})
	if err != nil {
		return fail(err)
	}
	return okMsg("retention updated for " + t.level.String())
}

// List renders the schedules whose level intersects level.
func (e *Engine) List(level, format string) Result {
	spec, err := levelspec.Parse(level)
	if err != nil {
		return fail(err)
	}
	var recs []schedule.Record
	e.locked(func() { recs = e.store.ListMatching(spec) })

	items := make([]listItem, 0, len(recs))
	for _, r := range recs {
		items = append(items, toListItem(r))
	}
	return render(items, format)
}

// Status renders the queued scopes matched by level in due order.
func (e *Engine) Status(level, format string) Result {
	spec, err := levelspec.Parse(level)
	if err != nil {
		return fail(err)
	}
	var items []statusItem
	e.locked(func() {
		entries := e.queue.Entries(spec.Matches)
		items = make([]statusItem, 0, len(entries))
		for _, ent := range entries {
			it := statusItem{Scope: ent.Scope.String(), Due: ent.Due.UTC().Format(time.RFC3339)}
			if rec, found := e.store.FindGoverning(ent.Scope); found {
				it.Schedule = rec.Key()
			}
			items = append(items, it)
		}
	})
	return render(items, format)
}

// Records returns a copy of every schedule record.
func (e *Engine) Records() []schedule.Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.All()
}
