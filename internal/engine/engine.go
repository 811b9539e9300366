// Package engine runs the scheduling loop: it keeps the due queue in step
// with schedules and discovered scopes, executes due actions and prunes
// their artifacts.
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"maintd/internal/levelspec"
	"maintd/internal/provider"
	"maintd/internal/queue"
	"maintd/internal/registry"
	"maintd/internal/retention"
	"maintd/internal/schedule"
	logx "maintd/pkg/logx"
)

type Engine struct {
	cfg       Config
	log       logx.Logger
	now       func() time.Time
	providers provider.Set
	reg       *registry.Registry

	// mu guards store and queue. It is never held across an action.
	mu    sync.Mutex
	store *schedule.Store
	queue *queue.Queue
	// scopes that ran since start; catch-up applies to each scope once
	ran map[levelspec.Scope]struct{}

	wake  chan struct{}
	alive atomic.Int64 // unix nanos of the last loop iteration or drained scope

	// failure log throttles; touched by the loop goroutine only
	failLogs map[levelspec.Scope]*rate.Sometimes

	runMu   sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	runErr  error
	started bool
}

func New(store *schedule.Store, providers provider.Set, cfg Config, log logx.Logger) *Engine {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "engine"))
	return &Engine{
		cfg:       cfg,
		log:       log,
		now:       time.Now,
		providers: providers,
		reg: registry.New(providers, registry.Config{
			RefreshInterval: cfg.RefreshInterval,
			Concurrency:     cfg.ListConcurrency,
		}, log),
		store:    store,
		queue:    queue.New(),
		ran:      map[levelspec.Scope]struct{}{},
		wake:     make(chan struct{}, 1),
		failLogs: map[levelspec.Scope]*rate.Sometimes{},
	}
}

// SetClock replaces the time source for the engine and its registry.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
	e.reg.SetClock(now)
}

// Start performs the initial discovery and queue build, then runs the loop
// in the background until Stop or ctx is done.
func (e *Engine) Start(ctx context.Context) error {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.started {
		return ErrStarted
	}
	e.started = true

	e.refresh(ctx)

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	go func() {
		defer close(e.done)
		err := e.Run(runCtx)
		e.runMu.Lock()
		e.runErr = err
		e.runMu.Unlock()
	}()
	e.log.Info("engine started",
		logx.Int("schedules", e.scheduleCount()),
		logx.Int("scopes", len(e.reg.Known())),
	)
	return nil
}

// Stop cancels the loop and waits for it to exit or for ctx to expire.
// An action in flight is waited for.
func (e *Engine) Stop(ctx context.Context) error {
	e.runMu.Lock()
	cancel, done := e.cancel, e.done
	e.runMu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return e.Err()
}

// Done is closed when the background loop exits. Nil before Start.
func (e *Engine) Done() <-chan struct{} {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	return e.done
}

// Err is the error the background loop exited with, if any.
func (e *Engine) Err() error {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	return e.runErr
}

// Alive reports whether the loop completed an iteration or finished a due
// scope within maxAge. A single action that outlasts maxAge still reads as
// not alive.
func (e *Engine) Alive(maxAge time.Duration) bool {
	last := e.alive.Load()
	if last == 0 {
		return false
	}
	return e.now().Sub(time.Unix(0, last)) <= maxAge
}

// Run is the scheduling loop. It returns nil when ctx is cancelled and
// ErrFatal after a panic in the loop itself.
func (e *Engine) Run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Fatal("scheduler loop panicked",
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())),
			)
			err = fmt.Errorf("%w: %v", ErrFatal, r)
		}
	}()

	for {
		e.alive.Store(e.now().UnixNano())
		wait := e.cycle(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-e.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// notify wakes the loop so it recomputes its wait.
func (e *Engine) notify() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// cycle refreshes, drains every due scope and returns how long the loop may
// sleep: until the earliest bucket or the next allowed refresh.
func (e *Engine) cycle(ctx context.Context) time.Duration {
	refreshWait := e.refresh(ctx)

	for {
		if ctx.Err() != nil {
			return 0
		}
		e.alive.Store(e.now().UnixNano())
		var (
			ent       queue.Entry
			queueWait time.Duration
			ok        bool
			rec       schedule.Record
			governed  bool
		)
		e.locked(func() {
			ent, queueWait, ok = e.queue.DequeueDue(e.now())
			if ok {
				rec, governed = e.store.FindGoverning(ent.Scope)
			}
		})

		if !ok {
			if queueWait >= 0 && queueWait < refreshWait {
				return queueWait
			}
			return refreshWait
		}
		if !governed {
			e.log.Debug("no schedule for due scope", logx.String("scope", ent.Scope.String()))
			continue
		}
		e.runOne(ctx, ent, rec)
	}
}

// refresh runs a throttled registry refresh and rebuilds the queue when
// the scope set was re-listed. It returns the time until the next allowed
// refresh.
func (e *Engine) refresh(ctx context.Context) time.Duration {
	var idx schedule.Index
	e.locked(func() { idx = e.store.Index() })

	diff, wait, refreshed := e.reg.Refresh(ctx, idx)
	if !refreshed {
		return wait
	}
	e.locked(func() {
		for _, s := range diff.Removed {
			delete(e.failLogs, s)
			delete(e.ran, s)
		}
		e.rebuildLocked(e.now())
	})
	return wait
}

// rebuildLocked recomputes the queue from the known scopes and their
// governing schedules. Entries already due and not yet drained keep their
// due time so a rebuild never skips an occurrence.
func (e *Engine) rebuildLocked(now time.Time) {
	pending := map[levelspec.Scope]time.Time{}
	for _, ent := range e.queue.Entries(nil) {
		if !ent.Due.After(now) {
			pending[ent.Scope] = ent.Due
		}
	}
	e.queue.Clear()
	for _, s := range e.reg.Known() {
		p, wasDue := pending[s]
		if !wasDue {
			e.enqueueLocked(s, now)
			continue
		}
		due, ok := e.dueLocked(s, now)
		if !ok {
			continue
		}
		if p.Before(due) {
			due = p
		}
		e.queue.Enqueue(s, due)
	}
}

// dueLocked computes when s next runs under its governing schedule.
func (e *Engine) dueLocked(s levelspec.Scope, now time.Time) (time.Time, bool) {
	rec, ok := e.store.FindGoverning(s)
	if !ok {
		e.log.Debug("no schedule configured", logx.String("scope", s.String()))
		return time.Time{}, false
	}
	if _, done := e.ran[s]; !done && e.cfg.CatchUp && rec.Overdue(now) {
		return now.UTC().Truncate(time.Minute), true
	}
	return rec.NextRun(now), true
}

// enqueueLocked queues s under its governing schedule. A scope without one
// is left out.
func (e *Engine) enqueueLocked(s levelspec.Scope, now time.Time) {
	if due, ok := e.dueLocked(s, now); ok {
		e.queue.Enqueue(s, due)
	}
}

// runOne executes the action for one due scope outside the lock, records
// the outcome and re-enqueues the scope.
func (e *Engine) runOne(ctx context.Context, ent queue.Entry, rec schedule.Record) {
	s := ent.Scope
	p, ok := e.providers[s.Kind]
	if !ok {
		e.log.Error("no provider for scope kind", logx.String("scope", s.String()))
		return
	}

	started := e.now()
	res := e.execute(ctx, p, s, rec)
	finished := e.now()

	log := e.log.With(
		logx.String("scope", s.String()),
		logx.String("schedule", rec.Key()),
	)
	// Bookkeeping must land even when shutdown cancelled ctx mid-action.
	bctx := context.WithoutCancel(ctx)

	e.record(bctx, ent, rec, res, started, finished, log)

	if res.Outcome == provider.OutcomeOK {
		if as, ok := p.(provider.ArtifactStore); ok {
			e.prune(ctx, as, s, rec, log)
		}
	}
}

// record applies an action outcome to the store and re-enqueues the scope.
func (e *Engine) record(bctx context.Context, ent queue.Entry, rec schedule.Record, res provider.Result, started, finished time.Time, log logx.Logger) {
	s := ent.Scope
	e.mu.Lock()
	defer e.mu.Unlock()

	e.ran[s] = struct{}{}
	switch res.Outcome {
	case provider.OutcomeOK:
		delete(e.failLogs, s)
		if err := e.store.MarkRun(bctx, rec.Key(), finished); err != nil {
			log.Warn("recording run failed", logx.Err(err))
		}
		log.Debug("action done",
			logx.Int("affected", res.Affected),
			logx.Duration("took", finished.Sub(started)),
		)
	case provider.OutcomePermanent:
		log.Error("action failed permanently", logx.Err(res.Err))
		if errors.Is(res.Err, provider.ErrScopeGone) {
			e.reg.Forget(s)
		}
		if e.cfg.DeactivateOnPermanent {
			if err := e.store.Deactivate(bctx, rec.Key()); err != nil {
				log.Warn("deactivating schedule failed", logx.Err(err))
			} else {
				log.Warn("schedule deactivated")
			}
		}
		e.rebuildLocked(finished)
	default:
		e.logFailure(log, s, res.Err)
	}

	if e.reg.Contains(s) {
		floor := finished
		if next := ent.Due.Add(time.Minute); next.After(floor) {
			floor = next
		}
		if cur, ok := e.store.FindGoverning(s); ok {
			e.queue.Enqueue(s, cur.NextRun(floor))
		}
	}
}

// execute calls the provider, turning a panic into a transient failure so
// one scope cannot take the loop down.
func (e *Engine) execute(ctx context.Context, p provider.Executor, s levelspec.Scope, rec schedule.Record) (res provider.Result) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("action panicked",
				logx.String("scope", s.String()),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())),
			)
			res = provider.Transient(fmt.Errorf("action panicked: %v", r))
		}
	}()
	return p.Execute(ctx, s, rec)
}

func (e *Engine) logFailure(log logx.Logger, s levelspec.Scope, err error) {
	st, ok := e.failLogs[s]
	if !ok {
		st = &rate.Sometimes{First: 1, Interval: e.cfg.FailureLogInterval}
		e.failLogs[s] = st
	}
	logged := false
	st.Do(func() {
		logged = true
		log.Warn("action failed; retrying at next occurrence", logx.Err(err))
	})
	if !logged {
		log.Debug("action failed again", logx.Err(err))
	}
}

// prune applies the schedule's retention to the scope's artifacts.
func (e *Engine) prune(ctx context.Context, as provider.ArtifactStore, s levelspec.Scope, rec schedule.Record, log logx.Logger) {
	cands, err := as.ListArtifacts(ctx, s)
	if err != nil {
		log.Warn("listing artifacts failed", logx.Err(err))
		return
	}
	if len(cands) == 0 {
		return
	}
	_, drop := retention.PruneSet(cands, rec.Retention, e.cfg.MaxKeep)
	deleted := 0
	for _, c := range drop {
		if err := as.DeleteArtifact(ctx, s, c.Name); err != nil {
			log.Warn("pruning artifact failed", logx.String("artifact", c.Name), logx.Err(err))
			continue
		}
		deleted++
	}
	if deleted == 0 {
		return
	}
	e.locked(func() {
		err = e.store.MarkPruned(context.WithoutCancel(ctx), rec.Key(), e.now(), deleted)
	})
	if err != nil {
		log.Warn("recording prune failed", logx.Err(err))
	}
	log.Info("artifacts pruned", logx.Int("deleted", deleted), logx.Int("kept", len(cands)-deleted))
}

// locked runs fn under e.mu. The deferred unlock keeps a panic in fn from
// leaving the engine locked for the admin surface.
func (e *Engine) locked(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn()
}

func (e *Engine) scheduleCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Len()
}
