// Package app wires the daemon together: config, logging, storage, scope
// providers, the scheduler engine and the schedule export.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"maintd/internal/config"
	"maintd/internal/engine"
	"maintd/internal/export"
	"maintd/internal/levelspec"
	"maintd/internal/observability/debug"
	"maintd/internal/provider"
	"maintd/internal/runtime/supervisor"
	"maintd/internal/schedule"
	"maintd/internal/storage"
	logx "maintd/pkg/logx"
)

// restartSections are applied only on the next start.
var restartSections = map[string]bool{
	"storage":     true,
	"engine":      true,
	"pools":       true,
	"filesystems": true,
}

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	repo      schedule.Repository
	providers provider.Set
	engine    *engine.Engine
	exporter  *export.Exporter
	debug     *debug.Server
	refresh   time.Duration
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	return newApp(cfgm, cfg)
}

func newApp(cfgm *config.Manager, cfg *config.Config) (*App, error) {
	logSvc, log := logx.New(mapLogConfig(cfg))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	engCfg, err := mapEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	xc, err := mapExportConfig(cfg)
	if err != nil {
		return nil, err
	}
	dc, err := mapDebugConfig(cfg)
	if err != nil {
		return nil, err
	}
	providers, err := mapProviders(cfg, log)
	if err != nil {
		return nil, err
	}

	repo, err := storage.Open(sc, log)
	if err != nil {
		return nil, err
	}
	store := schedule.NewStore(repo, log.With(logx.String("comp", "store")), nil)
	if err := store.Load(context.Background()); err != nil {
		_ = repo.Close()
		return nil, err
	}

	eng := engine.New(store, providers, engCfg, log)
	a := &App{
		cfgm:      cfgm,
		log:       log.With(logx.String("comp", "app")),
		logs:      logSvc,
		repo:      repo,
		providers: providers,
		engine:    eng,
		exporter:  export.New(xc, eng, log),
		refresh:   engCfg.RefreshInterval,
	}
	a.debug = debug.New(dc, debugView{a}, log)
	return a, nil
}

// debugView is what the debug server may read.
type debugView struct{ a *App }

func (v debugView) Alive(grace time.Duration) bool { return v.a.Alive(grace) }

func (v debugView) List(level, format string) engine.Result {
	return v.a.engine.List(level, format)
}

func (v debugView) Status(level, format string) engine.Result {
	return v.a.engine.Status(level, format)
}

// Engine exposes the admin operations.
func (a *App) Engine() *engine.Engine { return a.engine }

// Alive reports whether the scheduler loop completed an iteration within
// one refresh interval plus grace. The loop sleeps at most one refresh
// interval between iterations.
func (a *App) Alive(grace time.Duration) bool {
	return a.engine.Alive(a.refresh + grace)
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// validate rejects a reload that the running daemon could not apply.
func (a *App) validate(_ context.Context, cfg *config.Config) error {
	if _, err := mapExportConfig(cfg); err != nil {
		return err
	}
	if _, err := mapDebugConfig(cfg); err != nil {
		return err
	}
	var errs []error
	for i, s := range cfg.Schedules {
		ls, err := levelspec.Parse(s.Level)
		if err != nil {
			continue // reported by config.Validate
		}
		if ls.Kind == levelspec.KindAny {
			continue
		}
		if _, ok := a.providers[ls.Kind]; !ok {
			errs = append(errs, fmt.Errorf("schedules[%d].level: kind %q is not enabled in the running daemon (restart required)", i, ls.Kind))
		}
	}
	return errors.Join(errs...)
}

// applySchedules upserts the declared schedules. Failures are logged and
// skipped so one bad entry does not block the rest.
func (a *App) applySchedules(ctx context.Context, cfg *config.Config) {
	for i, s := range cfg.Schedules {
		res := a.engine.Add(ctx, s.Level, s.Interval, s.Start, s.Retention)
		if !res.OK() {
			a.log.Warn("declared schedule rejected",
				logx.Int("index", i),
				logx.String("level", s.Level),
				logx.String("code", res.Code.String()),
				logx.String("err", res.Message),
			)
			continue
		}
		a.log.Debug("declared schedule applied", logx.String("level", s.Level), logx.String("interval", s.Interval))
	}
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(a.validate)

	a.applySchedules(a.sup.Context(), a.cfgm.Get())

	if err := a.engine.Start(a.sup.Context()); err != nil {
		return err
	}
	if err := a.exporter.Start(a.sup.Context()); err != nil {
		return err
	}
	if err := a.debug.Start(a.sup.Context()); err != nil {
		return err
	}

	// An engine that dies on its own takes the app down with it.
	a.sup.Go("engine.watch", func(c context.Context) error {
		select {
		case <-c.Done():
			return nil
		case <-a.engine.Done():
		}
		if c.Err() != nil {
			return nil
		}
		if err := a.engine.Err(); err != nil {
			return err
		}
		return errors.New("engine stopped unexpectedly")
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.GoRestart("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started", logx.Int("providers", len(a.providers)))
	return nil
}

func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	for _, s := range sections {
		switch {
		case restartSections[s]:
			a.log.Warn(s + " config changed; restart required for changes to take effect")
		case s == "logging":
			a.logs.Apply(mapLogConfig(next))
		case s == "export":
			xc, err := mapExportConfig(next)
			if err == nil {
				err = a.exporter.Apply(ctx, xc)
			}
			if err != nil {
				a.log.Warn("invalid export config; keeping previous", logx.Err(err))
			}
		case s == "debug":
			dc, err := mapDebugConfig(next)
			if err == nil {
				err = a.debug.Apply(ctx, dc)
			}
			if err != nil {
				a.log.Warn("invalid debug config; keeping previous", logx.Err(err))
			}
		case s == "schedules":
			a.applySchedules(ctx, next)
		}
	}
	a.log.Info("config reloaded", fields...)
}

// Stop unwinds every component. Each step is bounded so one component
// can't stall the whole stop.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok && time.Until(dl) < max {
			max = time.Until(dl)
		}
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("debug", 2*time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })
	step("export", 2*time.Second, func(c context.Context) error { a.exporter.Stop(c); return nil })
	step("engine", 5*time.Second, a.engine.Stop)
	step("supervisor", 2*time.Second, a.sup.Wait)
	step("storage", 2*time.Second, func(context.Context) error { return a.repo.Close() })

	a.log.Info("stopped", logx.Int64("goroutines", a.sup.Active()))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
