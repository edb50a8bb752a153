package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"convertio/internal/config"
	"convertio/internal/eventbus"
	"convertio/internal/history"
	"convertio/internal/inbox"
	"convertio/internal/job"
	"convertio/internal/registry"
	"convertio/internal/runtime/supervisor"
	"convertio/internal/scheduler"
	"convertio/internal/workspace"
	"convertio/pkg/logx"
)

// Options selects how the app is assembled.
type Options struct {
	// ConfigPath is loaded and, unless OneShot is set, watched for edits.
	ConfigPath string
	// Config is used when ConfigPath is empty; nil means config.Default().
	Config *config.Config
	// OneShot skips the inbox, the janitor and config watching.
	OneShot bool
}

// App wires the conversion pipeline: registry -> scheduler -> jobs, plus the
// ambient services around it.
type App struct {
	opt  Options
	cfgm *config.Manager
	cfg  *config.Config

	sup  *supervisor.Supervisor
	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	fs     workspace.FS
	layout workspace.Layout
	unlock func() error

	store   history.Store
	budget  budgetSlot
	sched   *scheduler.Scheduler
	reg     *registry.Registry
	janitor *janitor
}

func New(opt Options) (*App, error) {
	cfg := opt.Config
	var cfgm *config.Manager
	if strings.TrimSpace(opt.ConfigPath) != "" {
		cfgm = config.NewManager(opt.ConfigPath, logx.Nop())
		c, err := cfgm.Load()
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", opt.ConfigPath, err)
		}
		cfg = c
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogging(cfg))
	if cfgm != nil {
		cfgm.SetLogger(log)
	}

	layout, err := workspace.NewLayout(cfg.Paths.PrivateRoot, cfg.Paths.DocumentsRoot)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	var store history.Store
	if hc, enabled, err := mapHistory(cfg); err != nil {
		_ = logSvc.Close()
		return nil, err
	} else if enabled {
		st, err := history.Open(hc, log)
		if err != nil {
			_ = logSvc.Close()
			return nil, err
		}
		store = st
		log.Info("history enabled", logx.String("driver", hc.Driver))
	}

	return &App{
		opt:    opt,
		cfgm:   cfgm,
		cfg:    cfg,
		log:    log.With(logx.String("comp", "app")),
		logs:   logSvc,
		bus:    eventbus.New(),
		fs:     workspace.OS{},
		layout: layout,
		store:  store,
	}, nil
}

func (a *App) Config() *config.Config          { return a.cfg }
func (a *App) Bus() eventbus.Bus               { return a.bus }
func (a *App) Registry() *registry.Registry    { return a.reg }
func (a *App) Scheduler() *scheduler.Scheduler { return a.sched }
func (a *App) History() history.Store          { return a.store }
func (a *App) Layout() workspace.Layout        { return a.layout }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start takes the private root lock and brings every component up.
func (a *App) Start(ctx context.Context) error {
	unlock, err := a.layout.Lock()
	if err != nil {
		return err
	}
	a.unlock = unlock
	if err := a.layout.Ensure(a.fs); err != nil {
		return err
	}

	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	runCtx := a.sup.Context()

	a.sched = scheduler.New(runCtx, a.budget.Func(), a.log, a.bus)
	if err := a.applyBudget(a.cfg); err != nil {
		return err
	}

	a.reg = registry.New(runCtx, a.sched, registry.Options{
		Format:         a.cfg.Conversion.Format,
		DestinationDir: a.layout.DocumentsRoot,
		Lane:           mapLane(a.cfg),
		Deps: job.Deps{
			FS:     a.fs,
			Layout: a.layout,
			Stage:  job.StageWith(mapTransform(a.cfg)),
			Log:    a.log,
		},
		Preview: mapPreview(a.cfg, a.log),
		Bus:     a.bus,
		Log:     a.log,
	})

	if a.store != nil {
		rec := history.NewRecorder(a.store, a.bus, registry.EventEnded, a.log)
		a.sup.Go("history.recorder", rec.Run)
	}

	a.sup.Go0("eventbus.log", a.logEvents)

	if !a.opt.OneShot {
		if ic, ok := mapInbox(a.cfg); ok {
			w := inbox.New(ic, a.reg, a.log)
			a.sup.GoRestart("inbox", w.Run, time.Second, 30*time.Second)
		}
		if jc, ok := mapJanitor(a.cfg); ok {
			j, err := newJanitor(a, jc)
			if err != nil {
				return fmt.Errorf("janitor: %w", err)
			}
			a.janitor = j
			j.start()
		}
		if a.cfgm != nil {
			a.startReload()
		}
	}

	a.log.Info("app started",
		logx.String("private_root", a.layout.PrivateRoot),
		logx.String("documents_root", a.layout.DocumentsRoot),
		logx.String("format", a.cfg.Conversion.Format),
	)
	return nil
}

// logEvents mirrors scheduler events at debug level.
func (a *App) logEvents(c context.Context) {
	events, unsub := a.bus.Subscribe(128, "job.")
	defer unsub()
	for {
		select {
		case <-c.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
		}
	}
}

// Stop tears components down in dependency order. Each step is bounded so one slow
// component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.closeBase()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
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
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("janitor", 2*time.Second, func(c context.Context) error {
		if a.janitor == nil {
			return nil
		}
		return a.janitor.stop(c)
	})
	// Jobs are aborted before their working areas are removed.
	if a.sched != nil {
		step("scheduler", 3*time.Second, a.sched.Close)
	}
	if a.reg != nil {
		step("registry", 2*time.Second, func(context.Context) error { a.reg.Close(); return nil })
	}

	a.sup.Cancel()
	step("supervisor", 2*time.Second, a.sup.Wait)

	if err := a.closeBase(); err != nil {
		errs = append(errs, err)
	}
	a.log.Info("stopped")
	_ = a.logs.Close()
	return errors.Join(errs...)
}

func (a *App) closeBase() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
		a.store = nil
	}
	if a.unlock != nil {
		errs = append(errs, a.unlock())
		a.unlock = nil
	}
	if a.sup == nil {
		errs = append(errs, a.logs.Close())
	}
	return errors.Join(errs...)
}
