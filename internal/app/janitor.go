package app

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"convertio/internal/config"
	"convertio/pkg/logx"
)

// janitor removes working areas nobody claims any more and trims history on a cron
// schedule.
type janitor struct {
	app *App
	cfg janitorConfig
	log logx.Logger
	c   *cron.Cron
}

func newJanitor(a *App, cfg janitorConfig) (*janitor, error) {
	j := &janitor{
		app: a,
		cfg: cfg,
		log: a.log.With(logx.String("comp", "janitor")),
		c:   cron.New(cron.WithParser(config.CronParser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
	if _, err := j.c.AddFunc(cfg.schedule, func() { j.run(a.sup.Context()) }); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *janitor) start() {
	j.c.Start()
	j.log.Info("janitor scheduled", logx.String("schedule", j.cfg.schedule), logx.Duration("max_age", j.cfg.maxAge))
}

// stop waits for a running sweep or ctx, whichever comes first.
func (j *janitor) stop(ctx context.Context) error {
	done := j.c.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is one sweep. Areas claimed by a live job are never touched.
func (j *janitor) run(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	removed, err := j.app.layout.Sweep(j.app.fs, j.cfg.maxAge, j.app.reg.Claimed)
	if err != nil {
		j.log.Warn("sweep failed", logx.Err(err), logx.Int("removed", len(removed)))
	}

	pruned := 0
	if j.app.store != nil && j.cfg.historyMaxAge > 0 {
		pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		n, err := j.app.store.Prune(pctx, time.Now().Add(-j.cfg.historyMaxAge))
		cancel()
		if err != nil {
			j.log.Warn("history prune failed", logx.Err(err))
		}
		pruned = n
	}

	if len(removed) > 0 || pruned > 0 {
		j.log.Info("janitor swept",
			logx.Int("areas", len(removed)),
			logx.Int("history_rows", pruned),
			logx.Duration("took", time.Since(start)),
		)
	}
}
