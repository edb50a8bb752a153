package app

import (
	"context"
	"strings"

	"convertio/internal/config"
	"convertio/pkg/logx"
)

// startReload watches the config file and applies what can change live: logging and
// the concurrency budget. Everything else is reported as needing a restart.
func (a *App) startReload() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfg
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				// keep only the newest of a burst
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(last, next)
				last = next
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)
}

func (a *App) applyConfig(prev, next *config.Config) {
	sections, attrs := config.Summarize(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)

	a.logs.Apply(mapLogging(next))
	if err := a.applyBudget(next); err != nil {
		a.log.Warn("invalid budget config; keeping previous", logx.Err(err))
	}
	if config.RequiresRestart(sections) || prev.Scheduler.Lane != next.Scheduler.Lane {
		a.log.Warn("some config changes take effect after restart", fields...)
	}
	a.log.Info("config reloaded", fields...)
}
