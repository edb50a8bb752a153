package app

import (
	"context"
	"sync"
	"sync/atomic"

	"convertio/internal/budget"
	"convertio/internal/config"
	"convertio/pkg/logx"
)

// budgetSlot holds the active provider. The scheduler reads it through Func, so a
// config reload can swap modes without rebuilding the scheduler.
type budgetSlot struct {
	cur atomic.Pointer[budgetBox]

	mu     sync.Mutex
	cancel context.CancelFunc
	cfg    budget.Config
}

type budgetBox struct{ p budget.Provider }

func (s *budgetSlot) Func() budget.Func {
	return func() int {
		b := s.cur.Load()
		if b == nil {
			return 1
		}
		return budget.Of(b.p)()
	}
}

// applyBudget installs the provider described by cfg. Watching providers run under
// the app supervisor and poke the scheduler whenever their value moves.
func (a *App) applyBudget(cfg *config.Config) error {
	bc := mapBudget(cfg)
	s := &a.budget

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur.Load() != nil && s.cfg == bc {
		return nil
	}
	log := a.log.With(logx.String("comp", "budget"))
	p, err := budget.New(bc, a.sched.Load, log)
	if err != nil {
		return err
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.cur.Store(&budgetBox{p: p})
	s.cfg = bc

	if w, ok := p.(budget.Watcher); ok && a.sup != nil {
		rctx, cancel := context.WithCancel(a.sup.Context())
		s.cancel = cancel
		a.sup.Go("budget.watch", func(context.Context) error {
			return w.Run(rctx, func(old, cur int) {
				log.Info("budget changed", logx.Int("old", old), logx.Int("new", cur))
				a.sched.Poke()
			})
		})
	}
	log.Info("budget provider ready", logx.String("mode", bc.Mode), logx.Int("budget", p.Budget()))
	a.sched.Poke()
	return nil
}
