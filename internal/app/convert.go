package app

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"convertio/internal/job"
	"convertio/internal/registry"
)

// Convert queues every path and blocks until each job has exported or failed, or ctx
// ends. progress, when set, receives snapshots of all entries about five times a second.
func (a *App) Convert(ctx context.Context, paths []string, progress func([]job.View)) ([]job.View, error) {
	if a.reg == nil {
		return nil, fmt.Errorf("convert: app not started")
	}
	ended, unsub := a.bus.Subscribe(len(paths)+16, registry.EventEnded)
	defer unsub()

	ids := make([]string, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, err
		}
		id, err := a.reg.Add(abs)
		if err != nil {
			return nil, fmt.Errorf("add %s: %w", p, err)
		}
		ids = append(ids, id)
	}

	// A job can end before Add returns its id, so collect every ended view and match
	// afterwards.
	done := make(map[string]job.View, len(ids))
	settled := func() bool {
		for _, id := range ids {
			if _, ok := done[id]; !ok {
				return false
			}
		}
		return true
	}
	collect := func() []job.View {
		out := make([]job.View, len(ids))
		for i, id := range ids {
			out[i] = done[id]
		}
		return out
	}

	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()
	for !settled() {
		select {
		case <-ctx.Done():
			return collect(), ctx.Err()
		case <-a.Done():
			return collect(), fmt.Errorf("convert: app stopped: %w", a.Err())
		case <-tick.C:
			if progress != nil {
				progress(a.reg.Entries())
			}
		case ev := <-ended:
			if v, ok := ev.Data.(job.View); ok {
				done[v.ID] = v
			}
		}
	}
	if progress != nil {
		progress(a.reg.Entries())
	}
	return collect(), nil
}
