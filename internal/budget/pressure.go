package budget

import (
	"context"
	"runtime"
	"runtime/debug"
	"sync/atomic"
	"time"

	"convertio/pkg/logx"
)

// Sample is one look at process health and queued work.
type Sample struct {
	HeapInuse  uint64
	MemLimit   int64 // <=0 when no limit is set
	GCPause    time.Duration
	Goroutines int
	Backlog    int
	Running    int
}

// Pressure lowers the budget quickly when the process is under memory, GC or goroutine
// pressure, raises it slowly while work is queued, and drifts down when idle.
type Pressure struct {
	max      int
	interval time.Duration
	load     func() (running, pending int)
	log      logx.Logger

	cur atomic.Int32

	lastChange time.Time
	idleTicks  int
}

const (
	pressureUpCooldown   = 6 * time.Second
	pressureDownCooldown = 3 * time.Second
	pressureIdleCooldown = 10 * time.Second
	pressureIdleTicks    = 3
)

// load reports running and queued jobs; nil disables the backlog signal.
func NewPressure(max int, interval time.Duration, load func() (running, pending int), log logx.Logger) *Pressure {
	if max < 1 {
		max = 1
	}
	p := &Pressure{
		max:      max,
		interval: interval,
		load:     load,
		log:      log.With(logx.String("comp", "budget.pressure")),
	}
	p.cur.Store(int32(startingBudget(max)))
	return p
}

// startingBudget is conservative; backlog ramps it up.
func startingBudget(max int) int {
	if max <= 2 {
		return 1
	}
	return 2
}

func (p *Pressure) Budget() int { return int(p.cur.Load()) }

func (p *Pressure) Run(ctx context.Context, onChange func(old, cur int)) error {
	t := time.NewTicker(p.interval)
	defer t.Stop()

	var ms runtime.MemStats
	var lastPause uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		runtime.ReadMemStats(&ms)
		s := Sample{
			HeapInuse:  ms.HeapInuse,
			MemLimit:   debug.SetMemoryLimit(-1),
			GCPause:    time.Duration(ms.PauseTotalNs - lastPause),
			Goroutines: runtime.NumGoroutine(),
		}
		lastPause = ms.PauseTotalNs
		if p.load != nil {
			s.Running, s.Backlog = p.load()
		}
		old := p.Budget()
		if cur, reason, ok := p.step(s, time.Now()); ok {
			p.log.Debug("budget changed", logx.Int("from", old), logx.Int("to", cur), logx.String("reason", reason),
				logx.Int("backlog", s.Backlog), logx.Uint64("heap_inuse", s.HeapInuse), logx.Int("goroutines", s.Goroutines))
			if onChange != nil {
				onChange(old, cur)
			}
		}
	}
}

// step applies one sample and reports whether the budget moved.
func (p *Pressure) step(s Sample, now time.Time) (int, string, bool) {
	cur := p.Budget()
	target, reason, cooldown := cur, "", time.Duration(0)

	if down, why := strain(s); down > 0 {
		target, reason, cooldown = cur-down, why, pressureDownCooldown
		p.idleTicks = 0
	} else {
		if s.Backlog == 0 && s.Running == 0 {
			p.idleTicks++
		} else {
			p.idleTicks = 0
		}
		switch {
		case p.idleTicks >= pressureIdleTicks:
			target, reason, cooldown = cur-1, "idle", pressureIdleCooldown
		case s.Backlog > 0:
			target, reason, cooldown = cur+1, "backlog", pressureUpCooldown
		}
	}

	target = clamp(target, 1, p.max)
	if target == cur {
		return cur, "", false
	}
	if !p.lastChange.IsZero() && now.Sub(p.lastChange) < cooldown {
		return cur, "", false
	}
	p.cur.Store(int32(target))
	p.lastChange = now
	if reason == "idle" {
		p.idleTicks = 0
	}
	return target, reason, true
}

// strain returns how many slots to give up and why, or 0 when healthy.
func strain(s Sample) (int, string) {
	if s.MemLimit > 0 && s.MemLimit < 1<<60 {
		h := int64(s.HeapInuse)
		switch {
		case h > s.MemLimit*85/100:
			return 2, "mem>85%"
		case h > s.MemLimit*75/100:
			return 1, "mem>75%"
		}
	} else {
		switch {
		case s.HeapInuse > 1024<<20:
			return 2, "heap>1GiB"
		case s.HeapInuse > 768<<20:
			return 1, "heap>768MiB"
		}
	}
	if s.GCPause > 250*time.Millisecond {
		return 1, "gc_pause"
	}
	switch {
	case s.Goroutines > 3000:
		return 2, "goroutines>3000"
	case s.Goroutines > 1500:
		return 1, "goroutines>1500"
	}
	return 0, ""
}
