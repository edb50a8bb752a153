// Package budget supplies the scheduler's concurrency budget: how many conversions may
// run at once right now. Providers are sampled on every admission decision.
package budget

import (
	"context"
	"fmt"
	"strings"
	"time"

	"convertio/pkg/logx"
)

// Func returns the current budget. It must be cheap and always return at least 1.
type Func func() int

// Provider is a budget source.
type Provider interface {
	Budget() int
}

// Watcher is a Provider whose value changes on its own. Run blocks until ctx ends and
// calls onChange whenever the budget moves.
type Watcher interface {
	Provider
	Run(ctx context.Context, onChange func(old, cur int)) error
}

const (
	ModeFixed    = "fixed"
	ModeBattery  = "battery"
	ModePressure = "pressure"

	DefaultMax = 5
)

type Config struct {
	Mode        string
	Max         int
	Fixed       int
	BatteryPath string
	Interval    time.Duration
}

func (c Config) withDefaults() Config {
	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	if c.Mode == "" {
		c.Mode = ModeBattery
	}
	if c.Max <= 0 {
		c.Max = DefaultMax
	}
	if c.Fixed <= 0 {
		c.Fixed = c.Max
	}
	if c.BatteryPath == "" {
		c.BatteryPath = DefaultPowerSupplyPath
	}
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	return c
}

// New builds the provider named by cfg.Mode. load reports running and queued jobs and
// is only used by the pressure provider.
func New(cfg Config, load func() (running, pending int), log logx.Logger) (Provider, error) {
	cfg = cfg.withDefaults()
	switch cfg.Mode {
	case ModeFixed:
		return Fixed(clamp(cfg.Fixed, 1, cfg.Max)), nil
	case ModeBattery:
		return NewBattery(cfg.BatteryPath, cfg.Max, cfg.Interval, log), nil
	case ModePressure:
		return NewPressure(cfg.Max, cfg.Interval, load, log), nil
	default:
		return nil, fmt.Errorf("budget: unknown mode %q", cfg.Mode)
	}
}

// Of adapts a Provider to a Func.
func Of(p Provider) Func {
	return func() int {
		if n := p.Budget(); n > 1 {
			return n
		}
		return 1
	}
}

// Fixed is a constant budget.
type Fixed int

func (f Fixed) Budget() int {
	if f < 1 {
		return 1
	}
	return int(f)
}

// Poll samples p every interval and reports changes. It is the Run loop for
// providers that have no push signal of their own.
func Poll(ctx context.Context, p Provider, every time.Duration, onChange func(old, cur int)) error {
	t := time.NewTicker(every)
	defer t.Stop()
	last := p.Budget()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		cur := p.Budget()
		if cur != last {
			if onChange != nil {
				onChange(last, cur)
			}
			last = cur
		}
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
