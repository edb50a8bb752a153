package budget

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"convertio/pkg/logx"
)

const DefaultPowerSupplyPath = "/sys/class/power_supply"

// BatteryState is one reading of the power supply.
type BatteryState struct {
	Present  bool
	Charging bool    // charging or full
	Level    float64 // 0..1
}

// ForBattery maps a reading to a budget: full speed when charging or on mains power,
// otherwise one slot per 20% of charge, between 1 and max.
func ForBattery(s BatteryState, max int) int {
	if max < 1 {
		max = 1
	}
	if !s.Present || s.Charging {
		return max
	}
	n := int(math.Round(s.Level * 100 / 20))
	return clamp(n, 1, max)
}

// Battery reads the Linux power_supply class on every call.
type Battery struct {
	root     string
	max      int
	interval time.Duration
	log      logx.Logger
	warn     *logx.Throttle
}

func NewBattery(root string, max int, interval time.Duration, log logx.Logger) *Battery {
	return &Battery{
		root:     root,
		max:      max,
		interval: interval,
		log:      log.With(logx.String("comp", "budget.battery")),
		warn:     logx.NewThrottle(time.Minute),
	}
}

func (b *Battery) Budget() int {
	st, err := ReadBattery(b.root)
	if err != nil && b.warn.Allow("read") {
		b.log.Warn("battery read failed; using full budget", logx.Err(err))
	}
	return ForBattery(st, b.max)
}

// Run reports budget changes. Power supply uevents trigger an immediate re-read; the
// poll interval covers kernels that do not emit them for every capacity step.
func (b *Battery) Run(ctx context.Context, onChange func(old, cur int)) error {
	events := powerEvents(ctx, b.log)
	t := time.NewTicker(b.interval)
	defer t.Stop()

	last := b.Budget()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		case <-events:
		}
		if cur := b.Budget(); cur != last {
			b.log.Debug("battery budget changed", logx.Int("from", last), logx.Int("to", cur))
			if onChange != nil {
				onChange(last, cur)
			}
			last = cur
		}
	}
}

// ReadBattery returns the first battery under root. A machine without one reports
// Present=false and no error.
func ReadBattery(root string) (BatteryState, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return BatteryState{}, nil
		}
		return BatteryState{}, err
	}
	mains := false
	battery := ""
	for _, e := range entries {
		dir := filepath.Join(root, e.Name())
		switch strings.ToLower(readAttr(dir, "type")) {
		case "mains":
			if readAttr(dir, "online") == "1" {
				mains = true
			}
		case "battery":
			if battery == "" {
				battery = dir
			}
		}
	}
	if battery == "" {
		return BatteryState{}, nil
	}
	pct, err := strconv.Atoi(readAttr(battery, "capacity"))
	if err != nil {
		return BatteryState{Present: true, Charging: mains}, err
	}
	status := strings.ToLower(readAttr(battery, "status"))
	return BatteryState{
		Present:  true,
		Charging: mains || status == "charging" || status == "full",
		Level:    float64(clamp(pct, 0, 100)) / 100,
	}, nil
}

func readAttr(dir, name string) string {
	b, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}
