package app

import (
	"fmt"
	"strings"
	"time"

	"convertio/internal/budget"
	"convertio/internal/config"
	"convertio/internal/history"
	"convertio/internal/inbox"
	"convertio/internal/preview"
	"convertio/internal/scheduler"
	"convertio/internal/transform"
	"convertio/pkg/logx"
)

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    config.ExpandPath(cfg.Logging.File.Path),
		},
	}
}

func mapBudget(cfg *config.Config) budget.Config {
	sc := cfg.Scheduler
	return budget.Config{
		Mode:        sc.Budget,
		Max:         sc.Max,
		Fixed:       sc.Fixed,
		BatteryPath: strings.TrimSpace(sc.BatteryPath),
		Interval:    config.Duration(sc.SampleEvery, 5*time.Second),
	}
}

func mapLane(cfg *config.Config) scheduler.Lane {
	l, err := scheduler.ParseLane(cfg.Scheduler.Lane)
	if err != nil {
		return scheduler.LaneInteractive
	}
	return l
}

func mapTransform(cfg *config.Config) transform.Options {
	c := cfg.Conversion
	return transform.Options{
		ChunkSize:   c.ChunkSize,
		ChunkDelay:  config.Duration(c.ChunkDelay, 0),
		FailureRate: c.FailureRate,
	}
}

// mapHistory returns enabled=false when no store is configured.
func mapHistory(cfg *config.Config) (history.Config, bool, error) {
	hc := cfg.History
	if hc == nil {
		return history.Config{}, false, nil
	}
	driver := strings.ToLower(strings.TrimSpace(hc.Driver))
	switch driver {
	case "", "none", "disabled", "off":
		return history.Config{}, false, nil
	case "file", "sqlite", "sqlite3":
	default:
		return history.Config{}, false, fmt.Errorf("unknown history.driver: %s", hc.Driver)
	}
	path := config.ExpandPath(hc.Path)
	if path == "" {
		return history.Config{}, false, fmt.Errorf("history.path is required when history.driver=%s", driver)
	}
	busy, err := config.ParseDurationOrDefault("history.busy_timeout", hc.BusyTimeout, time.Second)
	if err != nil {
		return history.Config{}, false, err
	}
	return history.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
}

func mapPreview(cfg *config.Config, log logx.Logger) preview.Renderer {
	pc := cfg.Preview
	if pc == nil || !pc.Enabled {
		return preview.Disabled{}
	}
	return preview.NewHTTP(preview.Config{
		BaseURL:    pc.BaseURL,
		RatePerSec: pc.RatePerSec,
		Timeout:    config.Duration(pc.Timeout, 10*time.Second),
		CacheSize:  pc.CacheSize,
	}, log)
}

func mapInbox(cfg *config.Config) (inbox.Config, bool) {
	dir := config.ExpandPath(cfg.Paths.Inbox)
	if dir == "" {
		return inbox.Config{}, false
	}
	return inbox.Config{
		Dir:        dir,
		Settle:     config.Duration(cfg.Paths.InboxSettle, 500*time.Millisecond),
		Extensions: cfg.Paths.InboxExts,
	}, true
}

type janitorConfig struct {
	schedule      string
	maxAge        time.Duration
	historyMaxAge time.Duration
}

func mapJanitor(cfg *config.Config) (janitorConfig, bool) {
	jc := cfg.Janitor
	if jc == nil || !jc.Enabled {
		return janitorConfig{}, false
	}
	sched := strings.TrimSpace(jc.Schedule)
	if sched == "" {
		sched = "@hourly"
	}
	return janitorConfig{
		schedule:      sched,
		maxAge:        config.Duration(jc.MaxAge, 24*time.Hour),
		historyMaxAge: config.Duration(jc.HistoryMaxAge, 0),
	}, true
}
