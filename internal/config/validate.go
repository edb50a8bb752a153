package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"convertio/pkg/logx"
)

// CronParser accepts an optional seconds field and descriptors ("@hourly", "@every 1h").
var CronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate reports every problem it finds, joined.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }
	dur := func(path, raw string) {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	if lv := strings.TrimSpace(cfg.Logging.Level); lv != "" && !logx.ValidLevel(lv) {
		add("logging.level: unknown level %q", cfg.Logging.Level)
	}
	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		add("logging.file.path: required when file logging is enabled")
	}

	if strings.TrimSpace(cfg.Paths.PrivateRoot) == "" {
		add("paths.private_root: required")
	}
	if strings.TrimSpace(cfg.Paths.DocumentsRoot) == "" {
		add("paths.documents_root: required")
	}
	dur("paths.inbox_settle", cfg.Paths.InboxSettle)

	if f := strings.TrimSpace(cfg.Conversion.Format); f == "" || strings.ContainsAny(f, `/\.`) {
		add("conversion.format: must be a bare extension, got %q", cfg.Conversion.Format)
	}
	if cfg.Conversion.ChunkSize < 0 {
		add("conversion.chunk_size: must be >= 0")
	}
	if r := cfg.Conversion.FailureRate; r < 0 || r > 1 {
		add("conversion.failure_rate: must be within [0,1]")
	}
	dur("conversion.chunk_delay", cfg.Conversion.ChunkDelay)

	switch strings.ToLower(strings.TrimSpace(cfg.Scheduler.Budget)) {
	case "", "fixed", "battery", "pressure":
	default:
		add("scheduler.budget: unknown mode %q", cfg.Scheduler.Budget)
	}
	if cfg.Scheduler.Max < 0 || cfg.Scheduler.Fixed < 0 {
		add("scheduler: max and fixed must be >= 0")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Scheduler.Lane)) {
	case "", "interactive", "normal", "background":
	default:
		add("scheduler.lane: unknown lane %q", cfg.Scheduler.Lane)
	}
	dur("scheduler.sample_every", cfg.Scheduler.SampleEvery)

	if h := cfg.History; h != nil {
		switch strings.ToLower(strings.TrimSpace(h.Driver)) {
		case "", "none", "disabled", "off":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(h.Path) == "" {
				add("history.path: required for driver %q", h.Driver)
			}
		default:
			add("history.driver: unknown driver %q", h.Driver)
		}
		dur("history.busy_timeout", h.BusyTimeout)
	}

	if p := cfg.Preview; p != nil {
		if p.RatePerSec < 0 {
			add("preview.rate_per_sec: must be >= 0")
		}
		if p.CacheSize < 0 {
			add("preview.cache_size: must be >= 0")
		}
		dur("preview.timeout", p.Timeout)
	}

	if j := cfg.Janitor; j != nil && j.Enabled {
		if s := strings.TrimSpace(j.Schedule); s != "" {
			if _, err := CronParser.Parse(s); err != nil {
				add("janitor.schedule: %w", err)
			}
		}
		dur("janitor.max_age", j.MaxAge)
		dur("janitor.history_max_age", j.HistoryMaxAge)
	}

	return errors.Join(errs...)
}

// ExpandPath resolves a leading "~/" against the home directory.
func ExpandPath(p string) string {
	p = strings.TrimSpace(p)
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p[1:], "/"))
		}
	}
	return p
}

// Duration parses raw, falling back to def when empty or zero. Callers run it on
// validated configs, so a parse error also yields def.
func Duration(raw string, def time.Duration) time.Duration {
	d, err := ParseDurationOrDefault("", raw, def)
	if err != nil {
		return def
	}
	return d
}
