package config

import (
	"reflect"
	"sort"
	"strings"

	"convertio/pkg/logx"
)

// Summarize lists the sections that differ between two configs and returns log
// fields describing the new values. Paths are reported as set/unset only.
func Summarize(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Paths, newCfg.Paths) {
		changed = append(changed, "paths")
		attrs = append(attrs,
			logx.Bool("paths.inbox_set", strings.TrimSpace(newCfg.Paths.Inbox) != ""),
			logx.Bool("paths.private_root_changed", oldCfg.Paths.PrivateRoot != newCfg.Paths.PrivateRoot),
		)
	}

	if oldCfg.Conversion != newCfg.Conversion {
		changed = append(changed, "conversion")
		attrs = append(attrs,
			logx.String("conversion.format", newCfg.Conversion.Format),
			logx.Int("conversion.chunk_size", newCfg.Conversion.ChunkSize),
			logx.Float64("conversion.failure_rate", newCfg.Conversion.FailureRate),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.budget", newCfg.Scheduler.Budget),
			logx.Int("scheduler.max", newCfg.Scheduler.Max),
			logx.Int("scheduler.fixed", newCfg.Scheduler.Fixed),
		)
	}

	oh, nh := derefHistory(oldCfg.History), derefHistory(newCfg.History)
	if oh != nh {
		changed = append(changed, "history")
		attrs = append(attrs,
			logx.String("history.driver", nh.Driver),
			logx.Bool("history.path_set", strings.TrimSpace(nh.Path) != ""),
		)
	}

	op, np := derefPreview(oldCfg.Preview), derefPreview(newCfg.Preview)
	if op != np {
		changed = append(changed, "preview")
		attrs = append(attrs,
			logx.Bool("preview.enabled", np.Enabled),
			logx.Float64("preview.rate_per_sec", np.RatePerSec),
		)
	}

	oj, nj := derefJanitor(oldCfg.Janitor), derefJanitor(newCfg.Janitor)
	if oj != nj {
		changed = append(changed, "janitor")
		attrs = append(attrs,
			logx.Bool("janitor.enabled", nj.Enabled),
			logx.String("janitor.schedule", nj.Schedule),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RequiresRestart reports whether a change touches settings that are only read at
// startup (working root, storage, inbox).
func RequiresRestart(sections []string) bool {
	for _, s := range sections {
		switch s {
		case "paths", "history", "preview", "conversion":
			return true
		}
	}
	return false
}

func derefHistory(h *HistoryConfig) HistoryConfig {
	if h == nil {
		return HistoryConfig{}
	}
	return *h
}

func derefPreview(p *PreviewConfig) PreviewConfig {
	if p == nil {
		return PreviewConfig{}
	}
	return *p
}

func derefJanitor(j *JanitorConfig) JanitorConfig {
	if j == nil {
		return JanitorConfig{}
	}
	return *j
}
