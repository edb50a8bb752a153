package config

// Config is the on-disk configuration. JSON, YAML and TOML files share these keys.
// Durations are Go duration strings ("500ms", "10s", "24h").
type Config struct {
	Logging    LoggingConfig    `json:"logging"`
	Paths      PathsConfig      `json:"paths"`
	Conversion ConversionConfig `json:"conversion"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	History    *HistoryConfig   `json:"history,omitempty"`
	Preview    *PreviewConfig   `json:"preview,omitempty"`
	Janitor    *JanitorConfig   `json:"janitor,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// PathsConfig locates the private working root, the export destination and the
// optional drop folder. "~/" expands to the user's home directory.
type PathsConfig struct {
	PrivateRoot   string `json:"private_root"`
	DocumentsRoot string `json:"documents_root"`
	Inbox         string `json:"inbox,omitempty"`
	// InboxSettle is how long a dropped file must stay unchanged before intake.
	InboxSettle string   `json:"inbox_settle,omitempty"`
	InboxExts   []string `json:"inbox_extensions,omitempty"`
}

// ConversionConfig tunes the transform stage.
//
// Defaults:
//   - format: "usdz"
//   - chunk_size: 1024
//   - chunk_delay: "0s"
//   - failure_rate: 0
type ConversionConfig struct {
	Format      string  `json:"format"`
	ChunkSize   int     `json:"chunk_size,omitempty"`
	ChunkDelay  string  `json:"chunk_delay,omitempty"`
	FailureRate float64 `json:"failure_rate,omitempty"`
}

// SchedulerConfig controls admission.
//
// budget is one of "fixed", "battery" or "pressure". max caps every mode; fixed is
// the constant used by the fixed mode. lane is where prepared jobs go.
type SchedulerConfig struct {
	Budget      string `json:"budget"`
	Max         int    `json:"max,omitempty"`
	Fixed       int    `json:"fixed,omitempty"`
	Lane        string `json:"lane,omitempty"`
	BatteryPath string `json:"battery_path,omitempty"`
	// SampleEvery is how often battery and pressure providers re-check.
	SampleEvery string `json:"sample_every,omitempty"`
}

// HistoryConfig selects the finished-conversion log.
//
// Example:
//
//	"history": { "driver": "sqlite", "path": "~/.local/share/convertio/history.db" }
type HistoryConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type PreviewConfig struct {
	Enabled    bool    `json:"enabled"`
	BaseURL    string  `json:"base_url,omitempty"`
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	Timeout    string  `json:"timeout,omitempty"`
	CacheSize  int     `json:"cache_size,omitempty"`
}

// JanitorConfig schedules cleanup of stale working areas and old history rows.
// schedule is a cron spec (robfig/cron, optional seconds field or descriptors such as
// "@hourly").
type JanitorConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"`
	MaxAge   string `json:"max_age,omitempty"`
	// HistoryMaxAge prunes history older than this; "0s" keeps everything.
	HistoryMaxAge string `json:"history_max_age,omitempty"`
}

// Default returns a configuration that runs out of the box.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
		Paths: PathsConfig{
			PrivateRoot:   "~/.local/share/convertio",
			DocumentsRoot: "~/Documents/Convertio",
		},
		Conversion: ConversionConfig{Format: "usdz", ChunkSize: 1024},
		Scheduler:  SchedulerConfig{Budget: "battery", Max: 5},
	}
}
