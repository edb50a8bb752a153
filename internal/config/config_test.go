package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"convertio/pkg/logx"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestDecodeFormats(t *testing.T) {
	cases := map[string]string{
		"c.json": `{"conversion":{"format":"obj","chunk_size":64},"scheduler":{"budget":"fixed","fixed":2}}`,
		"c.yaml": "conversion:\n  format: obj\n  chunk_size: 64\nscheduler:\n  budget: fixed\n  fixed: 2\n",
		"c.toml": "[conversion]\nformat = \"obj\"\nchunk_size = 64\n[scheduler]\nbudget = \"fixed\"\nfixed = 2\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			cfg, err := Decode(name, []byte(body))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if cfg.Conversion.Format != "obj" || cfg.Conversion.ChunkSize != 64 {
				t.Fatalf("conversion = %+v", cfg.Conversion)
			}
			if cfg.Scheduler.Budget != "fixed" || cfg.Scheduler.Fixed != 2 {
				t.Fatalf("scheduler = %+v", cfg.Scheduler)
			}
			// untouched sections keep defaults
			if cfg.Paths.PrivateRoot == "" || cfg.Logging.Level != "info" {
				t.Fatalf("defaults lost: %+v %+v", cfg.Paths, cfg.Logging)
			}
			if err := Validate(cfg); err != nil {
				t.Fatalf("validate: %v", err)
			}
		})
	}
}

func TestDecodeRejectsUnknownAndTrailing(t *testing.T) {
	if _, err := Decode("c.json", []byte(`{"chat":{}}`)); err == nil {
		t.Fatalf("expected unknown field error")
	}
	if _, err := Decode("c.json", []byte(`{} {}`)); err == nil {
		t.Fatalf("expected trailing data error")
	}
	if _, err := Decode("c.yaml", []byte("scheduler: [")); err == nil {
		t.Fatalf("expected yaml error")
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Default()
	cfg.Logging.Level = "loud"
	cfg.Conversion.Format = "a/b"
	cfg.Conversion.FailureRate = 2
	cfg.Scheduler.Budget = "solar"
	cfg.History = &HistoryConfig{Driver: "sqlite"}
	cfg.Janitor = &JanitorConfig{Enabled: true, Schedule: "every tuesday", MaxAge: "-1h"}

	err := Validate(cfg)
	if err == nil {
		t.Fatalf("expected errors")
	}
	for _, want := range []string{
		"logging.level", "conversion.format", "conversion.failure_rate",
		"scheduler.budget", "history.path", "janitor.schedule", "janitor.max_age",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("missing %q in %v", want, err)
		}
	}
}

func TestSummarize(t *testing.T) {
	a := Default()
	b := Default()
	b.Scheduler.Max = 3
	b.Preview = &PreviewConfig{Enabled: true}

	changed, attrs := Summarize(a, b)
	if strings.Join(changed, ",") != "preview,scheduler" {
		t.Fatalf("changed = %v", changed)
	}
	if len(attrs) == 0 {
		t.Fatalf("expected attrs")
	}
	if !RequiresRestart(changed) || RequiresRestart([]string{"scheduler", "logging"}) {
		t.Fatalf("RequiresRestart mismatch")
	}
	if c, _ := Summarize(a, Default()); len(c) != 0 {
		t.Fatalf("identical configs reported %v", c)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	if got := ExpandPath("~/x/y"); got != filepath.Join(home, "x", "y") {
		t.Fatalf("ExpandPath = %q", got)
	}
	if got := ExpandPath("/abs"); got != "/abs" {
		t.Fatalf("ExpandPath abs = %q", got)
	}
}

func TestWatchPublishesValidChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "convertio.yaml")
	writeFile(t, path, "scheduler:\n  budget: fixed\n  fixed: 1\n")

	m := NewManager(path, logx.Nop())
	m.debounce = 20 * time.Millisecond
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()
	// let the watcher attach
	time.Sleep(100 * time.Millisecond)

	// invalid content is rejected and never published
	writeFile(t, path, "scheduler:\n  budget: solar\n")
	select {
	case cfg := <-ch:
		t.Fatalf("invalid config published: %+v", cfg.Scheduler)
	case <-time.After(300 * time.Millisecond):
	}

	writeFile(t, path, "scheduler:\n  budget: fixed\n  fixed: 4\n")
	select {
	case cfg := <-ch:
		if cfg.Scheduler.Fixed != 4 {
			t.Fatalf("fixed = %d", cfg.Scheduler.Fixed)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no reload published")
	}
	if m.Get().Scheduler.Fixed != 4 {
		t.Fatalf("Get not committed")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("watch did not stop")
	}
}

func TestPublishKeepsNewest(t *testing.T) {
	m := NewManager("unused.json", logx.Nop())
	ch := m.Subscribe(1)
	first, second := Default(), Default()
	second.Scheduler.Max = 9
	m.publish(first)
	m.publish(second)
	if got := <-ch; got != second {
		t.Fatalf("expected newest config")
	}
	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed")
	}
}
