// Package inbox turns files dropped into a folder into conversion jobs.
package inbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"convertio/pkg/logx"
)

// Adder is the registry operation the inbox feeds.
type Adder interface {
	Add(sourcePath string) (string, error)
}

type Config struct {
	Dir string
	// Settle is how long a file must stay unchanged before it is picked up.
	Settle time.Duration
	// Extensions limits intake to these suffixes (".obj"); empty accepts everything.
	Extensions []string
}

type Watcher struct {
	cfg Config
	add Adder
	log logx.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
	taken  map[string]stamp
}

// stamp identifies one version of a file so rewrites are picked up again.
type stamp struct {
	size int64
	mod  time.Time
}

func New(cfg Config, add Adder, log logx.Logger) *Watcher {
	if cfg.Settle <= 0 {
		cfg.Settle = 500 * time.Millisecond
	}
	exts := make([]string, 0, len(cfg.Extensions))
	for _, e := range cfg.Extensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts = append(exts, e)
	}
	cfg.Extensions = exts
	return &Watcher{
		cfg:    cfg,
		add:    add,
		log:    log.With(logx.String("comp", "inbox"), logx.String("dir", cfg.Dir)),
		timers: make(map[string]*time.Timer),
		taken:  make(map[string]stamp),
	}
}

// Run picks up files already present, then watches for new ones until ctx ends.
// A watcher failure is returned so the caller can restart the loop.
func (w *Watcher) Run(ctx context.Context) error {
	if strings.TrimSpace(w.cfg.Dir) == "" {
		return errors.New("inbox: empty dir")
	}
	if err := os.MkdirAll(w.cfg.Dir, 0o755); err != nil {
		return err
	}
	defer w.stopTimers()

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()
	if err := fw.Add(w.cfg.Dir); err != nil {
		return err
	}

	entries, err := os.ReadDir(w.cfg.Dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		w.schedule(filepath.Join(w.cfg.Dir, e.Name()))
	}
	w.log.Info("inbox watching")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return errors.New("inbox: watcher events closed")
			}
			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				w.schedule(ev.Name)
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				w.forget(ev.Name)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return errors.New("inbox: watcher errors closed")
			}
			return err
		}
	}
}

// accepts filters out hidden, partial and unwanted files by name.
func (w *Watcher) accepts(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".partial") || strings.HasSuffix(name, "~") {
		return false
	}
	if len(w.cfg.Extensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range w.cfg.Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// schedule (re)starts the settle timer for path.
func (w *Watcher) schedule(path string) {
	if !w.accepts(path) {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Reset(w.cfg.Settle)
		return
	}
	w.timers[path] = time.AfterFunc(w.cfg.Settle, func() { w.ingest(path) })
}

func (w *Watcher) forget(path string) {
	w.mu.Lock()
	if t, ok := w.timers[path]; ok {
		t.Stop()
		delete(w.timers, path)
	}
	delete(w.taken, path)
	w.mu.Unlock()
}

func (w *Watcher) ingest(path string) {
	fi, err := os.Stat(path)
	w.mu.Lock()
	delete(w.timers, path)
	if err != nil || !fi.Mode().IsRegular() || fi.Size() == 0 {
		w.mu.Unlock()
		return
	}
	st := stamp{size: fi.Size(), mod: fi.ModTime()}
	if prev, ok := w.taken[path]; ok && prev == st {
		w.mu.Unlock()
		return
	}
	w.taken[path] = st
	w.mu.Unlock()

	id, err := w.add.Add(path)
	if err != nil {
		w.log.Warn("inbox add failed", logx.String("path", path), logx.Err(err))
		w.mu.Lock()
		delete(w.taken, path)
		w.mu.Unlock()
		return
	}
	w.log.Info("picked up", logx.String("path", path), logx.String("job", id))
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	for p, t := range w.timers {
		t.Stop()
		delete(w.timers, p)
	}
	w.mu.Unlock()
}
