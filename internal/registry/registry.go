// Package registry owns the ordered list of conversion jobs. It creates and destroys
// jobs, hands ready jobs to the scheduler, and relays lifecycle changes to observers.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"convertio/internal/eventbus"
	"convertio/internal/job"
	"convertio/internal/preview"
	"convertio/internal/scheduler"
	"convertio/pkg/logx"
)

var ErrUnknownJob = errors.New("unknown job")

// EventEnded is published with a job.View payload when a job reaches exported or failed.
const EventEnded = "job.ended"

// Scheduler is the part of the scheduler the registry drives.
type Scheduler interface {
	Submit(j scheduler.Runnable, lane scheduler.Lane) error
	Stop(j scheduler.Runnable) error
}

type Options struct {
	Format         string
	DestinationDir string
	// Lane receives jobs once prepared; the zero value is the interactive lane.
	Lane scheduler.Lane
	Deps job.Deps

	Preview preview.Renderer
	Bus     eventbus.Bus
	Log     logx.Logger
}

type subscription struct {
	id string
	fn func(Update)
}

type Registry struct {
	ctx     context.Context
	opt     Options
	sched   Scheduler
	preview preview.Renderer
	bus     eventbus.Bus
	log     logx.Logger

	mu        sync.Mutex
	entries   []*job.Job
	subs      map[uint64]*subscription
	listeners map[uint64]func(Change)
	nextKey   uint64
}

// New returns an empty registry. ctx bounds job preparation.
func New(ctx context.Context, sched Scheduler, opt Options) *Registry {
	if opt.Preview == nil {
		opt.Preview = preview.Disabled{}
	}
	return &Registry{
		ctx:       ctx,
		opt:       opt,
		sched:     sched,
		preview:   opt.Preview,
		bus:       opt.Bus,
		log:       opt.Log.With(logx.String("comp", "registry")),
		subs:      make(map[uint64]*subscription),
		listeners: make(map[uint64]func(Change)),
	}
}

// Add creates a job for sourcePath, starts its preparation and returns its id.
func (r *Registry) Add(sourcePath string) (string, error) {
	if strings.TrimSpace(sourcePath) == "" {
		return "", errors.New("add: empty source path")
	}
	j := job.New(job.Request{
		SourcePath:     sourcePath,
		DestinationDir: r.opt.DestinationDir,
		Format:         r.opt.Format,
	}, r.opt.Deps, r)

	r.mu.Lock()
	r.entries = append(r.entries, j)
	idx := len(r.entries) - 1
	r.mu.Unlock()

	r.log.Info("job added", logx.String("job", j.ID()), logx.String("source", sourcePath))
	r.emit(Change{Kind: ItemsAdded, Indexes: []int{idx}})
	if err := j.Prepare(r.ctx); err != nil {
		r.log.Warn("prepare failed", logx.String("job", j.ID()), logx.Err(err))
	}
	return j.ID(), nil
}

// Abort stops a job. The entry stays in the list; a failure is also reported to the
// job's subscribers.
func (r *Registry) Abort(id string) error {
	j, _ := r.lookup(id)
	if j == nil {
		return fmt.Errorf("abort %s: %w", id, ErrUnknownJob)
	}
	if err := r.sched.Stop(j); err != nil {
		r.log.Debug("abort refused", logx.String("job", id), logx.Err(err))
		r.notify(id, Update{Kind: Failed, Err: err})
		r.emit(Change{Kind: Error, ID: id, Err: err})
		return err
	}
	return nil
}

// Delete stops the job, drops its entry and removes its working area.
func (r *Registry) Delete(id string) error {
	j, _ := r.lookup(id)
	if j == nil {
		return fmt.Errorf("delete %s: %w", id, ErrUnknownJob)
	}
	if err := r.sched.Stop(j); err != nil {
		r.log.Debug("stop before delete", logx.String("job", id), logx.Err(err))
	}

	r.mu.Lock()
	idx := r.indexLocked(id)
	if idx < 0 {
		// A concurrent Delete got here first.
		r.mu.Unlock()
		return nil
	}
	r.entries = append(r.entries[:idx], r.entries[idx+1:]...)
	var gone []func(Update)
	for key, s := range r.subs {
		if s.id == id {
			gone = append(gone, s.fn)
			delete(r.subs, key)
		}
	}
	r.mu.Unlock()

	j.Close()
	r.log.Info("job deleted", logx.String("job", id))
	r.emit(Change{Kind: ItemsRemoved, Indexes: []int{idx}})
	for _, fn := range gone {
		fn(Update{Kind: Invalidated})
	}
	return nil
}

// Restart replaces the entry with a fresh job converting the old job's private copy
// of its input, so a source that has since moved or vanished is not needed. A job
// still preparing is waited for first.
func (r *Registry) Restart(id string) (string, error) {
	old, _ := r.lookup(id)
	if old == nil {
		return "", fmt.Errorf("restart %s: %w", id, ErrUnknownJob)
	}
	if !old.Status().Terminal() {
		if err := r.sched.Stop(old); err != nil {
			r.log.Debug("stop before restart", logx.String("job", id), logx.Err(err))
		}
	}
	old.SetDelegate(nil)

	// A job still copying its input has no working copy yet, and its own source may be
	// a working area that an earlier restart is about to remove.
	if old.Status().State == job.StatePreparing {
		select {
		case <-old.Prepared():
		case <-r.ctx.Done():
		case <-time.After(time.Minute):
		}
	}

	req := old.Request()
	if in := old.WorkingInput(); in != "" {
		req.SourcePath = in
	}
	req.FileSize = 0
	nj := job.New(req, r.opt.Deps, r)
	newID := nj.ID()

	r.mu.Lock()
	idx := r.indexLocked(id)
	if idx < 0 {
		r.mu.Unlock()
		return "", fmt.Errorf("restart %s: %w", id, ErrUnknownJob)
	}
	r.entries[idx] = nj
	var rebound []func(Update)
	for _, s := range r.subs {
		if s.id == id {
			s.id = newID
			rebound = append(rebound, s.fn)
		}
	}
	r.mu.Unlock()

	if err := nj.Prepare(r.ctx); err != nil {
		r.log.Warn("prepare failed", logx.String("job", newID), logx.Err(err))
	}
	// The new job copies from the old working area; tear it down only afterwards.
	go func() {
		select {
		case <-nj.Prepared():
		case <-time.After(time.Minute):
		}
		old.Close()
	}()

	r.log.Info("job restarted", logx.String("old", id), logx.String("job", newID))
	r.emit(Change{Kind: Reload, Indexes: []int{idx}, OldID: id, NewID: newID})
	for _, fn := range rebound {
		fn(Update{Kind: Rebind, NewID: newID})
	}
	return newID, nil
}

// Trigger dispatches a user action on one entry.
func (r *Registry) Trigger(id string, a Action) error {
	switch a {
	case ActionAbort:
		return r.Abort(id)
	case ActionRestart:
		_, err := r.Restart(id)
		return err
	case ActionDelete:
		return r.Delete(id)
	case ActionStatusTap:
		if j, _ := r.lookup(id); j == nil {
			return fmt.Errorf("%s %s: %w", a, id, ErrUnknownJob)
		}
		r.emit(Change{Kind: ActionRequested, ID: id, Action: a})
		return nil
	default:
		return fmt.Errorf("trigger %s: unsupported %s", id, a)
	}
}

// Subscribe registers fn for updates about one job. An unknown id is answered with
// Invalidated right away.
func (r *Registry) Subscribe(id string, fn func(Update)) (cancel func()) {
	r.mu.Lock()
	if r.indexLocked(id) < 0 {
		r.mu.Unlock()
		fn(Update{Kind: Invalidated})
		return func() {}
	}
	r.nextKey++
	key := r.nextKey
	r.subs[key] = &subscription{id: id, fn: fn}
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.subs, key)
		r.mu.Unlock()
	}
}

// OnChange registers a list-level listener.
func (r *Registry) OnChange(fn func(Change)) (cancel func()) {
	r.mu.Lock()
	r.nextKey++
	key := r.nextKey
	r.listeners[key] = fn
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		delete(r.listeners, key)
		r.mu.Unlock()
	}
}

// JobStatusChanged relays a job's status to observers and queues it once ready.
func (r *Registry) JobStatusChanged(j *job.Job, st job.Status) {
	if _, idx := r.lookup(j.ID()); idx < 0 {
		return
	}

	r.mu.Lock()
	fns := make([]func(Update), 0, len(r.subs))
	for _, s := range r.subs {
		fns = append(fns, s.fn)
	}
	r.mu.Unlock()
	for _, fn := range fns {
		fn(Update{Kind: Refresh})
	}
	r.emit(Change{Kind: ReloadAll})

	switch st.State {
	case job.StateReady:
		if err := r.sched.Submit(j, r.opt.Lane); err != nil {
			r.log.Warn("submit failed", logx.String("job", j.ID()), logx.Err(err))
		}
	case job.StateExported, job.StateFailed:
		if r.bus != nil {
			r.bus.Publish(eventbus.Event{Type: EventEnded, Time: time.Now(), Data: j.Snapshot()})
		}
	}
}

// Get returns the job with id.
func (r *Registry) Get(id string) (*job.Job, bool) {
	j, _ := r.lookup(id)
	return j, j != nil
}

// Entries returns snapshots in display order.
func (r *Registry) Entries() []job.View {
	r.mu.Lock()
	jobs := append([]*job.Job(nil), r.entries...)
	r.mu.Unlock()
	out := make([]job.View, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.Snapshot())
	}
	return out
}

// Claimed reports whether id belongs to a live entry. The janitor uses it to keep
// working areas of listed jobs.
func (r *Registry) Claimed(id string) bool {
	_, idx := r.lookup(id)
	return idx >= 0
}

// RenderPreview renders the job's input at tier.
func (r *Registry) RenderPreview(ctx context.Context, id string, tier preview.Tier) (preview.Image, error) {
	j, _ := r.lookup(id)
	if j == nil {
		return preview.Image{}, fmt.Errorf("preview %s: %w", id, ErrUnknownJob)
	}
	src := j.WorkingInput()
	if src == "" {
		src = j.Request().SourcePath
	}
	return r.preview.Render(ctx, src, tier)
}

// Close deletes every entry.
func (r *Registry) Close() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.entries))
	for _, j := range r.entries {
		ids = append(ids, j.ID())
	}
	r.mu.Unlock()
	for _, id := range ids {
		_ = r.Delete(id)
	}
}

func (r *Registry) lookup(id string) (*job.Job, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.indexLocked(id)
	if idx < 0 {
		return nil, -1
	}
	return r.entries[idx], idx
}

func (r *Registry) indexLocked(id string) int {
	for i, j := range r.entries {
		if j.ID() == id {
			return i
		}
	}
	return -1
}

func (r *Registry) notify(id string, u Update) {
	r.mu.Lock()
	var fns []func(Update)
	for _, s := range r.subs {
		if s.id == id {
			fns = append(fns, s.fn)
		}
	}
	r.mu.Unlock()
	for _, fn := range fns {
		fn(u)
	}
}

func (r *Registry) emit(c Change) {
	r.mu.Lock()
	fns := make([]func(Change), 0, len(r.listeners))
	for _, fn := range r.listeners {
		fns = append(fns, fn)
	}
	r.mu.Unlock()
	for _, fn := range fns {
		fn(c)
	}
}
