// Package scheduler admits prepared jobs for execution under a concurrency budget that
// may change between any two decisions.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"convertio/internal/budget"
	"convertio/internal/eventbus"
	"convertio/internal/job"
	rtsup "convertio/internal/runtime/supervisor"
	"convertio/pkg/logx"
)

var ErrClosed = errors.New("scheduler closed")

// Runnable is the part of a job the scheduler drives.
type Runnable interface {
	ID() string
	Status() job.Status
	Start(ctx context.Context) error
	Abort() error
}

// Event payloads published on the bus.
const (
	EventAdmitted = "job.admitted"
	EventFinished = "job.finished"
	EventStopped  = "job.stopped"
)

type JobEvent struct {
	ID       string
	Lane     Lane
	Budget   int
	Running  int
	Duration time.Duration
	Err      error
}

// item is the scheduler's record of one submitted job.
type item struct {
	job        Runnable
	lane       Lane
	pending    bool
	seq        uint64
	admittedAt time.Time
}

type Scheduler struct {
	log    logx.Logger
	bus    eventbus.Bus
	budget budget.Func

	mu       sync.Mutex
	items    map[string]*item
	running  int
	inflight [laneCount]int
	seq      uint64
	closed   bool
	last     int
	stats    Counters

	lanes [laneCount]*rtsup.Supervisor
}

// Counters are cumulative since New.
type Counters struct {
	Admitted  uint64 `json:"admitted"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
	Stopped   uint64 `json:"stopped"`
}

// New returns a scheduler whose lanes live until ctx ends or Close is called.
// bus may be nil.
func New(ctx context.Context, fn budget.Func, log logx.Logger, bus eventbus.Bus) *Scheduler {
	if fn == nil {
		fn = budget.Of(budget.Fixed(1))
	}
	s := &Scheduler{
		log:    log.With(logx.String("comp", "scheduler")),
		bus:    bus,
		budget: fn,
		items:  make(map[string]*item),
	}
	for l := Lane(0); l < laneCount; l++ {
		s.lanes[l] = rtsup.New(ctx, rtsup.WithLogger(s.log.With(logx.String("lane", l.String()))))
	}
	return s
}

// Submit tracks j on lane and admits it if there is room. A job that is already
// tracked is left alone.
func (s *Scheduler) Submit(j Runnable, lane Lane) error {
	if !lane.valid() {
		return fmt.Errorf("submit %s: unknown lane %d", j.ID(), int(lane))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	id := j.ID()
	if _, ok := s.items[id]; ok {
		s.log.Debug("job already managed", logx.String("job", id))
		return nil
	}
	s.seq++
	s.items[id] = &item{job: j, lane: lane, pending: true, seq: s.seq}
	s.log.Debug("job submitted", logx.String("job", id), logx.Stringer("lane", lane))
	s.reconsiderLocked()
	return nil
}

// Stop forgets j and asks it to abort. The slot is released immediately even though
// the conversion only notices the abort at its next chunk.
func (s *Scheduler) Stop(j Runnable) error {
	id := j.ID()
	s.mu.Lock()
	it, ok := s.items[id]
	if !ok {
		s.mu.Unlock()
		s.log.Debug("job not managed", logx.String("job", id))
		return nil
	}
	delete(s.items, id)
	wasRunning := !it.pending
	if wasRunning {
		s.release(it)
	}
	s.stats.Stopped++
	s.mu.Unlock()

	// Abort notifies the job's delegate, which may call back into Submit.
	err := it.job.Abort()

	s.mu.Lock()
	s.reconsiderLocked()
	running := s.running
	s.mu.Unlock()

	s.publish(EventStopped, JobEvent{ID: id, Lane: it.lane, Running: running, Err: err})
	s.log.Info("job stopped", logx.String("job", id), logx.Bool("was_running", wasRunning), logx.Err(err))
	return err
}

// Poke re-runs admission, typically after the budget provider reported a change.
func (s *Scheduler) Poke() {
	s.mu.Lock()
	s.reconsiderLocked()
	s.mu.Unlock()
}

// Managed reports whether id is tracked, pending or running.
func (s *Scheduler) Managed(id string) bool {
	s.mu.Lock()
	_, ok := s.items[id]
	s.mu.Unlock()
	return ok
}

// Load reports running and pending counts.
func (s *Scheduler) Load() (running, pending int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running, len(s.items) - s.running
}

// reconsiderLocked admits ready pending jobs in submission order while free slots
// remain. Pending jobs that already ended can never run and are dropped.
func (s *Scheduler) reconsiderLocked() {
	if s.closed {
		return
	}
	b := s.budget()
	s.last = b
	free := b - s.running
	if free <= 0 {
		return
	}

	var pending []*item
	for _, it := range s.items {
		if it.pending {
			pending = append(pending, it)
		}
	}
	sort.Slice(pending, func(i, k int) bool { return pending[i].seq < pending[k].seq })

	for _, it := range pending {
		if free <= 0 {
			break
		}
		st := it.job.Status()
		if st.Terminal() {
			delete(s.items, it.job.ID())
			s.log.Debug("dropping ended job", logx.String("job", it.job.ID()), logx.Stringer("status", st))
			continue
		}
		if st.State != job.StateReady {
			continue
		}
		s.runNowLocked(it)
		free--
	}
}

func (s *Scheduler) runNowLocked(it *item) {
	it.pending = false
	it.admittedAt = time.Now()
	s.running++
	s.inflight[it.lane]++
	s.stats.Admitted++

	id := it.job.ID()
	s.publish(EventAdmitted, JobEvent{ID: id, Lane: it.lane, Budget: s.last, Running: s.running})
	s.log.Debug("job admitted", logx.String("job", id), logx.Stringer("lane", it.lane),
		logx.Int("running", s.running), logx.Int("budget", s.last))

	s.lanes[it.lane].Go("job:"+id, func(ctx context.Context) error {
		err := s.execute(ctx, it)
		s.complete(it, err)
		return nil
	})
}

func (s *Scheduler) execute(ctx context.Context, it *item) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("job panicked", logx.String("job", it.job.ID()), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	return it.job.Start(ctx)
}

// complete releases the slot of a job whose Start returned. A job removed by Stop
// has already given its slot back.
func (s *Scheduler) complete(it *item, err error) {
	id := it.job.ID()
	dur := time.Since(it.admittedAt)

	s.mu.Lock()
	if cur, ok := s.items[id]; ok && cur == it {
		delete(s.items, id)
		s.release(it)
		if err != nil {
			s.stats.Failed++
		} else {
			s.stats.Completed++
		}
	}
	s.reconsiderLocked()
	running := s.running
	s.mu.Unlock()

	if err != nil {
		s.log.Warn("job failed", logx.String("job", id), logx.Duration("took", dur), logx.Err(err))
	} else {
		s.log.Info("job finished", logx.String("job", id), logx.Duration("took", dur))
	}
	s.publish(EventFinished, JobEvent{ID: id, Lane: it.lane, Running: running, Duration: dur, Err: err})
}

func (s *Scheduler) release(it *item) {
	if s.running > 0 {
		s.running--
	}
	if s.inflight[it.lane] > 0 {
		s.inflight[it.lane]--
	}
}

func (s *Scheduler) publish(typ string, ev JobEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: ev})
}

// Snapshot is a point-in-time view of admission state.
type Snapshot struct {
	Running    int              `json:"running"`
	Pending    int              `json:"pending"`
	Budget     int              `json:"budget"`
	PerLane    map[string]int   `json:"per_lane"`
	Counters   Counters         `json:"counters"`
	Goroutines []rtsup.Snapshot `json:"-"`
}

func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		Running:  s.running,
		Pending:  len(s.items) - s.running,
		Budget:   s.last,
		PerLane:  make(map[string]int, laneCount),
		Counters: s.stats,
	}
	for l := Lane(0); l < laneCount; l++ {
		snap.PerLane[l.String()] = s.inflight[l]
	}
	s.mu.Unlock()
	for _, sup := range s.lanes {
		snap.Goroutines = append(snap.Goroutines, sup.Snapshot())
	}
	return snap
}

// Close stops admitting, aborts every tracked job, and waits for the lanes to drain.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var tracked []Runnable
	for _, it := range s.items {
		tracked = append(tracked, it.job)
	}
	s.mu.Unlock()

	for _, j := range tracked {
		if err := j.Abort(); err != nil && !errors.Is(err, job.ErrNotOngoing) {
			s.log.Debug("abort on close", logx.String("job", j.ID()), logx.Err(err))
		}
	}

	var errs []error
	for l, sup := range s.lanes {
		if err := sup.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("lane %s: %w", Lane(l), err))
		}
	}
	return errors.Join(errs...)
}
