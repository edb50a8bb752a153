package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"convertio/internal/eventbus"
	"convertio/internal/job"
	"convertio/pkg/logx"
)

type fakeJob struct {
	id string

	mu sync.Mutex
	st job.Status

	started   chan struct{}
	finish    chan error
	abort     chan struct{}
	abortOnce sync.Once

	active  *atomic.Int32
	peak    *atomic.Int32
	onStart func(active int32)
}

func newFake(id string, ready bool) *fakeJob {
	st := job.Pending()
	if ready {
		st = job.Status{State: job.StateReady}
	}
	return &fakeJob{
		id:      id,
		st:      st,
		started: make(chan struct{}),
		finish:  make(chan error, 1),
		abort:   make(chan struct{}),
	}
}

func (f *fakeJob) ID() string { return f.id }

func (f *fakeJob) Status() job.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.st
}

func (f *fakeJob) set(st job.Status) {
	f.mu.Lock()
	f.st = st
	f.mu.Unlock()
}

func (f *fakeJob) Start(ctx context.Context) error {
	f.set(job.Ongoing(0))
	if f.active != nil {
		n := f.active.Add(1)
		for {
			p := f.peak.Load()
			if n <= p || f.peak.CompareAndSwap(p, n) {
				break
			}
		}
		if f.onStart != nil {
			f.onStart(n)
		}
		defer f.active.Add(-1)
	}
	close(f.started)

	var err error
	select {
	case err = <-f.finish:
	case <-f.abort:
		err = errors.New("aborted")
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		f.set(job.Failed(err))
	} else {
		f.set(job.Status{State: job.StateExported})
	}
	return err
}

func (f *fakeJob) Abort() error {
	f.mu.Lock()
	prev := f.st
	if prev.State != job.StateOngoing {
		f.mu.Unlock()
		return &job.StateError{Op: "abort", Previous: prev, Err: job.ErrNotOngoing}
	}
	f.st = job.Status{State: job.StateAborting}
	f.mu.Unlock()
	f.abortOnce.Do(func() { close(f.abort) })
	return nil
}

func waitStarted(t *testing.T, f *fakeJob) {
	t.Helper()
	select {
	case <-f.started:
	case <-time.After(5 * time.Second):
		t.Fatalf("%s was not started", f.id)
	}
}

func assertNotStarted(t *testing.T, f *fakeJob) {
	t.Helper()
	select {
	case <-f.started:
		t.Fatalf("%s started unexpectedly", f.id)
	case <-time.After(50 * time.Millisecond):
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func fixed(n int) func() int { return func() int { return n } }

func newTestScheduler(t *testing.T, fn func() int) *Scheduler {
	t.Helper()
	s := New(context.Background(), fn, logx.Nop(), nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Close(ctx)
	})
	return s
}

func TestThreeJobsUnderBudgetOneRunInOrder(t *testing.T) {
	s := newTestScheduler(t, fixed(1))
	a, b, c := newFake("a", true), newFake("b", true), newFake("c", true)
	for _, f := range []*fakeJob{a, b, c} {
		if err := s.Submit(f, LaneInteractive); err != nil {
			t.Fatal(err)
		}
	}

	waitStarted(t, a)
	assertNotStarted(t, b)
	assertNotStarted(t, c)

	a.finish <- nil
	waitStarted(t, b)
	assertNotStarted(t, c)

	b.finish <- nil
	waitStarted(t, c)
	c.finish <- nil

	waitFor(t, "drain", func() bool { r, p := s.Load(); return r == 0 && p == 0 })
	if got := s.Snapshot().Counters; got.Admitted != 3 || got.Completed != 3 {
		t.Fatalf("counters = %+v", got)
	}
}

func TestDuplicateSubmitIsNoop(t *testing.T) {
	s := newTestScheduler(t, fixed(2))
	a := newFake("a", true)
	if err := s.Submit(a, LaneNormal); err != nil {
		t.Fatal(err)
	}
	if err := s.Submit(a, LaneBackground); err != nil {
		t.Fatal(err)
	}
	waitStarted(t, a)
	if r, p := s.Load(); r != 1 || p != 0 {
		t.Fatalf("running=%d pending=%d", r, p)
	}
	if snap := s.Snapshot(); snap.PerLane["normal"] != 1 || snap.PerLane["background"] != 0 {
		t.Fatalf("per lane = %v", snap.PerLane)
	}
	a.finish <- nil
}

func TestRunningNeverExceedsBudget(t *testing.T) {
	var budget atomic.Int32
	budget.Store(4)
	s := newTestScheduler(t, func() int { return int(budget.Load()) })

	var active, peak, over atomic.Int32
	var jobs []*fakeJob
	for i := 0; i < 60; i++ {
		f := newFake(fmt.Sprintf("j%02d", i), true)
		f.active, f.peak = &active, &peak
		f.onStart = func(n int32) {
			if n > budget.Load() {
				over.Add(1)
			}
		}
		jobs = append(jobs, f)
	}
	for i, f := range jobs {
		if err := s.Submit(f, Lane(i%laneCount)); err != nil {
			t.Fatal(err)
		}
	}

	waitFor(t, "first wave", func() bool { return active.Load() == 4 })
	// Four are running; nothing new may start until fewer than one remain.
	budget.Store(1)

	var wg sync.WaitGroup
	for _, f := range jobs {
		wg.Add(1)
		go func(f *fakeJob) {
			defer wg.Done()
			select {
			case <-f.started:
			case <-time.After(10 * time.Second):
				t.Errorf("%s was not started", f.id)
				return
			}
			time.Sleep(2 * time.Millisecond)
			f.finish <- nil
		}(f)
	}
	wg.Wait()

	waitFor(t, "drain", func() bool { r, p := s.Load(); return r == 0 && p == 0 })
	if n := over.Load(); n != 0 {
		t.Fatalf("%d starts exceeded the budget in force", n)
	}
	if p := peak.Load(); p > 4 {
		t.Fatalf("peak concurrency %d exceeded budget", p)
	}
	if got := s.Snapshot().Counters.Completed; got != 60 {
		t.Fatalf("completed = %d", got)
	}
}

func TestStopReleasesSlotOnce(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16, EventStopped)
	defer unsub()

	s := New(context.Background(), fixed(1), logx.Nop(), bus)
	defer s.Close(context.Background())

	a, b := newFake("a", true), newFake("b", true)
	_ = s.Submit(a, LaneInteractive)
	_ = s.Submit(b, LaneInteractive)
	waitStarted(t, a)

	if err := s.Stop(a); err != nil {
		t.Fatalf("stop: %v", err)
	}
	waitStarted(t, b)

	// a's Start returns after the abort; its late completion must not free b's slot.
	waitFor(t, "a to end", func() bool { return a.Status().State == job.StateFailed })
	time.Sleep(20 * time.Millisecond)
	if r, _ := s.Load(); r != 1 {
		t.Fatalf("running = %d after late completion of stopped job", r)
	}

	select {
	case ev := <-events:
		if ev.Data.(JobEvent).ID != "a" {
			t.Fatalf("stopped event for %+v", ev.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("no stopped event")
	}
	b.finish <- nil
}

func TestStopPendingAndUntracked(t *testing.T) {
	s := newTestScheduler(t, fixed(1))
	a, b := newFake("a", true), newFake("b", true)
	_ = s.Submit(a, LaneInteractive)
	_ = s.Submit(b, LaneInteractive)
	waitStarted(t, a)

	if err := s.Stop(b); !errors.Is(err, job.ErrNotOngoing) {
		t.Fatalf("stop pending: %v", err)
	}
	if r, p := s.Load(); r != 1 || p != 0 {
		t.Fatalf("running=%d pending=%d", r, p)
	}
	if err := s.Stop(newFake("ghost", true)); err != nil {
		t.Fatalf("stop untracked: %v", err)
	}
	a.finish <- nil
	assertNotStarted(t, b)
}

func TestNotReadyJobWaitsForPoke(t *testing.T) {
	s := newTestScheduler(t, fixed(2))
	a := newFake("a", false)
	_ = s.Submit(a, LaneInteractive)
	assertNotStarted(t, a)

	a.set(job.Status{State: job.StateReady})
	s.Poke()
	waitStarted(t, a)
	a.finish <- nil
}

func TestCloseAbortsAndRejects(t *testing.T) {
	s := New(context.Background(), fixed(1), logx.Nop(), nil)
	a := newFake("a", true)
	_ = s.Submit(a, LaneBackground)
	waitStarted(t, a)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if st := a.Status(); st.State != job.StateFailed {
		t.Fatalf("status after close = %v", st)
	}
	if err := s.Submit(newFake("b", true), LaneInteractive); !errors.Is(err, ErrClosed) {
		t.Fatalf("submit after close: %v", err)
	}
}

func TestParseLane(t *testing.T) {
	for _, l := range []Lane{LaneInteractive, LaneNormal, LaneBackground} {
		got, err := ParseLane(l.String())
		if err != nil || got != l {
			t.Fatalf("ParseLane(%q) = %v, %v", l, got, err)
		}
	}
	if _, err := ParseLane("urgent"); err == nil {
		t.Fatal("unknown lane accepted")
	}
}
