package job

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"convertio/internal/transform"
	"convertio/internal/workspace"
)

type recorder struct {
	mu  sync.Mutex
	got []Status
}

func (r *recorder) JobStatusChanged(_ *Job, st Status) {
	r.mu.Lock()
	r.got = append(r.got, st)
	r.mu.Unlock()
}

func (r *recorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, 0, len(r.got))
	for _, st := range r.got {
		if n := len(out); n > 0 && out[n-1] == st.State {
			continue
		}
		out = append(out, st.State)
	}
	return out
}

func newTestJob(t *testing.T, content []byte, stage StageFunc, d Delegate) (*Job, string) {
	t.Helper()
	root := t.TempDir()
	src := filepath.Join(root, "inbox", "clip.mov")
	if content != nil {
		if err := os.MkdirAll(filepath.Dir(src), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(src, content, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	lay, err := workspace.NewLayout(filepath.Join(root, "private"), filepath.Join(root, "docs"))
	if err != nil {
		t.Fatal(err)
	}
	j := New(Request{SourcePath: src, DestinationDir: lay.DocumentsRoot, Format: "mp4"},
		Deps{FS: workspace.OS{}, Layout: lay, Stage: stage}, d)
	return j, root
}

func waitPrepared(t *testing.T, j *Job) {
	t.Helper()
	select {
	case <-j.Prepared():
	case <-time.After(5 * time.Second):
		t.Fatal("preparation did not settle")
	}
}

func TestTransitionWrongStateErrors(t *testing.T) {
	cases := []struct {
		name string
		from Status
		ev   EventKind
		want error
	}{
		{"start pending", Pending(), EventStart, ErrNotPrepared},
		{"start preparing", Status{State: StatePreparing}, EventStart, ErrStillPreparing},
		{"start ongoing", Ongoing(0.3), EventStart, ErrAlreadyStarted},
		{"start exported", Status{State: StateExported}, EventStart, ErrAlreadyStarted},
		{"prepare ready", Status{State: StateReady}, EventPrepare, ErrAlreadyPrepared},
		{"abort ready", Status{State: StateReady}, EventAbort, ErrNotOngoing},
		{"abort aborting", Status{State: StateAborting}, EventAbort, ErrNotOngoing},
		{"abort failed", Failed(errors.New("x")), EventAbort, ErrNotOngoing},
		{"export ongoing", Ongoing(0.5), EventExported, ErrCantExport},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			to, effects, err := Transition(tc.from, Event{Kind: tc.ev})
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
			var se *StateError
			if !errors.As(err, &se) || se.Previous.State != tc.from.State {
				t.Fatalf("previous status not carried: %v", err)
			}
			if to.State != tc.from.State || len(effects) != 0 {
				t.Fatalf("failed transition changed state: %v %v", to, effects)
			}
		})
	}
}

func TestTransitionEndStampedOnlyEnteringTerminal(t *testing.T) {
	_, eff, _ := Transition(Ongoing(0.9), Event{Kind: EventProgress, Progress: 1})
	if !hasEffect(eff, EffectStampEnd) {
		t.Fatal("completion must stamp end")
	}
	_, eff, _ = Transition(Status{State: StateCompleted}, Event{Kind: EventFail, Err: errors.New("export")})
	if hasEffect(eff, EffectStampEnd) {
		t.Fatal("completed to failed must not stamp end again")
	}
	if _, _, err := Transition(Failed(nil), Event{Kind: EventFail}); !errors.Is(err, ErrTerminal) {
		t.Fatalf("failed job accepted another failure: %v", err)
	}
}

func TestTransitionProgressMonotone(t *testing.T) {
	to, _, _ := Transition(Ongoing(0.5), Event{Kind: EventProgress, Progress: 0.2})
	if to.Progress != 0.5 {
		t.Fatalf("progress went backwards: %v", to.Progress)
	}
	to, eff, _ := Transition(Status{State: StateAborting}, Event{Kind: EventProgress, Progress: 0.7})
	if to.State != StateAborting || len(eff) != 0 {
		t.Fatalf("aborting job changed on progress: %v %v", to, eff)
	}
}

func TestJobLifecycleExports(t *testing.T) {
	rec := &recorder{}
	content := bytes.Repeat([]byte{0x0f, 0xf0, 0xaa}, 1000)
	j, _ := newTestJob(t, content, nil, rec)

	if err := j.Start(context.Background()); !errors.Is(err, ErrNotPrepared) {
		t.Fatalf("start before prepare: %v", err)
	}
	if err := j.Prepare(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := j.Prepare(context.Background()); !errors.Is(err, ErrAlreadyPrepared) {
		t.Fatalf("second prepare: %v", err)
	}
	waitPrepared(t, j)
	if st := j.Status(); st.State != StateReady {
		t.Fatalf("status after prepare = %v", st)
	}
	if err := j.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := j.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second start: %v", err)
	}

	got, err := os.ReadFile(j.OutputPath())
	if err != nil {
		t.Fatal(err)
	}
	want := append([]byte(nil), content...)
	transform.Complement(want)
	if !bytes.Equal(got, want) {
		t.Fatal("exported file is not the complement of the source")
	}
	if filepath.Base(j.OutputPath()) != "clip.mp4" {
		t.Fatalf("output name = %s", j.OutputPath())
	}

	states := rec.states()
	wantStates := []State{StatePreparing, StateReady, StateOngoing, StateCompleted, StateExported}
	if len(states) != len(wantStates) {
		t.Fatalf("notified states = %v", states)
	}
	for i := range wantStates {
		if states[i] != wantStates[i] {
			t.Fatalf("notified states = %v", states)
		}
	}

	v := j.Snapshot()
	if v.StartTime.IsZero() || v.EndTime.IsZero() || v.EndTime.Before(v.StartTime) {
		t.Fatalf("timestamps: start=%v end=%v", v.StartTime, v.EndTime)
	}
	if v.Size == "" || v.Duration == "" {
		t.Fatalf("snapshot text missing: %+v", v)
	}
}

func TestJobExportsOnlyAfterStageReturns(t *testing.T) {
	rec := &recorder{}
	var j *Job
	exportedEarly := false
	stage := func(_, dst string, progress transform.ProgressFunc) error {
		if err := os.WriteFile(dst, []byte("half"), 0o644); err != nil {
			return err
		}
		progress(1)
		if _, err := os.Stat(j.OutputPath()); err == nil {
			exportedEarly = true
		}
		return &transform.Error{Kind: transform.KindOutput, Err: errors.New("close: disk full")}
	}
	j, _ = newTestJob(t, []byte("payload"), stage, rec)
	if err := j.Prepare(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitPrepared(t, j)

	err := j.Start(context.Background())
	var ce *ConversionError
	if !errors.As(err, &ce) {
		t.Fatalf("start err = %T %v", err, err)
	}
	if exportedEarly {
		t.Fatal("output exported while the stage still held it")
	}
	if _, serr := os.Stat(j.OutputPath()); !os.IsNotExist(serr) {
		t.Fatalf("failed job left an export: %v", serr)
	}
	if st := j.Status(); st.State != StateFailed {
		t.Fatalf("status = %v", st)
	}
	states := rec.states()
	if n := len(states); n < 2 || states[n-2] != StateCompleted || states[n-1] != StateFailed {
		t.Fatalf("notified states = %v", states)
	}
}

func TestJobEndTimeSetExactlyOnce(t *testing.T) {
	j, _ := newTestJob(t, []byte("abc"), nil, nil)
	if err := j.Prepare(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitPrepared(t, j)
	if !j.Snapshot().EndTime.IsZero() {
		t.Fatal("end time set before terminal")
	}
	if err := j.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	end := j.Snapshot().EndTime
	if end.IsZero() {
		t.Fatal("end time not set")
	}
	time.Sleep(2 * time.Millisecond)
	_, _ = j.apply(Event{Kind: EventFail, Err: errors.New("late")})
	if got := j.Snapshot().EndTime; !got.Equal(end) {
		t.Fatalf("end time moved: %v -> %v", end, got)
	}
}

func TestJobPreparationFailure(t *testing.T) {
	rec := &recorder{}
	j, _ := newTestJob(t, nil, nil, rec)
	if err := j.Prepare(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitPrepared(t, j)
	st := j.Status()
	if st.State != StateFailed {
		t.Fatalf("status = %v", st)
	}
	var ie *InternalError
	if !errors.As(st.Err, &ie) {
		t.Fatalf("err = %T %v", st.Err, st.Err)
	}
	if j.Snapshot().EndTime.IsZero() {
		t.Fatal("failed job without end time")
	}
}

func TestJobAbortWhileRunning(t *testing.T) {
	started := make(chan struct{})
	stage := func(_, _ string, progress transform.ProgressFunc) error {
		close(started)
		for {
			if progress(0.25) == transform.Abort {
				return &transform.Error{Kind: transform.KindAborted}
			}
			time.Sleep(time.Millisecond)
		}
	}
	j, _ := newTestJob(t, []byte("payload"), stage, nil)
	if err := j.Abort(); !errors.Is(err, ErrNotOngoing) {
		t.Fatalf("abort before start: %v", err)
	}
	if err := j.Prepare(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitPrepared(t, j)

	done := make(chan error, 1)
	go func() { done <- j.Start(context.Background()) }()
	<-started
	if err := j.Abort(); err != nil {
		t.Fatalf("abort: %v", err)
	}

	var err error
	select {
	case err = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stage ignored abort")
	}
	var ce *ConversionError
	if !errors.As(err, &ce) || !errors.Is(err, transform.ErrAborted) {
		t.Fatalf("start err = %v", err)
	}
	if st := j.Status(); st.State != StateFailed {
		t.Fatalf("status = %v", st)
	}
	if err := j.Abort(); !errors.Is(err, ErrNotOngoing) {
		t.Fatalf("abort after failure: %v", err)
	}
}

func TestJobCloseRemovesWorkingArea(t *testing.T) {
	j, _ := newTestJob(t, []byte("x"), nil, nil)
	if err := j.Prepare(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitPrepared(t, j)
	if j.WorkingInput() == "" {
		t.Fatal("working input not recorded")
	}
	j.Close()
	if _, err := os.Stat(j.deps.Layout.JobDir(j.ID())); !os.IsNotExist(err) {
		t.Fatalf("working area still present: %v", err)
	}
}

func TestLabelAndDuration(t *testing.T) {
	if got := Ongoing(0.42).Label(); got != "Converting: 42.00 %" {
		t.Fatalf("label = %q", got)
	}
	cases := map[time.Duration]string{
		1*time.Hour + 2*time.Minute:           "1 H 2 min",
		3*time.Minute + 4*time.Second:         "3 min 4 sec",
		5*time.Second + 6*time.Millisecond:    "5 sec 6 ms",
		-(5*time.Second + 6*time.Millisecond): "- 5 sec 6 ms",
	}
	for d, want := range cases {
		if got := FormatDuration(d); got != want {
			t.Errorf("FormatDuration(%v) = %q, want %q", d, got, want)
		}
	}
}
