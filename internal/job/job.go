// Package job models one conversion: a private working copy of the source, a run of
// the transform stage, and the export of the result, tracked by a small state machine.
package job

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"convertio/internal/transform"
	"convertio/internal/workspace"
	"convertio/pkg/logx"
)

// Request describes what to convert and where the result goes.
type Request struct {
	SourcePath     string
	DestinationDir string
	Format         string
	FileSize       int64
}

// Delegate observes status changes. Calls for one job arrive in transition order and
// never overlap.
//
// A transition made while another goroutine is delivering, such as Abort during a
// progress notification, is queued behind that delivery. The caller may then return
// before the delegate has seen the new status.
type Delegate interface {
	JobStatusChanged(j *Job, st Status)
}

// DelegateFunc adapts a function to Delegate.
type DelegateFunc func(j *Job, st Status)

func (f DelegateFunc) JobStatusChanged(j *Job, st Status) { f(j, st) }

// StageFunc converts src into dst, reporting progress. transform.ConvertFile with
// bound options is the production stage.
type StageFunc func(src, dst string, progress transform.ProgressFunc) error

// Deps are the collaborators a Job needs.
type Deps struct {
	FS     workspace.FS
	Layout workspace.Layout
	Stage  StageFunc
	Log    logx.Logger
}

// StageWith binds transform options to transform.ConvertFile.
func StageWith(opt transform.Options) StageFunc {
	return func(src, dst string, progress transform.ProgressFunc) error {
		return transform.ConvertFile(src, dst, progress, opt)
	}
}

type Job struct {
	id   string
	req  Request
	deps Deps
	log  logx.Logger

	mu             sync.Mutex
	status         Status
	startTime      time.Time
	endTime        time.Time
	workInput      string
	workOutput     string
	abortRequested bool
	closed         bool
	delegate       Delegate

	// pending notifications; one goroutine drains at a time.
	queue      []Status
	delivering bool

	prepared chan struct{}
}

// New builds a pending job. A missing source is not an error here; preparation fails
// instead and the job ends up failed.
func New(req Request, deps Deps, delegate Delegate) *Job {
	if deps.FS == nil {
		deps.FS = workspace.OS{}
	}
	if deps.Stage == nil {
		deps.Stage = StageWith(transform.Options{})
	}
	if req.FileSize == 0 {
		if n, err := deps.FS.FileSize(req.SourcePath); err == nil {
			req.FileSize = n
		}
	}
	id := uuid.NewString()
	return &Job{
		id:       id,
		req:      req,
		deps:     deps,
		log:      deps.Log.With(logx.String("comp", "job"), logx.String("job", id)),
		status:   Pending(),
		delegate: delegate,
		prepared: make(chan struct{}),
	}
}

func (j *Job) ID() string       { return j.id }
func (j *Job) Request() Request { return j.req }

func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// SetDelegate replaces the observer. Notifications already being delivered still reach
// the previous one.
func (j *Job) SetDelegate(d Delegate) {
	j.mu.Lock()
	j.delegate = d
	j.mu.Unlock()
}

// WorkingInput is the private copy of the source, empty until preparation succeeds.
func (j *Job) WorkingInput() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.workInput
}

// OutputPath is where the converted file is exported.
func (j *Job) OutputPath() string {
	return workspace.ExportPath(j.req.DestinationDir, j.req.SourcePath, j.req.Format)
}

// Prepare builds the private working area in the background. Only the state check is
// reported here; setup failures surface as a failed status.
func (j *Job) Prepare(ctx context.Context) error {
	if _, err := j.apply(Event{Kind: EventPrepare}); err != nil {
		return err
	}
	go j.setup(ctx)
	return nil
}

// Prepared is closed once preparation has settled either way.
func (j *Job) Prepared() <-chan struct{} { return j.prepared }

func (j *Job) setup(ctx context.Context) {
	defer close(j.prepared)

	in, out, err := j.buildWorkArea(ctx)
	if err != nil {
		j.log.Warn("preparation failed", logx.Err(err))
		_, _ = j.apply(Event{Kind: EventFail, Err: &InternalError{Cause: err}})
		return
	}

	j.mu.Lock()
	j.workInput, j.workOutput = in, out
	closed := j.closed
	j.mu.Unlock()
	if closed {
		_ = j.deps.FS.Remove(j.deps.Layout.JobDir(j.id))
		return
	}
	_, _ = j.apply(Event{Kind: EventPrepared})
}

func (j *Job) buildWorkArea(ctx context.Context) (string, string, error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}
	fsys, lay := j.deps.FS, j.deps.Layout
	dir := lay.JobDir(j.id)
	if err := fsys.Remove(dir); err != nil {
		return "", "", fmt.Errorf("clear working area: %w", err)
	}
	in := lay.RequestPath(j.id, filepath.Base(j.req.SourcePath))
	if err := fsys.Copy(j.req.SourcePath, in, true); err != nil {
		return "", "", fmt.Errorf("copy source: %w", err)
	}
	outDir := lay.OutputDir(j.id)
	if err := fsys.MkdirAll(outDir); err != nil {
		return "", "", fmt.Errorf("create output dir: %w", err)
	}
	out := filepath.Join(outDir, filepath.Base(j.OutputPath()))
	return in, out, nil
}

// Start runs the conversion on the calling goroutine and exports the result once the
// stage has returned. Cancelling ctx has the same effect as Abort at the next chunk
// boundary.
func (j *Job) Start(ctx context.Context) error {
	if _, err := j.apply(Event{Kind: EventStart}); err != nil {
		return err
	}

	j.mu.Lock()
	in, out := j.workInput, j.workOutput
	j.mu.Unlock()

	j.log.Debug("conversion started", logx.String("input", in))
	err := j.deps.Stage(in, out, func(p float64) transform.Action {
		return j.onProgress(ctx, p)
	})
	if err != nil {
		var cause error = &ConversionError{Cause: err}
		if transform.KindOf(err) == 0 {
			cause = &InternalError{Cause: err}
		}
		if _, ferr := j.apply(Event{Kind: EventFail, Err: cause}); ferr != nil {
			j.log.Debug("stage error after terminal status", logx.Err(err))
		}
		return cause
	}

	if st := j.Status(); st.State == StateOngoing || st.State == StateAborting {
		// A stage that never reported 1.0 still finished.
		_, _ = j.apply(Event{Kind: EventProgress, Progress: 1})
	}
	st := j.Status()
	switch st.State {
	case StateCompleted:
		if err := j.export(); err != nil {
			j.log.Warn("export failed", logx.Err(err))
			_, _ = j.apply(Event{Kind: EventFail, Err: err})
			return err
		}
		_, _ = j.apply(Event{Kind: EventExported})
	case StateFailed:
		return st.Err
	}
	return nil
}

// onProgress records the stage's progress. 1.0 only marks the job completed; the output
// is still open at that point.
func (j *Job) onProgress(ctx context.Context, p float64) transform.Action {
	if p >= 1 {
		if _, err := j.apply(Event{Kind: EventProgress, Progress: 1}); err != nil {
			return transform.Abort
		}
		return transform.Continue
	}

	j.log.Trace("progress", logx.Float64("fraction", p))
	_, _ = j.apply(Event{Kind: EventProgress, Progress: p})
	j.mu.Lock()
	abort := j.abortRequested
	j.mu.Unlock()
	if abort || ctx.Err() != nil {
		return transform.Abort
	}
	return transform.Continue
}

func (j *Job) export() error {
	st := j.Status()
	if st.State != StateCompleted {
		return &StateError{Op: "export", Previous: st, Err: ErrCantExport}
	}
	j.mu.Lock()
	out := j.workOutput
	j.mu.Unlock()

	fsys := j.deps.FS
	if !fsys.Exists(out) {
		return &UnexpectedError{Message: "conversion completed, but output is missing at " + out}
	}
	dst := j.OutputPath()
	if err := fsys.Move(out, dst, true); err != nil {
		return &UnexpectedError{Message: "failed to export result to " + dst, Cause: err}
	}
	j.log.Info("exported", logx.String("path", dst))
	return nil
}

// Abort asks a running conversion to stop at its next chunk.
func (j *Job) Abort() error {
	_, err := j.apply(Event{Kind: EventAbort})
	return err
}

// Close tears the job down: a running conversion is asked to stop and the working
// area is removed. Errors are logged only.
func (j *Job) Close() {
	if err := j.Abort(); err != nil && !errors.Is(err, ErrNotOngoing) {
		j.log.Debug("abort on close", logx.Err(err))
	}
	j.mu.Lock()
	j.closed = true
	j.delegate = nil
	j.mu.Unlock()
	if err := j.deps.FS.Remove(j.deps.Layout.JobDir(j.id)); err != nil {
		j.log.Warn("remove working area", logx.Err(err))
	}
}

// apply runs one transition and, when it asks for it, delivers the notification.
func (j *Job) apply(ev Event) (Status, error) {
	j.mu.Lock()
	to, effects, err := Transition(j.status, ev)
	if err != nil {
		j.mu.Unlock()
		return to, err
	}
	now := time.Now()
	if hasEffect(effects, EffectStampStart) && j.startTime.IsZero() {
		j.startTime = now
	}
	if hasEffect(effects, EffectStampEnd) && j.endTime.IsZero() {
		j.endTime = now
	}
	if hasEffect(effects, EffectRequestAbort) {
		j.abortRequested = true
	}
	j.status = to

	drain := false
	if hasEffect(effects, EffectNotify) {
		j.queue = append(j.queue, to)
		if !j.delivering {
			j.delivering = true
			drain = true
		}
	}
	j.mu.Unlock()

	if drain {
		j.deliver()
	}
	return to, nil
}

// deliver hands queued statuses to the delegate until the queue is empty. A transition
// triggered from inside a delegate call is queued and delivered right after it.
func (j *Job) deliver() {
	done := false
	defer func() {
		if !done {
			j.mu.Lock()
			j.delivering = false
			j.mu.Unlock()
		}
	}()
	for {
		j.mu.Lock()
		if len(j.queue) == 0 {
			j.delivering = false
			done = true
			j.mu.Unlock()
			return
		}
		st := j.queue[0]
		j.queue = j.queue[1:]
		d := j.delegate
		j.mu.Unlock()
		if d != nil {
			d.JobStatusChanged(j, st)
		}
	}
}

// View is an immutable summary of a job.
type View struct {
	ID           string
	Request      Request
	Status       Status
	StartTime    time.Time
	EndTime      time.Time
	WorkingInput string
	OutputPath   string
	Size         string
	Duration     string
}

// Snapshot returns the job's current summary. Duration is measured to now while the
// job is still running, and empty before it starts.
func (j *Job) Snapshot() View {
	j.mu.Lock()
	v := View{
		ID:           j.id,
		Request:      j.req,
		Status:       j.status,
		StartTime:    j.startTime,
		EndTime:      j.endTime,
		WorkingInput: j.workInput,
		OutputPath:   j.OutputPath(),
	}
	j.mu.Unlock()

	if v.Request.FileSize > 0 {
		v.Size = humanize.IBytes(uint64(v.Request.FileSize))
	}
	if !v.StartTime.IsZero() {
		end := v.EndTime
		if end.IsZero() {
			end = time.Now()
		}
		v.Duration = FormatDuration(end.Sub(v.StartTime))
	}
	return v
}
