package history

import (
	"context"
	"errors"
	"time"

	"convertio/internal/job"
)

var ErrClosed = errors.New("history store closed")

// Config selects a backend.
//
// Driver values:
//   - "file": JSON Lines file next to Path
//   - "sqlite": SQLite database at Path
//
// An empty Driver or "none" disables history.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only
}

// Record is one finished conversion.
type Record struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Output    string    `json:"output"`
	Format    string    `json:"format"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Size      int64     `json:"size"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	TookMS    int64     `json:"took_ms"`
}

// Took is the conversion run time, zero when the job never started.
func (r Record) Took() time.Duration { return time.Duration(r.TookMS) * time.Millisecond }

// FromView turns an ended job's snapshot into a record.
func FromView(v job.View) Record {
	r := Record{
		ID:        v.ID,
		Source:    v.Request.SourcePath,
		Output:    v.OutputPath,
		Format:    v.Request.Format,
		Status:    v.Status.State.String(),
		Size:      v.Request.FileSize,
		StartedAt: v.StartTime,
		EndedAt:   v.EndTime,
	}
	if v.Status.Err != nil {
		r.Error = v.Status.Err.Error()
	}
	if r.EndedAt.IsZero() {
		r.EndedAt = time.Now()
	}
	if !r.StartedAt.IsZero() {
		r.TookMS = r.EndedAt.Sub(r.StartedAt).Milliseconds()
	}
	return r
}

// Store persists records.
type Store interface {
	Record(ctx context.Context, r Record) error
	// List returns up to limit records, newest first. limit <= 0 means all.
	List(ctx context.Context, limit int) ([]Record, error)
	// Prune drops records that ended before cutoff and reports how many went.
	Prune(ctx context.Context, cutoff time.Time) (int, error)
	Close() error
}
