// Package transform implements the streaming conversion stage: read the input in
// fixed-size chunks, rewrite each chunk, write it out, and report progress through a
// callback that can ask the stage to stop.
package transform

import (
	"errors"
	"io"
	"math/rand"
	"os"
	"time"
)

// Action is the directive a ProgressFunc hands back to the stage.
type Action int

const (
	Continue Action = iota
	Abort
)

// ProgressFunc receives the cumulative fraction in [0,1] after each chunk.
// A nil ProgressFunc behaves as if it always returned Continue.
type ProgressFunc func(fraction float64) Action

const DefaultChunkSize = 1024

// Options tunes a stage run. The zero value processes 1 KiB chunks with no delay and
// no simulated failures.
type Options struct {
	ChunkSize int

	// ChunkDelay sleeps a random duration in [ChunkDelay/10, ChunkDelay] before each chunk.
	ChunkDelay time.Duration

	// FailureRate is the per-chunk probability of a simulated data error.
	FailureRate float64

	// Rand drives delay and failure sampling; nil uses a time-seeded source.
	Rand *rand.Rand
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.FailureRate < 0 {
		o.FailureRate = 0
	}
	if o.Rand == nil && (o.ChunkDelay > 0 || o.FailureRate > 0) {
		o.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return o
}

// Complement flips every bit of b in place.
func Complement(b []byte) {
	for i := range b {
		b[i] = ^b[i]
	}
}

// Run streams in to out. total is the input size used for fractions; when total <= 0
// intermediate fractions are reported as 0 until the final 1.0.
func Run(in io.Reader, out io.Writer, total int64, progress ProgressFunc, opt Options) error {
	opt = opt.withDefaults()
	if progress == nil {
		progress = func(float64) Action { return Continue }
	}

	buf := make([]byte, opt.ChunkSize)
	var done int64
	last := 0.0
	for {
		if opt.FailureRate > 0 && opt.Rand.Float64() < opt.FailureRate {
			return ErrData
		}
		if opt.ChunkDelay > 0 {
			min := opt.ChunkDelay / 10
			time.Sleep(min + time.Duration(opt.Rand.Int63n(int64(opt.ChunkDelay-min)+1)))
		}

		n, rerr := io.ReadFull(in, buf)
		if n == 0 {
			if rerr != nil && !errors.Is(rerr, io.EOF) && !errors.Is(rerr, io.ErrUnexpectedEOF) {
				return &Error{Kind: KindInput, Err: rerr}
			}
			progress(1.0)
			return nil
		}

		chunk := buf[:n]
		Complement(chunk)
		if _, err := out.Write(chunk); err != nil {
			return &Error{Kind: KindOutput, Err: err}
		}
		done += int64(n)

		if rerr != nil && !errors.Is(rerr, io.EOF) && !errors.Is(rerr, io.ErrUnexpectedEOF) {
			return &Error{Kind: KindInput, Err: rerr}
		}

		frac := fraction(done, total)
		if frac < last {
			frac = last
		}
		last = frac
		if frac >= 1.0 {
			// Input size reached; whatever remains is drained on the next pass.
			continue
		}
		if progress(frac) == Abort {
			return ErrAborted
		}
	}
}

func fraction(done, total int64) float64 {
	if total <= 0 {
		return 0
	}
	f := float64(done) / float64(total)
	if f > 1 {
		return 1
	}
	return f
}

// ConvertFile runs the stage from src to dst, creating or truncating dst.
func ConvertFile(src, dst string, progress ProgressFunc, opt Options) error {
	st, err := os.Stat(src)
	if err != nil {
		return &Error{Kind: KindInput, Err: err}
	}
	in, err := os.Open(src)
	if err != nil {
		return &Error{Kind: KindInput, Err: err}
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return &Error{Kind: KindOutput, Err: err}
	}
	runErr := Run(in, out, st.Size(), progress, opt)
	if cerr := out.Close(); cerr != nil && runErr == nil {
		runErr = &Error{Kind: KindOutput, Err: cerr}
	}
	return runErr
}
