package transform

import (
	"bytes"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
)

type failingReader struct{ err error }

func (r failingReader) Read([]byte) (int, error) { return 0, r.err }

type failingWriter struct{ err error }

func (w failingWriter) Write([]byte) (int, error) { return 0, w.err }

func TestComplementTwiceIsIdentity(t *testing.T) {
	t.Parallel()
	orig := make([]byte, 4096)
	rand.New(rand.NewSource(7)).Read(orig)
	buf := append([]byte(nil), orig...)

	Complement(buf)
	if bytes.Equal(buf, orig) {
		t.Fatal("single complement should change the buffer")
	}
	Complement(buf)
	if !bytes.Equal(buf, orig) {
		t.Fatal("double complement should restore the buffer")
	}
}

func TestRunRoundTripThroughStage(t *testing.T) {
	t.Parallel()
	orig := bytes.Repeat([]byte("convertio"), 500)

	var once, twice bytes.Buffer
	if err := Run(bytes.NewReader(orig), &once, int64(len(orig)), nil, Options{}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := Run(bytes.NewReader(once.Bytes()), &twice, int64(once.Len()), nil, Options{}); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !bytes.Equal(twice.Bytes(), orig) {
		t.Fatal("stage applied twice should reproduce the input")
	}
}

func TestRunProgressMonotoneEndingAtOne(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		size      int
		chunk     int
		wantCalls int
	}{
		{name: "empty", size: 0, chunk: 1024, wantCalls: 1},
		{name: "single chunk", size: 100, chunk: 1024, wantCalls: 1},
		{name: "exact multiple", size: 4096, chunk: 1024, wantCalls: 4},
		{name: "partial tail", size: 2500, chunk: 1024, wantCalls: 3},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var seen []float64
			err := Run(bytes.NewReader(make([]byte, tt.size)), &bytes.Buffer{}, int64(tt.size), func(f float64) Action {
				seen = append(seen, f)
				return Continue
			}, Options{ChunkSize: tt.chunk})
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if len(seen) != tt.wantCalls {
				t.Fatalf("calls = %d (%v), want %d", len(seen), seen, tt.wantCalls)
			}
			for i := 1; i < len(seen); i++ {
				if seen[i] < seen[i-1] {
					t.Fatalf("progress decreased: %v", seen)
				}
			}
			for _, f := range seen {
				if f < 0 || f > 1 {
					t.Fatalf("progress out of range: %v", seen)
				}
			}
			if seen[len(seen)-1] != 1.0 {
				t.Fatalf("last progress = %v, want 1.0", seen[len(seen)-1])
			}
		})
	}
}

func TestRunAbortStopsImmediately(t *testing.T) {
	t.Parallel()
	calls := 0
	var out bytes.Buffer
	err := Run(bytes.NewReader(make([]byte, 10*1024)), &out, 10*1024, func(float64) Action {
		calls++
		if calls == 2 {
			return Abort
		}
		return Continue
	}, Options{})
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("err = %v, want aborted", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
	if out.Len() != 2*1024 {
		t.Fatalf("wrote %d bytes, want %d", out.Len(), 2*1024)
	}
}

func TestRunErrorKinds(t *testing.T) {
	t.Parallel()
	ioErr := errors.New("disk gone")

	err := Run(failingReader{err: ioErr}, &bytes.Buffer{}, 10, nil, Options{})
	if KindOf(err) != KindInput || !errors.Is(err, ioErr) || !errors.Is(err, ErrInput) {
		t.Fatalf("read failure = %v, want input error", err)
	}

	err = Run(bytes.NewReader([]byte("abc")), failingWriter{err: ioErr}, 3, nil, Options{})
	if KindOf(err) != KindOutput || !errors.Is(err, ErrOutput) {
		t.Fatalf("write failure = %v, want output error", err)
	}

	err = Run(bytes.NewReader([]byte("abc")), &bytes.Buffer{}, 3, nil, Options{FailureRate: 1, Rand: rand.New(rand.NewSource(1))})
	if !errors.Is(err, ErrData) || errors.Is(err, ErrInput) || errors.Is(err, ErrOutput) {
		t.Fatalf("simulated failure = %v, want data error", err)
	}
}

func TestConvertFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src := filepath.Join(dir, "in.heif")
	dst := filepath.Join(dir, "out.obj")
	if err := os.WriteFile(src, []byte{0x00, 0xff, 0x0f}, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := ConvertFile(src, dst, nil, Options{}); err != nil {
		t.Fatalf("ConvertFile: %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte{0xff, 0x00, 0xf0}) {
		t.Fatalf("output = %x", got)
	}

	err = ConvertFile(filepath.Join(dir, "missing"), dst, nil, Options{})
	if KindOf(err) != KindInput {
		t.Fatalf("missing input = %v, want input error", err)
	}
	err = ConvertFile(src, filepath.Join(dir, "nope", "out.obj"), nil, Options{})
	if KindOf(err) != KindOutput {
		t.Fatalf("bad output dir = %v, want output error", err)
	}
}
