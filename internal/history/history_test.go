package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"convertio/internal/eventbus"
	"convertio/internal/job"
	"convertio/pkg/logx"
)

func openTest(t *testing.T, driver string) Store {
	t.Helper()
	st, err := Open(Config{Driver: driver, Path: filepath.Join(t.TempDir(), "history.db"), BusyTimeout: time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("open %s: %v", driver, err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestStores(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	recs := []Record{
		{ID: "a", Source: "/in/a.obj", Output: "/out/a.usdz", Format: "usdz", Status: "exported", Size: 10, StartedAt: base, EndedAt: base.Add(time.Second), TookMS: 1000},
		{ID: "b", Source: "/in/b.obj", Output: "/out/b.usdz", Format: "usdz", Status: "failed", Error: "conversion error: the conversion logic failed", EndedAt: base.Add(time.Hour)},
		{ID: "c", Source: "/in/c.obj", Output: "/out/c.usdz", Format: "usdz", Status: "exported", StartedAt: base, EndedAt: base.Add(2 * time.Hour), TookMS: 5},
	}

	for _, driver := range []string{"file", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			st := openTest(t, driver)
			ctx := context.Background()
			for _, r := range recs {
				if err := st.Record(ctx, r); err != nil {
					t.Fatal(err)
				}
			}

			got, err := st.List(ctx, 2)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != 2 || got[0].ID != "c" || got[1].ID != "b" {
				t.Fatalf("list = %+v", got)
			}
			if got[1].Error == "" || got[1].Status != "failed" {
				t.Fatalf("failure fields lost: %+v", got[1])
			}
			if !got[0].EndedAt.Equal(recs[2].EndedAt) {
				t.Fatalf("ended_at = %v", got[0].EndedAt)
			}

			n, err := st.Prune(ctx, base.Add(30*time.Minute))
			if err != nil {
				t.Fatal(err)
			}
			if n != 1 {
				t.Fatalf("pruned %d", n)
			}
			all, err := st.List(ctx, 0)
			if err != nil {
				t.Fatal(err)
			}
			if len(all) != 2 {
				t.Fatalf("after prune = %+v", all)
			}

			if err := st.Record(ctx, Record{ID: "d", Source: "s", Output: "o", Format: "f", Status: "exported", EndedAt: base.Add(3 * time.Hour)}); err != nil {
				t.Fatalf("record after prune: %v", err)
			}
			if all, _ := st.List(ctx, 0); len(all) != 3 {
				t.Fatalf("append after prune lost: %d", len(all))
			}
		})
	}
}

func TestOpenDisabledAndUnknown(t *testing.T) {
	st, err := Open(Config{Driver: "none"}, logx.Nop())
	if st != nil || err != nil {
		t.Fatalf("none: %v %v", st, err)
	}
	if _, err := Open(Config{Driver: "csv", Path: "x"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver accepted")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("file driver without path accepted")
	}
}

func TestFileStoreClosed(t *testing.T) {
	st := openTest(t, "file")
	_ = st.Close()
	if err := st.Record(context.Background(), Record{ID: "x"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("record after close: %v", err)
	}
}

func TestRecorderWritesEndedJobs(t *testing.T) {
	st := openTest(t, "file")
	bus := eventbus.New()
	rec := NewRecorder(st, bus, "job.ended", logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = rec.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	start := time.Now().Add(-2 * time.Second)
	v := job.View{
		ID:        "j1",
		Request:   job.Request{SourcePath: "/in/a.obj", Format: "usdz", FileSize: 42},
		Status:    job.Failed(errors.New("boom")),
		StartTime: start,
		EndTime:   start.Add(time.Second),
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		// Publish until the recorder has subscribed and written it.
		bus.Publish(eventbus.Event{Type: "job.ended", Time: time.Now(), Data: v})
		got, err := st.List(context.Background(), 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) > 0 {
			r := got[0]
			if r.ID != "j1" || r.Status != "failed" || r.Error != "boom" || r.TookMS != 1000 || r.Size != 42 {
				t.Fatalf("record = %+v", r)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("recorder wrote nothing")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
