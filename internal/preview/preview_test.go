package preview

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"convertio/pkg/logx"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

type recordingServer struct {
	mu    sync.Mutex
	paths []string
	body  []byte
	code  int
}

func (s *recordingServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.paths = append(s.paths, r.URL.Path)
	body, code := s.body, s.code
	s.mu.Unlock()
	if code != 0 {
		w.WriteHeader(code)
		return
	}
	_, _ = w.Write(body)
}

func (s *recordingServer) hits() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.paths...)
}

func newRenderer(t *testing.T, rs *recordingServer, cacheSize int) *HTTPRenderer {
	t.Helper()
	srv := httptest.NewServer(rs)
	t.Cleanup(srv.Close)
	return NewHTTP(Config{BaseURL: srv.URL + "/", CacheSize: cacheSize, Client: srv.Client()}, logx.Nop())
}

func TestRenderCachesPerSourceAndTier(t *testing.T) {
	rs := &recordingServer{body: pngHeader}
	r := newRenderer(t, rs, 8)
	ctx := context.Background()

	img, err := r.Render(ctx, "/src/a.obj", TierSD)
	if err != nil {
		t.Fatal(err)
	}
	if img.ContentType != "image/png" || img.Tier != TierSD {
		t.Fatalf("image = %+v", img)
	}
	if _, err := r.Render(ctx, "/src/a.obj", TierSD); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Render(ctx, "/src/a.obj", TierHD); err != nil {
		t.Fatal(err)
	}

	want := []string{"/id/1001/540/540", "/id/1002/1080/1080"}
	got := rs.hits()
	if len(got) != len(want) {
		t.Fatalf("requests = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("requests = %v, want %v", got, want)
		}
	}
}

func TestRenderEvictsOldest(t *testing.T) {
	rs := &recordingServer{body: pngHeader}
	r := newRenderer(t, rs, 2)
	ctx := context.Background()
	for _, src := range []string{"a", "b", "c", "a"} {
		if _, err := r.Render(ctx, src, TierLow); err != nil {
			t.Fatal(err)
		}
	}
	if n := len(rs.hits()); n != 4 {
		t.Fatalf("expected a to be refetched after eviction, got %d requests", n)
	}
	if r.Cached() != 2 {
		t.Fatalf("cached = %d", r.Cached())
	}
}

func TestRenderRejectsBadResponses(t *testing.T) {
	ctx := context.Background()

	r := newRenderer(t, &recordingServer{body: []byte("<html>nope</html>")}, 4)
	if _, err := r.Render(ctx, "a", TierLow); !errors.Is(err, ErrNotImage) {
		t.Fatalf("html body: %v", err)
	}

	r = newRenderer(t, &recordingServer{code: http.StatusBadGateway}, 4)
	if _, err := r.Render(ctx, "a", TierLow); err == nil {
		t.Fatal("bad status accepted")
	}
	if r.Cached() != 0 {
		t.Fatal("failure was cached")
	}
}

func TestParseTierAndDisabled(t *testing.T) {
	for in, want := range map[string]Tier{"low": TierLow, "540": TierSD, "HD": TierHD} {
		got, err := ParseTier(in)
		if err != nil || got != want {
			t.Fatalf("ParseTier(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := (Disabled{}).Render(context.Background(), "x", TierLow); !errors.Is(err, ErrDisabled) {
		t.Fatalf("disabled: %v", err)
	}
}
