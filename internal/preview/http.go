package preview

import (
	"container/list"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/time/rate"

	"convertio/pkg/logx"
)

const (
	DefaultBaseURL   = "https://picsum.photos"
	defaultSeed      = 1000
	defaultCacheSize = 64
	maxImageBytes    = 16 << 20
)

type Config struct {
	BaseURL    string
	RatePerSec float64
	Timeout    time.Duration
	CacheSize  int
	Client     *http.Client
}

// HTTPRenderer stands in for a real model renderer: every cache miss fetches a
// placeholder image for a fresh seed from an image service, sized to the tier.
// Results are cached per source and tier.
type HTTPRenderer struct {
	base    string
	client  *http.Client
	limiter *rate.Limiter
	log     logx.Logger

	mu    sync.Mutex
	seed  int
	size  int
	order *list.List
	cache map[string]*list.Element
}

type cacheEntry struct {
	key string
	img Image
}

func NewHTTP(cfg Config, log logx.Logger) *HTTPRenderer {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	limit := rate.Inf
	burst := 1
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
		burst = max(1, int(cfg.RatePerSec))
	}
	size := cfg.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	return &HTTPRenderer{
		base:    base,
		client:  client,
		limiter: rate.NewLimiter(limit, burst),
		log:     log.With(logx.String("comp", "preview")),
		seed:    defaultSeed,
		size:    size,
		order:   list.New(),
		cache:   make(map[string]*list.Element),
	}
}

func cacheKey(source string, tier Tier) string { return fmt.Sprintf("%s#%d", source, int(tier)) }

func (r *HTTPRenderer) Render(ctx context.Context, sourcePath string, tier Tier) (Image, error) {
	key := cacheKey(sourcePath, tier)
	if img, ok := r.lookup(key); ok {
		return img, nil
	}

	r.mu.Lock()
	r.seed++
	seed := r.seed
	r.mu.Unlock()

	if err := r.limiter.Wait(ctx); err != nil {
		return Image{}, err
	}

	url := fmt.Sprintf("%s/id/%d/%d/%d", r.base, seed, int(tier), int(tier))
	data, err := r.fetch(ctx, url)
	if err != nil {
		r.log.Debug("preview fetch failed", logx.String("url", url), logx.Err(err))
		return Image{}, err
	}
	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return Image{}, fmt.Errorf("%w: %s", ErrNotImage, mt.String())
	}

	img := Image{Source: sourcePath, Tier: tier, ContentType: mt.String(), Data: data}
	r.store(key, img)
	return img, nil
}

func (r *HTTPRenderer) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("preview request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("preview request: status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
}

func (r *HTTPRenderer) lookup(key string) (Image, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	el, ok := r.cache[key]
	if !ok {
		return Image{}, false
	}
	r.order.MoveToFront(el)
	return el.Value.(*cacheEntry).img, true
}

func (r *HTTPRenderer) store(key string, img Image) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if el, ok := r.cache[key]; ok {
		el.Value.(*cacheEntry).img = img
		r.order.MoveToFront(el)
		return
	}
	r.cache[key] = r.order.PushFront(&cacheEntry{key: key, img: img})
	for r.order.Len() > r.size {
		last := r.order.Back()
		r.order.Remove(last)
		delete(r.cache, last.Value.(*cacheEntry).key)
	}
}

// Cached reports how many previews are held.
func (r *HTTPRenderer) Cached() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.order.Len()
}
