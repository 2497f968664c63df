package archive

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"asset-harvester/internal/config"
	"asset-harvester/internal/discovery"
	"asset-harvester/internal/model"
	"asset-harvester/internal/transfer"
)

const testSeed = "https://assets.example/docs/"

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DownloadRoot = filepath.Join(t.TempDir(), "downloads")
	cfg.Seeds = []string{testSeed}
	cfg.Renderer = config.RendererStatic
	cfg.Workers = 2
	cfg.BackoffBase = time.Millisecond
	cfg.BackoffMax = 5 * time.Millisecond
	cfg.PersistInterval = 0
	return cfg.Normalized()
}

func asset(name string) model.Item {
	src := "https://assets.example/docs/" + name
	dest := "assets.example/docs/" + name
	return model.Item{ID: model.ItemID(src, dest), SourceRef: src, DestPath: dest, Kind: model.KindWeb}
}

// listStrategy emits a fixed set of items per seed.
type listStrategy struct {
	mu    sync.Mutex
	items map[string][]model.Item
	errs  map[string]error
}

func (s *listStrategy) set(seed string, items ...model.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.items == nil {
		s.items = make(map[string][]model.Item)
	}
	s.items[seed] = items
}

func (s *listStrategy) Discover(ctx context.Context, seed discovery.Seed, emit func(model.Item) error) error {
	s.mu.Lock()
	items := append([]model.Item(nil), s.items[seed.Raw]...)
	err := s.errs[seed.Raw]
	s.mu.Unlock()
	if err != nil {
		return err
	}
	for _, it := range items {
		if err := emit(it); err != nil {
			return err
		}
	}
	return nil
}

// memFetcher serves item bodies from memory. failures[ref] responses fail
// with a 503 before the body is served. Refs in stall send their first bytes
// and then wait for cancellation; reached is closed once that happened.
type memFetcher struct {
	mu       sync.Mutex
	bodies   map[string]string
	failures map[string]int
	stall    map[string]bool
	calls    map[string]int

	reached     chan struct{}
	reachedOnce sync.Once
}

func newMemFetcher() *memFetcher {
	return &memFetcher{
		bodies:   make(map[string]string),
		failures: make(map[string]int),
		stall:    make(map[string]bool),
		calls:    make(map[string]int),
		reached:  make(chan struct{}),
	}
}

func (f *memFetcher) setStall(it model.Item, on bool) {
	f.mu.Lock()
	f.stall[it.SourceRef] = on
	f.mu.Unlock()
}

func (f *memFetcher) serve(it model.Item, body string) {
	f.mu.Lock()
	f.bodies[it.SourceRef] = body
	f.mu.Unlock()
}

func (f *memFetcher) callCount(ref string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[ref]
}

func (f *memFetcher) Open(ctx context.Context, req transfer.Request) (*transfer.Body, error) {
	ref := req.Item.SourceRef
	f.mu.Lock()
	f.calls[ref]++
	stall := f.stall[ref]
	fail := f.failures[ref] > 0
	if fail {
		f.failures[ref]--
	}
	body, ok := f.bodies[ref]
	f.mu.Unlock()

	switch {
	case stall:
		r := &stallingReader{ctx: ctx, head: "partial", onStall: func() { f.reachedOnce.Do(func() { close(f.reached) }) }}
		return &transfer.Body{ReadCloser: io.NopCloser(r), Total: int64(len(body))}, nil
	case fail:
		return nil, &transfer.StatusError{Code: 503, Ref: ref}
	case !ok:
		return nil, &transfer.StatusError{Code: 404, Ref: ref}
	}
	return &transfer.Body{ReadCloser: io.NopCloser(strings.NewReader(body)), Total: int64(len(body))}, nil
}

type stallingReader struct {
	ctx     context.Context
	head    string
	sent    bool
	onStall func()
}

func (r *stallingReader) Read(p []byte) (int, error) {
	if !r.sent {
		r.sent = true
		return copy(p, r.head), nil
	}
	r.onStall()
	<-r.ctx.Done()
	return 0, r.ctx.Err()
}

func testDeps(s discovery.Strategy, f transfer.Fetcher) Deps {
	return Deps{
		Strategies: map[model.Kind]discovery.Strategy{model.KindWeb: s},
		Fetcher:    f,
		Logger:     zerolog.Nop(),
	}
}
