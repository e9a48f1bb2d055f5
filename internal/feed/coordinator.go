// Package feed drives pagination of the headline feed: it sizes pages, reads
// what it can from the cache, backfills the rest from the remote source and
// keeps the cursor and the item list in scroll order.
package feed

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	hlerrs "github.com/jdholdren/headlines/internal/errors"
	"github.com/jdholdren/headlines/internal/headlines"
	"github.com/jdholdren/headlines/internal/logger"
	"github.com/jdholdren/headlines/internal/metrics"
)

const DefaultLoadTimeout = 30 * time.Second

type (
	// Viewport is the visible area of the list, in the same unit as the row height.
	Viewport struct {
		Height    float64
		RowHeight float64
	}

	Config struct {
		Tier     Tier
		Viewport Viewport
		// A load still running after this long fails and frees the coordinator.
		LoadTimeout time.Duration
	}
)

// State is where the coordinator is in a load.
type State int

const (
	StateIdle State = iota
	StateLoading
	// Held only while the error is being reported, then back to idle.
	StateError
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateError:
		return "error"
	default:
		return "idle"
	}
}

// Outcome is what became of a call to [Coordinator.Load].
type Outcome int

const (
	// OutcomeLoaded means items were merged and the cursor moved.
	OutcomeLoaded Outcome = iota
	// OutcomeDropped means another load was in flight, nothing happened.
	OutcomeDropped
	// OutcomeSkipped means a backward load would go past the first page.
	OutcomeSkipped
	// OutcomeFailed means the load was aborted and reported to the error sink.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeLoaded:
		return "loaded"
	case OutcomeDropped:
		return "dropped"
	case OutcomeSkipped:
		return "skipped"
	default:
		return "failed"
	}
}

// Coordinator owns the feed cursor and the items loaded so far.
//
// At most one load runs at a time; a load requested while another is running
// is dropped, not queued. No lock is held across cache or network calls, and
// the items can be read while a load is in flight.
type Coordinator struct {
	cache   headlines.PageReader
	remote  headlines.Source
	sizer   PageSizer
	metrics *metrics.Metrics

	// Guards everything below except the items.
	mu          sync.Mutex
	cfg         Config
	state       State
	currentPage int
	lastErr     string
	onUpdate    func()
	onError     func(string)

	itemsMu sync.RWMutex
	items   []headlines.FeedItem
}

func NewCoordinator(cfg Config, cache headlines.PageReader, remote headlines.Source, sizer PageSizer, m *metrics.Metrics) *Coordinator {
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = DefaultLoadTimeout
	}
	if sizer == nil {
		sizer = DefaultPolicy()
	}
	if m == nil {
		m = metrics.NewDefault()
	}

	return &Coordinator{
		cfg:     cfg,
		cache:   cache,
		remote:  remote,
		sizer:   sizer,
		metrics: m,
	}
}

// OnUpdate registers the function called after every successful load.
// It's called with no locks held, so it may read [Coordinator.Items].
func (c *Coordinator) OnUpdate(f func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUpdate = f
}

// OnError registers the function called once for every failed load.
func (c *Coordinator) OnError(f func(msg string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = f
}

func (c *Coordinator) SetTier(t Tier) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.Tier = t
}

func (c *Coordinator) SetViewport(v Viewport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.Viewport = v
}

// Items is a copy of the loaded items in scroll order.
func (c *Coordinator) Items() []headlines.FeedItem {
	c.itemsMu.RLock()
	defer c.itemsMu.RUnlock()

	ret := make([]headlines.FeedItem, len(c.items))
	copy(ret, c.items)
	return ret
}

// CurrentPage is the last fully loaded page, 0 before the first load.
func (c *Coordinator) CurrentPage() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentPage
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError is the message of the most recent failed load, cleared by the
// next successful one.
func (c *Coordinator) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// plan is what a load decided to do while holding the lock.
type plan struct {
	req       headlines.LoadRequest
	pageSize  int
	pages     int
	startPage int
	// The cursor when the load started, remote pages follow it.
	cursor  int
	timeout time.Duration
}

// Load gets the next run of pages in the given direction.
//
// Cache pages are read first when asked to, and whatever they leave short is
// fetched from the remote source starting after the current page, whichever
// direction is being loaded. Any remote failure aborts the load with the
// items and cursor untouched.
func (c *Coordinator) Load(ctx context.Context, req headlines.LoadRequest) Outcome {
	p, outcome, ok := c.begin(req)
	if !ok {
		c.metrics.LoadsTotal.WithLabelValues(req.Direction.String(), outcome.String()).Inc()
		return outcome
	}

	ctx = logger.Ctx(ctx,
		slog.String("load_id", uuid.NewString()),
		slog.String("direction", req.Direction.String()),
	)
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	slog.DebugContext(ctx, "loading feed",
		"start_page", p.startPage,
		"pages", p.pages,
		"page_size", p.pageSize,
		"use_cache", req.UseCache,
		"reset", req.Reset,
	)

	start := time.Now()
	fetched, err := c.gather(ctx, p)
	c.metrics.LoadDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		c.fail(ctx, err)
		c.metrics.LoadsTotal.WithLabelValues(req.Direction.String(), OutcomeFailed.String()).Inc()
		return OutcomeFailed
	}

	c.commit(ctx, p, fetched)
	c.metrics.LoadsTotal.WithLabelValues(req.Direction.String(), OutcomeLoaded.String()).Inc()
	return OutcomeLoaded
}

// begin claims the coordinator for a load, or reports why it didn't.
func (c *Coordinator) begin(req headlines.LoadRequest) (plan, Outcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateLoading {
		return plan{}, OutcomeDropped, false
	}

	if req.Reset {
		c.currentPage = 0
		c.setItems(nil)
	}

	var (
		pageSize = c.sizer.PageSize(c.cfg.Tier, c.cfg.Viewport.Height, c.cfg.Viewport.RowHeight)
		viewport = c.sizer.ViewportSize(c.cfg.Viewport.Height, c.cfg.Viewport.RowHeight)
		pages    = pagesNeeded(viewport, pageSize)
	)

	startPage := c.currentPage + 1
	if req.Direction == headlines.Backward {
		startPage = c.currentPage - pages
	}
	if startPage < 0 {
		return plan{}, OutcomeSkipped, false
	}

	c.state = StateLoading

	return plan{
		req:       req,
		pageSize:  pageSize,
		pages:     pages,
		startPage: startPage,
		cursor:    c.currentPage,
		timeout:   c.cfg.LoadTimeout,
	}, OutcomeLoaded, true
}

// gather does the cache and network reads. Called with no locks held.
func (c *Coordinator) gather(ctx context.Context, p plan) ([]headlines.FeedItem, error) {
	var items []headlines.FeedItem

	if p.req.UseCache {
		for page := p.startPage; page < p.startPage+p.pages; page++ {
			got, err := c.cache.FetchPage(ctx, page, p.pageSize)
			if err != nil {
				// The cache is best effort, the network fills in for it.
				c.metrics.CacheReadErrors.Inc()
				slog.WarnContext(ctx, "error reading cached page", "page", page, "error", err)
				continue
			}
			items = append(items, got...)
		}
		c.metrics.ItemsTotal.WithLabelValues("cache").Add(float64(len(items)))
	}

	if len(items) >= p.pages*p.pageSize {
		return items, nil
	}

	remaining := p.pages - len(items)/p.pageSize
	for i := range remaining {
		page := p.cursor + 1 + i
		got, err := c.remote.FetchPage(ctx, page, p.pageSize)
		if err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, hlerrs.E(hlerrs.KindTransport, "Loading the feed timed out.")
			}
			return nil, err
		}
		c.metrics.ItemsTotal.WithLabelValues("remote").Add(float64(len(got)))
		items = append(items, got...)
	}

	return items, nil
}

func (c *Coordinator) commit(ctx context.Context, p plan, fetched []headlines.FeedItem) {
	c.mu.Lock()

	c.itemsMu.Lock()
	c.items = merge(c.items, fetched, p.req.Direction)
	count := len(c.items)
	c.itemsMu.Unlock()

	if p.req.Direction == headlines.Backward {
		c.currentPage -= p.pages
	} else {
		c.currentPage += p.pages
	}
	c.state = StateIdle
	c.lastErr = ""
	var (
		page     = c.currentPage
		onUpdate = c.onUpdate
	)
	c.mu.Unlock()

	c.metrics.FeedItems.Set(float64(count))
	slog.InfoContext(ctx, "feed loaded", "fetched", len(fetched), "items", count, "current_page", page)

	if onUpdate != nil {
		onUpdate()
	}
}

func (c *Coordinator) fail(ctx context.Context, err error) {
	msg := hlerrs.Message(err)

	c.mu.Lock()
	c.state = StateError
	c.lastErr = msg
	onError := c.onError
	c.mu.Unlock()

	slog.ErrorContext(ctx, "error loading feed", "kind", hlerrs.KindOf(err), "error", err)

	if onError != nil {
		onError(msg)
	}

	c.mu.Lock()
	if c.state == StateError {
		c.state = StateIdle
	}
	c.mu.Unlock()
}

// setItems replaces the items. Called with c.mu held.
func (c *Coordinator) setItems(items []headlines.FeedItem) {
	c.itemsMu.Lock()
	defer c.itemsMu.Unlock()
	c.items = items
}

// merge adds fetched to the tail of existing, or the head when going
// backward, skipping any id that's already there.
func merge(existing, fetched []headlines.FeedItem, dir headlines.Direction) []headlines.FeedItem {
	seen := make(map[string]struct{}, len(existing)+len(fetched))
	for _, item := range existing {
		seen[item.ID] = struct{}{}
	}

	fresh := make([]headlines.FeedItem, 0, len(fetched))
	for _, item := range fetched {
		if _, ok := seen[item.ID]; ok {
			continue
		}
		seen[item.ID] = struct{}{}
		fresh = append(fresh, item)
	}

	ret := make([]headlines.FeedItem, 0, len(existing)+len(fresh))
	if dir == headlines.Backward {
		ret = append(ret, fresh...)
		return append(ret, existing...)
	}
	ret = append(ret, existing...)
	return append(ret, fresh...)
}
