// Package album coalesces media items posted together as one album into a
// single batch, drained once after a fixed settle window.
//
// The platform delivers each album item as its own event with no "last item"
// marker, so the settle timer is the only correlation signal. The timer is
// armed by the first item and never reset; items arriving after it fires
// start a new batch.
package album

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"bouncer/cmd/internal/ingest"
	"bouncer/cmd/internal/metrics"
)

// DefaultSettle exceeds the usual inter-item gap of one album delivery.
const DefaultSettle = 1500 * time.Millisecond

var (
	ErrNoGroup = errors.New("album: empty group id")
	ErrClosed  = errors.New("album: coalescer closed")
)

// Batch is one drained album. Items are in arrival order.
type Batch struct {
	GroupID  string
	Items    []ingest.Upload
	OpenedAt time.Time
}

// DrainFunc consumes a batch. It runs on its own goroutine.
type DrainFunc func(ctx context.Context, b Batch)

type stopper interface {
	Stop() bool
}

type pendingBatch struct {
	items  []ingest.Upload
	opened time.Time
	timer  stopper
}

// Coalescer indexes pending batches by group id (arena + index: group id to batch,
// removed on fire).
type Coalescer struct {
	settle  time.Duration
	drain   DrainFunc
	log     *slog.Logger
	metrics *metrics.Metrics

	ctx       context.Context
	afterFunc func(time.Duration, func()) stopper
	now       func() time.Time

	mu      sync.Mutex
	pending map[string]*pendingBatch
	closed  bool
	wg      sync.WaitGroup
}

// Option configures a Coalescer.
type Option func(*Coalescer)

// WithSettle sets the fire delay (DefaultSettle when <= 0).
func WithSettle(d time.Duration) Option {
	return func(c *Coalescer) {
		if d > 0 {
			c.settle = d
		}
	}
}

// WithMetrics reports pending and drained batch sizes to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coalescer) { c.metrics = m }
}

// WithContext sets the context handed to drains.
func WithContext(ctx context.Context) Option {
	return func(c *Coalescer) {
		if ctx != nil {
			c.ctx = ctx
		}
	}
}

// New constructs a Coalescer that hands every fired batch to drain.
func New(drain DrainFunc, log *slog.Logger, opts ...Option) *Coalescer {
	if log == nil {
		log = slog.Default()
	}
	c := &Coalescer{
		settle:  DefaultSettle,
		drain:   drain,
		log:     log,
		ctx:     context.Background(),
		now:     time.Now,
		pending: make(map[string]*pendingBatch),
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Add appends item to the batch for groupID, opening the batch and arming its
// timer when none is pending. first reports whether this call opened the batch.
func (c *Coalescer) Add(groupID string, item ingest.Upload) (first bool, err error) {
	if groupID == "" {
		return false, ErrNoGroup
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false, ErrClosed
	}

	if b, ok := c.pending[groupID]; ok {
		b.items = append(b.items, item)
		return false, nil
	}

	b := &pendingBatch{items: []ingest.Upload{item}, opened: c.now()}
	c.pending[groupID] = b
	c.wg.Add(1)
	b.timer = c.afterFunc(c.settle, func() { c.fire(groupID, b) })
	c.metrics.SetAlbumPending(len(c.pending))
	return true, nil
}

// Pending returns the number of batches waiting for their timer.
func (c *Coalescer) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// fire evicts b from the index and drains it. It runs at most once per batch.
func (c *Coalescer) fire(groupID string, b *pendingBatch) {
	c.mu.Lock()
	cur, ok := c.pending[groupID]
	if !ok || cur != b {
		c.mu.Unlock()
		return
	}
	delete(c.pending, groupID)
	items := b.items
	b.items = nil
	c.metrics.SetAlbumPending(len(c.pending))
	c.mu.Unlock()

	defer c.wg.Done()

	if len(items) == 0 {
		return
	}
	c.metrics.ObserveAlbumSize(len(items))

	defer func() {
		if r := recover(); r != nil {
			c.log.Error("album.drain.panic", "group_id", groupID, "panic", fmt.Sprint(r))
		}
	}()
	c.drain(c.ctx, Batch{GroupID: groupID, Items: items, OpenedAt: b.opened})
}

// Close stops accepting items, fires every pending batch immediately and waits
// for all drains (including ones already running) or ctx.
func (c *Coalescer) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	type fireable struct {
		id string
		b  *pendingBatch
	}
	var early []fireable
	for id, b := range c.pending {
		// A failed Stop means the timer already fired and its callback will drain.
		if b.timer != nil && b.timer.Stop() {
			early = append(early, fireable{id: id, b: b})
		}
	}
	c.mu.Unlock()

	for _, f := range early {
		go c.fire(f.id, f.b)
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
