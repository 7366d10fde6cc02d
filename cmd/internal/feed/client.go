package feed

import (
	"sync"
)

// Client represents one connected feed session.
//
// Send is NOT closed by the server so concurrent publishers never panic;
// done signals goroutines to stop and Close is idempotent.
type Client struct {
	SessionID string
	Send      chan Envelope

	mu    sync.RWMutex
	kinds map[string]struct{}

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(sessionID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Client{
		SessionID: sessionID,
		Send:      make(chan Envelope, sendQueueSize),
		done:      make(chan struct{}),
	}
}

// SetFilter restricts delivery to kinds; an empty list subscribes to everything.
func (c *Client) SetFilter(kinds []string) {
	var set map[string]struct{}
	if len(kinds) > 0 {
		set = make(map[string]struct{}, len(kinds))
		for _, k := range kinds {
			set[k] = struct{}{}
		}
	}
	c.mu.Lock()
	c.kinds = set
	c.mu.Unlock()
}

// Wants reports whether the client subscribed to kind.
func (c *Client) Wants(kind string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.kinds == nil {
		return true
	}
	_, ok := c.kinds[kind]
	return ok
}

// Done returns a channel that is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the client goroutines to stop (idempotent).
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
