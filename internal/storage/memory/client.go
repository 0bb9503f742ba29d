// Package memory is the in-process PairLocker used by -dev runs and
// tests. It only serializes within one process, which is exactly the
// deployment shape of -dev.
package memory

import (
	"context"
	"sync"
)

type Client struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func New() *Client {
	return &Client{locks: make(map[string]chan struct{})}
}

func (c *Client) Close() error { return nil }

// Acquire blocks until the per-key slot is free or ctx is done.
func (c *Client) Acquire(ctx context.Context, key string) (func(), error) {
	for {
		c.mu.Lock()
		holder, held := c.locks[key]
		if !held {
			ch := make(chan struct{})
			c.locks[key] = ch
			c.mu.Unlock()
			var once sync.Once
			release := func() {
				once.Do(func() {
					c.mu.Lock()
					delete(c.locks, key)
					c.mu.Unlock()
					close(ch)
				})
			}
			return release, nil
		}
		c.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-holder:
			// Slot freed, try again.
		}
	}
}
