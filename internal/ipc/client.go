package ipc

import (
	"context"
	"fmt"
	"sync"

	"github.com/mailcore/filterd/framework/future"
)

// Client is the child-side half of the control channel: it sends ACTION
// requests and resolves a Future per outstanding id when the matching DONE
// reply arrives, giving the scheduler (internal/scheduler) a blocking
// handle per suspended mctx (spec.md §4.4, §5 "BLOCKED").
type Client struct {
	conn *Conn

	mu      sync.Mutex
	pending map[uint32]*future.Future
}

// NewClient wraps conn and starts its receive loop in the background. The
// loop runs until the underlying transport is closed.
func NewClient(conn *Conn) *Client {
	c := &Client{
		conn:    conn,
		pending: make(map[uint32]*future.Future),
	}
	go func() {
		if err := conn.RecvLoop(nil, c.handleDone); err != nil {
			c.failAllPending(err)
		}
	}()
	return c
}

func (c *Client) handleDone(d *Done) {
	c.mu.Lock()
	f := c.pending[d.ID]
	c.mu.Unlock()
	if f == nil {
		return
	}
	f.Set(d, nil)
}

func (c *Client) failAllPending(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, f := range c.pending {
		f.Set(nil, err)
		delete(c.pending, id)
	}
}

// Dispatch sends an ACTION request and returns its id immediately without
// waiting for the reply; the caller (the mctx owning this delivery) parks
// itself and later calls Wait with the same id once the scheduler resumes
// it (spec.md §4.4 "start-action" returns control to the scheduler loop
// rather than blocking the evaluator thread).
func (c *Client) Dispatch(a *Action) (id uint32, err error) {
	id = c.conn.NextID()
	a.ID = id

	f := future.New()
	c.mu.Lock()
	c.pending[id] = f
	c.mu.Unlock()

	if err := c.conn.SendAction(a); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return 0, fmt.Errorf("ipc: dispatch: %w", err)
	}
	return id, nil
}

// Wait blocks until the DONE reply for id arrives, or ctx is done.
func (c *Client) Wait(ctx context.Context, id uint32) (*Done, error) {
	c.mu.Lock()
	f := c.pending[id]
	c.mu.Unlock()
	if f == nil {
		return nil, fmt.Errorf("ipc: wait: unknown request id %d", id)
	}

	v, err := f.GetContext(ctx)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
	if v == nil {
		return nil, fmt.Errorf("ipc: wait: request %d failed", id)
	}
	return v.(*Done), nil
}
