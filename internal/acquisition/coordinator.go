package acquisition

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rjboer/rxcapture/internal/sdr"
)

// ErrClosed is returned by WaitAndTake once the producer has finished and the
// last frame has been taken.
var ErrClosed = errors.New("coordinator closed")

// Frame identifies a filled buffer handed to the consumer.
type Frame struct {
	Index    int          // buffer index, 0 or 1
	Count    int          // valid samples at the start of the buffer
	Seq      uint64       // iteration number, starting at 1
	Status   sdr.Metadata // status of the receive that filled it
	Received time.Time
}

// CoordinatorStats counts handoffs.
type CoordinatorStats struct {
	Published uint64 `json:"published"`
	Taken     uint64 `json:"taken"`
	Missed    uint64 `json:"missed"` // frames overwritten before the consumer took them
}

// Coordinator hands the ready buffer index from the producer to the consumer.
//
// It holds a single slot: Publish overwrites an untaken frame, so a slow
// consumer only ever sees the latest one. The slot and the ready index are
// updated under one mutex, and the cond signal is issued while it is held.
type Coordinator struct {
	pair *FramePair

	mu      sync.Mutex
	cond    *sync.Cond
	slot    Frame
	pending bool
	ready   int
	closed  bool
	stats   CoordinatorStats
}

func NewCoordinator(pair *FramePair) *Coordinator {
	c := &Coordinator{pair: pair, ready: 1}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Publish makes f the ready frame and wakes a waiting consumer.
func (c *Coordinator) Publish(f Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.pending {
		c.stats.Missed++
	}
	c.slot = f
	c.pending = true
	c.ready = f.Index
	c.stats.Published++
	c.cond.Signal()
}

// WaitAndTake blocks until a frame is published, the coordinator is closed
// or ctx ends. A frame published before Close is still delivered.
func (c *Coordinator) WaitAndTake(ctx context.Context) (Frame, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	stop := context.AfterFunc(ctx, func() {
		c.mu.Lock()
		c.cond.Broadcast()
		c.mu.Unlock()
	})
	defer stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	for !c.pending && !c.closed && ctx.Err() == nil {
		c.cond.Wait()
	}
	if c.pending {
		return c.takeLocked(), nil
	}
	if c.closed {
		return Frame{}, ErrClosed
	}
	return Frame{}, ctx.Err()
}

// TryTake returns the pending frame without blocking.
func (c *Coordinator) TryTake() (Frame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.pending {
		return Frame{}, false
	}
	return c.takeLocked(), true
}

func (c *Coordinator) takeLocked() Frame {
	f := c.slot
	c.pending = false
	c.stats.Taken++
	return f
}

// ReadyIndex is the buffer most recently published; before the first
// publish it is 1, the complement of the first buffer filled.
func (c *Coordinator) ReadyIndex() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// Samples returns the valid prefix of the buffer f refers to.
func (c *Coordinator) Samples(f Frame) []sdr.Sample {
	return c.pair.Buffer(f.Index)[:f.Count]
}

// Stats returns a snapshot of the handoff counters.
func (c *Coordinator) Stats() CoordinatorStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Close wakes all waiters; further publishes are ignored.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.cond.Broadcast()
	c.mu.Unlock()
}
