package messenger

import (
	"container/heap"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cuemby/warren/pkg/log"
	"github.com/cuemby/warren/pkg/protocol"
	"github.com/rs/zerolog"
)

// Dialer opens the transport connection to one worker's endpoint.
// Production callers dial a TCP socket; tests supply an in-memory
// net.Pipe or similar.
type Dialer func(ctx context.Context, worker string) (io.ReadWriteCloser, error)

// dialTimeout bounds how long a Channel waits for a worker connection
// to open before treating it as a transport failure.
const dialTimeout = 10 * time.Second

// envelope carries a request id alongside an opaque, already-encoded
// body, so a Channel can demultiplex responses without knowing the
// concrete message type riding inside Body.
type envelope struct {
	ID   string `msgpack:"id"`
	Body []byte `msgpack:"body"`
}

// stopEnvelope is the typed control frame a Channel writes to cancel
// an in-flight item: a RequestHeader naming its TargetID plus the
// serialized StopRequest, distinct from the untyped envelope normal
// sends use.
type stopEnvelope struct {
	Header protocol.RequestHeader `msgpack:"header"`
	Body   []byte                 `msgpack:"body"`
}

// Channel is the single ordered outbound queue for one worker. At
// most one item is in flight at any time; queued items are ordered by
// Item.Priority, ties broken FIFO, and priority never preempts a send
// already under way.
type Channel struct {
	worker string
	dial   Dialer
	logger zerolog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   itemHeap
	seq     int
	pending map[string]*Item
	conn    io.ReadWriteCloser
	stopped bool
}

func newChannel(worker string, dial Dialer) *Channel {
	c := &Channel{
		worker:  worker,
		dial:    dial,
		logger:  log.WithComponent("messenger").With().Str("worker", worker).Logger(),
		pending: make(map[string]*Item),
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

func (c *Channel) start() {
	go c.run()
}

// stop tells the channel's goroutine to exit once it is idle. Any
// item still queued or in flight is left to fail on its own terms
// (transport close, or never completing) — callers that need a clean
// shutdown should let outstanding work drain first.
func (c *Channel) stop() {
	c.mu.Lock()
	c.stopped = true
	conn := c.conn
	c.mu.Unlock()
	c.cond.Broadcast()
	if conn != nil {
		conn.Close()
	}
}

// enqueue adds item to the priority queue and wakes the run loop.
func (c *Channel) enqueue(item *Item) {
	c.mu.Lock()
	item.seq = c.seq
	c.seq++
	heap.Push(&c.queue, item)
	c.mu.Unlock()
	c.cond.Signal()
}

// cancel removes a queued item (delivering ErrCancelled immediately)
// or, if the item is already in flight, sends the worker a typed
// REQUEST_STOP for it and marks it so the response deliver is already
// waiting on is folded into a CANCELLED outcome instead of a normal
// completion, once the worker acknowledges it. It reports whether a
// matching item was found in either state.
func (c *Channel) cancel(requestID string) bool {
	c.mu.Lock()
	for i, it := range c.queue {
		if it.RequestID == requestID {
			heap.Remove(&c.queue, i)
			cb := it.Callback
			c.mu.Unlock()
			cb(nil, errCancelled(requestID))
			return true
		}
	}
	it, ok := c.pending[requestID]
	if !ok {
		c.mu.Unlock()
		return false
	}
	it.cancelled = true
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		c.sendStop(conn, requestID)
	}
	return true
}

// sendStop writes a REQUEST_STOP frame for requestID to conn. The
// worker's acknowledgement arrives as the response to the original
// request, which deliver is already blocked reading; cancel does not
// read a second reply. Send failures are logged and otherwise
// ignored — deliver's own read will observe the same broken
// connection and fail the item through failAll.
func (c *Channel) sendStop(conn io.ReadWriteCloser, requestID string) {
	body, err := protocol.EncodeBody(protocol.StopRequest{TargetID: requestID})
	if err != nil {
		c.logger.Warn().Err(err).Str("request_id", requestID).Msg("failed to encode stop request")
		return
	}
	frame := stopEnvelope{
		Header: protocol.RequestHeader{ID: requestID, Type: protocol.RequestKindStop},
		Body:   body,
	}
	if err := protocol.SendMessage(conn, frame); err != nil {
		c.logger.Warn().Err(err).Str("request_id", requestID).Msg("failed to send stop request")
	}
}

func (c *Channel) run() {
	for {
		item := c.next()
		if item == nil {
			return
		}
		c.deliver(item)
	}
}

// next blocks until an item is queued or the channel is stopped.
func (c *Channel) next() *Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.queue) == 0 && !c.stopped {
		c.cond.Wait()
	}
	if len(c.queue) == 0 {
		return nil
	}
	item := heap.Pop(&c.queue).(*Item)
	c.pending[item.RequestID] = item
	return item
}

func (c *Channel) deliver(item *Item) {
	defer func() {
		c.mu.Lock()
		delete(c.pending, item.RequestID)
		c.mu.Unlock()
	}()

	if err := c.ensureConn(); err != nil {
		c.failAll(item, err)
		return
	}

	if err := protocol.SendMessage(c.conn, envelope{ID: item.RequestID, Body: item.Body}); err != nil {
		c.closeConn()
		c.failAll(item, fmt.Errorf("messenger: send to %s: %w", c.worker, err))
		return
	}

	var resp envelope
	if err := protocol.ReceiveMessage(c.conn, 0, &resp); err != nil {
		c.closeConn()
		c.failAll(item, fmt.Errorf("messenger: receive from %s: %w", c.worker, err))
		return
	}

	if resp.ID != item.RequestID {
		c.logger.Warn().Str("expected_id", item.RequestID).Str("got_id", resp.ID).
			Msg("dropping response with unknown request id")
		return
	}

	c.mu.Lock()
	cancelled := item.cancelled
	c.mu.Unlock()
	if cancelled {
		item.Callback(nil, errCancelled(item.RequestID))
		return
	}
	item.Callback(resp.Body, nil)
}

func (c *Channel) ensureConn() error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	conn, err := c.dial(ctx, c.worker)
	if err != nil {
		return fmt.Errorf("messenger: dial %s: %w", c.worker, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return nil
}

func (c *Channel) closeConn() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// failAll completes first with err, then drains the queue and
// completes every item still waiting with the same error — a channel
// failure terminates the in-flight request and fails everything
// behind it. The channel reopens lazily on the next delivery attempt.
func (c *Channel) failAll(first *Item, err error) {
	first.Callback(nil, err)

	c.mu.Lock()
	drained := make([]*Item, len(c.queue))
	copy(drained, c.queue)
	c.queue = c.queue[:0]
	c.mu.Unlock()

	for _, it := range drained {
		it.Callback(nil, err)
	}
}
