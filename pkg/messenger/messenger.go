package messenger

import "sync"

// Messenger owns one Channel per worker and multiplexes Send/Cancel
// calls onto them, creating channels lazily on first use.
type Messenger struct {
	dial Dialer

	mu       sync.Mutex
	channels map[string]*Channel
}

// NewMessenger creates a Messenger that opens worker connections with
// dial.
func NewMessenger(dial Dialer) *Messenger {
	return &Messenger{dial: dial, channels: make(map[string]*Channel)}
}

func (m *Messenger) channelFor(worker string) *Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.channels[worker]
	if !ok {
		c = newChannel(worker, m.dial)
		c.start()
		m.channels[worker] = c
	}
	return c
}

// Send enqueues body for delivery to worker under requestID at the
// given priority, invoking cb exactly once with the worker's raw
// response body or an error (transport failure or cancellation).
func (m *Messenger) Send(worker, requestID string, body []byte, priority int, cb func(body []byte, err error)) {
	m.channelFor(worker).enqueue(&Item{
		RequestID: requestID,
		Body:      body,
		Priority:  priority,
		Callback:  cb,
	})
}

// Cancel removes requestID from worker's queue if it has not been
// sent yet, or marks it so its eventual response is discarded in
// favor of a CANCELLED outcome if it has. It reports whether a
// matching item was found for worker.
func (m *Messenger) Cancel(worker, requestID string) bool {
	m.mu.Lock()
	c, ok := m.channels[worker]
	m.mu.Unlock()
	if !ok {
		return false
	}
	return c.cancel(requestID)
}

// Stop shuts down every worker channel's run loop.
func (m *Messenger) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.channels {
		c.stop()
	}
}
