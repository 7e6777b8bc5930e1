package qservmgt

import (
	"errors"
	"sync"
	"time"

	"github.com/cuemby/warren/pkg/idutil"
	"github.com/cuemby/warren/pkg/messenger"
	"github.com/cuemby/warren/pkg/types"
)

// Sender is the subset of a messenger pool a Request needs, declared
// here so tests can substitute a fake. *messenger.Messenger satisfies
// it structurally.
type Sender interface {
	Send(worker, requestID string, body []byte, priority int, cb func(body []byte, err error))
	Cancel(worker, requestID string) bool
}

// Options configure a new Request.
type Options struct {
	Worker   string
	Priority int
	Clock    idutil.Clock
}

// Request is one outbound management operation against a query
// worker: CREATED -> IN_PROGRESS -> FINISHED, with a one-shot
// completion callback. See the package doc comment for how it relates
// to qrequest.Request.
type Request struct {
	ID     string
	Worker string

	mu        sync.Mutex
	state     types.RequestState
	extState  types.ExtendedState
	perf      types.Performance
	lastError string
	done      bool

	body     Body
	sender   Sender
	clock    idutil.Clock
	priority int

	expirationTimer *time.Timer
	onFinish        func(*Request)
}

// New creates a Request in the CREATED state.
func New(id string, body Body, sender Sender, opts Options, onFinish func(*Request)) *Request {
	clock := opts.Clock
	if clock == nil {
		clock = idutil.RealClock{}
	}
	return &Request{
		ID:       id,
		Worker:   opts.Worker,
		priority: opts.Priority,
		state:    types.StateCreated,
		extState: types.ExtendedNone,
		body:     body,
		sender:   sender,
		clock:    clock,
		onFinish: onFinish,
	}
}

// State returns the Request's current lifecycle state.
func (r *Request) State() types.RequestState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// ExtendedState returns the Request's finish reason, types.ExtendedNone
// until it finishes.
func (r *Request) ExtendedState() types.ExtendedState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.extState
}

// LastError returns the error recorded at finish time, if any.
func (r *Request) LastError() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastError
}

// Start transitions the Request to IN_PROGRESS, serializes its JSON
// body, arms an expiration timer (0 disables it), and hands the body
// to the Sender.
func (r *Request) Start(expirationSec int) error {
	r.mu.Lock()
	if r.state != types.StateCreated {
		r.mu.Unlock()
		return errors.New("qservmgt: request already started")
	}
	r.state = types.StateInProgress
	r.perf.CreateTimeMs = r.clock.Now().UnixMilli()
	r.perf.StartTimeMs = r.perf.CreateTimeMs
	r.mu.Unlock()

	body, err := r.body.Serialize()
	if err != nil {
		r.finish(types.ExtendedClientError)
		return nil
	}

	if expirationSec > 0 {
		r.mu.Lock()
		r.expirationTimer = time.AfterFunc(time.Duration(expirationSec)*time.Second, r.onExpire)
		r.mu.Unlock()
	}

	r.sender.Send(r.Worker, r.ID, body, r.priority, r.onResponse)
	return nil
}

// Cancel makes a best-effort attempt to stop the Request. If it is
// still queued, it is removed and finishes as CANCELLED; if it is
// already in flight, cancellation may or may not reach the worker in
// time to interrupt the call.
func (r *Request) Cancel() {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done {
		return
	}
	r.sender.Cancel(r.Worker, r.ID)
}

func (r *Request) onExpire() {
	r.mu.Lock()
	if r.done {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()
	r.sender.Cancel(r.Worker, r.ID)
	r.finish(types.ExtendedTimeoutExpired)
}

func (r *Request) onResponse(body []byte, err error) {
	r.mu.Lock()
	if r.done {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	if err != nil {
		var cancelled *messenger.ErrCancelled
		if errors.As(err, &cancelled) {
			r.finish(types.ExtendedCancelled)
			return
		}
		r.mu.Lock()
		r.lastError = err.Error()
		r.mu.Unlock()
		r.finish(types.ExtendedServerError)
		return
	}

	ext, aerr := r.body.AnalyzeResponse(body)
	if aerr != nil {
		r.mu.Lock()
		r.lastError = aerr.Error()
		r.mu.Unlock()
		r.finish(types.ExtendedServerBadResponse)
		return
	}
	r.finish(ext)
}

func (r *Request) finish(ext types.ExtendedState) {
	r.mu.Lock()
	if r.done {
		r.mu.Unlock()
		return
	}
	r.done = true
	r.state = types.StateFinished
	r.extState = ext
	r.perf.FinishTimeMs = r.clock.Now().UnixMilli()
	if r.expirationTimer != nil {
		r.expirationTimer.Stop()
	}
	r.mu.Unlock()

	if r.onFinish != nil {
		r.onFinish(r)
	}
}
