package qrequest

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/warren/pkg/idutil"
	"github.com/cuemby/warren/pkg/messenger"
	"github.com/cuemby/warren/pkg/protocol"
	"github.com/cuemby/warren/pkg/types"
)

// Sender is the subset of *messenger.Messenger a Request needs. It is
// declared here, rather than imported as a concrete type, only so
// tests can substitute a fake; *messenger.Messenger satisfies it
// structurally.
type Sender interface {
	Send(worker, requestID string, body []byte, priority int, cb func(body []byte, err error))
	Cancel(worker, requestID string) bool
}

// Options configure a new Request.
type Options struct {
	Worker         string
	Priority       int
	KeepTracking   bool
	AllowDuplicate bool
	Fingerprint    string
	// TrackingInterval is how long a Request waits between a
	// SERVER_CREATED/QUEUED/IN_PROGRESS/IS_CANCELLING response and its
	// next REQUEST_STATUS probe. Zero selects DefaultTrackingInterval.
	TrackingInterval time.Duration
	Clock            idutil.Clock
	Registry         *DuplicateRegistry
}

// DefaultTrackingInterval is used when Options.TrackingInterval is
// zero.
const DefaultTrackingInterval = 2 * time.Second

// Request is one outbound operation against a replication worker: the
// CREATED -> IN_PROGRESS -> FINISHED state machine, tracking/
// expiration timers, and duplicate suppression described in
// package qrequest's doc comment.
type Request struct {
	ID     string
	JobID  string
	Worker string

	Priority       int
	KeepTracking   bool
	AllowDuplicate bool
	Fingerprint    string

	mu              sync.Mutex
	state           types.RequestState
	extState        types.ExtendedState
	perf            types.Performance
	lastError       string
	targetRequestID string
	done            bool
	followers       []*Request

	body             Body
	sender           Sender
	clock            idutil.Clock
	registry         *DuplicateRegistry
	trackingInterval time.Duration
	releaseMaster    func()

	expirationTimer *time.Timer
	trackingTimer   *time.Timer

	onFinish func(*Request)
}

// New creates a Request in the CREATED state. onFinish, if non-nil,
// is invoked exactly once when the Request reaches FINISHED.
func New(id string, body Body, sender Sender, opts Options, onFinish func(*Request)) *Request {
	clock := opts.Clock
	if clock == nil {
		clock = idutil.RealClock{}
	}
	interval := opts.TrackingInterval
	if interval <= 0 {
		interval = DefaultTrackingInterval
	}
	return &Request{
		ID:               id,
		Worker:           opts.Worker,
		Priority:         opts.Priority,
		KeepTracking:     opts.KeepTracking,
		AllowDuplicate:   opts.AllowDuplicate,
		Fingerprint:      opts.Fingerprint,
		state:            types.StateCreated,
		extState:         types.ExtendedNone,
		body:             body,
		sender:           sender,
		clock:            clock,
		registry:         opts.Registry,
		trackingInterval: interval,
		onFinish:         onFinish,
	}
}

// State returns the Request's current lifecycle state.
func (r *Request) State() types.RequestState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// ExtendedState returns the Request's finish reason. It is
// types.ExtendedNone until the Request finishes.
func (r *Request) ExtendedState() types.ExtendedState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.extState
}

// Performance returns a snapshot of the Request's timing marks.
func (r *Request) Performance() types.Performance {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.perf
}

// LastError returns the error message recorded at finish time, if
// the Request did not finish successfully.
func (r *Request) LastError() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastError
}

// ExtendedPersistentState delegates to the Body, for post-mortem
// persistence once the Request finishes.
func (r *Request) ExtendedPersistentState() []KV {
	return r.body.ExtendedPersistentState()
}

// Start transitions the Request to IN_PROGRESS, serializes its body,
// arms an expiration timer (expirationSec of 0 disables it), and
// hands the framed request to the Sender. jobID identifies the owning
// Job for persistence.
func (r *Request) Start(jobID string, expirationSec int) error {
	r.mu.Lock()
	if r.state != types.StateCreated {
		r.mu.Unlock()
		return fmt.Errorf("qrequest: %s: already started", r.ID)
	}
	r.JobID = jobID
	r.state = types.StateInProgress
	r.perf.CreateTimeMs = r.clock.Now().UnixMilli()
	r.perf.StartTimeMs = r.perf.CreateTimeMs
	r.mu.Unlock()

	if r.registry != nil {
		r.releaseMaster = r.registry.Register(r)
	}

	body, err := r.body.Serialize()
	if err != nil {
		r.finish(types.ExtendedClientError)
		return nil
	}

	if expirationSec > 0 {
		r.armExpiration(time.Duration(expirationSec) * time.Second)
	}

	r.sender.Send(r.Worker, r.ID, body, r.Priority, r.onResponse)
	return nil
}

// Cancel asks the Sender to cancel the Request. If it is still
// queued, the Sender delivers messenger.ErrCancelled immediately,
// finishing this Request as CANCELLED. If it is already in flight,
// the eventual worker response is discarded in favor of the same
// outcome.
func (r *Request) Cancel() {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done {
		return
	}
	r.sender.Cancel(r.Worker, r.ID)
}

func (r *Request) armExpiration(d time.Duration) {
	r.mu.Lock()
	r.expirationTimer = time.AfterFunc(d, r.onExpire)
	r.mu.Unlock()
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

func (r *Request) armTracking() {
	r.mu.Lock()
	r.trackingTimer = time.AfterFunc(r.trackingInterval, r.sendTrackingProbe)
	r.mu.Unlock()
}

func (r *Request) sendTrackingProbe() {
	r.mu.Lock()
	if r.done {
		r.mu.Unlock()
		return
	}
	target := r.targetRequestID
	r.mu.Unlock()

	body, err := protocol.EncodeBody(protocol.StatusRequest{TargetID: target})
	if err != nil {
		r.mu.Lock()
		r.lastError = err.Error()
		r.mu.Unlock()
		r.finish(types.ExtendedServerError)
		return
	}
	r.sender.Send(r.Worker, idutil.NewID(), body, r.Priority, r.onResponse)
}

// onResponse is the Sender callback shared by the initial send and
// every subsequent tracking probe.
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

	ext, targetID, isDuplicate, aerr := r.body.AnalyzeResponse(body)
	if aerr != nil {
		r.mu.Lock()
		r.lastError = aerr.Error()
		r.mu.Unlock()
		r.finish(types.ExtendedServerBad)
		return
	}
	if targetID != "" {
		r.mu.Lock()
		r.targetRequestID = targetID
		r.mu.Unlock()
	}

	if isDuplicate {
		if master, ok := r.registry.Master(r.Fingerprint); ok && master != r {
			r.attachToMaster(master)
			return
		}
		r.finish(types.ExtendedServerBad)
		return
	}

	switch ext {
	case types.ExtendedServerCreated, types.ExtendedServerQueued,
		types.ExtendedServerInProgress, types.ExtendedServerIsCancelling:
		if r.KeepTracking {
			r.perf.ResponseReadTimeMs = r.clock.Now().UnixMilli()
			r.armTracking()
			return
		}
		r.finish(ext)
	default:
		r.finish(ext)
	}
}

// attachToMaster resolves this Request (a SERVER_DUPLICATE) to
// master's eventual outcome.
func (r *Request) attachToMaster(master *Request) {
	master.mu.Lock()
	if master.done {
		ext := master.extState
		master.mu.Unlock()
		r.finish(ext)
		return
	}
	master.followers = append(master.followers, r)
	master.mu.Unlock()
}

// finish is the sole path to FINISHED; it is idempotent so the
// completion callback fires exactly once regardless of how many
// goroutines race to call it (expiration timer, Sender callback,
// duplicate-master notification).
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
	if r.trackingTimer != nil {
		r.trackingTimer.Stop()
	}
	followers := r.followers
	r.followers = nil
	r.mu.Unlock()

	if r.releaseMaster != nil {
		r.releaseMaster()
	}
	for _, f := range followers {
		f.finish(ext)
	}
	if r.onFinish != nil {
		r.onFinish(r)
	}
}
