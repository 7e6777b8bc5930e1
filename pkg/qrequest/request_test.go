package qrequest_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/warren/pkg/idutil"
	"github.com/cuemby/warren/pkg/messenger"
	"github.com/cuemby/warren/pkg/qrequest"
	"github.com/cuemby/warren/pkg/types"
)

// fakeSender is an in-memory Sender test double. Send records the
// callback under requestID so the test can resolve it synchronously;
// Cancel, if configured, invokes the stored callback with
// messenger.ErrCancelled.
type fakeSender struct {
	mu       sync.Mutex
	pending  map[string]func([]byte, error)
	canceled map[string]bool
}

func newFakeSender() *fakeSender {
	return &fakeSender{pending: make(map[string]func([]byte, error)), canceled: make(map[string]bool)}
}

func (s *fakeSender) Send(worker, requestID string, body []byte, priority int, cb func([]byte, error)) {
	s.mu.Lock()
	s.pending[requestID] = cb
	s.mu.Unlock()
}

func (s *fakeSender) Cancel(worker, requestID string) bool {
	s.mu.Lock()
	cb, ok := s.pending[requestID]
	if ok {
		delete(s.pending, requestID)
	}
	s.canceled[requestID] = true
	s.mu.Unlock()
	if ok {
		cb(nil, &messenger.ErrCancelled{RequestID: requestID})
	}
	return ok
}

// resolve delivers body/err to the pending Send for requestID.
func (s *fakeSender) resolve(requestID string, body []byte, err error) {
	s.mu.Lock()
	cb, ok := s.pending[requestID]
	delete(s.pending, requestID)
	s.mu.Unlock()
	if ok {
		cb(body, err)
	}
}

// fakeBody is a minimal Body test double.
type fakeBody struct {
	serializeErr error
	nextExt      types.ExtendedState
	nextTarget   string
	nextDup      bool
	nextErr      error
}

func (b *fakeBody) Serialize() ([]byte, error) {
	if b.serializeErr != nil {
		return nil, b.serializeErr
	}
	return []byte("body"), nil
}

func (b *fakeBody) AnalyzeResponse(resp []byte) (types.ExtendedState, string, bool, error) {
	return b.nextExt, b.nextTarget, b.nextDup, b.nextErr
}

func (b *fakeBody) ExtendedPersistentState() []qrequest.KV { return nil }

func TestRequestSuccessLifecycle(t *testing.T) {
	sender := newFakeSender()
	body := &fakeBody{nextExt: types.ExtendedSuccess}
	clock := idutil.NewFakeClock(time.Unix(1700000000, 0))

	var finished *qrequest.Request
	var wg sync.WaitGroup
	wg.Add(1)
	r := qrequest.New("req-1", body, sender, qrequest.Options{Worker: "worker-01", Clock: clock}, func(req *qrequest.Request) {
		finished = req
		wg.Done()
	})

	if err := r.Start("job-1", 0); err != nil {
		t.Fatal(err)
	}
	if r.State() != types.StateInProgress {
		t.Fatalf("expected IN_PROGRESS, got %v", r.State())
	}

	sender.resolve("req-1", []byte("resp"), nil)
	wg.Wait()

	if finished != r {
		t.Fatal("expected onFinish to receive the same Request")
	}
	if r.State() != types.StateFinished {
		t.Fatalf("expected FINISHED, got %v", r.State())
	}
	if r.ExtendedState() != types.ExtendedSuccess {
		t.Fatalf("expected SUCCESS, got %v", r.ExtendedState())
	}
}

func TestRequestCancelBeforeResponse(t *testing.T) {
	sender := newFakeSender()
	body := &fakeBody{nextExt: types.ExtendedSuccess}

	var wg sync.WaitGroup
	wg.Add(1)
	r := qrequest.New("req-2", body, sender, qrequest.Options{Worker: "worker-01"}, func(*qrequest.Request) {
		wg.Done()
	})
	if err := r.Start("job-1", 0); err != nil {
		t.Fatal(err)
	}

	r.Cancel()
	wg.Wait()

	if r.ExtendedState() != types.ExtendedCancelled {
		t.Fatalf("expected CANCELLED, got %v", r.ExtendedState())
	}
}

func TestRequestFinishIsOneShot(t *testing.T) {
	sender := newFakeSender()
	body := &fakeBody{nextExt: types.ExtendedSuccess}

	var calls int
	var wg sync.WaitGroup
	wg.Add(1)
	r := qrequest.New("req-3", body, sender, qrequest.Options{Worker: "worker-01"}, func(*qrequest.Request) {
		calls++
		wg.Done()
	})
	if err := r.Start("job-1", 0); err != nil {
		t.Fatal(err)
	}

	sender.resolve("req-3", []byte("resp"), nil)
	wg.Wait()

	// A second, late resolution (e.g. a stray duplicate response) must
	// not re-invoke the completion callback.
	r.Cancel()
	time.Sleep(10 * time.Millisecond)

	if calls != 1 {
		t.Fatalf("expected exactly 1 completion callback, got %d", calls)
	}
}

func TestRequestSerializeFailureFinishesClientError(t *testing.T) {
	sender := newFakeSender()
	body := &fakeBody{serializeErr: errors.New("bad params")}

	var wg sync.WaitGroup
	wg.Add(1)
	r := qrequest.New("req-4", body, sender, qrequest.Options{Worker: "worker-01"}, func(*qrequest.Request) {
		wg.Done()
	})
	if err := r.Start("job-1", 0); err != nil {
		t.Fatal(err)
	}
	wg.Wait()

	if r.ExtendedState() != types.ExtendedClientError {
		t.Fatalf("expected CLIENT_ERROR, got %v", r.ExtendedState())
	}
}

func TestRequestDuplicateSharesMasterResult(t *testing.T) {
	sender := newFakeSender()
	registry := qrequest.NewDuplicateRegistry()

	masterBody := &fakeBody{nextExt: types.ExtendedSuccess}
	var masterWG sync.WaitGroup
	masterWG.Add(1)
	master := qrequest.New("master", masterBody, sender, qrequest.Options{
		Worker: "worker-01", Fingerprint: "REPLICATE:gaia:7:worker-01", Registry: registry,
	}, func(*qrequest.Request) { masterWG.Done() })
	if err := master.Start("job-1", 0); err != nil {
		t.Fatal(err)
	}

	dupBody := &fakeBody{nextDup: true}
	var dupWG sync.WaitGroup
	dupWG.Add(1)
	dup := qrequest.New("dup", dupBody, sender, qrequest.Options{
		Worker: "worker-01", Fingerprint: "REPLICATE:gaia:7:worker-01", Registry: registry,
	}, func(*qrequest.Request) { dupWG.Done() })
	if err := dup.Start("job-2", 0); err != nil {
		t.Fatal(err)
	}

	// The duplicate's own worker response arrives first, reporting
	// SERVER_DUPLICATE; it must wait for the master rather than finish.
	sender.resolve("dup", []byte("resp"), nil)

	select {
	case <-waitDone(&dupWG):
		t.Fatal("duplicate finished before its master")
	case <-time.After(20 * time.Millisecond):
	}

	sender.resolve("master", []byte("resp"), nil)
	masterWG.Wait()
	dupWG.Wait()

	if dup.ExtendedState() != types.ExtendedSuccess {
		t.Fatalf("expected duplicate to share master's SUCCESS, got %v", dup.ExtendedState())
	}
}

func waitDone(wg *sync.WaitGroup) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	return done
}

func TestRequestKeepTrackingSendsStatusProbe(t *testing.T) {
	sender := newFakeSender()
	body := &fakeBody{nextExt: types.ExtendedServerQueued}

	var wg sync.WaitGroup
	wg.Add(1)
	r := qrequest.New("req-5", body, sender, qrequest.Options{
		Worker: "worker-01", KeepTracking: true, TrackingInterval: time.Millisecond,
	}, func(*qrequest.Request) { wg.Done() })
	if err := r.Start("job-1", 0); err != nil {
		t.Fatal(err)
	}

	sender.resolve("req-5", []byte("resp"), nil)

	// The request is still tracked (not finished) until a tracking
	// probe resolves it.
	if r.State() != types.StateInProgress {
		t.Fatalf("expected IN_PROGRESS while tracking, got %v", r.State())
	}

	// Wait for the tracking timer to fire and enqueue a probe, then
	// resolve whichever request id the fake sender now holds pending.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		sender.mu.Lock()
		var probeID string
		for id := range sender.pending {
			probeID = id
		}
		sender.mu.Unlock()
		if probeID != "" {
			body.nextExt = types.ExtendedSuccess
			sender.resolve(probeID, []byte("resp"), nil)
			break
		}
		time.Sleep(time.Millisecond)
	}

	wg.Wait()
	if r.ExtendedState() != types.ExtendedSuccess {
		t.Fatalf("expected SUCCESS after tracking probe, got %v", r.ExtendedState())
	}
}
