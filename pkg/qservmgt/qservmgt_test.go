package qservmgt_test

import (
	"sync"
	"testing"

	"github.com/cuemby/warren/pkg/messenger"
	"github.com/cuemby/warren/pkg/qservmgt"
	"github.com/cuemby/warren/pkg/types"
)

type fakeSender struct {
	mu      sync.Mutex
	pending map[string]func([]byte, error)
}

func newFakeSender() *fakeSender {
	return &fakeSender{pending: make(map[string]func([]byte, error))}
}

func (s *fakeSender) Send(worker, requestID string, body []byte, priority int, cb func([]byte, error)) {
	s.mu.Lock()
	s.pending[requestID] = cb
	s.mu.Unlock()
}

func (s *fakeSender) Cancel(worker, requestID string) bool {
	s.mu.Lock()
	cb, ok := s.pending[requestID]
	delete(s.pending, requestID)
	s.mu.Unlock()
	if ok {
		cb(nil, &messenger.ErrCancelled{RequestID: requestID})
	}
	return ok
}

func (s *fakeSender) resolve(requestID string, body []byte, err error) {
	s.mu.Lock()
	cb, ok := s.pending[requestID]
	delete(s.pending, requestID)
	s.mu.Unlock()
	if ok {
		cb(body, err)
	}
}

func TestAddReplicaSuccess(t *testing.T) {
	sender := newFakeSender()
	body := &qservmgt.AddReplicaBody{Database: "gaia", Chunk: 7}

	var wg sync.WaitGroup
	wg.Add(1)
	r := qservmgt.New("req-1", body, sender, qservmgt.Options{Worker: "qw-01"}, func(*qservmgt.Request) { wg.Done() })
	if err := r.Start(0); err != nil {
		t.Fatal(err)
	}

	sender.resolve("req-1", []byte(`{"status":"OK"}`), nil)
	wg.Wait()

	if r.ExtendedState() != types.ExtendedSuccess {
		t.Fatalf("expected SUCCESS, got %v", r.ExtendedState())
	}
}

func TestSetReplicasServerError(t *testing.T) {
	sender := newFakeSender()
	body := &qservmgt.SetReplicasBody{Database: "gaia", Chunks: []uint32{1, 2}}

	var wg sync.WaitGroup
	wg.Add(1)
	r := qservmgt.New("req-2", body, sender, qservmgt.Options{Worker: "qw-01"}, func(*qservmgt.Request) { wg.Done() })
	if err := r.Start(0); err != nil {
		t.Fatal(err)
	}

	sender.resolve("req-2", []byte(`{"status":"ERROR","error":"chunk busy"}`), nil)
	wg.Wait()

	if r.ExtendedState() != types.ExtendedServerBad {
		t.Fatalf("expected SERVER_BAD, got %v", r.ExtendedState())
	}
}

func TestMalformedResponseIsServerBadResponse(t *testing.T) {
	sender := newFakeSender()
	body := &qservmgt.GetStatusBody{}

	var wg sync.WaitGroup
	wg.Add(1)
	r := qservmgt.New("req-3", body, sender, qservmgt.Options{Worker: "qw-01"}, func(*qservmgt.Request) { wg.Done() })
	if err := r.Start(0); err != nil {
		t.Fatal(err)
	}

	sender.resolve("req-3", []byte("not json"), nil)
	wg.Wait()

	if r.ExtendedState() != types.ExtendedServerBadResponse {
		t.Fatalf("expected SERVER_BAD_RESPONSE, got %v", r.ExtendedState())
	}
	if r.LastError() == "" {
		t.Fatal("expected a recorded parse error")
	}
}

func TestTestEchoRoundTrip(t *testing.T) {
	sender := newFakeSender()
	body := &qservmgt.TestEchoBody{Data: "ping"}

	var wg sync.WaitGroup
	wg.Add(1)
	r := qservmgt.New("req-4", body, sender, qservmgt.Options{Worker: "qw-01"}, func(*qservmgt.Request) { wg.Done() })
	if err := r.Start(0); err != nil {
		t.Fatal(err)
	}

	sender.resolve("req-4", []byte(`{"status":"OK","data":"ping"}`), nil)
	wg.Wait()

	if r.ExtendedState() != types.ExtendedSuccess {
		t.Fatalf("expected SUCCESS, got %v", r.ExtendedState())
	}
	if body.Got != "ping" {
		t.Fatalf("expected echoed data %q, got %q", "ping", body.Got)
	}
}

func TestCancelBeforeResponse(t *testing.T) {
	sender := newFakeSender()
	body := &qservmgt.AddReplicaBody{Database: "gaia", Chunk: 1}

	var wg sync.WaitGroup
	wg.Add(1)
	r := qservmgt.New("req-5", body, sender, qservmgt.Options{Worker: "qw-01"}, func(*qservmgt.Request) { wg.Done() })
	if err := r.Start(0); err != nil {
		t.Fatal(err)
	}

	r.Cancel()
	wg.Wait()

	if r.ExtendedState() != types.ExtendedCancelled {
		t.Fatalf("expected CANCELLED, got %v", r.ExtendedState())
	}
}
