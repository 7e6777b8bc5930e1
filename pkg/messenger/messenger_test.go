package messenger_test

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/warren/pkg/messenger"
	"github.com/cuemby/warren/pkg/protocol"
)

// fakeEnvelope mirrors messenger's unexported envelope shape for the
// purpose of a test double: decode whatever arrives, re-encode the
// same id and body.
type fakeEnvelope struct {
	ID   string `msgpack:"id"`
	Body []byte `msgpack:"body"`
}

// fakeWorker echoes every received envelope's body back under the
// same request id until the connection is closed.
func fakeWorker(conn io.ReadWriteCloser) {
	defer conn.Close()
	for {
		var env fakeEnvelope
		if err := protocol.ReceiveMessage(conn, 0, &env); err != nil {
			return
		}
		if err := protocol.SendMessage(conn, env); err != nil {
			return
		}
	}
}

func waitOrTimeout(t *testing.T, wg *sync.WaitGroup, d time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("timed out waiting for callbacks")
	}
}

func echoDialer() messenger.Dialer {
	return func(ctx context.Context, worker string) (io.ReadWriteCloser, error) {
		client, server := net.Pipe()
		go fakeWorker(server)
		return client, nil
	}
}

func TestSendReceivesEchoedBody(t *testing.T) {
	m := messenger.NewMessenger(echoDialer())
	defer m.Stop()

	var wg sync.WaitGroup
	wg.Add(1)
	var gotBody []byte
	var gotErr error
	m.Send("worker-1", "req-1", []byte("hello"), 0, func(body []byte, err error) {
		gotBody, gotErr = body, err
		wg.Done()
	})

	waitOrTimeout(t, &wg, 2*time.Second)
	if gotErr != nil {
		t.Fatal(gotErr)
	}
	if string(gotBody) != "hello" {
		t.Fatalf("got %q", gotBody)
	}
}

// TestPriorityOrdering pins one warmup item in flight (blocked mid
// network write) so that low/high/mid can all be enqueued while the
// worker queue is genuinely non-empty, then verifies that queued
// items drain in priority order, FIFO within a priority, once the
// warmup completes — without ever preempting the in-flight warmup.
func TestPriorityOrdering(t *testing.T) {
	warmupStarted := make(chan struct{})
	release := make(chan struct{})

	dial := func(ctx context.Context, worker string) (io.ReadWriteCloser, error) {
		client, server := net.Pipe()
		go func() {
			close(warmupStarted)
			<-release
			fakeWorker(server)
		}()
		return client, nil
	}

	m := messenger.NewMessenger(dial)
	defer m.Stop()

	var mu sync.Mutex
	var order []string
	var wg sync.WaitGroup
	wg.Add(4)
	record := func(name string) func([]byte, error) {
		return func(body []byte, err error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			wg.Done()
		}
	}

	m.Send("worker-1", "warmup", []byte("warmup"), 0, record("warmup"))
	<-warmupStarted // warmup is popped and blocked mid network write

	m.Send("worker-1", "low", []byte("low"), 0, record("low"))
	m.Send("worker-1", "high", []byte("high"), 10, record("high"))
	m.Send("worker-1", "mid", []byte("mid"), 5, record("mid"))

	close(release)
	waitOrTimeout(t, &wg, 2*time.Second)

	mu.Lock()
	defer mu.Unlock()
	want := []string{"warmup", "high", "mid", "low"}
	if len(order) != len(want) {
		t.Fatalf("got %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got %v, want %v", order, want)
		}
	}
}

func TestCancelQueuedItemDeliversErrCancelled(t *testing.T) {
	warmupStarted := make(chan struct{})
	release := make(chan struct{})

	dial := func(ctx context.Context, worker string) (io.ReadWriteCloser, error) {
		client, server := net.Pipe()
		go func() {
			close(warmupStarted)
			<-release
			fakeWorker(server)
		}()
		return client, nil
	}

	m := messenger.NewMessenger(dial)
	defer m.Stop()

	var wg sync.WaitGroup
	wg.Add(2)
	var warmupErr, victimErr error

	m.Send("worker-1", "warmup", []byte("warmup"), 0, func(body []byte, err error) {
		warmupErr = err
		wg.Done()
	})
	<-warmupStarted

	m.Send("worker-1", "victim", []byte("victim"), 0, func(body []byte, err error) {
		victimErr = err
		wg.Done()
	})

	if !m.Cancel("worker-1", "victim") {
		t.Fatal("expected cancel to find the still-queued item")
	}

	close(release)
	waitOrTimeout(t, &wg, 2*time.Second)

	if warmupErr != nil {
		t.Fatalf("unexpected warmup error: %v", warmupErr)
	}
	var ce *messenger.ErrCancelled
	if victimErr == nil {
		t.Fatal("expected ErrCancelled for the cancelled item")
	}
	if !errors.As(victimErr, &ce) {
		t.Fatalf("expected *messenger.ErrCancelled, got %T", victimErr)
	}
}

// stopFrame mirrors Channel's unexported stopEnvelope shape, for
// asserting a REQUEST_STOP frame was actually written to the wire.
type stopFrame struct {
	Header protocol.RequestHeader `msgpack:"header"`
	Body   []byte                 `msgpack:"body"`
}

// TestCancelInFlightSendsStopAndDeliversCancelled pins the one send a
// Channel is allowed in flight, cancels it, and asserts a typed
// REQUEST_STOP frame for that request id arrives on the wire before
// the worker answers — then has the "worker" answer the original
// request, and checks the callback still observes a CANCELLED
// outcome despite the normal response winning the race.
func TestCancelInFlightSendsStopAndDeliversCancelled(t *testing.T) {
	reqReceived := make(chan struct{})
	gotStop := make(chan protocol.StopRequest, 1)

	dial := func(ctx context.Context, worker string) (io.ReadWriteCloser, error) {
		client, server := net.Pipe()
		go func() {
			defer server.Close()

			var req fakeEnvelope
			if err := protocol.ReceiveMessage(server, 0, &req); err != nil {
				return
			}
			close(reqReceived)

			var stop stopFrame
			if err := protocol.ReceiveMessage(server, 0, &stop); err != nil {
				return
			}
			var sr protocol.StopRequest
			if err := protocol.DecodeBody(stop.Body, &sr); err != nil {
				return
			}
			gotStop <- sr

			_ = protocol.SendMessage(server, req)
		}()
		return client, nil
	}

	m := messenger.NewMessenger(dial)
	defer m.Stop()

	done := make(chan error, 1)
	m.Send("worker-1", "victim", []byte("victim"), 0, func(body []byte, err error) {
		done <- err
	})

	select {
	case <-reqReceived:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the item to reach in-flight")
	}

	if !m.Cancel("worker-1", "victim") {
		t.Fatal("expected cancel to find the in-flight item")
	}

	select {
	case sr := <-gotStop:
		if sr.TargetID != "victim" {
			t.Fatalf("got stop target %q, want %q", sr.TargetID, "victim")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the worker to observe a STOP frame")
	}

	select {
	case err := <-done:
		var ce *messenger.ErrCancelled
		if err == nil || !errors.As(err, &ce) {
			t.Fatalf("expected *messenger.ErrCancelled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the cancelled callback")
	}
}

func TestCancelUnknownWorkerReturnsFalse(t *testing.T) {
	m := messenger.NewMessenger(func(ctx context.Context, worker string) (io.ReadWriteCloser, error) {
		return nil, errors.New("should not dial")
	})
	defer m.Stop()
	if m.Cancel("nowhere", "nothing") {
		t.Fatal("expected false for an unknown worker")
	}
}

func TestDialFailureFailsQueuedItems(t *testing.T) {
	dialErr := errors.New("connection refused")
	m := messenger.NewMessenger(func(ctx context.Context, worker string) (io.ReadWriteCloser, error) {
		return nil, dialErr
	})
	defer m.Stop()

	var wg sync.WaitGroup
	wg.Add(2)
	var errs [2]error
	m.Send("worker-1", "a", []byte("a"), 0, func(body []byte, err error) { errs[0] = err; wg.Done() })
	m.Send("worker-1", "b", []byte("b"), 0, func(body []byte, err error) { errs[1] = err; wg.Done() })

	waitOrTimeout(t, &wg, 2*time.Second)
	for i, err := range errs {
		if err == nil {
			t.Fatalf("item %d: expected a dial error", i)
		}
	}
}
