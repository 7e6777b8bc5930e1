package idutil_test

import (
	"sync"
	"testing"
	"time"

	"github.com/cuemby/warren/pkg/idutil"
)

func TestNewIDUnique(t *testing.T) {
	a := idutil.NewID()
	b := idutil.NewID()
	if a == b {
		t.Fatalf("expected distinct ids, got %q twice", a)
	}
}

func TestNamedMutexRegistrySerializesPerKey(t *testing.T) {
	r := idutil.NewNamedMutexRegistry()

	var counter int
	var wg sync.WaitGroup
	const n = 50
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			r.Lock("txn-1")
			defer r.Unlock("txn-1")
			counter++
		}()
	}
	wg.Wait()
	if counter != n {
		t.Fatalf("expected counter %d, got %d", n, counter)
	}
}

func TestNamedMutexRegistryDistinctKeysIndependent(t *testing.T) {
	r := idutil.NewNamedMutexRegistry()
	r.Lock("a")
	defer r.Unlock("a")

	done := make(chan struct{})
	go func() {
		r.Lock("b")
		r.Unlock("b")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a separate key should not block")
	}
}

func TestFakeClockAdvance(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := idutil.NewFakeClock(start)
	if !c.Now().Equal(start) {
		t.Fatalf("expected %v, got %v", start, c.Now())
	}
	c.Advance(5 * time.Second)
	want := start.Add(5 * time.Second)
	if !c.Now().Equal(want) {
		t.Fatalf("expected %v, got %v", want, c.Now())
	}
}

func TestPerfCountersMarksAreIdempotentAndOrdered(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := idutil.NewFakeClock(start)
	p := idutil.NewPerfCounters(clock)

	p.MarkStart()
	clock.Advance(100 * time.Millisecond)
	p.MarkRead()
	clock.Advance(200 * time.Millisecond)
	p.MarkLoad()

	// Re-marking must not move an already-set timestamp.
	clock.Advance(time.Second)
	p.MarkStart()
	p.MarkRead()
	p.MarkLoad()

	if p.ReadDurationMs() != 100 {
		t.Fatalf("expected read duration 100ms, got %d", p.ReadDurationMs())
	}
	if p.LoadDurationMs() != 200 {
		t.Fatalf("expected load duration 200ms, got %d", p.LoadDurationMs())
	}
}

func TestPerfCountersDurationZeroWhenIncomplete(t *testing.T) {
	p := idutil.NewPerfCounters(idutil.RealClock{})
	if p.ReadDurationMs() != 0 || p.LoadDurationMs() != 0 {
		t.Fatal("expected zero durations before any marks")
	}
}
