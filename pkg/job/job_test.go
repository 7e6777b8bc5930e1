package job_test

import (
	"sync"
	"testing"

	"github.com/cuemby/warren/pkg/job"
	"github.com/cuemby/warren/pkg/types"
)

func TestEmptyTargetSetFinishesSuccessImmediately(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)
	j := job.New("job-1", job.Options{}, func(*job.Job) { wg.Done() })
	if err := j.StartChildren(nil); err != nil {
		t.Fatal(err)
	}
	wg.Wait()
	if j.State() != types.StateFinished || j.ExtendedState() != types.ExtendedSuccess {
		t.Fatalf("got state=%v ext=%v", j.State(), j.ExtendedState())
	}
}

func TestAllChildrenSucceedFinishesSuccess(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)
	j := job.New("job-2", job.Options{}, func(*job.Job) { wg.Done() })
	if err := j.StartChildren([]job.Child{{ID: "a"}, {ID: "b"}}); err != nil {
		t.Fatal(err)
	}
	if j.State() != types.StateInProgress {
		t.Fatalf("expected IN_PROGRESS, got %v", j.State())
	}

	j.ChildDone("a", types.ExtendedSuccess)
	if j.State() != types.StateInProgress {
		t.Fatal("job should still be in progress with one child outstanding")
	}
	j.ChildDone("b", types.ExtendedSuccess)

	wg.Wait()
	if j.ExtendedState() != types.ExtendedSuccess {
		t.Fatalf("expected SUCCESS, got %v", j.ExtendedState())
	}
}

func TestOneChildFailureFailsTheJob(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)
	j := job.New("job-3", job.Options{}, func(*job.Job) { wg.Done() })
	if err := j.StartChildren([]job.Child{{ID: "a"}, {ID: "b"}, {ID: "c"}}); err != nil {
		t.Fatal(err)
	}

	j.ChildDone("a", types.ExtendedSuccess)
	j.ChildDone("b", types.ExtendedServerBad)
	j.ChildDone("c", types.ExtendedSuccess)

	wg.Wait()
	if j.ExtendedState() != types.ExtendedServerBad {
		t.Fatalf("expected the first failing ExtendedState to win, got %v", j.ExtendedState())
	}
}

func TestCancelCancelsLiveChildrenAndFinishes(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)
	var cancelled []string
	var mu sync.Mutex

	j := job.New("job-4", job.Options{}, func(*job.Job) { wg.Done() })
	children := []job.Child{
		{ID: "a", Cancel: func() { mu.Lock(); cancelled = append(cancelled, "a"); mu.Unlock() }},
		{ID: "b", Cancel: func() { mu.Lock(); cancelled = append(cancelled, "b"); mu.Unlock() }},
	}
	if err := j.StartChildren(children); err != nil {
		t.Fatal(err)
	}

	j.Cancel()
	wg.Wait()

	if j.ExtendedState() != types.ExtendedCancelled {
		t.Fatalf("expected CANCELLED, got %v", j.ExtendedState())
	}
	mu.Lock()
	defer mu.Unlock()
	if len(cancelled) != 2 {
		t.Fatalf("expected both children cancelled, got %v", cancelled)
	}
}

func TestChildDoneAfterFinishIsIgnored(t *testing.T) {
	var calls int
	var wg sync.WaitGroup
	wg.Add(1)
	j := job.New("job-5", job.Options{}, func(*job.Job) { calls++; wg.Done() })
	if err := j.StartChildren([]job.Child{{ID: "a"}}); err != nil {
		t.Fatal(err)
	}
	j.ChildDone("a", types.ExtendedSuccess)
	wg.Wait()

	// A stray late report for a child already accounted for must not
	// re-trigger notification or corrupt the aggregate.
	j.ChildDone("a", types.ExtendedServerBad)
	if calls != 1 {
		t.Fatalf("expected exactly 1 notification, got %d", calls)
	}
	if j.ExtendedState() != types.ExtendedSuccess {
		t.Fatalf("expected SUCCESS to stick, got %v", j.ExtendedState())
	}
}

func TestStartChildrenTwiceErrors(t *testing.T) {
	j := job.New("job-6", job.Options{}, nil)
	if err := j.StartChildren([]job.Child{{ID: "a"}}); err != nil {
		t.Fatal(err)
	}
	if err := j.StartChildren([]job.Child{{ID: "b"}}); err == nil {
		t.Fatal("expected an error starting an already-started job")
	}
}

func TestPersistentLogData(t *testing.T) {
	j := job.New("job-7", job.Options{}, nil)
	j.Log("chunk", "7")
	j.Log("database", "gaia")
	got := j.PersistentLogData()
	if len(got) != 2 || got[0].Name != "chunk" || got[1].Value != "gaia" {
		t.Fatalf("unexpected log data: %+v", got)
	}
}
