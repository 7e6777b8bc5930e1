package dbstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/warren/pkg/dbstore"
	"github.com/cuemby/warren/pkg/types"
)

func newTestStore(t *testing.T) *dbstore.SQLiteStore {
	t.Helper()
	store, err := dbstore.Open("file::memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()
	if err := dbstore.InitSchema(ctx, store.DB()); err != nil {
		t.Fatal(err)
	}
	return store
}

func TestSaveAndGetJob(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job := dbstore.JobState{
		ID:            "job-1",
		Type:          "REPLICATE",
		ControllerID:  "ctrl-1",
		State:         types.StateInProgress,
		ExtendedState: types.ExtendedNone,
		Priority:      5,
		BeginTime:     time.Now().UTC(),
		HeartbeatTime: time.Now().UTC(),
	}
	if err := store.SaveJobState(ctx, job); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Type != "REPLICATE" || got.Priority != 5 {
		t.Fatalf("unexpected job: %+v", got)
	}

	job.State = types.StateFinished
	job.ExtendedState = types.ExtendedSuccess
	if err := store.SaveJobState(ctx, job); err != nil {
		t.Fatal(err)
	}
	got, err = store.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.State != types.StateFinished {
		t.Fatalf("expected FINISHED, got %v", got.State)
	}
}

func TestGetJobNotFound(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.GetJob(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for missing job")
	}
}

func TestReplicaInfoCollectionReplacesSet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	initial := []types.ReplicaInfo{
		{Worker: "w1", Database: "db1", Chunk: 1, Status: types.ReplicaComplete, VerifyTime: time.Now().UTC()},
		{Worker: "w1", Database: "db1", Chunk: 2, Status: types.ReplicaComplete, VerifyTime: time.Now().UTC()},
	}
	if err := store.SaveReplicaInfoCollection(ctx, "w1", "db1", initial); err != nil {
		t.Fatal(err)
	}

	got, err := store.FindWorkerReplicas(ctx, "w1", "db1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 replicas, got %d", len(got))
	}

	// Re-report without chunk 2: it must be dropped.
	refreshed := []types.ReplicaInfo{
		{Worker: "w1", Database: "db1", Chunk: 1, Status: types.ReplicaComplete, VerifyTime: time.Now().UTC()},
	}
	if err := store.SaveReplicaInfoCollection(ctx, "w1", "db1", refreshed); err != nil {
		t.Fatal(err)
	}
	got, err = store.FindWorkerReplicas(ctx, "w1", "db1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Chunk != 1 {
		t.Fatalf("expected only chunk 1 to remain, got %+v", got)
	}
}

func TestTransactionStateCAS(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tx, err := store.CreateTransaction(ctx, types.Transaction{
		Database:  "db1",
		State:     types.TransactionIsStarting,
		BeginTime: time.Now().UTC(),
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := store.UpdateTransactionState(ctx, tx.ID, types.TransactionIsStarting, types.TransactionStarted); err != nil {
		t.Fatal(err)
	}

	// Wrong "from" state must fail with a conflict, not silently succeed.
	if _, err := store.UpdateTransactionState(ctx, tx.ID, types.TransactionIsStarting, types.TransactionFinished); err == nil {
		t.Fatal("expected optimistic conflict on stale from-state")
	}

	got, err := store.GetTransaction(ctx, tx.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != types.TransactionStarted {
		t.Fatalf("expected STARTED, got %v", got.State)
	}
}

func TestClaimNextContribution(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tx, err := store.CreateTransaction(ctx, types.Transaction{
		Database:  "db1",
		State:     types.TransactionStarted,
		BeginTime: time.Now().UTC(),
	})
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		_, err := store.CreateContribution(ctx, types.Contribution{
			TransactionID: tx.ID,
			Worker:        "w1",
			Table:         "Object",
			Chunk:         uint32(i),
			URL:           "file:///tmp/part.csv",
			Status:        types.ContributionInProgress,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	seen := map[uint32]bool{}
	for i := 0; i < 3; i++ {
		c, ok, err := store.ClaimNextContribution(ctx, "w1")
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Fatalf("expected a claimable contribution on iteration %d", i)
		}
		if seen[c.Chunk] {
			t.Fatalf("chunk %d claimed twice", c.Chunk)
		}
		seen[c.Chunk] = true
	}

	if _, ok, err := store.ClaimNextContribution(ctx, "w1"); err != nil {
		t.Fatal(err)
	} else if ok {
		t.Fatal("expected no further claimable contributions")
	}
}

func TestRecordMessage(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.RecordMessage(ctx, "w1", "req-1", "outbound", []byte{0x01, 0x02}); err != nil {
		t.Fatal(err)
	}
}
