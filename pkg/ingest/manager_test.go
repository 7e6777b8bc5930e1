package ingest_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/warren/pkg/config"
	"github.com/cuemby/warren/pkg/dbstore"
	"github.com/cuemby/warren/pkg/ingest"
	"github.com/cuemby/warren/pkg/types"
)

// fakeStore implements dbstore.Store by embedding the interface and
// overriding only what ingest exercises.
type fakeStore struct {
	dbstore.Store

	mu            sync.Mutex
	transactions  map[uint32]types.Transaction
	contributions map[uint64]types.Contribution
	nextID        uint64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		transactions:  make(map[uint32]types.Transaction),
		contributions: make(map[uint64]types.Contribution),
	}
}

func (s *fakeStore) GetTransaction(_ context.Context, id uint32) (types.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.transactions[id]
	if !ok {
		return types.Transaction{}, types.NewError("GetTransaction", types.KindStore, types.ErrNotFound)
	}
	return tx, nil
}

func (s *fakeStore) CreateContribution(_ context.Context, c types.Contribution) (types.Contribution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	c.ID = s.nextID
	s.contributions[c.ID] = c
	return c, nil
}

func (s *fakeStore) UpdateContribution(_ context.Context, c types.Contribution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contributions[c.ID] = c
	return nil
}

func (s *fakeStore) GetContribution(_ context.Context, id uint64) (types.Contribution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contributions[id]
	if !ok {
		return types.Contribution{}, types.NewError("GetContribution", types.KindStore, types.ErrNotFound)
	}
	return c, nil
}

func (s *fakeStore) ClaimNextContribution(_ context.Context, worker string) (types.Contribution, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *types.Contribution
	for id, c := range s.contributions {
		if c.Worker != worker || c.Status != types.ContributionInProgress || c.StartMs != 0 {
			continue
		}
		cp := c
		if best == nil || cp.ID < best.ID {
			best = &cp
			_ = id
		}
	}
	if best == nil {
		return types.Contribution{}, false, nil
	}
	best.StartMs = 1
	s.contributions[best.ID] = *best
	return *best, true, nil
}

func (s *fakeStore) ListContributions(_ context.Context, f dbstore.ContributionFilter) ([]types.Contribution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Contribution
	for _, c := range s.contributions {
		if f.TransactionID != 0 && c.TransactionID != f.TransactionID {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// fakeReader serves fixed content for a scheme, optionally failing the
// first failCount opens.
type fakeReader struct {
	mu        sync.Mutex
	content   []byte
	failCount int
	opens     int
}

func (f *fakeReader) Open(_ context.Context, _ string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	if f.opens <= f.failCount {
		return nil, errors.New("transient read error")
	}
	return io.NopCloser(bytes.NewReader(f.content)), nil
}

// fakeLoader records every batch it is handed.
type fakeLoader struct {
	mu      sync.Mutex
	batches [][][]byte
	fail    bool
}

func (f *fakeLoader) LoadBatch(_ context.Context, _ types.Contribution, rows [][]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("destination rejected batch")
	}
	cp := make([][]byte, len(rows))
	copy(cp, rows)
	f.batches = append(f.batches, cp)
	return nil
}

func (f *fakeLoader) rowCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

func newTestSnapshot(t *testing.T, worker, database, table string) *config.Snapshot {
	t.Helper()
	snap := config.New(config.Schema{})
	if err := snap.AddWorker(types.Worker{Name: worker, Enabled: true}); err != nil {
		t.Fatal(err)
	}
	if err := snap.AddDatabaseFamily(types.DatabaseFamily{Name: "fam", MinReplicas: 1, MaxReplicas: 3}); err != nil {
		t.Fatal(err)
	}
	if err := snap.AddDatabase(types.Database{Name: database, FamilyName: "fam"}); err != nil {
		t.Fatal(err)
	}
	if err := snap.AddTable(types.Table{Name: table, DatabaseName: database}); err != nil {
		t.Fatal(err)
	}
	return snap
}

func dialectInput() types.CsvDialectInput {
	return types.CsvDialectInput{
		FieldsTerminatedBy: `\t`,
		FieldsEnclosedBy:   `\0`,
		FieldsEscapedBy:    `\\`,
		LinesTerminatedBy:  `\n`,
	}
}

func TestSubmitSyncSuccess(t *testing.T) {
	store := newFakeStore()
	store.transactions[1] = types.Transaction{ID: 1, Database: "gaia", State: types.TransactionStarted}
	snap := newTestSnapshot(t, "w1", "gaia", "sources")

	reader := &fakeReader{content: []byte("a\tb\nc\td\n")}
	loader := &fakeLoader{}
	mgr := ingest.NewManager(ingest.Config{
		Store:    store,
		Snapshot: snap,
		Readers:  map[string]ingest.URLReader{"mem": reader},
		Loader:   loader,
	})

	c, err := mgr.SubmitSync(context.Background(), types.Contribution{
		TransactionID: 1, Worker: "w1", Table: "sources", URL: "mem://data", Dialect: dialectInput(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if c.Status != types.ContributionFinished {
		t.Fatalf("expected FINISHED, got %v (%s)", c.Status, c.LastError)
	}
	if loader.rowCount() != 2 {
		t.Fatalf("expected 2 rows loaded, got %d", loader.rowCount())
	}
}

func TestSubmitRejectsTransactionNotStarted(t *testing.T) {
	store := newFakeStore()
	store.transactions[1] = types.Transaction{ID: 1, Database: "gaia", State: types.TransactionIsStarting}
	snap := newTestSnapshot(t, "w1", "gaia", "sources")

	mgr := ingest.NewManager(ingest.Config{
		Store:    store,
		Snapshot: snap,
		Readers:  map[string]ingest.URLReader{"mem": &fakeReader{}},
		Loader:   &fakeLoader{},
	})

	_, err := mgr.SubmitSync(context.Background(), types.Contribution{
		TransactionID: 1, Worker: "w1", Table: "sources", URL: "mem://data", Dialect: dialectInput(),
	})
	if types.Kind(err) != types.KindConfig {
		t.Fatalf("expected a KindConfig admission rejection, got %v", err)
	}
}

func TestSubmitRejectsUnsupportedScheme(t *testing.T) {
	store := newFakeStore()
	store.transactions[1] = types.Transaction{ID: 1, Database: "gaia", State: types.TransactionStarted}
	snap := newTestSnapshot(t, "w1", "gaia", "sources")

	mgr := ingest.NewManager(ingest.Config{
		Store:    store,
		Snapshot: snap,
		Readers:  map[string]ingest.URLReader{"mem": &fakeReader{}},
		Loader:   &fakeLoader{},
	})

	_, err := mgr.SubmitSync(context.Background(), types.Contribution{
		TransactionID: 1, Worker: "w1", Table: "sources", URL: "ftp://data", Dialect: dialectInput(),
	})
	if types.Kind(err) != types.KindConfig {
		t.Fatalf("expected a KindConfig admission rejection for an unsupported scheme, got %v", err)
	}
}

func TestSubmitSyncRetriesReadFailureThenSucceeds(t *testing.T) {
	store := newFakeStore()
	store.transactions[1] = types.Transaction{ID: 1, Database: "gaia", State: types.TransactionStarted}
	snap := newTestSnapshot(t, "w1", "gaia", "sources")

	reader := &fakeReader{content: []byte("a\tb\n"), failCount: 2}
	loader := &fakeLoader{}
	mgr := ingest.NewManager(ingest.Config{
		Store:    store,
		Snapshot: snap,
		Readers:  map[string]ingest.URLReader{"mem": reader},
		Loader:   loader,
		Backoff: ingest.BackoffConfig{
			MaxRetries:      5,
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
			Multiplier:      1,
		},
	})

	c, err := mgr.SubmitSync(context.Background(), types.Contribution{
		TransactionID: 1, Worker: "w1", Table: "sources", URL: "mem://data", Dialect: dialectInput(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if c.Status != types.ContributionFinished {
		t.Fatalf("expected FINISHED after retries, got %v (%s)", c.Status, c.LastError)
	}
	if c.Retries != 2 {
		t.Fatalf("expected 2 retries, got %d", c.Retries)
	}
}

func TestSubmitSyncExhaustsRetryBudget(t *testing.T) {
	store := newFakeStore()
	store.transactions[1] = types.Transaction{ID: 1, Database: "gaia", State: types.TransactionStarted}
	snap := newTestSnapshot(t, "w1", "gaia", "sources")

	reader := &fakeReader{content: []byte("a\tb\n"), failCount: 100}
	mgr := ingest.NewManager(ingest.Config{
		Store:    store,
		Snapshot: snap,
		Readers:  map[string]ingest.URLReader{"mem": reader},
		Loader:   &fakeLoader{},
		Backoff: ingest.BackoffConfig{
			MaxRetries:      2,
			InitialInterval: time.Millisecond,
			MaxInterval:     2 * time.Millisecond,
			Multiplier:      1,
		},
	})

	c, err := mgr.SubmitSync(context.Background(), types.Contribution{
		TransactionID: 1, Worker: "w1", Table: "sources", URL: "mem://data", Dialect: dialectInput(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if c.Status != types.ContributionLoadFailed {
		t.Fatalf("expected LOAD_FAILED once the retry budget is exhausted, got %v", c.Status)
	}
}

func TestSubmitAsyncProcessedByWorkerPool(t *testing.T) {
	store := newFakeStore()
	store.transactions[1] = types.Transaction{ID: 1, Database: "gaia", State: types.TransactionStarted}
	snap := newTestSnapshot(t, "w1", "gaia", "sources")

	reader := &fakeReader{content: []byte("a\tb\nc\td\n")}
	loader := &fakeLoader{}
	mgr := ingest.NewManager(ingest.Config{
		Store:        store,
		Snapshot:     snap,
		Readers:      map[string]ingest.URLReader{"mem": reader},
		Loader:       loader,
		PullInterval: 2 * time.Millisecond,
		Concurrency:  1,
	})
	mgr.Start()
	defer mgr.Stop()

	c, err := mgr.SubmitAsync(context.Background(), types.Contribution{
		TransactionID: 1, Worker: "w1", Table: "sources", URL: "mem://data", Dialect: dialectInput(),
	})
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.After(2 * time.Second)
	for {
		store.mu.Lock()
		got := store.contributions[c.ID]
		store.mu.Unlock()
		if got.Status == types.ContributionFinished {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("contribution never reached FINISHED, last status %v", got.Status)
		case <-time.After(2 * time.Millisecond):
		}
	}
	if loader.rowCount() != 2 {
		t.Fatalf("expected 2 rows loaded, got %d", loader.rowCount())
	}
}

func TestCancelTransactionMarksQueuedContributionCancelled(t *testing.T) {
	store := newFakeStore()
	store.transactions[1] = types.Transaction{ID: 1, Database: "gaia", State: types.TransactionStarted}
	snap := newTestSnapshot(t, "w1", "gaia", "sources")

	mgr := ingest.NewManager(ingest.Config{
		Store:    store,
		Snapshot: snap,
		Readers:  map[string]ingest.URLReader{"mem": &fakeReader{content: []byte("a\tb\n")}},
		Loader:   &fakeLoader{},
	})

	c, err := mgr.SubmitAsync(context.Background(), types.Contribution{
		TransactionID: 1, Worker: "w1", Table: "sources", URL: "mem://data", Dialect: dialectInput(),
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := mgr.CancelTransaction(context.Background(), 1); err != nil {
		t.Fatal(err)
	}

	store.mu.Lock()
	got := store.contributions[c.ID]
	store.mu.Unlock()
	if got.Status != types.ContributionCancelled {
		t.Fatalf("expected CANCELLED, got %v", got.Status)
	}
}
