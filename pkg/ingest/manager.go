package ingest

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cuemby/warren/pkg/config"
	"github.com/cuemby/warren/pkg/dbstore"
	"github.com/cuemby/warren/pkg/idutil"
	"github.com/cuemby/warren/pkg/log"
	"github.com/cuemby/warren/pkg/types"
)

// Config configures a new Manager.
type Config struct {
	Store    dbstore.Store
	Snapshot *config.Snapshot
	Readers  map[string]URLReader // scheme -> reader; DefaultReaders() if nil
	Loader   RowBatchLoader

	BatchSize    int // rows per LoadBatch call and cancellation safe point
	Backoff      BackoffConfig
	Concurrency  int // goroutines per destination worker's ASYNC pool
	Queue        int // per-worker pending-item buffer
	PullInterval time.Duration

	Clock idutil.Clock
}

// Manager is IngestRequestManager (spec §4.8): admits, executes (SYNC)
// or enqueues (ASYNC) table-contribution requests, and tracks
// in-flight contributions so they can be cancelled individually or by
// transaction.
type Manager struct {
	store    dbstore.Store
	snapshot *config.Snapshot
	readers  map[string]URLReader
	loader   RowBatchLoader

	batchSize    int
	backoff      backoffCounter
	concurrency  int
	queue        int
	pullInterval time.Duration
	clock        idutil.Clock

	mu      sync.Mutex
	pools   map[string]*workerPool
	cancels map[uint64]context.CancelFunc
}

// NewManager builds a Manager from cfg, applying conservative defaults
// for any zero-valued tuning fields.
func NewManager(cfg Config) *Manager {
	readers := cfg.Readers
	if readers == nil {
		readers = DefaultReaders()
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 1000
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	queue := cfg.Queue
	if queue <= 0 {
		queue = 16
	}
	pullInterval := cfg.PullInterval
	if pullInterval <= 0 {
		pullInterval = 500 * time.Millisecond
	}
	clock := cfg.Clock
	if clock == nil {
		clock = idutil.RealClock{}
	}
	backoff := cfg.Backoff
	if backoff.MaxRetries == 0 && backoff.InitialInterval == 0 {
		backoff = DefaultBackoff()
	}

	return &Manager{
		store:        cfg.Store,
		snapshot:     cfg.Snapshot,
		readers:      readers,
		loader:       cfg.Loader,
		batchSize:    batchSize,
		backoff:      backoffCounter{backoff},
		concurrency:  concurrency,
		queue:        queue,
		pullInterval: pullInterval,
		clock:        clock,
		pools:        make(map[string]*workerPool),
		cancels:      make(map[uint64]context.CancelFunc),
	}
}

// readerFor resolves rawURL's scheme against the reader table.
func (m *Manager) readerFor(rawURL string) (URLReader, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, false
	}
	r, ok := m.readers[u.Scheme]
	return r, ok
}

// admit enforces the admission checks of spec §4.8: the contribution's
// transaction must be STARTED, its destination worker enabled, its
// table registered on that transaction's database, and its URL scheme
// supported.
func (m *Manager) admit(ctx context.Context, c types.Contribution) (types.Transaction, error) {
	tx, err := m.store.GetTransaction(ctx, c.TransactionID)
	if err != nil {
		return types.Transaction{}, fmt.Errorf("ingest: admit: %w", err)
	}
	if tx.State != types.TransactionStarted {
		return tx, types.NewError("ingest.admit", types.KindConfig, ErrTransactionNotStarted)
	}
	if _, ok := m.readerFor(c.URL); !ok {
		return tx, types.NewError("ingest.admit", types.KindConfig, ErrUnsupportedScheme)
	}
	w, ok := m.snapshot.Worker(c.Worker)
	if !ok || !w.Enabled {
		return tx, types.NewError("ingest.admit", types.KindConfig, ErrUnknownWorker)
	}
	registered := false
	for _, t := range m.snapshot.Tables(tx.Database) {
		if t.Name == c.Table {
			registered = true
			break
		}
	}
	if !registered {
		return tx, types.NewError("ingest.admit", types.KindConfig, ErrTableNotRegistered)
	}
	return tx, nil
}

// SubmitSync admits input and runs its pipeline to completion on the
// calling goroutine, returning the terminal Contribution.
func (m *Manager) SubmitSync(ctx context.Context, input types.Contribution) (types.Contribution, error) {
	if _, err := m.admit(ctx, input); err != nil {
		return types.Contribution{}, err
	}
	input.Status = types.ContributionInProgress
	c, err := m.store.CreateContribution(ctx, input)
	if err != nil {
		return types.Contribution{}, fmt.Errorf("ingest: create contribution: %w", err)
	}

	m.executeWithRetry(ctx, &c)

	if err := m.store.UpdateContribution(context.Background(), c); err != nil {
		log.Errorf("ingest: persisting terminal contribution state failed", err)
	}
	return c, nil
}

// SubmitAsync admits input, persists it with start_ms = 0 (the
// unclaimed marker ClaimNextContribution looks for), and returns
// immediately: it is picked up by the destination worker's pool.
func (m *Manager) SubmitAsync(ctx context.Context, input types.Contribution) (types.Contribution, error) {
	if _, err := m.admit(ctx, input); err != nil {
		return types.Contribution{}, err
	}
	input.Status = types.ContributionInProgress
	input.StartMs = 0
	c, err := m.store.CreateContribution(ctx, input)
	if err != nil {
		return types.Contribution{}, fmt.Errorf("ingest: create contribution: %w", err)
	}
	m.ensurePool(c.Worker)
	return c, nil
}

// ensurePool lazily creates and starts worker's ASYNC pool.
func (m *Manager) ensurePool(worker string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pools[worker]; ok {
		return
	}
	p := newWorkerPool(worker, m.concurrency, m.queue, m.pullInterval,
		func(ctx context.Context) (workItem, bool, error) {
			c, ok, err := m.store.ClaimNextContribution(ctx, worker)
			return c, ok, err
		},
		m.handle,
	)
	m.pools[worker] = p
	p.start(context.Background())
}

// Start launches one ASYNC pool per enabled worker in the
// configuration snapshot, so already-queued contributions resume
// being drained immediately.
func (m *Manager) Start() {
	for _, w := range m.snapshot.Workers() {
		if w.Enabled {
			m.ensurePool(w.Name)
		}
	}
}

// Stop drains and stops every ASYNC pool.
func (m *Manager) Stop() {
	m.mu.Lock()
	pools := make([]*workerPool, 0, len(m.pools))
	for _, p := range m.pools {
		pools = append(pools, p)
	}
	m.mu.Unlock()
	for _, p := range pools {
		p.stop()
	}
}

// handle is the ASYNC pool's per-item entry point.
func (m *Manager) handle(ctx context.Context, c workItem) {
	m.executeWithRetry(ctx, &c)
	if err := m.store.UpdateContribution(context.Background(), c); err != nil {
		log.Errorf("ingest: persisting terminal contribution state failed", err)
	}
}

// executeWithRetry runs c's pipeline, and on READ_FAILED with
// remaining retry budget, waits out the backoff schedule and
// re-attempts — satisfying "a contribution that fails during read
// re-initializes and re-enters the queue" inline, since Contribution
// carries no separate next-attempt timestamp to requeue it through the
// store (see DESIGN.md's Open Question decision on this). Cancellation
// is only honored between attempts and at pipeline batch boundaries;
// LOAD_FAILED is always terminal.
func (m *Manager) executeWithRetry(ctx context.Context, c *types.Contribution) {
	runCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancels[c.ID] = cancel
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.cancels, c.ID)
		m.mu.Unlock()
		cancel()
	}()

	for {
		perf := idutil.NewPerfCounters(m.clock)
		if c.StartMs != 0 {
			perf.StartMs = c.StartMs
		} else {
			perf.MarkStart()
			c.StartMs = perf.StartMs
		}

		m.runPipeline(runCtx, c, perf)
		c.ReadMs = perf.ReadMs
		c.LoadMs = perf.LoadMs

		if c.Status != types.ContributionReadFailed {
			return
		}

		c.Retries++
		delay, ok := m.backoff.next(uint32(c.Retries))
		if !ok {
			c.Status = types.ContributionLoadFailed
			c.LastError = "ingest: retry budget exhausted: " + c.LastError
			return
		}
		c.Warnings = append(c.Warnings, fmt.Sprintf("retry %d after read failure: %s", c.Retries, c.LastError))

		select {
		case <-runCtx.Done():
			c.Status = types.ContributionCancelled
			c.LastError = runCtx.Err().Error()
			return
		case <-time.After(delay):
		}
		c.StartMs = 0
	}
}

// Cancel cancels the in-flight contribution identified by id, if it is
// currently executing. It reports whether a matching contribution was
// found.
func (m *Manager) Cancel(id uint64) bool {
	m.mu.Lock()
	cancel, ok := m.cancels[id]
	m.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// CancelTransaction cancels every non-terminal contribution of
// transactionID: in-flight ones via Cancel, and still-queued ones
// (never claimed) by marking them CANCELLED directly in the store.
func (m *Manager) CancelTransaction(ctx context.Context, transactionID uint32) error {
	contributions, err := m.store.ListContributions(ctx, dbstore.ContributionFilter{TransactionID: transactionID})
	if err != nil {
		return fmt.Errorf("ingest: cancel transaction %d: %w", transactionID, err)
	}
	for _, c := range contributions {
		if c.Status.IsTerminal() {
			continue
		}
		if m.Cancel(c.ID) {
			continue
		}
		c.Status = types.ContributionCancelled
		if err := m.store.UpdateContribution(ctx, c); err != nil {
			return fmt.Errorf("ingest: cancel transaction %d: contribution %d: %w", transactionID, c.ID, err)
		}
	}
	return nil
}
