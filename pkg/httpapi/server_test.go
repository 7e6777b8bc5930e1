package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/cuemby/warren/pkg/config"
	"github.com/cuemby/warren/pkg/controller"
	"github.com/cuemby/warren/pkg/dbstore"
	"github.com/cuemby/warren/pkg/httpapi"
	"github.com/cuemby/warren/pkg/ingest"
	"github.com/cuemby/warren/pkg/types"
)

// fakeStore implements dbstore.Store by embedding the interface and
// overriding only what the tested routes exercise.
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

func (s *fakeStore) SaveJobState(_ context.Context, _ dbstore.JobState) error {
	return nil
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

func (s *fakeStore) CreateTransaction(_ context.Context, tx types.Transaction) (types.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	tx.ID = uint32(s.nextID)
	s.transactions[tx.ID] = tx
	return tx, nil
}

func (s *fakeStore) UpdateTransactionState(_ context.Context, id uint32, from, to types.TransactionState) (types.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.transactions[id]
	if !ok {
		return types.Transaction{}, types.NewError("UpdateTransactionState", types.KindStore, types.ErrNotFound)
	}
	if tx.State != from {
		return types.Transaction{}, types.NewError("UpdateTransactionState", types.KindStore, types.ErrOptimisticConflict)
	}
	tx.State = to
	s.transactions[id] = tx
	return tx, nil
}

func (s *fakeStore) ListTransactions(_ context.Context, f dbstore.TransactionFilter) ([]types.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Transaction
	for _, tx := range s.transactions {
		if f.Database != "" && tx.Database != f.Database {
			continue
		}
		if !f.AnyState && tx.State != f.State {
			continue
		}
		out = append(out, tx)
	}
	return out, nil
}

func (s *fakeStore) CountGoodReplicas(_ context.Context, _ string, _ []string) (map[uint32]int, error) {
	return map[uint32]int{1: 2, 2: 1}, nil
}

func (s *fakeStore) FindReplicas(_ context.Context, _ string, _ uint32) ([]types.ReplicaInfo, error) {
	return nil, nil
}

func (s *fakeStore) FindWorkerReplicas(_ context.Context, _, _ string) ([]types.ReplicaInfo, error) {
	return nil, nil
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

// fakeReader serves fixed content regardless of the requested URL.
type fakeReader struct{ content []byte }

func (f fakeReader) Open(_ context.Context, _ string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.content)), nil
}

// fakeLoader accepts every batch handed to it.
type fakeLoader struct {
	mu   sync.Mutex
	rows int
}

func (f *fakeLoader) LoadBatch(_ context.Context, _ types.Contribution, rows [][]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows += len(rows)
	return nil
}

func newTestSnapshot(t *testing.T) *config.Snapshot {
	t.Helper()
	snap := config.New(config.Schema{})
	if err := snap.AddWorker(types.Worker{Name: "w1", Enabled: true}); err != nil {
		t.Fatal(err)
	}
	if err := snap.AddDatabaseFamily(types.DatabaseFamily{Name: "fam", MinReplicas: 1, MaxReplicas: 3}); err != nil {
		t.Fatal(err)
	}
	if err := snap.AddDatabase(types.Database{Name: "db", FamilyName: "fam"}); err != nil {
		t.Fatal(err)
	}
	if err := snap.AddTable(types.Table{Name: "tbl", DatabaseName: "db"}); err != nil {
		t.Fatal(err)
	}
	return snap
}

func newTestServer(t *testing.T, store *fakeStore) (*httptest.Server, *httpapi.Server) {
	t.Helper()
	snap := newTestSnapshot(t)
	ctrl, err := controller.New(controller.Config{Store: store, Snapshot: snap})
	if err != nil {
		t.Fatal(err)
	}

	mgr := ingest.NewManager(ingest.Config{
		Store:    store,
		Snapshot: snap,
		Readers:  map[string]ingest.URLReader{"mem": fakeReader{content: []byte("1,2\n3,4\n")}},
		Loader:   &fakeLoader{},
	})

	srv := httpapi.NewServer(httpapi.Config{
		Controller: ctrl,
		Ingest:     mgr,
		AuthKey:    "worker-key",
		AdminKey:   "admin-key",
	})
	return httptest.NewServer(srv.Handler()), srv
}

func decodeEnvelope(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}

func TestClusterHealthRouteIsPublicAndSucceeds(t *testing.T) {
	ts, _ := newTestServer(t, newFakeStore())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/replication/health", "application/json", bytes.NewReader(nil))
	if err != nil {
		t.Fatal(err)
	}
	body := decodeEnvelope(t, resp)
	if body["success"] != float64(1) {
		t.Fatalf("expected success, got %v", body)
	}
	if _, ok := body["job"]; !ok {
		t.Fatalf("expected job field in response, got %v", body)
	}
}

func TestReplicationRouteRequiresAdminKey(t *testing.T) {
	ts, _ := newTestServer(t, newFakeStore())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/replication/replicate", "application/json", bytes.NewReader([]byte(`{"database":"db","chunks":[1]}`)))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without auth key, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/replication/replicate", bytes.NewReader([]byte(`{"database":"db","chunks":[1]}`)))
	req.Header.Set("X-Auth-Key", "worker-key")
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp2.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 with non-admin key on an ADMIN route, got %d", resp2.StatusCode)
	}

	req3, _ := http.NewRequest(http.MethodPost, ts.URL+"/replication/replicate", bytes.NewReader([]byte(`{"database":"db","chunks":[1]}`)))
	req3.Header.Set("X-Auth-Key", "admin-key")
	resp3, err := http.DefaultClient.Do(req3)
	if err != nil {
		t.Fatal(err)
	}
	body := decodeEnvelope(t, resp3)
	if body["success"] != float64(1) {
		t.Fatalf("expected admin-keyed request to succeed, got %v", body)
	}
}

func TestIngestFileRouteSyncSuccess(t *testing.T) {
	store := newFakeStore()
	store.transactions[1] = types.Transaction{ID: 1, Database: "db", State: types.TransactionStarted}
	ts, _ := newTestServer(t, store)
	defer ts.Close()

	payload := []byte(`{
		"transaction_id": 1, "table": "tbl", "chunk": 1, "worker": "w1",
		"url": "mem://data.csv",
		"fields_terminated_by": ",", "lines_terminated_by": "\n"
	}`)
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/ingest/file", bytes.NewReader(payload))
	req.Header.Set("X-Auth-Key", "worker-key")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		body := decodeEnvelope(t, resp)
		t.Fatalf("expected 200, got %d: %v", resp.StatusCode, body)
	}
}

func TestJobStatusRouteReportsUnknownID(t *testing.T) {
	ts, _ := newTestServer(t, newFakeStore())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/replication/jobs/does-not-exist")
	if err != nil {
		t.Fatal(err)
	}
	body := decodeEnvelope(t, resp)
	if body["success"] != float64(0) {
		t.Fatalf("expected failure envelope for unknown job id, got %v", body)
	}
}

// TestTransactionLifecycleRoutes exercises the create -> get -> finish
// sequence a real ingest caller needs before any /ingest/file route
// will admit a contribution against the new transaction.
func TestTransactionLifecycleRoutes(t *testing.T) {
	store := newFakeStore()
	ts, _ := newTestServer(t, store)
	defer ts.Close()

	createResp, err := http.Post(ts.URL+"/ingest/trans", "application/json", bytes.NewReader([]byte(`{"database":"db"}`)))
	if err != nil {
		t.Fatal(err)
	}
	created := decodeEnvelope(t, createResp)
	if created["success"] != float64(1) {
		t.Fatalf("expected successful create, got %v", created)
	}
	trans, ok := created["trans"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected a trans object, got %v", created)
	}
	if trans["state"] != string(types.TransactionStarted) {
		t.Fatalf("expected a freshly created transaction to be STARTED, got %v", trans["state"])
	}
	id := trans["id"].(float64)

	getResp, err := http.Get(fmt.Sprintf("%s/ingest/trans/%d", ts.URL, int(id)))
	if err != nil {
		t.Fatal(err)
	}
	got := decodeEnvelope(t, getResp)
	if got["success"] != float64(1) {
		t.Fatalf("expected successful get, got %v", got)
	}

	finishReq, _ := http.NewRequest(http.MethodPut, fmt.Sprintf("%s/ingest/trans/%d", ts.URL, int(id)), bytes.NewReader([]byte(`{"action":"finish"}`)))
	finishReq.Header.Set("X-Auth-Key", "worker-key")
	finishResp, err := http.DefaultClient.Do(finishReq)
	if err != nil {
		t.Fatal(err)
	}
	finished := decodeEnvelope(t, finishResp)
	if finished["success"] != float64(1) {
		t.Fatalf("expected successful finish, got %v", finished)
	}
	finishedTrans := finished["trans"].(map[string]interface{})
	if finishedTrans["state"] != string(types.TransactionFinished) {
		t.Fatalf("expected FINISHED after finish, got %v", finishedTrans["state"])
	}
}

func TestIngestChunksRoute(t *testing.T) {
	ts, _ := newTestServer(t, newFakeStore())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/ingest/chunks?database=db")
	if err != nil {
		t.Fatal(err)
	}
	body := decodeEnvelope(t, resp)
	if body["success"] != float64(1) {
		t.Fatalf("expected success, got %v", body)
	}
	if _, ok := body["chunks"]; !ok {
		t.Fatalf("expected a chunks field, got %v", body)
	}
}

func TestQservAndRebalanceRoutesAreReachable(t *testing.T) {
	ts, _ := newTestServer(t, newFakeStore())
	defer ts.Close()

	syncReq, _ := http.NewRequest(http.MethodPost, ts.URL+"/qserv/sync", bytes.NewReader([]byte(`{"database":"db"}`)))
	syncReq.Header.Set("X-Auth-Key", "admin-key")
	syncResp, err := http.DefaultClient.Do(syncReq)
	if err != nil {
		t.Fatal(err)
	}
	syncBody := decodeEnvelope(t, syncResp)
	if syncBody["success"] != float64(1) {
		t.Fatalf("expected qserv sync to be accepted, got %v", syncBody)
	}

	statusReq, _ := http.NewRequest(http.MethodPost, ts.URL+"/qserv/status", bytes.NewReader([]byte(`{}`)))
	statusReq.Header.Set("X-Auth-Key", "worker-key")
	statusResp, err := http.DefaultClient.Do(statusReq)
	if err != nil {
		t.Fatal(err)
	}
	statusBody := decodeEnvelope(t, statusResp)
	if statusBody["success"] != float64(1) {
		t.Fatalf("expected qserv status to be accepted, got %v", statusBody)
	}
	job := statusBody["job"].(map[string]interface{})
	resultResp, err := http.Get(fmt.Sprintf("%s/qserv/status/%s", ts.URL, job["id"]))
	if err != nil {
		t.Fatal(err)
	}
	resultBody := decodeEnvelope(t, resultResp)
	if resultBody["success"] != float64(1) {
		t.Fatalf("expected qserv status results to be readable, got %v", resultBody)
	}

	rebalanceReq, _ := http.NewRequest(http.MethodPost, ts.URL+"/replication/rebalance", bytes.NewReader([]byte(`{"database":"db","max_moves":1}`)))
	rebalanceReq.Header.Set("X-Auth-Key", "admin-key")
	rebalanceResp, err := http.DefaultClient.Do(rebalanceReq)
	if err != nil {
		t.Fatal(err)
	}
	rebalanceBody := decodeEnvelope(t, rebalanceResp)
	if rebalanceBody["success"] != float64(1) {
		t.Fatalf("expected rebalance to be accepted, got %v", rebalanceBody)
	}
}
