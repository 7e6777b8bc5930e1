package ingest

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/cuemby/warren/pkg/config"
	"github.com/cuemby/warren/pkg/dbstore"
	"github.com/cuemby/warren/pkg/types"
)

// httpLoader hands a contribution's rows off to a worker's HTTP-based
// bulk loader (types.Worker.HTTPLoaderHost/Port) as newline-delimited
// POST bodies, one request per batch. It resolves the destination
// worker from a live Snapshot on every call so a worker's loader
// address can change without restarting the Manager.
type httpLoader struct {
	client   *http.Client
	snapshot *config.Snapshot
	store    dbstore.Store
}

// NewHTTPLoader builds a RowBatchLoader that POSTs each batch to the
// contribution's worker HTTP loader endpoint, resolved from snapshot,
// for the database its transaction (looked up in store) belongs to.
func NewHTTPLoader(store dbstore.Store, snapshot *config.Snapshot, client *http.Client) RowBatchLoader {
	if client == nil {
		client = &http.Client{}
	}
	return &httpLoader{client: client, snapshot: snapshot, store: store}
}

func (l *httpLoader) LoadBatch(ctx context.Context, c types.Contribution, rows [][]byte) error {
	w, ok := l.snapshot.Worker(c.Worker)
	if !ok {
		return types.NewError("ingest.httpLoader", types.KindConfig, fmt.Errorf("unknown worker %q", c.Worker))
	}
	if w.HTTPLoaderHost == "" {
		return types.NewError("ingest.httpLoader", types.KindConfig, fmt.Errorf("worker %q has no http loader configured", c.Worker))
	}
	tx, err := l.store.GetTransaction(ctx, c.TransactionID)
	if err != nil {
		return fmt.Errorf("ingest: httpLoader: %w", err)
	}

	var body bytes.Buffer
	for _, row := range rows {
		body.Write(row)
		body.WriteByte('\n')
	}

	url := fmt.Sprintf("http://%s:%d/ingest/chunk?database=%s&table=%s&chunk=%d&transaction_id=%d&overlap=%t",
		w.HTTPLoaderHost, w.HTTPLoaderPort, tx.Database, c.Table, c.Chunk, c.TransactionID, c.IsOverlap)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return types.NewError("ingest.httpLoader", types.KindTransport, err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := l.client.Do(req)
	if err != nil {
		return types.NewError("ingest.httpLoader", types.KindTransport, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return types.NewError("ingest.httpLoader", types.KindTransport,
			fmt.Errorf("worker %q http loader returned %s", c.Worker, resp.Status))
	}
	return nil
}
