// Package ingest implements IngestRequestManager (spec §4.8): the
// admission, read-parse-load pipeline, and SYNC/ASYNC execution modes
// for table-contribution requests. ASYNC contributions are persisted
// through dbstore and pulled by a bounded per-worker pool, grounded on
// RomanQed/gqs's Worker/Puller/BackoffConfig shape; the pipeline itself
// reads a source URL, splits it with pkg/csv, and hands row batches to
// a RowBatchLoader at a cadence that doubles as the cancellation safe
// point.
package ingest
