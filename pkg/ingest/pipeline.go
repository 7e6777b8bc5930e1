package ingest

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/cuemby/warren/pkg/csv"
	"github.com/cuemby/warren/pkg/idutil"
	"github.com/cuemby/warren/pkg/types"
)

// URLReader opens the byte stream named by a contribution's URL. The
// manager looks one up by the URL's scheme ("file", "http", "https").
type URLReader interface {
	Open(ctx context.Context, url string) (io.ReadCloser, error)
}

// RowBatchLoader hands a batch of already-delimited rows off to their
// destination worker. A batch boundary is this pipeline's sole safe
// point: rows within a batch are never split across Contribution
// updates, and cancellation is only honored between LoadBatch calls.
type RowBatchLoader interface {
	LoadBatch(ctx context.Context, c types.Contribution, rows [][]byte) error
}

// readBufSize is how much of the source is read into the parser at a
// time; it is independent of batchSize (rows per LoadBatch call).
const readBufSize = 64 * 1024

// runPipeline executes the read-parse-load pipeline for c on the
// calling goroutine, mutating c in place with the outcome: Status,
// NumBytes, NumRows, perf marks, Warnings and LastError. It never
// returns an error itself — every failure is recorded on c instead, so
// SYNC and ASYNC callers share one code path.
func (m *Manager) runPipeline(ctx context.Context, c *types.Contribution, perf *idutil.PerfCounters) {
	dialect, err := csv.NewDialect(c.Dialect)
	if err != nil {
		m.failLoad(c, err)
		return
	}

	reader, ok := m.readerFor(c.URL)
	if !ok {
		m.failLoad(c, ErrUnsupportedScheme)
		return
	}

	rc, err := reader.Open(ctx, c.URL)
	if err != nil {
		m.failRead(c, err)
		return
	}
	src := newBufferedSource(rc)
	defer src.Close()

	parser := csv.NewParser(dialect)
	buf := make([]byte, readBufSize)
	batch := make([][]byte, 0, m.batchSize)

	flushBatch := func() bool {
		if len(batch) == 0 {
			return true
		}
		if err := m.loader.LoadBatch(ctx, *c, batch); err != nil {
			m.failLoad(c, err)
			return false
		}
		c.NumRows += int64(len(batch))
		batch = batch[:0]
		select {
		case <-ctx.Done():
			c.Status = types.ContributionCancelled
			c.LastError = ctx.Err().Error()
			return false
		default:
			return true
		}
	}

	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			c.NumBytes += int64(n)
			parseErr := parser.Parse(buf[:n], false, func(line []byte) {
				cp := make([]byte, len(line))
				copy(cp, line)
				batch = append(batch, cp)
			})
			if parseErr != nil {
				m.failRead(c, parseErr)
				return
			}
			if len(batch) >= m.batchSize {
				if !flushBatch() {
					return
				}
			}
		}
		if readErr == io.EOF {
			perf.MarkRead()
			if parseErr := parser.Parse(nil, true, func(line []byte) {
				cp := make([]byte, len(line))
				copy(cp, line)
				batch = append(batch, cp)
			}); parseErr != nil {
				m.failRead(c, parseErr)
				return
			}
			if !flushBatch() {
				return
			}
			break
		}
		if readErr != nil {
			m.failRead(c, readErr)
			return
		}
	}

	perf.MarkLoad()
	c.Status = types.ContributionFinished
}

// bufferedSource wraps a URLReader's stream with a *bufio.Reader so
// runPipeline's fixed-size reads stay cheap regardless of the
// underlying source's natural chunking.
type bufferedSource struct {
	io.Closer
	*bufio.Reader
}

func newBufferedSource(rc io.ReadCloser) io.ReadCloser {
	return &bufferedSource{Closer: rc, Reader: bufio.NewReaderSize(rc, readBufSize)}
}

func (b *bufferedSource) Read(p []byte) (int, error) { return b.Reader.Read(p) }

// failRead records the outcome of a read/parse failure. It is
// READ_FAILED (and so eligible for a retry, pending budget) only if
// err matches one of the Snapshot's configured retriable error codes
// (`ingest.retriable_error_codes`, spec §4.8); an empty configured list
// defaults to "every read failure is retriable", and anything that
// doesn't match is LOAD_FAILED straight away, since the spec states
// only a "retriable error code" re-enters the queue.
func (m *Manager) failRead(c *types.Contribution, err error) {
	c.LastError = err.Error()
	if m.isRetriableRead(err) {
		c.Status = types.ContributionReadFailed
		return
	}
	c.Status = types.ContributionLoadFailed
}

func (m *Manager) isRetriableRead(err error) bool {
	codes := m.snapshot.RetriableContributionErrors()
	if len(codes) == 0 {
		return true
	}
	msg := err.Error()
	for _, code := range codes {
		if strings.Contains(msg, code) {
			return true
		}
	}
	return false
}

// failLoad records a LOAD_FAILED outcome. Unlike READ_FAILED this is
// always terminal: a malformed row or a destination-side rejection is
// not expected to succeed on retry.
func (m *Manager) failLoad(c *types.Contribution, err error) {
	c.Status = types.ContributionLoadFailed
	c.LastError = err.Error()
}
