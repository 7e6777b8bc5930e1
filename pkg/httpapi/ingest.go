package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/cuemby/warren/pkg/dbstore"
	"github.com/cuemby/warren/pkg/types"
)

// fileRequest is the body of POST /ingest/file and /ingest/file-async
// (spec §6's representative routes).
type fileRequest struct {
	TransactionID      uint32 `json:"transaction_id"`
	Table              string `json:"table"`
	Chunk              uint32 `json:"chunk"`
	Overlap            bool   `json:"overlap"`
	URL                string `json:"url"`
	Worker             string `json:"worker"`
	FieldsTerminatedBy string `json:"fields_terminated_by"`
	FieldsEnclosedBy   string `json:"fields_enclosed_by"`
	FieldsEscapedBy    string `json:"fields_escaped_by"`
	LinesTerminatedBy  string `json:"lines_terminated_by"`
}

func (req fileRequest) toContribution() types.Contribution {
	return types.Contribution{
		TransactionID: req.TransactionID,
		Worker:        req.Worker,
		Table:         req.Table,
		Chunk:         req.Chunk,
		IsOverlap:     req.Overlap,
		URL:           req.URL,
		Dialect: types.CsvDialectInput{
			FieldsTerminatedBy: req.FieldsTerminatedBy,
			FieldsEnclosedBy:   req.FieldsEnclosedBy,
			FieldsEscapedBy:    req.FieldsEscapedBy,
			LinesTerminatedBy:  req.LinesTerminatedBy,
		},
	}
}

func contributionStats(c types.Contribution) map[string]interface{} {
	return map[string]interface{}{
		"stats": map[string]interface{}{
			"num_bytes": c.NumBytes,
			"num_rows":  c.NumRows,
		},
		"perf": map[string]interface{}{
			"begin_file_read_ms":   c.StartMs,
			"end_file_read_ms":     c.ReadMs,
			"begin_file_ingest_ms": c.ReadMs,
			"end_file_ingest_ms":   c.LoadMs,
		},
		"contrib": contribView(c),
	}
}

func contribView(c types.Contribution) map[string]interface{} {
	return map[string]interface{}{
		"id":             c.ID,
		"transaction_id": c.TransactionID,
		"worker":         c.Worker,
		"table":          c.Table,
		"chunk":          c.Chunk,
		"status":         c.Status,
		"num_bytes":      c.NumBytes,
		"num_rows":       c.NumRows,
		"retries":        c.Retries,
		"last_error":     c.LastError,
	}
}

// handleIngestFile implements POST /ingest/file: a synchronous
// contribution, returning its terminal stats once the pipeline
// completes on the calling goroutine.
func (s *Server) handleIngestFile(w http.ResponseWriter, r *http.Request) {
	var req fileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Fail(w, types.NewError("httpapi.ingest_file", types.KindConfig, err))
		return
	}
	c, err := s.ingest.SubmitSync(r.Context(), req.toContribution())
	if err != nil {
		Fail(w, err)
		return
	}
	if c.Status != types.ContributionFinished {
		Respond(w, http.StatusUnprocessableEntity, Envelope{Success: false, Error: c.LastError, Extra: contributionStats(c)})
		return
	}
	Success(w, contributionStats(c))
}

// handleIngestFileAsync implements POST /ingest/file-async: admits and
// enqueues the contribution, returning immediately.
func (s *Server) handleIngestFileAsync(w http.ResponseWriter, r *http.Request) {
	var req fileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Fail(w, types.NewError("httpapi.ingest_file_async", types.KindConfig, err))
		return
	}
	c, err := s.ingest.SubmitAsync(r.Context(), req.toContribution())
	if err != nil {
		Fail(w, err)
		return
	}
	Success(w, map[string]interface{}{"contrib": contribView(c)})
}

func parseContributionID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		Fail(w, types.NewError("httpapi.ingest", types.KindConfig, err))
		return 0, false
	}
	return id, true
}

// handleIngestFileAsyncStatus implements GET /ingest/file-async/:id.
func (s *Server) handleIngestFileAsyncStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := parseContributionID(w, r)
	if !ok {
		return
	}
	c, err := s.ctrl.Store().GetContribution(r.Context(), id)
	if err != nil {
		Fail(w, err)
		return
	}
	Success(w, map[string]interface{}{"contrib": contribView(c)})
}

// handleIngestFileAsyncCancel implements DELETE /ingest/file-async/:id.
func (s *Server) handleIngestFileAsyncCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := parseContributionID(w, r)
	if !ok {
		return
	}
	s.ingest.Cancel(id)
	Success(w, map[string]interface{}{"status": "cancelled"})
}

// handleIngestTransStatus implements GET /ingest/file-async/trans/:id:
// every contribution belonging to transaction :id on this worker.
func (s *Server) handleIngestTransStatus(w http.ResponseWriter, r *http.Request) {
	txID, err := strconv.ParseUint(r.PathValue("id"), 10, 32)
	if err != nil {
		Fail(w, types.NewError("httpapi.ingest_trans", types.KindConfig, err))
		return
	}
	contributions, err := s.ctrl.Store().ListContributions(r.Context(), dbstore.ContributionFilter{TransactionID: uint32(txID)})
	if err != nil {
		Fail(w, err)
		return
	}
	views := make([]map[string]interface{}, 0, len(contributions))
	for _, c := range contributions {
		views = append(views, contribView(c))
	}
	Success(w, map[string]interface{}{"contribs": views})
}

// handleIngestTransCancel implements DELETE /ingest/file-async/trans/:id.
func (s *Server) handleIngestTransCancel(w http.ResponseWriter, r *http.Request) {
	txID, err := strconv.ParseUint(r.PathValue("id"), 10, 32)
	if err != nil {
		Fail(w, types.NewError("httpapi.ingest_trans", types.KindConfig, err))
		return
	}
	if err := s.ingest.CancelTransaction(r.Context(), uint32(txID)); err != nil {
		Fail(w, err)
		return
	}
	Success(w, map[string]interface{}{"status": "cancelled"})
}
