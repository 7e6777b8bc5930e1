package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/cuemby/warren/pkg/idutil"
	"github.com/cuemby/warren/pkg/job"
	"github.com/cuemby/warren/pkg/types"
)

// --- /qserv/sync ---

type qservSyncRequest struct {
	Database      string `json:"database"`
	Force         bool   `json:"force"`
	ExpirationSec int    `json:"expiration_sec"`
}

// handleQservSync implements POST /qserv/sync (spec.md §6's Qserv
// monitoring surface): pushes replication's idea of each worker's
// COMPLETE chunk set into the query engine.
func (s *Server) handleQservSync(w http.ResponseWriter, r *http.Request) {
	var req qservSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Fail(w, types.NewError("httpapi.qserv_sync", types.KindConfig, err))
		return
	}
	opts := job.Options{Family: "qserv_sync:" + req.Database, Exclusive: true}
	id := idutil.NewID()
	release, err := s.admitJob(id, opts)
	if err != nil {
		Fail(w, err)
		return
	}

	workers := job.EnabledWorkerNames(s.ctrl.Snapshot().Workers())
	j, err := job.NewQservSyncJob(r.Context(), id, opts, func(done *job.Job) { release(); s.saveFinalJobState(done, "qserv_sync") },
		s.ctrl.Store(), s.ctrl.Query(), workers, req.Database, req.Force, req.ExpirationSec)
	if err != nil {
		release()
		Fail(w, fmt.Errorf("httpapi: qserv sync: %w", err))
		return
	}
	s.saveInitialJobState(r.Context(), j, "qserv_sync")
	s.jobs.put(j)
	Success(w, map[string]interface{}{"job": summarize(j)})
}

// --- /qserv/status ---

type qservStatusRequest struct {
	ExpirationSec int `json:"expiration_sec"`
}

// handleQservStatus implements POST /qserv/status: polls GetStatus on
// every query worker and registers the Job under the same registry
// GET /qserv/status/{id} reads from once it finishes. Unlike the other
// job routes, QservStatusJob tolerates individual worker failures (see
// job.NewQservStatusJob), so the job always finishes SUCCESS and the
// per-worker detail is read separately.
func (s *Server) handleQservStatus(w http.ResponseWriter, r *http.Request) {
	var req qservStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Fail(w, types.NewError("httpapi.qserv_status", types.KindConfig, err))
		return
	}
	id := idutil.NewID()
	workers := job.EnabledWorkerNames(s.ctrl.Snapshot().Workers())
	j, bodies, err := job.NewQservStatusJob(id, job.Options{}, func(done *job.Job) { s.saveFinalJobState(done, "qserv_status") },
		s.ctrl.Query(), workers, req.ExpirationSec)
	if err != nil {
		Fail(w, fmt.Errorf("httpapi: qserv status: %w", err))
		return
	}
	s.saveInitialJobState(r.Context(), j, "qserv_status")
	s.jobs.put(j)
	s.jobs.putQservStatus(id, bodies)
	Success(w, map[string]interface{}{"job": summarize(j)})
}

// handleQservStatusResult implements GET /qserv/status/{id}: the
// per-worker GetStatusBody raw payloads (and failures) recorded by a
// QservStatusJob previously created through POST /qserv/status.
func (s *Server) handleQservStatusResult(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	j, ok := s.jobs.get(id)
	if !ok {
		Fail(w, types.NewError("httpapi.qserv_status_result", types.KindConfig, fmt.Errorf("no such job %q", id)))
		return
	}
	bodies, ok := s.jobs.getQservStatus(id)
	if !ok {
		Fail(w, types.NewError("httpapi.qserv_status_result", types.KindConfig, fmt.Errorf("no qserv status results for job %q", id)))
		return
	}
	workers := make(map[string]interface{}, len(bodies))
	for worker, b := range bodies {
		entry := map[string]interface{}{}
		if b.Err != "" {
			entry["error"] = b.Err
		} else {
			entry["raw"] = json.RawMessage(b.Raw)
		}
		workers[worker] = entry
	}
	Success(w, map[string]interface{}{"job": summarize(j), "workers": workers})
}

// --- /replication/rebalance ---

type rebalanceRequest struct {
	Database      string   `json:"database"`
	Chunks        []uint32 `json:"chunks"`
	MaxMoves      int      `json:"max_moves"`
	ExpirationSec int      `json:"expiration_sec"`
}

// handleRebalance implements POST /replication/rebalance: issues up to
// MaxMoves chunk relocations away from the most-loaded workers.
func (s *Server) handleRebalance(w http.ResponseWriter, r *http.Request) {
	var req rebalanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Fail(w, types.NewError("httpapi.rebalance", types.KindConfig, err))
		return
	}
	opts := job.Options{Family: "rebalance:" + req.Database, Exclusive: true}
	id := idutil.NewID()
	release, err := s.admitJob(id, opts)
	if err != nil {
		Fail(w, err)
		return
	}

	j, err := job.NewRebalanceJob(r.Context(), id, opts, func(done *job.Job) { release(); s.saveFinalJobState(done, "rebalance") },
		s.ctrl.Store(), s.ctrl.Replication(), s.ctrl.Snapshot().Workers(),
		req.Database, req.Chunks, req.MaxMoves, req.ExpirationSec)
	if err != nil {
		release()
		Fail(w, fmt.Errorf("httpapi: rebalance: %w", err))
		return
	}
	s.saveInitialJobState(r.Context(), j, "rebalance")
	s.jobs.put(j)
	Success(w, map[string]interface{}{"job": summarize(j)})
}
