package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cuemby/warren/pkg/dbstore"
	"github.com/cuemby/warren/pkg/idutil"
	"github.com/cuemby/warren/pkg/job"
	"github.com/cuemby/warren/pkg/qservmgt"
	"github.com/cuemby/warren/pkg/types"
)

// jobRegistry tracks every Job created through the HTTP front-end by
// id, so GET/DELETE/watch routes can look one up after the creating
// handler has returned. qservStatus additionally keeps the per-worker
// GetStatusBody results of a QservStatusJob (job.NewQservStatusJob
// returns them out of band from the Job itself), so GET
// /qserv/status/{id} can read them back once the job finishes.
type jobRegistry struct {
	mu          sync.RWMutex
	jobs        map[string]*job.Job
	qservStatus map[string]map[string]*qservmgt.GetStatusBody
}

func newJobRegistry() *jobRegistry {
	return &jobRegistry{
		jobs:        make(map[string]*job.Job),
		qservStatus: make(map[string]map[string]*qservmgt.GetStatusBody),
	}
}

func (r *jobRegistry) put(j *job.Job) {
	r.mu.Lock()
	r.jobs[j.ID] = j
	r.mu.Unlock()
}

func (r *jobRegistry) get(id string) (*job.Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	return j, ok
}

func (r *jobRegistry) putQservStatus(id string, bodies map[string]*qservmgt.GetStatusBody) {
	r.mu.Lock()
	r.qservStatus[id] = bodies
	r.mu.Unlock()
}

func (r *jobRegistry) getQservStatus(id string) (map[string]*qservmgt.GetStatusBody, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bodies, ok := r.qservStatus[id]
	return bodies, ok
}

type jobSummary struct {
	ID            string              `json:"id"`
	State         types.RequestState  `json:"state"`
	ExtendedState types.ExtendedState `json:"extended_state"`
	Perf          types.Performance   `json:"perf"`
}

func summarize(j *job.Job) jobSummary {
	return jobSummary{
		ID:            j.ID,
		State:         j.State(),
		ExtendedState: j.ExtendedState(),
		Perf:          j.Performance(),
	}
}

// saveInitialJobState saves a Job's durable row (spec §4.2
// `saveState`) right after construction. saveFinalJobState saves it
// again once the Job's onNotify callback fires at FINISHED. The
// client-facing handler that created the Job is the only place that
// knows its declared type string, so persistence happens here rather
// than inside pkg/job or pkg/controller themselves (see DESIGN.md's
// "who persists Job/Request lifecycle state" decision).
func (s *Server) saveInitialJobState(ctx context.Context, j *job.Job, jobType string) {
	state := dbstore.JobState{
		ID:           j.ID,
		Type:         jobType,
		ControllerID: s.ctrl.Identity().ID,
		State:        j.State(),
		Priority:     j.Priority,
		Exclusive:    j.Exclusive,
		Preemptive:   j.Preemptive,
		BeginTime:    time.Now(),
	}
	if err := s.ctrl.Store().SaveJobState(ctx, state); err != nil {
		s.logger.Warn().Err(err).Str("job_id", j.ID).Msg("persist initial job state failed")
	}
}

func (s *Server) saveFinalJobState(j *job.Job, jobType string) {
	state := dbstore.JobState{
		ID:            j.ID,
		Type:          jobType,
		ControllerID:  s.ctrl.Identity().ID,
		State:         j.State(),
		ExtendedState: j.ExtendedState(),
		Priority:      j.Priority,
		Exclusive:     j.Exclusive,
		Preemptive:    j.Preemptive,
		EndTime:       time.Now(),
	}
	if err := s.ctrl.Store().SaveJobState(context.Background(), state); err != nil {
		s.logger.Warn().Err(err).Str("job_id", j.ID).Msg("persist final job state failed")
	}
}

// admitJob wraps controller.Admit for a job id not yet constructed: it
// reserves the family slot, returning the release func to defer and
// an error (KindWorkerRefusal) if a conflicting exclusive job holds
// the family.
func (s *Server) admitJob(id string, opts job.Options) (func(), error) {
	release, evicted, err := s.ctrl.Admit(id, opts, nil)
	if err != nil {
		return nil, err
	}
	for _, ev := range evicted {
		if j, ok := s.jobs.get(ev); ok {
			j.Cancel()
		}
	}
	return release, nil
}

// --- /replication/replicate ---

type replicateRequest struct {
	Database      string   `json:"database"`
	Chunks        []uint32 `json:"chunks"`
	MinReplicas   int      `json:"min_replicas"`
	ExpirationSec int      `json:"expiration_sec"`
}

func (s *Server) handleReplicate(w http.ResponseWriter, r *http.Request) {
	var req replicateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Fail(w, types.NewError("httpapi.replicate", types.KindConfig, err))
		return
	}
	opts := job.Options{Family: "replicate:" + req.Database, Exclusive: true}
	id := idutil.NewID()
	release, err := s.admitJob(id, opts)
	if err != nil {
		Fail(w, err)
		return
	}

	j, err := job.NewReplicateJob(r.Context(), id, opts, func(done *job.Job) { release(); s.saveFinalJobState(done, "replicate") },
		s.ctrl.Store(), s.ctrl.Replication(), s.ctrl.Snapshot().Workers(),
		req.Database, req.Chunks, req.MinReplicas, req.ExpirationSec)
	if err != nil {
		release()
		Fail(w, fmt.Errorf("httpapi: replicate: %w", err))
		return
	}
	s.saveInitialJobState(r.Context(), j, "replicate")
	s.jobs.put(j)
	Success(w, map[string]interface{}{"job": summarize(j)})
}

// --- /replication/purge ---

type purgeRequest struct {
	Database      string   `json:"database"`
	Chunks        []uint32 `json:"chunks"`
	MaxReplicas   int      `json:"max_replicas"`
	ExpirationSec int      `json:"expiration_sec"`
}

func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	var req purgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Fail(w, types.NewError("httpapi.purge", types.KindConfig, err))
		return
	}
	opts := job.Options{Family: "purge:" + req.Database, Exclusive: true}
	id := idutil.NewID()
	release, err := s.admitJob(id, opts)
	if err != nil {
		Fail(w, err)
		return
	}

	j, err := job.NewPurgeJob(r.Context(), id, opts, func(done *job.Job) { release(); s.saveFinalJobState(done, "purge") },
		s.ctrl.Store(), s.ctrl.Replication(), s.ctrl.Snapshot().Workers(),
		req.Database, req.Chunks, req.MaxReplicas, req.ExpirationSec)
	if err != nil {
		release()
		Fail(w, fmt.Errorf("httpapi: purge: %w", err))
		return
	}
	s.saveInitialJobState(r.Context(), j, "purge")
	s.jobs.put(j)
	Success(w, map[string]interface{}{"job": summarize(j)})
}

// --- /replication/findall ---

type findAllRequest struct {
	Database      string `json:"database"`
	ExpirationSec int    `json:"expiration_sec"`
}

func (s *Server) handleFindAll(w http.ResponseWriter, r *http.Request) {
	var req findAllRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Fail(w, types.NewError("httpapi.findall", types.KindConfig, err))
		return
	}
	opts := job.Options{Family: "findall:" + req.Database, Exclusive: true}
	id := idutil.NewID()
	release, err := s.admitJob(id, opts)
	if err != nil {
		Fail(w, err)
		return
	}

	workers := job.EnabledWorkerNames(s.ctrl.Snapshot().Workers())
	fj, err := job.NewFindAllJob(id, opts, func(done *job.FindAllJob) { release(); s.saveFinalJobState(done.Job, "findall") },
		s.ctrl.Store(), s.ctrl.Replication(), workers, req.Database, req.ExpirationSec)
	if err != nil {
		release()
		Fail(w, fmt.Errorf("httpapi: findall: %w", err))
		return
	}
	s.saveInitialJobState(r.Context(), fj.Job, "findall")
	s.jobs.put(fj.Job)
	Success(w, map[string]interface{}{"job": summarize(fj.Job)})
}

// --- /replication/move ---

type moveRequest struct {
	Database      string `json:"database"`
	Chunk         uint32 `json:"chunk"`
	Source        string `json:"source"`
	Dest          string `json:"dest"`
	ExpirationSec int    `json:"expiration_sec"`
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Fail(w, types.NewError("httpapi.move", types.KindConfig, err))
		return
	}
	opts := job.Options{Family: fmt.Sprintf("move:%s:%d", req.Database, req.Chunk), Exclusive: true}
	id := idutil.NewID()
	release, err := s.admitJob(id, opts)
	if err != nil {
		Fail(w, err)
		return
	}

	mj, err := job.NewMoveJob(id, opts, func(done *job.MoveJob) { release(); s.saveFinalJobState(done.Job, "move") },
		s.ctrl.Replication(), req.Database, req.Chunk, req.Source, req.Dest, req.ExpirationSec)
	if err != nil {
		release()
		Fail(w, fmt.Errorf("httpapi: move: %w", err))
		return
	}
	s.saveInitialJobState(r.Context(), mj.Job, "move")
	s.jobs.put(mj.Job)
	Success(w, map[string]interface{}{"job": summarize(mj.Job)})
}

// --- /replication/sql ---

type sqlRequest struct {
	Database      string `json:"database"`
	Query         string `json:"query"`
	MaxRows       uint32 `json:"max_rows"`
	ExpirationSec int    `json:"expiration_sec"`
}

func (s *Server) handleSql(w http.ResponseWriter, r *http.Request) {
	var req sqlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Fail(w, types.NewError("httpapi.sql", types.KindConfig, err))
		return
	}
	id := idutil.NewID()
	workers := job.EnabledWorkerNames(s.ctrl.Snapshot().Workers())
	sj, err := job.NewSqlJob(id, job.Options{}, func(done *job.SqlJob) { s.saveFinalJobState(done.Job, "sql") },
		s.ctrl.Replication(), workers, req.Database, req.Query, req.MaxRows, req.ExpirationSec)
	if err != nil {
		Fail(w, fmt.Errorf("httpapi: sql: %w", err))
		return
	}
	s.saveInitialJobState(r.Context(), sj.Job, "sql")
	s.jobs.put(sj.Job)
	Success(w, map[string]interface{}{"job": summarize(sj.Job)})
}

// --- /replication/health ---

func (s *Server) handleClusterHealth(w http.ResponseWriter, r *http.Request) {
	id := idutil.NewID()
	workers := job.EnabledWorkerNames(s.ctrl.Snapshot().Workers())
	hj, err := job.NewClusterHealthJob(id, job.Options{}, func(done *job.ClusterHealthJob) { s.saveFinalJobState(done.Job, "cluster_health") },
		s.ctrl.Replication(), workers, s.ctrl.Query(), workers, 30)
	if err != nil {
		Fail(w, fmt.Errorf("httpapi: cluster health: %w", err))
		return
	}
	s.saveInitialJobState(r.Context(), hj.Job, "cluster_health")
	s.jobs.put(hj.Job)
	Success(w, map[string]interface{}{"job": summarize(hj.Job)})
}

// --- /replication/jobs/{id} ---

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	j, ok := s.jobs.get(id)
	if !ok {
		Fail(w, types.NewError("httpapi.job_status", types.KindConfig, fmt.Errorf("no such job %q", id)))
		return
	}
	Success(w, map[string]interface{}{"job": summarize(j)})
}

func (s *Server) handleJobCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	j, ok := s.jobs.get(id)
	if !ok {
		Fail(w, types.NewError("httpapi.job_cancel", types.KindConfig, fmt.Errorf("no such job %q", id)))
		return
	}
	j.Cancel()
	Success(w, map[string]interface{}{"job": summarize(j)})
}

// jobWatchPollInterval is how often handleJobWatch polls a Job's
// state while it remains IN_PROGRESS; Job exposes no push channel of
// its own (onNotify only fires once, at FINISHED), so the socket
// relay polls the same way the terminal relay's goroutines poll their
// PTY/websocket pair.
const jobWatchPollInterval = 500 * time.Millisecond
