package job

import (
	"context"

	"github.com/cuemby/warren/pkg/dbstore"
	"github.com/cuemby/warren/pkg/qrequest"
	"github.com/cuemby/warren/pkg/types"
)

// FindAllJob asks every enabled worker what replicas of Database it
// hosts and persists the union as the authoritative snapshot. It is
// the control plane's periodic "trust but verify" sweep: for every
// worker that reports back, whatever the store believed before this job
// ran is replaced by what that worker reports; a worker that does not
// report keeps its previously stored rows.
type FindAllJob struct {
	*Job

	store    dbstore.Store
	database string
	bodies   map[string]*qrequest.FindAllBody
}

// NewFindAllJob builds and starts a FindAllJob against workers (the
// enabled set, per EnabledWorkerNames). expirationSec bounds each
// per-worker probe; 0 disables the bound.
func NewFindAllJob(
	id string, opts Options, onDone func(*FindAllJob),
	store dbstore.Store, sender qrequest.Sender, workers []string, database string,
	expirationSec int,
) (*FindAllJob, error) {
	fj := &FindAllJob{store: store, database: database, bodies: make(map[string]*qrequest.FindAllBody, len(workers))}

	j, err := fanOutReplication(id, opts, func(inner *Job) {
		fj.persist(context.Background())
		if onDone != nil {
			onDone(fj)
		}
	}, sender, workers, func(worker string) qrequest.Body {
		b := &qrequest.FindAllBody{Database: database}
		fj.bodies[worker] = b
		return b
	}, qrequest.Options{}, expirationSec)
	if err != nil {
		return nil, err
	}
	fj.Job = j
	return fj, nil
}

// persist saves every worker's reported replica set, once the job
// finishes. A failing or never-responding worker simply contributes no
// rows; it does not block the others from being recorded.
func (fj *FindAllJob) persist(ctx context.Context) {
	if fj.ExtendedState() == types.ExtendedCancelled {
		return
	}
	for worker, body := range fj.bodies {
		if body.Replicas == nil {
			continue
		}
		if err := fj.store.SaveReplicaInfoCollection(ctx, worker, fj.database, body.Replicas); err != nil {
			fj.Log("save_error:"+worker, err.Error())
		}
	}
}

// Replicas returns every replica reported by worker, or nil if worker
// never responded successfully.
func (fj *FindAllJob) Replicas(worker string) []types.ReplicaInfo {
	if b, ok := fj.bodies[worker]; ok {
		return b.Replicas
	}
	return nil
}
