package job

import (
	"context"
	"fmt"

	"github.com/cuemby/warren/pkg/dbstore"
	"github.com/cuemby/warren/pkg/idutil"
	"github.com/cuemby/warren/pkg/qservmgt"
	"github.com/cuemby/warren/pkg/types"
)

// NewQservSyncJob pushes, to every worker in workers, the complete set
// of chunks the store currently considers COMPLETE on that worker for
// database — reconciling the query engine's registered chunk set to
// match replication's idea of the truth. force overrides a worker's
// refusal to drop chunks it still considers in use.
func NewQservSyncJob(
	ctx context.Context,
	id string, opts Options, onDone func(*Job),
	store dbstore.Store, sender qservmgt.Sender, workers []string, database string, force bool,
	expirationSec int,
) (*Job, error) {
	chunksByWorker := make(map[string][]uint32, len(workers))
	for _, w := range workers {
		replicas, err := store.FindWorkerReplicas(ctx, w, database)
		if err != nil {
			return nil, err
		}
		var chunks []uint32
		for _, r := range replicas {
			if r.IsGood(true) {
				chunks = append(chunks, r.Chunk)
			}
		}
		chunksByWorker[w] = chunks
	}

	return fanOutQserv(id, opts, onDone, sender, workers, func(worker string) qservmgt.Body {
		return &qservmgt.SetReplicasBody{Database: database, Chunks: chunksByWorker[worker], Force: force}
	}, opts.Priority, expirationSec)
}

// NewQservStatusJob polls GetStatus on every worker in workers,
// returning the Job so its children's raw responses can be read off
// the bodies map once it finishes. Unlike fanOutQserv's default
// boolean-AND aggregation, one worker's GetStatus failing does not
// fail the Job: the failure is recorded on that worker's own
// GetStatusBody.Err and the Job still finishes SUCCESS, since a
// status poll's purpose is to report per-worker health, not to
// require unanimous health to report anything at all.
func NewQservStatusJob(
	id string, opts Options, onDone func(*Job),
	sender qservmgt.Sender, workers []string,
	expirationSec int,
) (*Job, map[string]*qservmgt.GetStatusBody, error) {
	bodies := make(map[string]*qservmgt.GetStatusBody, len(workers))
	j := New(id, opts, onDone)

	built := make([]qservChild, 0, len(workers))
	children := make([]Child, 0, len(workers))
	for _, w := range workers {
		b := &qservmgt.GetStatusBody{}
		bodies[w] = b
		reqID := idutil.NewID()
		req := qservmgt.New(reqID, b, sender, qservmgt.Options{Worker: w, Priority: opts.Priority}, func(r *qservmgt.Request) {
			if r.ExtendedState() != types.ExtendedSuccess {
				b.Err = r.LastError()
			}
			j.ChildDone(r.ID, types.ExtendedSuccess)
		})
		built = append(built, qservChild{worker: w, req: req})
		children = append(children, Child{ID: reqID, Cancel: req.Cancel})
	}

	if err := j.StartChildren(children); err != nil {
		return nil, nil, err
	}
	for _, b := range built {
		if err := b.req.Start(expirationSec); err != nil {
			return nil, nil, fmt.Errorf("job: start child for worker %s: %w", b.worker, err)
		}
	}
	return j, bodies, nil
}
