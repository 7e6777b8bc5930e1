package job

import (
	"fmt"

	"github.com/cuemby/warren/pkg/idutil"
	"github.com/cuemby/warren/pkg/qrequest"
	"github.com/cuemby/warren/pkg/qservmgt"
	"github.com/cuemby/warren/pkg/types"
)

// replicationChild pairs a qrequest.Request with the worker it targets,
// so it can be started only after the owning Job has registered every
// child (avoiding the race between a response arriving and ChildDone
// finding nothing to mark done).
type replicationChild struct {
	worker string
	req    *qrequest.Request
}

// ReplicationTarget pairs a worker with the Body a child Request
// addresses to it. Unlike a plain worker list, the same worker may
// appear more than once (e.g. ReplicateJob issuing several Replicate
// children against one destination).
type ReplicationTarget struct {
	Worker string
	Body   qrequest.Body
}

// fanOutReplication builds one qrequest.Request per worker in workers
// from bodyFor, registers them all as the Job's children, then starts
// them. It returns the built Job; callers read per-body results
// (Replicas, Replica, ...) only after Job.State() reaches FINISHED.
func fanOutReplication(
	id string, opts Options, onNotify func(*Job),
	sender qrequest.Sender, workers []string,
	bodyFor func(worker string) qrequest.Body,
	reqOpts qrequest.Options,
	expirationSec int,
) (*Job, error) {
	targets := make([]ReplicationTarget, 0, len(workers))
	for _, w := range workers {
		targets = append(targets, ReplicationTarget{Worker: w, Body: bodyFor(w)})
	}
	return fanOutReplicationTargets(id, opts, onNotify, sender, targets, reqOpts, expirationSec)
}

// fanOutReplicationTargets is fanOutReplication generalized to an
// explicit (worker, body) list, for jobs whose child count does not
// match the worker count one-to-one.
func fanOutReplicationTargets(
	id string, opts Options, onNotify func(*Job),
	sender qrequest.Sender, targets []ReplicationTarget,
	reqOpts qrequest.Options,
	expirationSec int,
) (*Job, error) {
	j := New(id, opts, onNotify)

	built := make([]replicationChild, 0, len(targets))
	children := make([]Child, 0, len(targets))
	for _, t := range targets {
		reqID := idutil.NewID()
		o := reqOpts
		o.Worker = t.Worker
		if o.Priority == 0 {
			o.Priority = opts.Priority
		}
		req := qrequest.New(reqID, t.Body, sender, o, func(r *qrequest.Request) {
			j.ChildDone(r.ID, r.ExtendedState())
		})
		built = append(built, replicationChild{worker: t.Worker, req: req})
		children = append(children, Child{ID: reqID, Cancel: req.Cancel})
	}

	if err := j.StartChildren(children); err != nil {
		return nil, err
	}
	for _, b := range built {
		if err := b.req.Start(id, expirationSec); err != nil {
			return nil, fmt.Errorf("job: start child for worker %s: %w", b.worker, err)
		}
	}
	return j, nil
}

// qservChild mirrors replicationChild for query-worker management
// operations.
type qservChild struct {
	worker string
	req    *qservmgt.Request
}

// fanOutQserv is fanOutReplication's counterpart for qservmgt.Request
// children.
func fanOutQserv(
	id string, opts Options, onNotify func(*Job),
	sender qservmgt.Sender, workers []string,
	bodyFor func(worker string) qservmgt.Body,
	priority int,
	expirationSec int,
) (*Job, error) {
	j := New(id, opts, onNotify)

	built := make([]qservChild, 0, len(workers))
	children := make([]Child, 0, len(workers))
	for _, w := range workers {
		reqID := idutil.NewID()
		req := qservmgt.New(reqID, bodyFor(w), sender, qservmgt.Options{Worker: w, Priority: priority}, func(r *qservmgt.Request) {
			j.ChildDone(r.ID, r.ExtendedState())
		})
		built = append(built, qservChild{worker: w, req: req})
		children = append(children, Child{ID: reqID, Cancel: req.Cancel})
	}

	if err := j.StartChildren(children); err != nil {
		return nil, err
	}
	for _, b := range built {
		if err := b.req.Start(expirationSec); err != nil {
			return nil, fmt.Errorf("job: start child for worker %s: %w", b.worker, err)
		}
	}
	return j, nil
}

// EnabledWorkerNames returns the Name of every enabled worker, the set
// every fan-out job issues children against unless told otherwise.
func EnabledWorkerNames(workers []types.Worker) []string {
	names := make([]string, 0, len(workers))
	for _, w := range workers {
		if w.Enabled {
			names = append(names, w.Name)
		}
	}
	return names
}
