package job

import (
	"github.com/cuemby/warren/pkg/idutil"
	"github.com/cuemby/warren/pkg/qrequest"
	"github.com/cuemby/warren/pkg/qservmgt"
	"github.com/cuemby/warren/pkg/types"
)

// ClusterHealthJob probes every replication worker with Echo and every
// query worker with TestEcho under a shared deadline. The cluster is
// healthy iff every probe it issued succeeded; one slow or unreachable
// worker fails the whole job rather than being silently skipped.
type ClusterHealthJob struct {
	*Job

	replEcho  map[string]*qrequest.EchoBody
	qservEcho map[string]*qservmgt.TestEchoBody
}

// NewClusterHealthJob builds and starts a ClusterHealthJob against
// replWorkers (probed over replSender) and qservWorkers (probed over
// qservSender). Either set may be empty.
func NewClusterHealthJob(
	id string, opts Options, onDone func(*ClusterHealthJob),
	replSender qrequest.Sender, replWorkers []string,
	qservSender qservmgt.Sender, qservWorkers []string,
	expirationSec int,
) (*ClusterHealthJob, error) {
	hj := &ClusterHealthJob{
		replEcho:  make(map[string]*qrequest.EchoBody, len(replWorkers)),
		qservEcho: make(map[string]*qservmgt.TestEchoBody, len(qservWorkers)),
	}

	j := New(id, opts, func(inner *Job) {
		if onDone != nil {
			onDone(hj)
		}
	})

	type pending struct {
		worker    string
		replReq   *qrequest.Request
		qservReq  *qservmgt.Request
	}
	var built []pending
	children := make([]Child, 0, len(replWorkers)+len(qservWorkers))

	for _, w := range replWorkers {
		body := &qrequest.EchoBody{Data: "ping"}
		hj.replEcho[w] = body
		reqID := idutil.NewID()
		req := qrequest.New(reqID, body, replSender, qrequest.Options{Worker: w, Priority: opts.Priority}, func(r *qrequest.Request) {
			j.ChildDone(r.ID, r.ExtendedState())
		})
		built = append(built, pending{worker: w, replReq: req})
		children = append(children, Child{ID: reqID, Cancel: req.Cancel})
	}
	for _, w := range qservWorkers {
		body := &qservmgt.TestEchoBody{Data: "ping"}
		hj.qservEcho[w] = body
		reqID := idutil.NewID()
		req := qservmgt.New(reqID, body, qservSender, qservmgt.Options{Worker: w, Priority: opts.Priority}, func(r *qservmgt.Request) {
			j.ChildDone(r.ID, r.ExtendedState())
		})
		built = append(built, pending{worker: w, qservReq: req})
		children = append(children, Child{ID: reqID, Cancel: req.Cancel})
	}

	if err := j.StartChildren(children); err != nil {
		return nil, err
	}
	for _, b := range built {
		if b.replReq != nil {
			if err := b.replReq.Start(id, expirationSec); err != nil {
				return nil, err
			}
		}
		if b.qservReq != nil {
			if err := b.qservReq.Start(expirationSec); err != nil {
				return nil, err
			}
		}
	}

	hj.Job = j
	return hj, nil
}

// Healthy reports whether the cluster-wide probe succeeded end to end.
func (hj *ClusterHealthJob) Healthy() bool {
	return hj.ExtendedState() == types.ExtendedSuccess
}
