package job

import (
	"fmt"

	"github.com/cuemby/warren/pkg/idutil"
	"github.com/cuemby/warren/pkg/qrequest"
	"github.com/cuemby/warren/pkg/types"
)

// MoveJob relocates one good replica of (Database, Chunk) from Source
// to Dest: it replicates onto Dest first, and only once that succeeds
// does it delete the copy on Source. A failed or cancelled replicate
// leaves the chunk exactly as it was; nothing is ever deleted before
// its replacement is confirmed.
type MoveJob struct {
	*Job

	sender qrequest.Sender
	Database string
	Chunk    uint32
	Source   string
	Dest     string

	expirationSec int
	priority      int
}

// NewMoveJob builds and starts a MoveJob.
func NewMoveJob(
	id string, opts Options, onDone func(*MoveJob),
	sender qrequest.Sender, database string, chunk uint32, source, dest string,
	expirationSec int,
) (*MoveJob, error) {
	mj := &MoveJob{
		sender:        sender,
		Database:      database,
		Chunk:         chunk,
		Source:        source,
		Dest:          dest,
		expirationSec: expirationSec,
		priority:      opts.Priority,
	}
	j := New(id, opts, func(inner *Job) {
		if onDone != nil {
			onDone(mj)
		}
	})
	mj.Job = j

	reqID := idutil.NewID()
	replicate := qrequest.New(reqID, &qrequest.ReplicateBody{Database: database, Chunk: chunk, SourceWorker: source},
		sender, qrequest.Options{Worker: dest, Priority: opts.Priority}, mj.onReplicateDone)

	if err := j.StartChildren([]Child{{ID: reqID, Cancel: replicate.Cancel}}); err != nil {
		return nil, err
	}
	if err := replicate.Start(id, expirationSec); err != nil {
		return nil, fmt.Errorf("job: move %s: start replicate: %w", id, err)
	}
	return mj, nil
}

// onReplicateDone is the replicate child's onFinish. On success it
// swaps itself for a Delete child against Source; any other outcome
// finishes the MoveJob with that result directly.
func (mj *MoveJob) onReplicateDone(r *qrequest.Request) {
	if r.ExtendedState() != types.ExtendedSuccess {
		mj.ChildDone(r.ID, r.ExtendedState())
		return
	}

	deleteID := idutil.NewID()
	del := qrequest.New(deleteID, &qrequest.DeleteBody{Database: mj.Database, Chunk: mj.Chunk},
		mj.sender, qrequest.Options{Worker: mj.Source, Priority: mj.priority}, func(dr *qrequest.Request) {
			mj.ChildDone(dr.ID, dr.ExtendedState())
		})
	mj.Job.ReplaceChild(r.ID, Child{ID: deleteID, Cancel: del.Cancel})
	if err := del.Start(mj.Job.ID, mj.expirationSec); err != nil {
		mj.ChildDone(deleteID, types.ExtendedClientError)
	}
}
