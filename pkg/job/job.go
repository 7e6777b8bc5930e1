package job

import (
	"sync"

	"github.com/cuemby/warren/pkg/idutil"
	"github.com/cuemby/warren/pkg/types"
)

// LogEntry is one (name, value) row persisted for post-mortem,
// mirroring qrequest.KV.
type LogEntry struct {
	Name  string
	Value string
}

// Options configure a new Job.
type Options struct {
	Family     string
	Priority   int
	Exclusive  bool
	Preemptive bool
	Clock      idutil.Clock
}

// Child is a live child operation (a qrequest.Request or
// qservmgt.Request) a Job is waiting on. Cancel, if non-nil, is
// called by Job.Cancel.
type Child struct {
	ID     string
	Cancel func()
}

// Job is the fan-out coordinator base type. Concrete jobs embed *Job,
// call StartChildren once with the children they issued, and report
// each child's outcome via ChildDone as it arrives.
type Job struct {
	ID         string
	Family     string
	Priority   int
	Exclusive  bool
	Preemptive bool

	mu        sync.Mutex
	state     types.RequestState
	extState  types.ExtendedState
	aggregate types.ExtendedState
	perf      types.Performance
	children  map[string]Child
	done      bool
	log       []LogEntry

	clock    idutil.Clock
	onNotify func(*Job)
}

// New creates a Job in the CREATED state. onNotify, if non-nil, is
// invoked exactly once after the Job reaches FINISHED.
func New(id string, opts Options, onNotify func(*Job)) *Job {
	clock := opts.Clock
	if clock == nil {
		clock = idutil.RealClock{}
	}
	return &Job{
		ID:         id,
		Family:     opts.Family,
		Priority:   opts.Priority,
		Exclusive:  opts.Exclusive,
		Preemptive: opts.Preemptive,
		state:      types.StateCreated,
		extState:   types.ExtendedNone,
		aggregate:  types.ExtendedSuccess,
		children:   make(map[string]Child),
		clock:      clock,
		onNotify:   onNotify,
	}
}

// State returns the Job's current lifecycle state.
func (j *Job) State() types.RequestState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// ExtendedState returns the Job's finish reason, types.ExtendedNone
// until it finishes.
func (j *Job) ExtendedState() types.ExtendedState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.extState
}

// Performance returns a snapshot of the Job's timing marks.
func (j *Job) Performance() types.Performance {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.perf
}

// PersistentLogData returns the rows the store keeps for diagnostics.
func (j *Job) PersistentLogData() []LogEntry {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]LogEntry, len(j.log))
	copy(out, j.log)
	return out
}

// Log appends a post-mortem row. Concrete jobs call this as they
// discover results worth keeping.
func (j *Job) Log(name, value string) {
	j.mu.Lock()
	j.log = append(j.log, LogEntry{Name: name, Value: value})
	j.mu.Unlock()
}

// StartChildren is startImpl: it transitions the Job to IN_PROGRESS
// and registers children as live, or finishes immediately as
// FINISHED+SUCCESS if children is empty. Calling it more than once
// returns an error.
func (j *Job) StartChildren(children []Child) error {
	j.mu.Lock()
	if j.state != types.StateCreated {
		j.mu.Unlock()
		return errAlreadyStarted
	}
	j.perf.CreateTimeMs = j.clock.Now().UnixMilli()
	j.perf.StartTimeMs = j.perf.CreateTimeMs
	if len(children) == 0 {
		j.mu.Unlock()
		j.finish(types.ExtendedSuccess)
		return nil
	}
	j.state = types.StateInProgress
	for _, c := range children {
		j.children[c.ID] = c
	}
	j.mu.Unlock()
	return nil
}

// ChildDone reports that the child identified by childID reached a
// terminal ExtendedState. Results aggregate by boolean AND across
// children: the Job finishes SUCCESS iff every child succeeded,
// otherwise it retains the first non-success ExtendedState observed.
// A childID no longer tracked (already removed by Cancel, or reported
// twice) is ignored.
func (j *Job) ChildDone(childID string, ext types.ExtendedState) {
	j.mu.Lock()
	if _, ok := j.children[childID]; !ok {
		j.mu.Unlock()
		return
	}
	delete(j.children, childID)
	if ext != types.ExtendedSuccess && j.aggregate == types.ExtendedSuccess {
		j.aggregate = ext
	}
	remaining := len(j.children)
	agg := j.aggregate
	j.mu.Unlock()

	if remaining == 0 {
		j.finish(agg)
	}
}

// ReplaceChild swaps the live child identified by oldID for newChild,
// leaving the remaining-children count unchanged and triggering
// neither aggregation nor completion. It is a no-op if oldID is not
// currently live (already reported, or the Job never registered it).
// MoveJob uses this to chain a Delete child in after its Replicate
// child succeeds, without the Job finishing in between.
func (j *Job) ReplaceChild(oldID string, newChild Child) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, ok := j.children[oldID]; !ok {
		return
	}
	delete(j.children, oldID)
	j.children[newChild.ID] = newChild
}

// Cancel is cancelImpl: it cancels every live child and transitions
// the Job to FINISHED+CANCELLED. Idempotent; a Job already finished
// is unaffected.
func (j *Job) Cancel() {
	j.mu.Lock()
	if j.done {
		j.mu.Unlock()
		return
	}
	live := make([]Child, 0, len(j.children))
	for _, c := range j.children {
		live = append(live, c)
	}
	j.mu.Unlock()

	for _, c := range live {
		if c.Cancel != nil {
			c.Cancel()
		}
	}
	j.finish(types.ExtendedCancelled)
}

// finish is the sole path to FINISHED; it is idempotent so notify
// fires exactly once regardless of how many goroutines race to call
// it (the last ChildDone, a concurrent Cancel).
func (j *Job) finish(ext types.ExtendedState) {
	j.mu.Lock()
	if j.done {
		j.mu.Unlock()
		return
	}
	j.done = true
	j.state = types.StateFinished
	j.extState = ext
	j.perf.FinishTimeMs = j.clock.Now().UnixMilli()
	cb := j.onNotify
	j.mu.Unlock()

	if cb != nil {
		cb(j)
	}
}
