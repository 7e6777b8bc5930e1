package controller

import (
	"sync"

	"github.com/cuemby/warren/pkg/job"
	"github.com/cuemby/warren/pkg/types"
)

// admissionEntry is one live Job's admission record.
type admissionEntry struct {
	exclusive bool
	cancel    func()
}

// familyState is the admission state for one job family: at most one
// exclusive job may hold it, alongside any number of non-exclusive
// jobs when no exclusive job is active.
type familyState struct {
	exclusiveHolder string // job ID, empty if none
	jobs            map[string]admissionEntry
}

// admissionTable is the Controller's in-memory job admission gate
// (spec §4.7): exclusive jobs within a family run alone; a preemptive
// exclusive job cancels whatever is already running in its family to
// take the slot. Guarded by a single mutex, in the same spirit as the
// teacher's single-writer Manager serializing Raft apply calls.
type admissionTable struct {
	mu       sync.Mutex
	families map[string]*familyState
}

func newAdmissionTable() *admissionTable {
	return &admissionTable{families: make(map[string]*familyState)}
}

// Admit registers jobID against opts.Family. It returns a release
// function the caller must invoke exactly once when the Job finishes
// (success, failure, or cancellation), and the IDs of any jobs evicted
// to make room for a preemptive exclusive admission.
//
// Rejection (types.ErrJobConflict) happens when an exclusive job
// already holds the family and opts is not a preemptive exclusive
// admission, or when opts itself is exclusive but non-preemptive and
// the family is not empty.
func (t *admissionTable) Admit(jobID string, opts job.Options, cancel func()) (release func(), evicted []string, err error) {
	if opts.Family == "" {
		return func() {}, nil, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	f, ok := t.families[opts.Family]
	if !ok {
		f = &familyState{jobs: make(map[string]admissionEntry)}
		t.families[opts.Family] = f
	}

	if f.exclusiveHolder != "" {
		if !(opts.Exclusive && opts.Preemptive) {
			return nil, nil, types.NewError("controller.Admit", types.KindWorkerRefusal, types.ErrJobConflict)
		}
		evicted = t.evictLocked(f)
	} else if opts.Exclusive && len(f.jobs) > 0 {
		if !opts.Preemptive {
			return nil, nil, types.NewError("controller.Admit", types.KindWorkerRefusal, types.ErrJobConflict)
		}
		evicted = t.evictLocked(f)
	}

	f.jobs[jobID] = admissionEntry{exclusive: opts.Exclusive, cancel: cancel}
	if opts.Exclusive {
		f.exclusiveHolder = jobID
	}

	family := opts.Family
	return func() { t.release(family, jobID) }, evicted, nil
}

// evictLocked cancels and removes every job currently held in f. The
// caller must hold t.mu.
func (t *admissionTable) evictLocked(f *familyState) []string {
	ids := make([]string, 0, len(f.jobs))
	for id, e := range f.jobs {
		if e.cancel != nil {
			e.cancel()
		}
		ids = append(ids, id)
	}
	f.jobs = make(map[string]admissionEntry)
	f.exclusiveHolder = ""
	return ids
}

func (t *admissionTable) release(family, jobID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.families[family]
	if !ok {
		return
	}
	delete(f.jobs, jobID)
	if f.exclusiveHolder == jobID {
		f.exclusiveHolder = ""
	}
	if len(f.jobs) == 0 {
		delete(t.families, family)
	}
}

// Admit is the Controller-level entry point: it admits jobID under
// opts, returning a release func to call when the Job finishes.
func (c *Controller) Admit(jobID string, opts job.Options, cancel func()) (release func(), evicted []string, err error) {
	return c.admission.Admit(jobID, opts, cancel)
}
