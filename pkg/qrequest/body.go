package qrequest

import "github.com/cuemby/warren/pkg/types"

// KV is one (name, value) pair contributed to a Request's persistent
// post-mortem state.
type KV struct {
	Name  string
	Value string
}

// Body is the subclass contract every concrete Request operation
// (Replicate, Delete, FindAll, Echo, Sql, Index) implements. qrequest
// owns everything else: state machine, timers, duplicate suppression.
type Body interface {
	// Serialize returns the operation-specific request payload.
	Serialize() ([]byte, error)

	// AnalyzeResponse maps a worker's raw response bytes onto the
	// ExtendedState the Request should finish with (or continue
	// tracking under, for the SERVER_CREATED/QUEUED/IN_PROGRESS/
	// IS_CANCELLING states). targetRequestID is the worker-side id to
	// use for a later REQUEST_STATUS probe, if the worker assigned
	// one. isDuplicate reports SERVER_DUPLICATE: the worker already
	// has an equivalent job in flight under the same fingerprint, and
	// this Request's result should be taken from that job instead.
	AnalyzeResponse(resp []byte) (ext types.ExtendedState, targetRequestID string, isDuplicate bool, err error)

	// ExtendedPersistentState returns the fields the store persists
	// for post-mortem once the Request finishes.
	ExtendedPersistentState() []KV
}
