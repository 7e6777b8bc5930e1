package qservmgt

import "github.com/cuemby/warren/pkg/types"

// Body is the subclass contract each concrete management operation
// (AddReplica, RemoveReplica, SetReplicas, GetStatus, TestEcho)
// implements.
type Body interface {
	// Serialize returns the operation's JSON request payload.
	Serialize() ([]byte, error)

	// AnalyzeResponse maps a worker's raw JSON response bytes onto the
	// ExtendedState the Request finishes with. A JSON parse failure is
	// reported as types.ExtendedServerBadResponse by the caller, not by
	// the Body implementation.
	AnalyzeResponse(resp []byte) (types.ExtendedState, error)
}
