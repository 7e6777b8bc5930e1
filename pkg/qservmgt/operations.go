package qservmgt

import (
	"github.com/cuemby/warren/pkg/protocol"
	"github.com/cuemby/warren/pkg/types"
)

// analyzeEnvelope is the AnalyzeResponse logic shared by every
// operation: parse the worker's status envelope and translate OK/
// ERROR into the matching ExtendedState.
func analyzeEnvelope(resp []byte) (types.ExtendedState, error) {
	parsed, err := protocol.ParseQservResponse(resp)
	if err != nil {
		return types.ExtendedNone, err
	}
	if parsed.Status == protocol.QservStatusError {
		return types.ExtendedServerBad, nil
	}
	return types.ExtendedSuccess, nil
}

// AddReplicaBody asks a query worker to register a chunk it already
// hosts (or is about to receive) with the query engine.
type AddReplicaBody struct {
	Database string
	Chunk    uint32
}

func (b *AddReplicaBody) Serialize() ([]byte, error) {
	return protocol.QservAddReplicaRequest(b.Database, b.Chunk)
}

func (b *AddReplicaBody) AnalyzeResponse(resp []byte) (types.ExtendedState, error) {
	return analyzeEnvelope(resp)
}

// RemoveReplicaBody asks a query worker to drop a chunk from the
// query engine.
type RemoveReplicaBody struct {
	Database string
	Chunk    uint32
	Force    bool
}

func (b *RemoveReplicaBody) Serialize() ([]byte, error) {
	return protocol.QservRemoveReplicaRequest(b.Database, b.Chunk, b.Force)
}

func (b *RemoveReplicaBody) AnalyzeResponse(resp []byte) (types.ExtendedState, error) {
	return analyzeEnvelope(resp)
}

// SetReplicasBody asks a query worker to reconcile its complete
// registered chunk set for Database to Chunks.
type SetReplicasBody struct {
	Database string
	Chunks   []uint32
	Force    bool
}

func (b *SetReplicasBody) Serialize() ([]byte, error) {
	return protocol.QservSetReplicasRequest(b.Database, b.Chunks, b.Force)
}

func (b *SetReplicasBody) AnalyzeResponse(resp []byte) (types.ExtendedState, error) {
	return analyzeEnvelope(resp)
}

// GetStatusBody polls a query worker's health/status. Err records the
// worker's failure for this body specifically when the owning Job
// tolerates one worker's GetStatus failing without failing the whole
// fan-out (job.NewQservStatusJob).
type GetStatusBody struct {
	Raw []byte
	Err string
}

func (b *GetStatusBody) Serialize() ([]byte, error) {
	return protocol.QservGetStatusRequest()
}

func (b *GetStatusBody) AnalyzeResponse(resp []byte) (types.ExtendedState, error) {
	ext, err := analyzeEnvelope(resp)
	if err == nil {
		b.Raw = resp
	}
	return ext, err
}

// TestEchoBody exercises the transport's round trip.
type TestEchoBody struct {
	Data string
	Got  string
}

func (b *TestEchoBody) Serialize() ([]byte, error) {
	return protocol.QservTestEchoRequest(b.Data)
}

func (b *TestEchoBody) AnalyzeResponse(resp []byte) (types.ExtendedState, error) {
	parsed, err := protocol.ParseQservResponse(resp)
	if err != nil {
		return types.ExtendedNone, err
	}
	if parsed.Status == protocol.QservStatusError {
		return types.ExtendedServerBad, nil
	}
	b.Got = parsed.Raw.Get("data").String()
	return types.ExtendedSuccess, nil
}
