package protocol

import "github.com/cuemby/warren/pkg/types"

// RequestType is the outer kind of a replication-worker request frame.
type RequestType string

const (
	RequestKindRequest RequestType = "REQUEST"
	RequestKindStatus  RequestType = "STATUS"
	RequestKindStop    RequestType = "STOP"
)

// ManagementType selects which queued request a STATUS/STOP frame
// targets, since those two request kinds act on an already-submitted
// request rather than creating a new one.
type ManagementType string

const (
	ManagementReplicate ManagementType = "REPLICATE"
	ManagementDelete     ManagementType = "DELETE"
	ManagementFindAll    ManagementType = "FIND_ALL"
	ManagementEcho       ManagementType = "ECHO"
	ManagementSql        ManagementType = "SQL"
	ManagementIndex      ManagementType = "INDEX"
)

// StatusCode is the primary result code carried by every response
// frame.
type StatusCode string

const (
	StatusSuccess      StatusCode = "SUCCESS"
	StatusCreated      StatusCode = "CREATED"
	StatusQueued       StatusCode = "QUEUED"
	StatusInProgress   StatusCode = "IN_PROGRESS"
	StatusIsCancelling StatusCode = "IS_CANCELLING"
	StatusBad          StatusCode = "BAD"
	StatusFailed       StatusCode = "FAILED"
	StatusCancelled    StatusCode = "CANCELLED"
)

// RequestHeader precedes every typed body on the replication-worker
// transport.
type RequestHeader struct {
	ID             string          `msgpack:"id"`
	Type           RequestType     `msgpack:"type"`
	ManagementType ManagementType  `msgpack:"management_type,omitempty"`
	InstanceID     string          `msgpack:"instance_id"`
}

// ResponseHeader precedes every typed response body.
type ResponseHeader struct {
	Status         StatusCode          `msgpack:"status"`
	ExtendedStatus types.ExtendedState `msgpack:"extended_status"`
}

// ReplicateRequest asks a worker to create a replica of (Database,
// Chunk) by pulling it from SourceWorker.
type ReplicateRequest struct {
	Database     string `msgpack:"database"`
	Chunk        uint32 `msgpack:"chunk"`
	SourceWorker string `msgpack:"source_worker"`
}

// ReplicateResponse carries the resulting replica state.
type ReplicateResponse struct {
	Header  ResponseHeader     `msgpack:"header"`
	Replica types.ReplicaInfo `msgpack:"replica"`
}

// DeleteRequest asks a worker to drop its replica of (Database, Chunk).
type DeleteRequest struct {
	Database string `msgpack:"database"`
	Chunk    uint32 `msgpack:"chunk"`
}

// DeleteResponse carries the replica's state as of the deletion.
type DeleteResponse struct {
	Header  ResponseHeader     `msgpack:"header"`
	Replica types.ReplicaInfo `msgpack:"replica"`
}

// FindAllRequest asks a worker to report every replica it hosts for
// Database, optionally restricted to InUseOnly chunks.
type FindAllRequest struct {
	Database string `msgpack:"database"`
	InUseOnly bool  `msgpack:"in_use_only"`
}

// FindAllResponse carries every matching replica on the worker.
type FindAllResponse struct {
	Header   ResponseHeader      `msgpack:"header"`
	Replicas []types.ReplicaInfo `msgpack:"replicas"`
}

// EchoRequest asks a worker to return Data unchanged, after an
// optional DelayMs, exercising the transport's round trip.
type EchoRequest struct {
	Data    string `msgpack:"data"`
	DelayMs int64  `msgpack:"delay_ms"`
}

// EchoResponse carries the request's Data back.
type EchoResponse struct {
	Header ResponseHeader `msgpack:"header"`
	Data   string         `msgpack:"data"`
}

// SqlRequest asks a worker to execute Query against its local replica
// of Database.
type SqlRequest struct {
	Database  string `msgpack:"database"`
	Query     string `msgpack:"query"`
	MaxRows   uint32 `msgpack:"max_rows"`
}

// SqlResponse carries the query's result set as rows of column name
// to textual value, preserving column order via Columns.
type SqlResponse struct {
	Header  ResponseHeader      `msgpack:"header"`
	Columns []string            `msgpack:"columns"`
	Rows    []map[string]string `msgpack:"rows"`
}

// IndexRequest asks a worker to build or rebuild a secondary index on
// Table within Database.
type IndexRequest struct {
	Database string `msgpack:"database"`
	Table    string `msgpack:"table"`
	Rebuild  bool   `msgpack:"rebuild"`
}

// IndexResponse reports completion of an IndexRequest.
type IndexResponse struct {
	Header ResponseHeader `msgpack:"header"`
}

// StopRequest cancels the previously submitted request identified by
// TargetID.
type StopRequest struct {
	TargetID string `msgpack:"target_id"`
}

// StatusRequest polls the state of the previously submitted request
// identified by TargetID.
type StatusRequest struct {
	TargetID string `msgpack:"target_id"`
}

// DisposeRequest asks a worker to release any server-side resources it
// retains for the completed request identified by TargetID.
type DisposeRequest struct {
	TargetID string `msgpack:"target_id"`
}

// DisposeResponse confirms disposal.
type DisposeResponse struct {
	Header ResponseHeader `msgpack:"header"`
}
