package qrequest

import (
	"github.com/cuemby/warren/pkg/protocol"
	"github.com/cuemby/warren/pkg/types"
)

// analyzeHeader is the AnalyzeResponse logic shared by every
// operation that carries nothing beyond a ResponseHeader worth
// inspecting: the worker's ExtendedStatus is authoritative, and
// SERVER_DUPLICATE is reported back to qrequest rather than resolved
// here.
func analyzeHeader(h protocol.ResponseHeader) (types.ExtendedState, bool) {
	return h.ExtendedStatus, h.ExtendedStatus == types.ExtendedServerDuplicate
}

// ReplicateBody asks a worker to create a replica of (Database, Chunk)
// pulled from SourceWorker.
type ReplicateBody struct {
	Database     string
	Chunk        uint32
	SourceWorker string

	Replica types.ReplicaInfo
}

func (b *ReplicateBody) Serialize() ([]byte, error) {
	return protocol.EncodeBody(protocol.ReplicateRequest{
		Database:     b.Database,
		Chunk:        b.Chunk,
		SourceWorker: b.SourceWorker,
	})
}

func (b *ReplicateBody) AnalyzeResponse(resp []byte) (types.ExtendedState, string, bool, error) {
	var r protocol.ReplicateResponse
	if err := protocol.DecodeBody(resp, &r); err != nil {
		return types.ExtendedNone, "", false, err
	}
	b.Replica = r.Replica
	ext, dup := analyzeHeader(r.Header)
	return ext, "", dup, nil
}

func (b *ReplicateBody) ExtendedPersistentState() []KV {
	return []KV{
		{Name: "database", Value: b.Database},
		{Name: "source_worker", Value: b.SourceWorker},
	}
}

// DeleteBody asks a worker to drop its replica of (Database, Chunk).
type DeleteBody struct {
	Database string
	Chunk    uint32

	Replica types.ReplicaInfo
}

func (b *DeleteBody) Serialize() ([]byte, error) {
	return protocol.EncodeBody(protocol.DeleteRequest{Database: b.Database, Chunk: b.Chunk})
}

func (b *DeleteBody) AnalyzeResponse(resp []byte) (types.ExtendedState, string, bool, error) {
	var r protocol.DeleteResponse
	if err := protocol.DecodeBody(resp, &r); err != nil {
		return types.ExtendedNone, "", false, err
	}
	b.Replica = r.Replica
	ext, dup := analyzeHeader(r.Header)
	return ext, "", dup, nil
}

func (b *DeleteBody) ExtendedPersistentState() []KV {
	return []KV{{Name: "database", Value: b.Database}}
}

// FindAllBody asks a worker to report every replica it hosts for
// Database.
type FindAllBody struct {
	Database  string
	InUseOnly bool

	Replicas []types.ReplicaInfo
}

func (b *FindAllBody) Serialize() ([]byte, error) {
	return protocol.EncodeBody(protocol.FindAllRequest{Database: b.Database, InUseOnly: b.InUseOnly})
}

func (b *FindAllBody) AnalyzeResponse(resp []byte) (types.ExtendedState, string, bool, error) {
	var r protocol.FindAllResponse
	if err := protocol.DecodeBody(resp, &r); err != nil {
		return types.ExtendedNone, "", false, err
	}
	b.Replicas = r.Replicas
	ext, dup := analyzeHeader(r.Header)
	return ext, "", dup, nil
}

func (b *FindAllBody) ExtendedPersistentState() []KV {
	return []KV{{Name: "database", Value: b.Database}}
}

// EchoBody exercises the replication-worker transport's round trip.
type EchoBody struct {
	Data    string
	DelayMs int64

	Got string
}

func (b *EchoBody) Serialize() ([]byte, error) {
	return protocol.EncodeBody(protocol.EchoRequest{Data: b.Data, DelayMs: b.DelayMs})
}

func (b *EchoBody) AnalyzeResponse(resp []byte) (types.ExtendedState, string, bool, error) {
	var r protocol.EchoResponse
	if err := protocol.DecodeBody(resp, &r); err != nil {
		return types.ExtendedNone, "", false, err
	}
	b.Got = r.Data
	ext, dup := analyzeHeader(r.Header)
	return ext, "", dup, nil
}

func (b *EchoBody) ExtendedPersistentState() []KV { return nil }

// SqlBody asks a worker to execute Query against its local replica of
// Database.
type SqlBody struct {
	Database string
	Query    string
	MaxRows  uint32

	Columns []string
	Rows    []map[string]string
}

func (b *SqlBody) Serialize() ([]byte, error) {
	return protocol.EncodeBody(protocol.SqlRequest{Database: b.Database, Query: b.Query, MaxRows: b.MaxRows})
}

func (b *SqlBody) AnalyzeResponse(resp []byte) (types.ExtendedState, string, bool, error) {
	var r protocol.SqlResponse
	if err := protocol.DecodeBody(resp, &r); err != nil {
		return types.ExtendedNone, "", false, err
	}
	b.Columns = r.Columns
	b.Rows = r.Rows
	ext, dup := analyzeHeader(r.Header)
	return ext, "", dup, nil
}

func (b *SqlBody) ExtendedPersistentState() []KV {
	return []KV{{Name: "database", Value: b.Database}, {Name: "query", Value: b.Query}}
}

// IndexBody asks a worker to build or rebuild a secondary index on
// Table within Database.
type IndexBody struct {
	Database string
	Table    string
	Rebuild  bool
}

func (b *IndexBody) Serialize() ([]byte, error) {
	return protocol.EncodeBody(protocol.IndexRequest{Database: b.Database, Table: b.Table, Rebuild: b.Rebuild})
}

func (b *IndexBody) AnalyzeResponse(resp []byte) (types.ExtendedState, string, bool, error) {
	var r protocol.IndexResponse
	if err := protocol.DecodeBody(resp, &r); err != nil {
		return types.ExtendedNone, "", false, err
	}
	ext, dup := analyzeHeader(r.Header)
	return ext, "", dup, nil
}

func (b *IndexBody) ExtendedPersistentState() []KV {
	return []KV{{Name: "database", Value: b.Database}, {Name: "table", Value: b.Table}}
}
