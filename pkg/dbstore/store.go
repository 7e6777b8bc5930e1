package dbstore

import (
	"context"
	"time"

	"github.com/cuemby/warren/pkg/types"
)

// JobState is the durable row saved for one Job (spec §4.2 `saveState(Job)`).
type JobState struct {
	ID            string
	Type          string
	ParentID      string // empty for a root Job
	ControllerID  string
	State         types.RequestState
	ExtendedState types.ExtendedState
	Priority      int
	Exclusive     bool
	Preemptive    bool
	BeginTime     time.Time
	EndTime       time.Time
	HeartbeatTime time.Time
}

// RequestState is the durable row saved for one Request (spec §4.2
// `saveState(Request)` / `updateRequestState`).
type RequestState struct {
	ID                      string
	JobID                   string // empty for an unparented Request
	Type                    string
	Worker                  string
	State                   types.RequestState
	ExtendedState           types.ExtendedState
	TargetRequestID         string
	Priority                int
	KeepTracking            bool
	AllowDuplicate          bool
	ServerError             string
	Performance             types.Performance
	ExtendedPersistentState map[string]string
}

// TransactionFilter narrows ListTransactions.
type TransactionFilter struct {
	Database string // empty = any
	State    types.TransactionState
	AnyState bool // when true, State is ignored
}

// ContributionFilter narrows ListContributions.
type ContributionFilter struct {
	TransactionID uint32
	Worker        string // empty = any
}

// Store is the sole entry point for durable control-plane state
// (spec §4.2). Every method is safe for concurrent use; per-transaction
// state transitions additionally rely on the caller holding the
// corresponding idutil.NamedMutexRegistry lock.
type Store interface {
	// Controllers
	SaveControllerState(ctx context.Context, identity types.ControllerIdentity) error

	// Jobs
	SaveJobState(ctx context.Context, job JobState) error
	UpdateJobHeartbeat(ctx context.Context, jobID string, at time.Time) error
	GetJob(ctx context.Context, id string) (JobState, error)
	ListJobs(ctx context.Context, onlyUnfinished bool) ([]JobState, error)

	// Requests
	SaveRequestState(ctx context.Context, req RequestState) error
	UpdateRequestState(ctx context.Context, id string, targetRequestID string, perf types.Performance) error
	GetRequest(ctx context.Context, id string) (RequestState, error)
	ListRequestsByJob(ctx context.Context, jobID string) ([]RequestState, error)

	// Replicas
	SaveReplicaInfo(ctx context.Context, replica types.ReplicaInfo) error
	SaveReplicaInfoCollection(ctx context.Context, worker, database string, replicas []types.ReplicaInfo) error
	FindReplicas(ctx context.Context, database string, chunk uint32) ([]types.ReplicaInfo, error)
	FindWorkerReplicas(ctx context.Context, worker, database string) ([]types.ReplicaInfo, error)
	FindOldestReplicas(ctx context.Context, database string, limit int) ([]types.ReplicaInfo, error)
	DeleteReplica(ctx context.Context, worker, database string, chunk uint32) error
	CountGoodReplicas(ctx context.Context, database string, enabledWorkers []string) (map[uint32]int, error)

	// Transactions
	CreateTransaction(ctx context.Context, tx types.Transaction) (types.Transaction, error)
	GetTransaction(ctx context.Context, id uint32) (types.Transaction, error)
	UpdateTransactionState(ctx context.Context, id uint32, from, to types.TransactionState) (types.Transaction, error)
	ListTransactions(ctx context.Context, f TransactionFilter) ([]types.Transaction, error)

	// Contributions
	CreateContribution(ctx context.Context, c types.Contribution) (types.Contribution, error)
	GetContribution(ctx context.Context, id uint64) (types.Contribution, error)
	UpdateContribution(ctx context.Context, c types.Contribution) error
	// ClaimNextContribution atomically transitions the eligible
	// (IN_PROGRESS, not yet claimed) contribution for worker with the
	// lowest id to "claimed" and returns it, or (types.Contribution{},
	// false, nil) when none are eligible. Contributions carry no priority,
	// so they are claimed in creation order.
	ClaimNextContribution(ctx context.Context, worker string) (types.Contribution, bool, error)
	ListContributions(ctx context.Context, f ContributionFilter) ([]types.Contribution, error)

	// Messages
	RecordMessage(ctx context.Context, worker, requestID, direction string, payload []byte) error

	// Utility
	Close() error
}
