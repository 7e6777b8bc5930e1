package dbstore

import (
	"time"

	"github.com/uptrace/bun"
)

type controllerRow struct {
	bun.BaseModel `bun:"table:controllers"`

	ID        string    `bun:"id,pk"`
	Hostname  string    `bun:"hostname,notnull"`
	StartTime time.Time `bun:"start_time,notnull"`
}

type jobRow struct {
	bun.BaseModel `bun:"table:jobs"`

	ID            string     `bun:"id,pk"`
	Type          string     `bun:"type,notnull"`
	ParentID      *string    `bun:"parent_id,nullzero"`
	ControllerID  string     `bun:"controller_id,notnull"`
	State         string     `bun:"state,notnull"`
	ExtendedState string     `bun:"extended_state,notnull,default:'NONE'"`
	Priority      int        `bun:"priority,notnull,default:0"`
	Exclusive     bool       `bun:"exclusive,notnull,default:false"`
	Preemptive    bool       `bun:"preemptive,notnull,default:false"`
	BeginTime     time.Time  `bun:"begin_time,notnull"`
	EndTime       *time.Time `bun:"end_time,nullzero"`
	HeartbeatTime time.Time  `bun:"heartbeat_time,notnull"`
}

type requestRow struct {
	bun.BaseModel `bun:"table:requests"`

	ID                      string            `bun:"id,pk"`
	JobID                   *string           `bun:"job_id,nullzero"`
	Type                    string            `bun:"type,notnull"`
	Worker                  string            `bun:"worker,notnull"`
	State                   string            `bun:"state,notnull"`
	ExtendedState           string            `bun:"extended_state,notnull,default:'NONE'"`
	TargetRequestID         *string           `bun:"target_request_id,nullzero"`
	Priority                int               `bun:"priority,notnull,default:0"`
	KeepTracking            bool              `bun:"keep_tracking,notnull,default:false"`
	AllowDuplicate          bool              `bun:"allow_duplicate,notnull,default:false"`
	ServerError             string            `bun:"server_error,nullzero"`
	CreateTimeMs            int64             `bun:"create_time_ms,notnull,default:0"`
	StartTimeMs             int64             `bun:"start_time_ms,notnull,default:0"`
	FinishTimeMs            int64             `bun:"finish_time_ms,notnull,default:0"`
	ResponseReadTimeMs      int64             `bun:"response_read_time_ms,notnull,default:0"`
	ExtendedPersistentState map[string]string `bun:"extended_persistent_state,type:jsonb"`
}

type replicaFileJSON struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	MTime    time.Time `json:"mtime"`
	Checksum string    `json:"checksum"`
}

type replicaRow struct {
	bun.BaseModel `bun:"table:replicas"`

	Worker     string            `bun:"worker,pk"`
	Database   string            `bun:"database,pk"`
	Chunk      uint32            `bun:"chunk,pk"`
	Status     string            `bun:"status,notnull"`
	VerifyTime time.Time         `bun:"verify_time,notnull"`
	Files      []replicaFileJSON `bun:"files,type:jsonb"`
}

type transactionRow struct {
	bun.BaseModel `bun:"table:transactions"`

	ID        uint32            `bun:"id,pk,autoincrement"`
	Database  string            `bun:"database,notnull"`
	State     string            `bun:"state,notnull"`
	BeginTime time.Time         `bun:"begin_time,notnull"`
	EndTime   *time.Time        `bun:"end_time,nullzero"`
	Context   map[string]string `bun:"context,type:jsonb"`
}

// dialectJSON mirrors types.CsvDialectInput for jsonb storage.
type dialectJSON struct {
	FieldsTerminatedBy string `json:"fields_terminated_by"`
	FieldsEnclosedBy   string `json:"fields_enclosed_by"`
	FieldsEscapedBy    string `json:"fields_escaped_by"`
	LinesTerminatedBy  string `json:"lines_terminated_by"`
}

type contributionRow struct {
	bun.BaseModel `bun:"table:contributions"`

	ID            uint64      `bun:"id,pk,autoincrement"`
	TransactionID uint32      `bun:"transaction_id,notnull"`
	Worker        string      `bun:"worker,notnull"`
	Table         string      `bun:"table_name,notnull"`
	Chunk         uint32      `bun:"chunk,notnull"`
	IsOverlap     bool        `bun:"is_overlap,notnull,default:false"`
	URL           string      `bun:"url,notnull"`
	Dialect       dialectJSON `bun:"dialect,type:jsonb"`
	Status        string      `bun:"status,notnull"`
	NumBytes      int64             `bun:"num_bytes,notnull,default:0"`
	NumRows       int64             `bun:"num_rows,notnull,default:0"`
	StartMs       int64             `bun:"start_ms,notnull,default:0"`
	ReadMs        int64             `bun:"read_ms,notnull,default:0"`
	LoadMs        int64             `bun:"load_ms,notnull,default:0"`
	Warnings      []string          `bun:"warnings,type:jsonb"`
	Retries       int               `bun:"retries,notnull,default:0"`
	LastError     string            `bun:"last_error,nullzero"`
	UpdatedAt     time.Time         `bun:"updated_at,notnull"`
}

// messageRow audits one framed message exchanged with a worker, per
// spec §6's "one row per ... Message" persisted-state requirement.
type messageRow struct {
	bun.BaseModel `bun:"table:messages"`

	ID        uint64    `bun:"id,pk,autoincrement"`
	Worker    string    `bun:"worker,notnull"`
	RequestID string    `bun:"request_id,notnull"`
	Direction string    `bun:"direction,notnull"` // "outbound" | "inbound"
	Payload   []byte    `bun:"payload,type:blob"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}
