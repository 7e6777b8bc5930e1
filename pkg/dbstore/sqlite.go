package dbstore

import (
	"context"
	gosql "database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/warren/pkg/types"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the bun/modernc.org-sqlite-backed Store implementation.
type SQLiteStore struct {
	db *bun.DB
}

// Open opens (creating if absent) a sqlite database at path and wraps it
// in a SQLiteStore. path may be "file::memory:" for an ephemeral store.
// Schema is not created; call InitSchema(ctx, store.DB()) once per
// process.
func Open(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	sqlDB, err := gosql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("dbstore: open %s: %w", path, err)
	}
	// A single writer connection avoids SQLITE_BUSY under WAL; readers
	// still see a consistent snapshot via WAL.
	sqlDB.SetMaxOpenConns(1)
	db := bun.NewDB(sqlDB, sqlitedialect.New())
	return &SQLiteStore{db: db}, nil
}

// DB exposes the underlying *bun.DB, primarily so InitSchema can be run
// against it at startup.
func (s *SQLiteStore) DB() *bun.DB {
	return s.db
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)

func (s *SQLiteStore) SaveControllerState(ctx context.Context, identity types.ControllerIdentity) error {
	row := &controllerRow{ID: identity.ID, Hostname: identity.Hostname, StartTime: identity.StartTime}
	_, err := s.db.NewInsert().Model(row).
		On("CONFLICT (id) DO UPDATE").
		Set("hostname = EXCLUDED.hostname").
		Set("start_time = EXCLUDED.start_time").
		Exec(ctx)
	if err != nil {
		return translate("SaveControllerState", err)
	}
	return nil
}

func (s *SQLiteStore) SaveJobState(ctx context.Context, job JobState) error {
	row := toJobRow(job)
	_, err := s.db.NewInsert().Model(row).
		On("CONFLICT (id) DO UPDATE").
		Set("state = EXCLUDED.state").
		Set("extended_state = EXCLUDED.extended_state").
		Set("priority = EXCLUDED.priority").
		Set("exclusive = EXCLUDED.exclusive").
		Set("preemptive = EXCLUDED.preemptive").
		Set("end_time = EXCLUDED.end_time").
		Set("heartbeat_time = EXCLUDED.heartbeat_time").
		Exec(ctx)
	if err != nil {
		return translate("SaveJobState", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateJobHeartbeat(ctx context.Context, jobID string, at time.Time) error {
	res, err := s.db.NewUpdate().Model((*jobRow)(nil)).
		Set("heartbeat_time = ?", at).
		Where("id = ?", jobID).
		Exec(ctx)
	if err != nil {
		return translate("UpdateJobHeartbeat", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errNotFound("UpdateJobHeartbeat")
	}
	return nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (JobState, error) {
	row := new(jobRow)
	err := s.db.NewSelect().Model(row).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, gosql.ErrNoRows) {
			return JobState{}, errNotFound("GetJob")
		}
		return JobState{}, translate("GetJob", err)
	}
	return fromJobRow(row), nil
}

func (s *SQLiteStore) ListJobs(ctx context.Context, onlyUnfinished bool) ([]JobState, error) {
	var rows []*jobRow
	q := s.db.NewSelect().Model(&rows).Order("begin_time ASC")
	if onlyUnfinished {
		q = q.Where("state != ?", string(types.StateFinished))
	}
	if err := q.Scan(ctx); err != nil {
		return nil, translate("ListJobs", err)
	}
	out := make([]JobState, len(rows))
	for i, r := range rows {
		out[i] = fromJobRow(r)
	}
	return out, nil
}

func (s *SQLiteStore) SaveRequestState(ctx context.Context, req RequestState) error {
	row := toRequestRow(req)
	_, err := s.db.NewInsert().Model(row).
		On("CONFLICT (id) DO UPDATE").
		Set("state = EXCLUDED.state").
		Set("extended_state = EXCLUDED.extended_state").
		Set("target_request_id = EXCLUDED.target_request_id").
		Set("server_error = EXCLUDED.server_error").
		Set("create_time_ms = EXCLUDED.create_time_ms").
		Set("start_time_ms = EXCLUDED.start_time_ms").
		Set("finish_time_ms = EXCLUDED.finish_time_ms").
		Set("response_read_time_ms = EXCLUDED.response_read_time_ms").
		Set("extended_persistent_state = EXCLUDED.extended_persistent_state").
		Exec(ctx)
	if err != nil {
		return translate("SaveRequestState", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateRequestState(ctx context.Context, id string, targetRequestID string, perf types.Performance) error {
	res, err := s.db.NewUpdate().Model((*requestRow)(nil)).
		Set("target_request_id = ?", strPtr(targetRequestID)).
		Set("start_time_ms = ?", perf.StartTimeMs).
		Set("finish_time_ms = ?", perf.FinishTimeMs).
		Set("response_read_time_ms = ?", perf.ResponseReadTimeMs).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return translate("UpdateRequestState", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errNotFound("UpdateRequestState")
	}
	return nil
}

func (s *SQLiteStore) GetRequest(ctx context.Context, id string) (RequestState, error) {
	row := new(requestRow)
	err := s.db.NewSelect().Model(row).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, gosql.ErrNoRows) {
			return RequestState{}, errNotFound("GetRequest")
		}
		return RequestState{}, translate("GetRequest", err)
	}
	return fromRequestRow(row), nil
}

func (s *SQLiteStore) ListRequestsByJob(ctx context.Context, jobID string) ([]RequestState, error) {
	var rows []*requestRow
	err := s.db.NewSelect().Model(&rows).Where("job_id = ?", jobID).Order("create_time_ms ASC").Scan(ctx)
	if err != nil {
		return nil, translate("ListRequestsByJob", err)
	}
	out := make([]RequestState, len(rows))
	for i, r := range rows {
		out[i] = fromRequestRow(r)
	}
	return out, nil
}

func (s *SQLiteStore) SaveReplicaInfo(ctx context.Context, replica types.ReplicaInfo) error {
	row := toReplicaRow(replica)
	_, err := s.db.NewInsert().Model(row).
		On("CONFLICT (worker, database, chunk) DO UPDATE").
		Set("status = EXCLUDED.status").
		Set("verify_time = EXCLUDED.verify_time").
		Set("files = EXCLUDED.files").
		Exec(ctx)
	if err != nil {
		return translate("SaveReplicaInfo", err)
	}
	return nil
}

// SaveReplicaInfoCollection replaces the full set of replicas reported by
// one worker for one database in a single transaction: rows present in
// replicas are upserted, rows absent from it are deleted. A concurrent
// reader never observes a partial snapshot.
func (s *SQLiteStore) SaveReplicaInfoCollection(ctx context.Context, worker, database string, replicas []types.ReplicaInfo) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		keep := make([]uint32, 0, len(replicas))
		for _, r := range replicas {
			row := toReplicaRow(r)
			if _, err := tx.NewInsert().Model(row).
				On("CONFLICT (worker, database, chunk) DO UPDATE").
				Set("status = EXCLUDED.status").
				Set("verify_time = EXCLUDED.verify_time").
				Set("files = EXCLUDED.files").
				Exec(ctx); err != nil {
				return translate("SaveReplicaInfoCollection", err)
			}
			keep = append(keep, r.Chunk)
		}
		q := tx.NewDelete().Model((*replicaRow)(nil)).
			Where("worker = ? AND database = ?", worker, database)
		if len(keep) > 0 {
			q = q.Where("chunk NOT IN (?)", bun.In(keep))
		}
		if _, err := q.Exec(ctx); err != nil {
			return translate("SaveReplicaInfoCollection", err)
		}
		return nil
	})
}

func (s *SQLiteStore) FindReplicas(ctx context.Context, database string, chunk uint32) ([]types.ReplicaInfo, error) {
	var rows []*replicaRow
	err := s.db.NewSelect().Model(&rows).
		Where("database = ? AND chunk = ?", database, chunk).
		Order("worker ASC").
		Scan(ctx)
	if err != nil {
		return nil, translate("FindReplicas", err)
	}
	out := make([]types.ReplicaInfo, len(rows))
	for i, r := range rows {
		out[i] = fromReplicaRow(r)
	}
	return out, nil
}

func (s *SQLiteStore) FindWorkerReplicas(ctx context.Context, worker, database string) ([]types.ReplicaInfo, error) {
	var rows []*replicaRow
	q := s.db.NewSelect().Model(&rows).Where("worker = ?", worker)
	if database != "" {
		q = q.Where("database = ?", database)
	}
	if err := q.Order("database ASC", "chunk ASC").Scan(ctx); err != nil {
		return nil, translate("FindWorkerReplicas", err)
	}
	out := make([]types.ReplicaInfo, len(rows))
	for i, r := range rows {
		out[i] = fromReplicaRow(r)
	}
	return out, nil
}

func (s *SQLiteStore) FindOldestReplicas(ctx context.Context, database string, limit int) ([]types.ReplicaInfo, error) {
	var rows []*replicaRow
	err := s.db.NewSelect().Model(&rows).
		Where("database = ? AND status = ?", database, string(types.ReplicaComplete)).
		Order("verify_time ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, translate("FindOldestReplicas", err)
	}
	out := make([]types.ReplicaInfo, len(rows))
	for i, r := range rows {
		out[i] = fromReplicaRow(r)
	}
	return out, nil
}

func (s *SQLiteStore) DeleteReplica(ctx context.Context, worker, database string, chunk uint32) error {
	res, err := s.db.NewDelete().Model((*replicaRow)(nil)).
		Where("worker = ? AND database = ? AND chunk = ?", worker, database, chunk).
		Exec(ctx)
	if err != nil {
		return translate("DeleteReplica", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errNotFound("DeleteReplica")
	}
	return nil
}

// CountGoodReplicas returns, per chunk, how many COMPLETE replicas exist
// on an enabled worker, for the min/max-replicas invariant checked by
// the replication Job family.
func (s *SQLiteStore) CountGoodReplicas(ctx context.Context, database string, enabledWorkers []string) (map[uint32]int, error) {
	type row struct {
		Chunk uint32
		N     int
	}
	var rows []row
	err := s.db.NewSelect().Model((*replicaRow)(nil)).
		Column("chunk").
		ColumnExpr("count(*) AS n").
		Where("database = ? AND status = ?", database, string(types.ReplicaComplete)).
		Where("worker IN (?)", bun.In(enabledWorkers)).
		GroupExpr("chunk").
		Scan(ctx, &rows)
	if err != nil {
		return nil, translate("CountGoodReplicas", err)
	}
	out := make(map[uint32]int, len(rows))
	for _, r := range rows {
		out[r.Chunk] = r.N
	}
	return out, nil
}

func (s *SQLiteStore) CreateTransaction(ctx context.Context, tx types.Transaction) (types.Transaction, error) {
	row := toTransactionRow(tx)
	_, err := s.db.NewInsert().Model(row).Returning("*").Exec(ctx)
	if err != nil {
		return types.Transaction{}, translate("CreateTransaction", err)
	}
	return fromTransactionRow(row), nil
}

func (s *SQLiteStore) GetTransaction(ctx context.Context, id uint32) (types.Transaction, error) {
	row := new(transactionRow)
	err := s.db.NewSelect().Model(row).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, gosql.ErrNoRows) {
			return types.Transaction{}, errNotFound("GetTransaction")
		}
		return types.Transaction{}, translate("GetTransaction", err)
	}
	return fromTransactionRow(row), nil
}

// UpdateTransactionState performs the CAS transition the Transaction
// state machine relies on: the row only moves from->to, never blind.
func (s *SQLiteStore) UpdateTransactionState(ctx context.Context, id uint32, from, to types.TransactionState) (types.Transaction, error) {
	q := s.db.NewUpdate().Model((*transactionRow)(nil)).
		Set("state = ?", string(to)).
		Where("id = ? AND state = ?", id, string(from))
	if to.IsTerminal() {
		q = q.Set("end_time = ?", time.Now().UTC())
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return types.Transaction{}, translate("UpdateTransactionState", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.Transaction{}, errOptimisticConflict("UpdateTransactionState")
	}
	return s.GetTransaction(ctx, id)
}

func (s *SQLiteStore) ListTransactions(ctx context.Context, f TransactionFilter) ([]types.Transaction, error) {
	var rows []*transactionRow
	q := s.db.NewSelect().Model(&rows)
	if f.Database != "" {
		q = q.Where("database = ?", f.Database)
	}
	if !f.AnyState {
		q = q.Where("state = ?", string(f.State))
	}
	if err := q.Order("begin_time DESC").Scan(ctx); err != nil {
		return nil, translate("ListTransactions", err)
	}
	out := make([]types.Transaction, len(rows))
	for i, r := range rows {
		out[i] = fromTransactionRow(r)
	}
	return out, nil
}

func (s *SQLiteStore) CreateContribution(ctx context.Context, c types.Contribution) (types.Contribution, error) {
	row := toContributionRow(c)
	row.UpdatedAt = time.Now().UTC()
	_, err := s.db.NewInsert().Model(row).Returning("*").Exec(ctx)
	if err != nil {
		return types.Contribution{}, translate("CreateContribution", err)
	}
	return fromContributionRow(row), nil
}

func (s *SQLiteStore) GetContribution(ctx context.Context, id uint64) (types.Contribution, error) {
	row := new(contributionRow)
	err := s.db.NewSelect().Model(row).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, gosql.ErrNoRows) {
			return types.Contribution{}, errNotFound("GetContribution")
		}
		return types.Contribution{}, translate("GetContribution", err)
	}
	return fromContributionRow(row), nil
}

func (s *SQLiteStore) UpdateContribution(ctx context.Context, c types.Contribution) error {
	row := toContributionRow(c)
	row.UpdatedAt = time.Now().UTC()
	res, err := s.db.NewUpdate().Model(row).WherePK().Exec(ctx)
	if err != nil {
		return translate("UpdateContribution", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errNotFound("UpdateContribution")
	}
	return nil
}

// ClaimNextContribution is the admission step of the asynchronous ingest
// pool: it atomically picks the oldest (lowest id) IN_PROGRESS
// contribution for worker whose start_ms is still 0, the unclaimed
// marker, and marks it claimed by stamping start_ms, mirroring gqs's sql.Puller.Pull pattern of folding
// selection and transition into one UPDATE ... RETURNING statement.
func (s *SQLiteStore) ClaimNextContribution(ctx context.Context, worker string) (types.Contribution, bool, error) {
	now := time.Now().UTC()
	subQuery := s.db.NewSelect().
		Model((*contributionRow)(nil)).
		Column("id").
		Where("worker = ? AND status = ? AND start_ms = 0", worker, string(types.ContributionInProgress)).
		Order("id ASC").
		Limit(1)
	var rows []*contributionRow
	err := s.db.NewUpdate().
		Model((*contributionRow)(nil)).
		Set("start_ms = ?", now.UnixMilli()).
		Set("updated_at = ?", now).
		Where("id IN (?)", subQuery).
		Returning("*").
		Scan(ctx, &rows)
	if err != nil {
		return types.Contribution{}, false, translate("ClaimNextContribution", err)
	}
	if len(rows) == 0 {
		return types.Contribution{}, false, nil
	}
	return fromContributionRow(rows[0]), true, nil
}

func (s *SQLiteStore) ListContributions(ctx context.Context, f ContributionFilter) ([]types.Contribution, error) {
	var rows []*contributionRow
	q := s.db.NewSelect().Model(&rows)
	if f.TransactionID != 0 {
		q = q.Where("transaction_id = ?", f.TransactionID)
	}
	if f.Worker != "" {
		q = q.Where("worker = ?", f.Worker)
	}
	if err := q.Order("id ASC").Scan(ctx); err != nil {
		return nil, translate("ListContributions", err)
	}
	out := make([]types.Contribution, len(rows))
	for i, r := range rows {
		out[i] = fromContributionRow(r)
	}
	return out, nil
}

func (s *SQLiteStore) RecordMessage(ctx context.Context, worker, requestID, direction string, payload []byte) error {
	row := &messageRow{
		Worker:    worker,
		RequestID: requestID,
		Direction: direction,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := s.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return translate("RecordMessage", err)
	}
	return nil
}
