package dbstore

import (
	"context"
	"errors"

	"github.com/uptrace/bun"
)

var schemaModels = []interface{}{
	(*controllerRow)(nil),
	(*jobRow)(nil),
	(*requestRow)(nil),
	(*replicaRow)(nil),
	(*transactionRow)(nil),
	(*contributionRow)(nil),
	(*messageRow)(nil),
}

func createTables(ctx context.Context, db bun.IDB) error {
	for _, model := range schemaModels {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

func createIndexes(ctx context.Context, db bun.IDB) error {
	steps := []func() error{
		func() error {
			_, err := db.NewCreateIndex().Model((*jobRow)(nil)).
				Index("idx_jobs_controller_state").Column("controller_id", "state").
				IfNotExists().Exec(ctx)
			return err
		},
		func() error {
			_, err := db.NewCreateIndex().Model((*requestRow)(nil)).
				Index("idx_requests_job").Column("job_id").
				IfNotExists().Exec(ctx)
			return err
		},
		func() error {
			_, err := db.NewCreateIndex().Model((*requestRow)(nil)).
				Index("idx_requests_worker_state").Column("worker", "state").
				IfNotExists().Exec(ctx)
			return err
		},
		func() error {
			_, err := db.NewCreateIndex().Model((*replicaRow)(nil)).
				Index("idx_replicas_database_chunk").Column("database", "chunk").
				IfNotExists().Exec(ctx)
			return err
		},
		func() error {
			_, err := db.NewCreateIndex().Model((*transactionRow)(nil)).
				Index("idx_transactions_database_state").Column("database", "state").
				IfNotExists().Exec(ctx)
			return err
		},
		func() error {
			_, err := db.NewCreateIndex().Model((*contributionRow)(nil)).
				Index("idx_contributions_transaction_status").Column("transaction_id", "status").
				IfNotExists().Exec(ctx)
			return err
		},
		func() error {
			_, err := db.NewCreateIndex().Model((*contributionRow)(nil)).
				Index("idx_contributions_worker_status").Column("worker", "status").
				IfNotExists().Exec(ctx)
			return err
		},
		func() error {
			_, err := db.NewCreateIndex().Model((*messageRow)(nil)).
				Index("idx_messages_worker_request").Column("worker", "request_id").
				IfNotExists().Exec(ctx)
			return err
		},
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

// InitSchema creates the tables and indexes DatabaseServices requires,
// inside a single transaction. It is idempotent and safe to call on
// every process start.
func InitSchema(ctx context.Context, db *bun.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := createTables(ctx, tx); err != nil {
		return errors.Join(err, tx.Rollback())
	}
	if err := createIndexes(ctx, tx); err != nil {
		return errors.Join(err, tx.Rollback())
	}
	return tx.Commit()
}
