package job

import (
	"github.com/cuemby/warren/pkg/qrequest"
)

// SqlJob broadcasts the same query to every worker in workers, each as
// an independent qrequest.Request child. It finishes SUCCESS only if
// every worker accepted the statement.
type SqlJob struct {
	*Job

	results map[string]*qrequest.SqlBody
}

// NewSqlJob builds and starts a SqlJob executing query against
// database on every worker in workers. maxRows bounds each worker's
// result set (0 for statements that return none).
func NewSqlJob(
	id string, opts Options, onDone func(*SqlJob),
	sender qrequest.Sender, workers []string, database, query string, maxRows uint32,
	expirationSec int,
) (*SqlJob, error) {
	sj := &SqlJob{results: make(map[string]*qrequest.SqlBody, len(workers))}

	j, err := fanOutReplication(id, opts, func(inner *Job) {
		if onDone != nil {
			onDone(sj)
		}
	}, sender, workers, func(worker string) qrequest.Body {
		b := &qrequest.SqlBody{Database: database, Query: query, MaxRows: maxRows}
		sj.results[worker] = b
		return b
	}, qrequest.Options{}, expirationSec)
	if err != nil {
		return nil, err
	}
	sj.Job = j
	return sj, nil
}

// Result returns the rows worker reported, or nil if it never
// responded successfully.
func (sj *SqlJob) Result(worker string) (columns []string, rows []map[string]string) {
	b, ok := sj.results[worker]
	if !ok {
		return nil, nil
	}
	return b.Columns, b.Rows
}
