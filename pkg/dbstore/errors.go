package dbstore

import (
	"errors"
	"strings"

	"github.com/cuemby/warren/pkg/types"
	sqlite "modernc.org/sqlite"
)

// translate maps a raw error returned by bun/database-sql into the
// taxonomy kinds of pkg/types, the only place in the module allowed to
// inspect a sqlite-specific error value.
func translate(op string, err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		msg := sqliteErr.Error()
		switch {
		case strings.Contains(msg, "UNIQUE constraint failed"):
			return types.NewError(op, types.KindStore, types.ErrDuplicateEntry)
		case strings.Contains(msg, "FOREIGN KEY constraint failed"):
			return types.NewError(op, types.KindStore, types.ErrNoReferencedRow)
		}
	}
	return types.NewError(op, types.KindStore, err)
}

// errNotFound is returned by single-row lookups when sql.ErrNoRows
// (already unwrapped by bun) indicates an absent row.
func errNotFound(op string) error {
	return types.NewError(op, types.KindStore, types.ErrNotFound)
}

func errOptimisticConflict(op string) error {
	return types.NewError(op, types.KindStore, types.ErrOptimisticConflict)
}
