package ingest

import (
	"errors"

	"github.com/cuemby/warren/pkg/types"
)

// Sentinel admission-rejection causes, wrapped as types.KindConfig
// TaxonomyErrors at the point they are detected.
var (
	ErrTransactionNotStarted = errors.New("ingest: transaction is not STARTED")
	ErrTableNotRegistered    = errors.New("ingest: table is not registered")
	ErrUnsupportedScheme     = errors.New("ingest: URL scheme is not supported")
	ErrUnknownWorker         = errors.New("ingest: worker is not enabled")
)
