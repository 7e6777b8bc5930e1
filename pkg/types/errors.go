package types

import "errors"

// ErrorKind classifies an error into the taxonomy of §7: configuration,
// store, transport, protocol, worker refusal, timeout, cancellation.
// Every layer above the edge that first observes a vendor/transport
// failure consumes and propagates only these kinds.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindConfig
	KindStore
	KindTransport
	KindProtocol
	KindWorkerRefusal
	KindTimeout
	KindCancelled
)

func (k ErrorKind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindStore:
		return "store"
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindWorkerRefusal:
		return "worker_refusal"
	case KindTimeout:
		return "timeout"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// TaxonomyError wraps an underlying cause with a stable error kind, the
// one representation every layer above an edge (DatabaseServices,
// Messenger, protocol codec) is allowed to propagate.
type TaxonomyError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *TaxonomyError) Error() string {
	if e.Err == nil {
		return e.Op + ": " + e.Kind.String()
	}
	return e.Op + ": " + e.Kind.String() + ": " + e.Err.Error()
}

func (e *TaxonomyError) Unwrap() error { return e.Err }

// NewError builds a TaxonomyError for the given op/kind/cause.
func NewError(op string, kind ErrorKind, cause error) *TaxonomyError {
	return &TaxonomyError{Kind: kind, Op: op, Err: cause}
}

// Kind extracts the ErrorKind from err, or KindUnknown if err does not
// carry one.
func Kind(err error) ErrorKind {
	var te *TaxonomyError
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindUnknown
}

// Sentinel causes wrapped by dbstore at the vendor-error edge (§4.2,
// §7), distinguished from one another with errors.Is.
var (
	ErrNotFound         = errors.New("not found")
	ErrDuplicateEntry   = errors.New("duplicate entry")
	ErrNoReferencedRow  = errors.New("referenced row does not exist")
	ErrOptimisticConflict = errors.New("state changed concurrently")

	ErrChannelClosed = errors.New("channel closed")
	ErrOversized     = errors.New("message exceeds the configured hard cap")

	ErrUnknownStatus    = errors.New("unknown worker status code")
	ErrUnparseableBody  = errors.New("response body could not be parsed")

	ErrDuplicateRequest = errors.New("duplicate worker-side request")
	ErrChunkInUse       = errors.New("chunk is in use by another request")
	ErrBadRequest       = errors.New("worker rejected malformed request")

	ErrJobConflict = errors.New("a conflicting exclusive job holds this family")
)
