// Package qrequest implements the Request abstraction: one outbound
// operation against a replication worker, carried over a messenger
// Channel. It owns the CREATED -> IN_PROGRESS -> FINISHED state
// machine, the one-shot completion callback, keep_tracking/expiration
// timers, and SERVER_DUPLICATE suppression. Concrete operations
// (Replicate, Delete, FindAll, Echo, Sql, Index) implement the Body
// interface; qrequest supplies everything else.
//
// State/ExtendedState reuse types.RequestState/types.ExtendedState
// directly rather than redefining a parallel enum, in the spirit of
// RomanQed/gqs's job.Status: a small string-backed type with a
// canonical String() form.
package qrequest
