// Package qservmgt implements QservMgtRequest: a hierarchy parallel to
// qrequest.Request but targeting query-engine workers over the JSON
// transport (pkg/protocol's gjson/sjson bodies) instead of the
// msgpack replication-worker transport. It shares qrequest's State
// enum (types.RequestState) and ExtendedState (types.ExtendedState),
// adding SERVER_BAD_RESPONSE for JSON bodies that fail to parse.
// Cancellation is best-effort: it asks the Sender to cancel but does
// not guarantee an in-flight call is interrupted.
package qservmgt
