// Package protocol implements the wire framing and message envelopes
// shared by the replication-worker and query-worker transports: a
// length-prefixed frame (frame.go) carrying either a msgpack-encoded
// binary body (replication workers, messages.go) or a JSON body built
// with gjson/sjson (query workers, qservmsg.go). It is grounded on
// original_source/src/replica/util/ProtocolBuffer.h, translated from
// a Protobuf-oriented growable buffer into idiomatic Go io.Reader/
// io.Writer framing.
package protocol
