// Package idutil collects the small cross-cutting helpers shared by
// qrequest, qservmgt, job and ingest: id generation, a per-key mutex
// registry, an injectable clock, and millisecond performance counters.
package idutil
