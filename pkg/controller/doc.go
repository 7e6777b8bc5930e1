// Package controller implements the process-wide singleton every
// Request and Job is attached to: it owns the replication and query
// messenger pools, the durable store, the configuration snapshot, and
// the in-memory job admission table (spec §4.7).
package controller
