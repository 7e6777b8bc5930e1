// Package job implements the fan-out coordinator base type shared by
// every concrete replication/query-engine job (FindAllJob,
// ReplicateJob, PurgeJob, MoveJob, RebalanceJob, ClusterHealthJob,
// QservSyncJob, QservStatusJob, SqlJob): CREATED -> IN_PROGRESS ->
// FINISHED, child tracking under a mutex, cancellation of live
// children, and an exactly-once completion notification. Concrete
// jobs embed *Job and issue their own children (qrequest.Request or
// qservmgt.Request values) against a Controller's messenger pools.
//
// Grounded on the teacher's per-entity fan-out loop (scheduler.schedule
// iterating services, reconciler iterating nodes) generalized from a
// polling loop to an event-driven child-completion callback.
package job
