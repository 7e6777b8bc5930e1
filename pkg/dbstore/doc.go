/*
Package dbstore implements DatabaseServices: the sole durable store for
controllers, jobs, requests, replicas, transactions, contributions and
outbound messages (spec §4.2, §6 "Persisted state layout").

Unlike the teacher's BoltDB-backed pkg/storage, dbstore is backed by
github.com/uptrace/bun over modernc.org/sqlite, grounded on
RomanQed/gqs's sql package: atomic "claim the next eligible row" state
transitions are expressed as a single UPDATE ... RETURNING statement
(see ClaimNextContribution), and SaveReplicaInfoCollection performs its
diff-and-replace inside one transaction so a concurrent reader never
observes a partial snapshot.

Vendor errors (sqlite constraint violations) are translated once, here,
at the edge, into the taxonomy kinds of pkg/types/errors.go — no other
package inspects a sqlite-specific error value.
*/
package dbstore
