/*
Package types defines the domain model shared by every layer of the
replication and ingest control plane: workers, database families,
databases, tables, replicas, transactions, contributions, and the
Request/Job state-machine vocabulary (RequestState, ExtendedState).

Other packages hold these types by value or by name (worker names,
database names) rather than by pointer, mirroring how Configuration and
DatabaseServices are the only components allowed to own authoritative
copies.
*/
package types
