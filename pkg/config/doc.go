// Package config implements Configuration: a versioned, typed snapshot
// of cluster topology (workers, database families, databases, tables)
// and named parameters, loaded from a YAML document with environment
// variable expansion, validated against a published Schema, and
// broadcast on change to whoever subscribes to the Snapshot's Bus.
package config
