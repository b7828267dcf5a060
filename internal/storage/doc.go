// Package storage persists standings snapshots and tick run records.
//
// Two drivers exist: "sqlite" (single database file, WAL) and "csvdir"
// (one CSV file per snapshot, the layout the standalone download tooling
// produces, with run records in a JSONL sidecar). Persistence is optional;
// with no driver configured the daemon still polls and logs.
package storage
