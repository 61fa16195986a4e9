// Package store provides SQLite-backed durable storage for epiboard.
//
// Tables:
//   - facts: append-only cumulative counters keyed by (country, date)
//   - reference: population/continent lookup keyed by country
//   - locations: identifying columns of snapshot rows
//   - daily_stats: rebuildable cache of derived daily rows
//   - ingest_runs: one row per ingestion attempt
//   - ingest_lock: advisory single-writer lock
//
// # Update strategies
//
// Soft append (facts): rows are inserted with ON CONFLICT DO NOTHING inside a
// single transaction, and a caller-supplied check runs before commit. Triggers
// reject UPDATE and DELETE on facts, so history can only grow.
//
// Hard replace (facts rebuild, reference, locations, daily_stats): the table
// is dropped, recreated from the embedded schema and reloaded in one
// transaction.
//
// # Deterministic reads
//
// Every read has an ORDER BY with a COLLATE BINARY tiebreaker and every
// value is a bound parameter. Filtered reads go through internal/querysql.
//
// # Database configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - foreign_keys=ON
//   - _txlock=immediate: write transactions take the lock at BEGIN
package store
