// Package store provides SQLite-backed storage for reference-data fixtures
// and document change logs.
//
// Tables:
//   - reference_data: response bodies keyed by (endpoint, canonical query),
//     served to the engine through refdata.FixtureFetcher and to remote
//     clients through the reference-data service
//   - field_changes: the change log of each document, one row per emitted change
//   - submissions: the snapshot returned by each Submit
//
// # Ordering
//
// All ordering uses seq INTEGER (the engine's logical clock), NEVER
// timestamps. Change log reads are ORDER BY seq ASC so that replaying a log
// reproduces the emission order exactly.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Multi-value columns are stored as canonical JSON from internal/ir.
package store
