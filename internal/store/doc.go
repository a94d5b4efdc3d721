// Package store provides the SQLite-backed run ledger.
//
// The ledger is append-only:
//   - Runs: one row per coordinator run, successful or not
//   - Audit entries: the verified audit log of a run, line by line
//
// # Ordering
//
// Runs are listed newest first (started_at DESC, id DESC). Audit entries are
// returned in log order (seq ASC). Run ids are UUIDv7, so id order and start
// order agree.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
