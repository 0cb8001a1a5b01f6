// Package checkpoint provides SQLite-backed persistence for classification
// runs.
//
// After every completed step the engine hands over the step's commit-log
// suffix, its diagnostics report and the new step cursor; all three are
// written in one transaction, so a crash leaves the database at the last
// completed step, never between steps.
//
// # Critical Patterns
//
//   - All ordering uses seq INTEGER (logical clock), never timestamps.
//   - Commit rows are idempotent: ON CONFLICT(id) DO NOTHING, keyed by the
//     content-addressed commit id, so re-saving a step after a partially
//     applied checkpoint is harmless.
//   - Log reads always ORDER BY seq ASC so replay sees entries in commit
//     order.
//   - Geometry is stored as WKB, the same bytes the commit id was computed
//     over; a tampered row fails id verification during replay.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: enforce referential integrity
package checkpoint
