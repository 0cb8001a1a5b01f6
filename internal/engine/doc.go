// Package engine implements the ordered-step overlay/freeze classification
// engine.
//
// The engine partitions an area of interest into access categories by
// executing a rule table strictly in step order. Each step pulls candidate
// polygon features from a layer loader, resolves each feature's category,
// subtracts everything earlier steps already decided, and commits the
// remainder. A region's category is fixed by the first step that touches
// it and is immutable to every later step.
//
// ARCHITECTURE:
//
// Sequential Steps, Parallel Features:
// Steps run one at a time because step i+1 must observe the complete
// decision area of step i. Within a step, features are an unordered set:
// repair and category resolution run across a worker pool, and the
// per-worker results merge through a geometric union, which is associative
// and commutative, so scheduling cannot affect the outcome.
//
// Append-Only Commit Log:
// Every commit appends a (step, category, delta) entry stamped by a
// monotonic logical clock and identified by a content-addressed hash.
// The frozen region state is fully reconstructible by replaying the log
// in seq order, which keeps runs deterministic and supports resuming an
// interrupted run from a checkpoint.
//
// CRITICAL PATTERNS:
//
// Cross-step order is the defining contract - it is exactly the rule
// table's sequence index, never inferred from layer contents or discovery
// order.
//
// Per-feature failures (invalid geometry, unmapped attribute value) are
// recorded as warnings and never abort a step. Per-step structural
// failures (missing layer) abort the run with all diagnostics accumulated
// so far. Every skipped feature is recorded with its identity and area;
// silent area loss is a design violation.
package engine
