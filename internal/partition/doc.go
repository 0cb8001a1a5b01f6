// Package partition defines the shared value types of the classification
// engine: categories, source features, the ordered rule table, per-step
// diagnostics, and the append-only commit log entry.
//
// The package also provides the two pure functions at the heart of each
// step: attribute filtering (which features does a step consider) and
// category resolution (which category does a matching feature get).
// Both are deterministic and side-effect free; all mutation lives in
// the engine package.
//
// Identity of commit-log entries is content-addressed: a canonical JSON
// encoding (sorted keys, NFC-normalised strings, no floats) is hashed
// with a domain-separated SHA-256. Replaying the same run therefore
// produces byte-identical entry IDs.
package partition
