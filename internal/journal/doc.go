// Package journal records what happened to every envelope a dispatcher saw,
// in a SQLite database scoped to the running session.
//
// The journal is diagnostic. It answers "why is this message missing" after
// the fact: each envelope gets one row per outcome (applied, duplicate,
// stale, malformed, ...) with the stream, sequence and a free-form detail.
// Nothing is ever read back into the domain stores.
//
// # Idempotency
//
//   - UNIQUE(event_id, outcome) for envelopes that carry an id
//   - writes use ON CONFLICT DO NOTHING, so a retransmitted envelope that
//     meets the same fate does not grow the journal
//
// # Ordering
//
// Reads return rows in insertion order (ORDER BY id ASC), which is the
// order the dispatcher decided outcomes.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes (ignored for :memory:)
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - user_version tracks applied migrations
package journal
