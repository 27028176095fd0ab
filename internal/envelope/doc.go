// Package envelope defines the server event envelope consumed by the sync core.
//
// An envelope is one discrete server-originated event carrying ordering and
// identity metadata:
//
//   - EventID: unique, time-sortable identity used for deduplication
//   - StreamID + Sequence: per-stream monotonic position used for ordering
//   - Timestamp: epoch milliseconds, used as ordering metadata on writes
//
// Envelopes without a StreamID or without a sequence bypass ordering and are
// applied immediately.
//
// # Canonical Fingerprints
//
// Fingerprint computes a content hash over canonical JSON (keys sorted by
// UTF-16 code units, NFC-normalized strings, no HTML escaping). Stores use
// it to detect retransmitted updates whose meaningful fields did not change.
package envelope
