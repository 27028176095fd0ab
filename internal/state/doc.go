// Package state provides the normalized in-memory domain stores: sessions,
// messages and parts.
//
// # Collections
//
// Each collection is an id-keyed map with secondary indexes (messages by
// stream; parts by message and by stream). Collections never import each
// other. Referential checks are injected as plain functions when the Store is
// composed:
//
//   - a message upsert requires its session to exist
//   - a part upsert requires its message to exist
//
// Cascades are registered once at composition: removing a session removes its
// messages, and removing a message removes its parts.
//
// # Batches
//
// All writes go through Store.Update. One Update call is one batch: readers
// block until it finishes, so no partial state is ever visible, and observers
// receive a single Changes value after the batch commits. Update does not roll
// back; a failed write inside a batch leaves earlier writes in place.
//
// # Write Metadata
//
// Every stored record carries the sequence and timestamp of the envelope that
// produced it, and a fingerprint of its content. An upsert whose fingerprint
// equals the stored one is a no-op; an upsert carrying an older sequence than
// the stored record is stale and skipped.
package state
