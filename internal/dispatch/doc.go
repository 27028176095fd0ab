// Package dispatch routes server envelopes into the domain stores.
//
// Every envelope passes the same pipeline:
//
//	validate -> dedup -> ordering -> route -> store batch -> observers
//
// Malformed envelopes stop at validation and duplicates at dedup. Envelopes
// that arrive ahead of a gap stop at ordering until the gap closes, the
// stream's queue fills up, or the gap timer fires. Whatever the ordering
// buffer releases in one step is applied inside one state.Store batch, so
// observers never see half of it.
//
// # Routing
//
//	session.created, session.updated  upsert the session ("info")
//	session.deleted                   remove the session and everything under it
//	message.updated                   reconcile with placeholders, upsert ("info")
//	message.removed                   remove the message and its parts ("messageId")
//	message.part.updated              reconcile with placeholders, upsert ("part")
//	message.part.removed              remove the part ("partId")
//
// Any other type is forwarded verbatim to the Notifier after the batch
// commits.
//
// # Concurrency
//
// A Dispatcher serializes work per stream with a mutex per stream id; the
// gap timer enters through the same mutex before draining. Different streams
// proceed in parallel. Pump adds one goroutine per stream in front of Handle
// for callers that want to submit and move on.
//
// # Failure
//
// Nothing short of a malformed envelope is reported to the caller. A handler
// that errors or panics is logged, counted and journaled, and the rest of its
// batch is still applied.
package dispatch
