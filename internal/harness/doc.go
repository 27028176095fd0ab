// Package harness runs YAML scenarios against a real Dispatcher.
//
// # Scenario Format
//
//	name: reorder_release
//	description: "What this scenario validates"
//	config:                  # optional overlay on config.Default()
//	  ordering:
//	    timeout_ms: 1000
//	ids: [tmp-a, tmp-b]      # optional placeholder ids (default tmp-1, tmp-2, ...)
//	steps:
//	  - deliver:
//	      type: message.updated
//	      stream: s1
//	      seq: 2
//	      properties: { info: { id: m1, role: user } }
//	  - optimistic_message: { stream: s1, role: user }
//	  - optimistic_part: { message: tmp-1, text: "hello" }
//	  - advance_ms: 1000
//	  - resume: { stream: s1, last_seq: 10 }
//	  - sweep: true
//	  - close_stream: s1
//	assertions:
//	  - type: count
//	    collection: messages
//	    stream: s1
//	    count: 2
//	  - type: exists
//	    collection: messages
//	    id: m1
//	    expect: { role: user, optimistic: false }
//	  - type: absent
//	    collection: messages
//	    id: tmp-1
//	  - type: forwarded
//	    event_type: permission.updated
//	    count: 1
//	  - type: stats
//	    expect: { applied: 2, queued: 1 }
//
// A deliver step without event_id gets "evt-<stream>-<seq>" (or
// "evt-step-<n>" when unordered); without timestamp it gets the manual
// clock's current time.
//
// # Determinism
//
// Every run uses a fresh in-memory store and journal, a testutil.ManualClock
// (for both wall time and gap timers) and fixed placeholder ids. Timers fire
// only on advance_ms steps, so traces are identical across runs and can be
// compared against golden files.
//
// # Trace
//
// The trace is the journal, read back after every step and tagged with the
// step number, plus one event per local action (placeholders, sweeps,
// stream closes).
package harness
