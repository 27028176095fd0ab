package testutil

import (
	"fmt"

	"github.com/roach88/eventsync/internal/envelope"
)

// Envelope builds an ordered envelope for tests. The event id is derived
// from the stream and sequence so that the same (stream, seq) pair always
// yields the same id.
func Envelope(typ, streamID string, seq int64, props map[string]any) envelope.Envelope {
	if props == nil {
		props = map[string]any{}
	}
	return envelope.Envelope{
		Type:        typ,
		Properties:  props,
		EventID:     fmt.Sprintf("evt-%s-%d", streamID, seq),
		Sequence:    seq,
		HasSequence: true,
		Timestamp:   Epoch.UnixMilli() + seq,
		StreamID:    streamID,
	}
}

// Unordered builds an envelope without stream ordering metadata.
func Unordered(typ, eventID string, props map[string]any) envelope.Envelope {
	if props == nil {
		props = map[string]any{}
	}
	return envelope.Envelope{
		Type:       typ,
		Properties: props,
		EventID:    eventID,
		Timestamp:  Epoch.UnixMilli(),
	}
}

// Sequences extracts sequence numbers, preserving order.
func Sequences(envs []envelope.Envelope) []int64 {
	out := make([]int64, len(envs))
	for i, e := range envs {
		out[i] = e.Sequence
	}
	return out
}
