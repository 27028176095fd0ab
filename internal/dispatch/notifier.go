package dispatch

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/roach88/eventsync/internal/envelope"
)

// ErrNotifierFull is returned by ChannelNotifier when its buffer is full.
var ErrNotifierFull = errors.New("notifier buffer full")

// Notifier receives auxiliary envelopes that no store handles.
type Notifier interface {
	Notify(ctx context.Context, env envelope.Envelope) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, env envelope.Envelope) error

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, env envelope.Envelope) error {
	return f(ctx, env)
}

type discardNotifier struct{}

func (discardNotifier) Notify(context.Context, envelope.Envelope) error { return nil }

// ChannelNotifier delivers envelopes on a buffered channel. Notify never
// blocks: when the buffer is full the envelope is dropped and counted.
type ChannelNotifier struct {
	ch      chan envelope.Envelope
	dropped atomic.Int64
}

// NewChannelNotifier creates a notifier with the given buffer size.
func NewChannelNotifier(size int) *ChannelNotifier {
	if size < 0 {
		size = 0
	}
	return &ChannelNotifier{ch: make(chan envelope.Envelope, size)}
}

// C returns the receive side of the channel.
func (n *ChannelNotifier) C() <-chan envelope.Envelope { return n.ch }

// Notify implements Notifier.
func (n *ChannelNotifier) Notify(ctx context.Context, env envelope.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case n.ch <- env:
		return nil
	default:
		n.dropped.Add(1)
		return ErrNotifierFull
	}
}

// Dropped returns how many envelopes were dropped on a full buffer.
func (n *ChannelNotifier) Dropped() int64 { return n.dropped.Load() }
