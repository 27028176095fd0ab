package dispatch

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/eventsync/internal/envelope"
	"github.com/roach88/eventsync/internal/model"
)

func TestPump_DrainsEveryStreamOnStop(t *testing.T) {
	f := newFixture(t)
	p := NewPump(f.d, 2)
	p.Start(context.Background())

	const streams, perStream = 5, 20
	for s := 0; s < streams; s++ {
		stream := fmt.Sprintf("s%d", s)
		require.NoError(t, p.Submit(sessionCreated(stream, 1)))
		for seq := int64(2); seq <= perStream; seq++ {
			require.NoError(t, p.Submit(messageUpdated(stream, seq, fmt.Sprintf("%s-m%d", stream, seq), model.RoleUser)))
		}
	}
	p.Stop()

	assert.Equal(t, int64(streams*perStream), p.Handled())
	sessions, messages, _ := f.st.Counts()
	assert.Equal(t, streams, sessions)
	assert.Equal(t, streams*(perStream-1), messages)
}

func TestPump_PreservesSubmissionOrderPerStream(t *testing.T) {
	rec := &recorder{}
	f := newFixture(t, WithJournal(rec))
	p := NewPump(f.d, 4)
	p.Start(context.Background())

	var want []int64
	for seq := int64(1); seq <= 50; seq++ {
		var env envelope.Envelope
		if seq == 1 {
			env = sessionCreated("s1", 1)
		} else {
			env = messageUpdated("s1", seq, fmt.Sprintf("m%d", seq), model.RoleUser)
		}
		require.NoError(t, p.Submit(env))
		want = append(want, seq)
	}
	p.Stop()

	assert.Equal(t, want, rec.applied())
	assert.Zero(t, f.d.Stats().Queued, "lane order never opens a gap")
}

func TestPump_SubmitRequiresRunning(t *testing.T) {
	f := newFixture(t)
	p := NewPump(f.d, 1)

	assert.ErrorIs(t, p.Submit(sessionCreated("s1", 1)), ErrPumpStopped)

	p.Start(context.Background())
	require.NoError(t, p.Submit(sessionCreated("s1", 1)))
	p.Stop()
	p.Stop()

	assert.ErrorIs(t, p.Submit(sessionCreated("s2", 1)), ErrPumpStopped)
}

func TestPump_LaneFull(t *testing.T) {
	f := newFixture(t)
	p := NewPump(f.d, 1, WithLaneSize(1))
	p.Start(context.Background())

	// Hold the only slot so the lane goroutine cannot hand anything to Handle.
	require.True(t, p.semaphore.TryAcquire(1))

	var accepted int
	var err error
	for seq := int64(1); seq <= 3 && err == nil; seq++ {
		if err = p.Submit(messageUpdated("s1", seq, fmt.Sprintf("m%d", seq), model.RoleUser)); err == nil {
			accepted++
		}
	}
	require.Error(t, err)
	assert.Contains(t, err.Error(), `lane full for stream "s1"`)
	assert.LessOrEqual(t, accepted, 2)

	p.semaphore.Release(1)
	p.Stop()
	assert.Equal(t, int64(accepted), p.Handled())
}
