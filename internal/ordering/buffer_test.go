package ordering

import (
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/eventsync/internal/envelope"
	"github.com/roach88/eventsync/internal/testutil"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestBuffer(t *testing.T, clock *testutil.ManualClock, maxQueue int, onExpire ExpireFunc) *Buffer {
	t.Helper()
	return New(Options{
		Timeout:      30 * time.Second,
		MaxQueueSize: maxQueue,
		Scheduler:    clock,
		Logger:       quietLogger(),
	}, onExpire)
}

func ev(seq int64) envelope.Envelope {
	return testutil.Envelope("message.updated", "s1", seq, nil)
}

func TestAdd_InOrderReleasesImmediately(t *testing.T) {
	b := newTestBuffer(t, testutil.NewManualClock(), 100, nil)

	for seq := int64(1); seq <= 3; seq++ {
		released, status := b.Add(ev(seq))
		assert.Equal(t, StatusReleased, status)
		assert.Equal(t, []int64{seq}, testutil.Sequences(released))
	}

	last, ok := b.LastProcessed("s1")
	require.True(t, ok)
	assert.Equal(t, int64(3), last)
}

func TestAdd_GapThenFill(t *testing.T) {
	b := newTestBuffer(t, testutil.NewManualClock(), 100, nil)

	released, status := b.Add(ev(2))
	assert.Empty(t, released, "seq 2 waits for seq 1")
	assert.Equal(t, StatusQueued, status)

	released, status = b.Add(ev(1))
	assert.Equal(t, StatusReleased, status)
	assert.Equal(t, []int64{1, 2}, testutil.Sequences(released))
	assert.Equal(t, 0, b.Pending("s1"))
}

func TestAdd_StaleAndDuplicateSequences(t *testing.T) {
	b := newTestBuffer(t, testutil.NewManualClock(), 100, nil)

	b.Add(ev(1))
	b.Add(ev(3))

	released, status := b.Add(ev(1))
	assert.Empty(t, released)
	assert.Equal(t, StatusStale, status, "already processed")

	released, status = b.Add(ev(3))
	assert.Empty(t, released)
	assert.Equal(t, StatusStale, status, "already queued")
	assert.Equal(t, 1, b.Pending("s1"))
}

func TestAdd_UnorderedBypasses(t *testing.T) {
	b := newTestBuffer(t, testutil.NewManualClock(), 100, nil)

	e := testutil.Unordered("permission.asked", "p1", nil)
	released, status := b.Add(e)
	assert.Equal(t, StatusUnordered, status)
	require.Len(t, released, 1)
	assert.Equal(t, "p1", released[0].EventID)

	noSeq := ev(5)
	noSeq.HasSequence = false
	released, status = b.Add(noSeq)
	assert.Equal(t, StatusUnordered, status)
	assert.Len(t, released, 1)
}

func TestAdd_SequenceZeroStartsFreshStream(t *testing.T) {
	b := newTestBuffer(t, testutil.NewManualClock(), 100, nil)

	released, status := b.Add(ev(0))
	assert.Equal(t, StatusReleased, status)
	assert.Equal(t, []int64{0}, testutil.Sequences(released))

	released, _ = b.Add(ev(1))
	assert.Equal(t, []int64{1}, testutil.Sequences(released))

	_, status = b.Add(ev(0))
	assert.Equal(t, StatusStale, status)
}

func TestAdd_StreamsAreIndependent(t *testing.T) {
	b := newTestBuffer(t, testutil.NewManualClock(), 100, nil)

	b.Add(testutil.Envelope("x", "a", 2, nil))
	released, _ := b.Add(testutil.Envelope("x", "b", 1, nil))
	assert.Equal(t, []int64{1}, testutil.Sequences(released), "gap on stream a does not block stream b")
	assert.Equal(t, 1, b.Pending("a"))
	assert.Equal(t, 0, b.Pending("b"))
}

func TestAdd_CapacityForcesRelease(t *testing.T) {
	b := newTestBuffer(t, testutil.NewManualClock(), 3, nil)

	b.Add(ev(5))
	b.Add(ev(3))
	released, status := b.Add(ev(7))

	assert.Equal(t, StatusForced, status)
	assert.Equal(t, []int64{3, 5, 7}, testutil.Sequences(released), "ascending despite gaps")
	assert.Equal(t, 0, b.Pending("s1"))

	last, _ := b.LastProcessed("s1")
	assert.Equal(t, int64(7), last)

	_, status = b.Add(ev(4))
	assert.Equal(t, StatusStale, status, "skipped sequences are stale after forced release")
}

func TestTimeout_CallsExpireAndFlushDrains(t *testing.T) {
	clock := testutil.NewManualClock()
	var expired []string
	b := newTestBuffer(t, clock, 100, func(id string) { expired = append(expired, id) })

	b.Add(ev(3))
	b.Add(ev(2))
	assert.Equal(t, 1, clock.PendingTimers(), "one timer per stream")

	clock.Advance(29 * time.Second)
	assert.Empty(t, expired)

	clock.Advance(time.Second)
	assert.Equal(t, []string{"s1"}, expired)

	released := b.Flush("s1")
	assert.Equal(t, []int64{2, 3}, testutil.Sequences(released))
	last, _ := b.LastProcessed("s1")
	assert.Equal(t, int64(3), last)

	released, _ = b.Add(ev(4))
	assert.Equal(t, []int64{4}, testutil.Sequences(released))
}

func TestTimeout_ProgressCancelsTimer(t *testing.T) {
	clock := testutil.NewManualClock()
	expired := 0
	b := newTestBuffer(t, clock, 100, func(string) { expired++ })

	b.Add(ev(2))
	b.Add(ev(1))
	assert.Equal(t, 0, clock.PendingTimers())

	clock.Advance(time.Minute)
	assert.Equal(t, 0, expired)
}

func TestTimeout_ProgressWithRemainingGapRearms(t *testing.T) {
	clock := testutil.NewManualClock()
	expired := 0
	b := newTestBuffer(t, clock, 100, func(string) { expired++ })

	b.Add(ev(2))
	b.Add(ev(4))
	clock.Advance(20 * time.Second)

	released, _ := b.Add(ev(1))
	assert.Equal(t, []int64{1, 2}, testutil.Sequences(released))
	assert.Equal(t, 1, clock.PendingTimers(), "seq 4 still waits behind a gap")

	clock.Advance(20 * time.Second)
	assert.Equal(t, 0, expired, "timer restarted at progress")

	clock.Advance(10 * time.Second)
	assert.Equal(t, 1, expired)
}

func TestTimeout_EachGapEnvelopeRearms(t *testing.T) {
	clock := testutil.NewManualClock()
	expired := 0
	b := newTestBuffer(t, clock, 100, func(string) { expired++ })

	b.Add(ev(3))
	clock.Advance(20 * time.Second)

	_, status := b.Add(ev(4))
	assert.Equal(t, StatusQueued, status)
	assert.Equal(t, 1, clock.PendingTimers(), "previous timer replaced")

	clock.Advance(11 * time.Second)
	assert.Equal(t, 0, expired, "wait restarted at seq 4")
	assert.Equal(t, 2, b.Pending("s1"))

	clock.Advance(19 * time.Second)
	assert.Equal(t, 1, expired)
}

func TestTimeout_StaleTimerIgnored(t *testing.T) {
	clock := testutil.NewManualClock()
	expired := 0
	b := newTestBuffer(t, clock, 100, func(string) { expired++ })

	b.Add(ev(3))
	b.ClearStream("s1")

	clock.Advance(time.Minute)
	assert.Equal(t, 0, expired)
}

func TestFlush_NoTimerWithoutCallback(t *testing.T) {
	clock := testutil.NewManualClock()
	b := newTestBuffer(t, clock, 100, nil)

	b.Add(ev(3))
	assert.Equal(t, 0, clock.PendingTimers())

	assert.Equal(t, []int64{3}, testutil.Sequences(b.Flush("s1")))
	assert.Nil(t, b.Flush("s1"))
	assert.Nil(t, b.Flush("unknown"))
}

func TestClearStream_DiscardsQueue(t *testing.T) {
	b := newTestBuffer(t, testutil.NewManualClock(), 100, nil)

	b.Add(ev(1))
	b.Add(ev(3))
	b.ClearStream("s1")

	assert.Equal(t, 0, b.Pending("s1"))
	_, ok := b.LastProcessed("s1")
	assert.False(t, ok)

	released, _ := b.Add(ev(1))
	assert.Equal(t, []int64{1}, testutil.Sequences(released), "stream starts over")
}

func TestClear_DropsAllStreams(t *testing.T) {
	clock := testutil.NewManualClock()
	b := newTestBuffer(t, clock, 100, func(string) {})

	b.Add(testutil.Envelope("x", "a", 2, nil))
	b.Add(testutil.Envelope("x", "b", 2, nil))
	b.Clear()

	assert.Equal(t, 0, b.Pending("a"))
	assert.Equal(t, 0, b.Pending("b"))
	assert.Equal(t, 0, clock.PendingTimers())
}

func TestResume_SetsBaseline(t *testing.T) {
	b := newTestBuffer(t, testutil.NewManualClock(), 100, nil)

	b.Add(ev(40))
	b.Resume("s1", 41)
	assert.Equal(t, 0, b.Pending("s1"), "queued entries at or below baseline dropped")

	released, status := b.Add(ev(42))
	assert.Equal(t, StatusReleased, status)
	assert.Equal(t, []int64{42}, testutil.Sequences(released))
}

func TestAdd_AnyPermutationReleasesStrictlyIncreasing(t *testing.T) {
	const n = 200
	rng := rand.New(rand.NewSource(42))

	for trial := 0; trial < 20; trial++ {
		b := newTestBuffer(t, testutil.NewManualClock(), n+1, nil)

		perm := rng.Perm(n)
		var all []int64
		for _, p := range perm {
			released, _ := b.Add(ev(int64(p + 1)))
			all = append(all, testutil.Sequences(released)...)
		}

		require.Len(t, all, n, "every sequence released exactly once")
		for i, seq := range all {
			assert.Equal(t, int64(i+1), seq)
		}
	}
}

func TestAdd_ConcurrentStreams(t *testing.T) {
	b := newTestBuffer(t, testutil.NewManualClock(), 1000, nil)

	streams := []string{"a", "b", "c", "d"}
	results := make([][]int64, len(streams))

	var wg sync.WaitGroup
	for i, id := range streams {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			for seq := int64(50); seq >= 1; seq-- {
				released, _ := b.Add(testutil.Envelope("x", id, seq, nil))
				results[i] = append(results[i], testutil.Sequences(released)...)
			}
		}(i, id)
	}
	wg.Wait()

	for i := range streams {
		require.Len(t, results[i], 50)
		assert.Equal(t, int64(1), results[i][0])
		assert.Equal(t, int64(50), results[i][49])
	}
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "released", StatusReleased.String())
	assert.Equal(t, "forced", StatusForced.String())
	assert.Equal(t, "unknown", Status(0).String())
}
