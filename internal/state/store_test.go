package state

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/eventsync/internal/model"
)

func seq(n int64) Meta {
	return Meta{Ordered: true, Seq: n, Timestamp: 1000 + n}
}

func seed(t *testing.T, s *Store) {
	t.Helper()
	err := s.Update(func(tx *Tx) error {
		if _, err := tx.UpsertSession(model.Session{ID: "s1", Title: "one"}, seq(1)); err != nil {
			return err
		}
		if _, err := tx.UpsertMessage(model.Message{ID: "m1", StreamID: "s1", Role: model.RoleUser}, seq(2)); err != nil {
			return err
		}
		if _, err := tx.UpsertMessage(model.Message{ID: "m2", StreamID: "s1", Role: model.RoleAssistant}, seq(3)); err != nil {
			return err
		}
		for _, p := range []model.Part{
			{ID: "p1", MessageID: "m1", StreamID: "s1", Type: model.PartText, Text: "hi"},
			{ID: "p2", MessageID: "m2", StreamID: "s1", Type: model.PartText, Text: "hello"},
			{ID: "p3", MessageID: "m2", StreamID: "s1", Type: model.PartReasoning, Text: "hmm"},
		} {
			if _, err := tx.UpsertPart(p, seq(4)); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestStore_RemoveSessionCascades(t *testing.T) {
	s := New()
	seed(t, s)

	require.NoError(t, s.Update(func(tx *Tx) error {
		assert.True(t, tx.RemoveSession("s1"))
		return nil
	}))

	sessions, messages, parts := s.Counts()
	assert.Equal(t, 0, sessions)
	assert.Equal(t, 0, messages)
	assert.Equal(t, 0, parts)
}

func TestStore_RemoveMessageCascadesToItsPartsOnly(t *testing.T) {
	s := New()
	seed(t, s)

	require.NoError(t, s.Update(func(tx *Tx) error {
		tx.RemoveMessage("m2")
		return nil
	}))

	_, ok := s.Message("m2")
	assert.False(t, ok)
	assert.Empty(t, s.PartsByMessage("m2"))

	remaining := s.PartsByStream("s1")
	require.Len(t, remaining, 1)
	assert.Equal(t, "p1", remaining[0].ID)
}

func TestStore_IntegrityRejectsOrphanWrites(t *testing.T) {
	s := New()

	err := s.Update(func(tx *Tx) error {
		_, err := tx.UpsertMessage(model.Message{ID: "m1", StreamID: "missing"}, seq(1))
		return err
	})
	require.Error(t, err)
	assert.True(t, IsIntegrityError(err))

	var ie *IntegrityError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, CollectionMessages, ie.Collection)
	assert.Equal(t, "missing", ie.RefID)

	err = s.Update(func(tx *Tx) error {
		_, err := tx.UpsertPart(model.Part{ID: "p1", MessageID: "nope", StreamID: "s"}, seq(1))
		return err
	})
	assert.True(t, IsIntegrityError(err))

	_, messages, parts := s.Counts()
	assert.Zero(t, messages)
	assert.Zero(t, parts)
}

func TestStore_NoopAndStale(t *testing.T) {
	s := New()
	seed(t, s)

	var out Outcome
	require.NoError(t, s.Update(func(tx *Tx) error {
		var err error
		out, err = tx.UpsertPart(model.Part{ID: "p1", MessageID: "m1", StreamID: "s1", Type: model.PartText, Text: "hi"}, seq(9))
		return err
	}))
	assert.Equal(t, OutcomeNoop, out)

	meta, ok := s.MetaOf(CollectionParts, "p1")
	require.True(t, ok)
	assert.Equal(t, int64(4), meta.Seq, "no-op keeps the stored metadata")

	require.NoError(t, s.Update(func(tx *Tx) error {
		var err error
		out, err = tx.UpsertPart(model.Part{ID: "p1", MessageID: "m1", StreamID: "s1", Type: model.PartText, Text: "older"}, seq(2))
		return err
	}))
	assert.Equal(t, OutcomeStale, out)
	p, _ := s.Part("p1")
	assert.Equal(t, "hi", p.Text)

	require.NoError(t, s.Update(func(tx *Tx) error {
		var err error
		out, err = tx.UpsertPart(model.Part{ID: "p1", MessageID: "m1", StreamID: "s1", Type: model.PartText, Text: "hi there"}, seq(5))
		return err
	}))
	assert.Equal(t, OutcomeUpdated, out)
	p, _ = s.Part("p1")
	assert.Equal(t, "hi there", p.Text)
}

func TestStore_NoopIgnoresCorrelationNoise(t *testing.T) {
	s := New()
	seed(t, s)

	placeholder := func(key string) model.Message {
		return model.Message{
			ID: "tmp", StreamID: "s1", Role: model.RoleUser,
			Metadata: &model.OptimisticMetadata{Optimistic: true, Source: "local", CorrelationKey: key},
		}
	}

	upsert := func(m model.Message, meta Meta) Outcome {
		var out Outcome
		require.NoError(t, s.Update(func(tx *Tx) error {
			var err error
			out, err = tx.UpsertMessage(m, meta)
			return err
		}))
		return out
	}

	assert.Equal(t, OutcomeInserted, upsert(placeholder("a"), Meta{Timestamp: 5}))
	assert.Equal(t, OutcomeNoop, upsert(placeholder("b"), Meta{Timestamp: 6}), "only the placeholder flag is compared")

	// Becoming canonical is a change even with equal fields.
	assert.Equal(t, OutcomeUpdated, upsert(model.Message{ID: "tmp", StreamID: "s1", Role: model.RoleUser}, seq(7)))
}

func TestStore_BatchNotifiesOnce(t *testing.T) {
	s := New()

	var calls []Changes
	unsubscribe := s.Subscribe(ObserverFunc(func(c Changes) { calls = append(calls, c) }))

	seed(t, s)
	require.Len(t, calls, 1)
	assert.Len(t, calls[0].Items, 6)
	assert.Equal(t, []string{"s1"}, calls[0].Streams())

	// A batch with only no-ops publishes nothing.
	require.NoError(t, s.Update(func(tx *Tx) error {
		_, err := tx.UpsertSession(model.Session{ID: "s1", Title: "one"}, seq(8))
		return err
	}))
	assert.Len(t, calls, 1)

	unsubscribe()
	require.NoError(t, s.Update(func(tx *Tx) error {
		tx.RemoveSession("s1")
		return nil
	}))
	assert.Len(t, calls, 1)
}

func TestStore_FailedBatchKeepsEarlierWrites(t *testing.T) {
	s := New()
	boom := errors.New("boom")

	var notified int
	s.Subscribe(ObserverFunc(func(Changes) { notified++ }))

	err := s.Update(func(tx *Tx) error {
		if _, err := tx.UpsertSession(model.Session{ID: "s1"}, seq(1)); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, ok := s.Session("s1")
	assert.True(t, ok)
	assert.Equal(t, 1, notified)
}

func TestStore_PanicInBatchReleasesLock(t *testing.T) {
	s := New()

	assert.Panics(t, func() {
		_ = s.Update(func(tx *Tx) error {
			_, _ = tx.UpsertSession(model.Session{ID: "s1"}, seq(1))
			panic("boom")
		})
	})

	sessions, _, _ := s.Counts()
	assert.Equal(t, 1, sessions)
}

func TestStore_ObserversMayRead(t *testing.T) {
	s := New()

	var seen int
	s.Subscribe(ObserverFunc(func(Changes) {
		_, seen, _ = s.Counts()
	}))
	seed(t, s)
	assert.Equal(t, 2, seen)
}

func TestStore_ReparentParts(t *testing.T) {
	s := New()
	seed(t, s)

	require.NoError(t, s.Update(func(tx *Tx) error {
		_, err := tx.UpsertMessage(model.Message{ID: "m3", StreamID: "s1", Role: model.RoleAssistant}, seq(5))
		if err != nil {
			return err
		}
		assert.Equal(t, 2, tx.ReparentParts("m2", "m3"))
		tx.RemoveMessage("m2")
		return nil
	}))

	parts := s.PartsByMessage("m3")
	require.Len(t, parts, 2)
	assert.Equal(t, "p2", parts[0].ID)
	assert.Equal(t, "m3", parts[0].MessageID)

	// The moved part's fingerprint follows its new content.
	var out Outcome
	require.NoError(t, s.Update(func(tx *Tx) error {
		var err error
		out, err = tx.UpsertPart(model.Part{ID: "p2", MessageID: "m3", StreamID: "s1", Type: model.PartText, Text: "hello"}, seq(6))
		return err
	}))
	assert.Equal(t, OutcomeNoop, out)
}

func TestStore_EnsureSession(t *testing.T) {
	s := New()

	var created bool
	require.NoError(t, s.Update(func(tx *Tx) error {
		var err error
		created, err = tx.EnsureSession("s9", "/work", seq(1))
		return err
	}))
	assert.True(t, created)

	sess, ok := s.Session("s9")
	require.True(t, ok)
	assert.Equal(t, "/work", sess.Directory)

	require.NoError(t, s.Update(func(tx *Tx) error {
		var err error
		created, err = tx.EnsureSession("s9", "/other", seq(2))
		return err
	}))
	assert.False(t, created)
}

func TestStore_SnapshotInsertionOrder(t *testing.T) {
	s := New()
	seed(t, s)

	snap := s.Snapshot()
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, "m1", snap.Messages[0].ID)
	assert.Equal(t, "m2", snap.Messages[1].ID)
	require.Len(t, snap.Parts, 3)
	assert.Equal(t, []string{"p1", "p2", "p3"}, []string{snap.Parts[0].ID, snap.Parts[1].ID, snap.Parts[2].ID})
}

func TestStore_ConcurrentReadersSeeWholeBatches(t *testing.T) {
	s := New()
	seed(t, s)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			_, messages, parts := s.Counts()
			// Messages and their parts appear and vanish together.
			if messages == 0 {
				assert.Zero(t, parts)
			}
		}
	}()

	for i := 0; i < 50; i++ {
		require.NoError(t, s.Update(func(tx *Tx) error {
			tx.RemoveMessage("m1")
			tx.RemoveMessage("m2")
			return nil
		}))
		require.NoError(t, s.Update(func(tx *Tx) error {
			if _, err := tx.UpsertMessage(model.Message{ID: "m1", StreamID: "s1"}, Meta{}); err != nil {
				return err
			}
			_, err := tx.UpsertPart(model.Part{ID: "p1", MessageID: "m1", StreamID: "s1"}, Meta{})
			return err
		}))
	}
	close(stop)
	wg.Wait()
}
