package state

import (
	"log/slog"
	"sync"

	"github.com/roach88/eventsync/internal/model"
)

// Changes is the set of mutations committed by one batch, in commit order.
type Changes struct {
	Items []Change `json:"items"`
}

// Streams returns the distinct stream ids touched by the batch.
func (c Changes) Streams() []string {
	seen := make(map[string]bool)
	var out []string
	for _, ch := range c.Items {
		if ch.StreamID != "" && !seen[ch.StreamID] {
			seen[ch.StreamID] = true
			out = append(out, ch.StreamID)
		}
	}
	return out
}

// Observer is notified once per committed batch that changed something.
type Observer interface {
	OnChanges(Changes)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Changes)

// OnChanges implements Observer.
func (f ObserverFunc) OnChanges(c Changes) { f(c) }

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// Store composes the three collections behind one lock and wires their
// validators and cascades.
//
// Thread-safety: Update serializes writers; read methods take a shared lock
// and never observe a batch in progress. Observers run after the lock is
// released and may read the store.
type Store struct {
	mu       sync.RWMutex
	sessions *Sessions
	messages *Messages
	parts    *Parts
	counter  uint64
	pending  []Change
	logger   *slog.Logger

	obsMu     sync.Mutex
	observers map[int]Observer
	nextObs   int
}

// New creates an empty Store with validators and cascades registered.
func New(opts ...Option) *Store {
	s := &Store{
		logger:    slog.Default(),
		observers: make(map[int]Observer),
	}
	for _, opt := range opts {
		opt(s)
	}

	emit := func(c Change) { s.pending = append(s.pending, c) }

	s.sessions = newSessions(&s.counter, emit)
	s.messages = newMessages(&s.counter, emit, s.sessions.Exists)
	s.parts = newParts(&s.counter, emit, s.messages.Exists)

	// Cascades: session -> messages -> parts.
	s.sessions.OnRemove(func(id string) {
		for _, m := range s.messages.ByStream(id) {
			s.messages.Remove(m.ID)
		}
		for _, p := range s.parts.ByStream(id) {
			s.parts.Remove(p.ID)
		}
	})
	s.messages.OnRemove(func(id string) {
		s.parts.RemoveByMessage(id)
	})

	return s
}

// Subscribe registers an observer and returns a function that removes it.
func (s *Store) Subscribe(o Observer) func() {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()

	id := s.nextObs
	s.nextObs++
	s.observers[id] = o

	return func() {
		s.obsMu.Lock()
		defer s.obsMu.Unlock()
		delete(s.observers, id)
	}
}

// Update runs fn as one batch. Observers are notified once afterwards if the
// batch changed anything. The error returned by fn is returned unchanged;
// writes made before it are kept.
func (s *Store) Update(fn func(tx *Tx) error) error {
	s.mu.Lock()
	s.pending = nil
	done := false
	defer func() {
		// fn panicked: release the lock and publish what was written.
		if !done {
			s.notify(s.commitLocked())
		}
	}()

	err := fn(&Tx{s: s})
	done = true
	s.notify(s.commitLocked())
	return err
}

// commitLocked takes the pending changes and releases the write lock.
func (s *Store) commitLocked() Changes {
	changes := Changes{Items: s.pending}
	s.pending = nil
	s.mu.Unlock()
	return changes
}

func (s *Store) notify(changes Changes) {
	if len(changes.Items) == 0 {
		return
	}
	s.obsMu.Lock()
	observers := make([]Observer, 0, len(s.observers))
	for i := 0; i < s.nextObs; i++ {
		if o, ok := s.observers[i]; ok {
			observers = append(observers, o)
		}
	}
	s.obsMu.Unlock()

	for _, o := range observers {
		o.OnChanges(changes)
	}
}

// Session returns a session by id.
func (s *Store) Session(id string) (model.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions.Get(id)
}

// Message returns a message by id.
func (s *Store) Message(id string) (model.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.messages.Get(id)
}

// Part returns a part by id.
func (s *Store) Part(id string) (model.Part, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.parts.Get(id)
}

// MessagesByStream returns a stream's messages in insertion order.
func (s *Store) MessagesByStream(streamID string) []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.messages.ByStream(streamID)
}

// PartsByMessage returns a message's parts in insertion order.
func (s *Store) PartsByMessage(messageID string) []model.Part {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.parts.ByMessage(messageID)
}

// PartsByStream returns a stream's parts in insertion order.
func (s *Store) PartsByStream(streamID string) []model.Part {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.parts.ByStream(streamID)
}

// MetaOf returns the write metadata of a record.
func (s *Store) MetaOf(collection, id string) (Meta, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		meta Meta
		ok   bool
	)
	switch collection {
	case CollectionSessions:
		_, meta, ok = s.sessions.t.get(id)
	case CollectionMessages:
		_, meta, ok = s.messages.t.get(id)
	case CollectionParts:
		_, meta, ok = s.parts.t.get(id)
	}
	return meta, ok
}

// Counts returns the size of each collection.
func (s *Store) Counts() (sessions, messages, parts int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions.Len(), s.messages.Len(), s.parts.Len()
}

// Snapshot is a consistent copy of the whole store.
type Snapshot struct {
	Sessions []model.Session `json:"sessions"`
	Messages []model.Message `json:"messages"`
	Parts    []model.Part    `json:"parts"`
}

// Snapshot returns every record in insertion order.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Sessions: s.sessions.All(),
		Messages: s.messages.All(),
		Parts:    s.parts.All(),
	}
}

// Tx is the write handle of one batch. It is only valid inside Update.
type Tx struct {
	s *Store
}

// UpsertSession writes a session.
func (tx *Tx) UpsertSession(sess model.Session, meta Meta) (Outcome, error) {
	return tx.s.sessions.Upsert(sess, meta)
}

// EnsureSession creates a minimal session when none exists. Returns true if
// one was created.
func (tx *Tx) EnsureSession(id, directory string, meta Meta) (bool, error) {
	if tx.s.sessions.Exists(id) {
		return false, nil
	}
	sess := model.Session{ID: id, Directory: directory, CreatedAt: meta.Timestamp}
	if _, err := tx.s.sessions.Upsert(sess, meta); err != nil {
		return false, err
	}
	tx.s.logger.Debug("session created lazily", "session", id)
	return true, nil
}

// RemoveSession deletes a session and cascades to its messages and parts.
func (tx *Tx) RemoveSession(id string) bool {
	return tx.s.sessions.Remove(id)
}

// UpsertMessage writes a message; its session must exist.
func (tx *Tx) UpsertMessage(m model.Message, meta Meta) (Outcome, error) {
	return tx.s.messages.Upsert(m, meta)
}

// RemoveMessage deletes a message and cascades to its parts.
func (tx *Tx) RemoveMessage(id string) bool {
	return tx.s.messages.Remove(id)
}

// UpsertPart writes a part; its message must exist.
func (tx *Tx) UpsertPart(p model.Part, meta Meta) (Outcome, error) {
	return tx.s.parts.Upsert(p, meta)
}

// RemovePart deletes a part.
func (tx *Tx) RemovePart(id string) bool {
	return tx.s.parts.Remove(id)
}

// ReparentParts moves a message's parts to another message id.
func (tx *Tx) ReparentParts(fromMessageID, toMessageID string) int {
	return tx.s.parts.Reparent(fromMessageID, toMessageID)
}

// Session reads a session inside the batch.
func (tx *Tx) Session(id string) (model.Session, bool) { return tx.s.sessions.Get(id) }

// Message reads a message inside the batch.
func (tx *Tx) Message(id string) (model.Message, bool) { return tx.s.messages.Get(id) }

// Part reads a part inside the batch.
func (tx *Tx) Part(id string) (model.Part, bool) { return tx.s.parts.Get(id) }

// MessagesByStream reads a stream's messages inside the batch.
func (tx *Tx) MessagesByStream(streamID string) []model.Message {
	return tx.s.messages.ByStream(streamID)
}

// PartsByMessage reads a message's parts inside the batch.
func (tx *Tx) PartsByMessage(messageID string) []model.Part {
	return tx.s.parts.ByMessage(messageID)
}

// AllMessages reads every message inside the batch.
func (tx *Tx) AllMessages() []model.Message { return tx.s.messages.All() }

// AllParts reads every part inside the batch.
func (tx *Tx) AllParts() []model.Part { return tx.s.parts.All() }
