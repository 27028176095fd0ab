package state

import (
	"github.com/roach88/eventsync/internal/model"
)

// Collection names used in Change and IntegrityError.
const (
	CollectionSessions = "session"
	CollectionMessages = "message"
	CollectionParts    = "part"
)

// ChangeKind distinguishes writes from removals.
type ChangeKind string

const (
	ChangeUpserted ChangeKind = "upserted"
	ChangeRemoved  ChangeKind = "removed"
)

// Change is one committed mutation.
type Change struct {
	Kind       ChangeKind `json:"kind"`
	Collection string     `json:"collection"`
	ID         string     `json:"id"`
	StreamID   string     `json:"streamId"`
}

type emitFunc func(Change)

// fingerprintView is what the no-op check compares: the meaningful fields plus
// whether the record is still a placeholder.
type fingerprintView[T any] struct {
	Value      T    `json:"value"`
	Optimistic bool `json:"optimistic"`
}

// Sessions is the session collection.
type Sessions struct {
	t        *table[model.Session]
	emit     emitFunc
	onRemove []func(id string)
}

func newSessions(counter *uint64, emit emitFunc) *Sessions {
	return &Sessions{
		t:    newTable(counter, func(s model.Session) any { return s }),
		emit: emit,
	}
}

// OnRemove registers a cascade hook run after a session is removed.
func (c *Sessions) OnRemove(hook func(id string)) {
	c.onRemove = append(c.onRemove, hook)
}

// Upsert writes a session.
func (c *Sessions) Upsert(s model.Session, meta Meta) (Outcome, error) {
	out, _, err := c.t.put(s.ID, s, meta)
	if err != nil {
		return "", err
	}
	if out.Changed() {
		c.emit(Change{Kind: ChangeUpserted, Collection: CollectionSessions, ID: s.ID, StreamID: s.ID})
	}
	return out, nil
}

// Remove deletes a session and runs cascade hooks.
func (c *Sessions) Remove(id string) bool {
	if _, ok := c.t.delete(id); !ok {
		return false
	}
	for _, hook := range c.onRemove {
		hook(id)
	}
	c.emit(Change{Kind: ChangeRemoved, Collection: CollectionSessions, ID: id, StreamID: id})
	return true
}

// Get returns a session by id.
func (c *Sessions) Get(id string) (model.Session, bool) {
	s, _, ok := c.t.get(id)
	return s, ok
}

// Exists reports whether a session is stored. Injected into Messages as its
// referential validator.
func (c *Sessions) Exists(id string) bool {
	_, ok := c.t.items[id]
	return ok
}

// All returns every session in insertion order.
func (c *Sessions) All() []model.Session { return c.t.all() }

// Len returns the number of sessions.
func (c *Sessions) Len() int { return len(c.t.items) }

// Messages is the message collection, indexed by stream.
type Messages struct {
	t             *table[model.Message]
	byStream      index
	sessionExists func(id string) bool
	emit          emitFunc
	onRemove      []func(id string)
}

func newMessages(counter *uint64, emit emitFunc, sessionExists func(string) bool) *Messages {
	return &Messages{
		t: newTable(counter, func(m model.Message) any {
			return fingerprintView[model.Message]{Value: m.Meaningful(), Optimistic: model.IsOptimistic(m)}
		}),
		byStream:      make(index),
		sessionExists: sessionExists,
		emit:          emit,
	}
}

// OnRemove registers a cascade hook run after a message is removed.
func (c *Messages) OnRemove(hook func(id string)) {
	c.onRemove = append(c.onRemove, hook)
}

// Upsert writes a message. The message's session must exist.
func (c *Messages) Upsert(m model.Message, meta Meta) (Outcome, error) {
	if c.sessionExists != nil && !c.sessionExists(m.StreamID) {
		return "", &IntegrityError{Collection: CollectionMessages, ID: m.ID, Ref: CollectionSessions, RefID: m.StreamID}
	}
	out, prev, err := c.t.put(m.ID, m, meta)
	if err != nil {
		return "", err
	}
	if !out.Changed() {
		return out, nil
	}
	if prev != nil && prev.StreamID != m.StreamID {
		c.byStream.remove(prev.StreamID, m.ID)
	}
	c.byStream.add(m.StreamID, m.ID)
	c.emit(Change{Kind: ChangeUpserted, Collection: CollectionMessages, ID: m.ID, StreamID: m.StreamID})
	return out, nil
}

// Remove deletes a message and runs cascade hooks.
func (c *Messages) Remove(id string) bool {
	m, ok := c.t.delete(id)
	if !ok {
		return false
	}
	c.byStream.remove(m.StreamID, id)
	for _, hook := range c.onRemove {
		hook(id)
	}
	c.emit(Change{Kind: ChangeRemoved, Collection: CollectionMessages, ID: id, StreamID: m.StreamID})
	return true
}

// Get returns a message by id.
func (c *Messages) Get(id string) (model.Message, bool) {
	m, _, ok := c.t.get(id)
	return m, ok
}

// Exists reports whether a message is stored. Injected into Parts as its
// referential validator.
func (c *Messages) Exists(id string) bool {
	_, ok := c.t.items[id]
	return ok
}

// ByStream returns a stream's messages in insertion order.
func (c *Messages) ByStream(streamID string) []model.Message {
	return c.t.ordered(c.byStream[streamID])
}

// All returns every message in insertion order.
func (c *Messages) All() []model.Message { return c.t.all() }

// Len returns the number of messages.
func (c *Messages) Len() int { return len(c.t.items) }

// Parts is the part collection, indexed by message and by stream.
type Parts struct {
	t             *table[model.Part]
	byMessage     index
	byStream      index
	messageExists func(id string) bool
	emit          emitFunc
}

func newParts(counter *uint64, emit emitFunc, messageExists func(string) bool) *Parts {
	return &Parts{
		t: newTable(counter, func(p model.Part) any {
			return fingerprintView[model.Part]{Value: p.Meaningful(), Optimistic: model.IsOptimistic(p)}
		}),
		byMessage:     make(index),
		byStream:      make(index),
		messageExists: messageExists,
		emit:          emit,
	}
}

// Upsert writes a part. The part's message must exist.
func (c *Parts) Upsert(p model.Part, meta Meta) (Outcome, error) {
	if c.messageExists != nil && !c.messageExists(p.MessageID) {
		return "", &IntegrityError{Collection: CollectionParts, ID: p.ID, Ref: CollectionMessages, RefID: p.MessageID}
	}
	out, prev, err := c.t.put(p.ID, p, meta)
	if err != nil {
		return "", err
	}
	if !out.Changed() {
		return out, nil
	}
	if prev != nil {
		c.byMessage.remove(prev.MessageID, p.ID)
		c.byStream.remove(prev.StreamID, p.ID)
	}
	c.byMessage.add(p.MessageID, p.ID)
	c.byStream.add(p.StreamID, p.ID)
	c.emit(Change{Kind: ChangeUpserted, Collection: CollectionParts, ID: p.ID, StreamID: p.StreamID})
	return out, nil
}

// Remove deletes a part.
func (c *Parts) Remove(id string) bool {
	p, ok := c.t.delete(id)
	if !ok {
		return false
	}
	c.byMessage.remove(p.MessageID, id)
	c.byStream.remove(p.StreamID, id)
	c.emit(Change{Kind: ChangeRemoved, Collection: CollectionParts, ID: id, StreamID: p.StreamID})
	return true
}

// RemoveByMessage deletes every part of a message. Registered as the message
// cascade hook.
func (c *Parts) RemoveByMessage(messageID string) int {
	n := 0
	for _, p := range c.ByMessage(messageID) {
		if c.Remove(p.ID) {
			n++
		}
	}
	return n
}

// Reparent moves every part of one message to another, keeping write
// metadata. Used when a canonical message supersedes an optimistic one under
// a different id.
func (c *Parts) Reparent(fromMessageID, toMessageID string) int {
	moved := 0
	for _, p := range c.ByMessage(fromMessageID) {
		r := c.t.items[p.ID]
		c.byMessage.remove(fromMessageID, p.ID)
		r.value.MessageID = toMessageID
		c.t.rehash(r)
		c.byMessage.add(toMessageID, p.ID)
		c.emit(Change{Kind: ChangeUpserted, Collection: CollectionParts, ID: p.ID, StreamID: p.StreamID})
		moved++
	}
	return moved
}

// Get returns a part by id.
func (c *Parts) Get(id string) (model.Part, bool) {
	p, _, ok := c.t.get(id)
	return p, ok
}

// ByMessage returns a message's parts in insertion order.
func (c *Parts) ByMessage(messageID string) []model.Part {
	return c.t.ordered(c.byMessage[messageID])
}

// ByStream returns a stream's parts in insertion order.
func (c *Parts) ByStream(streamID string) []model.Part {
	return c.t.ordered(c.byStream[streamID])
}

// All returns every part in insertion order.
func (c *Parts) All() []model.Part { return c.t.all() }

// Len returns the number of parts.
func (c *Parts) Len() int { return len(c.t.items) }
