package dispatch

import (
	"github.com/roach88/eventsync/internal/envelope"
	"github.com/roach88/eventsync/internal/journal"
	"github.com/roach88/eventsync/internal/model"
	"github.com/roach88/eventsync/internal/state"
)

// route dispatches on envelope type. deleted is set when a session was
// removed so the caller can tear down its ordering state.
func (d *Dispatcher) route(tx *state.Tx, env envelope.Envelope, meta state.Meta, now int64) (outcome journal.Outcome, deleted string, err error) {
	switch env.Type {
	case envelope.TypeSessionCreated, envelope.TypeSessionUpdated:
		outcome, err = d.upsertSession(tx, env, meta)
	case envelope.TypeSessionDeleted:
		outcome, deleted, err = d.deleteSession(tx, env)
	case envelope.TypeMessageUpdated:
		outcome, err = d.upsertMessage(tx, env, meta, now)
	case envelope.TypeMessageRemoved:
		outcome, err = d.removeMessage(tx, env)
	case envelope.TypePartUpdated:
		outcome, err = d.upsertPart(tx, env, meta, now)
	case envelope.TypePartRemoved:
		outcome, err = d.removePart(tx, env)
	default:
		err = ErrUnknownEventType
	}
	return outcome, deleted, err
}

func payloadError(env envelope.Envelope, msg string, err error) error {
	return &HandlerError{
		Code:     ErrCodeInvalidPayload,
		Type:     env.Type,
		EventID:  env.EventID,
		StreamID: env.StreamID,
		Message:  msg,
		Err:      err,
	}
}

func fromUpsert(o state.Outcome) journal.Outcome {
	switch o {
	case state.OutcomeNoop:
		return journal.OutcomeNoop
	case state.OutcomeStale:
		return journal.OutcomeStale
	default:
		return journal.OutcomeApplied
	}
}

// ensureSession creates the stream's session if no session event has been
// seen yet. The placeholder carries no sequence, so the real session event
// always overwrites it.
func (d *Dispatcher) ensureSession(tx *state.Tx, streamID string, env envelope.Envelope) error {
	created, err := tx.EnsureSession(streamID, env.Directory, state.Meta{Timestamp: env.Timestamp})
	if err != nil {
		return err
	}
	if created {
		d.logger.Debug("session created from child event", "stream", streamID, "type", env.Type)
	}
	return nil
}

func (d *Dispatcher) upsertSession(tx *state.Tx, env envelope.Envelope, meta state.Meta) (journal.Outcome, error) {
	var sess model.Session
	if err := env.Into("info", &sess); err != nil {
		return "", payloadError(env, "session info", err)
	}
	if sess.ID == "" {
		sess.ID = env.StreamID
	}
	if sess.ID == "" {
		return "", payloadError(env, "session id missing", nil)
	}
	if sess.Directory == "" {
		sess.Directory = env.Directory
	}

	out, err := tx.UpsertSession(sess, meta)
	if err != nil {
		return "", err
	}
	return fromUpsert(out), nil
}

func (d *Dispatcher) deleteSession(tx *state.Tx, env envelope.Envelope) (journal.Outcome, string, error) {
	id := env.Str("sessionId")
	if info := env.Object("info"); info != nil {
		if s, ok := info["id"].(string); ok && s != "" {
			id = s
		}
	}
	if id == "" {
		id = env.StreamID
	}
	if id == "" {
		return "", "", payloadError(env, "session id missing", nil)
	}

	if !tx.RemoveSession(id) {
		return journal.OutcomeNoop, id, nil
	}
	return journal.OutcomeApplied, id, nil
}

func (d *Dispatcher) upsertMessage(tx *state.Tx, env envelope.Envelope, meta state.Meta, now int64) (journal.Outcome, error) {
	var msg model.Message
	if err := env.Into("info", &msg); err != nil {
		return "", payloadError(env, "message info", err)
	}
	if msg.ID == "" {
		return "", payloadError(env, "message id missing", nil)
	}
	if msg.StreamID == "" {
		msg.StreamID = env.StreamID
	}
	if msg.StreamID == "" {
		return "", payloadError(env, "message stream missing", nil)
	}
	// Server data is canonical whatever the payload claims.
	msg.Metadata = nil

	if err := d.ensureSession(tx, msg.StreamID, env); err != nil {
		return "", err
	}

	// Only a first arrival supersedes placeholders. Updates to a message
	// already stored as canonical leave newer local writes alone.
	var placeholders []model.Message
	if prev, ok := tx.Message(msg.ID); !ok || model.IsOptimistic(prev) {
		for _, m := range tx.MessagesByStream(msg.StreamID) {
			if model.IsOptimistic(m) {
				placeholders = append(placeholders, m)
			}
		}
	}
	res := d.engine.Messages([]model.Message{msg}, placeholders, now)

	out, err := tx.UpsertMessage(msg, meta)
	if err != nil {
		return "", err
	}
	if out == state.OutcomeStale {
		return journal.OutcomeStale, nil
	}

	outcome := fromUpsert(out)
	for _, pair := range res.Matches {
		old := pair.Superseded.ID
		d.logger.Debug("placeholder message superseded",
			"placeholder", old,
			"id", msg.ID,
			"strategy", pair.Strategy,
		)
		// An exact id match was just replaced in place; removing it would
		// cascade away its parts.
		if old == msg.ID {
			continue
		}
		tx.ReparentParts(old, msg.ID)
		tx.RemoveMessage(old)
		outcome = journal.OutcomeApplied
	}
	return outcome, nil
}

func (d *Dispatcher) removeMessage(tx *state.Tx, env envelope.Envelope) (journal.Outcome, error) {
	id := env.Str("messageId")
	if id == "" {
		if info := env.Object("info"); info != nil {
			id, _ = info["id"].(string)
		}
	}
	if id == "" {
		return "", payloadError(env, "message id missing", nil)
	}
	if !tx.RemoveMessage(id) {
		return journal.OutcomeNoop, nil
	}
	return journal.OutcomeApplied, nil
}

func (d *Dispatcher) upsertPart(tx *state.Tx, env envelope.Envelope, meta state.Meta, now int64) (journal.Outcome, error) {
	var part model.Part
	if err := env.Into("part", &part); err != nil {
		return "", payloadError(env, "part", err)
	}
	if part.ID == "" || part.MessageID == "" {
		return "", payloadError(env, "part id or message id missing", nil)
	}
	if part.StreamID == "" {
		part.StreamID = env.StreamID
	}
	part.Metadata = nil

	if part.StreamID != "" {
		if err := d.ensureSession(tx, part.StreamID, env); err != nil {
			return "", err
		}
	}

	var placeholders []model.Part
	if prev, ok := tx.Part(part.ID); !ok || model.IsOptimistic(prev) {
		for _, p := range tx.PartsByMessage(part.MessageID) {
			if model.IsOptimistic(p) {
				placeholders = append(placeholders, p)
			}
		}
	}
	res := d.engine.Parts([]model.Part{part}, placeholders, now)

	out, err := tx.UpsertPart(part, meta)
	if err != nil {
		return "", err
	}
	if out == state.OutcomeStale {
		return journal.OutcomeStale, nil
	}

	outcome := fromUpsert(out)
	for _, pair := range res.Matches {
		old := pair.Superseded.ID
		d.logger.Debug("placeholder part superseded",
			"placeholder", old,
			"id", part.ID,
			"strategy", pair.Strategy,
		)
		if old == part.ID {
			continue
		}
		tx.RemovePart(old)
		outcome = journal.OutcomeApplied
	}
	return outcome, nil
}

func (d *Dispatcher) removePart(tx *state.Tx, env envelope.Envelope) (journal.Outcome, error) {
	id := env.Str("partId")
	if id == "" {
		if p := env.Object("part"); p != nil {
			id, _ = p["id"].(string)
		}
	}
	if id == "" {
		return "", payloadError(env, "part id missing", nil)
	}
	if !tx.RemovePart(id) {
		return journal.OutcomeNoop, nil
	}
	return journal.OutcomeApplied, nil
}
