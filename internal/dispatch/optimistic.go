package dispatch

import (
	"context"
	"errors"

	"github.com/roach88/eventsync/internal/model"
	"github.com/roach88/eventsync/internal/state"
)

// SourceLocal tags placeholders created through this package.
const SourceLocal = "local"

// OptimisticMessage is a local intent to create a message.
type OptimisticMessage struct {
	StreamID  string
	Role      string // default: user
	ParentID  string
	Directory string
}

// OptimisticPart is a local intent to create a part under a message.
type OptimisticPart struct {
	MessageID   string
	Type        string // default: text
	Text        string
	ReasoningID string
	Tool        string
	CallID      string
}

// CreateOptimisticMessage stores a placeholder message. The stream's session
// is created if needed. The placeholder id doubles as its correlation key.
func (d *Dispatcher) CreateOptimisticMessage(ctx context.Context, in OptimisticMessage) (model.Message, error) {
	if err := ctx.Err(); err != nil {
		return model.Message{}, err
	}
	if in.StreamID == "" {
		return model.Message{}, errors.New("optimistic message: stream id required")
	}
	if in.Role == "" {
		in.Role = model.RoleUser
	}

	lock := d.streamLock(in.StreamID)
	lock.Lock()
	defer lock.Unlock()

	now := d.nowMS()
	id := d.ids.Generate()
	msg := model.Message{
		ID:        id,
		Role:      in.Role,
		StreamID:  in.StreamID,
		ParentID:  in.ParentID,
		CreatedAt: now,
		Metadata: &model.OptimisticMetadata{
			Optimistic:     true,
			Source:         SourceLocal,
			CorrelationKey: id,
			Timestamp:      now,
		},
	}

	err := d.store.Update(func(tx *state.Tx) error {
		if _, err := tx.EnsureSession(in.StreamID, in.Directory, state.Meta{Timestamp: now}); err != nil {
			return err
		}
		_, err := tx.UpsertMessage(msg, state.Meta{Timestamp: now})
		return err
	})
	if err != nil {
		return model.Message{}, err
	}

	d.logger.Debug("placeholder message created", "id", id, "stream", in.StreamID, "role", in.Role)
	return msg, nil
}

// CreateOptimisticPart stores a placeholder part. The message must exist;
// otherwise a *state.IntegrityError is returned.
func (d *Dispatcher) CreateOptimisticPart(ctx context.Context, in OptimisticPart) (model.Part, error) {
	if err := ctx.Err(); err != nil {
		return model.Part{}, err
	}
	if in.MessageID == "" {
		return model.Part{}, errors.New("optimistic part: message id required")
	}
	if in.Type == "" {
		in.Type = model.PartText
	}

	parent, ok := d.store.Message(in.MessageID)
	if !ok {
		return model.Part{}, &state.IntegrityError{
			Collection: state.CollectionParts,
			Ref:        state.CollectionMessages,
			RefID:      in.MessageID,
		}
	}

	lock := d.streamLock(parent.StreamID)
	lock.Lock()
	defer lock.Unlock()

	now := d.nowMS()
	id := d.ids.Generate()
	part := model.Part{
		ID:          id,
		MessageID:   in.MessageID,
		StreamID:    parent.StreamID,
		Type:        in.Type,
		Text:        in.Text,
		ReasoningID: in.ReasoningID,
		Tool:        in.Tool,
		CallID:      in.CallID,
		Metadata: &model.OptimisticMetadata{
			Optimistic:     true,
			Source:         SourceLocal,
			CorrelationKey: id,
			Timestamp:      now,
		},
	}
	if model.IsToolType(part.Type) {
		part.State = &model.ToolState{Status: model.ToolPending}
	}

	err := d.store.Update(func(tx *state.Tx) error {
		_, err := tx.UpsertPart(part, state.Meta{Timestamp: now})
		return err
	})
	if err != nil {
		return model.Part{}, err
	}

	d.logger.Debug("placeholder part created", "id", id, "message", in.MessageID, "type", in.Type)
	return part, nil
}

// SweepResult lists the placeholders removed by SweepOrphans.
type SweepResult struct {
	Messages []string `json:"messages"`
	Parts    []string `json:"parts"`
}

// SweepOrphans removes placeholders older than the correlation window that
// no canonical record has claimed, in one batch. Removing an orphan message
// also removes its parts.
func (d *Dispatcher) SweepOrphans(ctx context.Context) (SweepResult, error) {
	if err := ctx.Err(); err != nil {
		return SweepResult{}, err
	}

	now := d.nowMS()
	res := SweepResult{Messages: []string{}, Parts: []string{}}

	err := d.store.Update(func(tx *state.Tx) error {
		for _, m := range d.engine.OrphanMessages(tx.AllMessages(), now) {
			if tx.RemoveMessage(m.ID) {
				res.Messages = append(res.Messages, m.ID)
			}
		}
		for _, p := range d.engine.OrphanParts(tx.AllParts(), now) {
			if tx.RemovePart(p.ID) {
				res.Parts = append(res.Parts, p.ID)
			}
		}
		return nil
	})
	if err != nil {
		return SweepResult{}, err
	}

	if len(res.Messages)+len(res.Parts) > 0 {
		d.logger.Info("orphan placeholders swept", "messages", len(res.Messages), "parts", len(res.Parts))
	}
	return res, nil
}
