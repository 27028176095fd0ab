// Package correlate matches a canonical record against local optimistic
// placeholders.
//
// Matching is pure: no I/O, no mutation. Strategies are tried in a fixed
// priority order and the first hit wins, so an exact id match always beats
// a correlation match even when the correlation rules would also hold.
package correlate

import (
	"time"

	"github.com/roach88/eventsync/internal/model"
)

// DefaultWindow is the default correlation window.
const DefaultWindow = 30 * time.Second

// Confidence grades how a match was established.
type Confidence string

const (
	ConfidenceExact       Confidence = "exact"
	ConfidenceCorrelation Confidence = "correlation"
	ConfidenceFuzzy       Confidence = "fuzzy"
)

// Strategy labels, reported for observability.
const (
	StrategyID               = "id"
	StrategyRoleParentTime   = "role-parent-time"
	StrategyToolCallID       = "tool-call-id"
	StrategyTextMessage      = "text-message"
	StrategyReasoningID      = "reasoning-id"
	StrategyReasoningMessage = "reasoning-message"
)

// Match is a transient matching result.
type Match[T model.Entity] struct {
	Entity     T
	Confidence Confidence
	Strategy   string
}

// Matcher holds the correlation window.
type Matcher struct {
	window time.Duration
}

// New creates a Matcher. A non-positive window falls back to DefaultWindow.
func New(window time.Duration) Matcher {
	if window <= 0 {
		window = DefaultWindow
	}
	return Matcher{window: window}
}

// Window returns the correlation window.
func (m Matcher) Window() time.Duration {
	return m.window
}

// WithinWindow reports whether two epoch-ms instants are no further apart
// than the window.
func (m Matcher) WithinWindow(a, b int64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= m.window.Milliseconds()
}

// MatchMessage finds the optimistic message a canonical message supersedes.
//
//  1. exact: same id.
//  2. correlation: candidate is optimistic, same role, same parent (both
//     empty counts as equal), and created within the window of the
//     placeholder's local timestamp.
func (m Matcher) MatchMessage(canonical model.Message, candidates []model.Message) (Match[model.Message], bool) {
	for _, c := range candidates {
		if c.ID == canonical.ID {
			return Match[model.Message]{Entity: c, Confidence: ConfidenceExact, Strategy: StrategyID}, true
		}
	}

	for _, c := range candidates {
		if !model.IsOptimistic(c) {
			continue
		}
		if c.Role != canonical.Role || c.ParentID != canonical.ParentID {
			continue
		}
		if !m.WithinWindow(canonical.CreatedAt, c.Metadata.Timestamp) {
			continue
		}
		return Match[model.Message]{Entity: c, Confidence: ConfidenceCorrelation, Strategy: StrategyRoleParentTime}, true
	}

	return Match[model.Message]{}, false
}

// MatchPart finds the optimistic part a canonical part supersedes.
//
//  1. exact: same id.
//  2. tool/tool-call with a call id: optimistic, same type, message and call id.
//  3. text: the first optimistic text part of the same message.
//  4. reasoning: same message and, when the canonical part names a reasoning
//     id, the same reasoning id.
func (m Matcher) MatchPart(canonical model.Part, candidates []model.Part) (Match[model.Part], bool) {
	for _, c := range candidates {
		if c.ID == canonical.ID {
			return Match[model.Part]{Entity: c, Confidence: ConfidenceExact, Strategy: StrategyID}, true
		}
	}

	switch {
	case model.IsToolType(canonical.Type) && canonical.CallID != "":
		for _, c := range candidates {
			if model.IsOptimistic(c) &&
				c.Type == canonical.Type &&
				c.MessageID == canonical.MessageID &&
				c.CallID == canonical.CallID {
				return Match[model.Part]{Entity: c, Confidence: ConfidenceCorrelation, Strategy: StrategyToolCallID}, true
			}
		}

	case canonical.Type == model.PartText:
		for _, c := range candidates {
			if model.IsOptimistic(c) && c.Type == model.PartText && c.MessageID == canonical.MessageID {
				return Match[model.Part]{Entity: c, Confidence: ConfidenceCorrelation, Strategy: StrategyTextMessage}, true
			}
		}

	case canonical.Type == model.PartReasoning:
		for _, c := range candidates {
			if !model.IsOptimistic(c) || c.Type != model.PartReasoning || c.MessageID != canonical.MessageID {
				continue
			}
			if canonical.ReasoningID != "" {
				if c.ReasoningID == canonical.ReasoningID {
					return Match[model.Part]{Entity: c, Confidence: ConfidenceCorrelation, Strategy: StrategyReasoningID}, true
				}
				continue
			}
			return Match[model.Part]{Entity: c, Confidence: ConfidenceFuzzy, Strategy: StrategyReasoningMessage}, true
		}
	}

	return Match[model.Part]{}, false
}
