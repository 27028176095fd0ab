package reconcile

import (
	"time"

	"github.com/roach88/eventsync/internal/correlate"
	"github.com/roach88/eventsync/internal/model"
)

// Engine binds the generic reconciliation functions to the domain matcher.
type Engine struct {
	matcher correlate.Matcher
}

// NewEngine creates an Engine over the given matcher.
func NewEngine(m correlate.Matcher) *Engine {
	return &Engine{matcher: m}
}

// Window returns the correlation window.
func (e *Engine) Window() time.Duration {
	return e.matcher.Window()
}

// Messages reconciles canonical messages against optimistic ones.
func (e *Engine) Messages(canonical, optimistic []model.Message, now int64) Result[model.Message] {
	return Reconcile(canonical, optimistic, e.matcher.MatchMessage, now, e.matcher.Window())
}

// Parts reconciles canonical parts against optimistic ones.
func (e *Engine) Parts(canonical, optimistic []model.Part, now int64) Result[model.Part] {
	return Reconcile(canonical, optimistic, e.matcher.MatchPart, now, e.matcher.Window())
}

// OrphanMessages returns optimistic messages older than the window.
func (e *Engine) OrphanMessages(messages []model.Message, now int64) []model.Message {
	return FindOrphans(messages, now, e.matcher.Window())
}

// OrphanParts returns optimistic parts older than the window.
func (e *Engine) OrphanParts(parts []model.Part, now int64) []model.Part {
	return FindOrphans(parts, now, e.matcher.Window())
}
