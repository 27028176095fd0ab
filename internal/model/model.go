// Package model defines the domain records projected from server events:
// sessions, messages owned by a session, and parts owned by a message.
//
// Any record may carry OptimisticMetadata when it was created locally ahead of
// server confirmation. The metadata is dropped once a canonical record
// supersedes the placeholder.
package model

// Roles of a message.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Part types.
const (
	PartText       = "text"
	PartReasoning  = "reasoning"
	PartTool       = "tool"
	PartToolCall   = "tool-call"
	PartRetry      = "retry"
	PartStepStart  = "step-start"
	PartStepFinish = "step-finish"
	PartFile       = "file"
)

// Tool states.
const (
	ToolPending   = "pending"
	ToolRunning   = "running"
	ToolCompleted = "completed"
	ToolError     = "error"
)

// OptimisticMetadata marks a record created locally before the server
// confirmed it.
type OptimisticMetadata struct {
	Optimistic     bool   `json:"optimistic"`
	Source         string `json:"source,omitempty"`
	CorrelationKey string `json:"correlationKey,omitempty"`
	Timestamp      int64  `json:"timestamp"` // epoch ms of local creation
}

// Entity is implemented by every reconcilable record.
type Entity interface {
	EntityID() string
	Optimistic() *OptimisticMetadata
}

// IsOptimistic reports whether e is a local placeholder.
func IsOptimistic(e Entity) bool {
	m := e.Optimistic()
	return m != nil && m.Optimistic
}

// Session is the root record; its id doubles as the stream id.
type Session struct {
	ID        string `json:"id"`
	Title     string `json:"title,omitempty"`
	Directory string `json:"directory,omitempty"`
	ParentID  string `json:"parentId,omitempty"`
	CreatedAt int64  `json:"createdAt,omitempty"`
	UpdatedAt int64  `json:"updatedAt,omitempty"`
}

// Message is owned by its session and is the parent of parts.
type Message struct {
	ID          string              `json:"id"`
	Role        string              `json:"role"`
	StreamID    string              `json:"streamId"`
	ParentID    string              `json:"parentId,omitempty"`
	CreatedAt   int64               `json:"createdAt"`
	CompletedAt int64               `json:"completedAt,omitempty"`
	Metadata    *OptimisticMetadata `json:"metadata,omitempty"`
}

// EntityID implements Entity.
func (m Message) EntityID() string { return m.ID }

// Optimistic implements Entity.
func (m Message) Optimistic() *OptimisticMetadata { return m.Metadata }

// Meaningful returns the message without optimistic metadata, for no-op
// comparison.
func (m Message) Meaningful() Message {
	m.Metadata = nil
	return m
}

// ToolState is the execution state of a tool part.
type ToolState struct {
	Status string         `json:"status"`
	Input  map[string]any `json:"input,omitempty"`
	Output string         `json:"output,omitempty"`
	Title  string         `json:"title,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// Part is owned by its message. Fields beyond the identity are type
// specific: Text for text/reasoning, ReasoningID for reasoning, Tool/CallID/
// State for tools, Attempt/Next/Error for retries.
type Part struct {
	ID          string              `json:"id"`
	MessageID   string              `json:"messageId"`
	StreamID    string              `json:"streamId"`
	Type        string              `json:"type"`
	Text        string              `json:"text,omitempty"`
	ReasoningID string              `json:"reasoningId,omitempty"`
	Tool        string              `json:"tool,omitempty"`
	CallID      string              `json:"callId,omitempty"`
	State       *ToolState          `json:"state,omitempty"`
	Attempt     int                 `json:"attempt,omitempty"`
	Next        int64               `json:"next,omitempty"`
	Error       string              `json:"error,omitempty"`
	Metadata    *OptimisticMetadata `json:"metadata,omitempty"`
}

// EntityID implements Entity.
func (p Part) EntityID() string { return p.ID }

// Optimistic implements Entity.
func (p Part) Optimistic() *OptimisticMetadata { return p.Metadata }

// Meaningful returns the part without optimistic metadata.
func (p Part) Meaningful() Part {
	p.Metadata = nil
	return p
}

// IsToolType reports whether t is one of the tool part types.
func IsToolType(t string) bool {
	return t == PartTool || t == PartToolCall
}
