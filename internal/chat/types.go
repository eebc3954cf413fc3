// Package chat holds the in-memory conversation log.
//
// types.go - Conversation and message data structures
//
// This file contains:
// - Conversation: append-only ordered message log with a display title
// - Message: user or assistant entry plus attached side-channel records
// - IntermediateStep: progress/trace records forming a shallow tree
//
// The log is pure data with no I/O. All mutation goes through Store and
// the reconcile package; callers must serialize access through a single
// owning event loop (no internal locking, see package doc in store.go).
package chat

import (
	"encoding/json"
	"time"
)

// Role identifies the author of a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Title truncation applied once, on the first user message
const (
	TitleMaxLen       = 30
	TitleContinuation = "…"
)

// Conversation is an append-only sequence of messages with a display title.
// Edits replace a suffix (TruncateFrom), never mutate history out of order.
type Conversation struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Messages  []*Message `json:"messages"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`

	titleSet bool
}

// Message is a single entry in a conversation. Content is mutable only
// while the message is the open assistant message (last in the sequence,
// role assistant), and then only by appending.
type Message struct {
	ID           string              `json:"id"`
	ParentID     string              `json:"parent_id,omitempty"`
	Role         Role                `json:"role"`
	Content      string              `json:"content"`
	Steps        []*IntermediateStep `json:"steps,omitempty"`
	Interactions []InteractionRecord `json:"interactions,omitempty"`
	Errors       []ErrorRecord       `json:"errors,omitempty"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// IntermediateStep is a structured progress record attached to an
// assistant message. Steps form a shallow tree keyed by ID/ParentID and
// are merged by ID when re-received. Index is the position among the
// siblings at merge time, assigned by the engine, not the server.
type IntermediateStep struct {
	ID       string              `json:"id"`
	ParentID string              `json:"parent_id,omitempty"`
	Index    int                 `json:"index"`
	Name     string              `json:"name,omitempty"`
	Payload  json.RawMessage     `json:"payload,omitempty"`
	Children []*IntermediateStep `json:"children,omitempty"`
}

// InteractionRecord retains a server interaction request verbatim for
// later rendering and for answering via the interaction coordinator.
type InteractionRecord struct {
	ID        string          `json:"id"`
	ThreadID  string          `json:"thread_id,omitempty"`
	ParentID  string          `json:"parent_id,omitempty"`
	InputType string          `json:"input_type,omitempty"`
	Raw       json.RawMessage `json:"raw"`
	CreatedAt time.Time       `json:"created_at"`
}

// ErrorRecord retains an upstream error event verbatim. It never blocks
// further processing.
type ErrorRecord struct {
	ID        string          `json:"id"`
	Text      string          `json:"text,omitempty"`
	Detail    string          `json:"detail,omitempty"`
	Raw       json.RawMessage `json:"raw"`
	CreatedAt time.Time       `json:"created_at"`
}

// OpenAssistant returns the open assistant message: the last message in
// the sequence if and only if its role is assistant. Returns nil when no
// assistant message is open.
func (c *Conversation) OpenAssistant() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	last := c.Messages[len(c.Messages)-1]
	if last.Role != RoleAssistant {
		return nil
	}
	return last
}

// LastMessage returns the trailing message or nil for an empty log
func (c *Conversation) LastMessage() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return c.Messages[len(c.Messages)-1]
}

// TitleAssigned reports whether the one-shot title rule has already fired
func (c *Conversation) TitleAssigned() bool {
	return c.titleSet
}

// MarkTitleAssigned records that the title rule has fired so it can
// never fire again for this conversation.
func (c *Conversation) MarkTitleAssigned() {
	c.titleSet = true
}

// FindStep looks up a step anywhere in the message's step tree by ID
func (m *Message) FindStep(id string) *IntermediateStep {
	return findStep(m.Steps, id)
}

func findStep(steps []*IntermediateStep, id string) *IntermediateStep {
	for _, s := range steps {
		if s.ID == id {
			return s
		}
		if found := findStep(s.Children, id); found != nil {
			return found
		}
	}
	return nil
}
