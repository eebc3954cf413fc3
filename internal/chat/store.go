package chat

/*
MESSAGE STORE OWNERSHIP

The Store is the append-only per-conversation message log. It is pure
data plus invariants:

  - Messages are only ever appended; edits replace a suffix via
    TruncateFrom, never rewrite interior history.
  - At most one assistant message is "open" (mutable) per conversation:
    the trailing message, and only while its role is assistant.
  - The display title is assigned at most once, from the first user
    message, by the truncation rule.

The Store carries no locks. It is mutated only by the reconcile engine
and by explicit user actions, and the hosting event loop serializes
those two sources. Sharing a Store across goroutines without that
serialization is a caller bug, not something the Store defends against.
*/

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store holds all conversations known to the client, keyed by ID, with
// creation order preserved for listing.
type Store struct {
	conversations map[string]*Conversation
	order         []string
}

// NewStore creates an empty message store
func NewStore() *Store {
	return &Store{
		conversations: make(map[string]*Conversation),
	}
}

// Create adds a new conversation. An empty id gets a fresh UUID.
func (s *Store) Create(id string) *Conversation {
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now()
	conv := &Conversation{
		ID:        id,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.conversations[id] = conv
	s.order = append(s.order, id)
	return conv
}

// Adopt registers an existing conversation, e.g. one rehydrated from
// the durable archive. A conversation with the same ID is replaced.
func (s *Store) Adopt(conv *Conversation) {
	if _, exists := s.conversations[conv.ID]; !exists {
		s.order = append(s.order, conv.ID)
	}
	s.conversations[conv.ID] = conv
}

// Get returns a conversation by ID
func (s *Store) Get(id string) (*Conversation, bool) {
	conv, ok := s.conversations[id]
	return conv, ok
}

// Ensure returns the conversation with the given ID, creating it first
// if it does not exist yet.
func (s *Store) Ensure(id string) *Conversation {
	if conv, ok := s.conversations[id]; ok {
		return conv
	}
	return s.Create(id)
}

// List returns all conversations in creation order
func (s *Store) List() []*Conversation {
	result := make([]*Conversation, 0, len(s.order))
	for _, id := range s.order {
		if conv, ok := s.conversations[id]; ok {
			result = append(result, conv)
		}
	}
	return result
}

// Remove deletes a conversation from the store. This is an external
// collaborator operation; the reconcile engine never calls it.
func (s *Store) Remove(id string) {
	if _, ok := s.conversations[id]; !ok {
		return
	}
	delete(s.conversations, id)
	for i, cid := range s.order {
		if cid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// AppendUser appends a user message and applies the one-shot title rule.
// Appending a user message closes any open assistant message.
func (s *Store) AppendUser(conversationID, content string) *Message {
	conv := s.Ensure(conversationID)
	now := time.Now()
	msg := &Message{
		ID:        uuid.NewString(),
		Role:      RoleUser,
		Content:   content,
		UpdatedAt: now,
	}
	conv.Messages = append(conv.Messages, msg)
	conv.UpdatedAt = now

	if !conv.titleSet {
		conv.Title = TruncateTitle(content)
		conv.titleSet = true
	}
	return msg
}

// OpenOrCreateAssistant returns the open assistant message, creating one
// with the given initial content when none is open.
func (s *Store) OpenOrCreateAssistant(conversationID, parentID, content string) *Message {
	conv := s.Ensure(conversationID)
	if open := conv.OpenAssistant(); open != nil {
		return open
	}
	now := time.Now()
	msg := &Message{
		ID:        uuid.NewString(),
		ParentID:  parentID,
		Role:      RoleAssistant,
		Content:   content,
		UpdatedAt: now,
	}
	conv.Messages = append(conv.Messages, msg)
	conv.UpdatedAt = now
	return msg
}

// AppendContent concatenates a fragment verbatim onto the open assistant
// message. No separator is inserted between fragments.
func (s *Store) AppendContent(conversationID string, msg *Message, fragment string) {
	msg.Content += fragment
	s.touch(conversationID, msg)
}

// MergeStep folds a step into the message's step tree by identifier.
// An existing step with the same ID is updated in place, preserving its
// position and index. Otherwise the step is appended: under the parent
// named by ParentID when that step exists, at top level when not, with
// index equal to the sibling count at merge time.
//
// Re-delivery of the same step ID is idempotent. Index assignment is
// delivery-order-dependent; out-of-production-order delivery yields a
// display order that does not match causal order, which is accepted.
func (s *Store) MergeStep(conversationID string, msg *Message, step *IntermediateStep) {
	defer s.touch(conversationID, msg)

	if existing := msg.FindStep(step.ID); existing != nil {
		existing.Name = step.Name
		existing.Payload = step.Payload
		existing.ParentID = step.ParentID
		return
	}

	if step.ParentID != "" {
		if parent := msg.FindStep(step.ParentID); parent != nil {
			step.Index = len(parent.Children)
			parent.Children = append(parent.Children, step)
			return
		}
	}

	step.Index = len(msg.Steps)
	msg.Steps = append(msg.Steps, step)
}

// AttachInteraction appends an interaction record to the message
func (s *Store) AttachInteraction(conversationID string, msg *Message, rec InteractionRecord) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	msg.Interactions = append(msg.Interactions, rec)
	s.touch(conversationID, msg)
}

// AttachError appends an error record to the message
func (s *Store) AttachError(conversationID string, msg *Message, rec ErrorRecord) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	msg.Errors = append(msg.Errors, rec)
	s.touch(conversationID, msg)
}

// TruncateFrom removes the message with the given ID and everything
// after it. Used for edit/regenerate, which replaces a suffix of the
// log. Returns false when the message is not found.
func (s *Store) TruncateFrom(conversationID, messageID string) bool {
	conv, ok := s.conversations[conversationID]
	if !ok {
		return false
	}
	for i, msg := range conv.Messages {
		if msg.ID == messageID {
			conv.Messages = conv.Messages[:i]
			conv.UpdatedAt = time.Now()
			return true
		}
	}
	return false
}

func (s *Store) touch(conversationID string, msg *Message) {
	now := time.Now()
	msg.UpdatedAt = now
	if conv, ok := s.conversations[conversationID]; ok {
		conv.UpdatedAt = now
	}
}

// TruncateTitle derives a conversation title from its first user
// message: the first TitleMaxLen characters, with a continuation marker
// appended when the message was longer.
func TruncateTitle(content string) string {
	trimmed := strings.TrimSpace(content)
	runes := []rune(trimmed)
	if len(runes) <= TitleMaxLen {
		return trimmed
	}
	return string(runes[:TitleMaxLen]) + TitleContinuation
}
