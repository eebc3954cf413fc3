package protocol

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Outbound wire type discriminators
const (
	TypeUserMessage         = "user_message"
	TypeInteractionResponse = "user_interaction_message"
)

// ContentPart is one part of an outbound message body: a text part or an
// attached image part.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	URL  string `json:"url,omitempty"`
}

// OutboundMessage is one role-tagged entry inside an outbound event
type OutboundMessage struct {
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

// OutboundEvent is the envelope for everything the client sends.
// Identifiers are freshly generated per construction, never reused.
type OutboundEvent struct {
	Type           string `json:"type"`
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id,omitempty"`
	ThreadID       string `json:"thread_id,omitempty"`
	ParentID       string `json:"parent_id,omitempty"`
	Content        struct {
		Messages []OutboundMessage `json:"messages"`
	} `json:"content"`
}

// NewUserMessage builds a user_message event from free text plus any
// attached image URLs.
func NewUserMessage(conversationID, text string, imageURLs ...string) *OutboundEvent {
	parts := []ContentPart{{Type: "text", Text: text}}
	for _, url := range imageURLs {
		parts = append(parts, ContentPart{Type: "image", URL: url})
	}

	event := &OutboundEvent{
		Type:           TypeUserMessage,
		ID:             uuid.NewString(),
		ConversationID: conversationID,
	}
	event.Content.Messages = []OutboundMessage{{Role: "user", Content: parts}}
	return event
}

// NewInteractionResponse builds a user_interaction_message event that
// answers a server interaction request, carrying the same thread/parent
// linkage as the original request.
func NewInteractionResponse(conversationID, threadID, parentID, answer string) *OutboundEvent {
	event := &OutboundEvent{
		Type:           TypeInteractionResponse,
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		ThreadID:       threadID,
		ParentID:       parentID,
	}
	event.Content.Messages = []OutboundMessage{{
		Role:    "user",
		Content: []ContentPart{{Type: "text", Text: answer}},
	}}
	return event
}

// Encode marshals the event for the wire
func (e *OutboundEvent) Encode() ([]byte, error) {
	return json.Marshal(e)
}
