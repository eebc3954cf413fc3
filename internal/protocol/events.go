// Package protocol defines the wire events exchanged with the chat
// backend and the classifier that narrows raw payloads into them.
//
// events.go - inbound event union and wire constants
//
// This file contains:
// - Wire type discriminators and status/input-type constants
// - EventKind and the classified Event carrying per-kind fields
//
// Every inbound payload is classified exactly once at the transport
// boundary; nothing downstream of the classifier handles untyped data.
package protocol

import "encoding/json"

// Wire type discriminators for inbound events
const (
	TypeResponse     = "system_response_message"
	TypeIntermediate = "system_intermediate_message"
	TypeInteraction  = "system_interaction_message"
	TypeError        = "error"
)

// Completion status values carried by response events
const (
	StatusInProgress = "in_progress"
	StatusComplete   = "complete"
)

// InputTypeOAuthConsent is the reserved interaction sub-kind resolved by
// navigating to an external address instead of a free-text reply.
const InputTypeOAuthConsent = "oauth_consent"

// EventKind discriminates the four classifier outcomes
type EventKind string

const (
	KindResponse     EventKind = "response"
	KindIntermediate EventKind = "intermediate"
	KindInteraction  EventKind = "interaction"
	KindError        EventKind = "error"
)

// Event is a classified inbound event. Immutable after classification.
type Event struct {
	Kind           EventKind
	ID             string
	ConversationID string
	ParentID       string
	ThreadID       string
	Timestamp      int64

	// Response fields
	Status string
	Text   string

	// Intermediate fields
	StepName    string
	StepPayload json.RawMessage

	// Interaction fields
	InputType   string
	OAuthURL    string
	RedirectURL string
	PromptText  string

	// Error fields
	ErrorText   string
	ErrorDetail string

	// Raw is the original payload, retained verbatim for records
	Raw json.RawMessage
}

// IsExternalRedirect reports whether the event is an interaction request
// resolved by an external-redirect flow.
func (e *Event) IsExternalRedirect() bool {
	return e.Kind == KindInteraction && e.InputType == InputTypeOAuthConsent
}

// RedirectTarget returns the address an external-redirect interaction
// should open, checked in priority order: primary address, fallback
// address, free-text field. ok is false when no usable address exists.
func (e *Event) RedirectTarget() (string, bool) {
	if e.OAuthURL != "" {
		return e.OAuthURL, true
	}
	if e.RedirectURL != "" {
		return e.RedirectURL, true
	}
	if e.PromptText != "" {
		return e.PromptText, true
	}
	return "", false
}
