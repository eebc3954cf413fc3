package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformed is returned for payloads that fail classification: not a
// JSON object, null, or missing/unknown type discriminator. Malformed
// payloads produce no state change downstream.
var ErrMalformed = errors.New("malformed event payload")

// rawEnvelope is the superset wire shape shared by all inbound events
type rawEnvelope struct {
	Type           string          `json:"type"`
	ID             string          `json:"id,omitempty"`
	ConversationID string          `json:"conversation_id,omitempty"`
	ParentID       string          `json:"parent_id,omitempty"`
	ThreadID       string          `json:"thread_id,omitempty"`
	Timestamp      int64           `json:"timestamp,omitempty"`
	Status         string          `json:"status,omitempty"`
	Content        json.RawMessage `json:"content,omitempty"`
}

type responseContent struct {
	Text string `json:"text,omitempty"`
}

type intermediateContent struct {
	Name    string          `json:"name,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type interactionContent struct {
	InputType   string `json:"input_type,omitempty"`
	OAuthURL    string `json:"oauth_url,omitempty"`
	RedirectURL string `json:"redirect_url,omitempty"`
	Text        string `json:"text,omitempty"`
}

type errorContent struct {
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

// Classify narrows a raw payload into exactly one Event kind by its
// required type discriminator. Returns ErrMalformed for anything that is
// not a JSON object carrying a known type.
func Classify(data []byte) (*Event, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" || trimmed[0] != '{' {
		return nil, ErrMalformed
	}

	var env rawEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	event := &Event{
		ID:             env.ID,
		ConversationID: env.ConversationID,
		ParentID:       env.ParentID,
		ThreadID:       env.ThreadID,
		Timestamp:      env.Timestamp,
		Raw:            json.RawMessage(append([]byte(nil), data...)),
	}

	switch env.Type {
	case TypeResponse:
		if env.Status != StatusInProgress && env.Status != StatusComplete {
			return nil, fmt.Errorf("%w: response status %q", ErrMalformed, env.Status)
		}
		event.Kind = KindResponse
		event.Status = env.Status
		var content responseContent
		if len(env.Content) > 0 {
			// Content is optional; a bad content object degrades to an
			// empty fragment rather than rejecting the whole event.
			_ = json.Unmarshal(env.Content, &content)
		}
		event.Text = content.Text

	case TypeIntermediate:
		event.Kind = KindIntermediate
		var content intermediateContent
		if len(env.Content) > 0 {
			_ = json.Unmarshal(env.Content, &content)
		}
		event.StepName = content.Name
		event.StepPayload = content.Payload

	case TypeInteraction:
		event.Kind = KindInteraction
		var content interactionContent
		if len(env.Content) > 0 {
			_ = json.Unmarshal(env.Content, &content)
		}
		event.InputType = content.InputType
		event.OAuthURL = content.OAuthURL
		event.RedirectURL = content.RedirectURL
		event.PromptText = content.Text

	case TypeError:
		event.Kind = KindError
		var content errorContent
		if len(env.Content) > 0 {
			_ = json.Unmarshal(env.Content, &content)
		}
		event.ErrorText = content.Text
		event.ErrorDetail = content.Error

	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformed, env.Type)
	}

	return event, nil
}

// ShouldAppendContent reports whether a response event contributes text
// to the open assistant message: only while in progress and only when
// the fragment is non-empty after trimming. A complete-status response
// is a sentinel that ends streaming and never carries content.
func ShouldAppendContent(e *Event) bool {
	return e.Kind == KindResponse &&
		e.Status == StatusInProgress &&
		strings.TrimSpace(e.Text) != ""
}
