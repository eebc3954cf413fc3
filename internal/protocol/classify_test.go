package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestClassify_Kinds(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		wantKind EventKind
	}{
		{
			"response in progress",
			`{"type":"system_response_message","status":"in_progress","content":{"text":"Hi"}}`,
			KindResponse,
		},
		{
			"response complete",
			`{"type":"system_response_message","status":"complete"}`,
			KindResponse,
		},
		{
			"intermediate",
			`{"type":"system_intermediate_message","content":{"name":"search","payload":{"q":"go"}}}`,
			KindIntermediate,
		},
		{
			"interaction",
			`{"type":"system_interaction_message","content":{"input_type":"oauth_consent","oauth_url":"https://auth.example"}}`,
			KindInteraction,
		},
		{
			"error",
			`{"type":"error","content":{"text":"boom","error":"internal"}}`,
			KindError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := Classify([]byte(tt.payload))
			if err != nil {
				t.Fatalf("Classify() error = %v", err)
			}
			if event.Kind != tt.wantKind {
				t.Errorf("Kind = %q, want %q", event.Kind, tt.wantKind)
			}
		})
	}
}

func TestClassify_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"empty", ""},
		{"whitespace", "   "},
		{"null", "null"},
		{"array", `[{"type":"error"}]`},
		{"string", `"hello"`},
		{"missing type", `{"id":"x"}`},
		{"unknown type", `{"type":"something_else"}`},
		{"bad json", `{"type":"error"`},
		{"response without status", `{"type":"system_response_message"}`},
		{"response bad status", `{"type":"system_response_message","status":"done"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Classify([]byte(tt.payload))
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("Classify() error = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestClassify_FieldExtraction(t *testing.T) {
	payload := `{
		"type": "system_interaction_message",
		"id": "evt-1",
		"conversation_id": "conv-1",
		"parent_id": "msg-1",
		"thread_id": "thread-1",
		"timestamp": 1700000000,
		"content": {
			"input_type": "oauth_consent",
			"oauth_url": "https://auth.example/consent",
			"redirect_url": "https://fallback.example",
			"text": "please authorize"
		}
	}`
	event, err := Classify([]byte(payload))
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if event.ID != "evt-1" {
		t.Errorf("ID = %q, want %q", event.ID, "evt-1")
	}
	if event.ConversationID != "conv-1" {
		t.Errorf("ConversationID = %q, want %q", event.ConversationID, "conv-1")
	}
	if event.ParentID != "msg-1" {
		t.Errorf("ParentID = %q, want %q", event.ParentID, "msg-1")
	}
	if event.ThreadID != "thread-1" {
		t.Errorf("ThreadID = %q, want %q", event.ThreadID, "thread-1")
	}
	if event.InputType != InputTypeOAuthConsent {
		t.Errorf("InputType = %q, want %q", event.InputType, InputTypeOAuthConsent)
	}
	if event.OAuthURL != "https://auth.example/consent" {
		t.Errorf("OAuthURL = %q", event.OAuthURL)
	}
	if !json.Valid(event.Raw) {
		t.Error("Raw must retain the original payload verbatim")
	}
}

func TestClassify_BadContentDegrades(t *testing.T) {
	// A response whose content is not the expected object still classifies;
	// the fragment degrades to empty.
	payload := `{"type":"system_response_message","status":"in_progress","content":"not an object"}`
	event, err := Classify([]byte(payload))
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if event.Text != "" {
		t.Errorf("Text = %q, want empty", event.Text)
	}
}

func TestShouldAppendContent(t *testing.T) {
	tests := []struct {
		name  string
		event *Event
		want  bool
	}{
		{"in progress with text", &Event{Kind: KindResponse, Status: StatusInProgress, Text: "Hi"}, true},
		{"in progress whitespace only", &Event{Kind: KindResponse, Status: StatusInProgress, Text: "  \n "}, false},
		{"in progress empty", &Event{Kind: KindResponse, Status: StatusInProgress}, false},
		{"complete with text", &Event{Kind: KindResponse, Status: StatusComplete, Text: "tail"}, false},
		{"wrong kind", &Event{Kind: KindError, Status: StatusInProgress, Text: "x"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldAppendContent(tt.event); got != tt.want {
				t.Errorf("ShouldAppendContent() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRedirectTarget_Priority(t *testing.T) {
	tests := []struct {
		name   string
		event  *Event
		want   string
		wantOK bool
	}{
		{
			"primary address wins",
			&Event{OAuthURL: "https://a", RedirectURL: "https://b", PromptText: "https://c"},
			"https://a", true,
		},
		{
			"fallback when primary empty",
			&Event{RedirectURL: "https://b", PromptText: "https://c"},
			"https://b", true,
		},
		{
			"free text last",
			&Event{PromptText: "https://c"},
			"https://c", true,
		},
		{
			"nothing usable",
			&Event{},
			"", false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.event.RedirectTarget()
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("RedirectTarget() = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestIsExternalRedirect(t *testing.T) {
	redirect := &Event{Kind: KindInteraction, InputType: InputTypeOAuthConsent}
	if !redirect.IsExternalRedirect() {
		t.Error("oauth_consent interaction must be an external redirect")
	}
	plain := &Event{Kind: KindInteraction, InputType: "text"}
	if plain.IsExternalRedirect() {
		t.Error("plain interaction must not be an external redirect")
	}
	other := &Event{Kind: KindResponse, InputType: InputTypeOAuthConsent}
	if other.IsExternalRedirect() {
		t.Error("non-interaction kinds are never redirects")
	}
}

func TestNewUserMessage(t *testing.T) {
	event := NewUserMessage("conv-1", "hello", "https://img.example/a.png")

	if event.Type != TypeUserMessage {
		t.Errorf("Type = %q, want %q", event.Type, TypeUserMessage)
	}
	if event.ID == "" {
		t.Error("ID must be freshly generated")
	}
	if event.ConversationID != "conv-1" {
		t.Errorf("ConversationID = %q, want %q", event.ConversationID, "conv-1")
	}
	msgs := event.Content.Messages
	if len(msgs) != 1 || msgs[0].Role != "user" {
		t.Fatalf("Messages = %+v, want one user entry", msgs)
	}
	if len(msgs[0].Content) != 2 {
		t.Fatalf("Content parts = %d, want 2", len(msgs[0].Content))
	}
	if msgs[0].Content[0].Type != "text" || msgs[0].Content[0].Text != "hello" {
		t.Errorf("text part = %+v", msgs[0].Content[0])
	}
	if msgs[0].Content[1].Type != "image" || msgs[0].Content[1].URL != "https://img.example/a.png" {
		t.Errorf("image part = %+v", msgs[0].Content[1])
	}
}

func TestNewUserMessage_FreshIDs(t *testing.T) {
	a := NewUserMessage("conv-1", "x")
	b := NewUserMessage("conv-1", "x")
	if a.ID == b.ID {
		t.Error("every outbound event must carry a fresh identifier")
	}
}

func TestNewInteractionResponse_Linkage(t *testing.T) {
	event := NewInteractionResponse("conv-1", "thread-9", "msg-4", "yes")

	if event.Type != TypeInteractionResponse {
		t.Errorf("Type = %q, want %q", event.Type, TypeInteractionResponse)
	}
	if event.ThreadID != "thread-9" || event.ParentID != "msg-4" {
		t.Errorf("linkage = (%q, %q), want (thread-9, msg-4)", event.ThreadID, event.ParentID)
	}

	data, err := event.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("encoded event is not valid JSON: %v", err)
	}
	if decoded["type"] != TypeInteractionResponse {
		t.Errorf("encoded type = %v, want %q", decoded["type"], TypeInteractionResponse)
	}
}
