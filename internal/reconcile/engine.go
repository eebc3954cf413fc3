// Package reconcile folds classified inbound events into the message
// store.
//
// engine.go - the reconciliation fold
//
// Reconcile is a pure function of (store, conversation, event, options):
// the same inputs always produce the same store mutation and side-effect
// descriptors. That determinism is what makes event replay after a
// reconnect safe, and what keeps the fold testable without a transport.
//
// Side effects (opening an external redirect, surfacing an interaction
// prompt) are returned as data in Result; the caller decides how to act
// on them. The engine itself performs no I/O.
package reconcile

import (
	"strings"

	"github.com/google/uuid"

	"github.com/parleylabs/parley/internal/chat"
	"github.com/parleylabs/parley/internal/metrics"
	"github.com/parleylabs/parley/internal/protocol"
)

// Options is the explicit configuration the fold depends on. The
// intermediate-step toggle lives here rather than in ambient session
// state so behavior is a function of inputs only.
type Options struct {
	// IntermediateSteps enables folding of intermediate-step events.
	// When false they are suppressed before reaching Reconcile.
	IntermediateSteps bool

	// StepOverride forces step folding for this conversation even when
	// the global toggle is off.
	StepOverride bool
}

// DefaultOptions enables everything
func DefaultOptions() Options {
	return Options{IntermediateSteps: true}
}

// stepsEnabled resolves the two toggles
func (o Options) stepsEnabled() bool {
	return o.IntermediateSteps || o.StepOverride
}

// Result describes what one reconcile step did and which side effects
// the caller must perform.
type Result struct {
	// Message is the assistant message the event was folded into, nil
	// when the event produced no attachment (redirects, sentinels).
	Message *chat.Message

	// OpenRedirect carries the external address to open when the event
	// was an external-redirect interaction. The event was not attached
	// to any message in that case.
	OpenRedirect string

	// RedirectMissing is set when an external-redirect interaction
	// carried no usable address. The event was recorded for inspection;
	// the caller surfaces a notification and starts no response flow.
	RedirectMissing bool

	// Interaction is the request to surface to the operator, set for
	// non-redirect interaction events.
	Interaction *protocol.Event

	// StreamDone is set when a complete-status response sentinel was
	// observed; the caller ends its loading/streaming state.
	StreamDone bool
}

// Apply is the engine entry point used by event dispatchers. It applies
// the suppression toggle — a suppressed intermediate event never reaches
// Reconcile — and then runs the fold.
func Apply(store *chat.Store, conversationID string, event *protocol.Event, opts Options) Result {
	if event.Kind == protocol.KindIntermediate && !opts.stepsEnabled() {
		return Result{}
	}
	return Reconcile(store, conversationID, event, opts)
}

// Reconcile folds one classified event into the conversation's log and
// returns the side effects the caller must perform. Event kinds are
// handled in a fixed order of precedence: interaction, response,
// intermediate, error.
func Reconcile(store *chat.Store, conversationID string, event *protocol.Event, opts Options) Result {
	metrics.RecordEvent(string(event.Kind))

	switch event.Kind {
	case protocol.KindInteraction:
		return reconcileInteraction(store, conversationID, event)
	case protocol.KindResponse:
		return reconcileResponse(store, conversationID, event)
	case protocol.KindIntermediate:
		return reconcileIntermediate(store, conversationID, event)
	case protocol.KindError:
		return reconcileError(store, conversationID, event)
	}
	return Result{}
}

// reconcileInteraction handles server requests for human input. An
// external-redirect interaction with a usable target address is never
// attached to any message; it surfaces only as an open-redirect side
// effect. A redirect without a usable address is recorded and flagged
// for notification — a free-text answer cannot complete a redirect, so
// no response flow starts. Everything else is recorded on the open
// assistant message and handed to the coordinator.
func reconcileInteraction(store *chat.Store, conversationID string, event *protocol.Event) Result {
	if event.IsExternalRedirect() {
		if target, ok := event.RedirectTarget(); ok {
			return Result{OpenRedirect: target}
		}
		msg := attachInteraction(store, conversationID, event)
		return Result{Message: msg, RedirectMissing: true}
	}

	msg := attachInteraction(store, conversationID, event)
	return Result{Message: msg, Interaction: event}
}

// attachInteraction records an interaction request on the open assistant
// message, creating one with empty content when none is open.
func attachInteraction(store *chat.Store, conversationID string, event *protocol.Event) *chat.Message {
	msg := store.OpenOrCreateAssistant(conversationID, event.ParentID, "")
	store.AttachInteraction(conversationID, msg, chat.InteractionRecord{
		ID:        event.ID,
		ThreadID:  event.ThreadID,
		ParentID:  event.ParentID,
		InputType: event.InputType,
		Raw:       event.Raw,
	})
	return msg
}

// reconcileResponse appends streamed content. A complete-status response
// is a pure sentinel: it ends streaming, contributes no content, and
// never creates a message.
func reconcileResponse(store *chat.Store, conversationID string, event *protocol.Event) Result {
	if event.Status == protocol.StatusComplete {
		return Result{StreamDone: true}
	}
	if !protocol.ShouldAppendContent(event) {
		return Result{}
	}

	conv := store.Ensure(conversationID)
	msg := conv.OpenAssistant()
	if msg == nil {
		msg = store.OpenOrCreateAssistant(conversationID, event.ParentID, strings.TrimSpace(event.Text))
	} else {
		store.AppendContent(conversationID, msg, event.Text)
	}
	maybeAssignTitle(conv)
	return Result{Message: msg}
}

// reconcileIntermediate merges a step into the open assistant message's
// step tree by identifier. Message content is never altered.
func reconcileIntermediate(store *chat.Store, conversationID string, event *protocol.Event) Result {
	msg := store.OpenOrCreateAssistant(conversationID, event.ParentID, "")

	stepID := event.ID
	if stepID == "" {
		// No identifier to merge on; record as a unique step.
		stepID = uuid.NewString()
	}
	store.MergeStep(conversationID, msg, &chat.IntermediateStep{
		ID:       stepID,
		ParentID: event.ParentID,
		Name:     event.StepName,
		Payload:  event.StepPayload,
	})
	return Result{Message: msg}
}

// reconcileError attaches an upstream-reported error as inspectable data
// on the open assistant message. Errors are never suppressed and never
// fatal to the session.
func reconcileError(store *chat.Store, conversationID string, event *protocol.Event) Result {
	msg := store.OpenOrCreateAssistant(conversationID, event.ParentID, "")
	store.AttachError(conversationID, msg, chat.ErrorRecord{
		ID:     event.ID,
		Text:   event.ErrorText,
		Detail: event.ErrorDetail,
		Raw:    event.Raw,
	})
	return Result{Message: msg}
}

// maybeAssignTitle applies the one-shot title rule for conversations
// whose first message predates the rule firing (a log rehydrated from
// the archive). AppendUser normally assigns the title directly.
func maybeAssignTitle(conv *chat.Conversation) {
	if conv.TitleAssigned() || len(conv.Messages) == 0 {
		return
	}
	first := conv.Messages[0]
	if first.Role != chat.RoleUser {
		return
	}
	conv.Title = chat.TruncateTitle(first.Content)
	conv.MarkTitleAssigned()
}
