// Package interact turns server interaction requests into operator
// responses: either an external-redirect flow handled in a browser
// window or a free-text answer collected from the operator.
package interact

import (
	"context"
	"fmt"

	"github.com/parleylabs/parley/internal/logger"
	"github.com/parleylabs/parley/internal/protocol"
)

// RedirectWindow is an open top-level browser context. Done fires once
// when the external flow signals completion.
type RedirectWindow interface {
	Done() <-chan struct{}
	Close()
}

// Browser opens top-level browser contexts for external-redirect flows
type Browser interface {
	OpenWindow(address string) (RedirectWindow, error)
}

// Prompter presents an interaction request to the human operator and
// returns their free-text answer. Blocks until submission or ctx done.
type Prompter interface {
	Prompt(ctx context.Context, request *protocol.Event) (string, error)
}

// Notifier surfaces user-visible notices outside the message log
type Notifier interface {
	Notify(message string)
}

// Sender dispatches an outbound event; the transport session satisfies
// this.
type Sender interface {
	Send(event *protocol.OutboundEvent) bool
}

// Coordinator routes interaction requests to the right flow
type Coordinator struct {
	browser  Browser
	prompter Prompter
	notifier Notifier
}

// NewCoordinator wires the coordinator's collaborators
func NewCoordinator(browser Browser, prompter Prompter, notifier Notifier) *Coordinator {
	return &Coordinator{
		browser:  browser,
		prompter: prompter,
		notifier: notifier,
	}
}

// OpenRedirect runs the external-redirect flow: open a window at the
// target address, wait for its one-shot completion signal, then close it
// and stop listening. A missing usable address surfaces a notification
// and takes no further action. The message store is never touched.
func (c *Coordinator) OpenRedirect(ctx context.Context, target string) error {
	if target == "" {
		c.notify("The sign-in request did not include a usable address.")
		return fmt.Errorf("redirect target missing")
	}

	window, err := c.browser.OpenWindow(target)
	if err != nil {
		c.notify("Could not open the sign-in window.")
		return fmt.Errorf("open redirect window: %w", err)
	}

	go func() {
		defer window.Close()
		select {
		case <-window.Done():
			logger.Info("External redirect flow completed")
		case <-ctx.Done():
		}
	}()
	return nil
}

// Respond runs the human-response flow: present the request, collect the
// operator's answer, and send an interaction response carrying the same
// thread/parent linkage as the original request.
func (c *Coordinator) Respond(ctx context.Context, conversationID string, request *protocol.Event, sender Sender) error {
	answer, err := c.prompter.Prompt(ctx, request)
	if err != nil {
		return fmt.Errorf("interaction prompt: %w", err)
	}

	response := protocol.NewInteractionResponse(conversationID, request.ThreadID, request.ParentID, answer)
	if !sender.Send(response) {
		return fmt.Errorf("interaction response not dispatched for conversation %s", conversationID)
	}
	return nil
}

func (c *Coordinator) notify(message string) {
	if c.notifier != nil {
		c.notifier.Notify(message)
	}
}
