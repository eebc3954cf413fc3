package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/parleylabs/parley/internal/protocol"
)

// readBufferSize is the chunk granularity for the response body. The
// decoder is boundary-agnostic, so the size only affects latency.
const readBufferSize = 4096

// Streamer consumes one chunked HTTP response, demultiplexing it into
// visible text fragments and embedded intermediate events. Cancelling
// the request context aborts the stream cleanly: processing stops and no
// partial segment is committed.
type Streamer struct {
	client *http.Client

	ctx    context.Context
	cancel context.CancelFunc

	textCh   chan string
	eventsCh chan *protocol.Event
	errorsCh chan error
	doneCh   chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewStreamer starts streaming the given request. The request body is
// read on a background goroutine; results arrive on the channels.
func NewStreamer(ctx context.Context, client *http.Client, req *http.Request) (*Streamer, error) {
	if client == nil {
		client = http.DefaultClient
	}

	ctx, cancel := context.WithCancel(ctx)
	resp, err := client.Do(req.WithContext(ctx))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stream request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("stream request returned status %d", resp.StatusCode)
	}

	s := &Streamer{
		client:   client,
		ctx:      ctx,
		cancel:   cancel,
		textCh:   make(chan string, 16),
		eventsCh: make(chan *protocol.Event, 16),
		errorsCh: make(chan error, 1),
		doneCh:   make(chan struct{}),
	}

	go s.process(resp.Body)

	return s, nil
}

// Text returns the channel of visible text fragments
func (s *Streamer) Text() <-chan string {
	return s.textCh
}

// Events returns the channel of embedded intermediate events
func (s *Streamer) Events() <-chan *protocol.Event {
	return s.eventsCh
}

// Errors returns the channel of transport errors. Aborts are not
// errors; a cancelled stream completes silently.
func (s *Streamer) Errors() <-chan error {
	return s.errorsCh
}

// Done returns a channel that closes when the stream has finished
func (s *Streamer) Done() <-chan struct{} {
	return s.doneCh
}

// Abort cancels the in-flight request. Safe to call multiple times.
func (s *Streamer) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.cancel()
}

// process reads body chunks, runs them through the decoder, and fans the
// results out. Runs until EOF, error, or abort.
func (s *Streamer) process(body io.ReadCloser) {
	defer func() {
		_ = body.Close()
		s.cancel()
		close(s.textCh)
		close(s.eventsCh)
		close(s.errorsCh)
		close(s.doneCh)
	}()

	decoder := NewDecoder()
	buf := make([]byte, readBufferSize)

	for {
		n, err := body.Read(buf)
		if n > 0 {
			text, events := decoder.Feed(string(buf[:n]))
			if !s.emit(text, events) {
				return
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				if tail := decoder.Flush(); tail != "" {
					s.emit(tail, nil)
				}
				return
			}
			if s.ctx.Err() != nil {
				// Aborted: clean stop, nothing surfaced
				return
			}
			s.errorsCh <- fmt.Errorf("stream read failed: %w", err)
			return
		}
	}
}

// emit delivers decoded output, honoring abort. Returns false when the
// stream context is done.
func (s *Streamer) emit(text string, events []*protocol.Event) bool {
	if text != "" {
		select {
		case s.textCh <- text:
		case <-s.ctx.Done():
			return false
		}
	}
	for _, event := range events {
		select {
		case s.eventsCh <- event:
		case <-s.ctx.Done():
			return false
		}
	}
	return true
}
