// Package transport manages duplex connections to the chat backend: one
// Session per conversation, never shared, plus the Manager arena that
// owns them.
package transport

/*
SESSION STATE MACHINE

    Disconnected ──connect()──> Connecting ──open──> Connected
         ^                          │                    │
         │        failure/timeout   │      remote close  │
         └──────────────────────────┴────────────────────┘
    any state ──Disconnect()──> Closing ──> Disconnected

Rules the rest of the client relies on:

  - Connect is rejected while an attempt is already in flight; it never
    starts a second dial.
  - Sends issued while Connecting are queued and flushed FIFO on open;
    sends while Disconnected or Closing fail fast with a boolean.
  - An abnormal close in always-on mode schedules a reconnect with
    exponential backoff (base delay doubled per attempt) up to a fixed
    attempt cap, after which a terminal connection-failed notification
    fires. A normal, user-initiated close never reconnects.
  - Disconnect cancels an in-flight dial and any pending reconnect timer
    synchronously, and clears the outbound queue.

Each Session is exclusively owned by one conversation. Events are
delivered to the handler in the order the connection produced them; the
session never reorders.
*/

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/parleylabs/parley/internal/logger"
	"github.com/parleylabs/parley/internal/metrics"
	"github.com/parleylabs/parley/internal/protocol"
)

// State is the lifecycle state of a Session
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateClosing      State = "closing"
)

// Default connection policy
const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultReconnectBase  = 1 * time.Second
	DefaultMaxReconnects  = 5
	DefaultSendRate       = rate.Limit(20) // outbound events per second
	DefaultSendBurst      = 10
)

// Session errors
var (
	ErrConnectInFlight  = errors.New("connect already in flight")
	ErrAlreadyConnected = errors.New("session already connected")
)

// Config describes one conversation's connection parameters
type Config struct {
	BaseURL        string
	ConversationID string
	Schema         string // optional schema query parameter
	SessionToken   string // optional cookie-derived token, percent-encoded

	AlwaysOn       bool // reconnect on abnormal close
	ConnectTimeout time.Duration
	ReconnectBase  time.Duration
	MaxReconnects  int
}

// Handler receives session callbacks. All callbacks for one session are
// invoked serially from the session's read loop.
type Handler interface {
	// HandleEvent delivers one classified inbound event
	HandleEvent(conversationID string, event *protocol.Event)

	// HandleStateChange reports lifecycle transitions
	HandleStateChange(conversationID string, state State)

	// HandleConnectionFailed fires once when the reconnect attempt cap
	// is exhausted; the session stops retrying.
	HandleConnectionFailed(conversationID string, err error)
}

// Session manages exactly one duplex connection's lifecycle for one
// conversation.
type Session struct {
	cfg     Config
	dialer  Dialer
	handler Handler
	limiter *rate.Limiter

	mu             sync.Mutex
	state          State
	conn           Conn
	queue          [][]byte // outbound events queued while Connecting
	retryOnConnect [][]byte // one-shot resend slot, flushed after reconnect
	dialCancel     context.CancelFunc
	reconnectTimer *time.Timer
	timerGen       int // bumped by Disconnect to invalidate fired-but-unrun timers
	attempts       int

	buffer *ReplayBuffer
}

// NewSession creates a session in the Disconnected state
func NewSession(cfg Config, dialer Dialer, handler Handler) *Session {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = DefaultReconnectBase
	}
	if cfg.MaxReconnects <= 0 {
		cfg.MaxReconnects = DefaultMaxReconnects
	}
	if dialer == nil {
		dialer = NewWebsocketDialer()
	}
	return &Session{
		cfg:     cfg,
		dialer:  dialer,
		handler: handler,
		limiter: rate.NewLimiter(DefaultSendRate, DefaultSendBurst),
		state:   StateDisconnected,
		buffer:  NewReplayBuffer(cfg.ConversationID, DefaultReplayBufferSize),
	}
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Buffer returns the session's replay buffer
func (s *Session) Buffer() *ReplayBuffer {
	return s.buffer
}

// Address builds the connection URL for this conversation: base URL plus
// chat_id, optional schema, optional percent-encoded session parameters.
func (s *Session) Address() (string, error) {
	u, err := url.Parse(s.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	q := u.Query()
	q.Set("chat_id", s.cfg.ConversationID)
	if s.cfg.Schema != "" {
		q.Set("schema", s.cfg.Schema)
	}
	if s.cfg.SessionToken != "" {
		q.Set("session", s.cfg.SessionToken)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Connect opens the connection. A call while an attempt is already in
// flight is rejected without starting a second attempt.
func (s *Session) Connect() error {
	return s.connect(false, 0)
}

// connect opens the connection. Reconnect attempts carry the timer
// generation they were scheduled under; Disconnect bumps the generation,
// so a timer callback that fired before Disconnect but runs after it is
// rejected here instead of dialing from a user-closed session.
func (s *Session) connect(isReconnect bool, gen int) error {
	s.mu.Lock()
	if isReconnect {
		if gen != s.timerGen {
			s.mu.Unlock()
			return fmt.Errorf("reconnect superseded by disconnect")
		}
		s.reconnectTimer = nil
	}
	switch s.state {
	case StateConnecting:
		s.mu.Unlock()
		return ErrConnectInFlight
	case StateConnected:
		s.mu.Unlock()
		return ErrAlreadyConnected
	case StateClosing:
		s.mu.Unlock()
		return fmt.Errorf("session is closing")
	}
	s.setStateLocked(StateConnecting)

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ConnectTimeout)
	s.dialCancel = cancel
	s.mu.Unlock()

	addr, err := s.Address()
	if err != nil {
		cancel()
		s.failConnect(isReconnect, err)
		return err
	}

	conn, err := s.dialer.DialContext(ctx, addr)
	cancel()
	if err != nil {
		s.failConnect(isReconnect, fmt.Errorf("dial %s: %w", s.cfg.ConversationID, err))
		return err
	}

	s.mu.Lock()
	if s.state != StateConnecting {
		// Disconnect() won the race while we were dialing
		s.mu.Unlock()
		_ = conn.Close()
		return fmt.Errorf("session closed during connect")
	}
	s.conn = conn
	s.dialCancel = nil
	s.attempts = 0
	pending := append(s.queue, s.retryOnConnect...)
	s.queue = nil
	s.retryOnConnect = nil
	s.setStateLocked(StateConnected)
	s.mu.Unlock()

	metrics.RecordSessionOpen()
	if isReconnect {
		metrics.RecordReconnect("success")
	}
	metrics.OutboundQueueDepth.Set(0)

	// Flush everything queued while Connecting, in FIFO order
	for _, data := range pending {
		if err := s.write(data); err != nil {
			logger.Error("Flush failed for conversation %s: %v", s.cfg.ConversationID, err)
			break
		}
	}

	go s.readLoop(conn)
	return nil
}

// failConnect records a failed open and, for reconnect attempts in
// always-on mode, keeps the backoff sequence going.
func (s *Session) failConnect(isReconnect bool, err error) {
	logger.Error("Connect failed for conversation %s: %v", s.cfg.ConversationID, err)

	s.mu.Lock()
	if s.state != StateConnecting {
		s.mu.Unlock()
		return
	}
	s.dialCancel = nil
	s.setStateLocked(StateDisconnected)
	s.mu.Unlock()

	if isReconnect {
		metrics.RecordReconnect("failure")
		s.scheduleReconnect()
	}
}

// Send dispatches an outbound event. Returns true when the event was
// written or queued; false when the session is Disconnected or Closing.
// Events are never silently dropped while Connecting: they queue.
func (s *Session) Send(event *protocol.OutboundEvent) bool {
	data, err := event.Encode()
	if err != nil {
		logger.Error("Encode failed for conversation %s: %v", s.cfg.ConversationID, err)
		return false
	}

	s.mu.Lock()
	switch s.state {
	case StateConnecting:
		s.queue = append(s.queue, data)
		metrics.OutboundQueueDepth.Set(float64(len(s.queue)))
		s.mu.Unlock()
		return true
	case StateConnected:
		s.mu.Unlock()
		if err := s.write(data); err != nil {
			logger.Error("Send failed for conversation %s: %v", s.cfg.ConversationID, err)
			return false
		}
		return true
	default:
		s.mu.Unlock()
		metrics.RecordSendFailure()
		return false
	}
}

// SendOnReconnect stashes an event for a single automatic resend after
// the next successful connect. This backs the documented policy of one
// retry after a reconnect for a send that failed while disconnected.
func (s *Session) SendOnReconnect(event *protocol.OutboundEvent) {
	data, err := event.Encode()
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retryOnConnect = append(s.retryOnConnect, data)
}

// write pushes one frame through the rate limiter onto the wire.
// Fire-and-forget: no acknowledgment is awaited.
func (s *Session) write(data []byte) error {
	_ = s.limiter.Wait(context.Background())

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("connection gone")
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Disconnect closes the session. It cancels an in-flight dial and any
// pending reconnect timer synchronously, clears the outbound queue, and
// leaves the session Disconnected. Never triggers a reconnect.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.state == StateDisconnected && s.reconnectTimer == nil {
		s.mu.Unlock()
		return
	}
	s.setStateLocked(StateClosing)

	if s.dialCancel != nil {
		s.dialCancel()
		s.dialCancel = nil
	}
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	s.timerGen++
	s.queue = nil
	s.retryOnConnect = nil
	conn := s.conn
	s.conn = nil
	wasConnected := conn != nil
	s.setStateLocked(StateDisconnected)
	s.mu.Unlock()

	metrics.OutboundQueueDepth.Set(0)
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}
	if wasConnected {
		metrics.RecordSessionClose()
	}
}

// readLoop receives frames until the connection dies. Each frame is
// classified; malformed payloads are counted and skipped, everything
// else is buffered for replay and handed to the handler in order.
func (s *Session) readLoop(conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.handleClose(conn, err)
			return
		}

		event, cerr := protocol.Classify(data)
		if cerr != nil {
			metrics.RecordMalformed()
			continue
		}

		s.buffer.Append(event)
		if s.handler != nil {
			s.handler.HandleEvent(s.cfg.ConversationID, event)
		}
	}
}

// handleClose reacts to a dead connection: local teardown always, a
// backoff reconnect only for abnormal closes in always-on mode.
func (s *Session) handleClose(conn Conn, err error) {
	s.mu.Lock()
	if s.conn != conn {
		// Disconnect already tore this connection down
		s.mu.Unlock()
		return
	}
	s.conn = nil
	closing := s.state == StateClosing
	s.setStateLocked(StateDisconnected)
	s.mu.Unlock()

	metrics.RecordSessionClose()
	_ = conn.Close()

	if closing {
		return
	}

	abnormal := websocket.IsUnexpectedCloseError(err,
		websocket.CloseNormalClosure, websocket.CloseGoingAway)
	if abnormal && s.cfg.AlwaysOn {
		logger.Error("Connection lost for conversation %s: %v", s.cfg.ConversationID, err)
		s.scheduleReconnect()
	}
}

// scheduleReconnect arms the backoff timer for the next attempt. After
// the attempt cap, a terminal connection-failed notification fires and
// retrying stops.
func (s *Session) scheduleReconnect() {
	s.mu.Lock()
	if s.state != StateDisconnected {
		s.mu.Unlock()
		return
	}

	s.attempts++
	if s.attempts > s.cfg.MaxReconnects {
		s.attempts = 0
		s.mu.Unlock()
		metrics.RecordReconnect("exhausted")
		if s.handler != nil {
			s.handler.HandleConnectionFailed(s.cfg.ConversationID,
				fmt.Errorf("connection failed after %d reconnect attempts", s.cfg.MaxReconnects))
		}
		return
	}

	delay := s.cfg.ReconnectBase << (s.attempts - 1)
	logger.Info("Scheduling reconnect %d/%d for conversation %s in %v",
		s.attempts, s.cfg.MaxReconnects, s.cfg.ConversationID, delay)

	gen := s.timerGen
	s.reconnectTimer = time.AfterFunc(delay, func() {
		_ = s.connect(true, gen)
	})
	s.mu.Unlock()
}

// setStateLocked transitions the state and notifies the handler.
// Caller holds s.mu.
func (s *Session) setStateLocked(state State) {
	if s.state == state {
		return
	}
	s.state = state
	if s.handler != nil {
		// Notify without holding the lock across handler code
		go s.handler.HandleStateChange(s.cfg.ConversationID, state)
	}
}
