package transport

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the subset of a duplex connection the session needs. The
// gorilla *websocket.Conn satisfies it; tests substitute fakes.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// Dialer opens a duplex connection to the given address
type Dialer interface {
	DialContext(ctx context.Context, address string) (Conn, error)
}

// websocketDialer is the production Dialer backed by gorilla/websocket
type websocketDialer struct {
	dialer *websocket.Dialer
}

// NewWebsocketDialer returns the production websocket dialer
func NewWebsocketDialer() Dialer {
	return &websocketDialer{dialer: websocket.DefaultDialer}
}

func (d *websocketDialer) DialContext(ctx context.Context, address string) (Conn, error) {
	conn, resp, err := d.dialer.DialContext(ctx, address, nil)
	if err != nil {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		return nil, err
	}
	return conn, nil
}
