package client

import (
	"context"
	"net/http"
	"sync"
	"time"

	"livemap/pkg/protocol"

	"github.com/gorilla/websocket"
)

// Transport carries envelopes between the engine and the server. The
// engine owns reconnection; a Transport instance represents at most one
// live connection at a time.
type Transport interface {
	Connect(ctx context.Context) error
	Send(env protocol.Envelope) error
	Receive() (protocol.Envelope, error)
	Close() error
}

// wsTransport is the production Transport over a WebSocket.
type wsTransport struct {
	url   string
	token string

	dialer       *websocket.Dialer
	writeTimeout time.Duration

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewWebSocketTransport(url, token string) Transport {
	return &wsTransport{
		url:   url,
		token: token,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		writeTimeout: 10 * time.Second,
	}
}

func (t *wsTransport) Connect(ctx context.Context) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+t.token)

	conn, resp, err := t.dialer.DialContext(ctx, t.url, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return err
	}

	t.mu.Lock()
	if t.conn != nil {
		t.conn.Close()
	}
	t.conn = conn
	t.mu.Unlock()
	return nil
}

func (t *wsTransport) Send(env protocol.Envelope) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return websocket.ErrCloseSent
	}

	conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	return conn.WriteJSON(env)
}

func (t *wsTransport) Receive() (protocol.Envelope, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return protocol.Envelope{}, websocket.ErrCloseSent
	}

	var env protocol.Envelope
	err := conn.ReadJSON(&env)
	return env, err
}

func (t *wsTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}
