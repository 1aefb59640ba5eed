package signal

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrSendBufferFull is returned when a connection's outbound queue is
// saturated. The dispatcher treats it like any other push failure and
// unregisters the connection.
var ErrSendBufferFull = errors.New("send buffer full")

var errPusherClosed = errors.New("pusher closed")

// connPusher serializes all writes to one WebSocket connection through a
// single writer goroutine. Push never blocks on the network; a slow
// reader fills the buffer and gets disconnected instead of stalling
// fan-out to everyone else.
type connPusher struct {
	conn         *websocket.Conn
	send         chan interface{}
	done         chan struct{}
	closeOnce    sync.Once
	writeTimeout time.Duration
	logger       *zap.SugaredLogger
}

func newConnPusher(conn *websocket.Conn, bufferSize int, writeTimeout time.Duration, logger *zap.SugaredLogger) *connPusher {
	p := &connPusher{
		conn:         conn,
		send:         make(chan interface{}, bufferSize),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
		logger:       logger,
	}
	go p.writeLoop()
	return p
}

func (p *connPusher) writeLoop() {
	for {
		select {
		case msg := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout))
			if err := p.conn.WriteJSON(msg); err != nil {
				p.logger.Debugw("websocket write failed", "error", err)
				p.Close()
				return
			}
		case <-p.done:
			return
		}
	}
}

func (p *connPusher) Push(message interface{}) error {
	select {
	case <-p.done:
		return errPusherClosed
	default:
	}

	select {
	case p.send <- message:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close stops the writer and closes the underlying connection. Safe to
// call from the registry, the write loop and the read loop concurrently.
func (p *connPusher) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
		p.conn.Close()
	})
	return nil
}

// ping sends a control ping; control frames bypass the queue so
// liveness checks still go out when the buffer is backed up.
// WriteControl is the only write safe to issue concurrently with the
// write loop.
func (p *connPusher) ping() error {
	return p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(p.writeTimeout))
}
