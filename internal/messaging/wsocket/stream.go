// Package wsocket implements messaging.Stream/Transport/Dialer over
// gorilla/websocket, adapted from the read/write pump pattern the teacher
// uses for its browser-facing gateway connections.
package wsocket

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ankaios/ankaios/internal/common/logger"
	"github.com/ankaios/ankaios/internal/messaging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024 * 1024 // CompleteState snapshots can be large
	sendBufferSize = 256
)

// Stream wraps a *websocket.Conn as a messaging.Stream, running its own
// write pump goroutine so Send can be called from any goroutine while a
// single reader drains Recv.
type Stream struct {
	conn   *websocket.Conn
	logger *logger.Logger

	send   chan []byte
	closed chan struct{}
	once   sync.Once
}

// NewStream starts the write pump and returns the wrapped Stream. Callers
// must call Recv in a loop until it returns an error, and Close when done.
func NewStream(conn *websocket.Conn, log *logger.Logger) *Stream {
	s := &Stream{
		conn:   conn,
		logger: log,
		send:   make(chan []byte, sendBufferSize),
		closed: make(chan struct{}),
	}
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go s.writePump()
	return s
}

func (s *Stream) Send(ctx context.Context, env *messaging.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("wsocket: marshal envelope: %w", err)
	}
	select {
	case <-s.closed:
		return messaging.ErrStreamClosed
	default:
	}
	select {
	case s.send <- data:
		return nil
	case <-s.closed:
		return messaging.ErrStreamClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Stream) Recv(ctx context.Context) (*messaging.Envelope, error) {
	type result struct {
		env *messaging.Envelope
		err error
	}
	done := make(chan result, 1)
	go func() {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			done <- result{err: fmt.Errorf("wsocket: read: %w", err)}
			return
		}
		var env messaging.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			done <- result{err: fmt.Errorf("wsocket: decode envelope: %w", err)}
			return
		}
		done <- result{env: &env}
	}()
	select {
	case r := <-done:
		return r.env, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Stream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return s.conn.Close()
}

func (s *Stream) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}

func (s *Stream) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case data, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Debug("wsocket: write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.closed:
			return
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServerTransport accepts incoming agent/commander connections on an
// http.Server by upgrading each request that reaches its handler.
type ServerTransport struct {
	accepted chan *Stream
	logger   *logger.Logger
}

// NewServerTransport returns a Transport whose Accept drains connections
// upgraded by its Handler.
func NewServerTransport(log *logger.Logger) *ServerTransport {
	return &ServerTransport{
		accepted: make(chan *Stream, 16),
		logger:   log,
	}
}

// Handler is the net/http.HandlerFunc to mount at the messaging endpoint.
func (t *ServerTransport) Handler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.logger.Warn("wsocket: upgrade failed", zap.Error(err))
		return
	}
	t.accepted <- NewStream(conn, t.logger)
}

func (t *ServerTransport) Accept(ctx context.Context) (messaging.Stream, error) {
	select {
	case s := <-t.accepted:
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *ServerTransport) Close() error {
	close(t.accepted)
	return nil
}

// Dialer dials an outbound websocket connection to the server.
type Dialer struct {
	logger    *logger.Logger
	tlsConfig *tls.Config
}

// NewDialer returns a messaging.Dialer backed by gorilla/websocket. A nil
// tlsConfig dials plain ws://; a non-nil one is used for wss:// and carries
// the agent/commander's mTLS client certificate.
func NewDialer(log *logger.Logger, tlsConfig *tls.Config) *Dialer {
	return &Dialer{logger: log, tlsConfig: tlsConfig}
}

func (d *Dialer) Dial(ctx context.Context, addr string) (messaging.Stream, error) {
	dialer := *websocket.DefaultDialer
	dialer.TLSClientConfig = d.tlsConfig
	conn, _, err := dialer.DialContext(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("wsocket: dial %s: %w", addr, err)
	}
	return NewStream(conn, d.logger), nil
}
