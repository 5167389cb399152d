// Package unixsocket implements controlinterface.Stream/Transport over a
// Unix-domain-socket directory keyed by workload instance name, following
// the teacher's internal/agentctl/server per-instance control socket
// convention.
package unixsocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/ankaios/ankaios/internal/controlinterface"
)

// Stream wraps a net.Conn (a connected Unix-domain-socket client) as a
// controlinterface.Stream, using json.Encoder/Decoder's natural token
// framing instead of a hand-rolled length prefix.
type Stream struct {
	conn net.Conn
	mu   sync.Mutex // guards enc; Send is called from the request loop and the log-push goroutine
	enc  *json.Encoder
	dec  *json.Decoder
}

// NewStream wraps conn.
func NewStream(conn net.Conn) *Stream {
	return &Stream{conn: conn, enc: json.NewEncoder(conn), dec: json.NewDecoder(conn)}
}

func (s *Stream) Send(ctx context.Context, f *controlinterface.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(f); err != nil {
		return fmt.Errorf("unixsocket: encode frame: %w", err)
	}
	return nil
}

func (s *Stream) Recv(ctx context.Context) (*controlinterface.Frame, error) {
	var f controlinterface.Frame
	if err := s.dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("unixsocket: decode frame: %w", err)
	}
	return &f, nil
}

func (s *Stream) Close() error {
	return s.conn.Close()
}

func (s *Stream) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}

// Transport accepts connections on a single Unix-domain-socket listener,
// one per workload instance path.
type Transport struct {
	path     string
	listener net.Listener
}

// Listen binds a Unix-domain-socket at path, removing any stale socket file
// left behind by a previous run.
func Listen(path string) (*Transport, error) {
	_ = os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("unixsocket: listen %s: %w", path, err)
	}
	return &Transport{path: path, listener: ln}, nil
}

// Accept blocks for the next connection. ctx cancellation is not observed
// directly (net.Listener.Accept does not support it); callers cancel an
// in-flight Accept by calling Close from another goroutine instead.
func (t *Transport) Accept(ctx context.Context) (controlinterface.Stream, error) {
	conn, err := t.listener.Accept()
	if err != nil {
		return nil, fmt.Errorf("unixsocket: accept: %w", err)
	}
	return NewStream(conn), nil
}

func (t *Transport) Close() error {
	err := t.listener.Close()
	_ = os.Remove(t.path)
	return err
}
