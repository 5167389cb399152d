package messaging

import (
	"context"
	"errors"
)

// ErrStreamClosed is returned by Send/Recv once a Stream has been closed,
// either locally or by the remote peer.
var ErrStreamClosed = errors.New("messaging: stream closed")

// Stream is one bidirectional connection, abstracted away from whatever
// concrete transport carries it (wsocket's gorilla/websocket wrapper, or an
// in-memory pipe for tests). Recv is called from a single goroutine; Send
// may be called from several goroutines at once and must be safe for that.
type Stream interface {
	Send(ctx context.Context, env *Envelope) error
	Recv(ctx context.Context) (*Envelope, error)
	Close() error

	// RemoteAddr identifies the peer for logging; format is
	// transport-specific.
	RemoteAddr() string
}

// Transport accepts incoming Streams. A server listens on one Transport for
// agent/commander connections; an agent or commander dials out to create
// one.
type Transport interface {
	Accept(ctx context.Context) (Stream, error)
	Close() error
}

// Dialer opens an outbound Stream to a remote address, used by agents and
// commanders to connect to the server.
type Dialer interface {
	Dial(ctx context.Context, addr string) (Stream, error)
}
