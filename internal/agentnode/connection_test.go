package agentnode

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ankaios/ankaios/internal/common/logger"
	"github.com/ankaios/ankaios/internal/depgraph"
	"github.com/ankaios/ankaios/internal/messaging"
	"github.com/ankaios/ankaios/internal/runtime/fake"
	"github.com/ankaios/ankaios/internal/wire"
)

// fakeStream mirrors internal/server's test double: an in-memory
// messaging.Stream with a buffered recv queue, driven directly instead of
// through a real transport.
type fakeStream struct {
	mu     sync.Mutex
	sent   []*messaging.Envelope
	recv   chan *messaging.Envelope
	closed bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{recv: make(chan *messaging.Envelope, 8)}
}

func (f *fakeStream) Send(ctx context.Context, env *messaging.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return messaging.ErrStreamClosed
	}
	f.sent = append(f.sent, env)
	return nil
}

func (f *fakeStream) Recv(ctx context.Context) (*messaging.Envelope, error) {
	select {
	case env, ok := <-f.recv:
		if !ok {
			return nil, errors.New("fakeStream: closed")
		}
		return env, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.recv)
	}
	return nil
}

func (f *fakeStream) RemoteAddr() string { return "fake" }

type fakeDialer struct {
	stream messaging.Stream
	err    error
}

func (d *fakeDialer) Dial(ctx context.Context, addr string) (messaging.Stream, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.stream, nil
}

func newTestConnection(stream *fakeStream) *Connection {
	return NewConnection("agent_A", "fake-addr", &fakeDialer{stream: stream}, fake.New(), nil, logger.Default())
}

func TestConnectOnceAssignsWorkloadsFromServerHello(t *testing.T) {
	s := newFakeStream()
	name := wire.WorkloadInstanceName{WorkloadName: "nginx", AgentName: "agent_A", ID: "abc"}
	s.recv <- &messaging.Envelope{
		Kind: messaging.KindServerHello,
		ServerHello: &messaging.ServerHello{
			AddedWorkloads: []messaging.AssignedWorkload{
				{Name: name, Workload: wire.Workload{Agent: "agent_A", Runtime: "podman", RuntimeConfig: "image:nginx"}},
			},
		},
	}
	s.Close()

	c := newTestConnection(s)
	if err := c.connectOnce(context.Background()); err == nil {
		t.Fatal("expected connectOnce to return once the stream closes")
	}

	states := c.reconciler.States()
	got, ok := states["nginx"]
	if !ok || got.Kind != wire.ExecPending || got.Pending != wire.PendingWaitingToStart {
		t.Fatalf("got states %v, want nginx Pending(WaitingToStart)", states)
	}
}

func TestConnectOnceAppliesGuardsFromServerHello(t *testing.T) {
	s := newFakeStream()
	s.recv <- &messaging.Envelope{
		Kind: messaging.KindServerHello,
		ServerHello: &messaging.ServerHello{
			Guards: map[string][]depgraph.Guard{
				"db": {{Dependent: "app", Condition: wire.DelCondNotPendingNorRunning}},
			},
		},
	}
	s.Close()

	c := newTestConnection(s)
	if err := c.connectOnce(context.Background()); err == nil {
		t.Fatal("expected connectOnce to return once the stream closes")
	}

	c.reconciler.mu.Lock()
	guards := c.reconciler.guards
	c.reconciler.mu.Unlock()
	if len(guards["db"]) != 1 {
		t.Fatalf("got guards %v, want one guard on db", guards)
	}
}

func TestConnectOnceMergesRemoteStatesFromUpdateWorkloadState(t *testing.T) {
	s := newFakeStream()
	s.recv <- &messaging.Envelope{Kind: messaging.KindServerHello, ServerHello: &messaging.ServerHello{}}
	s.recv <- &messaging.Envelope{
		Kind: messaging.KindUpdateWorkloadState,
		UpdateWorkloadState: &messaging.UpdateWorkloadState{
			AgentName: "agent_B",
			States: []messaging.WorkloadStateEntry{
				{Name: wire.WorkloadInstanceName{WorkloadName: "db", AgentName: "agent_B", ID: "xyz"}, State: wire.Running()},
			},
		},
	}
	s.Close()

	c := newTestConnection(s)
	if err := c.connectOnce(context.Background()); err == nil {
		t.Fatal("expected connectOnce to return once the stream closes")
	}

	c.remoteMu.Lock()
	got := c.remoteStates["db"]
	c.remoteMu.Unlock()
	if !got.IsRunning() {
		t.Fatalf("got remote state %v, want db Running", got)
	}
}

func TestConnectOnceRejectsConnectionClosedHandshake(t *testing.T) {
	s := newFakeStream()
	s.recv <- &messaging.Envelope{
		Kind:             messaging.KindConnectionClosed,
		ConnectionClosed: &messaging.ConnectionClosed{Reason: "unsupported protocol version"},
	}

	c := newTestConnection(s)
	err := c.connectOnce(context.Background())
	if err == nil {
		t.Fatal("expected an error when the server rejects the handshake")
	}
}
