package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ankaios/ankaios/internal/common/logger"
	"github.com/ankaios/ankaios/internal/messaging"
)

// fakeStream is an in-memory messaging.Stream for registry tests.
type fakeStream struct {
	mu     sync.Mutex
	sent   []*messaging.Envelope
	recv   chan *messaging.Envelope
	closed bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{recv: make(chan *messaging.Envelope, 4)}
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
	f.closed = true
	close(f.recv)
	return nil
}

func (f *fakeStream) RemoteAddr() string { return "fake" }

func TestSendToAgentDeliversToRegisteredStream(t *testing.T) {
	r := New(logger.Default())
	s := newFakeStream()
	r.RegisterAgent("agent_A", s)

	env := &messaging.Envelope{Kind: messaging.KindServerHello}
	if err := r.SendToAgent(context.Background(), "agent_A", env); err != nil {
		t.Fatalf("SendToAgent: %v", err)
	}
	if len(s.sent) != 1 || s.sent[0] != env {
		t.Fatalf("expected envelope delivered, got %v", s.sent)
	}
}

func TestSendToUnknownAgentIsNoop(t *testing.T) {
	r := New(logger.Default())
	if err := r.SendToAgent(context.Background(), "ghost", &messaging.Envelope{}); err != nil {
		t.Fatalf("expected nil error for unknown agent, got %v", err)
	}
}

func TestFanOutToAgentsExcludesOrigin(t *testing.T) {
	r := New(logger.Default())
	a := newFakeStream()
	b := newFakeStream()
	r.RegisterAgent("agent_A", a)
	r.RegisterAgent("agent_B", b)

	r.FanOutToAgents(context.Background(), &messaging.Envelope{Kind: messaging.KindUpdateWorkloadState}, "agent_A")

	if len(a.sent) != 0 {
		t.Errorf("origin agent should not receive its own fan-out, got %d sends", len(a.sent))
	}
	if len(b.sent) != 1 {
		t.Errorf("expected 1 send to agent_B, got %d", len(b.sent))
	}
}

func TestWatchSynthesizesAgentGoneOnStreamEnd(t *testing.T) {
	r := New(logger.Default())
	s := newFakeStream()
	r.RegisterAgent("agent_A", s)

	received := make(chan *messaging.Envelope, 4)
	done := make(chan struct{})
	go func() {
		r.Watch(context.Background(), "agent_A", s, func(env *messaging.Envelope) {
			received <- env
		})
		close(done)
	}()

	s.Close()

	select {
	case env := <-received:
		if env.Kind != messaging.KindAgentGone || env.AgentGone.AgentName != "agent_A" {
			t.Fatalf("expected synthesized AgentGone, got %+v", env)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for synthesized AgentGone")
	}
	<-done

	if len(r.AgentNames()) != 0 {
		t.Errorf("expected agent to be unregistered after Watch ends, got %v", r.AgentNames())
	}
}
