package wsocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ankaios/ankaios/internal/common/logger"
	"github.com/ankaios/ankaios/internal/messaging"
)

func TestRoundTripOverRealWebsocket(t *testing.T) {
	log := logger.Default()
	transport := NewServerTransport(log)
	srv := httptest.NewServer(http.HandlerFunc(transport.Handler))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	dialer := NewDialer(log, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clientSide, err := dialer.Dial(ctx, wsURL)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer clientSide.Close()

	serverSide, err := transport.Accept(ctx)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	defer serverSide.Close()

	want := &messaging.Envelope{
		Kind:      messaging.KindAgentHello,
		RequestID: "r1",
		AgentHello: &messaging.AgentHello{
			AgentName:       "agent_A",
			ProtocolVersion: messaging.ProtocolVersion,
		},
	}
	if err := clientSide.Send(ctx, want); err != nil {
		t.Fatalf("Send: %v", err)
	}

	got, err := serverSide.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if got.Kind != want.Kind || got.AgentHello == nil || got.AgentHello.AgentName != "agent_A" {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}
