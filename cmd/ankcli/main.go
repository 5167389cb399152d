// Package main is ankcli, a thin commander smoke client: it dials the
// server, sends a CommanderHello, issues one CompleteStateRequest, and
// prints the result as JSON.
package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ankaios/ankaios/internal/common/config"
	"github.com/ankaios/ankaios/internal/common/logger"
	"github.com/ankaios/ankaios/internal/messaging"
	"github.com/ankaios/ankaios/internal/messaging/tlsconfig"
	"github.com/ankaios/ankaios/internal/messaging/wsocket"
)

var (
	serverAddrFlag = flag.String("server", "", "server address (ws://host:port/); overrides agent.serverHost/serverPort from configuration")
	fieldMaskFlag  = flag.String("fieldMask", "", "comma-separated field mask to restrict the CompleteState read")
	timeoutFlag    = flag.Duration("timeout", 5*time.Second, "request timeout")
)

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.Default()

	tlsCfg, err := tlsconfig.Client(cfg.TLS)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build client TLS configuration: %v\n", err)
		os.Exit(1)
	}

	addr := *serverAddrFlag
	if addr == "" {
		scheme := "ws"
		if tlsCfg != nil {
			scheme = "wss"
		}
		addr = fmt.Sprintf("%s://%s:%d/", scheme, cfg.Agent.ServerHost, cfg.Agent.ServerPort)
	}

	var fieldMask []string
	if *fieldMaskFlag != "" {
		fieldMask = strings.Split(*fieldMaskFlag, ",")
	}

	if err := run(addr, fieldMask, *timeoutFlag, tlsCfg, log); err != nil {
		fmt.Fprintf(os.Stderr, "ankcli: %v\n", err)
		os.Exit(1)
	}
}

func run(addr string, fieldMask []string, timeout time.Duration, tlsCfg *tls.Config, log *logger.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	dialer := wsocket.NewDialer(log, tlsCfg)
	stream, err := dialer.Dial(ctx, addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer stream.Close()

	if err := stream.Send(ctx, &messaging.Envelope{
		Kind:           messaging.KindCommanderHello,
		CommanderHello: &messaging.CommanderHello{Name: "ankcli", ProtocolVersion: messaging.ProtocolVersion},
	}); err != nil {
		return fmt.Errorf("send commander hello: %w", err)
	}

	if err := stream.Send(ctx, &messaging.Envelope{
		Kind:                 messaging.KindCompleteStateRequest,
		RequestID:             uuid.NewString(),
		CompleteStateRequest: &messaging.CompleteStateRequest{FieldMask: fieldMask},
	}); err != nil {
		return fmt.Errorf("send complete state request: %w", err)
	}

	env, err := stream.Recv(ctx)
	if err != nil {
		return fmt.Errorf("recv response: %w", err)
	}

	switch env.Kind {
	case messaging.KindCompleteState:
		if env.CompleteState == nil {
			return fmt.Errorf("server returned an empty CompleteState")
		}
		out, err := json.MarshalIndent(env.CompleteState, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal complete state: %w", err)
		}
		fmt.Println(string(out))
		return nil
	case messaging.KindError:
		if env.Error != nil {
			return fmt.Errorf("server rejected request: %s: %s", env.Error.Code, env.Error.Message)
		}
		return fmt.Errorf("server rejected request")
	case messaging.KindConnectionClosed:
		reason := ""
		if env.ConnectionClosed != nil {
			reason = env.ConnectionClosed.Reason
		}
		return fmt.Errorf("server closed connection: %s", reason)
	default:
		return fmt.Errorf("unexpected reply kind %s", env.Kind)
	}
}
