package server

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/ankaios/ankaios/internal/common/logger"
	"github.com/ankaios/ankaios/internal/messaging"
	"github.com/ankaios/ankaios/internal/messaging/registry"
)

// Common errors returned by Listener's lifecycle methods.
var (
	ErrListenerAlreadyRunning = errors.New("server: listener already running")
	ErrListenerNotRunning     = errors.New("server: listener not running")
)

// Listener accepts connections from a messaging.Transport, runs the
// version handshake, and then hands each stream to the registry's blocking
// Recv loop, dispatching every decoded envelope to the Core.
type Listener struct {
	transport messaging.Transport
	registry  *registry.Registry
	core      *Core
	logger    *logger.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewListener returns a Listener over an already-bound transport.
func NewListener(transport messaging.Transport, reg *registry.Registry, core *Core, log *logger.Logger) *Listener {
	return &Listener{
		transport: transport,
		registry:  reg,
		core:      core,
		logger:    log.WithFields(zap.String("component", "server_listener")),
	}
}

// Start begins accepting connections in the background. ctx bounds the
// whole listener lifetime; Stop also ends it early.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return ErrListenerAlreadyRunning
	}
	l.running = true
	l.stopCh = make(chan struct{})
	l.mu.Unlock()

	l.wg.Add(1)
	go l.acceptLoop(ctx)
	return nil
}

// Stop ends the accept loop and closes the transport.
func (l *Listener) Stop() error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return ErrListenerNotRunning
	}
	l.running = false
	close(l.stopCh)
	l.mu.Unlock()

	_ = l.transport.Close()
	l.wg.Wait()
	return nil
}

func (l *Listener) acceptLoop(ctx context.Context) {
	defer l.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		default:
		}

		stream, err := l.transport.Accept(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			l.logger.Warn("accept failed", zap.Error(err))
			continue
		}

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.serveConnection(ctx, stream)
		}()
	}
}

// serveConnection runs the handshake and, for agent connections, the
// registry-owned Recv loop. Commander connections are request/response
// only and are served until the commander's stream ends.
func (l *Listener) serveConnection(ctx context.Context, stream messaging.Stream) {
	hello, err := stream.Recv(ctx)
	if err != nil {
		l.logger.Warn("failed to read handshake", zap.Error(err))
		_ = stream.Close()
		return
	}

	switch hello.Kind {
	case messaging.KindAgentHello:
		l.serveAgent(ctx, stream, hello.AgentHello)
	case messaging.KindCommanderHello:
		l.serveCommander(ctx, stream, hello.CommanderHello)
	default:
		l.logger.Warn("first message was not a hello", zap.String("kind", string(hello.Kind)))
		_ = stream.Send(ctx, &messaging.Envelope{
			Kind:             messaging.KindConnectionClosed,
			ConnectionClosed: &messaging.ConnectionClosed{Reason: "first message must be AgentHello or CommanderHello"},
		})
		_ = stream.Close()
	}
}

func (l *Listener) serveAgent(ctx context.Context, stream messaging.Stream, hello *messaging.AgentHello) {
	if hello == nil {
		_ = stream.Close()
		return
	}
	serverHello, err := l.core.HandleAgentHello(*hello)
	if err != nil {
		_ = stream.Send(ctx, &messaging.Envelope{
			Kind:             messaging.KindConnectionClosed,
			ConnectionClosed: &messaging.ConnectionClosed{Reason: err.Error()},
		})
		_ = stream.Close()
		return
	}
	if err := stream.Send(ctx, &messaging.Envelope{Kind: messaging.KindServerHello, ServerHello: serverHello}); err != nil {
		_ = stream.Close()
		return
	}

	l.registry.RegisterAgent(hello.AgentName, stream)
	l.logger.Info("agent connected", zap.String("agent", hello.AgentName))

	l.registry.Watch(ctx, hello.AgentName, stream, func(env *messaging.Envelope) {
		l.dispatchAgentEnvelope(ctx, hello.AgentName, env)
	})
}

func (l *Listener) dispatchAgentEnvelope(ctx context.Context, agentName string, env *messaging.Envelope) {
	switch env.Kind {
	case messaging.KindAgentGone:
		if update := l.core.HandleAgentGone(agentName); update != nil {
			l.registry.FanOutToAgents(ctx, &messaging.Envelope{Kind: messaging.KindUpdateWorkloadState, UpdateWorkloadState: update}, agentName)
		}
		l.logger.Info("agent disconnected", zap.String("agent", agentName))
	case messaging.KindUpdateWorkloadState:
		if env.UpdateWorkloadState == nil {
			return
		}
		update, err := l.core.HandleUpdateWorkloadState(*env.UpdateWorkloadState)
		if err != nil {
			l.logger.Warn("failed to apply workload state update", zap.Error(err))
			return
		}
		if update != nil {
			l.registry.FanOutToAgents(ctx, &messaging.Envelope{Kind: messaging.KindUpdateWorkloadState, UpdateWorkloadState: update}, agentName)
		}
	case messaging.KindAgentLoadStatus:
		if env.AgentLoadStatus == nil {
			return
		}
		if err := l.core.HandleAgentLoadStatus(*env.AgentLoadStatus); err != nil {
			l.logger.Warn("failed to apply agent load status", zap.Error(err))
		}
	case messaging.KindCompleteStateRequest:
		if env.CompleteStateRequest == nil {
			return
		}
		state, err := l.core.HandleCompleteStateRequest(env.CompleteStateRequest.FieldMask)
		if err != nil {
			l.logger.Warn("failed to read complete state", zap.Error(err))
			return
		}
		_ = l.registry.SendToAgent(ctx, agentName, &messaging.Envelope{
			Kind:          messaging.KindCompleteState,
			RequestID:     env.RequestID,
			CompleteState: &state,
		})
	case messaging.KindUpdateStateRequest:
		// A workload exercised write access through its Control Interface;
		// its agent forwards the request over its own connection exactly
		// like a commander's UpdateStateRequest.
		if env.UpdateStateRequest == nil {
			return
		}
		added, deleted, err := l.core.ApplyUpdate(ctx, env.UpdateStateRequest.NewState, env.UpdateStateRequest.UpdateMask)
		if err != nil {
			_ = l.registry.SendToAgent(ctx, agentName, &messaging.Envelope{
				Kind:      messaging.KindError,
				RequestID: env.RequestID,
				Error:     &messaging.Error{Code: "UPDATE_FAILED", Message: err.Error()},
			})
			return
		}
		_ = l.registry.SendToAgent(ctx, agentName, &messaging.Envelope{
			Kind:      messaging.KindUpdateStateSuccess,
			RequestID: env.RequestID,
			UpdateStateSuccess: &messaging.UpdateStateSuccess{
				AddedWorkloads:   added,
				DeletedWorkloads: deleted,
			},
		})
	default:
		l.logger.Warn("unhandled agent envelope kind", zap.String("kind", string(env.Kind)))
	}
}

// serveCommander answers each request a commander connection sends until
// Recv fails: only UpdateStateRequest and CompleteStateRequest are supported
// over this path (Control Interface traffic is served by controlinterface
// over a workload's own pipe, not here).
func (l *Listener) serveCommander(ctx context.Context, stream messaging.Stream, hello *messaging.CommanderHello) {
	defer stream.Close()
	if hello == nil {
		return
	}
	l.logger.Info("commander connected", zap.String("name", hello.Name))

	for {
		env, err := stream.Recv(ctx)
		if err != nil {
			return
		}
		switch env.Kind {
		case messaging.KindUpdateStateRequest:
			if env.UpdateStateRequest == nil {
				continue
			}
			added, deleted, err := l.core.ApplyUpdate(ctx, env.UpdateStateRequest.NewState, env.UpdateStateRequest.UpdateMask)
			if err != nil {
				_ = stream.Send(ctx, &messaging.Envelope{
					Kind:      messaging.KindError,
					RequestID: env.RequestID,
					Error:     &messaging.Error{Code: "UPDATE_FAILED", Message: err.Error()},
				})
				continue
			}
			_ = stream.Send(ctx, &messaging.Envelope{
				Kind:      messaging.KindUpdateStateSuccess,
				RequestID: env.RequestID,
				UpdateStateSuccess: &messaging.UpdateStateSuccess{
					AddedWorkloads:   added,
					DeletedWorkloads: deleted,
				},
			})
		case messaging.KindCompleteStateRequest:
			if env.CompleteStateRequest == nil {
				continue
			}
			state, err := l.core.HandleCompleteStateRequest(env.CompleteStateRequest.FieldMask)
			if err != nil {
				_ = stream.Send(ctx, &messaging.Envelope{
					Kind:      messaging.KindError,
					RequestID: env.RequestID,
					Error:     &messaging.Error{Code: "READ_FAILED", Message: err.Error()},
				})
				continue
			}
			_ = stream.Send(ctx, &messaging.Envelope{
				Kind:          messaging.KindCompleteState,
				RequestID:     env.RequestID,
				CompleteState: &state,
			})
		default:
			l.logger.Warn("unhandled commander envelope kind", zap.String("kind", string(env.Kind)))
		}
	}
}
