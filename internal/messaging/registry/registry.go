// Package registry tracks connected agent and commander streams so the
// server core can address a single agent or fan out to every connection,
// adapted from the teacher's Hub client/subscriber maps.
package registry

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/ankaios/ankaios/internal/common/logger"
	"github.com/ankaios/ankaios/internal/messaging"
)

// Registry is a mutex-guarded map of agent name/commander name to its
// current Stream. It has no processing loop of its own; Watch drives one
// goroutine per registered stream that feeds received envelopes to a
// handler and unregisters + synthesizes an AgentGone envelope once the
// stream's Recv loop ends.
type Registry struct {
	mu         sync.RWMutex
	agents     map[string]messaging.Stream
	commanders map[string]messaging.Stream
	logger     *logger.Logger
}

// New returns an empty Registry.
func New(log *logger.Logger) *Registry {
	return &Registry{
		agents:     make(map[string]messaging.Stream),
		commanders: make(map[string]messaging.Stream),
		logger:     log.WithFields(zap.String("component", "messaging_registry")),
	}
}

// RegisterAgent records the stream for agentName, replacing and closing any
// prior stream already registered under that name.
func (r *Registry) RegisterAgent(agentName string, s messaging.Stream) {
	r.mu.Lock()
	old, existed := r.agents[agentName]
	r.agents[agentName] = s
	r.mu.Unlock()
	if existed {
		_ = old.Close()
	}
}

// UnregisterAgent removes agentName's stream if it is still the one passed
// in; a stream that was already replaced by a newer connection is left
// alone.
func (r *Registry) UnregisterAgent(agentName string, s messaging.Stream) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.agents[agentName]; ok && cur == s {
		delete(r.agents, agentName)
	}
}

// RegisterCommander records the stream for a connected commander.
func (r *Registry) RegisterCommander(name string, s messaging.Stream) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commanders[name] = s
}

// UnregisterCommander removes a commander's stream.
func (r *Registry) UnregisterCommander(name string, s messaging.Stream) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.commanders[name]; ok && cur == s {
		delete(r.commanders, name)
	}
}

// AgentNames returns the names of every currently connected agent.
func (r *Registry) AgentNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	return names
}

// SendToAgent delivers env to agentName's stream, if connected.
func (r *Registry) SendToAgent(ctx context.Context, agentName string, env *messaging.Envelope) error {
	r.mu.RLock()
	s, ok := r.agents[agentName]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	return s.Send(ctx, env)
}

// FanOutToAgents delivers env to every connected agent except excludeAgent
// (typically the agent that originated the state being fanned out).
func (r *Registry) FanOutToAgents(ctx context.Context, env *messaging.Envelope, excludeAgent string) {
	r.mu.RLock()
	targets := make(map[string]messaging.Stream, len(r.agents))
	for name, s := range r.agents {
		if name == excludeAgent {
			continue
		}
		targets[name] = s
	}
	r.mu.RUnlock()

	for name, s := range targets {
		if err := s.Send(ctx, env); err != nil {
			r.logger.Warn("fan-out send failed", zap.String("agent", name), zap.Error(err))
		}
	}
}

// FanOutToCommanders delivers env to every connected commander.
func (r *Registry) FanOutToCommanders(ctx context.Context, env *messaging.Envelope) {
	r.mu.RLock()
	targets := make(map[string]messaging.Stream, len(r.commanders))
	for name, s := range r.commanders {
		targets[name] = s
	}
	r.mu.RUnlock()

	for name, s := range targets {
		if err := s.Send(ctx, env); err != nil {
			r.logger.Warn("commander send failed", zap.String("commander", name), zap.Error(err))
		}
	}
}

// Watch runs a blocking receive loop over s, calling handle for every
// envelope it decodes. When Recv finally errors (peer closed, transport
// failure, ctx cancellation) Watch unregisters the agent and invokes handle
// once more with a synthesized AgentGone envelope, then returns.
func (r *Registry) Watch(ctx context.Context, agentName string, s messaging.Stream, handle func(*messaging.Envelope)) {
	for {
		env, err := s.Recv(ctx)
		if err != nil {
			r.logger.Info("agent stream ended", zap.String("agent", agentName), zap.Error(err))
			r.UnregisterAgent(agentName, s)
			handle(&messaging.Envelope{
				Kind:     messaging.KindAgentGone,
				AgentGone: &messaging.AgentGone{AgentName: agentName},
			})
			return
		}
		handle(env)
	}
}
