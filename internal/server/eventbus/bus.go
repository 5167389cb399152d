// Package eventbus is the server core's internal notification fan-out: it
// lets the HTTP read surface (and anything else in-process) watch for state
// changes without polling the store.
package eventbus

import (
	"sync"

	"go.uber.org/zap"

	"github.com/ankaios/ankaios/internal/common/logger"
)

// Kind discriminates an Event's cause.
type Kind string

const (
	KindStateUpdated         Kind = "StateUpdated"
	KindWorkloadStateChanged Kind = "WorkloadStateChanged"
	KindAgentConnected       Kind = "AgentConnected"
	KindAgentDisconnected    Kind = "AgentDisconnected"
)

// Event is published on the bus by the server core: StateUpdated after an
// applied desired-state update, WorkloadStateChanged after a workload-state
// report. The core does not publish AgentConnected or AgentDisconnected.
type Event struct {
	Kind      Kind
	AgentName string
}

// Handler receives a published Event. It must not block for long; Publish
// invokes every matching handler on its own goroutine.
type Handler func(Event)

// Subscription is returned by Subscribe and cancels delivery when closed.
type Subscription interface {
	Unsubscribe()
}

type subscription struct {
	bus     *Bus
	kind    Kind
	handler Handler
	mu      sync.Mutex
	active  bool
}

func (s *subscription) Unsubscribe() {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()

	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	subs := s.bus.subscribers[s.kind]
	for i, sub := range subs {
		if sub == s {
			s.bus.subscribers[s.kind] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}

// Bus is an in-process, in-memory pub/sub keyed by Kind. It never blocks a
// publisher on a slow subscriber.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Kind][]*subscription
	logger      *logger.Logger
	closed      bool
}

// New returns an empty Bus.
func New(log *logger.Logger) *Bus {
	return &Bus{
		subscribers: make(map[Kind][]*subscription),
		logger:      log,
	}
}

// Subscribe registers handler for every Event of the given kind.
func (b *Bus) Subscribe(kind Kind, handler Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscription{bus: b, kind: kind, handler: handler, active: true}
	b.subscribers[kind] = append(b.subscribers[kind], sub)
	return sub
}

// Publish dispatches event to every active subscriber of event.Kind. A nil
// or closed Bus is a safe no-op, so callers never need a nil check.
func (b *Bus) Publish(event Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, sub := range b.subscribers[event.Kind] {
		sub.mu.Lock()
		active := sub.active
		sub.mu.Unlock()
		if !active {
			continue
		}
		go func(s *subscription) {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("eventbus handler panicked", zap.Any("recover", r))
				}
			}()
			s.handler(event)
		}(sub)
	}
}

// Close deactivates every subscription. Subsequent Publish calls are
// no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subscribers = make(map[Kind][]*subscription)
}
