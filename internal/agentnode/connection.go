package agentnode

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ankaios/ankaios/internal/common/logger"
	"github.com/ankaios/ankaios/internal/messaging"
	"github.com/ankaios/ankaios/internal/runtime"
	"github.com/ankaios/ankaios/internal/wire"
)

// ReconnectBackoff is the fixed delay between a dropped connection and the
// next dial attempt.
const ReconnectBackoff = 1 * time.Second

// LoadStatusInterval is how often the agent reports its resource
// attributes back to the server.
const LoadStatusInterval = 5 * time.Second

// TickInterval drives the reconciler's periodic Tick while connected.
const TickInterval = 250 * time.Millisecond

var (
	// ErrConnectionAlreadyRunning is returned by Start on an already-started Connection.
	ErrConnectionAlreadyRunning = errors.New("agentnode: connection already running")
	// ErrConnectionNotRunning is returned by Stop on a Connection that was never started.
	ErrConnectionNotRunning = errors.New("agentnode: connection not running")

	errNotConnected = errors.New("agentnode: not connected to server")
)

// LoadSampler reports this agent's current resource usage for
// AgentLoadStatus.
type LoadSampler func() (cpuPercent float64, freeMemoryBytes int64)

// Connection owns one agent's lifetime connection to the server: dialing,
// the Hello handshake, the receive loop that feeds the Reconciler, periodic
// load reporting, and a reconnect-with-backoff loop that runs until Stop is
// called. Modeled on Listener's mutex-guarded running/stopCh/wg lifecycle,
// mirrored for the dial side of the same protocol.
type Connection struct {
	agentName string
	addr      string
	dialer    messaging.Dialer
	sampler   LoadSampler
	logger    *logger.Logger

	reconciler *Reconciler

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	conn messaging.Stream

	remoteMu     sync.Mutex
	remoteStates map[string]wire.ExecutionState

	pendingMu sync.Mutex
	pending   map[string]chan *messaging.Envelope
}

// NewConnection builds a Connection and the Reconciler it drives. The
// Reconciler's report callback is wired to this Connection so every
// execution-state change is sent back over whichever stream is currently
// active (and silently dropped while disconnected; a reconnect resyncs).
func NewConnection(agentName, addr string, dialer messaging.Dialer, adapter runtime.Adapter, sampler LoadSampler, log *logger.Logger) *Connection {
	c := &Connection{
		agentName:    agentName,
		addr:         addr,
		dialer:       dialer,
		sampler:      sampler,
		logger:       log.WithFields(zap.String("component", "agent_connection"), zap.String("agent", agentName)),
		remoteStates: make(map[string]wire.ExecutionState),
		pending:      make(map[string]chan *messaging.Envelope),
	}
	c.reconciler = New(adapter, c.reportState, log)
	return c
}

// Reconciler returns the Connection's workload reconciler.
func (c *Connection) Reconciler() *Reconciler {
	return c.reconciler
}

// Start begins dialing in the background; it returns once the dial loop
// goroutine has been launched, not once a connection succeeds.
func (c *Connection) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrConnectionAlreadyRunning
	}
	c.running = true
	c.stopCh = make(chan struct{})
	c.mu.Unlock()

	c.wg.Add(1)
	go c.dialLoop(ctx)
	return nil
}

// Stop ends the dial loop and waits for it to exit.
func (c *Connection) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return ErrConnectionNotRunning
	}
	close(c.stopCh)
	c.running = false
	c.mu.Unlock()

	c.wg.Wait()
	return nil
}

func (c *Connection) dialLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		if c.stopRequested() {
			return
		}

		if err := c.connectOnce(ctx); err != nil {
			c.logger.Warn("connection attempt ended", zap.Error(err))
		}

		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(ReconnectBackoff):
		}
	}
}

func (c *Connection) stopRequested() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

func (c *Connection) connectOnce(ctx context.Context) error {
	stream, err := c.dialer.Dial(ctx, c.addr)
	if err != nil {
		return fmt.Errorf("agentnode: dial: %w", err)
	}
	defer stream.Close()

	if err := stream.Send(ctx, &messaging.Envelope{
		Kind:       messaging.KindAgentHello,
		AgentHello: &messaging.AgentHello{AgentName: c.agentName, ProtocolVersion: messaging.ProtocolVersion},
	}); err != nil {
		return fmt.Errorf("agentnode: send hello: %w", err)
	}

	env, err := stream.Recv(ctx)
	if err != nil {
		return fmt.Errorf("agentnode: recv server hello: %w", err)
	}
	if env.Kind == messaging.KindConnectionClosed {
		reason := ""
		if env.ConnectionClosed != nil {
			reason = env.ConnectionClosed.Reason
		}
		return fmt.Errorf("agentnode: connection rejected: %s", reason)
	}
	if env.Kind != messaging.KindServerHello || env.ServerHello == nil {
		return fmt.Errorf("agentnode: expected ServerHello, got %s", env.Kind)
	}

	c.applyServerHello(env.ServerHello)
	c.logger.Info("connected to server", zap.Int("assignedWorkloads", len(env.ServerHello.AddedWorkloads)))

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	c.conn = stream
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
	}()

	c.resyncTrackedStates()

	var loopWg sync.WaitGroup
	loopWg.Add(2)
	go func() {
		defer loopWg.Done()
		c.tickLoop(connCtx)
	}()
	go func() {
		defer loopWg.Done()
		c.loadStatusLoop(connCtx, stream)
	}()

	err = c.recvLoop(connCtx, stream)
	cancel()
	loopWg.Wait()
	return err
}

func (c *Connection) applyServerHello(hello *messaging.ServerHello) {
	items := make([]NamedWorkload, 0, len(hello.AddedWorkloads))
	for _, aw := range hello.AddedWorkloads {
		items = append(items, NamedWorkload{Name: aw.Name, Workload: aw.Workload})
	}
	c.reconciler.AssignNamed(items)
	c.reconciler.SetGuards(hello.Guards)
	c.mergeRemoteStates(hello.States)
}

// resyncTrackedStates re-sends every currently tracked instance's state
// once a connection (re)establishes, so a transition the server missed
// during an outage is not lost.
func (c *Connection) resyncTrackedStates() {
	for _, entry := range c.reconciler.trackedInstances() {
		c.reportState(entry.Name, entry.State)
	}
}

func (c *Connection) recvLoop(ctx context.Context, stream messaging.Stream) error {
	for {
		env, err := stream.Recv(ctx)
		if err != nil {
			return err
		}
		if env.RequestID != "" && c.deliverPending(env) {
			continue
		}

		switch env.Kind {
		case messaging.KindAssignedWorkloads:
			if env.AssignedWorkloads == nil {
				continue
			}
			c.applyAssignedWorkloads(env.AssignedWorkloads)
		case messaging.KindUpdateWorkloadState:
			if env.UpdateWorkloadState == nil {
				continue
			}
			c.applyUpdateWorkloadState(env.UpdateWorkloadState)
		case messaging.KindConnectionClosed:
			reason := ""
			if env.ConnectionClosed != nil {
				reason = env.ConnectionClosed.Reason
			}
			return fmt.Errorf("agentnode: server closed connection: %s", reason)
		default:
			c.logger.Warn("unhandled server envelope kind", zap.String("kind", string(env.Kind)))
		}
	}
}

// deliverPending routes env to a pending RPC waiter keyed by RequestID, if
// one exists. Only CompleteState/UpdateStateSuccess/Error responses are ever
// correlated this way; any other kind carrying a RequestID (there are none
// today) would simply find no waiter and fall through to normal dispatch.
func (c *Connection) deliverPending(env *messaging.Envelope) bool {
	c.pendingMu.Lock()
	ch, ok := c.pending[env.RequestID]
	if ok {
		delete(c.pending, env.RequestID)
	}
	c.pendingMu.Unlock()
	if !ok {
		return false
	}
	ch <- env
	return true
}

// request sends env with a freshly allocated RequestID over stream and
// blocks for the correlated reply, or until ctx is done.
func (c *Connection) request(ctx context.Context, stream messaging.Stream, env *messaging.Envelope) (*messaging.Envelope, error) {
	c.pendingMu.Lock()
	id := uuid.NewString()
	ch := make(chan *messaging.Envelope, 1)
	c.pending[id] = ch
	c.pendingMu.Unlock()

	env.RequestID = id
	if err := stream.Send(ctx, env); err != nil {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return nil, err
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return nil, ctx.Err()
	}
}

// RequestCompleteState forwards a CompleteStateRequest to the server over
// this agent's own connection and returns the filtered CompleteState.
// Workload-originated Control Interface reads are served this way: the
// agent itself only knows the workloads scheduled to it, not the full
// cluster desired state the server holds.
func (c *Connection) RequestCompleteState(ctx context.Context, fieldMask []string) (wire.CompleteState, error) {
	c.mu.Lock()
	stream := c.conn
	c.mu.Unlock()
	if stream == nil {
		return wire.CompleteState{}, errNotConnected
	}

	resp, err := c.request(ctx, stream, &messaging.Envelope{
		Kind:                 messaging.KindCompleteStateRequest,
		CompleteStateRequest: &messaging.CompleteStateRequest{FieldMask: fieldMask},
	})
	if err != nil {
		return wire.CompleteState{}, err
	}
	if resp.Kind == messaging.KindError {
		return wire.CompleteState{}, fmt.Errorf("agentnode: server rejected CompleteStateRequest: %s", errorMessage(resp))
	}
	if resp.CompleteState == nil {
		return wire.CompleteState{}, fmt.Errorf("agentnode: unexpected reply kind %s to CompleteStateRequest", resp.Kind)
	}
	return *resp.CompleteState, nil
}

// RequestUpdateState forwards an UpdateStateRequest to the server over this
// agent's own connection, the same way a commander connection would, on
// behalf of a workload exercising write access through its Control
// Interface.
func (c *Connection) RequestUpdateState(ctx context.Context, newState wire.DesiredState, updateMask []string) (added, deleted []wire.WorkloadInstanceName, err error) {
	c.mu.Lock()
	stream := c.conn
	c.mu.Unlock()
	if stream == nil {
		return nil, nil, errNotConnected
	}

	resp, err := c.request(ctx, stream, &messaging.Envelope{
		Kind:               messaging.KindUpdateStateRequest,
		UpdateStateRequest: &messaging.UpdateStateRequest{NewState: newState, UpdateMask: updateMask},
	})
	if err != nil {
		return nil, nil, err
	}
	if resp.Kind == messaging.KindError {
		return nil, nil, fmt.Errorf("agentnode: server rejected UpdateStateRequest: %s", errorMessage(resp))
	}
	if resp.UpdateStateSuccess == nil {
		return nil, nil, fmt.Errorf("agentnode: unexpected reply kind %s to UpdateStateRequest", resp.Kind)
	}
	return resp.UpdateStateSuccess.AddedWorkloads, resp.UpdateStateSuccess.DeletedWorkloads, nil
}

func errorMessage(env *messaging.Envelope) string {
	if env.Error == nil {
		return "unknown error"
	}
	return env.Error.Message
}

func (c *Connection) applyAssignedWorkloads(assigned *messaging.AssignedWorkloads) {
	items := make([]NamedWorkload, 0, len(assigned.Added))
	for _, aw := range assigned.Added {
		items = append(items, NamedWorkload{Name: aw.Name, Workload: aw.Workload})
	}
	if len(items) > 0 {
		c.reconciler.AssignNamed(items)
	}
	for _, name := range assigned.Deleted {
		if name.AgentName == c.agentName {
			c.reconciler.Delete(name)
		}
	}
	if assigned.Guards != nil {
		c.reconciler.SetGuards(assigned.Guards)
	}
}

func (c *Connection) applyUpdateWorkloadState(update *messaging.UpdateWorkloadState) {
	if update.AgentName == c.agentName {
		return
	}
	c.remoteMu.Lock()
	for _, entry := range update.States {
		if entry.State.IsRemoved() {
			delete(c.remoteStates, entry.Name.WorkloadName)
			continue
		}
		c.remoteStates[entry.Name.WorkloadName] = entry.State
	}
	snapshot := make(map[string]wire.ExecutionState, len(c.remoteStates))
	for k, v := range c.remoteStates {
		snapshot[k] = v
	}
	c.remoteMu.Unlock()

	c.reconciler.SetExternalStates(snapshot)
}

func (c *Connection) mergeRemoteStates(states wire.WorkloadStatesMap) {
	c.remoteMu.Lock()
	for agentName, byWorkload := range states {
		if agentName == c.agentName {
			continue
		}
		for workloadName, byID := range byWorkload {
			for _, state := range byID {
				c.remoteStates[workloadName] = state
			}
		}
	}
	snapshot := make(map[string]wire.ExecutionState, len(c.remoteStates))
	for k, v := range c.remoteStates {
		snapshot[k] = v
	}
	c.remoteMu.Unlock()

	c.reconciler.SetExternalStates(snapshot)
}

func (c *Connection) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.reconciler.Tick(ctx)
		}
	}
}

func (c *Connection) loadStatusLoop(ctx context.Context, stream messaging.Stream) {
	if c.sampler == nil {
		return
	}
	ticker := time.NewTicker(LoadStatusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cpu, free := c.sampler()
			env := &messaging.Envelope{
				Kind: messaging.KindAgentLoadStatus,
				AgentLoadStatus: &messaging.AgentLoadStatus{
					AgentName:       c.agentName,
					CPUUsagePercent: cpu,
					FreeMemoryBytes: free,
				},
			}
			if err := stream.Send(ctx, env); err != nil {
				c.logger.Warn("failed to send load status", zap.Error(err))
				return
			}
		}
	}
}

// reportState is the Reconciler's ReportFunc: it sends the transition over
// whichever stream is currently active, or drops it silently while
// disconnected (the next reconnect resyncs every tracked instance's state).
func (c *Connection) reportState(name wire.WorkloadInstanceName, state wire.ExecutionState) {
	c.mu.Lock()
	stream := c.conn
	c.mu.Unlock()
	if stream == nil {
		return
	}

	env := &messaging.Envelope{
		Kind: messaging.KindUpdateWorkloadState,
		UpdateWorkloadState: &messaging.UpdateWorkloadState{
			AgentName: c.agentName,
			States:    []messaging.WorkloadStateEntry{{Name: name, State: state}},
		},
	}
	if err := stream.Send(context.Background(), env); err != nil {
		c.logger.Warn("failed to report workload state", zap.String("workload", name.String()), zap.Error(err))
	}
}
