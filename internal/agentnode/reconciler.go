// Package agentnode drives the per-agent workload state machine: the
// Pending/Running/Stopping/Succeeded/Failed/Removed lifecycle a connected
// agent runs locally for every workload instance scheduled to it, against a
// pluggable runtime.Adapter.
package agentnode

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/ankaios/ankaios/internal/common/logger"
	"github.com/ankaios/ankaios/internal/depgraph"
	"github.com/ankaios/ankaios/internal/runtime"
	"github.com/ankaios/ankaios/internal/wire"
)

// MaxRestartRetries bounds ON_FAILURE/ALWAYS restart re-queueing. Once an
// instance has been retried this many times without reaching Running, it is
// left in Pending(StartingFailed) with additionalInfo "No more retries".
const MaxRestartRetries = 3

// ReportFunc is called every time an instance's observable ExecutionState
// changes, so the caller can fan it out as an UpdateWorkloadState message.
type ReportFunc func(name wire.WorkloadInstanceName, state wire.ExecutionState)

// instance is one workload's local tracking record.
type instance struct {
	name          wire.WorkloadInstanceName
	workload      wire.Workload
	state         wire.ExecutionState
	retryCount    int
	stopRequested bool
}

// Reconciler owns every workload instance an agent currently tracks and
// advances them one tick at a time. All exported methods are safe for
// concurrent use.
type Reconciler struct {
	runtime runtime.Adapter
	logger  *logger.Logger
	report  ReportFunc

	mu        sync.Mutex
	instances map[string]*instance
	guards    map[string][]depgraph.Guard
	external  map[string]wire.ExecutionState
}

// New returns a Reconciler with no tracked instances.
func New(adapter runtime.Adapter, report ReportFunc, log *logger.Logger) *Reconciler {
	return &Reconciler{
		runtime:   adapter,
		logger:    log.WithFields(zap.String("component", "agent_reconciler")),
		report:    report,
		instances: make(map[string]*instance),
		guards:    make(map[string][]depgraph.Guard),
	}
}

// SetGuards installs the delete-guards derived for this agent's current
// workload set (internal/depgraph.DeriveDeleteConditions, scoped to this
// agent by the caller).
func (r *Reconciler) SetGuards(guards map[string][]depgraph.Guard) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.guards = guards
}

// SetExternalStates installs the workload states last reported by the
// server for workloads this reconciler does not itself track (dependencies
// owned by other agents). Tick merges these underneath its own local
// states, so a dependency living on another agent is still visible to
// depgraph.ReadyToStart/ReadyToStop.
func (r *Reconciler) SetExternalStates(states map[string]wire.ExecutionState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.external = states
}

// Assign registers newly scheduled workloads. A workload already tracked is
// left untouched (Assign is idempotent over ServerHello/AssignedWorkloads
// resynchronization). Freshly assigned instances enter Pending(WaitingToStart)
// immediately: Initial is a transient value this reconciler never actually
// stores.
func (r *Reconciler) Assign(workloads []wire.Workload, nameFor func(wire.Workload) wire.WorkloadInstanceName) {
	r.mu.Lock()
	var fresh []*instance
	for _, wl := range workloads {
		name := nameFor(wl)
		key := name.String()
		if _, exists := r.instances[key]; exists {
			continue
		}
		inst := &instance{
			name:     name,
			workload: wl,
			state:    wire.Pending(wire.PendingWaitingToStart),
		}
		r.instances[key] = inst
		fresh = append(fresh, inst)
	}
	r.mu.Unlock()

	for _, inst := range fresh {
		r.emit(inst)
	}
}

// NamedWorkload pairs a workload with the instance name a caller has
// already derived for it, e.g. one received from the server over
// ServerHello/AssignedWorkloads where the name travels alongside the
// workload instead of needing to be rederived locally.
type NamedWorkload struct {
	Name     wire.WorkloadInstanceName
	Workload wire.Workload
}

// AssignNamed is Assign for callers that already know each workload's
// instance name. Idempotent the same way Assign is.
func (r *Reconciler) AssignNamed(items []NamedWorkload) {
	r.mu.Lock()
	var fresh []*instance
	for _, item := range items {
		key := item.Name.String()
		if _, exists := r.instances[key]; exists {
			continue
		}
		inst := &instance{
			name:     item.Name,
			workload: item.Workload,
			state:    wire.Pending(wire.PendingWaitingToStart),
		}
		r.instances[key] = inst
		fresh = append(fresh, inst)
	}
	r.mu.Unlock()

	for _, inst := range fresh {
		r.emit(inst)
	}
}

// Delete marks a tracked instance for removal: it enters
// Stopping(WaitingToStop) and is torn down the next time its delete-guards
// are satisfied. Deleting an instance never assigned is a no-op.
func (r *Reconciler) Delete(name wire.WorkloadInstanceName) {
	r.mu.Lock()
	inst, ok := r.instances[name.String()]
	if ok {
		inst.stopRequested = true
		inst.state = wire.Stopping(wire.StoppingWaitingToStop)
	}
	r.mu.Unlock()

	if ok {
		r.emit(inst)
	}
}

// TrackedInstance pairs an instance's full name with its current state.
type TrackedInstance struct {
	Name  wire.WorkloadInstanceName
	State wire.ExecutionState
}

// trackedInstances snapshots every tracked instance's full name and state,
// for a Connection resyncing the server after a reconnect.
func (r *Reconciler) trackedInstances() []TrackedInstance {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TrackedInstance, 0, len(r.instances))
	for _, inst := range r.instances {
		out = append(out, TrackedInstance{Name: inst.name, State: inst.state})
	}
	return out
}

// WorkloadByName returns the workload and instance name tracked under
// workloadName, for the Control Interface server to look up which access
// rules and runtime identity apply to a connecting client.
func (r *Reconciler) WorkloadByName(workloadName string) (wire.Workload, wire.WorkloadInstanceName, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inst := range r.instances {
		if inst.name.WorkloadName == workloadName {
			return inst.workload, inst.name, true
		}
	}
	return wire.Workload{}, wire.WorkloadInstanceName{}, false
}

// States returns a workloadName -> ExecutionState snapshot of every tracked
// instance, the shape depgraph.ReadyToStart/ReadyToStop expect.
func (r *Reconciler) States() map[string]wire.ExecutionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]wire.ExecutionState, len(r.instances))
	for _, inst := range r.instances {
		out[inst.name.WorkloadName] = inst.state
	}
	return out
}

// Tick advances every tracked instance by one step: starting workloads whose
// dependencies are satisfied, polling running instances for exit, and
// stopping instances whose delete-guards are now satisfied. It should be
// called periodically (or whenever dependency states may have changed).
func (r *Reconciler) Tick(ctx context.Context) {
	r.mu.Lock()
	states := make(map[string]wire.ExecutionState, len(r.instances)+len(r.external))
	for name, state := range r.external {
		states[name] = state
	}
	for _, inst := range r.instances {
		states[inst.name.WorkloadName] = inst.state
	}
	targets := make([]*instance, 0, len(r.instances))
	for _, inst := range r.instances {
		targets = append(targets, inst)
	}
	guards := r.guards
	r.mu.Unlock()

	for _, inst := range targets {
		r.step(ctx, inst, states, guards)
	}
}

func (r *Reconciler) step(ctx context.Context, inst *instance, states map[string]wire.ExecutionState, guards map[string][]depgraph.Guard) {
	switch {
	case inst.state.Kind == wire.ExecPending && inst.state.Pending == wire.PendingWaitingToStart:
		if !depgraph.ReadyToStart(inst.workload, states) {
			return
		}
		r.startInstance(ctx, inst)

	case inst.state.Kind == wire.ExecRunning:
		r.pollRunning(ctx, inst)

	case inst.state.Kind == wire.ExecStopping && inst.state.Stopping == wire.StoppingWaitingToStop:
		if !depgraph.ReadyToStop(inst.name.WorkloadName, guards, states) {
			return
		}
		r.stopInstance(ctx, inst)
	}
}

func (r *Reconciler) startInstance(ctx context.Context, inst *instance) {
	r.setState(inst, wire.Pending(wire.PendingStarting))

	if err := r.runtime.Start(ctx, inst.name, inst.workload.RuntimeConfig); err != nil {
		r.logger.Warn("workload start failed", zap.String("workload", inst.name.String()), zap.Error(err))
		r.onStartFailure(inst)
		return
	}
	r.onTransitionToRunning(inst)
}

// onTransitionToRunning applies the Stopping hysteresis: once a stop has
// been requested, a would-be Running/Succeeded/Failed report is coerced to
// Stopping(RequestedAtRuntime) instead, so observable state never flaps
// during shutdown.
func (r *Reconciler) onTransitionToRunning(inst *instance) {
	if inst.stopRequested {
		r.setState(inst, wire.Stopping(wire.StoppingRequestedAtRuntime))
		return
	}
	inst.retryCount = 0
	r.setState(inst, wire.Running())
}

func (r *Reconciler) onStartFailure(inst *instance) {
	if inst.stopRequested {
		r.setState(inst, wire.Stopping(wire.StoppingRequestedAtRuntime))
		return
	}
	if r.shouldRetry(inst) {
		inst.retryCount++
		r.setState(inst, wire.Pending(wire.PendingWaitingToStart))
		return
	}
	failed := wire.Pending(wire.PendingStartingFailed)
	failed.AdditionalInfo = "No more retries"
	r.setState(inst, failed)
}

func (r *Reconciler) shouldRetry(inst *instance) bool {
	switch inst.workload.RestartPolicy {
	case wire.RestartOnFailure, wire.RestartAlways:
		return inst.retryCount < MaxRestartRetries
	default:
		return false
	}
}

func (r *Reconciler) pollRunning(ctx context.Context, inst *instance) {
	status, err := r.runtime.Status(ctx, inst.name)
	if err != nil {
		r.logger.Warn("status check failed", zap.String("workload", inst.name.String()), zap.Error(err))
		return
	}
	if status.Running || !status.Exists {
		return
	}

	if inst.stopRequested {
		r.setState(inst, wire.Stopping(wire.StoppingRequestedAtRuntime))
		return
	}

	if status.ExitCode == 0 {
		if inst.workload.RestartPolicy == wire.RestartAlways {
			r.setState(inst, wire.Pending(wire.PendingWaitingToStart))
			return
		}
		r.setState(inst, wire.Succeeded())
		return
	}

	if r.shouldRetry(inst) {
		inst.retryCount++
		r.setState(inst, wire.Pending(wire.PendingWaitingToStart))
		return
	}
	r.setState(inst, wire.Failed(wire.FailedExecFailed))
}

func (r *Reconciler) stopInstance(ctx context.Context, inst *instance) {
	r.setState(inst, wire.Stopping(wire.StoppingStopping))

	if err := r.runtime.Stop(ctx, inst.name); err != nil {
		r.logger.Warn("workload stop failed", zap.String("workload", inst.name.String()), zap.Error(err))
		r.setState(inst, wire.Stopping(wire.StoppingDeleteFailed))
		return
	}

	r.mu.Lock()
	delete(r.instances, inst.name.String())
	r.mu.Unlock()
	r.report(inst.name, wire.Removed())
}

func (r *Reconciler) setState(inst *instance, state wire.ExecutionState) {
	r.mu.Lock()
	inst.state = state
	r.mu.Unlock()
	r.emit(inst)
}

func (r *Reconciler) emit(inst *instance) {
	if r.report != nil {
		r.mu.Lock()
		state := inst.state
		r.mu.Unlock()
		r.report(inst.name, state)
	}
}
