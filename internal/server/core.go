// Package server holds the orchestration core: the single owner of desired
// state and observed workload/agent state, the UpdateStateRequest pipeline
// (render, cycle-check, diff, commit, dispatch), and the handlers for every
// message an agent connection can send.
package server

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/ankaios/ankaios/internal/common/logger"
	"github.com/ankaios/ankaios/internal/configrender"
	"github.com/ankaios/ankaios/internal/depgraph"
	"github.com/ankaios/ankaios/internal/messaging"
	"github.com/ankaios/ankaios/internal/messaging/registry"
	"github.com/ankaios/ankaios/internal/server/eventbus"
	"github.com/ankaios/ankaios/internal/statestore"
	"github.com/ankaios/ankaios/internal/wire"
)

// Common errors returned by Core's public operations.
var (
	ErrUnsupportedProtocolVersion = errors.New("server: unsupported protocol version")
)

// Core owns the single in-memory CompleteState and every cross-cutting
// piece of bookkeeping an UpdateStateRequest or agent message touches. All
// exported methods are safe for concurrent use.
type Core struct {
	store    *statestore.Store
	registry *registry.Registry
	bus      *eventbus.Bus
	logger   *logger.Logger

	mu       sync.Mutex
	rendered map[string]configrender.Rendered // last applied rendering, by workload name
	guards   map[string][]depgraph.Guard      // last derived delete-guards, by workload name
}

// New returns a Core over an empty CompleteState.
func New(store *statestore.Store, reg *registry.Registry, bus *eventbus.Bus, log *logger.Logger) *Core {
	return &Core{
		store:    store,
		registry: reg,
		bus:      bus,
		logger:   log.WithFields(zap.String("component", "server_core")),
		rendered: make(map[string]configrender.Rendered),
		guards:   make(map[string][]depgraph.Guard),
	}
}

// ApplyUpdate implements controlinterface.StateUpdater: it renders,
// cycle-checks, diffs, and commits a prospective desired-state replacement,
// dispatching the resulting assignments to affected agents. Any failure in
// validation, rendering, or cycle-checking leaves the stored state
// untouched.
func (c *Core) ApplyUpdate(ctx context.Context, newState wire.DesiredState, updateMask []string) ([]wire.WorkloadInstanceName, []wire.WorkloadInstanceName, error) {
	if err := wire.ValidateAPIVersion(newState.APIVersion); err != nil {
		return nil, nil, err
	}

	current, err := c.store.Snapshot()
	if err != nil {
		return nil, nil, fmt.Errorf("server: read current state: %w", err)
	}

	prospective, err := mergeMasked(current.DesiredState, newState, updateMask)
	if err != nil {
		return nil, nil, fmt.Errorf("server: apply update mask: %w", err)
	}
	if err := wire.ValidateDesiredState(prospective); err != nil {
		return nil, nil, err
	}

	renderedNow, err := configrender.RenderDesired(prospective)
	if err != nil {
		return nil, nil, fmt.Errorf("server: render desired state: %w", err)
	}

	renderedWorkloads := make(map[string]wire.Workload, len(renderedNow))
	for name, r := range renderedNow {
		renderedWorkloads[name] = r.Workload
	}
	if err := depgraph.CheckAcyclic(renderedWorkloads); err != nil {
		return nil, nil, err
	}
	newGuards := depgraph.DeriveDeleteConditions(renderedWorkloads)

	c.mu.Lock()
	oldRendered := c.rendered
	plan := diffRendered(oldRendered, renderedNow)
	c.rendered = renderedNow
	c.guards = newGuards
	c.mu.Unlock()

	current.DesiredState = prospective
	if current.WorkloadStates == nil {
		current.WorkloadStates = wire.WorkloadStatesMap{}
	}
	for _, add := range plan.added {
		setInitialState(current.WorkloadStates, add.Name, add.Workload)
	}
	for _, del := range plan.deleted {
		removeState(current.WorkloadStates, del)
	}
	c.store.Replace(current)

	c.dispatch(ctx, plan)

	added := make([]wire.WorkloadInstanceName, 0, len(plan.added))
	for _, a := range plan.added {
		added = append(added, a.Name)
	}
	deleted := append([]wire.WorkloadInstanceName{}, plan.deleted...)

	c.logger.Info("update applied", zap.Int("added", len(added)), zap.Int("deleted", len(deleted)))
	c.bus.Publish(eventbus.Event{Kind: eventbus.KindStateUpdated})
	return added, deleted, nil
}

// updatePlan is the classification result of diffRendered: which instance
// names must be created on their owning agent, and which must be torn
// down.
type updatePlan struct {
	added   []addedWorkload
	deleted []wire.WorkloadInstanceName
}

type addedWorkload struct {
	Name     wire.WorkloadInstanceName
	Workload wire.Workload
}

// diffRendered classifies every workload name present in either rendering.
// A name present in both with an unchanged instance id is left alone; a
// changed instance id (or a name appearing new/missing) is treated as
// delete-then-add on the changed side.
func diffRendered(old, next map[string]configrender.Rendered) updatePlan {
	var plan updatePlan
	for name, n := range next {
		o, existed := old[name]
		if !existed || o.Name != n.Name {
			plan.added = append(plan.added, addedWorkload{Name: n.Name, Workload: n.Workload})
		}
		if existed && o.Name != n.Name {
			plan.deleted = append(plan.deleted, o.Name)
		}
	}
	for name, o := range old {
		if _, ok := next[name]; !ok {
			plan.deleted = append(plan.deleted, o.Name)
		}
	}
	return plan
}

func setInitialState(states wire.WorkloadStatesMap, name wire.WorkloadInstanceName, wl wire.Workload) {
	if name.AgentName == "" {
		return
	}
	if states[name.AgentName] == nil {
		states[name.AgentName] = map[string]map[string]wire.ExecutionState{}
	}
	if states[name.AgentName][name.WorkloadName] == nil {
		states[name.AgentName][name.WorkloadName] = map[string]wire.ExecutionState{}
	}
	states[name.AgentName][name.WorkloadName][name.ID] = wire.Pending(wire.PendingInitial)
}

func removeState(states wire.WorkloadStatesMap, name wire.WorkloadInstanceName) {
	byWorkload, ok := states[name.AgentName]
	if !ok {
		return
	}
	byID, ok := byWorkload[name.WorkloadName]
	if !ok {
		return
	}
	delete(byID, name.ID)
	if len(byID) == 0 {
		delete(byWorkload, name.WorkloadName)
	}
	if len(byWorkload) == 0 {
		delete(states, name.AgentName)
	}
}

// dispatch groups the plan's added/deleted instances by owning agent and
// pushes one AssignedWorkloads envelope per affected agent.
func (c *Core) dispatch(ctx context.Context, plan updatePlan) {
	byAgent := map[string]*messaging.AssignedWorkloads{}
	ensure := func(agent string) *messaging.AssignedWorkloads {
		if byAgent[agent] == nil {
			byAgent[agent] = &messaging.AssignedWorkloads{}
		}
		return byAgent[agent]
	}
	for _, a := range plan.added {
		if a.Name.AgentName == "" {
			continue
		}
		assigned := ensure(a.Name.AgentName)
		assigned.Added = append(assigned.Added, messaging.AssignedWorkload{Name: a.Name, Workload: a.Workload})
	}
	for _, d := range plan.deleted {
		if d.AgentName == "" {
			continue
		}
		assigned := ensure(d.AgentName)
		assigned.Deleted = append(assigned.Deleted, d)
	}
	c.mu.Lock()
	guards := c.guards
	c.mu.Unlock()

	for agent, payload := range byAgent {
		payload.Guards = guards
		env := &messaging.Envelope{Kind: messaging.KindAssignedWorkloads, AssignedWorkloads: payload}
		if err := c.registry.SendToAgent(ctx, agent, env); err != nil {
			c.logger.Warn("failed to dispatch assigned workloads", zap.String("agent", agent), zap.Error(err))
		}
	}
}

// HandleAgentHello validates the protocol version, registers the agent,
// and returns the ServerHello payload to send back (or an error meaning
// the connection must be closed with ConnectionClosed instead).
func (c *Core) HandleAgentHello(hello messaging.AgentHello) (*messaging.ServerHello, error) {
	if hello.ProtocolVersion != messaging.ProtocolVersion {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProtocolVersion, hello.ProtocolVersion)
	}

	state, err := c.store.Snapshot()
	if err != nil {
		return nil, err
	}
	if state.Agents == nil {
		state.Agents = wire.AgentMap{}
	}
	state.Agents[hello.AgentName] = wire.AgentAttributes{}

	var added []messaging.AssignedWorkload
	c.mu.Lock()
	for _, r := range c.rendered {
		if r.Name.AgentName == hello.AgentName {
			added = append(added, messaging.AssignedWorkload{Name: r.Name, Workload: r.Workload})
		}
	}
	guards := c.guards
	c.mu.Unlock()

	states := wire.WorkloadStatesMap{}
	for agent, byWorkload := range state.WorkloadStates {
		if agent == hello.AgentName {
			continue
		}
		states[agent] = byWorkload
	}

	c.store.Replace(state)

	return &messaging.ServerHello{AddedWorkloads: added, States: states, Guards: guards}, nil
}

// HandleAgentGone marks every workload instance of agentName as
// AgentDisconnected, removes the agent from the resource table, and
// returns the UpdateWorkloadState envelope to fan out to every other
// connected agent (nil if the agent had no tracked state).
func (c *Core) HandleAgentGone(agentName string) *messaging.UpdateWorkloadState {
	state, err := c.store.Snapshot()
	if err != nil {
		c.logger.Error("failed to read state on AgentGone", zap.Error(err))
		return nil
	}
	delete(state.Agents, agentName)

	byWorkload, ok := state.WorkloadStates[agentName]
	if !ok {
		c.store.Replace(state)
		return nil
	}

	var entries []messaging.WorkloadStateEntry
	for workloadName, byID := range byWorkload {
		for id := range byID {
			name := wire.WorkloadInstanceName{WorkloadName: workloadName, AgentName: agentName, ID: id}
			byID[id] = wire.AgentDisconnected()
			entries = append(entries, messaging.WorkloadStateEntry{Name: name, State: wire.AgentDisconnected()})
		}
	}
	c.store.Replace(state)

	if len(entries) == 0 {
		return nil
	}
	return &messaging.UpdateWorkloadState{AgentName: agentName, States: entries}
}

// HandleUpdateWorkloadState stores every reported transition with Removed
// cleanup, and returns the envelope to fan out to every other agent (nil
// if every entry was a Removed marker).
func (c *Core) HandleUpdateWorkloadState(update messaging.UpdateWorkloadState) (*messaging.UpdateWorkloadState, error) {
	state, err := c.store.Snapshot()
	if err != nil {
		return nil, err
	}
	if state.WorkloadStates == nil {
		state.WorkloadStates = wire.WorkloadStatesMap{}
	}

	var surviving []messaging.WorkloadStateEntry
	for _, entry := range update.States {
		if entry.State.IsRemoved() {
			removeState(state.WorkloadStates, entry.Name)
			continue
		}
		if state.WorkloadStates[entry.Name.AgentName] == nil {
			state.WorkloadStates[entry.Name.AgentName] = map[string]map[string]wire.ExecutionState{}
		}
		if state.WorkloadStates[entry.Name.AgentName][entry.Name.WorkloadName] == nil {
			state.WorkloadStates[entry.Name.AgentName][entry.Name.WorkloadName] = map[string]wire.ExecutionState{}
		}
		state.WorkloadStates[entry.Name.AgentName][entry.Name.WorkloadName][entry.Name.ID] = entry.State
		surviving = append(surviving, entry)
	}
	c.store.Replace(state)
	c.bus.Publish(eventbus.Event{Kind: eventbus.KindWorkloadStateChanged})

	if len(surviving) == 0 {
		return nil, nil
	}
	return &messaging.UpdateWorkloadState{AgentName: update.AgentName, States: surviving}, nil
}

// HandleCompleteStateRequest returns the CompleteState filtered to
// apiVersion plus the union of fieldMask paths (wildcards expanded).
// Unrendered templated fields are returned as stored.
func (c *Core) HandleCompleteStateRequest(fieldMask []string) (wire.CompleteState, error) {
	tree, err := c.store.GetFields(fieldMask)
	if err != nil {
		return wire.CompleteState{}, err
	}
	var out wire.CompleteState
	if err := statestore.FromTree(tree, &out); err != nil {
		return wire.CompleteState{}, err
	}
	return out, nil
}

// GetFields implements controlinterface.StateReader.
func (c *Core) GetFields(masks []string) (map[string]interface{}, error) {
	return c.store.GetFields(masks)
}

// HandleAgentLoadStatus updates the reporting agent's resource attributes.
func (c *Core) HandleAgentLoadStatus(report messaging.AgentLoadStatus) error {
	state, err := c.store.Snapshot()
	if err != nil {
		return err
	}
	if state.Agents == nil {
		state.Agents = wire.AgentMap{}
	}
	state.Agents[report.AgentName] = wire.AgentAttributes{
		CPUUsagePercent: report.CPUUsagePercent,
		FreeMemoryBytes: report.FreeMemoryBytes,
	}
	c.store.Replace(state)
	return nil
}

// mergeMasked builds the prospective desired state: an empty mask fully
// replaces current with next; a non-empty mask copies only the paths it
// names (CompleteState-rooted, wildcard-expanded against next) from next
// into current, removing a path from current when next no longer has it.
func mergeMasked(current, next wire.DesiredState, updateMask []string) (wire.DesiredState, error) {
	if len(updateMask) == 0 {
		return next, nil
	}

	curDesired, err := statestore.ToTree(current)
	if err != nil {
		return wire.DesiredState{}, err
	}
	nextDesired, err := statestore.ToTree(next)
	if err != nil {
		return wire.DesiredState{}, err
	}
	// Mask paths are CompleteState-rooted ("desiredState.workloads.nginx").
	curTree := map[string]interface{}{"desiredState": curDesired}
	nextTree := map[string]interface{}{"desiredState": nextDesired}

	for _, mask := range updateMask {
		segments := statestore.SplitPath(mask)
		concretes := statestore.ExpandWildcards(nextTree, segments)
		if len(concretes) == 0 {
			_ = statestore.Remove(curTree, segments)
			continue
		}
		for _, concrete := range concretes {
			v, err := statestore.Get(nextTree, concrete)
			if err != nil {
				return wire.DesiredState{}, err
			}
			if err := statestore.Set(curTree, concrete, v); err != nil {
				return wire.DesiredState{}, err
			}
		}
	}

	var merged wire.DesiredState
	mergedTree, _ := curTree["desiredState"].(map[string]interface{})
	if err := statestore.FromTree(mergedTree, &merged); err != nil {
		return wire.DesiredState{}, err
	}
	return merged, nil
}
