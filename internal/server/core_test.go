package server

import (
	"context"
	"testing"

	"github.com/ankaios/ankaios/internal/common/logger"
	"github.com/ankaios/ankaios/internal/messaging"
	"github.com/ankaios/ankaios/internal/messaging/registry"
	"github.com/ankaios/ankaios/internal/server/eventbus"
	"github.com/ankaios/ankaios/internal/statestore"
	"github.com/ankaios/ankaios/internal/wire"
)

func newTestCore() *Core {
	return New(statestore.New(), registry.New(logger.Default()), eventbus.New(logger.Default()), logger.Default())
}

func desiredWithWorkloads(workloads map[string]wire.Workload) wire.DesiredState {
	return wire.DesiredState{APIVersion: "v0.1", Workloads: workloads}
}

func TestApplyUpdateAddsWorkloadPendingInitial(t *testing.T) {
	c := newTestCore()
	ds := desiredWithWorkloads(map[string]wire.Workload{
		"nginx": {Agent: "agent_A", Runtime: "podman", RuntimeConfig: "image: nginx"},
	})

	added, deleted, err := c.ApplyUpdate(context.Background(), ds, nil)
	if err != nil {
		t.Fatalf("ApplyUpdate failed: %v", err)
	}
	if len(deleted) != 0 {
		t.Fatalf("got deleted %v, want none", deleted)
	}
	if len(added) != 1 || added[0].WorkloadName != "nginx" || added[0].AgentName != "agent_A" {
		t.Fatalf("got added %v, want one nginx instance on agent_A", added)
	}

	state, err := c.store.Snapshot()
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	got := state.WorkloadStates["agent_A"]["nginx"][added[0].ID]
	if got.Kind != wire.ExecPending || got.Pending != wire.PendingInitial {
		t.Fatalf("got state %v, want Pending(Initial)", got)
	}
}

func TestApplyUpdateRejectsCycleLeavesStateUnchanged(t *testing.T) {
	c := newTestCore()
	cyclic := desiredWithWorkloads(map[string]wire.Workload{
		"a": {Agent: "agent_A", Runtime: "podman", RuntimeConfig: "x", Dependencies: map[string]wire.AddCondition{"b": wire.AddCondRunning}},
		"b": {Agent: "agent_A", Runtime: "podman", RuntimeConfig: "y", Dependencies: map[string]wire.AddCondition{"a": wire.AddCondRunning}},
	})

	_, _, err := c.ApplyUpdate(context.Background(), cyclic, nil)
	if err == nil {
		t.Fatal("expected cycle rejection, got nil error")
	}

	state, err := c.store.Snapshot()
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if len(state.DesiredState.Workloads) != 0 {
		t.Fatalf("got %d workloads stored, want 0 (rejected update must not commit)", len(state.DesiredState.Workloads))
	}
}

func TestApplyUpdateRemovingWorkloadMarksDeleted(t *testing.T) {
	c := newTestCore()
	ds := desiredWithWorkloads(map[string]wire.Workload{
		"nginx": {Agent: "agent_A", Runtime: "podman", RuntimeConfig: "image: nginx"},
	})
	added, _, err := c.ApplyUpdate(context.Background(), ds, nil)
	if err != nil {
		t.Fatalf("initial ApplyUpdate failed: %v", err)
	}

	_, deleted, err := c.ApplyUpdate(context.Background(), desiredWithWorkloads(map[string]wire.Workload{}), nil)
	if err != nil {
		t.Fatalf("second ApplyUpdate failed: %v", err)
	}
	if len(deleted) != 1 || deleted[0].WorkloadName != "nginx" {
		t.Fatalf("got deleted %v, want one nginx instance", deleted)
	}
	if deleted[0].ID != added[0].ID {
		t.Fatalf("got deleted instance id %q, want %q", deleted[0].ID, added[0].ID)
	}
}

func TestApplyUpdateChangedRuntimeConfigIsDeleteThenAdd(t *testing.T) {
	c := newTestCore()
	ds := desiredWithWorkloads(map[string]wire.Workload{
		"nginx": {Agent: "agent_A", Runtime: "podman", RuntimeConfig: "image: nginx:1"},
	})
	added1, _, err := c.ApplyUpdate(context.Background(), ds, nil)
	if err != nil {
		t.Fatalf("initial ApplyUpdate failed: %v", err)
	}

	changed := desiredWithWorkloads(map[string]wire.Workload{
		"nginx": {Agent: "agent_A", Runtime: "podman", RuntimeConfig: "image: nginx:2"},
	})
	added2, deleted2, err := c.ApplyUpdate(context.Background(), changed, nil)
	if err != nil {
		t.Fatalf("second ApplyUpdate failed: %v", err)
	}
	if len(added2) != 1 || len(deleted2) != 1 {
		t.Fatalf("got added=%v deleted=%v, want one of each", added2, deleted2)
	}
	if added2[0].ID == added1[0].ID {
		t.Fatal("instance id should change when runtimeConfig changes")
	}
	if deleted2[0].ID != added1[0].ID {
		t.Fatalf("got deleted id %q, want original id %q", deleted2[0].ID, added1[0].ID)
	}
}

func TestHandleAgentHelloRejectsMismatchedProtocolVersion(t *testing.T) {
	c := newTestCore()
	_, err := c.HandleAgentHello(messaging.AgentHello{AgentName: "agent_A", ProtocolVersion: "v9.9"})
	if err == nil {
		t.Fatal("expected protocol version error")
	}
}

func TestHandleAgentHelloReturnsScheduledWorkloads(t *testing.T) {
	c := newTestCore()
	ds := desiredWithWorkloads(map[string]wire.Workload{
		"nginx": {Agent: "agent_A", Runtime: "podman", RuntimeConfig: "image: nginx"},
	})
	if _, _, err := c.ApplyUpdate(context.Background(), ds, nil); err != nil {
		t.Fatalf("ApplyUpdate failed: %v", err)
	}

	hello, err := c.HandleAgentHello(messaging.AgentHello{AgentName: "agent_A", ProtocolVersion: "v0.1"})
	if err != nil {
		t.Fatalf("HandleAgentHello failed: %v", err)
	}
	if len(hello.AddedWorkloads) != 1 {
		t.Fatalf("got %d added workloads, want 1", len(hello.AddedWorkloads))
	}
}

func TestHandleAgentGoneMarksWorkloadsDisconnected(t *testing.T) {
	c := newTestCore()
	ds := desiredWithWorkloads(map[string]wire.Workload{
		"nginx": {Agent: "agent_A", Runtime: "podman", RuntimeConfig: "image: nginx"},
	})
	if _, _, err := c.ApplyUpdate(context.Background(), ds, nil); err != nil {
		t.Fatalf("ApplyUpdate failed: %v", err)
	}

	update := c.HandleAgentGone("agent_A")
	if update == nil || len(update.States) != 1 {
		t.Fatalf("got %v, want one disconnected state entry", update)
	}
	if update.States[0].State.Kind != wire.ExecAgentDisconnected {
		t.Fatalf("got state %v, want AgentDisconnected", update.States[0].State)
	}
}

func TestHandleUpdateWorkloadStateRemovedCleansUpEntry(t *testing.T) {
	c := newTestCore()
	ds := desiredWithWorkloads(map[string]wire.Workload{
		"nginx": {Agent: "agent_A", Runtime: "podman", RuntimeConfig: "image: nginx"},
	})
	added, _, err := c.ApplyUpdate(context.Background(), ds, nil)
	if err != nil {
		t.Fatalf("ApplyUpdate failed: %v", err)
	}

	report := messaging.UpdateWorkloadState{
		AgentName: "agent_A",
		States:    []messaging.WorkloadStateEntry{{Name: added[0], State: wire.Removed()}},
	}
	survived, err := c.HandleUpdateWorkloadState(report)
	if err != nil {
		t.Fatalf("HandleUpdateWorkloadState failed: %v", err)
	}
	if survived != nil {
		t.Fatalf("got %v, want nil (Removed entries do not fan out)", survived)
	}

	state, err := c.store.Snapshot()
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if _, ok := state.WorkloadStates["agent_A"]["nginx"]; ok {
		t.Fatal("removed workload state entry should be cleaned up")
	}
}

func TestHandleCompleteStateRequestFiltersToMask(t *testing.T) {
	c := newTestCore()
	ds := desiredWithWorkloads(map[string]wire.Workload{
		"nginx": {Agent: "agent_A", Runtime: "podman", RuntimeConfig: "image: nginx"},
	})
	if _, _, err := c.ApplyUpdate(context.Background(), ds, nil); err != nil {
		t.Fatalf("ApplyUpdate failed: %v", err)
	}

	cs, err := c.HandleCompleteStateRequest([]string{"desiredState.workloads.nginx"})
	if err != nil {
		t.Fatalf("HandleCompleteStateRequest failed: %v", err)
	}
	if cs.DesiredState.APIVersion != "v0.1" {
		t.Fatalf("got apiVersion %q, want v0.1 (always included)", cs.DesiredState.APIVersion)
	}
	if _, ok := cs.DesiredState.Workloads["nginx"]; !ok {
		t.Fatal("expected nginx workload in filtered result")
	}
}
