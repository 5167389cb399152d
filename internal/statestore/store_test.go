package statestore

import (
	"testing"

	"github.com/ankaios/ankaios/internal/wire"
)

func newTestState() wire.CompleteState {
	return wire.CompleteState{
		DesiredState: wire.DesiredState{
			APIVersion: wire.SupportedAPIVersion,
			Workloads: map[string]wire.Workload{
				"nginx": {Agent: "agent_A", Runtime: "podman", RuntimeConfig: "image: nginx"},
				"redis": {Agent: "agent_B", Runtime: "podman", RuntimeConfig: "image: redis"},
			},
		},
		WorkloadStates: wire.WorkloadStatesMap{
			"agent_A": {"nginx": {"abc123": wire.Running()}},
		},
		Agents: wire.AgentMap{
			"agent_A": {CPUUsagePercent: 1.5, FreeMemoryBytes: 1024},
		},
	}
}

func TestStoreGetAlwaysIncludesAPIVersion(t *testing.T) {
	s := New()
	s.Replace(newTestState())

	got, err := s.Get("desiredState.workloads.nginx.agent")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	v, err := Get(got, SplitPath("desiredState.apiVersion"))
	if err != nil {
		t.Fatalf("expected apiVersion to be present: %v", err)
	}
	if v != wire.SupportedAPIVersion {
		t.Errorf("got %v, want %v", v, wire.SupportedAPIVersion)
	}
	agent, err := Get(got, SplitPath("desiredState.workloads.nginx.agent"))
	if err != nil {
		t.Fatalf("expected requested subtree present: %v", err)
	}
	if agent != "agent_A" {
		t.Errorf("got %v, want agent_A", agent)
	}
	if _, err := Get(got, SplitPath("desiredState.workloads.redis")); err == nil {
		t.Errorf("expected redis to be excluded from the minimal response tree")
	}
}

func TestStoreGetFieldsWildcardUnion(t *testing.T) {
	s := New()
	s.Replace(newTestState())

	got, err := s.GetFields([]string{"desiredState.workloads.*.agent"})
	if err != nil {
		t.Fatalf("GetFields failed: %v", err)
	}
	for _, name := range []string{"nginx", "redis"} {
		if _, err := Get(got, SplitPath("desiredState.workloads."+name+".agent")); err != nil {
			t.Errorf("expected %s.agent present: %v", name, err)
		}
	}
}

func TestStoreSetThenGetRoundTrip(t *testing.T) {
	s := New()
	s.Replace(newTestState())

	if err := s.Set("desiredState.workloads.nginx.agent", "agent_C"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, err := s.Get("desiredState.workloads.nginx.agent")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	v, err := Get(got, SplitPath("desiredState.workloads.nginx.agent"))
	if err != nil || v != "agent_C" {
		t.Errorf("got %v, err %v, want agent_C", v, err)
	}
}

func TestStoreRemove(t *testing.T) {
	s := New()
	s.Replace(newTestState())

	if err := s.Remove("desiredState.workloads.redis"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	snap, err := s.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if _, ok := snap.DesiredState.Workloads["redis"]; ok {
		t.Errorf("expected redis to be removed")
	}
	if _, ok := snap.DesiredState.Workloads["nginx"]; !ok {
		t.Errorf("expected nginx to survive the targeted remove")
	}
}
