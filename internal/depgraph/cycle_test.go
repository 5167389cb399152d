package depgraph

import (
	"errors"
	"testing"

	"github.com/ankaios/ankaios/internal/wire"
)

func wl(deps map[string]wire.AddCondition) wire.Workload {
	return wire.Workload{Dependencies: deps}
}

func TestCheckAcyclicNoCycle(t *testing.T) {
	workloads := map[string]wire.Workload{
		"a": wl(map[string]wire.AddCondition{"b": wire.AddCondRunning}),
		"b": wl(map[string]wire.AddCondition{"c": wire.AddCondRunning}),
		"c": wl(nil),
	}
	if err := CheckAcyclic(workloads); err != nil {
		t.Fatalf("expected no cycle, got %v", err)
	}
}

func TestCheckAcyclicDetectsCycle(t *testing.T) {
	workloads := map[string]wire.Workload{
		"a": wl(map[string]wire.AddCondition{"b": wire.AddCondRunning}),
		"b": wl(map[string]wire.AddCondition{"a": wire.AddCondRunning}),
	}
	err := CheckAcyclic(workloads)
	if err == nil {
		t.Fatal("expected cycle error")
	}
	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected *CycleError, got %T", err)
	}
	if !errors.Is(err, ErrCycle) {
		t.Error("expected errors.Is(err, ErrCycle) to hold")
	}
}

func TestCheckAcyclicIgnoresMissingDependencyTargets(t *testing.T) {
	workloads := map[string]wire.Workload{
		"a": wl(map[string]wire.AddCondition{"ghost": wire.AddCondRunning}),
	}
	if err := CheckAcyclic(workloads); err != nil {
		t.Fatalf("expected missing dependency target to be ignored, got %v", err)
	}
}

func TestCheckAcyclicSelfDependency(t *testing.T) {
	workloads := map[string]wire.Workload{
		"a": wl(map[string]wire.AddCondition{"a": wire.AddCondRunning}),
	}
	if err := CheckAcyclic(workloads); err == nil {
		t.Fatal("expected self-dependency to be reported as a cycle")
	}
}
