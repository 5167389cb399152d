package depgraph

import (
	"testing"

	"github.com/ankaios/ankaios/internal/wire"
)

func TestReadyToStart(t *testing.T) {
	w := wl(map[string]wire.AddCondition{"db": wire.AddCondRunning})

	if ReadyToStart(w, map[string]wire.ExecutionState{}) {
		t.Error("expected not ready when dependency state is unknown")
	}
	if ReadyToStart(w, map[string]wire.ExecutionState{"db": wire.Pending(wire.PendingInitial)}) {
		t.Error("expected not ready when dependency is still pending")
	}
	if !ReadyToStart(w, map[string]wire.ExecutionState{"db": wire.Running()}) {
		t.Error("expected ready once dependency is running")
	}
}

func TestReadyToStartSucceededAndFailedConditions(t *testing.T) {
	w := wl(map[string]wire.AddCondition{"job": wire.AddCondSucceeded})
	if !ReadyToStart(w, map[string]wire.ExecutionState{"job": wire.Succeeded()}) {
		t.Error("expected ready once dependency succeeded")
	}

	wf := wl(map[string]wire.AddCondition{"job": wire.AddCondFailed})
	if !ReadyToStart(wf, map[string]wire.ExecutionState{"job": wire.Failed(wire.FailedExecFailed)}) {
		t.Error("expected ready once dependency failed")
	}
}

func TestDeriveDeleteConditionsAndReadyToStop(t *testing.T) {
	workloads := map[string]wire.Workload{
		"app": wl(map[string]wire.AddCondition{"db": wire.AddCondRunning}),
		"db":  wl(nil),
	}
	guards := DeriveDeleteConditions(workloads)

	if len(guards["db"]) != 1 || guards["db"][0].Dependent != "app" {
		t.Fatalf("expected db to carry a guard from app, got %+v", guards["db"])
	}

	states := map[string]wire.ExecutionState{"app": wire.Running()}
	if ReadyToStop("db", guards, states) {
		t.Error("expected db not ready to stop while app is still running")
	}

	states["app"] = wire.Stopping(wire.StoppingStopping)
	if !ReadyToStop("db", guards, states) {
		t.Error("expected db ready to stop once app is no longer pending or running")
	}
}

func TestReadyToStopNoGuardsAlwaysReady(t *testing.T) {
	if !ReadyToStop("lonely", map[string][]Guard{}, map[string]wire.ExecutionState{}) {
		t.Error("expected a workload with no guards to always be ready to stop")
	}
}
