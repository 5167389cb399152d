package depgraph

import "github.com/ankaios/ankaios/internal/wire"

// ReadyToStart reports whether every dependency of wl has its add-condition
// satisfied by the corresponding entry in states (keyed by workload name). A
// dependency with no recorded state is treated as unsatisfied: it has not
// been observed yet, so wl cannot be assumed ready.
func ReadyToStart(wl wire.Workload, states map[string]wire.ExecutionState) bool {
	for dep, cond := range wl.Dependencies {
		state, ok := states[dep]
		if !ok {
			return false
		}
		if !satisfiesAddCondition(cond, state) {
			return false
		}
	}
	return true
}

func satisfiesAddCondition(cond wire.AddCondition, state wire.ExecutionState) bool {
	switch cond {
	case wire.AddCondRunning:
		return state.IsRunning()
	case wire.AddCondSucceeded:
		return state.IsSucceeded()
	case wire.AddCondFailed:
		return state.IsFailed()
	default:
		return false
	}
}

// ReadyToStop reports whether every delete-condition guard recorded against
// workloadName holds against the current states of its guarding dependents.
// A workload with no guards is always ready to stop.
func ReadyToStop(workloadName string, guards map[string][]Guard, states map[string]wire.ExecutionState) bool {
	for _, g := range guards[workloadName] {
		state := states[g.Dependent]
		if !satisfiesDeleteCondition(g.Condition, state) {
			return false
		}
	}
	return true
}

func satisfiesDeleteCondition(cond wire.DeleteCondition, state wire.ExecutionState) bool {
	switch cond {
	case wire.DelCondRunning:
		return state.IsRunning()
	case wire.DelCondNotPendingNorRunning:
		return state.Kind != wire.ExecPending && !state.IsRunning()
	default:
		return false
	}
}
