package depgraph

import "github.com/ankaios/ankaios/internal/wire"

// Guard is one derived delete-condition attached to a depended-on workload:
// the depended-on workload may not be removed until Dependent's observed
// state satisfies Condition.
type Guard struct {
	Dependent string
	Condition wire.DeleteCondition
}

// DeriveDeleteConditions walks every workload's dependencies and, for each
// ADD_COND_RUNNING dependency, attaches an inverse
// DEL_COND_NOT_PENDING_NOR_RUNNING guard to the depended-on workload: it
// cannot be deleted while the dependent still needs it running. Add-conditions
// other than ADD_COND_RUNNING require no delete-guard.
func DeriveDeleteConditions(workloads map[string]wire.Workload) map[string][]Guard {
	guards := make(map[string][]Guard)
	for name, wl := range workloads {
		for dep, cond := range wl.Dependencies {
			if cond != wire.AddCondRunning {
				continue
			}
			guards[dep] = append(guards[dep], Guard{
				Dependent: name,
				Condition: wire.DelCondNotPendingNorRunning,
			})
		}
	}
	return guards
}
