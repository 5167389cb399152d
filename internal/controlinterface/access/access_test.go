package access

import (
	"testing"

	"github.com/ankaios/ankaios/internal/wire"
)

func stateRule(op wire.Operation, masks ...string) wire.AccessRule {
	return wire.AccessRule{State: &wire.StateRule{Operation: op, FilterMasks: masks}}
}

func logRule(names ...string) wire.AccessRule {
	return wire.AccessRule{Log: &wire.LogRule{WorkloadNames: names}}
}

func TestEvaluateStateDefaultDeny(t *testing.T) {
	var rules wire.AccessRules
	if got := EvaluateState(rules, wire.OpRead, []string{"desiredState.workloads.nginx"}); got != Deny {
		t.Fatalf("got %v, want Deny", got)
	}
}

func TestEvaluateStateAllowedByMatchingMask(t *testing.T) {
	rules := wire.AccessRules{
		AllowRules: []wire.AccessRule{stateRule(wire.OpRead, "desiredState.workloads.*")},
	}
	if got := EvaluateState(rules, wire.OpRead, []string{"desiredState.workloads.nginx"}); got != Allow {
		t.Fatalf("got %v, want Allow", got)
	}
}

func TestEvaluateStateReadWriteCoversRead(t *testing.T) {
	rules := wire.AccessRules{
		AllowRules: []wire.AccessRule{stateRule(wire.OpReadWrite, "desiredState.workloads.*")},
	}
	if got := EvaluateState(rules, wire.OpRead, []string{"desiredState.workloads.nginx"}); got != Allow {
		t.Fatalf("got %v, want Allow", got)
	}
}

func TestEvaluateStateDenyOverridesAllow(t *testing.T) {
	rules := wire.AccessRules{
		AllowRules: []wire.AccessRule{stateRule(wire.OpReadWrite, "desiredState.workloads.*")},
		DenyRules:  []wire.AccessRule{stateRule(wire.OpReadWrite, "desiredState.workloads.secretsvc")},
	}
	if got := EvaluateState(rules, wire.OpRead, []string{"desiredState.workloads.secretsvc"}); got != Deny {
		t.Fatalf("got %v, want Deny", got)
	}
	if got := EvaluateState(rules, wire.OpRead, []string{"desiredState.workloads.nginx"}); got != Allow {
		t.Fatalf("got %v, want Allow", got)
	}
}

func TestEvaluateStateRequiresEveryMaskAllowed(t *testing.T) {
	rules := wire.AccessRules{
		AllowRules: []wire.AccessRule{stateRule(wire.OpRead, "desiredState.workloads.nginx")},
	}
	masks := []string{"desiredState.workloads.nginx", "desiredState.workloads.redis"}
	if got := EvaluateState(rules, wire.OpRead, masks); got != Deny {
		t.Fatalf("got %v, want Deny (one mask unmatched)", got)
	}
}

func TestEvaluateLogWildcard(t *testing.T) {
	rules := wire.AccessRules{
		AllowRules: []wire.AccessRule{logRule("web_*")},
	}
	if got := EvaluateLog(rules, "web_frontend"); got != Allow {
		t.Fatalf("got %v, want Allow", got)
	}
	if got := EvaluateLog(rules, "db_primary"); got != Deny {
		t.Fatalf("got %v, want Deny", got)
	}
}

func TestEvaluateLogDenyOverridesAllow(t *testing.T) {
	rules := wire.AccessRules{
		AllowRules: []wire.AccessRule{logRule("*")},
		DenyRules:  []wire.AccessRule{logRule("secretsvc")},
	}
	if got := EvaluateLog(rules, "secretsvc"); got != Deny {
		t.Fatalf("got %v, want Deny", got)
	}
	if got := EvaluateLog(rules, "nginx"); got != Allow {
		t.Fatalf("got %v, want Allow", got)
	}
}
