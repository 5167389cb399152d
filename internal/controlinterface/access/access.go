// Package access evaluates a workload's wire.AccessRules against a
// requested Control Interface operation, the way the teacher's httpmw
// middleware chain gates an HTTP route, generalized from route matching to
// state-path/log-name matching.
package access

import (
	"strings"

	"github.com/ankaios/ankaios/internal/wire"
)

// Decision is the outcome of evaluating a request against AccessRules.
type Decision int

const (
	Deny Decision = iota
	Allow
)

// EvaluateState decides whether op against any path in requestedMasks is
// permitted. A path is permitted only if it matches at least one allow rule
// covering op (or a superset operation, ReadWrite covering Read and Write)
// and matches no deny rule; default is Deny.
func EvaluateState(rules wire.AccessRules, op wire.Operation, requestedMasks []string) Decision {
	for _, path := range requestedMasks {
		if !stateAllowed(rules, op, path) {
			return Deny
		}
	}
	return Allow
}

func stateAllowed(rules wire.AccessRules, op wire.Operation, path string) bool {
	for _, r := range rules.DenyRules {
		if r.State != nil && operationCovers(r.State.Operation, op) && matchesAny(r.State.FilterMasks, path) {
			return false
		}
	}
	for _, r := range rules.AllowRules {
		if r.State != nil && operationCovers(r.State.Operation, op) && matchesAny(r.State.FilterMasks, path) {
			return true
		}
	}
	return false
}

// EvaluateLog decides whether log streaming for workloadName is permitted:
// allowed only if it matches an allow rule and no deny rule; default Deny.
func EvaluateLog(rules wire.AccessRules, workloadName string) Decision {
	for _, r := range rules.DenyRules {
		if r.Log != nil && matchesAny(r.Log.WorkloadNames, workloadName) {
			return Deny
		}
	}
	for _, r := range rules.AllowRules {
		if r.Log != nil && matchesAny(r.Log.WorkloadNames, workloadName) {
			return Allow
		}
	}
	return Deny
}

// operationCovers reports whether granted satisfies requested (ReadWrite
// covers both Read and Write; Nothing covers nothing).
func operationCovers(granted, requested wire.Operation) bool {
	if granted == requested {
		return true
	}
	return granted == wire.OpReadWrite && (requested == wire.OpRead || requested == wire.OpWrite)
}

// matchesAny reports whether path matches at least one of patterns, each
// allowed at most one '*' wildcard (matching any run of '.'-free or full
// suffix, per a simple prefix/suffix split).
func matchesAny(patterns []string, candidate string) bool {
	for _, p := range patterns {
		if matches(p, candidate) {
			return true
		}
	}
	return false
}

func matches(pattern, candidate string) bool {
	star := strings.IndexByte(pattern, '*')
	if star < 0 {
		return pattern == candidate
	}
	prefix, suffix := pattern[:star], pattern[star+1:]
	return strings.HasPrefix(candidate, prefix) && strings.HasSuffix(candidate, suffix) &&
		len(candidate) >= len(prefix)+len(suffix)
}
