package depgraph

import "github.com/ankaios/ankaios/internal/wire"

type color int

const (
	white color = iota
	gray
	black
)

// CheckAcyclic builds directed edges workload -> each dependency present in
// workloads, then runs a DFS with a three-color marker over every node.
// Dependency edges to names absent from workloads are ignored rather than
// treated as an error (a target config update may not yet know about every
// named dependency). The first back-edge found is reported as a CycleError;
// iteration order over a map is not stable, so which cycle is "first" is not
// guaranteed across runs with multiple independent cycles, only that one is
// always reported when any exist.
func CheckAcyclic(workloads map[string]wire.Workload) error {
	colors := make(map[string]color, len(workloads))
	var path []string

	var visit func(name string) error
	visit = func(name string) error {
		switch colors[name] {
		case black:
			return nil
		case gray:
			cyclePath := append(append([]string{}, path...), name)
			return &CycleError{Path: trimToCycle(cyclePath, name)}
		}

		colors[name] = gray
		path = append(path, name)

		wl, ok := workloads[name]
		if ok {
			for dep := range wl.Dependencies {
				if _, present := workloads[dep]; !present {
					continue
				}
				if err := visit(dep); err != nil {
					return err
				}
			}
		}

		path = path[:len(path)-1]
		colors[name] = black
		return nil
	}

	for name := range workloads {
		if colors[name] == white {
			if err := visit(name); err != nil {
				return err
			}
		}
	}
	return nil
}

// trimToCycle trims a DFS path down to just the repeated cycle, e.g.
// [a b c b] for a dependency chain a->b->c->b becomes [b c b].
func trimToCycle(path []string, repeated string) []string {
	for i, n := range path {
		if n == repeated {
			return path[i:]
		}
	}
	return path
}
