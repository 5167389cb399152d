// Package statestore implements the path-addressed in-memory holder of
// Ankaios's CompleteState (DesiredState, WorkloadStatesMap, AgentMap).
//
// Path operations work over a generic JSON-shaped tree (map[string]interface{},
// []interface{}, or a scalar) rather than via reflection over the typed wire
// structs, following the teacher's preference for explicit struct<->map
// conversions (task/models.go's ToAPI()) over reflection-heavy generics.
package statestore

import (
	"fmt"
	"strings"

	"github.com/ankaios/ankaios/internal/wire"
)

const wildcardSegment = "*"

// SplitPath splits a `.`-separated path into segments. An empty path yields
// a zero-length slice (the root).
func SplitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// JoinPath re-joins path segments into their dotted form.
func JoinPath(segments []string) string {
	return strings.Join(segments, ".")
}

// ToTree converts any wire object into a generic JSON tree via a marshal/
// unmarshal round trip through encoding/json.
func ToTree(v interface{}) (map[string]interface{}, error) {
	data, err := wire.Encode(v)
	if err != nil {
		return nil, err
	}
	var tree map[string]interface{}
	if err := wire.Decode(data, &tree); err != nil {
		return nil, err
	}
	return tree, nil
}

// FromTree converts a generic JSON tree back into the given typed pointer.
func FromTree(tree map[string]interface{}, out interface{}) error {
	data, err := wire.Encode(tree)
	if err != nil {
		return err
	}
	return wire.Decode(data, out)
}

// Get walks segments from root and returns the node found there, or
// ErrPathNotFound if any segment does not resolve. Segments must not contain
// a wildcard — callers wanting wildcard matches must call ExpandWildcards
// first.
func Get(root map[string]interface{}, segments []string) (interface{}, error) {
	var cur interface{} = root
	for i, seg := range segments {
		if seg == wildcardSegment {
			return nil, fmt.Errorf("statestore: Get does not accept wildcard segments (got %q)", JoinPath(segments))
		}
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: at %q", ErrPathNotFound, JoinPath(segments[:i+1]))
		}
		v, ok := m[seg]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrPathNotFound, JoinPath(segments[:i+1]))
		}
		cur = v
	}
	return cur, nil
}

// Set creates missing intermediate maps as empty objects and replaces the
// leaf value at segments. A zero-length segments slice is an error.
// Wildcards are rejected (ErrWildcardInSetRemove), and attempting to
// descend through a non-object node is ErrTypeMismatch.
func Set(root map[string]interface{}, segments []string, value interface{}) error {
	if containsWildcard(segments) {
		return ErrWildcardInSetRemove
	}
	if len(segments) == 0 {
		return fmt.Errorf("statestore: Set requires a non-empty path")
	}
	cur := root
	for i, seg := range segments[:len(segments)-1] {
		next, ok := cur[seg]
		if !ok {
			nm := map[string]interface{}{}
			cur[seg] = nm
			cur = nm
			continue
		}
		nm, ok := next.(map[string]interface{})
		if !ok {
			return fmt.Errorf("%w: at %q", ErrTypeMismatch, JoinPath(segments[:i+1]))
		}
		cur = nm
	}
	cur[segments[len(segments)-1]] = value
	return nil
}

// Remove deletes the leaf at segments. Missing intermediate segments are not
// an error in the non-strict case used for idempotent deletes during
// reconciliation; strict callers should call Get first to confirm presence.
func Remove(root map[string]interface{}, segments []string) error {
	if containsWildcard(segments) {
		return ErrWildcardInSetRemove
	}
	if len(segments) == 0 {
		return fmt.Errorf("statestore: Remove requires a non-empty path")
	}
	cur := root
	for _, seg := range segments[:len(segments)-1] {
		next, ok := cur[seg]
		if !ok {
			return nil
		}
		nm, ok := next.(map[string]interface{})
		if !ok {
			return fmt.Errorf("%w: at %q", ErrTypeMismatch, JoinPath(segments))
		}
		cur = nm
	}
	delete(cur, segments[len(segments)-1])
	return nil
}

// ExpandWildcards returns every concrete segment path that pattern matches
// against root, substituting each '*' segment with every key present in the
// map at that position. Non-matching branches are silently skipped.
func ExpandWildcards(root map[string]interface{}, pattern []string) [][]string {
	return expand(root, pattern, nil)
}

func expand(node interface{}, remaining []string, prefix []string) [][]string {
	if len(remaining) == 0 {
		out := make([]string, len(prefix))
		copy(out, prefix)
		return [][]string{out}
	}
	m, ok := node.(map[string]interface{})
	if !ok {
		return nil
	}
	seg := remaining[0]
	var results [][]string
	if seg == wildcardSegment {
		for k, v := range m {
			results = append(results, expand(v, remaining[1:], append(prefix, k))...)
		}
		return results
	}
	v, ok := m[seg]
	if !ok {
		return nil
	}
	return expand(v, remaining[1:], append(prefix, seg))
}

func containsWildcard(segments []string) bool {
	for _, s := range segments {
		if s == wildcardSegment {
			return true
		}
	}
	return false
}
