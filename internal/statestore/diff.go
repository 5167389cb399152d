package statestore

import "reflect"

// DiffResult lists the dot-joined absolute paths that changed between two
// trees.
type DiffResult struct {
	Added   []string
	Updated []string
	Removed []string
}

// Diff compares oldTree and newTree and classifies every leaf path that
// differs. Objects are walked recursively; arrays (and all other non-object
// values) are compared as opaque leaves, so any element-level change inside
// an array is reported as a single Updated path for the array itself, and an
// empty-to-nonempty or nonempty-to-empty array transition is reported as
// Added/Removed respectively.
func Diff(oldTree, newTree map[string]interface{}) DiffResult {
	var d DiffResult
	diffNode(oldTree, newTree, nil, &d)
	return d
}

func diffNode(oldNode, newNode interface{}, prefix []string, d *DiffResult) {
	oldMap, oldIsMap := oldNode.(map[string]interface{})
	newMap, newIsMap := newNode.(map[string]interface{})

	if oldIsMap && newIsMap {
		keys := map[string]struct{}{}
		for k := range oldMap {
			keys[k] = struct{}{}
		}
		for k := range newMap {
			keys[k] = struct{}{}
		}
		for k := range keys {
			path := append(append([]string{}, prefix...), k)
			ov, oOk := oldMap[k]
			nv, nOk := newMap[k]
			switch {
			case !oOk && nOk:
				d.Added = append(d.Added, JoinPath(path))
			case oOk && !nOk:
				d.Removed = append(d.Removed, JoinPath(path))
			default:
				diffNode(ov, nv, path, d)
			}
		}
		return
	}

	if isEmptySequence(oldNode) && !isEmptySequence(newNode) && isSequence(newNode) {
		d.Added = append(d.Added, JoinPath(prefix))
		return
	}
	if isSequence(oldNode) && !isEmptySequence(oldNode) && isEmptySequence(newNode) {
		d.Removed = append(d.Removed, JoinPath(prefix))
		return
	}

	if !reflect.DeepEqual(oldNode, newNode) {
		d.Updated = append(d.Updated, JoinPath(prefix))
	}
}

func isSequence(v interface{}) bool {
	_, ok := v.([]interface{})
	return ok
}

func isEmptySequence(v interface{}) bool {
	s, ok := v.([]interface{})
	return ok && len(s) == 0
}
