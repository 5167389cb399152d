package statestore

import (
	"sync"

	"github.com/ankaios/ankaios/internal/wire"
)

// Store is the server's single in-memory holder of the CompleteState. All
// reads and writes go through path-addressed operations so that a
// CompleteStateRequest's field mask and an UpdateStateRequest's update mask
// can both be served from the same tree representation. One writer at a
// time; readers take the same mutex since Get/GetFields build a fresh
// response tree on every call rather than handing out references into the
// live state.
type Store struct {
	mu    sync.Mutex
	state wire.CompleteState
}

// New returns an empty Store.
func New() *Store {
	return &Store{}
}

// Snapshot returns a deep copy of the current CompleteState.
func (s *Store) Snapshot() (wire.CompleteState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyState(s.state)
}

// Replace atomically swaps in a new CompleteState, used when a full
// desired state update has already been validated, rendered and merged by
// the caller.
func (s *Store) Replace(state wire.CompleteState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// Get builds the smallest object containing desiredState.apiVersion and the
// subtree reachable at path, expanding any wildcard segments it contains. An
// empty path returns the whole state.
func (s *Store) Get(path string) (map[string]interface{}, error) {
	return s.GetFields([]string{path})
}

// GetFields is the field-mask driven form used to answer a
// CompleteStateRequest: it unions the subtrees reachable at every mask path
// (after wildcard expansion) into one minimal response tree, and always
// includes desiredState.apiVersion so a reader always knows what version the
// payload was produced at.
func (s *Store) GetFields(masks []string) (map[string]interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	root, err := ToTree(s.state)
	if err != nil {
		return nil, err
	}

	out := map[string]interface{}{}
	if err := copyMatches(root, out, []string{"desiredState", "apiVersion"}); err != nil && err != ErrPathNotFound {
		return nil, err
	}

	if len(masks) == 0 {
		masks = []string{""}
	}
	for _, mask := range masks {
		segments := SplitPath(mask)
		if len(segments) == 0 {
			return root, nil
		}
		for _, concrete := range ExpandWildcards(root, segments) {
			if err := copyMatches(root, out, concrete); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// copyMatches copies the value found at segments in src into the
// corresponding location of dst, creating intermediate maps as needed.
func copyMatches(src, dst map[string]interface{}, segments []string) error {
	v, err := Get(src, segments)
	if err != nil {
		return err
	}
	return Set(dst, segments, v)
}

// Set applies a single path-addressed write, expanding no wildcards (callers
// resolve the update mask to concrete paths before calling Set).
func (s *Store) Set(path string, value interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	root, err := ToTree(s.state)
	if err != nil {
		return err
	}
	if err := Set(root, SplitPath(path), value); err != nil {
		return err
	}
	var next wire.CompleteState
	if err := FromTree(root, &next); err != nil {
		return err
	}
	s.state = next
	return nil
}

// Remove deletes the value at path.
func (s *Store) Remove(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	root, err := ToTree(s.state)
	if err != nil {
		return err
	}
	if err := Remove(root, SplitPath(path)); err != nil {
		return err
	}
	var next wire.CompleteState
	if err := FromTree(root, &next); err != nil {
		return err
	}
	s.state = next
	return nil
}

func copyState(cs wire.CompleteState) (wire.CompleteState, error) {
	tree, err := ToTree(cs)
	if err != nil {
		return wire.CompleteState{}, err
	}
	var out wire.CompleteState
	if err := FromTree(tree, &out); err != nil {
		return wire.CompleteState{}, err
	}
	return out, nil
}
