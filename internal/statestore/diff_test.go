package statestore

import "testing"

func TestDiffAddedUpdatedRemoved(t *testing.T) {
	old := map[string]interface{}{
		"workloads": map[string]interface{}{
			"nginx": map[string]interface{}{"agent": "agent_A"},
			"redis": map[string]interface{}{"agent": "agent_B"},
		},
	}
	next := map[string]interface{}{
		"workloads": map[string]interface{}{
			"nginx":  map[string]interface{}{"agent": "agent_C"},
			"memcached": map[string]interface{}{"agent": "agent_A"},
		},
	}

	d := Diff(old, next)

	assertContains(t, d.Added, "workloads.memcached")
	assertContains(t, d.Removed, "workloads.redis")
	assertContains(t, d.Updated, "workloads.nginx.agent")
}

func TestDiffNoChangeIsEmpty(t *testing.T) {
	tree := map[string]interface{}{"a": map[string]interface{}{"b": 1}}
	d := Diff(tree, tree)
	if len(d.Added)+len(d.Updated)+len(d.Removed) != 0 {
		t.Errorf("expected no diff, got %+v", d)
	}
}

func TestDiffArrayTreatedAsLeaf(t *testing.T) {
	old := map[string]interface{}{"tags": []interface{}{"a"}}
	next := map[string]interface{}{"tags": []interface{}{"a", "b"}}
	d := Diff(old, next)
	assertContains(t, d.Updated, "tags")

	emptyToNonEmpty := Diff(
		map[string]interface{}{"tags": []interface{}{}},
		map[string]interface{}{"tags": []interface{}{"a"}},
	)
	assertContains(t, emptyToNonEmpty.Added, "tags")

	nonEmptyToEmpty := Diff(
		map[string]interface{}{"tags": []interface{}{"a"}},
		map[string]interface{}{"tags": []interface{}{}},
	)
	assertContains(t, nonEmptyToEmpty.Removed, "tags")
}

func assertContains(t *testing.T, haystack []string, needle string) {
	t.Helper()
	for _, s := range haystack {
		if s == needle {
			return
		}
	}
	t.Errorf("expected %v to contain %q", haystack, needle)
}
