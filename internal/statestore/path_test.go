package statestore

import (
	"sort"
	"testing"
)

func TestSplitJoinPath(t *testing.T) {
	segs := SplitPath("desiredState.workloads.nginx")
	if len(segs) != 3 || segs[0] != "desiredState" || segs[2] != "nginx" {
		t.Fatalf("unexpected segments: %v", segs)
	}
	if JoinPath(segs) != "desiredState.workloads.nginx" {
		t.Fatalf("JoinPath did not round trip: %v", JoinPath(segs))
	}
	if len(SplitPath("")) != 0 {
		t.Fatalf("expected empty path to split to zero segments")
	}
}

func TestGetSetRoundTrip(t *testing.T) {
	root := map[string]interface{}{}
	if err := Set(root, SplitPath("desiredState.workloads.nginx.agent"), "agent_A"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	v, err := Get(root, SplitPath("desiredState.workloads.nginx.agent"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if v != "agent_A" {
		t.Errorf("got %v, want agent_A", v)
	}
}

func TestGetMissingPathNotFound(t *testing.T) {
	root := map[string]interface{}{"a": map[string]interface{}{}}
	_, err := Get(root, SplitPath("a.b.c"))
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestSetThroughScalarIsTypeMismatch(t *testing.T) {
	root := map[string]interface{}{"a": "scalar"}
	err := Set(root, SplitPath("a.b"), 1)
	if err == nil {
		t.Fatal("expected ErrTypeMismatch")
	}
}

func TestSetRemoveRejectWildcard(t *testing.T) {
	root := map[string]interface{}{}
	if err := Set(root, SplitPath("a.*.b"), 1); err != ErrWildcardInSetRemove {
		t.Errorf("Set: got %v, want ErrWildcardInSetRemove", err)
	}
	if err := Remove(root, SplitPath("a.*.b")); err != ErrWildcardInSetRemove {
		t.Errorf("Remove: got %v, want ErrWildcardInSetRemove", err)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	root := map[string]interface{}{}
	if err := Set(root, SplitPath("a.b"), 1); err != nil {
		t.Fatal(err)
	}
	if err := Remove(root, SplitPath("a.b")); err != nil {
		t.Fatal(err)
	}
	if err := Remove(root, SplitPath("a.b")); err != nil {
		t.Fatalf("second remove should be a no-op, got %v", err)
	}
	if err := Remove(root, SplitPath("x.y.z")); err != nil {
		t.Fatalf("remove of never-set path should be a no-op, got %v", err)
	}
}

func TestExpandWildcards(t *testing.T) {
	root := map[string]interface{}{
		"workloads": map[string]interface{}{
			"nginx": map[string]interface{}{"agent": "agent_A"},
			"redis": map[string]interface{}{"agent": "agent_B"},
		},
	}
	got := ExpandWildcards(root, SplitPath("workloads.*.agent"))
	var joined []string
	for _, g := range got {
		joined = append(joined, JoinPath(g))
	}
	sort.Strings(joined)
	want := []string{"workloads.nginx.agent", "workloads.redis.agent"}
	if len(joined) != len(want) || joined[0] != want[0] || joined[1] != want[1] {
		t.Errorf("got %v, want %v", joined, want)
	}
}

func TestExpandWildcardsSkipsNonMatchingBranches(t *testing.T) {
	root := map[string]interface{}{
		"workloads": map[string]interface{}{
			"nginx": "not-an-object",
		},
	}
	got := ExpandWildcards(root, SplitPath("workloads.*.agent"))
	if len(got) != 0 {
		t.Errorf("expected no matches, got %v", got)
	}
}
