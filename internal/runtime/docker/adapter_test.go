package docker

import (
	"testing"

	"github.com/ankaios/ankaios/internal/wire"
)

func TestContainerNameReplacesDotsAndAvoidsLeadingDot(t *testing.T) {
	name := wire.WorkloadInstanceName{WorkloadName: "nginx", AgentName: "agent_A", ID: "abc123"}
	got := containerName(name)
	if got[0] == '.' {
		t.Fatalf("container name must not start with a dot: %q", got)
	}
	want := "ank_nginx_abc123_agent_A"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
