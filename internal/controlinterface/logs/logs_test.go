package logs

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/ankaios/ankaios/internal/wire"
)

type fakeLogsAdapter struct {
	rc io.ReadCloser
}

func (f *fakeLogsAdapter) Logs(ctx context.Context, name wire.WorkloadInstanceName, follow bool) (io.ReadCloser, error) {
	return f.rc, nil
}

func TestStreamDeliversLinesThenCloses(t *testing.T) {
	adapter := &fakeLogsAdapter{rc: io.NopCloser(strings.NewReader("one\ntwo\nthree\n"))}
	name := wire.WorkloadInstanceName{WorkloadName: "nginx", AgentName: "agent_A", ID: "abc"}

	ch, err := Stream(context.Background(), adapter, name, false)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	var got []string
	for line := range ch {
		if line.WorkloadName != "nginx" {
			t.Errorf("unexpected workload name %q", line.WorkloadName)
		}
		got = append(got, line.Text)
	}
	want := []string{"one", "two", "three"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestStreamStopsOnContextCancel(t *testing.T) {
	pr, pw := io.Pipe()
	adapter := &fakeLogsAdapter{rc: pr}
	name := wire.WorkloadInstanceName{WorkloadName: "nginx", AgentName: "agent_A", ID: "abc"}

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := Stream(ctx, adapter, name, true)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	go pw.Write([]byte("line1\n"))
	select {
	case line := <-ch:
		if line.Text != "line1" {
			t.Fatalf("got %q, want line1", line.Text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for first line")
	}

	cancel()
	pw.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected channel closed after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for channel to close")
	}
}
