// Package logs streams workload log lines from a runtime.LogsCapable
// adapter to the Control Interface, cancellable by context the way the
// teacher's WebSocket streaming handlers tear down on connection close.
package logs

import (
	"bufio"
	"context"
	"fmt"

	"github.com/ankaios/ankaios/internal/runtime"
	"github.com/ankaios/ankaios/internal/wire"
)

// Line is one log line read from a single workload instance.
type Line struct {
	WorkloadName string
	Text         string
}

// Stream reads name's log output from adapter and delivers it line by line
// on the returned channel. The channel is closed when the underlying reader
// reaches EOF (follow=false) or ctx is cancelled; callers must drain it to
// avoid leaking the reader goroutine.
func Stream(ctx context.Context, adapter runtime.LogsCapable, name wire.WorkloadInstanceName, follow bool) (<-chan Line, error) {
	rc, err := adapter.Logs(ctx, name, follow)
	if err != nil {
		return nil, fmt.Errorf("logs: open stream for %s: %w", name.WorkloadName, err)
	}

	out := make(chan Line)
	go func() {
		defer close(out)
		defer rc.Close()

		scanner := bufio.NewScanner(rc)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case out <- Line{WorkloadName: name.WorkloadName, Text: scanner.Text()}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
