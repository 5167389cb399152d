// Package runtime defines the agent-side contract a concrete container
// engine must satisfy so the agent's workload state machine can drive it
// without knowing which engine is underneath.
package runtime

import (
	"context"
	"io"

	"github.com/ankaios/ankaios/internal/wire"
)

// Status reports a workload instance's runtime-observed condition.
type Status struct {
	Running  bool
	ExitCode int
	// Exists is false once the runtime has no record of the instance at
	// all (never created, or already reaped).
	Exists bool
}

// Adapter is the contract the agent drives every configured runtime
// through. Runtime is named by Workload.Runtime ("podman", "podman-kube",
// "containerd", ...); this project ships one concrete adapter (Docker,
// standing in for the pack's container engines) plus an in-memory Fake used
// by tests and by the agent binary when docker.enabled is false.
type Adapter interface {
	// Start creates and starts the workload instance described by name and
	// the rendered runtimeConfig. Start must be idempotent: calling it
	// again for an instance that already exists and is running returns nil
	// without creating a second instance.
	Start(ctx context.Context, name wire.WorkloadInstanceName, runtimeConfig string) error

	// Stop requests the workload instance to terminate. Stop on an
	// instance that does not exist returns nil.
	Stop(ctx context.Context, name wire.WorkloadInstanceName) error

	// Status reports the current runtime-observed condition of an
	// instance.
	Status(ctx context.Context, name wire.WorkloadInstanceName) (Status, error)
}

// LogsCapable is implemented by adapters that can stream an instance's
// output. Not every adapter needs to support it (the contract described in
// this project's scope is satisfied by Start/Stop/Status alone); the agent
// checks for this interface before offering log streaming over the Control
// Interface.
type LogsCapable interface {
	Logs(ctx context.Context, name wire.WorkloadInstanceName, follow bool) (io.ReadCloser, error)
}
