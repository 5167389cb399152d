// Package fake implements an in-memory runtime.Adapter for tests and for
// standalone demos, in place of a real container engine. It follows the
// scripted, deterministic-timing spirit of the teacher's cmd/mock-agent
// (fixed delays, named injectable failures) rather than driving an actual
// runtime.
package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/ankaios/ankaios/internal/runtime"
	"github.com/ankaios/ankaios/internal/wire"
)

type instance struct {
	running       bool
	exitCode      int
	runtimeConfig string
}

// Adapter is a goroutine-safe in-memory stand-in for a container runtime.
// FailNextStart lets tests script a Start failure for a given instance key
// on its next call, then clears it, mimicking a transient runtime error.
type Adapter struct {
	mu            sync.Mutex
	instances     map[string]*instance
	startFailures map[string]error
}

var _ runtime.Adapter = (*Adapter)(nil)

// New returns an empty Adapter.
func New() *Adapter {
	return &Adapter{
		instances:     make(map[string]*instance),
		startFailures: make(map[string]error),
	}
}

// FailNextStart arranges for the next Start call against name to return err.
func (a *Adapter) FailNextStart(name wire.WorkloadInstanceName, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.startFailures[name.String()] = err
}

// SetExitCode records the exit code Status should report for a succeeded or
// failed instance, used by tests driving the agent's restart-retry logic.
func (a *Adapter) SetExitCode(name wire.WorkloadInstanceName, code int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if inst, ok := a.instances[name.String()]; ok {
		inst.exitCode = code
	}
}

func (a *Adapter) Start(ctx context.Context, name wire.WorkloadInstanceName, runtimeConfig string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := name.String()
	if err, ok := a.startFailures[key]; ok {
		delete(a.startFailures, key)
		return fmt.Errorf("fake runtime: scripted start failure for %s: %w", key, err)
	}

	inst, ok := a.instances[key]
	if !ok {
		inst = &instance{}
		a.instances[key] = inst
	}
	inst.running = true
	inst.runtimeConfig = runtimeConfig
	return nil
}

func (a *Adapter) Stop(ctx context.Context, name wire.WorkloadInstanceName) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	inst, ok := a.instances[name.String()]
	if !ok {
		return nil
	}
	inst.running = false
	delete(a.instances, name.String())
	return nil
}

func (a *Adapter) Status(ctx context.Context, name wire.WorkloadInstanceName) (runtime.Status, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	inst, ok := a.instances[name.String()]
	if !ok {
		return runtime.Status{Exists: false}, nil
	}
	return runtime.Status{Exists: true, Running: inst.running, ExitCode: inst.exitCode}, nil
}
