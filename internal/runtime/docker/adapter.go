// Package docker adapts the Docker Engine API to runtime.Adapter, standing
// in for the concrete container runtimes (podman, podman-kube, containerd)
// this project's orchestration core treats as pluggable collaborators
// behind the agent's adapter contract.
package docker

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"go.uber.org/zap"

	"github.com/ankaios/ankaios/internal/common/config"
	"github.com/ankaios/ankaios/internal/common/logger"
	"github.com/ankaios/ankaios/internal/runtime"
	"github.com/ankaios/ankaios/internal/wire"
)

// Adapter wraps the Docker SDK client to implement runtime.Adapter and
// runtime.LogsCapable.
type Adapter struct {
	cli    *client.Client
	logger *logger.Logger
}

var _ runtime.Adapter = (*Adapter)(nil)
var _ runtime.LogsCapable = (*Adapter)(nil)

// New builds a Docker-backed runtime adapter from the agent's docker config
// section.
func New(cfg config.DockerConfig, log *logger.Logger) (*Adapter, error) {
	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}
	if cfg.APIVersion != "" {
		opts = append(opts, client.WithVersion(cfg.APIVersion))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("docker adapter: %w", err)
	}

	log.Info("docker adapter ready", zap.String("host", cfg.Host))
	return &Adapter{cli: cli, logger: log}, nil
}

// Close releases the underlying Docker client's connection.
func (a *Adapter) Close() error {
	return a.cli.Close()
}

// containerName maps a workload instance name to a valid Docker container
// name: Docker forbids leading dots, so the instance name's dot-joined form
// is prefixed.
func containerName(name wire.WorkloadInstanceName) string {
	return "ank_" + strings.ReplaceAll(name.String(), ".", "_")
}

// Start pulls the image named by runtimeConfig, then creates and starts the
// container if it does not already exist. runtimeConfig here is treated as
// a bare image reference; a production adapter contract would parse a
// richer manifest (ports, mounts, resources) out of it, which this
// project's scope leaves to the concrete runtime.
func (a *Adapter) Start(ctx context.Context, name wire.WorkloadInstanceName, runtimeConfig string) error {
	cname := containerName(name)
	log := a.logger.WithWorkload(name.WorkloadName, name.AgentName, name.ID)

	existing, err := a.cli.ContainerInspect(ctx, cname)
	if err == nil {
		if existing.State != nil && existing.State.Running {
			return nil
		}
		if startErr := a.cli.ContainerStart(ctx, cname, container.StartOptions{}); startErr != nil {
			return fmt.Errorf("docker adapter: restart %s: %w", cname, startErr)
		}
		return nil
	}
	if !errdefs.IsNotFound(err) {
		return fmt.Errorf("docker adapter: inspect %s: %w", cname, err)
	}

	log.Info("pulling image", zap.String("image", runtimeConfig))
	reader, err := a.cli.ImagePull(ctx, runtimeConfig, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("docker adapter: pull %s: %w", runtimeConfig, err)
	}
	_, _ = io.Copy(io.Discard, reader)
	_ = reader.Close()

	resp, err := a.cli.ContainerCreate(ctx,
		&container.Config{Image: runtimeConfig, Labels: map[string]string{"ankaios.instance": name.String()}},
		&container.HostConfig{AutoRemove: false},
		nil, nil, cname)
	if err != nil {
		return fmt.Errorf("docker adapter: create %s: %w", cname, err)
	}

	if err := a.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("docker adapter: start %s: %w", cname, err)
	}
	log.Info("container started", zap.String("container_id", resp.ID))
	return nil
}

// Stop stops and removes the instance's container. A missing container is
// not an error: Stop on an already-gone instance is the normal case after a
// delete completes.
func (a *Adapter) Stop(ctx context.Context, name wire.WorkloadInstanceName) error {
	cname := containerName(name)
	if err := a.cli.ContainerStop(ctx, cname, container.StopOptions{}); err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("docker adapter: stop %s: %w", cname, err)
	}
	if err := a.cli.ContainerRemove(ctx, cname, container.RemoveOptions{RemoveVolumes: true}); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("docker adapter: remove %s: %w", cname, err)
	}
	return nil
}

// Status inspects the container backing name.
func (a *Adapter) Status(ctx context.Context, name wire.WorkloadInstanceName) (runtime.Status, error) {
	inspect, err := a.cli.ContainerInspect(ctx, containerName(name))
	if err != nil {
		if errdefs.IsNotFound(err) {
			return runtime.Status{Exists: false}, nil
		}
		return runtime.Status{}, fmt.Errorf("docker adapter: inspect %s: %w", containerName(name), err)
	}
	st := runtime.Status{Exists: true}
	if inspect.State != nil {
		st.Running = inspect.State.Running
		st.ExitCode = inspect.State.ExitCode
	}
	return st, nil
}

// Logs streams the container's combined stdout/stderr.
func (a *Adapter) Logs(ctx context.Context, name wire.WorkloadInstanceName, follow bool) (io.ReadCloser, error) {
	return a.cli.ContainerLogs(ctx, containerName(name), container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     follow,
	})
}
