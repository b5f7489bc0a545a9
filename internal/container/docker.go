package container

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"golang.org/x/term"

	"github.com/gantryhq/gantry/internal/log"
)

// DockerRuntime implements Runtime using the Docker engine API.
type DockerRuntime struct {
	cli *client.Client
}

// NewDockerRuntime creates a Docker-backed runtime from the environment
// (DOCKER_HOST et al), negotiating the API version with the daemon.
func NewDockerRuntime() (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	return &DockerRuntime{cli: cli}, nil
}

// Ping verifies the Docker daemon is accessible.
func (r *DockerRuntime) Ping(ctx context.Context) error {
	if _, err := r.cli.Ping(ctx); err != nil {
		return fmt.Errorf("docker daemon not accessible: %w", err)
	}
	return nil
}

// PullImage pulls an image if it doesn't exist locally.
func (r *DockerRuntime) PullImage(ctx context.Context, ref string) error {
	images, err := r.cli.ImageList(ctx, image.ListOptions{
		Filters: filters.NewArgs(filters.Arg("reference", ref)),
	})
	if err != nil {
		return fmt.Errorf("listing images: %w", err)
	}
	if len(images) > 0 {
		return nil
	}

	log.Info("pulling image", "ref", ref)
	reader, err := r.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pulling image %s: %w", ref, err)
	}
	defer reader.Close()

	// Drain the reader to complete the pull (discard JSON progress output)
	_, _ = io.Copy(io.Discard, reader)
	return nil
}

// CreateContainer creates a new Docker container.
func (r *DockerRuntime) CreateContainer(ctx context.Context, cfg Config) (string, error) {
	mounts := make([]mount.Mount, len(cfg.Mounts))
	for i, m := range cfg.Mounts {
		mounts[i] = mount.Mount{
			Type:     mount.TypeBind,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		}
	}

	// Build port bindings; Docker assigns the host ports.
	var exposedPorts nat.PortSet
	var portBindings nat.PortMap
	if len(cfg.PortBindings) > 0 {
		exposedPorts = make(nat.PortSet)
		portBindings = make(nat.PortMap)
		for containerPort, hostIP := range cfg.PortBindings {
			port := nat.Port(fmt.Sprintf("%d/tcp", containerPort))
			exposedPorts[port] = struct{}{}
			portBindings[port] = []nat.PortBinding{{
				HostIP:   hostIP,
				HostPort: "",
			}}
		}
	}

	// Only use TTY mode if os.Stdin is a real terminal. Docker returns
	// "the input device is not a TTY" when you try to use TTY mode with
	// non-TTY stdin (e.g., piped input, tests).
	useTTY := cfg.Interactive && term.IsTerminal(int(os.Stdin.Fd()))

	resp, err := r.cli.ContainerCreate(ctx,
		&container.Config{
			Image:        cfg.Image,
			Cmd:          cfg.Cmd,
			WorkingDir:   cfg.WorkingDir,
			Env:          cfg.Env,
			Tty:          useTTY,
			OpenStdin:    cfg.Interactive,
			ExposedPorts: exposedPorts,
		},
		&container.HostConfig{
			Mounts:       mounts,
			AutoRemove:   cfg.AutoRemove,
			PortBindings: portBindings,
		},
		nil, // network config
		nil, // platform
		cfg.Name,
	)
	if err != nil {
		return "", fmt.Errorf("creating container: %w", err)
	}

	return resp.ID, nil
}

// StartContainer starts an existing container.
func (r *DockerRuntime) StartContainer(ctx context.Context, id string) error {
	if err := r.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		if errdefs.IsNotFound(err) {
			return ErrContainerGone
		}
		return fmt.Errorf("starting container: %w", err)
	}
	return nil
}

// ContainerState returns the state of a container.
func (r *DockerRuntime) ContainerState(ctx context.Context, id string) (string, error) {
	inspect, err := r.cli.ContainerInspect(ctx, id)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return "", ErrContainerGone
		}
		return "", fmt.Errorf("inspecting container: %w", err)
	}
	return inspect.State.Status, nil
}

// InspectExit returns the container's exit status.
func (r *DockerRuntime) InspectExit(ctx context.Context, id string) (ExitStatus, error) {
	inspect, err := r.cli.ContainerInspect(ctx, id)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return ExitStatus{}, ErrContainerGone
		}
		return ExitStatus{}, fmt.Errorf("inspecting container: %w", err)
	}
	return ExitStatus{
		Running:   inspect.State.Running,
		ExitCode:  inspect.State.ExitCode,
		OOMKilled: inspect.State.OOMKilled,
	}, nil
}

// Exec runs a command inside the container and captures exit code and
// combined output. Modeled after docker exec: create, attach, drain,
// inspect.
func (r *DockerRuntime) Exec(ctx context.Context, id string, cfg ExecConfig) (int, []byte, error) {
	execID, err := r.cli.ContainerExecCreate(ctx, id, container.ExecOptions{
		Cmd:          cfg.Cmd,
		WorkingDir:   cfg.WorkingDir,
		Env:          cfg.Env,
		User:         cfg.User,
		AttachStdin:  len(cfg.StdinPayload) > 0,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return 0, nil, ErrContainerGone
		}
		return 0, nil, fmt.Errorf("creating exec: %w", err)
	}

	resp, err := r.cli.ContainerExecAttach(ctx, execID.ID, container.ExecAttachOptions{})
	if err != nil {
		return 0, nil, fmt.Errorf("attaching to exec: %w", err)
	}
	defer resp.Close()

	if len(cfg.StdinPayload) > 0 {
		if _, err := resp.Conn.Write(cfg.StdinPayload); err != nil {
			return 0, nil, fmt.Errorf("writing exec stdin: %w", err)
		}
		if closeWriter, ok := resp.Conn.(interface{ CloseWrite() error }); ok {
			_ = closeWriter.CloseWrite()
		}
	}

	// Non-TTY exec output is multiplexed; demux into one buffer.
	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, resp.Reader); err != nil {
		return 0, nil, fmt.Errorf("reading exec output: %w", err)
	}
	combined := append(stdout.Bytes(), stderr.Bytes()...)

	inspect, err := r.cli.ContainerExecInspect(ctx, execID.ID)
	if err != nil {
		return 0, combined, fmt.Errorf("inspecting exec: %w", err)
	}

	return inspect.ExitCode, combined, nil
}

// ExecInteractive runs a command with the caller's streams attached and
// reports the command's exit code once the streams drain.
func (r *DockerRuntime) ExecInteractive(ctx context.Context, id string, cfg ExecConfig, opts AttachOptions) (int, error) {
	execID, err := r.cli.ContainerExecCreate(ctx, id, container.ExecOptions{
		Cmd:          cfg.Cmd,
		WorkingDir:   cfg.WorkingDir,
		Env:          cfg.Env,
		User:         cfg.User,
		Tty:          cfg.TTY,
		AttachStdin:  opts.Stdin != nil,
		AttachStdout: opts.Stdout != nil,
		AttachStderr: opts.Stderr != nil,
	})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return 0, ErrContainerGone
		}
		return 0, fmt.Errorf("creating exec: %w", err)
	}

	resp, err := r.cli.ContainerExecAttach(ctx, execID.ID, container.ExecAttachOptions{Tty: cfg.TTY})
	if err != nil {
		return 0, fmt.Errorf("attaching to exec: %w", err)
	}
	defer resp.Close()

	outputDone := make(chan error, 1)
	stdinDone := make(chan error, 1)

	go func() {
		var copyErr error
		if cfg.TTY {
			// TTY mode: single raw stream
			_, copyErr = io.Copy(opts.Stdout, resp.Reader)
		} else {
			_, copyErr = stdcopy.StdCopy(opts.Stdout, opts.Stderr, resp.Reader)
		}
		outputDone <- copyErr
	}()

	if opts.Stdin != nil {
		go func() {
			_, copyErr := io.Copy(resp.Conn, opts.Stdin)
			// Close write side when stdin ends
			if closeWriter, ok := resp.Conn.(interface{ CloseWrite() error }); ok {
				if closeErr := closeWriter.CloseWrite(); closeErr != nil && copyErr == nil {
					copyErr = closeErr
				}
			}
			stdinDone <- copyErr
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case err := <-stdinDone:
			if err != nil && err != io.EOF {
				return 0, err
			}
			// Normal stdin EOF: keep waiting for output to finish
		case err := <-outputDone:
			if err != nil && err != io.EOF {
				return 0, err
			}
			// Streams drained: the exec has ended and its exit code is
			// available for inspection.
			inspect, inspectErr := r.cli.ContainerExecInspect(ctx, execID.ID)
			if inspectErr != nil {
				return 0, fmt.Errorf("inspecting exec: %w", inspectErr)
			}
			return inspect.ExitCode, nil
		}
	}
}

// StreamLogs returns a reader following the container's output.
func (r *DockerRuntime) StreamLogs(ctx context.Context, id string) (io.ReadCloser, error) {
	reader, err := r.cli.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, ErrContainerGone
		}
		return nil, fmt.Errorf("streaming logs: %w", err)
	}
	return reader, nil
}

// WaitContainer blocks until the container exits.
func (r *DockerRuntime) WaitContainer(ctx context.Context, id string) (int64, error) {
	statusCh, errCh := r.cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if errdefs.IsNotFound(err) {
			return -1, ErrContainerGone
		}
		return -1, fmt.Errorf("waiting for container: %w", err)
	case status := <-statusCh:
		return status.StatusCode, nil
	}
}

// StopContainer stops a running container.
func (r *DockerRuntime) StopContainer(ctx context.Context, id string) error {
	if err := r.cli.ContainerStop(ctx, id, container.StopOptions{}); err != nil {
		// Auto-removed containers disappear between inspect and stop.
		if errdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("stopping container: %w", err)
	}
	return nil
}

// RemoveContainer removes a container.
func (r *DockerRuntime) RemoveContainer(ctx context.Context, id string) error {
	if err := r.cli.ContainerRemove(ctx, id, container.RemoveOptions{
		Force: true,
	}); err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("removing container: %w", err)
	}
	return nil
}

// Close releases Docker client resources.
func (r *DockerRuntime) Close() error {
	return r.cli.Close()
}
