// Package container provides an abstraction over container runtime
// operations. The rest of gantry depends only on the Runtime interface,
// never on a concrete implementation, so tests substitute fakes.
package container

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrContainerGone indicates the referenced container no longer exists.
// Every Runtime method maps its runtime's not-found condition to this
// error: containers here auto-remove on exit, so callers routinely race
// against removal and must treat absence as a normal observation.
var ErrContainerGone = errors.New("container no longer exists")

// Runtime is the interface for container runtime operations.
type Runtime interface {
	// Ping verifies the runtime daemon is accessible.
	Ping(ctx context.Context) error

	// PullImage ensures the image is present locally, pulling if needed.
	PullImage(ctx context.Context, ref string) error

	// CreateContainer creates a new container without starting it.
	// Returns the container ID.
	CreateContainer(ctx context.Context, cfg Config) (string, error)

	// StartContainer starts an existing container.
	StartContainer(ctx context.Context, id string) error

	// ContainerState returns the state of a container ("running",
	// "exited", "created", ...). Returns ErrContainerGone if it is gone.
	ContainerState(ctx context.Context, id string) (string, error)

	// InspectExit returns the container's exit status. Valid once the
	// container has stopped; Running is true otherwise.
	InspectExit(ctx context.Context, id string) (ExitStatus, error)

	// Exec runs a command inside the container and captures its exit
	// code and combined output. A non-zero exit code is data, not an
	// error: the error return covers transport failures only.
	Exec(ctx context.Context, id string, cfg ExecConfig) (int, []byte, error)

	// ExecInteractive runs a command with the caller's streams attached
	// and returns its exit code once the session ends. Blocks until the
	// exec ends or the context is canceled; meant to be driven
	// out-of-band by a terminal collaborator, not by the runner.
	ExecInteractive(ctx context.Context, id string, cfg ExecConfig, opts AttachOptions) (int, error)

	// StreamLogs returns a reader following the container's output.
	StreamLogs(ctx context.Context, id string) (io.ReadCloser, error)

	// WaitContainer blocks until the container exits and returns the
	// exit code. Returns ErrContainerGone if the container vanished
	// before a wait could observe it.
	WaitContainer(ctx context.Context, id string) (int64, error)

	// StopContainer stops a running container. Gone containers are not
	// an error.
	StopContainer(ctx context.Context, id string) error

	// RemoveContainer removes a container. Gone containers are not an
	// error.
	RemoveContainer(ctx context.Context, id string) error

	// Close releases runtime resources.
	Close() error
}

// ExitStatus holds a container's observed exit state.
type ExitStatus struct {
	Running  bool
	ExitCode int
	// OOMKilled is set when the runtime reports the process was killed
	// by the kernel OOM killer.
	OOMKilled bool
}

// Config holds configuration for creating a container.
type Config struct {
	Name       string
	Image      string
	Cmd        []string
	WorkingDir string
	Env        []string
	Mounts     []MountConfig

	// AutoRemove asks the runtime to delete the container as soon as it
	// exits. The completion marker protocol exists because of this: the
	// stopped container cannot be inspected after the fact.
	AutoRemove bool

	// Interactive opens stdin and allocates a TTY when the caller's
	// stdin is a terminal.
	Interactive bool

	// PortBindings maps container ports to host bind addresses
	// (e.g. 3000 -> "127.0.0.1"). Host ports are assigned by the runtime.
	PortBindings map[int]string
}

// ExecConfig describes a command executed inside a running container.
type ExecConfig struct {
	Cmd        []string
	WorkingDir string
	Env        []string
	TTY        bool
	User       string

	// StdinPayload, if non-empty, is written to the command's stdin and
	// the write side is closed. Used for agents that take their prompt
	// on standard input.
	StdinPayload []byte
}

// AttachOptions configures stream attachment for interactive execs.
type AttachOptions struct {
	Stdin  io.Reader // If non-nil, forward input to the exec
	Stdout io.Writer // If non-nil, receive stdout
	Stderr io.Writer // If non-nil, receive stderr (may be same as Stdout)
}

// MountConfig describes a bind mount.
type MountConfig struct {
	Source   string
	Target   string
	ReadOnly bool
}

// Info contains information about a container.
type Info struct {
	ID      string
	Name    string
	Image   string
	Status  string // "running", "exited", "created"
	Created time.Time
}
