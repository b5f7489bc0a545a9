// Package plan turns a run request into a concrete, immutable execution
// plan. Planning is pure: no subprocess execution, no filesystem access,
// only composition of values already present in the request. Identical
// requests always produce identical plans.
package plan

import (
	"github.com/gantryhq/gantry/internal/config"
	"github.com/gantryhq/gantry/internal/container"
)

// Timeouts bounds the phases of a run, in seconds.
type Timeouts struct {
	PullSeconds  int
	ReadySeconds int
	RunSeconds   int
}

// Default phase timeouts, applied when a request leaves them zero.
const (
	DefaultPullSeconds  = 300
	DefaultReadySeconds = 60
)

// RunRequest is the immutable input for one run attempt.
type RunRequest struct {
	// TaskID is the opaque stable identifier for this attempt. It seeds
	// the container name and staging layout, keeping planning
	// deterministic.
	TaskID string

	// SystemName selects the agent system (e.g. "claude").
	SystemName string

	Interactive bool
	Prompt      string

	// Environment holds the resolved environment settings. The planner
	// treats it as read-only input; any host-state resolution (such as
	// forwarding GitHub context into Env) happens before planning.
	Environment *config.Environment

	// WorkspaceDir is the host directory mounted at /workspace.
	WorkspaceDir string

	// ConfigDir is the host directory holding the agent's own config.
	ConfigDir string

	// StagingDir is the host directory mounted at the staging target,
	// where the container writes artifacts and the completion marker.
	StagingDir string

	// CacheDir is the host directory backing the shared dependency cache.
	// Only mounted when the environment enables caching; empty means the
	// caller did not provision one.
	CacheDir string

	// ExtraArgs are passed through to the agent CLI.
	ExtraArgs []string

	Timeouts Timeouts
}

// DockerSpec describes the container to create and start.
type DockerSpec struct {
	Image         string
	ContainerName string
	WorkingDir    string
	Mounts        []container.MountConfig
	Env           []string

	// KeepAlive is the container's entry argv. It installs the
	// completion marker trap and holds the container open so the agent
	// command can be exec'd into it.
	KeepAlive []string

	// Ports maps container ports to host bind addresses.
	Ports map[int]string
}

// ExecSpec describes the agent command exec'd into the running container.
type ExecSpec struct {
	Args         []string
	WorkingDir   string
	Env          []string
	TTY          bool
	StdinPayload []byte
}

// ArtifactSpec describes where run outputs are staged on the host.
type ArtifactSpec struct {
	// StagingDir is the host path collected after the run.
	StagingDir string

	// OutputCapture, when non-empty, names a single staging-relative
	// file that holds the agent's primary output.
	OutputCapture string
}

// RunPlan is the planner's immutable output.
type RunPlan struct {
	Interactive bool
	Docker      DockerSpec
	Exec        ExecSpec
	Artifacts   ArtifactSpec
	Timeouts    Timeouts
}
