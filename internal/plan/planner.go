package plan

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/gantryhq/gantry/internal/agent"
	"github.com/gantryhq/gantry/internal/config"
	"github.com/gantryhq/gantry/internal/container"
	"github.com/gantryhq/gantry/internal/marker"
	"github.com/gantryhq/gantry/internal/storage"
)

// ErrUnknownAgentSystem is returned when the requested system name has no
// registered plugin.
var ErrUnknownAgentSystem = errors.New("unknown agent system")

// GuardrailPrefix is prepended to every interactive prompt, here and only
// here, so all callers compose identical text. The agent should hold off
// on changes until the user takes over the attached session.
const GuardrailPrefix = "Do not take action, just review the task below and wait for instructions in the interactive session.\n\n"

// WorkspaceTarget is where the workspace is mounted inside the container.
const WorkspaceTarget = "/workspace"

// CacheTarget is where the shared dependency cache is mounted when the
// environment enables caching.
const CacheTarget = "/cache"

// DesktopPort is the container port published for environments that run
// a browser-accessible desktop.
const DesktopPort = 6080

// Planner composes run plans from requests. The only state is the agent
// registry used for system resolution.
type Planner struct {
	registry *agent.Registry
}

// NewPlanner creates a planner backed by the given agent registry.
func NewPlanner(reg *agent.Registry) *Planner {
	return &Planner{registry: reg}
}

// Plan composes a RunPlan from a request. Pure and deterministic.
func (p *Planner) Plan(req RunRequest) (RunPlan, error) {
	sys, ok := p.registry.Lookup(req.SystemName)
	if !ok {
		return RunPlan{}, fmt.Errorf("%w: %q", ErrUnknownAgentSystem, req.SystemName)
	}
	if req.Interactive && !sys.SupportsInteractive() {
		return RunPlan{}, &agent.ErrInteractiveUnsupported{SystemName: req.SystemName}
	}
	if req.Environment == nil {
		return RunPlan{}, errors.New("run request has no environment")
	}

	prompt := ComposePrompt(req.Prompt, req.Interactive)

	execPlan, err := sys.ExecPlan(agent.Request{
		Prompt:      prompt,
		Interactive: req.Interactive,
		ConfigDir:   req.ConfigDir,
		ExtraArgs:   req.ExtraArgs,
	})
	if err != nil {
		return RunPlan{}, err
	}

	mounts := composeMounts(req, execPlan.ConfigMounts)
	env := composeEnv(req.Environment.Env)
	containerName := ContainerName(req.TaskID)

	timeouts := req.Timeouts
	if timeouts.PullSeconds == 0 {
		timeouts.PullSeconds = DefaultPullSeconds
	}
	if timeouts.ReadySeconds == 0 {
		timeouts.ReadySeconds = DefaultReadySeconds
	}

	var ports map[int]string
	if len(req.Environment.Ports) > 0 || req.Environment.Desktop {
		ports = make(map[int]string, len(req.Environment.Ports)+1)
		for _, containerPort := range req.Environment.Ports {
			ports[containerPort] = "127.0.0.1"
		}
		if req.Environment.Desktop {
			ports[DesktopPort] = "127.0.0.1"
		}
	}

	return RunPlan{
		Interactive: req.Interactive,
		Docker: DockerSpec{
			Image:         req.Environment.Image,
			ContainerName: containerName,
			WorkingDir:    WorkspaceTarget,
			Mounts:        mounts,
			Env:           env,
			KeepAlive: []string{"/bin/sh", "-c", marker.TrapScript(
				req.TaskID, containerName, storage.StagingTarget, req.Environment.Preflight)},
			Ports: ports,
		},
		Exec: ExecSpec{
			Args:         execPlan.Args,
			WorkingDir:   WorkspaceTarget,
			Env:          env,
			TTY:          req.Interactive,
			StdinPayload: execPlan.StdinPayload,
		},
		Artifacts: ArtifactSpec{
			StagingDir: req.StagingDir,
		},
		Timeouts: timeouts,
	}, nil
}

// ComposePrompt returns the final prompt text. Interactive prompts get
// the fixed guardrail prefix; non-interactive prompts pass through
// unchanged.
func ComposePrompt(prompt string, interactive bool) string {
	if interactive {
		return GuardrailPrefix + prompt
	}
	return prompt
}

// ContainerName derives a stable container name from a task ID.
func ContainerName(taskID string) string {
	return "gantry-" + strings.ReplaceAll(taskID, "_", "-")
}

// composeMounts builds the ordered mount list: workspace, then the agent
// system's config mounts, then environment extra mounts, then the cache
// mount when enabled, then the staging mount. Exact duplicates (same
// source and target) are dropped, first occurrence wins.
func composeMounts(req RunRequest, configMounts []config.Mount) []container.MountConfig {
	var out []container.MountConfig
	seen := make(map[string]bool)

	add := func(m container.MountConfig) {
		key := m.Source + "\x00" + m.Target
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, m)
	}

	add(container.MountConfig{Source: req.WorkspaceDir, Target: WorkspaceTarget})

	for _, m := range configMounts {
		add(container.MountConfig{Source: m.Source, Target: m.Target, ReadOnly: m.ReadOnly})
	}

	for _, s := range req.Environment.Mounts {
		// Mount syntax was validated when the environment was loaded;
		// a malformed entry here means the environment was built by
		// hand, and is skipped rather than failing the whole plan.
		m, err := config.ParseMount(s)
		if err != nil {
			continue
		}
		add(container.MountConfig{Source: m.Source, Target: m.Target, ReadOnly: m.ReadOnly})
	}

	if req.Environment.Cache && req.CacheDir != "" {
		add(container.MountConfig{Source: req.CacheDir, Target: CacheTarget})
	}

	add(container.MountConfig{Source: req.StagingDir, Target: storage.StagingTarget})

	return out
}

// composeEnv renders an env map as a sorted KEY=VAL slice so identical
// requests produce byte-identical plans.
func composeEnv(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
