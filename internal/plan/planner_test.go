package plan

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gantryhq/gantry/internal/agent"
	"github.com/gantryhq/gantry/internal/config"
	"github.com/gantryhq/gantry/internal/storage"
)

func testPlanner(t *testing.T) *Planner {
	t.Helper()
	reg, err := agent.DefaultRegistry()
	require.NoError(t, err)
	return NewPlanner(reg)
}

func testRequest() RunRequest {
	return RunRequest{
		TaskID:     "task_abc123def456",
		SystemName: "claude",
		Prompt:     "hello",
		Environment: &config.Environment{
			Name:  "dev",
			Image: "ubuntu:24.04",
			Env:   map[string]string{"B": "2", "A": "1"},
		},
		WorkspaceDir: "/home/u/project",
		ConfigDir:    "/home/u/.claude",
		StagingDir:   "/home/u/.gantry/tasks/task_abc123def456/staging",
	}
}

func TestPlanHappyPath(t *testing.T) {
	p := testPlanner(t)

	rp, err := p.Plan(testRequest())
	require.NoError(t, err)

	assert.False(t, rp.Interactive)
	assert.Equal(t, "ubuntu:24.04", rp.Docker.Image)
	assert.Equal(t, "gantry-task-abc123def456", rp.Docker.ContainerName)
	assert.Equal(t, WorkspaceTarget, rp.Docker.WorkingDir)
	assert.Equal(t, []string{"A=1", "B=2"}, rp.Docker.Env, "env must be sorted")
	assert.Equal(t, []string{"claude", "-p", "hello"}, rp.Exec.Args)

	// Keep-alive entry installs the marker trap.
	require.Len(t, rp.Docker.KeepAlive, 3)
	assert.Equal(t, "/bin/sh", rp.Docker.KeepAlive[0])
	assert.Contains(t, rp.Docker.KeepAlive[2], "gantry_write_marker")

	// Defaults applied.
	assert.Equal(t, DefaultPullSeconds, rp.Timeouts.PullSeconds)
	assert.Equal(t, DefaultReadySeconds, rp.Timeouts.ReadySeconds)
}

func TestPlanUnknownSystem(t *testing.T) {
	p := testPlanner(t)
	req := testRequest()
	req.SystemName = "nope"

	_, err := p.Plan(req)
	assert.True(t, errors.Is(err, ErrUnknownAgentSystem))
}

func TestPlanInteractiveUnsupported(t *testing.T) {
	p := testPlanner(t)
	req := testRequest()
	req.SystemName = "codex"
	req.Interactive = true

	_, err := p.Plan(req)
	var unsupported *agent.ErrInteractiveUnsupported
	require.True(t, errors.As(err, &unsupported))
	assert.Equal(t, "codex", unsupported.SystemName)
}

func TestPlanDeterminism(t *testing.T) {
	p := testPlanner(t)

	first, err := p.Plan(testRequest())
	require.NoError(t, err)
	second, err := p.Plan(testRequest())
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestPlanMountOrderAndDedupe(t *testing.T) {
	p := testPlanner(t)
	req := testRequest()
	req.Environment.Mounts = []string{
		"/home/u/.claude:/root/.claude", // duplicate of the agent config mount
		"/data/shared:/shared:ro",
	}

	rp, err := p.Plan(req)
	require.NoError(t, err)

	var pairs []string
	for _, m := range rp.Docker.Mounts {
		pairs = append(pairs, m.Source+":"+m.Target)
	}

	assert.Equal(t, []string{
		"/home/u/project:" + WorkspaceTarget,
		"/home/u/.claude:/root/.claude",
		"/data/shared:/shared",
		req.StagingDir + ":" + storage.StagingTarget,
	}, pairs, "agent config mounts come before environment mounts, duplicates dropped")
}

func TestPlanInteractiveGuardrail(t *testing.T) {
	p := testPlanner(t)
	req := testRequest()
	req.Interactive = true
	req.Prompt = "look at the failing build"

	rp, err := p.Plan(req)
	require.NoError(t, err)
	assert.True(t, rp.Interactive)
	assert.True(t, rp.Exec.TTY)

	// The composed prompt is the guardrail prefix followed byte-for-byte
	// by the original prompt, delivered positionally for claude.
	composed := rp.Exec.Args[len(rp.Exec.Args)-1]
	assert.Equal(t, GuardrailPrefix+"look at the failing build", composed)
	assert.True(t, strings.HasPrefix(composed, GuardrailPrefix))
}

func TestComposePrompt(t *testing.T) {
	assert.Equal(t, "p", ComposePrompt("p", false))
	assert.Equal(t, GuardrailPrefix+"p", ComposePrompt("p", true))
}

func TestPlanPorts(t *testing.T) {
	p := testPlanner(t)
	req := testRequest()
	req.Environment.Ports = map[string]int{"web": 3000}

	rp, err := p.Plan(req)
	require.NoError(t, err)
	assert.Equal(t, map[int]string{3000: "127.0.0.1"}, rp.Docker.Ports)
}

func TestPlanDesktopPublishesPort(t *testing.T) {
	p := testPlanner(t)
	req := testRequest()
	req.Environment.Desktop = true

	rp, err := p.Plan(req)
	require.NoError(t, err)
	assert.Equal(t, map[int]string{DesktopPort: "127.0.0.1"}, rp.Docker.Ports)
}

func TestPlanCacheMount(t *testing.T) {
	p := testPlanner(t)

	t.Run("enabled with a provisioned dir", func(t *testing.T) {
		req := testRequest()
		req.Environment.Cache = true
		req.CacheDir = "/home/u/.gantry/cache"

		rp, err := p.Plan(req)
		require.NoError(t, err)

		var pairs []string
		for _, m := range rp.Docker.Mounts {
			pairs = append(pairs, m.Source+":"+m.Target)
		}
		require.Contains(t, pairs, "/home/u/.gantry/cache:"+CacheTarget)
		// Staging stays last.
		assert.Equal(t, req.StagingDir+":"+storage.StagingTarget, pairs[len(pairs)-1])
	})

	t.Run("disabled environments get no cache mount", func(t *testing.T) {
		req := testRequest()
		req.CacheDir = "/home/u/.gantry/cache"

		rp, err := p.Plan(req)
		require.NoError(t, err)
		for _, m := range rp.Docker.Mounts {
			assert.NotEqual(t, CacheTarget, m.Target)
		}
	})
}

func TestPlanStdinDelivery(t *testing.T) {
	p := testPlanner(t)
	req := testRequest()
	req.SystemName = "gemini"
	req.ConfigDir = "/home/u/.gemini"

	rp, err := p.Plan(req)
	require.NoError(t, err)
	assert.Equal(t, []string{"gemini"}, rp.Exec.Args)
	assert.Equal(t, []byte("hello"), rp.Exec.StdinPayload)
}
