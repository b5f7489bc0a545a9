package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEnvFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadEnvironment(t *testing.T) {
	path := writeEnvFile(t, "dev.yaml", `
image: ubuntu:24.04
env:
  FOO: bar
mounts:
  - /tmp/cache:/cache:ro
ports:
  web: 3000
forward_github: true
desktop: true
cache: true
`)

	env, err := LoadEnvironment(path)
	require.NoError(t, err)

	assert.Equal(t, "dev", env.Name, "name defaults to file base name")
	assert.Equal(t, "ubuntu:24.04", env.Image)
	assert.Equal(t, "bar", env.Env["FOO"])
	assert.Equal(t, []string{"/tmp/cache:/cache:ro"}, env.Mounts)
	assert.Equal(t, 3000, env.Ports["web"])
	assert.True(t, env.ForwardGitHub)
	assert.True(t, env.Desktop)
	assert.True(t, env.Cache)
}

func TestLoadEnvironmentMissingImage(t *testing.T) {
	path := writeEnvFile(t, "broken.yaml", "name: broken\n")

	_, err := LoadEnvironment(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "image is required")
}

func TestLoadEnvironmentBadMount(t *testing.T) {
	path := writeEnvFile(t, "badmount.yaml", `
image: alpine
mounts:
  - justonepart
`)

	_, err := LoadEnvironment(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid mount")
}

func TestResolveEnvironmentByPath(t *testing.T) {
	path := writeEnvFile(t, "byname.yaml", "image: alpine\n")

	env, err := ResolveEnvironment(path)
	require.NoError(t, err)
	assert.Equal(t, "alpine", env.Image)
}

func TestResolveEnvironmentUnknownName(t *testing.T) {
	_, err := ResolveEnvironment("no-such-environment-xyz")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestDefaultGlobalConfig(t *testing.T) {
	cfg := DefaultGlobalConfig()
	assert.Equal(t, 30, cfg.Recovery.IntervalSeconds)
	assert.Equal(t, 4, cfg.Recovery.MaxConcurrent)
	assert.Equal(t, 7, cfg.Debug.RetentionDays)
}
