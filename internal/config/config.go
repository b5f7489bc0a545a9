// Package config handles gantry configuration: per-environment YAML files
// describing how agent containers are provisioned, plus global settings
// under ~/.gantry.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Environment holds normalized settings for one execution environment.
// It is read-only input to the planner: the planner never mutates it and
// performs no I/O beyond the values already resolved here.
type Environment struct {
	// Name identifies the environment (defaults to the file's base name).
	Name string `yaml:"name"`

	// Image is the container image reference to run.
	Image string `yaml:"image"`

	// Env holds environment variables injected into the container.
	Env map[string]string `yaml:"env,omitempty"`

	// Mounts are extra bind mounts in "source:target[:ro]" form.
	Mounts []string `yaml:"mounts,omitempty"`

	// Preflight are shell scripts run inside the container before the
	// agent command.
	Preflight []string `yaml:"preflight,omitempty"`

	// Ports maps service names to container ports to publish.
	Ports map[string]int `yaml:"ports,omitempty"`

	// ForwardGitHub forwards the host's GitHub context (GH_TOKEN et al)
	// into the container environment.
	ForwardGitHub bool `yaml:"forward_github,omitempty"`

	// Desktop publishes the container's desktop port on localhost for
	// environments that run graphical tooling.
	Desktop bool `yaml:"desktop,omitempty"`

	// Cache mounts the shared dependency cache into the container.
	Cache bool `yaml:"cache,omitempty"`
}

// LoadEnvironment reads an environment file and validates required fields.
func LoadEnvironment(path string) (*Environment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading environment file: %w", err)
	}

	var env Environment
	if err := yaml.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parsing environment file %s: %w", path, err)
	}

	if env.Name == "" {
		base := filepath.Base(path)
		env.Name = base[:len(base)-len(filepath.Ext(base))]
	}
	if env.Image == "" {
		return nil, fmt.Errorf("environment %s: image is required", env.Name)
	}

	// Validate mount syntax up front so planning can stay pure.
	for _, m := range env.Mounts {
		if _, err := ParseMount(m); err != nil {
			return nil, fmt.Errorf("environment %s: %w", env.Name, err)
		}
	}

	return &env, nil
}

// ResolveEnvironment finds an environment by name or path. A bare name is
// looked up as ~/.gantry/environments/<name>.yaml.
func ResolveEnvironment(nameOrPath string) (*Environment, error) {
	if _, err := os.Stat(nameOrPath); err == nil {
		return LoadEnvironment(nameOrPath)
	}
	path := filepath.Join(GlobalConfigDir(), "environments", nameOrPath+".yaml")
	env, err := LoadEnvironment(path)
	if err != nil {
		return nil, fmt.Errorf("environment %q not found: %w", nameOrPath, err)
	}
	return env, nil
}
