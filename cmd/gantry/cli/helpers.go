package cli

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/gantryhq/gantry/internal/config"
	"github.com/gantryhq/gantry/internal/container"
	"github.com/gantryhq/gantry/internal/storage"
	"github.com/gantryhq/gantry/internal/task"
)

// openStore opens the task database under the global config dir.
func openStore() (*task.Store, error) {
	path := filepath.Join(config.GlobalConfigDir(), "tasks.db")
	store, err := task.OpenStore(path)
	if err != nil {
		return nil, fmt.Errorf("opening task store: %w", err)
	}
	return store, nil
}

// newRuntime connects to the container runtime.
func newRuntime() (container.Runtime, error) {
	rt, err := container.NewDockerRuntime()
	if err != nil {
		return nil, fmt.Errorf("initializing container runtime: %w", err)
	}
	return rt, nil
}

func taskBaseDir() string {
	return storage.DefaultBaseDir()
}

// formatAge renders a duration since t in the largest sensible unit.
func formatAge(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
