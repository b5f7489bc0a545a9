// Package marker implements the completion marker protocol: a small JSON
// record written to the host-mounted staging directory by an in-container
// exit trap, just before the container's entry process tears down.
//
// Containers auto-remove themselves on exit, so inspecting a stopped
// container is unreliable. The marker is the only durable record of how a
// run ended, and the recovery pass treats it as authoritative.
package marker

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// FileName is the marker's name inside the staging directory.
const FileName = "interactive-exit.json"

// Exit reasons recorded in the marker.
const (
	ReasonProcessExit = "process_exit"
	ReasonKilled      = "killed"
	ReasonUnknown     = "unknown"
)

// ErrMissing indicates no marker file exists. This is a state, not a
// failure: callers fall back to live container observation or mark the
// task unknown.
var ErrMissing = errors.New("completion marker not present")

// ErrMalformed indicates a marker file exists but cannot be trusted.
var ErrMalformed = errors.New("completion marker malformed")

// Marker is the durable record of a container's exit outcome.
type Marker struct {
	TaskID        string    `json:"task_id"`
	ContainerName string    `json:"container_name"`
	ExitCode      int       `json:"exit_code"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	Reason        string    `json:"reason"`
}

// Path returns the marker path for a staging directory.
func Path(stagingDir string) string {
	return filepath.Join(stagingDir, FileName)
}

// Write persists a marker atomically (temp file + rename) so a reader
// never observes a partial record. Used by the host side for tests and
// by tooling; the production writer is the in-container trap script.
func Write(stagingDir string, m Marker) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling marker: %w", err)
	}

	path := Path(stagingDir)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing marker: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("committing marker: %w", err)
	}
	return nil
}

// Read parses the marker in a staging directory. Reading is pure and
// idempotent; the marker is never deleted here. A missing file returns
// ErrMissing, an unparseable or incomplete file returns ErrMalformed.
func Read(stagingDir string) (Marker, error) {
	data, err := os.ReadFile(Path(stagingDir))
	if err != nil {
		if os.IsNotExist(err) {
			return Marker{}, ErrMissing
		}
		return Marker{}, fmt.Errorf("reading marker: %w", err)
	}

	var m Marker
	if err := json.Unmarshal(data, &m); err != nil {
		return Marker{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if m.TaskID == "" || m.ContainerName == "" {
		return Marker{}, fmt.Errorf("%w: missing required fields", ErrMalformed)
	}
	switch m.Reason {
	case ReasonProcessExit, ReasonKilled, ReasonUnknown:
	case "":
		return Marker{}, fmt.Errorf("%w: missing reason", ErrMalformed)
	default:
		return Marker{}, fmt.Errorf("%w: unknown reason %q", ErrMalformed, m.Reason)
	}

	return m, nil
}
