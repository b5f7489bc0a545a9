// Package storage lays out the on-host directory structure for task runs.
// Each task owns a directory under the base dir containing its staging
// area (mounted into the container) and captured logs. The completion
// marker lives inside staging so it survives container auto-removal.
package storage

import (
	"os"
	"path/filepath"
	"strings"
)

// StagingTarget is where the staging directory is mounted inside the
// container. The in-container exit trap writes the completion marker here.
const StagingTarget = "/staging"

// TaskDirs resolves the directory layout for one task.
type TaskDirs struct {
	Root    string // <base>/<task-id>
	Staging string // <base>/<task-id>/staging
	LogFile string // <base>/<task-id>/logs.jsonl
}

// DirsFor returns the directory layout for a task without creating anything.
func DirsFor(baseDir, taskID string) TaskDirs {
	root := filepath.Join(baseDir, taskID)
	return TaskDirs{
		Root:    root,
		Staging: filepath.Join(root, "staging"),
		LogFile: filepath.Join(root, "logs.jsonl"),
	}
}

// EnsureStaging creates the task's directory tree, returning the layout.
func EnsureStaging(baseDir, taskID string) (TaskDirs, error) {
	dirs := DirsFor(baseDir, taskID)
	if err := os.MkdirAll(dirs.Staging, 0755); err != nil {
		return TaskDirs{}, err
	}
	return dirs, nil
}

// ListTaskDirs returns the task IDs that have directories under baseDir.
func ListTaskDirs(baseDir string) ([]string, error) {
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var ids []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		// Task directories are named after their IDs ("task_<hex>").
		if strings.HasPrefix(e.Name(), "task_") {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

// Remove deletes a task's directory tree. Used by cleanup once a task has
// reached a terminal state and its artifacts are collected.
func Remove(baseDir, taskID string) error {
	return os.RemoveAll(filepath.Join(baseDir, taskID))
}

// DefaultBaseDir returns the default base directory for task storage.
// This is ~/.gantry/tasks.
func DefaultBaseDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home dir cannot be determined
		return filepath.Join(".", ".gantry", "tasks")
	}
	return filepath.Join(homeDir, ".gantry", "tasks")
}
