// Package recovery reconciles persisted tasks with observed reality
// after a host process restart. Each non-terminal task is classified by
// one transition table, shared between the startup pass and the periodic
// tick, so a task transitions the same way no matter which pass sees it
// first.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/gantryhq/gantry/internal/container"
	"github.com/gantryhq/gantry/internal/finalize"
	"github.com/gantryhq/gantry/internal/log"
	"github.com/gantryhq/gantry/internal/marker"
	"github.com/gantryhq/gantry/internal/storage"
	"github.com/gantryhq/gantry/internal/task"
)

// DefaultMaxConcurrent bounds how many tasks are reconciled in parallel.
const DefaultMaxConcurrent = 4

// Options configures a coordinator.
type Options struct {
	// MaxConcurrent bounds parallel per-task reconciliation.
	// Zero means DefaultMaxConcurrent.
	MaxConcurrent int
}

// Coordinator drives startup and periodic reconciliation.
type Coordinator struct {
	runtime   container.Runtime
	store     *task.Store
	finalizer *finalize.Service
	baseDir   string
	sem       *semaphore.Weighted

	mu sync.Mutex
	// stable holds tasks whose finalization completed; the periodic pass
	// never re-evaluates them.
	stable map[string]struct{}
	// tails tracks the single active log follower per task.
	tails map[string]struct{}
}

// New creates a recovery coordinator. baseDir is the task storage base
// directory holding each task's staging area and log file.
func New(runtime container.Runtime, store *task.Store, finalizer *finalize.Service, baseDir string, opts Options) *Coordinator {
	maxConcurrent := opts.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &Coordinator{
		runtime:   runtime,
		store:     store,
		finalizer: finalizer,
		baseDir:   baseDir,
		sem:       semaphore.NewWeighted(int64(maxConcurrent)),
		stable:    make(map[string]struct{}),
		tails:     make(map[string]struct{}),
	}
}

// ReconcileAll runs one reconciliation pass over every non-terminal
// task. Per-task work is bounded by the concurrency limit; the caller's
// goroutine only schedules, it never touches the container runtime.
func (c *Coordinator) ReconcileAll(ctx context.Context) error {
	tasks, err := c.store.ListNonTerminal()
	if err != nil {
		return fmt.Errorf("listing tasks for recovery: %w", err)
	}

	var wg sync.WaitGroup
	for _, t := range tasks {
		if c.isStable(t.ID) {
			continue
		}
		if err := c.sem.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return err
		}
		wg.Add(1)
		go func(t *task.Task) {
			defer wg.Done()
			defer c.sem.Release(1)
			if err := c.reconcile(ctx, t); err != nil {
				log.Error("reconciling task", "task", t.ID, "error", err)
			}
		}(t)
	}
	wg.Wait()
	return nil
}

// Start runs periodic reconciliation until ctx is canceled. One ticker
// drives every pass; passes never overlap because Start waits for each
// ReconcileAll to finish before sleeping again.
func (c *Coordinator) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.ReconcileAll(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("recovery pass failed", "error", err)
			}
		}
	}
}

// reconcile classifies one task and applies the matching transition.
func (c *Coordinator) reconcile(ctx context.Context, t *task.Task) error {
	// In-flight finalization takes priority over any other observation:
	// the outcome is already settled, only the cleanup work is pending.
	switch t.Finalization {
	case task.FinalizeDone:
		c.markStable(t.ID)
		return nil
	case task.FinalizeRunning:
		// A crash mid-finalize left the task stuck in running.
		if !c.finalizer.RequeueStuck(t.ID) {
			return nil
		}
		return c.runFinalize(ctx, t.ID)
	case task.FinalizeQueued:
		return c.runFinalize(ctx, t.ID)
	}

	dirs := storage.DirsFor(c.baseDir, t.ID)

	m, err := marker.Read(dirs.Staging)
	switch {
	case err == nil:
		// The exit trap landed a marker: authoritative outcome, even if
		// the container is long gone.
		log.Info("recovered outcome from completion marker",
			"task", t.ID, "exit_code", m.ExitCode, "reason", m.Reason)
		if err := c.store.SetOutcome(t.ID, task.StatusForExit(m.ExitCode), &m.ExitCode, m.FinishedAt, m.Reason); err != nil {
			return err
		}
		if !c.finalizer.TryQueue(t.ID) {
			return nil
		}
		return c.runFinalize(ctx, t.ID)

	case errors.Is(err, marker.ErrMalformed):
		log.Warn("ignoring malformed completion marker", "task", t.ID, "error", err)

	case errors.Is(err, marker.ErrMissing):
		// Fall through to live observation.

	default:
		return err
	}

	if t.ContainerName != "" {
		state, stateErr := c.runtime.ContainerState(ctx, t.ContainerName)
		if stateErr != nil && !errors.Is(stateErr, container.ErrContainerGone) {
			return stateErr
		}
		if stateErr == nil && state == "running" {
			// Still alive: adopt it rather than tearing it down.
			if t.Status != task.StatusRunning {
				if err := c.store.SetStatus(t.ID, task.StatusRunning); err != nil {
					return err
				}
			}
			c.followLogs(ctx, t.ID, t.ContainerName, dirs.LogFile)
			return nil
		}
	}

	// No marker and no live container: the outcome is unrecoverable.
	// Recorded as unknown and finalized anyway so staged files survive.
	log.Warn("task outcome unrecoverable", "task", t.ID, "container", t.ContainerName)
	if err := c.store.SetOutcome(t.ID, task.StatusUnknown, nil, time.Now(), marker.ReasonUnknown); err != nil {
		return err
	}
	if !c.finalizer.TryQueue(t.ID) {
		return nil
	}
	return c.runFinalize(ctx, t.ID)
}

func (c *Coordinator) runFinalize(ctx context.Context, taskID string) error {
	if err := c.finalizer.RunQueued(ctx, taskID); err != nil {
		return err
	}
	c.markStable(taskID)
	return nil
}

func (c *Coordinator) isStable(taskID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.stable[taskID]
	return ok
}

func (c *Coordinator) markStable(taskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stable[taskID] = struct{}{}
}

// followLogs attaches a recovery log tail for an adopted container,
// appending to the task's log file. At most one follower per task; if
// one is already active the call is a no-op.
func (c *Coordinator) followLogs(ctx context.Context, taskID, containerName, logFile string) {
	c.mu.Lock()
	if _, active := c.tails[taskID]; active {
		c.mu.Unlock()
		return
	}
	c.tails[taskID] = struct{}{}
	c.mu.Unlock()

	go func() {
		defer func() {
			c.mu.Lock()
			delete(c.tails, taskID)
			c.mu.Unlock()
		}()

		stream, err := c.runtime.StreamLogs(ctx, containerName)
		if err != nil {
			if !errors.Is(err, container.ErrContainerGone) {
				log.Warn("attaching recovery log tail", "task", taskID, "error", err)
			}
			return
		}
		defer stream.Close()

		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			log.Warn("opening task log file", "task", taskID, "error", err)
			return
		}
		defer f.Close()

		log.Debug("recovery log tail attached", "task", taskID, "container", containerName)
		if _, err := io.Copy(f, stream); err != nil && ctx.Err() == nil {
			log.Warn("recovery log tail ended", "task", taskID, "error", err)
		}
	}()
}
