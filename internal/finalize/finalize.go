// Package finalize enforces at-most-once finalization per task and
// performs the terminal bookkeeping: artifact collection, container
// cleanup, and task-state persistence.
//
// Three independent sources race to finalize a task: the runner's direct
// completion path, the periodic recovery tick, and the startup
// reconciliation pass. They all funnel through Service.Finalize, whose
// queue step is a single atomic state transition in the task store.
package finalize

import (
	"context"
	"fmt"
	"time"

	"github.com/gantryhq/gantry/internal/artifact"
	"github.com/gantryhq/gantry/internal/container"
	"github.com/gantryhq/gantry/internal/event"
	"github.com/gantryhq/gantry/internal/log"
	"github.com/gantryhq/gantry/internal/storage"
	"github.com/gantryhq/gantry/internal/task"
)

// DefaultMaxAttempts bounds finalization retries after crashes
// mid-finalize, so a permanently broken staging path cannot loop forever.
const DefaultMaxAttempts = 3

// Options configures a finalization service.
type Options struct {
	// Archiver receives collected artifacts. Nil means collect-only
	// (files stay in staging, nothing is handed downstream).
	Archiver artifact.Archiver
	// Events receives the finalized notification. Nil discards.
	Events event.Sink
	// MaxAttempts bounds retries of crashed finalizations.
	// Zero means DefaultMaxAttempts.
	MaxAttempts int
}

// Service coordinates exactly-once finalization.
type Service struct {
	store       *task.Store
	runtime     container.Runtime
	baseDir     string
	archiver    artifact.Archiver
	events      event.Sink
	maxAttempts int
}

// NewService creates a finalization service. baseDir is the task storage
// base directory holding each task's staging area.
func NewService(store *task.Store, runtime container.Runtime, baseDir string, opts Options) *Service {
	events := opts.Events
	if events == nil {
		events = event.Discard
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Service{
		store:       store,
		runtime:     runtime,
		baseDir:     baseDir,
		archiver:    opts.Archiver,
		events:      events,
		maxAttempts: maxAttempts,
	}
}

// MaxAttempts returns the configured retry bound.
func (s *Service) MaxAttempts() int {
	return s.maxAttempts
}

// TryQueue atomically queues a task for finalization. Returns false if
// the task is already queued, running, or done. Refusals are expected
// under concurrent triggers and logged at debug only.
func (s *Service) TryQueue(taskID string) bool {
	ok, err := s.store.TryQueueFinalization(taskID)
	if err != nil {
		log.Error("queueing finalization", "task", taskID, "error", err)
		return false
	}
	if !ok {
		log.Debug("finalization already handled", "task", taskID)
	}
	return ok
}

// Finalize queues the task and, if this caller won the queue transition,
// runs the finalization work. Losing the race is a no-op, not an error.
func (s *Service) Finalize(ctx context.Context, taskID string) error {
	if !s.TryQueue(taskID) {
		return nil
	}
	return s.RunQueued(ctx, taskID)
}

// RunQueued performs finalization for a task in the queued state:
// collect artifacts, clean up the container, persist terminal state.
// If the work fails, the task stays in the running finalization state
// and is retried by the next recovery pass (bounded by MaxAttempts).
func (s *Service) RunQueued(ctx context.Context, taskID string) error {
	began, err := s.store.BeginFinalize(taskID)
	if err != nil {
		return err
	}
	if !began {
		// Another worker advanced the task first.
		log.Debug("finalization not in queued state", "task", taskID)
		return nil
	}

	t, err := s.store.Get(taskID)
	if err != nil {
		return err
	}

	dirs := storage.DirsFor(s.baseDir, taskID)

	// Artifact collection first: the container is already dead or dying,
	// the staging files are what must not be lost.
	if s.archiver != nil {
		if _, err := artifact.CollectAndArchive(dirs.Staging, s.archiver); err != nil {
			return fmt.Errorf("collecting artifacts for %s: %w", taskID, err)
		}
	} else if _, err := artifact.Collect(dirs.Staging); err != nil {
		return fmt.Errorf("collecting artifacts for %s: %w", taskID, err)
	}

	// Container cleanup is best-effort: with auto-remove the container
	// is usually gone already, and the marker captured the exit signal.
	if t.ContainerName != "" {
		if err := s.runtime.StopContainer(ctx, t.ContainerName); err != nil {
			log.Warn("stopping container during finalize", "task", taskID, "error", err)
		}
		if err := s.runtime.RemoveContainer(ctx, t.ContainerName); err != nil {
			log.Warn("removing container during finalize", "task", taskID, "error", err)
		}
	}

	if err := s.store.FinishFinalize(taskID); err != nil {
		return err
	}

	exitCode := 0
	if t.ExitCode != nil {
		exitCode = *t.ExitCode
	}
	s.events.Emit(event.Event{
		Type:          event.TypeFinalized,
		TaskID:        taskID,
		ContainerName: t.ContainerName,
		ExitCode:      exitCode,
		Time:          time.Now(),
	})
	log.Info("task finalized", "task", taskID, "status", t.Status)
	return nil
}

// RequeueStuck puts a task whose finalization crashed mid-running back in
// the queue, bounded by the attempt budget. Returns true if requeued.
func (s *Service) RequeueStuck(taskID string) bool {
	ok, err := s.store.RequeueStuckFinalize(taskID, s.maxAttempts)
	if err != nil {
		log.Error("requeueing stuck finalization", "task", taskID, "error", err)
		return false
	}
	if !ok {
		log.Warn("finalization retry budget exhausted", "task", taskID, "max_attempts", s.maxAttempts)
	}
	return ok
}
