// Package runner executes a planned run against the container runtime:
// image pull, container create/start, readiness, agent execution, and
// the handoff into finalization. The runner owns the live path; crash
// and restart paths belong to the recovery coordinator.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gantryhq/gantry/internal/container"
	"github.com/gantryhq/gantry/internal/event"
	"github.com/gantryhq/gantry/internal/finalize"
	"github.com/gantryhq/gantry/internal/log"
	"github.com/gantryhq/gantry/internal/marker"
	"github.com/gantryhq/gantry/internal/plan"
	"github.com/gantryhq/gantry/internal/task"
)

// ErrPullFailed indicates the image could not be pulled in time.
var ErrPullFailed = errors.New("image pull failed")

// ErrNotReady indicates the container never reached the running state
// within the readiness timeout.
var ErrNotReady = errors.New("container did not become ready")

// readyPollInterval is the fixed interval for the readiness poll.
const readyPollInterval = 200 * time.Millisecond

// markerGrace bounds how long Wait gives the in-container exit trap to
// land the completion marker after the container is told to stop.
var markerGrace = 10 * time.Second

// Outcome is the observed result of a completed run.
type Outcome struct {
	ExitCode int
	Reason   string
	// Output holds the agent's combined output for non-interactive runs.
	Output []byte
}

// Runner drives one run attempt from plan to finalization.
type Runner struct {
	runtime   container.Runtime
	store     *task.Store
	finalizer *finalize.Service
	events    event.Sink
}

// New creates a runner. events may be nil.
func New(runtime container.Runtime, store *task.Store, finalizer *finalize.Service, events event.Sink) *Runner {
	if events == nil {
		events = event.Discard
	}
	return &Runner{runtime: runtime, store: store, finalizer: finalizer, events: events}
}

// Result is what a run attempt produced. Exactly one field is set:
// Outcome for non-interactive runs (which complete inside Run), Handle
// for interactive runs (which Run hands back immediately after the
// container is ready).
type Result struct {
	Outcome *Outcome
	Handle  *Handle
}

// Run executes the plan for the given task.
//
// Non-interactive: blocks through agent execution, persists the outcome,
// finalizes, and returns it. The agent's exit code is data; a non-zero
// code is not an error.
//
// Interactive: returns a Handle as soon as the container is ready. The
// caller drives Attach and then Wait; Wait performs the outcome
// persistence and finalization that Run does on the non-interactive path.
//
// Failure paths before execution (pull, create, readiness) persist a
// failed status and still finalize, so staging files are never stranded.
func (r *Runner) Run(ctx context.Context, t *task.Task, p *plan.RunPlan) (Result, error) {
	containerID, err := r.launch(ctx, t, p)
	if err != nil {
		r.failAndFinalize(ctx, t.ID, err)
		return Result{}, err
	}

	if p.Interactive {
		return Result{Handle: &Handle{
			runner:      r,
			taskID:      t.ID,
			containerID: containerID,
			plan:        p,
		}}, nil
	}

	outcome, err := r.execute(ctx, t.ID, containerID, p)
	if err != nil {
		r.failAndFinalize(ctx, t.ID, err)
		return Result{}, err
	}
	return Result{Outcome: outcome}, nil
}

// launch pulls the image, creates and starts the keep-alive container,
// and waits for it to report running.
func (r *Runner) launch(ctx context.Context, t *task.Task, p *plan.RunPlan) (string, error) {
	timeouts := p.Timeouts
	if timeouts.PullSeconds == 0 {
		timeouts.PullSeconds = plan.DefaultPullSeconds
	}
	if timeouts.ReadySeconds == 0 {
		timeouts.ReadySeconds = plan.DefaultReadySeconds
	}

	pullCtx, cancel := context.WithTimeout(ctx, time.Duration(timeouts.PullSeconds)*time.Second)
	defer cancel()
	if err := r.runtime.PullImage(pullCtx, p.Docker.Image); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrPullFailed, p.Docker.Image, err)
	}

	containerID, err := r.runtime.CreateContainer(ctx, container.Config{
		Name:         p.Docker.ContainerName,
		Image:        p.Docker.Image,
		Cmd:          p.Docker.KeepAlive,
		WorkingDir:   p.Docker.WorkingDir,
		Env:          p.Docker.Env,
		Mounts:       p.Docker.Mounts,
		AutoRemove:   true,
		Interactive:  p.Interactive,
		PortBindings: p.Docker.Ports,
	})
	if err != nil {
		return "", fmt.Errorf("creating container: %w", err)
	}

	if err := r.runtime.StartContainer(ctx, containerID); err != nil {
		return "", fmt.Errorf("starting container: %w", err)
	}

	if err := r.store.SetRunning(t.ID, p.Docker.ContainerName, time.Now()); err != nil {
		return "", err
	}
	r.events.Emit(event.Event{Type: event.TypeStarted, TaskID: t.ID, ContainerName: p.Docker.ContainerName})

	if err := r.awaitReady(ctx, containerID, timeouts.ReadySeconds); err != nil {
		return "", err
	}
	r.events.Emit(event.Event{Type: event.TypeReady, TaskID: t.ID, ContainerName: p.Docker.ContainerName})

	return containerID, nil
}

// awaitReady polls the container state at a fixed interval until it
// reports running.
func (r *Runner) awaitReady(ctx context.Context, containerID string, readySeconds int) error {
	deadline := time.Now().Add(time.Duration(readySeconds) * time.Second)
	for {
		state, err := r.runtime.ContainerState(ctx, containerID)
		if err != nil {
			if errors.Is(err, container.ErrContainerGone) {
				return fmt.Errorf("%w: container exited before becoming ready", ErrNotReady)
			}
			return err
		}
		if state == "running" {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: state %q after %ds", ErrNotReady, state, readySeconds)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(readyPollInterval):
		}
	}
}

// execute runs the agent command inside the container, persists the
// outcome, and finalizes.
func (r *Runner) execute(ctx context.Context, taskID, containerID string, p *plan.RunPlan) (*Outcome, error) {
	execCtx := ctx
	if p.Timeouts.RunSeconds > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, time.Duration(p.Timeouts.RunSeconds)*time.Second)
		defer cancel()
	}

	exitCode, output, err := r.runtime.Exec(execCtx, containerID, container.ExecConfig{
		Cmd:          p.Exec.Args,
		WorkingDir:   p.Exec.WorkingDir,
		Env:          p.Exec.Env,
		TTY:          p.Exec.TTY,
		StdinPayload: p.Exec.StdinPayload,
	})
	if err != nil {
		if execCtx.Err() != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("run timed out after %ds", p.Timeouts.RunSeconds)
		}
		return nil, fmt.Errorf("executing agent: %w", err)
	}

	now := time.Now()
	if err := r.store.SetOutcome(taskID, task.StatusForExit(exitCode), &exitCode, now, marker.ReasonProcessExit); err != nil {
		return nil, err
	}
	r.events.Emit(event.Event{Type: event.TypeExited, TaskID: taskID, ExitCode: exitCode})

	if err := r.finalizer.Finalize(ctx, taskID); err != nil {
		return nil, err
	}

	return &Outcome{ExitCode: exitCode, Reason: marker.ReasonProcessExit, Output: output}, nil
}

// failAndFinalize persists a failed status with the error as the reason
// and runs finalization so any staged files are still collected.
func (r *Runner) failAndFinalize(ctx context.Context, taskID string, cause error) {
	log.Error("run failed", "task", taskID, "error", cause)
	if err := r.store.SetOutcome(taskID, task.StatusFailed, nil, time.Now(), cause.Error()); err != nil {
		log.Error("recording run failure", "task", taskID, "error", err)
	}
	if err := r.finalizer.Finalize(ctx, taskID); err != nil {
		log.Error("finalizing failed run", "task", taskID, "error", err)
	}
}

// Handle is an in-flight interactive run. The caller attaches the
// session, and once the session ends calls Wait to settle the outcome.
type Handle struct {
	runner      *Runner
	taskID      string
	containerID string
	plan        *plan.RunPlan

	// sessionExit holds the agent exec's observed exit code once Attach
	// has returned cleanly. On the live path this is the authoritative
	// outcome; the trap's marker only ever records the keep-alive shell
	// being stopped.
	sessionExit *int
}

// TaskID returns the task this handle belongs to.
func (h *Handle) TaskID() string { return h.taskID }

// Attach runs the agent command with the caller's streams attached and
// records its exit code. Blocks until the interactive session ends or
// ctx is canceled.
func (h *Handle) Attach(ctx context.Context, opts container.AttachOptions) error {
	code, err := h.runner.runtime.ExecInteractive(ctx, h.containerID, container.ExecConfig{
		Cmd:          h.plan.Exec.Args,
		WorkingDir:   h.plan.Exec.WorkingDir,
		Env:          h.plan.Exec.Env,
		TTY:          h.plan.Exec.TTY,
		StdinPayload: h.plan.Exec.StdinPayload,
	}, opts)
	if err != nil {
		return err
	}
	h.sessionExit = &code
	return nil
}

// Wait settles the run after the interactive session ended: it stops
// the keep-alive container, persists the outcome, and finalizes.
//
// The session's own exit code wins when Attach observed one. Only when
// the session ended abnormally (attach failed, or the container died
// under it) does Wait fall back to the completion marker, and after the
// grace period to unknown rather than a guessed exit code.
func (h *Handle) Wait(ctx context.Context) (*Outcome, error) {
	r := h.runner

	if err := r.runtime.StopContainer(ctx, h.containerID); err != nil {
		log.Warn("stopping interactive container", "task", h.taskID, "error", err)
	}

	if h.sessionExit != nil {
		code := *h.sessionExit
		if err := r.store.SetOutcome(h.taskID, task.StatusForExit(code), &code, time.Now(), marker.ReasonProcessExit); err != nil {
			return nil, err
		}
		r.events.Emit(event.Event{Type: event.TypeExited, TaskID: h.taskID, ExitCode: code})
		if err := r.finalizer.Finalize(ctx, h.taskID); err != nil {
			return nil, err
		}
		return &Outcome{ExitCode: code, Reason: marker.ReasonProcessExit}, nil
	}

	m, err := h.awaitMarker(ctx)
	now := time.Now()

	var outcome *Outcome
	switch {
	case err == nil:
		if persistErr := r.store.SetOutcome(h.taskID, task.StatusForExit(m.ExitCode), &m.ExitCode, m.FinishedAt, m.Reason); persistErr != nil {
			return nil, persistErr
		}
		r.events.Emit(event.Event{Type: event.TypeExited, TaskID: h.taskID, ExitCode: m.ExitCode})
		outcome = &Outcome{ExitCode: m.ExitCode, Reason: m.Reason}
	case errors.Is(err, marker.ErrMissing), errors.Is(err, marker.ErrMalformed):
		log.Warn("no usable completion marker after interactive session", "task", h.taskID, "error", err)
		if persistErr := r.store.SetOutcome(h.taskID, task.StatusUnknown, nil, now, marker.ReasonUnknown); persistErr != nil {
			return nil, persistErr
		}
		outcome = &Outcome{ExitCode: -1, Reason: marker.ReasonUnknown}
	default:
		return nil, err
	}

	if err := r.finalizer.Finalize(ctx, h.taskID); err != nil {
		return nil, err
	}
	return outcome, nil
}

// awaitMarker polls the staging directory until the exit trap has
// written the marker, bounded by markerGrace.
func (h *Handle) awaitMarker(ctx context.Context) (marker.Marker, error) {
	deadline := time.Now().Add(markerGrace)
	for {
		m, err := marker.Read(h.plan.Artifacts.StagingDir)
		if err == nil {
			return m, nil
		}
		if !errors.Is(err, marker.ErrMissing) {
			return marker.Marker{}, err
		}
		if time.Now().After(deadline) {
			return marker.Marker{}, err
		}
		select {
		case <-ctx.Done():
			return marker.Marker{}, ctx.Err()
		case <-time.After(readyPollInterval):
		}
	}
}
