package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/gantryhq/gantry/internal/agent"
	"github.com/gantryhq/gantry/internal/config"
	"github.com/gantryhq/gantry/internal/container"
	"github.com/gantryhq/gantry/internal/event"
	"github.com/gantryhq/gantry/internal/finalize"
	"github.com/gantryhq/gantry/internal/id"
	"github.com/gantryhq/gantry/internal/log"
	"github.com/gantryhq/gantry/internal/plan"
	"github.com/gantryhq/gantry/internal/runner"
	"github.com/gantryhq/gantry/internal/storage"
	"github.com/gantryhq/gantry/internal/task"
)

var (
	runSystem      string
	runEnv         string
	runPrompt      string
	runWorkspace   string
	runAgentConfig string
	runInteractive bool
	runPullTimeout int
	runReadyWait   int
	runTimeout     int
)

var runCmd = &cobra.Command{
	Use:   "run [-- extra agent args]",
	Short: "Launch an agent run in a container",
	Long: `Launch an agent in an ephemeral container built from an environment
definition. Non-interactive runs block until the agent exits and print
its output; interactive runs attach your terminal to the agent session.

Arguments after -- are passed through to the agent CLI unchanged.`,
	RunE: runTask,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runSystem, "system", "claude", "agent system to run")
	runCmd.Flags().StringVar(&runEnv, "env", "", "environment name or path to an environment file")
	runCmd.Flags().StringVarP(&runPrompt, "prompt", "p", "", "prompt for the agent")
	runCmd.Flags().StringVar(&runWorkspace, "workspace", ".", "host directory mounted as the workspace")
	runCmd.Flags().StringVar(&runAgentConfig, "agent-config", "", "host directory with the agent's own configuration")
	runCmd.Flags().BoolVarP(&runInteractive, "interactive", "i", false, "attach an interactive agent session")
	runCmd.Flags().IntVar(&runPullTimeout, "pull-timeout", 0, "image pull timeout in seconds")
	runCmd.Flags().IntVar(&runReadyWait, "ready-timeout", 0, "container readiness timeout in seconds")
	runCmd.Flags().IntVar(&runTimeout, "run-timeout", 0, "agent execution timeout in seconds (0 = none)")
	_ = runCmd.MarkFlagRequired("env")
}

func runTask(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	env, err := config.ResolveEnvironment(runEnv)
	if err != nil {
		return err
	}
	forwardGitHubContext(env)

	workspace, err := filepath.Abs(runWorkspace)
	if err != nil {
		return fmt.Errorf("resolving workspace path: %w", err)
	}

	registry, err := agent.DefaultRegistry()
	if err != nil {
		return err
	}

	taskID := id.Generate("task")
	log.SetTaskID(taskID)

	baseDir := taskBaseDir()
	dirs, err := storage.EnsureStaging(baseDir, taskID)
	if err != nil {
		return fmt.Errorf("preparing task directories: %w", err)
	}

	// Planning is pure, so the cache directory is provisioned here.
	var cacheDir string
	if env.Cache {
		cacheDir = filepath.Join(config.GlobalConfigDir(), "cache")
		if err := os.MkdirAll(cacheDir, 0755); err != nil {
			return fmt.Errorf("preparing cache directory: %w", err)
		}
	}

	p, err := plan.NewPlanner(registry).Plan(plan.RunRequest{
		TaskID:       taskID,
		SystemName:   runSystem,
		Interactive:  runInteractive,
		Prompt:       runPrompt,
		Environment:  env,
		WorkspaceDir: workspace,
		ConfigDir:    runAgentConfig,
		StagingDir:   dirs.Staging,
		CacheDir:     cacheDir,
		ExtraArgs:    args,
		Timeouts: plan.Timeouts{
			PullSeconds:  runPullTimeout,
			ReadySeconds: runReadyWait,
			RunSeconds:   runTimeout,
		},
	})
	if err != nil {
		return err
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	tk := &task.Task{ID: taskID, Interactive: runInteractive}
	if err := store.Create(tk); err != nil {
		return fmt.Errorf("creating task record: %w", err)
	}

	progress := progressSink(cmd)
	fin := finalize.NewService(store, rt, baseDir, finalize.Options{Events: progress})
	r := runner.New(rt, store, fin, progress)

	res, err := r.Run(ctx, tk, &p)
	if err != nil {
		return err
	}

	if res.Handle != nil {
		return runInteractiveSession(ctx, cmd, res.Handle)
	}

	cmd.OutOrStdout().Write(res.Outcome.Output)
	if res.Outcome.ExitCode != 0 {
		return fmt.Errorf("agent exited with code %d", res.Outcome.ExitCode)
	}
	return nil
}

// runInteractiveSession attaches the caller's terminal and settles the
// outcome once the session ends.
func runInteractiveSession(ctx context.Context, cmd *cobra.Command, h *runner.Handle) error {
	if err := h.Attach(ctx, container.AttachOptions{
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}); err != nil {
		log.Warn("interactive session ended with error", "task", h.TaskID(), "error", err)
	}

	outcome, err := h.Wait(ctx)
	if err != nil {
		return err
	}
	if outcome.ExitCode > 0 {
		return fmt.Errorf("agent exited with code %d", outcome.ExitCode)
	}
	return nil
}

// progressSink renders lifecycle events as terse progress lines on
// stderr, keeping stdout for agent output.
func progressSink(cmd *cobra.Command) event.Sink {
	if jsonOut || runInteractive {
		return event.Discard
	}
	return event.SinkFunc(func(e event.Event) {
		switch e.Type {
		case event.TypeStarted:
			fmt.Fprintf(cmd.ErrOrStderr(), "Container %s started\n", e.ContainerName)
		case event.TypeReady:
			fmt.Fprintln(cmd.ErrOrStderr(), "Container ready, running agent")
		case event.TypeFinalized:
			fmt.Fprintf(cmd.ErrOrStderr(), "Task %s finalized\n", e.TaskID)
		}
	})
}

// forwardGitHubContext copies the host's GitHub credentials into the
// environment when the environment opts in.
func forwardGitHubContext(env *config.Environment) {
	if !env.ForwardGitHub {
		return
	}
	if env.Env == nil {
		env.Env = make(map[string]string)
	}
	for _, key := range []string{"GH_TOKEN", "GITHUB_TOKEN"} {
		if v := os.Getenv(key); v != "" {
			if _, set := env.Env[key]; !set {
				env.Env[key] = v
			}
		}
	}
}
