package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gantryhq/gantry/internal/config"
	"github.com/gantryhq/gantry/internal/finalize"
	"github.com/gantryhq/gantry/internal/recovery"
)

var recoverWatch bool

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Reconcile task state after a restart",
	Long: `Reconcile persisted tasks with observed container state. Tasks whose
containers left a completion marker get their recorded outcome; tasks
with a live container are re-adopted; tasks with neither are marked
unknown and their staged files are still collected.

With --watch, keeps running and repeats the pass periodically.`,
	RunE: recoverTasks,
}

func init() {
	rootCmd.AddCommand(recoverCmd)
	recoverCmd.Flags().BoolVar(&recoverWatch, "watch", false, "keep reconciling periodically")
}

func recoverTasks(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	globalCfg, _ := config.LoadGlobal()

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

	baseDir := taskBaseDir()
	fin := finalize.NewService(store, rt, baseDir, finalize.Options{})
	coord := recovery.New(rt, store, fin, baseDir, recovery.Options{
		MaxConcurrent: globalCfg.Recovery.MaxConcurrent,
	})

	if err := coord.ReconcileAll(ctx); err != nil {
		return err
	}
	fmt.Fprintln(cmd.ErrOrStderr(), "Reconciliation pass complete")

	if !recoverWatch {
		return nil
	}

	interval := time.Duration(globalCfg.Recovery.IntervalSeconds) * time.Second
	fmt.Fprintf(cmd.ErrOrStderr(), "Watching, reconciling every %s (Ctrl-C to stop)\n", interval)

	watchCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	coord.Start(watchCtx, interval)
	return nil
}
