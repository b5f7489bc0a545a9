package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gantryhq/gantry/internal/storage"
	"github.com/gantryhq/gantry/internal/task"
)

var cleanForce bool

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove directories of completed tasks",
	Long: `Remove the on-host directories of tasks that reached a terminal state
and finished finalization. Staged artifacts of unfinalized tasks are
never touched.

Shows what will be removed and asks for confirmation before proceeding.
Use --force to skip confirmation (for scripts).`,
	RunE: cleanTasks,
}

func init() {
	rootCmd.AddCommand(cleanCmd)
	cleanCmd.Flags().BoolVarP(&cleanForce, "force", "f", false, "skip confirmation prompt")
}

func cleanTasks(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	tasks, err := store.List()
	if err != nil {
		return err
	}

	baseDir := taskBaseDir()
	onDisk, err := storage.ListTaskDirs(baseDir)
	if err != nil {
		return err
	}
	dirSet := make(map[string]bool, len(onDisk))
	for _, id := range onDisk {
		dirSet[id] = true
	}

	var removable []*task.Task
	for _, t := range tasks {
		if t.Terminal() && dirSet[t.ID] {
			removable = append(removable, t)
		}
	}

	if len(removable) == 0 {
		fmt.Println("Nothing to clean")
		return nil
	}

	fmt.Printf("Will remove %d task director", len(removable))
	if len(removable) == 1 {
		fmt.Println("y:")
	} else {
		fmt.Println("ies:")
	}
	for _, t := range removable {
		fmt.Printf("  %s (%s, %s old)\n", t.ID, t.Status, formatAge(t.CreatedAt))
	}

	if !cleanForce {
		fmt.Print("Proceed? [y/N] ")
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		if strings.ToLower(strings.TrimSpace(answer)) != "y" {
			fmt.Println("Aborted")
			return nil
		}
	}

	removed := 0
	for _, t := range removable {
		if err := storage.Remove(baseDir, t.ID); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Failed to remove %s: %v\n", t.ID, err)
			continue
		}
		removed++
	}
	fmt.Printf("Removed %d of %d\n", removed, len(removable))
	return nil
}
