package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/everydev1618/examlab"
	"github.com/everydev1618/examlab/container"
)

// lifecycleTimeout bounds a single CLI lifecycle command, including an
// image pull on first start.
const lifecycleTimeout = 10 * time.Minute

var exercisesCmd = &cobra.Command{
	Use:     "exercises",
	Aliases: []string{"ex"},
	Short:   "List, inspect and control exercises",
}

var exercisesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List exercises with the state of their containers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.manager.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		status := make(map[int]examlab.Status, a.catalog.Len())
		engine := a.lifecycle.ProbeEngine(ctx)
		for _, id := range a.catalog.IDs() {
			status[id] = examlab.StatusIdle
			if !engine.Available {
				continue
			}
			state, err := a.manager.Observe(ctx, id)
			if err != nil {
				return err
			}
			status[id] = container.StatusOf(state)
		}

		out := cmd.OutOrStdout()
		renderExerciseTable(out, a.catalog.All(), status)
		if !engine.Available {
			fmt.Fprintln(out, subtleStyle.Render("\ncontainer engine unavailable: "+engine.Error))
		}
		return nil
	},
}

var exercisesShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show the instructions for an exercise",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		cat, err := loadCatalog(cfg)
		if err != nil {
			return err
		}
		ex, ok := cat.Get(id)
		if !ok {
			return &examlab.ExerciseError{ExerciseID: id, Err: examlab.ErrExerciseNotFound}
		}
		fmt.Fprint(cmd.OutOrStdout(), renderInstructions(ex))
		return nil
	},
}

// lifecycleCmd builds start, stop and reset subcommands.
func lifecycleCmd(use, short string, op func(*container.Lifecycle) func(context.Context, int) (examlab.Status, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.manager.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), lifecycleTimeout)
			defer cancel()

			status, err := op(a.lifecycle)(ctx, id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exercise %d: %s\n", id, statusStyle(status).Render(string(status)))
			return nil
		},
	}
}

func init() {
	exercisesCmd.AddCommand(exercisesListCmd, exercisesShowCmd)
	exercisesCmd.AddCommand(
		lifecycleCmd("start", "Create and start the exercise container", func(lc *container.Lifecycle) func(context.Context, int) (examlab.Status, error) {
			return lc.Start
		}),
		lifecycleCmd("stop", "Stop the exercise container", func(lc *container.Lifecycle) func(context.Context, int) (examlab.Status, error) {
			return lc.Stop
		}),
		lifecycleCmd("reset", "Recreate the exercise container from scratch", func(lc *container.Lifecycle) func(context.Context, int) (examlab.Status, error) {
			return lc.Reset
		}),
	)
	rootCmd.AddCommand(exercisesCmd)
}
