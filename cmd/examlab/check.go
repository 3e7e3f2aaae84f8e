package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/everydev1618/examlab"
)

var checkCmd = &cobra.Command{
	Use:   "check <id>",
	Short: "Grade an exercise against its running container",
	Long: `Runs every probe registered for the exercise inside its container and
prints the aggregate result. Exits non-zero unless the result is PASS.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		asJSON, _ := cmd.Flags().GetBool("json")

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.manager.Close()

		ex, ok := a.catalog.Get(id)
		if !ok {
			return &examlab.ExerciseError{ExerciseID: id, Err: examlab.ErrExerciseNotFound}
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
		defer cancel()

		result, err := a.checkEngine().Run(ctx, id)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if asJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return err
			}
		} else {
			fmt.Fprintln(out, renderCheck(ex, result))
		}

		if result.Status != examlab.CheckPass {
			return fmt.Errorf("exercise %d: %s", id, result.Status)
		}
		return nil
	},
}

func init() {
	checkCmd.Flags().Bool("json", false, "Print the result as JSON")
	rootCmd.AddCommand(checkCmd)
}
