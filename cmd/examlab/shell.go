package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/everydev1618/examlab"
	"github.com/everydev1618/examlab/container"
)

var shellCmd = &cobra.Command{
	Use:   "shell <id>",
	Short: "Open an interactive shell in a running exercise container",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}

		in := int(os.Stdin.Fd())
		if !term.IsTerminal(in) {
			return errors.New("shell requires an interactive terminal")
		}

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.manager.Close()

		if !a.catalog.Has(id) {
			return &examlab.ExerciseError{ExerciseID: id, Err: examlab.ErrExerciseNotFound}
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		state, err := a.manager.Observe(ctx, id)
		if err != nil {
			return err
		}
		if state != container.StateRunning {
			return fmt.Errorf("exercise %d: %w: run 'examlab exercises start %d' first", id, examlab.ErrNotRunning, id)
		}

		cols, rows := terminalSize()
		shell, err := a.manager.AttachShell(ctx, id, container.ShellOptions{Cols: cols, Rows: rows})
		if err != nil {
			return err
		}
		defer shell.Close()

		old, err := term.MakeRaw(in)
		if err != nil {
			return fmt.Errorf("raw mode: %w", err)
		}
		defer term.Restore(in, old)

		stopResize := watchResize(ctx, func() {
			cols, rows := terminalSize()
			shell.Resize(ctx, cols, rows)
		})
		defer stopResize()

		// Stdin reads block until the next keypress; the copy is abandoned
		// when the shell exits.
		go io.Copy(shell, os.Stdin)

		if _, err := io.Copy(os.Stdout, shell); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("terminal stream failed: %w", err)
		}

		exitCtx, exitCancel := context.WithTimeout(ctx, 2*time.Second)
		defer exitCancel()
		code, err := shell.ExitCode(exitCtx)
		if err != nil {
			return err
		}
		if code != 0 {
			return exitError{code: code}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(shellCmd)
}

// exitError carries the remote shell's exit code back to main.
type exitError struct {
	code int
}

func (e exitError) Error() string {
	return fmt.Sprintf("shell exited with code %d", e.code)
}

func terminalSize() (uint, uint) {
	w, h, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 || h <= 0 {
		return 80, 24
	}
	return uint(w), uint(h)
}
