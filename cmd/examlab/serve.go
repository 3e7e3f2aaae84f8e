package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/everydev1618/examlab/container"
	"github.com/everydev1618/examlab/serve"
	"github.com/everydev1618/examlab/terminal"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and terminal bridge",
	Long: `Starts the exercise backend: REST endpoints for the exercise lifecycle and
checks, a WebSocket terminal at /ws/terminal, server-sent events at /events
and Prometheus metrics at /metrics.`,
	Example: `  examlab serve
  examlab serve --addr :8080 --static ./web/dist
  examlab serve -c examlab.yaml`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "HTTP listen address (overrides config)")
	serveCmd.Flags().String("static", "", "Directory with a built browser client")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.manager.Close()

	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		a.cfg.Listen = addr
	}
	if dir, _ := cmd.Flags().GetString("static"); dir != "" {
		a.cfg.StaticDir = dir
	}

	bridge := terminal.NewBridge(terminal.ManagerSpawner(a.manager), a.store,
		terminal.WithLogger(a.log),
		terminal.WithMetrics(a.metrics),
	)
	a.lifecycle.SetSessionCloser(bridge)

	reconciler, err := container.NewReconciler(a.lifecycle, a.cfg.ReconcileSchedule)
	if err != nil {
		return err
	}

	srv := serve.New(serve.Config{
		Addr:      a.cfg.Listen,
		StaticDir: a.cfg.StaticDir,
	}, serve.Deps{
		Catalog:   a.catalog,
		Store:     a.store,
		Lifecycle: a.lifecycle,
		Checker:   a.checkEngine(),
		Terminal:  bridge,
		Gatherer:  a.registry,
		Logger:    a.log,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.log.Info("loaded exercises", "count", a.catalog.Len(), "checkers", len(a.checkers.IDs()), "image", a.cfg.Image)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		reconciler.Start(ctx)
		return nil
	})
	g.Go(func() error {
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	return g.Wait()
}
