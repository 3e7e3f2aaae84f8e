// Package main provides the examlab CLI.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/everydev1618/examlab"
	"github.com/everydev1618/examlab/catalog"
	"github.com/everydev1618/examlab/checker"
	"github.com/everydev1618/examlab/container"
	"github.com/everydev1618/examlab/internal/config"
	"github.com/everydev1618/examlab/internal/logging"
	"github.com/everydev1618/examlab/internal/metrics"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "examlab",
	Short: "Hands-on Linux administration exercises in containers",
	Long: `examlab runs one container per exercise, bridges browser terminals into
them and grades the result with scripted checks.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var exit exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("docker-host", "", "Docker daemon address")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the examlab version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("examlab %s\n", version)
	},
}

// app holds the components shared by the subcommands.
type app struct {
	cfg       *config.Config
	log       *slog.Logger
	catalog   *catalog.Catalog
	checkers  *checker.Registry
	store     *examlab.Store
	manager   *container.Manager
	lifecycle *container.Lifecycle
	metrics   *metrics.Metrics
	registry  *prometheus.Registry
}

// loadConfig reads the config file and applies persistent flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	if host, _ := cmd.Flags().GetString("docker-host"); host != "" {
		cfg.DockerHost = host
	}
	return cfg, nil
}

// newApp wires the catalog, checker table, store and container lifecycle.
func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(log)

	cat, err := loadCatalog(cfg)
	if err != nil {
		return nil, err
	}
	checkers, err := loadCheckers(cfg)
	if err != nil {
		return nil, err
	}

	mgr, err := container.NewManager(container.Config{
		Image:           cfg.Image,
		Prefix:          cfg.ContainerPrefix,
		Shell:           cfg.Shell,
		StopTimeout:     cfg.StopTimeout,
		TeardownTimeout: cfg.TeardownTimeout,
		DockerHost:      cfg.DockerHost,
	}, container.WithLogger(log))
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	store := examlab.NewStore(cat.All())
	lc := container.NewLifecycle(mgr, store, cat,
		container.WithLifecycleLogger(log),
		container.WithMetrics(m),
		container.WithOperationTimeout(lifecycleTimeout),
	)

	return &app{
		cfg:       cfg,
		log:       log,
		catalog:   cat,
		checkers:  checkers,
		store:     store,
		manager:   mgr,
		lifecycle: lc,
		metrics:   m,
		registry:  reg,
	}, nil
}

// checkEngine returns the checker engine over the app's manager and store.
func (a *app) checkEngine() *checker.Engine {
	return checker.New(a.checkers, a.manager, a.store,
		checker.WithProbeTimeout(a.cfg.ProbeTimeout),
		checker.WithLogger(a.log),
		checker.WithMetrics(a.metrics),
	)
}

func loadCatalog(cfg *config.Config) (*catalog.Catalog, error) {
	if cfg.CatalogFile != "" {
		return catalog.LoadFile(cfg.CatalogFile)
	}
	return catalog.Load()
}

func loadCheckers(cfg *config.Config) (*checker.Registry, error) {
	if cfg.CheckersFile != "" {
		return checker.LoadFile(cfg.CheckersFile)
	}
	return checker.Load()
}
