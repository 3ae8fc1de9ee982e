package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/foundry/pkg/api"
	"github.com/cuemby/foundry/pkg/config"
	"github.com/cuemby/foundry/pkg/driver"
	"github.com/cuemby/foundry/pkg/importer"
	"github.com/cuemby/foundry/pkg/log"
	"github.com/cuemby/foundry/pkg/metrics"
	"github.com/cuemby/foundry/pkg/reconciler"
	"github.com/cuemby/foundry/pkg/storage"

	// Compiled-in drivers register themselves at init.
	_ "github.com/cuemby/foundry/pkg/driver/hwtype"
	_ "github.com/cuemby/foundry/pkg/driver/workers"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const configErrorExit = 2

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "foundry",
	Short: "Foundry - Inventory and reconciliation for heterogeneous hardware",
	Long: `Foundry tracks bare metal nodes, edge devices, and other compute
hardware in a single inventory, and keeps downstream services (provisioning,
reservation, scheduling) in sync with it through per-item worker tasks.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Foundry version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the config file")

	rootCmd.AddCommand(serveAPICmd)
	rootCmd.AddCommand(serveWorkerCmd)
	rootCmd.AddCommand(importCmd)
}

// setup loads config, initializes logging, loads drivers, and opens the
// store. Configuration problems exit with a distinct status so wrappers can
// tell them apart from runtime failures.
func setup() (*config.Config, *driver.Registry, storage.Store) {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(configErrorExit)
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
	})

	registry, err := driver.Load(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(configErrorExit)
	}

	store, err := storage.NewBoltStore(cfg.Database.Path, registry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return cfg, registry, store
}

var serveAPICmd = &cobra.Command{
	Use:   "serve-api",
	Short: "Run the REST API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, registry, store := setup()
		defer store.Close()

		server, err := api.NewServer(cfg, store, registry, nil)
		if err != nil {
			return err
		}

		collector := metrics.NewCollector(store)
		collector.Start()
		defer collector.Stop()

		errCh := make(chan error, 1)
		go func() { errCh <- server.Start() }()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case err := <-errCh:
			return err
		case sig := <-sigCh:
			logger := log.WithComponent("main")
			logger.Info().Str("signal", sig.String()).Msg("Shutting down")
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return server.Shutdown(ctx)
		}
	},
}

var serveWorkerCmd = &cobra.Command{
	Use:   "serve-worker",
	Short: "Run the reconciler that processes pending worker tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, registry, store := setup()
		defer store.Close()

		rec := reconciler.New(store, registry, cfg)
		rec.Start()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger := log.WithComponent("main")
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")

		rec.Stop()
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Adopt hardware already present in downstream services",
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		projectID, _ := cmd.Flags().GetString("project-id")

		_, registry, store := setup()
		defer store.Close()

		summary, err := importer.New(store, registry).Run(context.Background(), projectID, dryRun)
		if err != nil {
			return err
		}
		fmt.Printf("Discovered: %d\nCreated: %d\nSkipped: %d\n",
			summary.Discovered, summary.Created, summary.Skipped)
		return nil
	},
}

func init() {
	importCmd.Flags().Bool("dry-run", false, "Report what would be imported without writing")
	importCmd.Flags().String("project-id", "", "Project that owns the imported hardware")
}
