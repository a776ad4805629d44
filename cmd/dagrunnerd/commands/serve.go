package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashgrove/dagrunner/pkg/dagrunner/config"
	"github.com/ashgrove/dagrunner/pkg/dagrunner/engine"
	"github.com/ashgrove/dagrunner/pkg/dagrunner/events"
	"github.com/ashgrove/dagrunner/pkg/dagrunner/sshconfig"
	"github.com/ashgrove/dagrunner/pkg/dagrunner/task/sshtransport"
)

// newServeCmd creates the `dagrunnerd serve` command that starts the daemon.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the scheduler daemon",
		Long: `Start dagrunnerd as a daemon: load the configured backend, resolve
the configured SSH hosts, and run the scheduler loop until signaled to stop.

Examples:
  dagrunnerd serve
  dagrunnerd serve --config ./dagrunner.yaml`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	logger := cfg.Logger(verbose)

	store, err := cfg.OpenBackend()
	if err != nil {
		return fmt.Errorf("opening backend: %w", err)
	}

	var hosts *sshconfig.Config
	if !cfg.SSH.Disabled {
		path := cfg.SSH.ConfigPath
		if path == "" {
			if p, err := sshconfig.DefaultPath(); err == nil {
				path = p
			}
		}
		hosts, err = sshconfig.Load(path)
		if err != nil {
			logger.Warn("failed to load SSH config, remote tasks will not resolve host aliases", "error", err)
			hosts = nil
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e, err := engine.New(ctx, engine.Config{
		ID:        cfg.Dagobah.ID,
		Backend:   store,
		Events:    events.NewHandler(logger),
		SSHConfig: hosts,
		Dialer:    &sshtransport.Dialer{},
		Logger:    logger,
	})
	if err != nil {
		store.Close()
		return fmt.Errorf("constructing engine: %w", err)
	}

	if cfg.Dagobah.ID != "" {
		if err := e.FromBackend(cfg.Dagobah.ID); err != nil {
			logger.Warn("failed to restore jobs from backend", "dagobah_id", cfg.Dagobah.ID, "error", err)
		}
	}

	e.StartScheduler(ctx)

	logger.Info("dagrunnerd running, press Ctrl+C to stop", "dagobah_id", cfg.Dagobah.ID, "backend", cfg.Backend.Driver)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received, stopping...")

	done := make(chan struct{})
	go func() {
		e.Close()
		store.Close()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(10 * time.Second):
		logger.Warn("shutdown timed out after 10s, forcing exit")
	}

	return nil
}

// loadConfig reads the --config flag, falling back to auto-discovery and
// then to the daemon defaults when no config file exists.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	if path == "" {
		path = config.FindConfigFile()
	}
	return config.Load(path)
}
