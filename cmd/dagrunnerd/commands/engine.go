package commands

import (
	"context"
	"fmt"

	"github.com/ashgrove/dagrunner/pkg/dagrunner/backend"
	"github.com/ashgrove/dagrunner/pkg/dagrunner/config"
	"github.com/ashgrove/dagrunner/pkg/dagrunner/engine"
	"github.com/ashgrove/dagrunner/pkg/dagrunner/events"
	"github.com/ashgrove/dagrunner/pkg/dagrunner/sshconfig"
	"github.com/ashgrove/dagrunner/pkg/dagrunner/task/sshtransport"
	"github.com/spf13/cobra"
)

// openedEngine bundles the resources a one-shot CLI command needs to close
// when it's done (the engine itself only cancels in-memory state; the
// backend handle is separate).
type openedEngine struct {
	engine  *engine.Engine
	backend backend.Backend
	config  *config.Config
}

func (o *openedEngine) Close() {
	o.engine.Close()
	o.backend.Close()
}

// openEngineForCLI loads the daemon config, opens its backend, restores any
// previously-persisted dagobah, and hands back a ready-to-use engine for a
// single command invocation (no scheduler loop is started).
func openEngineForCLI(cmd *cobra.Command) (*openedEngine, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	logger := cfg.Logger(verbose)

	store, err := cfg.OpenBackend()
	if err != nil {
		return nil, fmt.Errorf("opening backend: %w", err)
	}

	var hosts *sshconfig.Config
	if !cfg.SSH.Disabled {
		path := cfg.SSH.ConfigPath
		if path == "" {
			if p, err := sshconfig.DefaultPath(); err == nil {
				path = p
			}
		}
		if loaded, err := sshconfig.Load(path); err == nil {
			hosts = loaded
		}
	}

	e, err := engine.New(context.Background(), engine.Config{
		ID:        cfg.Dagobah.ID,
		Backend:   store,
		Events:    events.NewHandler(logger),
		SSHConfig: hosts,
		Dialer:    &sshtransport.Dialer{},
		Logger:    logger,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("constructing engine: %w", err)
	}

	if cfg.Dagobah.ID != "" {
		if err := e.FromBackend(cfg.Dagobah.ID); err != nil {
			logger.Warn("failed to restore jobs from backend", "dagobah_id", cfg.Dagobah.ID, "error", err)
		}
	}

	return &openedEngine{engine: e, backend: store, config: cfg}, nil
}
