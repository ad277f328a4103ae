package commands

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/admitdesk/admitdesk/pkg/admitdesk/agent"
	"github.com/admitdesk/admitdesk/pkg/admitdesk/channel"
	"github.com/admitdesk/admitdesk/pkg/admitdesk/config"
	"github.com/admitdesk/admitdesk/pkg/admitdesk/database"
	"github.com/admitdesk/admitdesk/pkg/admitdesk/knowledge"
	"github.com/admitdesk/admitdesk/pkg/admitdesk/maintenance"
	"github.com/admitdesk/admitdesk/pkg/admitdesk/objectstore"
	"github.com/admitdesk/admitdesk/pkg/admitdesk/store"
	"github.com/admitdesk/admitdesk/pkg/admitdesk/webui"
)

// newServeCmd creates the `admitdesk serve` command that starts the portal.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the portal backend",
		Long: `Start the AdmitDesk backend: the HTTP API, the knowledge ingestion
pipeline, the channel pairing manager, and the maintenance scheduler.

Examples:
  admitdesk serve
  admitdesk serve --config ./config.yaml`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd, cfg)

	// ── Database ──
	backend, err := database.Open(cfg.Database, logger)
	if err != nil {
		return err
	}
	defer backend.Close()

	// ── Stores ──
	agents := store.NewAgentStore(backend)
	docs := store.NewKnowledgeStore(backend)
	identities := store.NewIdentityStore(backend)
	conns := store.NewConnectionStore(backend)
	portal := store.NewPortalStore(backend)

	// ── Services ──
	objects := objectstore.NewFileSystemStore(cfg.Objects, logger)
	agentSvc := agent.NewService(agents, docs, conns, logger)
	worker := knowledge.NewWorkerClient(cfg.Worker, logger)
	pipeline := knowledge.NewPipeline(agentSvc, docs, objects, worker, nil, logger)

	providerClient := channel.NewClient(cfg.Channel, logger)
	provisioner := channel.NewProvisioner(identities, providerClient, cfg.Plan, logger)
	pairing := channel.NewManager(conns, agents, provisioner, providerClient, nil, logger)

	// ── Maintenance ──
	sweeper := maintenance.NewSweeper(cfg.Maintenance, objects, logger)
	if err := sweeper.Start(); err != nil {
		return err
	}
	defer sweeper.Stop()

	// ── HTTP API ──
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server := webui.New(cfg.Web, agentSvc, pipeline, pairing, portal, objects, logger)
	if cfg.Web.Enabled {
		if err := server.Start(ctx); err != nil {
			return err
		}
		defer server.Stop()
	}

	logger.Info("admitdesk started", "database", backend.Name)

	// Block until a termination signal.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("shutting down", "signal", sig.String())
	return nil
}

// resolveConfig loads the config file from --config or falls back to
// ./config.yaml; a missing file yields defaults.
func resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	if path == "" {
		path = "config.yaml"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.DefaultConfig(), nil
	}
	return config.Load(path)
}

// newLogger builds the process logger from config and the --verbose flag.
func newLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	logLevel := slog.LevelInfo
	if verbose || cfg.Logging.Level == "debug" {
		logLevel = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	return slog.New(handler)
}
