package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/admitdesk/admitdesk/pkg/admitdesk/database"
)

// newDBCmd creates the `admitdesk db` command group.
func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database utilities",
	}
	cmd.AddCommand(newDBStatusCmd(), newDBMigrateCmd())
	return cmd
}

func newDBStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show database backend health",
		RunE: func(cmd *cobra.Command, _ []string) error {
			backend, cleanup, err := openBackend(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			status := backend.Health.Status(ctx)
			fmt.Printf("backend:  %s (%s)\n", backend.Name, backend.Type)
			fmt.Printf("healthy:  %v\n", status.Healthy)
			fmt.Printf("latency:  %s\n", status.Latency)
			if status.Error != "" {
				fmt.Printf("error:    %s\n", status.Error)
			}

			version, err := backend.Migrator.CurrentVersion(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("schema:   v%d\n", version)
			return nil
		},
	}
}

func newDBMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			backend, cleanup, err := openBackend(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			// Open already migrates; report the resulting version.
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			version, err := backend.Migrator.CurrentVersion(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("schema at v%d\n", version)
			return nil
		},
	}
}

func openBackend(cmd *cobra.Command) (*database.Backend, func(), error) {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	logger := newLogger(cmd, cfg)

	backend, err := database.Open(cfg.Database, logger)
	if err != nil {
		return nil, nil, err
	}
	return backend, func() { backend.Close() }, nil
}
