package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/admitdesk/admitdesk/pkg/admitdesk/agent"
	"github.com/admitdesk/admitdesk/pkg/admitdesk/database"
	"github.com/admitdesk/admitdesk/pkg/admitdesk/store"
)

// newAgentCmd creates the `admitdesk agent` command group.
func newAgentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Manage conversational agents",
	}

	cmd.PersistentFlags().String("operator", "", "operator id (required)")

	cmd.AddCommand(
		newAgentListCmd(),
		newAgentCreateCmd(),
		newAgentDeleteCmd(),
	)
	return cmd
}

func newAgentListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List an operator's agents",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, cleanup, err := agentService(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			op, _ := cmd.Flags().GetString("operator")
			agents, err := svc.List(context.Background(), op)
			if err != nil {
				return err
			}
			if len(agents) == 0 {
				fmt.Println("no agents")
				return nil
			}
			for _, a := range agents {
				fmt.Printf("%s  %-20s  %-12s  %s\n", a.ID, a.Name, a.AgentType, a.Personality)
			}
			return nil
		},
	}
}

func newAgentCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := agentService(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			op, _ := cmd.Flags().GetString("operator")
			agentType, _ := cmd.Flags().GetString("type")
			personality, _ := cmd.Flags().GetString("personality")
			displayName, _ := cmd.Flags().GetString("institution")

			a, err := svc.Create(context.Background(), agent.CreateInput{
				OperatorID:          op,
				Name:                args[0],
				OperatorDisplayName: displayName,
				AgentType:           agentType,
				Personality:         personality,
			})
			if err != nil {
				return err
			}
			fmt.Printf("created agent %s (%s)\n", a.Name, a.ID)
			return nil
		},
	}
	cmd.Flags().String("type", "", "agent type (admissions, finance, support)")
	cmd.Flags().String("personality", "", "response tone")
	cmd.Flags().String("institution", "", "institution display name")
	return cmd
}

func newAgentDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <agent-id>",
		Short: "Delete an agent and its documents and connections",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := agentService(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			op, _ := cmd.Flags().GetString("operator")
			if err := svc.Delete(context.Background(), op, args[0]); err != nil {
				return err
			}
			fmt.Println("deleted")
			return nil
		},
	}
}

// agentService opens the database and builds an agent service for one-shot
// CLI operations.
func agentService(cmd *cobra.Command) (*agent.Service, func(), error) {
	op, _ := cmd.Flags().GetString("operator")
	if op == "" {
		return nil, nil, fmt.Errorf("--operator is required")
	}

	cfg, err := resolveConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	logger := newLogger(cmd, cfg)

	backend, err := database.Open(cfg.Database, logger)
	if err != nil {
		return nil, nil, err
	}

	svc := agent.NewService(
		store.NewAgentStore(backend),
		store.NewKnowledgeStore(backend),
		store.NewConnectionStore(backend),
		logger,
	)
	return svc, func() { backend.Close() }, nil
}
