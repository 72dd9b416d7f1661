package cli

import (
	"errors"
	"fmt"

	"github.com/SamuraiBuddha/claude-flow-sub002/pkg/models"
	"github.com/spf13/cobra"
)

func newAgentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Manage pooled agents",
	}
	cmd.AddCommand(newAgentSpawnCmd())
	cmd.AddCommand(newAgentListCmd())
	cmd.AddCommand(newAgentShowCmd())
	cmd.AddCommand(newAgentTerminateCmd())
	cmd.AddCommand(newAgentCancelCmd())
	return cmd
}

func newAgentSpawnCmd() *cobra.Command {
	var (
		agentType string
		name      string
		languages []string
		domains   []string
		tools     []string
	)
	cmd := &cobra.Command{
		Use:   "spawn",
		Short: "Spawn a new agent process into the pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			if agentType == "" {
				return errors.New("--type is required")
			}
			c, err := apiClient(cmd)
			if err != nil {
				return err
			}
			ag, err := c.SpawnAgent(cmd.Context(), models.SpawnRequest{
				Type: agentType,
				Name: name,
				Capabilities: models.Capability{
					Languages: languages,
					Domains:   domains,
					Tools:     tools,
				},
			})
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Spawned %s (%s, pid %d)\n", ag.ID, ag.Type, ag.PID)
			return nil
		},
	}
	cmd.Flags().StringVar(&agentType, "type", "", "Agent type (e.g. coder, reviewer, tester)")
	cmd.Flags().StringVar(&name, "name", "", "Agent name")
	cmd.Flags().StringSliceVar(&languages, "language", nil, "Capability: language (repeatable)")
	cmd.Flags().StringSliceVar(&domains, "domain", nil, "Capability: domain (repeatable)")
	cmd.Flags().StringSliceVar(&tools, "tool", nil, "Capability: tool (repeatable)")
	return cmd
}

func newAgentListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pooled agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd)
			if err != nil {
				return err
			}
			agents, err := c.ListAgents(cmd.Context())
			if err != nil {
				return err
			}
			if len(agents) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No agents.")
				return nil
			}
			for _, a := range agents {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "- %s %s status=%s tasks=%d/%d\n",
					a.ID, a.Type, a.Status, a.Metrics.TasksCompleted, a.Metrics.TotalTasks)
			}
			return nil
		},
	}
	return cmd
}

func newAgentShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <agent-id>",
		Short: "Show one agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd)
			if err != nil {
				return err
			}
			a, err := c.GetAgent(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "id:        %s\n", a.ID)
			_, _ = fmt.Fprintf(out, "type:      %s\n", a.Type)
			_, _ = fmt.Fprintf(out, "status:    %s\n", a.Status)
			_, _ = fmt.Fprintf(out, "pid:       %d\n", a.PID)
			_, _ = fmt.Fprintf(out, "restarts:  %d\n", a.Restarts)
			if a.CurrentTask != "" {
				_, _ = fmt.Fprintf(out, "task:      %s\n", a.CurrentTask)
			}
			_, _ = fmt.Fprintf(out, "completed: %d (failed %d)\n", a.Metrics.TasksCompleted, a.Metrics.TasksFailed)
			return nil
		},
	}
	return cmd
}

func newAgentTerminateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "terminate <agent-id>",
		Short: "Terminate an agent's process and remove it from the pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd)
			if err != nil {
				return err
			}
			if err := c.TerminateAgent(cmd.Context(), args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Terminated %s\n", args[0])
			return nil
		},
	}
	return cmd
}

func newAgentCancelCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "cancel <agent-id>",
		Short: "Cancel the agent's in-flight task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd)
			if err != nil {
				return err
			}
			if err := c.CancelAgent(cmd.Context(), args[0], reason); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Cancelled task on %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Cancellation reason")
	return cmd
}
