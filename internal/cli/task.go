package cli

import (
	"errors"
	"fmt"

	"github.com/SamuraiBuddha/claude-flow-sub002/pkg/models"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Submit and manage tasks",
	}
	cmd.AddCommand(newTaskSubmitCmd())
	cmd.AddCommand(newTaskListCmd())
	cmd.AddCommand(newTaskCompleteCmd())
	cmd.AddCommand(newTaskUnassignCmd())
	cmd.AddCommand(newTaskRebalanceCmd())
	return cmd
}

func newTaskSubmitCmd() *cobra.Command {
	var (
		id        string
		name      string
		tags      []string
		agentType string
		priority  string
		execute   bool
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a task for assignment (optionally execute it now)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return errors.New("--name is required")
			}
			if id == "" {
				id = uuid.NewString()
			}
			c, err := apiClient(cmd)
			if err != nil {
				return err
			}
			req := models.TaskRequest{
				ID:        id,
				Name:      name,
				Tags:      tags,
				AgentType: agentType,
				Priority:  priority,
			}
			if execute {
				out, err := c.ExecuteTask(cmd.Context(), req)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Task %s ran on %s: %s\n",
					out.Result.TaskID, out.Assignment.AgentID, out.Result.Status)
				if out.Result.Error != "" {
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "error: %s\n", out.Result.Error)
				}
				return nil
			}
			as, err := c.AssignTask(cmd.Context(), req)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Assigned %s to %s (score %.2f: %s)\n",
				as.TaskID, as.AgentID, as.Score, as.Reason)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Task ID (default: random)")
	cmd.Flags().StringVar(&name, "name", "", "Task name")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "Task tag for capability matching (repeatable)")
	cmd.Flags().StringVar(&agentType, "type", "", "Required agent type")
	cmd.Flags().StringVar(&priority, "priority", "", "Priority: low, normal, high, critical")
	cmd.Flags().BoolVar(&execute, "execute", false, "Run the task on the assigned agent and wait")
	return cmd
}

func newTaskListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List current assignments",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd)
			if err != nil {
				return err
			}
			assignments, err := c.ListAssignments(cmd.Context())
			if err != nil {
				return err
			}
			if len(assignments) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No assignments.")
				return nil
			}
			for _, a := range assignments {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "- %s -> %s (score %.2f)\n", a.TaskID, a.AgentID, a.Score)
			}
			return nil
		},
	}
	return cmd
}

func newTaskCompleteCmd() *cobra.Command {
	var failed bool
	cmd := &cobra.Command{
		Use:   "complete <task-id>",
		Short: "Report a task outcome for an externally executed task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd)
			if err != nil {
				return err
			}
			if err := c.CompleteTask(cmd.Context(), args[0], !failed); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Task %s completed (success=%v)\n", args[0], !failed)
			return nil
		},
	}
	cmd.Flags().BoolVar(&failed, "failed", false, "Record the task as failed")
	return cmd
}

func newTaskUnassignCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unassign <task-id>",
		Short: "Release a task assignment without recording an outcome",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd)
			if err != nil {
				return err
			}
			if err := c.UnassignTask(cmd.Context(), args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Unassigned %s\n", args[0])
			return nil
		},
	}
	return cmd
}

func newTaskRebalanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rebalance",
		Short: "Redistribute queued tasks away from overloaded agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd)
			if err != nil {
				return err
			}
			res, err := c.Rebalance(cmd.Context())
			if err != nil {
				return err
			}
			if len(res.Moves) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No moves.")
			}
			for _, m := range res.Moves {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "- %s: %s -> %s\n", m.TaskID, m.From, m.To)
			}
			for _, r := range res.Recommendations {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "note: %s\n", r)
			}
			return nil
		},
	}
	return cmd
}
