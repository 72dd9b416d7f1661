package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPoolCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pool",
		Short: "Show process pool statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd)
			if err != nil {
				return err
			}
			s, err := c.PoolStats(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "agents:     %d/%d\n", s.Total, s.Capacity)
			_, _ = fmt.Fprintf(out, "idle:       %d\n", s.Idle)
			_, _ = fmt.Fprintf(out, "busy:       %d\n", s.Busy)
			_, _ = fmt.Fprintf(out, "failed:     %d\n", s.Failed)
			_, _ = fmt.Fprintf(out, "spawned:    %d\n", s.TotalSpawned)
			_, _ = fmt.Fprintf(out, "terminated: %d\n", s.TotalTerminated)
			_, _ = fmt.Fprintf(out, "tasks:      %d completed, %d failed\n", s.TasksCompleted, s.TasksFailed)
			return nil
		},
	}
	return cmd
}

func newAuditCmd() *cobra.Command {
	var (
		eventType string
		agentID   string
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show recent audit log entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd)
			if err != nil {
				return err
			}
			events, err := c.AuditEvents(cmd.Context(), eventType, agentID, limit)
			if err != nil {
				return err
			}
			if len(events) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No events.")
				return nil
			}
			for _, ev := range events {
				line := fmt.Sprintf("%s %s", ev.CreatedAt.Format("2006-01-02 15:04:05"), ev.Type)
				if ev.AgentID != "" {
					line += " agent=" + ev.AgentID
				}
				if ev.TaskID != "" {
					line += " task=" + ev.TaskID
				}
				if ev.GateID != "" {
					line += " gate=" + ev.GateID
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&eventType, "type", "", "Filter by event type (e.g. agent:error)")
	cmd.Flags().StringVar(&agentID, "agent", "", "Filter by agent ID")
	cmd.Flags().IntVar(&limit, "limit", 50, "Max entries")
	return cmd
}

func newCheckpointCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Persist assignment and gate state to the store now",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd)
			if err != nil {
				return err
			}
			if err := c.SaveState(cmd.Context()); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Saved")
			return nil
		},
	}
	return cmd
}
