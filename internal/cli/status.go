package cli

import (
	"fmt"

	"github.com/SamuraiBuddha/claude-flow-sub002/internal/config"
	"github.com/SamuraiBuddha/claude-flow-sub002/internal/daemon"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show claude-flow daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			st, err := daemon.Status(cmd.Context(), home)
			if err != nil {
				return err
			}
			if !st.Running {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "claude-flow not running")
				return nil
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "claude-flow running (pid %d, addr %s)\n", st.PID, st.Addr)

			c, err := apiClient(cmd)
			if err != nil {
				return nil
			}
			stats, err := c.PoolStats(cmd.Context())
			if err != nil {
				return nil
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "pool: %d/%d agents (%d idle, %d busy, %d failed)\n",
				stats.Total, stats.Capacity, stats.Idle, stats.Busy, stats.Failed)
			return nil
		},
	}
	return cmd
}
