// Package cli wires the claude-flow command tree.
package cli

import (
	"os"

	"github.com/SamuraiBuddha/claude-flow-sub002/internal/config"
	"github.com/spf13/cobra"
)

func NewRootCmd(version string) *cobra.Command {
	var homeOverride string

	cmd := &cobra.Command{
		Use:          "claude-flow",
		Short:        "claude-flow agent process orchestration with gated workflows",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			home, err := config.ResolveHome(homeOverride)
			if err != nil {
				return err
			}
			cmd.SetContext(config.WithHome(cmd.Context(), home))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&homeOverride, "home", "", "Override claude-flow home directory (default: ~/.claude-flow, env: CLAUDE_FLOW_HOME)")
	cmd.PersistentFlags().StringVar(&addrOverride, "addr", "", "Daemon address to talk to (default: from running daemon, else config)")
	cmd.PersistentFlags().StringVar(&apiKeyOverride, "api-key", "", "API key for the daemon (env: CLAUDE_FLOW_API_KEY)")

	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newStartCmd())
	cmd.AddCommand(newStopCmd())
	cmd.AddCommand(newStatusCmd())

	cmd.AddCommand(newAgentCmd())
	cmd.AddCommand(newTaskCmd())
	cmd.AddCommand(newGateCmd())
	cmd.AddCommand(newWorkflowCmd())
	cmd.AddCommand(newPoolCmd())
	cmd.AddCommand(newAuditCmd())
	cmd.AddCommand(newCheckpointCmd())
	cmd.AddCommand(newApikeyCmd())
	cmd.AddCommand(newNukeCmd())

	// Hidden subcommand run as the pooled worker subprocess.
	cmd.AddCommand(newWorkerCmd())

	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.SetVersionTemplate("{{.Version}}\n")
	if version != "" {
		cmd.Version = version
	} else {
		cmd.Version = "dev"
	}

	return cmd
}
