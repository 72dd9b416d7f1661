package cli

import (
	"os"

	"github.com/SamuraiBuddha/claude-flow-sub002/internal/worker"
	"github.com/spf13/cobra"
)

// newWorkerCmd is the built-in worker used when pool.command is left as
// the claude-flow binary itself. It speaks the NDJSON protocol on
// stdin/stdout and echoes task payloads.
func newWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:    "worker",
		Short:  "Internal: run as a pooled worker process",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return worker.RunStub(cmd.Context(), os.Stdin, os.Stdout)
		},
	}
	return cmd
}
