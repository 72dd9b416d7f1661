package cli

import (
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/SamuraiBuddha/claude-flow-sub002/internal/config"
	"github.com/spf13/cobra"
)

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Verify configuration and runtime dependencies",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())

			var problems []string

			cfg, err := config.Load(home)
			if err != nil {
				problems = append(problems, fmt.Sprintf("config: %v", err))
			} else {
				if _, err := cfg.BuildGates(); err != nil {
					problems = append(problems, fmt.Sprintf("gates: %v", err))
				}
				// The pool spawns this command for every agent.
				wc := cfg.Pool.Command
				if wc != "" && !strings.Contains(wc, string(filepath.Separator)) {
					if _, err := exec.LookPath(wc); err != nil {
						problems = append(problems, fmt.Sprintf("worker command %q not found on PATH", wc))
					}
				}
			}

			if len(problems) > 0 {
				for _, p := range problems {
					_, _ = fmt.Fprintln(cmd.ErrOrStderr(), p)
				}
				return errors.New("doctor checks failed")
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
	return cmd
}
