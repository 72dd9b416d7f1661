package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/SamuraiBuddha/claude-flow-sub002/internal/config"
	"github.com/SamuraiBuddha/claude-flow-sub002/internal/daemon"
	"github.com/spf13/cobra"
)

func newStartCmd() *cobra.Command {
	var (
		listen     string
		foreground bool
		pprofAddr  string
		noMetrics  bool
		envFile    string
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the claude-flow daemon (HTTP API + process pool)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if envFile != "" {
				if err := loadEnvFile(envFile); err != nil {
					return err
				}
			}
			home := config.MustHomeFrom(cmd.Context())

			opts := daemon.StartOptions{
				Home:      home,
				Addr:      listen,
				PprofAddr: pprofAddr,
				NoMetrics: noMetrics,
			}

			if foreground {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Starting claude-flow in foreground")
				return daemon.StartForeground(cmd.Context(), opts)
			}

			pid, err := daemon.StartBackground(cmd.Context(), opts)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "claude-flow started (pid %d)\n", pid)
			return nil
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (overrides server.listen in config.yaml)")
	cmd.Flags().BoolVar(&foreground, "foreground", false, "Run in foreground (do not daemonize)")
	cmd.Flags().StringVar(&pprofAddr, "pprof", "", "Enable pprof on address (e.g. 127.0.0.1:6060)")
	cmd.Flags().BoolVar(&noMetrics, "no-metrics", false, "Disable the Prometheus /metrics endpoint")
	cmd.Flags().StringVar(&envFile, "env-file", "", "Load env vars from file (KEY=VALUE per line) before starting")

	return cmd
}

func loadEnvFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		i := strings.Index(line, "=")
		if i <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:i])
		value := strings.TrimSpace(line[i+1:])
		if key != "" {
			_ = os.Setenv(key, value)
		}
	}
	return sc.Err()
}
