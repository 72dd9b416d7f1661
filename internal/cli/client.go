package cli

import (
	"fmt"
	"os"

	"github.com/SamuraiBuddha/claude-flow-sub002/internal/config"
	"github.com/SamuraiBuddha/claude-flow-sub002/internal/daemon"
	"github.com/SamuraiBuddha/claude-flow-sub002/pkg/client"
	"github.com/spf13/cobra"
)

var (
	addrOverride   string
	apiKeyOverride string
)

// apiClient resolves the daemon address and API key for client commands.
// Address order: --addr flag, the running daemon's addr file, then the
// configured listen address. Key order: --api-key, CLAUDE_FLOW_API_KEY,
// then the config file.
func apiClient(cmd *cobra.Command) (*client.Client, error) {
	home := config.MustHomeFrom(cmd.Context())
	cfg, err := config.Load(home)
	if err != nil {
		return nil, err
	}

	addr := addrOverride
	if addr == "" {
		if st, err := daemon.Status(cmd.Context(), home); err == nil && st.Running && st.Addr != "" {
			addr = st.Addr
		}
	}
	if addr == "" {
		addr = cfg.Server.Listen
	}

	key := apiKeyOverride
	if key == "" {
		key = os.Getenv("CLAUDE_FLOW_API_KEY")
	}
	if key == "" {
		key = cfg.Server.APIKey
	}

	return client.New(fmt.Sprintf("http://%s", addr), key), nil
}
