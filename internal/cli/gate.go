package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/SamuraiBuddha/claude-flow-sub002/pkg/models"
	"github.com/spf13/cobra"
)

func newGateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gate",
		Short: "Inspect and control workflow gates",
	}
	cmd.AddCommand(newGateListCmd())
	cmd.AddCommand(newGateCheckCmd())
	for _, op := range []string{"pass", "skip", "block", "unblock", "reset"} {
		cmd.AddCommand(newGateOverrideCmd(op))
	}
	cmd.AddCommand(newGateContextCmd())
	return cmd
}

func newGateListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List gates and their states",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd)
			if err != nil {
				return err
			}
			states, err := c.ListGates(cmd.Context())
			if err != nil {
				return err
			}
			for _, s := range states {
				line := fmt.Sprintf("- %s %s attempts=%d", s.GateID, s.Status, s.Attempts)
				if s.LastResult != nil {
					line += fmt.Sprintf(" score=%.2f", s.LastResult.Score)
				}
				if s.OverriddenBy != "" {
					line += " overridden_by=" + s.OverriddenBy
				}
				if s.BlockedReason != "" {
					line += " reason=" + strconv.Quote(s.BlockedReason)
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}
	return cmd
}

func newGateCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check [gate-id]",
		Short: "Evaluate one gate, or all gates in dependency order",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd)
			if err != nil {
				return err
			}
			var results []models.GateResult
			if len(args) == 1 {
				res, err := c.CheckGate(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				results = []models.GateResult{*res}
			} else {
				results, err = c.CheckAllGates(cmd.Context())
				if err != nil {
					return err
				}
			}
			for _, r := range results {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "- %s %s score=%.2f\n", r.GateID, r.Status, r.Score)
				for _, req := range r.Requirements {
					if !req.Passed {
						_, _ = fmt.Fprintf(cmd.OutOrStdout(), "    failed: %s (%s)\n", req.ID, req.Error)
					}
				}
				if len(r.RequiredActions) > 0 {
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "    actions: %s\n", strings.Join(r.RequiredActions, ", "))
				}
			}
			return nil
		},
	}
	return cmd
}

func newGateOverrideCmd(op string) *cobra.Command {
	var by, reason string
	short := map[string]string{
		"pass":    "Manually pass a gate",
		"skip":    "Skip a non-mandatory gate",
		"block":   "Block a gate until unblocked",
		"unblock": "Unblock a blocked gate",
		"reset":   "Reset a gate to pending",
	}[op]
	cmd := &cobra.Command{
		Use:   op + " <gate-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd)
			if err != nil {
				return err
			}
			st, err := c.OverrideGate(cmd.Context(), args[0], op, by, reason)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", st.GateID, st.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&by, "by", "", "Who performed the override")
	cmd.Flags().StringVar(&reason, "reason", "", "Override reason")
	return cmd
}

func newGateContextCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "context set key=value [key=value ...]",
		Short: "Set gate context values (bool, int, float, or string inferred)",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if args[0] != "set" {
				return fmt.Errorf("unknown context operation %q", args[0])
			}
			values := make(map[string]models.ContextValue, len(args)-1)
			for _, pair := range args[1:] {
				i := strings.Index(pair, "=")
				if i <= 0 {
					return fmt.Errorf("expected key=value, got %q", pair)
				}
				values[pair[:i]] = inferContextValue(pair[i+1:])
			}
			c, err := apiClient(cmd)
			if err != nil {
				return err
			}
			if err := c.SetContext(cmd.Context(), values); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Set %d context value(s)\n", len(values))
			return nil
		},
	}
	return cmd
}

// inferContextValue types a raw CLI value: true/false, then int, then
// float, falling back to string.
func inferContextValue(raw string) models.ContextValue {
	switch raw {
	case "true":
		return models.ContextValue{Kind: "bool", Bool: true}
	case "false":
		return models.ContextValue{Kind: "bool"}
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return models.ContextValue{Kind: "int", Int: n}
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return models.ContextValue{Kind: "float", Float: f}
	}
	return models.ContextValue{Kind: "string", String: raw}
}
