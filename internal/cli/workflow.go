package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/SamuraiBuddha/claude-flow-sub002/pkg/models"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newWorkflowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Manage workflow instances",
	}
	cmd.AddCommand(newWorkflowCreateCmd())
	cmd.AddCommand(newWorkflowListCmd())
	cmd.AddCommand(newWorkflowShowCmd())
	for _, op := range []string{"start", "pause", "resume", "cancel", "rollback"} {
		cmd.AddCommand(newWorkflowOpCmd(op))
	}
	cmd.AddCommand(newWorkflowAdvanceCmd())
	return cmd
}

// workflowFile is the YAML shape accepted by `workflow create --file`.
type workflowFile struct {
	Name   string `yaml:"name"`
	Phases []struct {
		Name  string   `yaml:"name"`
		Gates []string `yaml:"gates"`
		Tasks []struct {
			ID   string   `yaml:"id"`
			Name string   `yaml:"name"`
			Tags []string `yaml:"tags"`
			Type string   `yaml:"agent_type"`
		} `yaml:"tasks"`
	} `yaml:"phases"`
}

func newWorkflowCreateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a workflow instance from a YAML definition",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return errors.New("--file is required")
			}
			raw, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			var def workflowFile
			if err := yaml.Unmarshal(raw, &def); err != nil {
				return fmt.Errorf("parse %s: %w", file, err)
			}
			if def.Name == "" {
				return fmt.Errorf("%s: workflow name is required", file)
			}
			phases := make([]models.Phase, 0, len(def.Phases))
			for _, p := range def.Phases {
				ph := models.Phase{Name: p.Name, Gates: p.Gates}
				for _, t := range p.Tasks {
					ph.Tasks = append(ph.Tasks, models.TaskRequest{
						ID:        t.ID,
						Name:      t.Name,
						Tags:      t.Tags,
						AgentType: t.Type,
					})
				}
				phases = append(phases, ph)
			}
			c, err := apiClient(cmd)
			if err != nil {
				return err
			}
			wf, err := c.CreateWorkflow(cmd.Context(), def.Name, phases)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created workflow %s (%s, %d phases)\n", wf.ID, wf.Name, len(wf.Phases))
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Workflow definition YAML")
	return cmd
}

func newWorkflowListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workflow instances",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd)
			if err != nil {
				return err
			}
			flows, err := c.ListWorkflows(cmd.Context())
			if err != nil {
				return err
			}
			if len(flows) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No workflows.")
				return nil
			}
			for _, wf := range flows {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "- %s %s status=%s phase=%d/%d\n",
					wf.ID, wf.Name, wf.Status, wf.Current+1, len(wf.Phases))
			}
			return nil
		},
	}
	return cmd
}

func newWorkflowShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <workflow-id>",
		Short: "Show one workflow instance with its phase history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd)
			if err != nil {
				return err
			}
			wf, err := c.GetWorkflow(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "%s %s status=%s\n", wf.ID, wf.Name, wf.Status)
			for i, p := range wf.Phases {
				marker := " "
				if i == wf.Current && wf.Status == models.WorkflowRunning {
					marker = ">"
				}
				_, _ = fmt.Fprintf(out, "%s %d. %s (gates: %d, tasks: %d)\n", marker, i+1, p.Name, len(p.Gates), len(p.Tasks))
			}
			for _, h := range wf.History {
				_, _ = fmt.Fprintf(out, "  history: %s %s\n", h.Phase, h.Status)
			}
			return nil
		},
	}
	return cmd
}

func newWorkflowOpCmd(op string) *cobra.Command {
	short := map[string]string{
		"start":    "Start a pending workflow",
		"pause":    "Pause a running workflow",
		"resume":   "Resume a paused workflow",
		"cancel":   "Cancel a workflow",
		"rollback": "Roll a workflow back to its previous phase",
	}[op]
	cmd := &cobra.Command{
		Use:   op + " <workflow-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd)
			if err != nil {
				return err
			}
			wf, err := c.WorkflowOp(cmd.Context(), args[0], op)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", wf.ID, wf.Status)
			return nil
		},
	}
	return cmd
}

func newWorkflowAdvanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "advance <workflow-id>",
		Short: "Evaluate the current phase's gates and advance on pass",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd)
			if err != nil {
				return err
			}
			rec, err := c.AdvanceWorkflow(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Phase %s: %s\n", rec.Phase, rec.Status)
			for _, g := range rec.GateResults {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  gate %s: %s (%.2f)\n", g.GateID, g.Status, g.Score)
			}
			for _, t := range rec.Tasks {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  task %s on %s: success=%v\n", t.TaskID, t.AgentID, t.Success)
			}
			return nil
		},
	}
	return cmd
}
