// Package client provides a Go SDK for the claude-flow HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/SamuraiBuddha/claude-flow-sub002/pkg/models"
)

// Client calls the claude-flow HTTP API. It is safe for concurrent use.
type Client struct {
	BaseURL    string       // e.g. "http://127.0.0.1:7420"
	APIKey     string       // optional; sent as X-API-Key
	HTTPClient *http.Client // optional; nil uses http.DefaultClient
}

// New returns a client for the given base URL. APIKey is optional.
func New(baseURL, apiKey string) *Client {
	return &Client{BaseURL: baseURL, APIKey: apiKey}
}

func (c *Client) client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("X-API-Key", c.APIKey)
	}
	return c.client().Do(req)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errBody struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		if errBody.Error != "" {
			return fmt.Errorf("api %s %s: %s", method, path, errBody.Error)
		}
		return fmt.Errorf("api %s %s: status %d", method, path, resp.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Health returns the /health response (ok: true).
func (c *Client) Health(ctx context.Context) (ok bool, err error) {
	var out struct {
		OK bool `json:"ok"`
	}
	err = c.doJSON(ctx, http.MethodGet, "/health", nil, &out)
	return out.OK, err
}

// --- Agents ---

// ListAgents returns all pooled agents.
func (c *Client) ListAgents(ctx context.Context) ([]models.Agent, error) {
	var out []models.Agent
	err := c.doJSON(ctx, http.MethodGet, "/agents", nil, &out)
	return out, err
}

// SpawnAgent spawns a worker process and returns the new agent.
func (c *Client) SpawnAgent(ctx context.Context, req models.SpawnRequest) (*models.Agent, error) {
	var out models.Agent
	err := c.doJSON(ctx, http.MethodPost, "/agents", req, &out)
	return &out, err
}

// GetAgent returns one agent by id.
func (c *Client) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	var out models.Agent
	err := c.doJSON(ctx, http.MethodGet, "/agents/"+url.PathEscape(id), nil, &out)
	return &out, err
}

// TerminateAgent terminates an agent's process.
func (c *Client) TerminateAgent(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/agents/"+url.PathEscape(id), nil, nil)
}

// CancelAgent cancels the agent's in-flight task.
func (c *Client) CancelAgent(ctx context.Context, id, reason string) error {
	return c.doJSON(ctx, http.MethodPost, "/agents/"+url.PathEscape(id)+"/cancel",
		map[string]string{"reason": reason}, nil)
}

// --- Tasks ---

// ListAssignments returns current task assignments.
func (c *Client) ListAssignments(ctx context.Context) ([]models.Assignment, error) {
	var out []models.Assignment
	err := c.doJSON(ctx, http.MethodGet, "/tasks", nil, &out)
	return out, err
}

// AssignTask assigns a task and returns the assignment.
func (c *Client) AssignTask(ctx context.Context, req models.TaskRequest) (*models.Assignment, error) {
	req.Execute = false
	var out models.Assignment
	err := c.doJSON(ctx, http.MethodPost, "/tasks", req, &out)
	return &out, err
}

// ExecuteTask assigns a task and runs it to completion on the assigned
// agent's process.
func (c *Client) ExecuteTask(ctx context.Context, req models.TaskRequest) (*models.ExecuteResponse, error) {
	req.Execute = true
	var out models.ExecuteResponse
	err := c.doJSON(ctx, http.MethodPost, "/tasks", req, &out)
	return &out, err
}

// CompleteTask reports a task outcome for an externally executed task.
func (c *Client) CompleteTask(ctx context.Context, taskID string, success bool) error {
	return c.doJSON(ctx, http.MethodPost, "/tasks/"+url.PathEscape(taskID)+"/complete",
		map[string]bool{"success": success}, nil)
}

// UnassignTask releases an assignment without recording an outcome.
func (c *Client) UnassignTask(ctx context.Context, taskID string) error {
	return c.doJSON(ctx, http.MethodPost, "/tasks/"+url.PathEscape(taskID)+"/unassign", nil, nil)
}

// Rebalance redistributes queued tasks and returns the moves made.
func (c *Client) Rebalance(ctx context.Context) (*models.RebalanceResult, error) {
	var out models.RebalanceResult
	err := c.doJSON(ctx, http.MethodPost, "/rebalance", nil, &out)
	return &out, err
}

// --- Gates ---

// ListGates returns all gate states.
func (c *Client) ListGates(ctx context.Context) ([]models.GateState, error) {
	var out []models.GateState
	err := c.doJSON(ctx, http.MethodGet, "/gates", nil, &out)
	return out, err
}

// CheckGate evaluates one gate.
func (c *Client) CheckGate(ctx context.Context, id string) (*models.GateResult, error) {
	var out models.GateResult
	err := c.doJSON(ctx, http.MethodPost, "/gates/"+url.PathEscape(id)+"/check", nil, &out)
	return &out, err
}

// CheckAllGates evaluates every gate in dependency order.
func (c *Client) CheckAllGates(ctx context.Context) ([]models.GateResult, error) {
	var out []models.GateResult
	err := c.doJSON(ctx, http.MethodPost, "/gates", nil, &out)
	return out, err
}

// OverrideGate applies a manual gate operation: pass, skip, block,
// unblock, or reset.
func (c *Client) OverrideGate(ctx context.Context, id, op, by, reason string) (*models.GateState, error) {
	var out models.GateState
	err := c.doJSON(ctx, http.MethodPost, "/gates/"+url.PathEscape(id)+"/"+op,
		map[string]string{"by": by, "reason": reason}, &out)
	return &out, err
}

// SetContext updates gate context entries.
func (c *Client) SetContext(ctx context.Context, values map[string]models.ContextValue) error {
	return c.doJSON(ctx, http.MethodPut, "/context", values, nil)
}

// --- Workflows ---

// ListWorkflows returns all workflow instances.
func (c *Client) ListWorkflows(ctx context.Context) ([]models.WorkflowInstance, error) {
	var out []models.WorkflowInstance
	err := c.doJSON(ctx, http.MethodGet, "/workflows", nil, &out)
	return out, err
}

// CreateWorkflow creates a workflow instance.
func (c *Client) CreateWorkflow(ctx context.Context, name string, phases []models.Phase) (*models.WorkflowInstance, error) {
	var out models.WorkflowInstance
	err := c.doJSON(ctx, http.MethodPost, "/workflows",
		map[string]any{"name": name, "phases": phases}, &out)
	return &out, err
}

// GetWorkflow returns one workflow instance.
func (c *Client) GetWorkflow(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	var out models.WorkflowInstance
	err := c.doJSON(ctx, http.MethodGet, "/workflows/"+url.PathEscape(id), nil, &out)
	return &out, err
}

// WorkflowOp applies a lifecycle operation: start, pause, resume,
// cancel, or rollback. Returns the updated instance.
func (c *Client) WorkflowOp(ctx context.Context, id, op string) (*models.WorkflowInstance, error) {
	var out models.WorkflowInstance
	err := c.doJSON(ctx, http.MethodPost, "/workflows/"+url.PathEscape(id)+"/"+op, nil, &out)
	return &out, err
}

// AdvanceWorkflow evaluates the current phase's gates and, on pass,
// dispatches its tasks. Returns the phase record.
func (c *Client) AdvanceWorkflow(ctx context.Context, id string) (*models.PhaseRecord, error) {
	var out models.PhaseRecord
	err := c.doJSON(ctx, http.MethodPost, "/workflows/"+url.PathEscape(id)+"/advance", nil, &out)
	return &out, err
}

// --- Pool / audit ---

// PoolStats returns the pool summary.
func (c *Client) PoolStats(ctx context.Context) (*models.PoolStats, error) {
	var out models.PoolStats
	err := c.doJSON(ctx, http.MethodGet, "/pool", nil, &out)
	return &out, err
}

// AuditEvents returns audit log entries, newest first. Zero filter
// fields match everything; limit 0 uses the server default.
func (c *Client) AuditEvents(ctx context.Context, eventType, agentID string, limit int) ([]models.AuditEvent, error) {
	q := url.Values{}
	if eventType != "" {
		q.Set("type", eventType)
	}
	if agentID != "" {
		q.Set("agent_id", agentID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/audit"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []models.AuditEvent
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// SaveState checkpoints assignment and gate state to the store.
func (c *Client) SaveState(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/state/save", nil, nil)
}
