// Package httpapi exposes the orchestrator over HTTP: REST endpoints for
// agents, tasks, gates, and workflows, an SSE event stream, and the
// Prometheus metrics endpoint.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/SamuraiBuddha/claude-flow-sub002/internal/assign"
	"github.com/SamuraiBuddha/claude-flow-sub002/internal/events"
	"github.com/SamuraiBuddha/claude-flow-sub002/internal/gate"
	"github.com/SamuraiBuddha/claude-flow-sub002/internal/otel"
	"github.com/SamuraiBuddha/claude-flow-sub002/internal/pool"
	"github.com/SamuraiBuddha/claude-flow-sub002/internal/store"
	"github.com/SamuraiBuddha/claude-flow-sub002/internal/worker"
	"github.com/SamuraiBuddha/claude-flow-sub002/internal/workflow"
)

// defaultMaxRequestBodyBytes limits request bodies (1 MiB) to prevent OOM.
const defaultMaxRequestBodyBytes = 1 << 20

// Options configures the HTTP app. Pool, Assign, Gates, Workflows, and Hub
// are required; Store is optional (state endpoints 404 without it).
type Options struct {
	Addr           string
	APIKey         string // if set, require X-API-Key header or query api_key
	MaxBodyBytes   int64
	MetricsHandler http.Handler // OTel Prometheus handler for /metrics
	UseOtelHTTP    bool         // wrap handler with otelhttp for request metrics

	Pool      *pool.Pool
	Assign    *assign.Engine
	Gates     *gate.Engine
	Workflows *workflow.Driver
	Hub       *events.Hub
	Store     store.Store
}

// App holds the HTTP server and the orchestrator components it fronts.
type App struct {
	Server *http.Server
	opts   Options
}

// NewApp registers all routes and builds the HTTP server.
func NewApp(opts Options) (*App, error) {
	if opts.Pool == nil || opts.Assign == nil || opts.Gates == nil || opts.Workflows == nil || opts.Hub == nil {
		return nil, fmt.Errorf("httpapi: pool, assign, gates, workflows, and hub are required")
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxRequestBodyBytes
	}
	a := &App{opts: opts}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"ok": true})
	})
	if opts.MetricsHandler != nil {
		mux.Handle("/metrics", opts.MetricsHandler)
	}
	mux.HandleFunc("/events", sseHandler(opts.Hub))

	mux.HandleFunc("/agents", a.handleAgents)
	mux.HandleFunc("/agents/", a.handleAgentByID)
	mux.HandleFunc("/tasks", a.handleTasks)
	mux.HandleFunc("/tasks/", a.handleTaskByID)
	mux.HandleFunc("/rebalance", a.handleRebalance)
	mux.HandleFunc("/gates", a.handleGates)
	mux.HandleFunc("/gates/", a.handleGateByID)
	mux.HandleFunc("/context", a.handleContext)
	mux.HandleFunc("/workflows", a.handleWorkflows)
	mux.HandleFunc("/workflows/", a.handleWorkflowByID)
	mux.HandleFunc("/pool", a.handlePool)
	mux.HandleFunc("/audit", a.handleAudit)
	mux.HandleFunc("/state/save", a.handleStateSave)

	var handler http.Handler = mux
	handler = bodyLimitMiddleware(opts.MaxBodyBytes, handler)
	if opts.APIKey != "" {
		handler = apiKeyMiddleware(opts.APIKey, handler)
	}
	handler = requestLogMiddleware(handler)
	if opts.UseOtelHTTP {
		handler = otelhttp.NewHandler(handler, "httpapi")
	}

	a.Server = &http.Server{
		Addr:              opts.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return a, nil
}

// --- Agents ---

func (a *App) handleAgents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, a.opts.Pool.Agents())
	case http.MethodPost:
		var body struct {
			Type               string            `json:"type"`
			Name               string            `json:"name"`
			Capabilities       assign.Capability `json:"capabilities"`
			Specializations    []string          `json:"specializations"`
			MaxConcurrentTasks int               `json:"max_concurrent_tasks"`
			SystemPrompt       string            `json:"system_prompt"`
			Model              string            `json:"model"`
			WorkingDirectory   string            `json:"working_directory"`
			Environment        map[string]string `json:"environment"`
			Tools              []string          `json:"tools"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid json")
			return
		}
		if body.Type == "" {
			writeJSONError(w, http.StatusBadRequest, "type required")
			return
		}
		spec := pool.SpawnSpec{
			Type:             body.Type,
			Name:             body.Name,
			SystemPrompt:     body.SystemPrompt,
			Model:            body.Model,
			WorkingDirectory: body.WorkingDirectory,
			Environment:      body.Environment,
			Tools:            body.Tools,
		}
		ag, err := a.opts.Pool.Spawn(r.Context(), spec)
		if err != nil {
			code := http.StatusBadGateway
			if errors.Is(err, pool.ErrPoolCapacity) {
				code = http.StatusConflict
			}
			writeJSONError(w, code, err.Error())
			return
		}
		a.opts.Assign.Register(assign.Agent{
			ID:                 ag.ID,
			Type:               body.Type,
			Caps:               body.Capabilities,
			Specializations:    body.Specializations,
			MaxConcurrentTasks: body.MaxConcurrentTasks,
		})
		otel.RecordSpawn(r.Context(), body.Type)
		writeJSON(w, ag)
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (a *App) handleAgentByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/agents/")
	parts := strings.Split(rest, "/")
	id := parts[0]
	if id == "" {
		writeJSONError(w, http.StatusNotFound, "not found")
		return
	}

	if len(parts) >= 2 && parts[1] == "cancel" {
		if r.Method != http.MethodPost {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		var body struct {
			Reason string `json:"reason"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if err := a.opts.Pool.Cancel(id, body.Reason); err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, map[string]any{"ok": true})
		return
	}

	switch r.Method {
	case http.MethodGet:
		ag, ok := a.opts.Pool.Agent(id)
		if !ok {
			writeJSONError(w, http.StatusNotFound, "agent not found")
			return
		}
		writeJSON(w, ag)
	case http.MethodDelete:
		if err := a.opts.Pool.Terminate(id, "api request"); err != nil {
			writeJSONError(w, http.StatusNotFound, err.Error())
			return
		}
		_ = a.opts.Assign.Unregister(id)
		otel.RecordTermination(r.Context(), "api request")
		writeJSON(w, map[string]any{"ok": true})
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// --- Tasks ---

type taskBody struct {
	ID                  string             `json:"id"`
	Name                string             `json:"name"`
	Tags                []string           `json:"tags"`
	AgentType           string             `json:"agent_type"`
	Priority            assign.Priority    `json:"priority"`
	EstimatedDurationMs int64              `json:"estimated_duration_ms"`
	Payload             map[string]any     `json:"payload"`
	Constraints         assign.Constraints `json:"constraints"`
	Execute             bool               `json:"execute"`
}

func (b taskBody) task() assign.Task {
	return assign.Task{
		ID:                b.ID,
		Name:              b.Name,
		Tags:              b.Tags,
		AgentType:         b.AgentType,
		Priority:          b.Priority,
		EstimatedDuration: time.Duration(b.EstimatedDurationMs) * time.Millisecond,
		Payload:           b.Payload,
	}
}

// handleTasks lists assignments (GET) or assigns a task (POST). With
// "execute": true the task also runs synchronously on the assigned
// agent's process and the run is recorded.
func (a *App) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, a.opts.Assign.Assignments())
	case http.MethodPost:
		var body taskBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid json")
			return
		}
		if body.ID == "" {
			writeJSONError(w, http.StatusBadRequest, "id required")
			return
		}
		task := body.task()
		asn := a.opts.Assign.Assign(task, body.Constraints)
		if asn == nil {
			writeJSONError(w, http.StatusConflict, "no candidate agent")
			return
		}
		otel.RecordTaskOp(r.Context(), "assign", asn.AgentID, "assigned")
		if !body.Execute {
			writeJSON(w, asn)
			return
		}
		out, err := a.execute(r.Context(), task, asn)
		if err != nil {
			writeJSONError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeJSON(w, out)
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type executeResponse struct {
	Assignment assign.Assignment `json:"assignment"`
	Result     pool.Result       `json:"result"`
}

func (a *App) execute(ctx context.Context, task assign.Task, asn *assign.Assignment) (executeResponse, error) {
	if err := a.opts.Assign.MarkStarted(task.ID); err != nil {
		return executeResponse{}, err
	}
	req := worker.TaskRequest{TaskID: task.ID, Name: task.Name, Payload: task.Payload}
	if task.EstimatedDuration > 0 {
		req.TimeoutMs = (2 * task.EstimatedDuration).Milliseconds()
	}
	start := time.Now()
	res, err := a.opts.Pool.Execute(ctx, asn.AgentID, req)
	success := err == nil && res.Completed()
	_ = a.opts.Assign.Complete(task.ID, success)
	a.opts.Assign.RecordDuration(asn.AgentID, res.Duration)
	status := res.Status
	if err != nil {
		status = "error"
	}
	otel.RecordTaskOp(ctx, "complete", asn.AgentID, status)
	otel.RecordTaskDuration(ctx, asn.AgentID, status, res.Duration)
	if a.opts.Store != nil {
		_ = a.opts.Store.RecordTaskRun(ctx, store.TaskRun{
			TaskID:     task.ID,
			AgentID:    asn.AgentID,
			Status:     status,
			Output:     res.Output,
			Error:      res.Error,
			TokensUsed: res.TokensUsed,
			Duration:   res.Duration,
			StartedAt:  start,
		})
	}
	if err != nil {
		return executeResponse{}, err
	}
	return executeResponse{Assignment: *asn, Result: res}, nil
}

func (a *App) handleTaskByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/tasks/")
	parts := strings.Split(rest, "/")
	id := parts[0]
	if id == "" || len(parts) < 2 {
		writeJSONError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	switch parts[1] {
	case "complete":
		var body struct {
			Success bool `json:"success"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid json")
			return
		}
		asn, ok := a.opts.Assign.AssignmentFor(id)
		if !ok {
			writeJSONError(w, http.StatusNotFound, "no assignment for task")
			return
		}
		if err := a.opts.Assign.Complete(id, body.Success); err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		status := "failed"
		if body.Success {
			status = "completed"
		}
		otel.RecordTaskOp(r.Context(), "complete", asn.AgentID, status)
		writeJSON(w, map[string]any{"ok": true})
	case "unassign":
		a.opts.Assign.Unassign(id)
		writeJSON(w, map[string]any{"ok": true})
	default:
		writeJSONError(w, http.StatusNotFound, "not found")
	}
}

func (a *App) handleRebalance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	res := a.opts.Assign.Rebalance()
	otel.RecordRebalanceMoves(r.Context(), len(res.Moves))
	writeJSON(w, res)
}

// --- Gates ---

func (a *App) handleGates(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, a.opts.Gates.States())
	case http.MethodPost:
		// Check every gate in dependency order.
		results, err := a.opts.Gates.CheckAll(r.Context())
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, results)
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (a *App) handleGateByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/gates/")
	parts := strings.Split(rest, "/")
	id := parts[0]
	if id == "" {
		writeJSONError(w, http.StatusNotFound, "not found")
		return
	}

	if len(parts) == 1 || parts[1] == "" {
		if r.Method != http.MethodGet {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		g, ok := a.opts.Gates.Gate(id)
		if !ok {
			writeJSONError(w, http.StatusNotFound, "gate not found")
			return
		}
		st, _ := a.opts.Gates.State(id)
		writeJSON(w, map[string]any{"gate": g, "state": st})
		return
	}

	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var body struct {
		By     string `json:"by"`
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body.By == "" {
		body.By = "api"
	}

	var err error
	switch parts[1] {
	case "check":
		start := time.Now()
		var res gate.Result
		res, err = a.opts.Gates.Check(r.Context(), id)
		if err == nil {
			otel.RecordGateCheck(r.Context(), id, string(res.Status), time.Since(start))
			writeJSON(w, res)
			return
		}
	case "pass":
		err = a.opts.Gates.Pass(id, body.By)
	case "skip":
		err = a.opts.Gates.Skip(id, body.By)
	case "block":
		err = a.opts.Gates.Block(id, body.Reason)
	case "unblock":
		err = a.opts.Gates.Unblock(id)
	case "reset":
		err = a.opts.Gates.Reset(id)
	default:
		writeJSONError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	st, _ := a.opts.Gates.State(id)
	writeJSON(w, st)
}

// handleContext reads or updates the gate context bag.
func (a *App) handleContext(w http.ResponseWriter, r *http.Request) {
	gctx := a.opts.Gates.Context()
	switch r.Method {
	case http.MethodGet:
		b, err := gctx.MarshalJSON()
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(b)
	case http.MethodPut, http.MethodPost:
		var body map[string]gate.Value
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid json")
			return
		}
		for k, v := range body {
			switch v.Kind {
			case gate.KindBool:
				gctx.SetBool(gate.Key(k), v.Bool)
			case gate.KindInt:
				gctx.SetInt(gate.Key(k), v.Int)
			case gate.KindFloat:
				gctx.SetFloat(gate.Key(k), v.Float)
			case gate.KindString:
				gctx.SetString(gate.Key(k), v.String)
			default:
				writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("key %s: unknown kind %q", k, v.Kind))
				return
			}
		}
		writeJSON(w, map[string]any{"ok": true})
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// --- Workflows ---

func (a *App) handleWorkflows(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, a.opts.Workflows.Instances())
	case http.MethodPost:
		var body struct {
			Name   string `json:"name"`
			Phases []struct {
				Name  string     `json:"name"`
				Gates []string   `json:"gates"`
				Tasks []taskBody `json:"tasks"`
			} `json:"phases"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid json")
			return
		}
		phases := make([]workflow.Phase, 0, len(body.Phases))
		for _, p := range body.Phases {
			ph := workflow.Phase{Name: p.Name, Gates: p.Gates}
			for _, t := range p.Tasks {
				ph.Tasks = append(ph.Tasks, t.task())
			}
			phases = append(phases, ph)
		}
		in, err := a.opts.Workflows.Create(body.Name, phases)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, in)
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (a *App) handleWorkflowByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/workflows/")
	parts := strings.Split(rest, "/")
	id := parts[0]
	if id == "" {
		writeJSONError(w, http.StatusNotFound, "not found")
		return
	}

	if len(parts) == 1 || parts[1] == "" {
		if r.Method != http.MethodGet {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		in, ok := a.opts.Workflows.Instance(id)
		if !ok {
			writeJSONError(w, http.StatusNotFound, "workflow not found")
			return
		}
		writeJSON(w, in)
		return
	}

	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var err error
	switch parts[1] {
	case "start":
		err = a.opts.Workflows.Start(id)
	case "pause":
		err = a.opts.Workflows.Pause(id)
	case "resume":
		err = a.opts.Workflows.Resume(id)
	case "cancel":
		err = a.opts.Workflows.Cancel(id)
	case "rollback":
		err = a.opts.Workflows.Rollback(id)
	case "advance":
		var rec workflow.PhaseRecord
		rec, err = a.opts.Workflows.Advance(r.Context(), id)
		if err == nil {
			writeJSON(w, rec)
			return
		}
	default:
		writeJSONError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	in, _ := a.opts.Workflows.Instance(id)
	writeJSON(w, in)
}

// --- Pool / audit / state ---

func (a *App) handlePool(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, a.opts.Pool.Stats())
}

func (a *App) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if a.opts.Store == nil {
		writeJSONError(w, http.StatusNotFound, "no store configured")
		return
	}
	q := r.URL.Query()
	filter := store.EventFilter{
		Type:    q.Get("type"),
		AgentID: q.Get("agent_id"),
		TaskID:  q.Get("task_id"),
	}
	if n := q.Get("limit"); n != "" {
		_, _ = fmt.Sscanf(n, "%d", &filter.Limit)
	}
	evs, err := a.opts.Store.ListEvents(r.Context(), filter)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, evs)
}

// handleStateSave persists assignment and gate snapshots.
func (a *App) handleStateSave(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if a.opts.Store == nil {
		writeJSONError(w, http.StatusNotFound, "no store configured")
		return
	}
	ab, err := a.opts.Assign.MarshalSnapshot()
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	gb, err := a.opts.Gates.MarshalSnapshot()
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	ctx := r.Context()
	if err := a.opts.Store.SaveSnapshot(ctx, store.KindAssign, ab); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := a.opts.Store.SaveSnapshot(ctx, store.KindGate, gb); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

// --- Middleware and helpers ---

func bodyLimitMiddleware(maxBytes int64, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		}
		next.ServeHTTP(w, r)
	})
}

func apiKeyMiddleware(apiKey string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if path == "/health" || path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		key := r.Header.Get("X-API-Key")
		if key == "" {
			key = r.URL.Query().Get("api_key")
		}
		if key != apiKey {
			writeJSONError(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// responseRecorder captures status for logging and forwards Flusher so SSE
// still works behind the middleware.
type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func requestLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, req)
		slog.Info("request",
			"method", req.Method,
			"path", req.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds())
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

// writeJSONError sends {"error": "message"} with the given status code.
func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": message})
}
