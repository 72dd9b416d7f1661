package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/SamuraiBuddha/claude-flow-sub002/internal/assign"
	"github.com/SamuraiBuddha/claude-flow-sub002/internal/config"
	"github.com/SamuraiBuddha/claude-flow-sub002/internal/events"
	"github.com/SamuraiBuddha/claude-flow-sub002/internal/gate"
	"github.com/SamuraiBuddha/claude-flow-sub002/internal/notify"
	"github.com/SamuraiBuddha/claude-flow-sub002/internal/pool"
	"github.com/SamuraiBuddha/claude-flow-sub002/internal/store"
	"github.com/SamuraiBuddha/claude-flow-sub002/internal/workflow"

	// Store backends register themselves on import.
	_ "github.com/SamuraiBuddha/claude-flow-sub002/internal/store/postgres"
	_ "github.com/SamuraiBuddha/claude-flow-sub002/internal/store/sqlite"
)

// orchestrator is the composed engine set one daemon runs.
type orchestrator struct {
	hub       *events.Hub
	pool      *pool.Pool
	assign    *assign.Engine
	gates     *gate.Engine
	workflows *workflow.Driver
	store     store.Store
	recorder  *store.Recorder
	forwarder *notify.Forwarder
}

// buildOrchestrator wires the engines from the loaded config: store,
// hub, pool, assignment engine, gate engine (with config-defined gates),
// workflow driver, audit recorder, and notification sinks.
func buildOrchestrator(home string, cfg config.Config) (*orchestrator, error) {
	hub := events.NewHub()

	dsn := cfg.Store.DSN
	if cfg.Store.Backend == store.BackendSQLite && dsn == "" {
		dsn = filepath.Join(home, "claude-flow.db")
	}
	st, err := store.Open(cfg.Store.Backend, dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	p := pool.New(cfg.Pool, hub)
	eng := assign.New(cfg.Assign, hub)
	gates := gate.New(cfg.Gates.Engine, hub)

	defs, err := cfg.BuildGates()
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	for _, g := range defs {
		if err := gates.Register(g); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("register gate %s: %w", g.ID, err)
		}
	}

	flows := workflow.New(gates, eng, p, hub)

	fwd := notify.NewForwarder(hub)
	for _, def := range cfg.Notify {
		switch def.Kind {
		case "slack":
			fwd.Add(notify.SlackWebhook{WebhookURL: def.URL}, def.Events)
		case "webhook":
			fwd.Add(notify.Webhook{URL: def.URL}, def.Events)
		default:
			slog.Warn("unknown notify sink kind", "kind", def.Kind)
		}
	}

	o := &orchestrator{
		hub:       hub,
		pool:      p,
		assign:    eng,
		gates:     gates,
		workflows: flows,
		store:     st,
		recorder:  &store.Recorder{Store: st, Hub: hub},
		forwarder: fwd,
	}
	if err := o.restore(context.Background()); err != nil {
		slog.Warn("state restore failed, starting fresh", "err", err)
	}
	return o, nil
}

// restore loads the latest assignment and gate snapshots, if any.
func (o *orchestrator) restore(ctx context.Context) error {
	if snap, err := o.store.LatestSnapshot(ctx, store.KindAssign); err == nil {
		if err := o.assign.UnmarshalSnapshot(snap.Data); err != nil {
			return fmt.Errorf("assign snapshot: %w", err)
		}
		slog.Info("restored assignment state", "taken_at", snap.CreatedAt)
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if snap, err := o.store.LatestSnapshot(ctx, store.KindGate); err == nil {
		if err := o.gates.UnmarshalSnapshot(snap.Data); err != nil {
			return fmt.Errorf("gate snapshot: %w", err)
		}
		slog.Info("restored gate state", "taken_at", snap.CreatedAt)
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	return nil
}

// checkpoint persists the current assignment and gate state.
func (o *orchestrator) checkpoint(ctx context.Context) error {
	ab, err := o.assign.MarshalSnapshot()
	if err != nil {
		return err
	}
	if err := o.store.SaveSnapshot(ctx, store.KindAssign, ab); err != nil {
		return err
	}
	gb, err := o.gates.MarshalSnapshot()
	if err != nil {
		return err
	}
	return o.store.SaveSnapshot(ctx, store.KindGate, gb)
}

// run starts the background loops: health sweeps, audit recording, and
// notification forwarding. It returns immediately.
func (o *orchestrator) run(ctx context.Context) {
	go o.pool.RunHealth(ctx)
	go o.recorder.Run(ctx)
	go o.forwarder.Run(ctx)
}

// shutdown drains the pool and closes the store.
func (o *orchestrator) shutdown(ctx context.Context) {
	if err := o.checkpoint(ctx); err != nil {
		slog.Warn("final checkpoint failed", "err", err)
	}
	o.pool.TerminateAll("daemon shutdown")
	if err := o.store.Close(); err != nil {
		slog.Warn("store close failed", "err", err)
	}
}
