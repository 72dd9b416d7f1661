package otel

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	initMetricsOnce     sync.Once
	spawnsCounter       metric.Int64Counter
	terminationsCounter metric.Int64Counter
	taskOpsCounter      metric.Int64Counter
	taskDuration        metric.Float64Histogram
	gateChecksCounter   metric.Int64Counter
	gateCheckDuration   metric.Float64Histogram
	rebalanceMoves      metric.Int64Counter
	eventsCounter       metric.Int64Counter
	sseConnectionsGauge metric.Int64ObservableGauge
	sseConnections      int64
	sseConnectionsMu    sync.Mutex
)

// InitMetrics creates the meter instruments. Safe to call multiple times;
// only runs once. Call after InitMeterProvider.
func InitMetrics(ctx context.Context) error {
	var err error
	initMetricsOnce.Do(func() {
		m := Meter()
		spawnsCounter, err = m.Int64Counter("claude_flow_agent_spawns_total", metric.WithDescription("Total agent processes spawned"))
		if err != nil {
			return
		}
		terminationsCounter, err = m.Int64Counter("claude_flow_agent_terminations_total", metric.WithDescription("Total agent processes terminated"))
		if err != nil {
			return
		}
		taskOpsCounter, err = m.Int64Counter("claude_flow_task_operations_total", metric.WithDescription("Total task operations (assign, complete, rebalance)"))
		if err != nil {
			return
		}
		taskDuration, err = m.Float64Histogram("claude_flow_task_duration_seconds", metric.WithDescription("Task execution duration in seconds"))
		if err != nil {
			return
		}
		gateChecksCounter, err = m.Int64Counter("claude_flow_gate_checks_total", metric.WithDescription("Total gate evaluations"))
		if err != nil {
			return
		}
		gateCheckDuration, err = m.Float64Histogram("claude_flow_gate_check_duration_seconds", metric.WithDescription("Gate evaluation duration in seconds"))
		if err != nil {
			return
		}
		rebalanceMoves, err = m.Int64Counter("claude_flow_rebalance_moves_total", metric.WithDescription("Total queued tasks moved by rebalance"))
		if err != nil {
			return
		}
		eventsCounter, err = m.Int64Counter("claude_flow_events_total", metric.WithDescription("Total events published on the hub"))
		if err != nil {
			return
		}
		sseConnectionsGauge, err = m.Int64ObservableGauge("claude_flow_sse_connections", metric.WithDescription("Current SSE subscriber count"))
		if err != nil {
			return
		}
		_, err = m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
			sseConnectionsMu.Lock()
			n := sseConnections
			sseConnectionsMu.Unlock()
			o.ObserveInt64(sseConnectionsGauge, n)
			return nil
		}, sseConnectionsGauge)
		if err != nil {
			return
		}
	})
	return err
}

// PoolCountFunc returns agent counts by pool. Used for the pool gauge.
type PoolCountFunc func() (idle, busy, failed int64)

// InitMetricsWithPoolCount creates instruments and registers a callback
// observing the pool gauge. If poolCount is nil the gauge is not reported.
func InitMetricsWithPoolCount(ctx context.Context, poolCount PoolCountFunc) error {
	if err := InitMetrics(ctx); err != nil {
		return err
	}
	if poolCount == nil {
		return nil
	}
	m := Meter()
	poolGauge, err := m.Int64ObservableGauge("claude_flow_pool_agents", metric.WithDescription("Number of pool agents by status"))
	if err != nil {
		return err
	}
	_, err = m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		idle, busy, failed := poolCount()
		o.ObserveInt64(poolGauge, idle, metric.WithAttributes(AttrStatus.String("idle")))
		o.ObserveInt64(poolGauge, busy, metric.WithAttributes(AttrStatus.String("busy")))
		o.ObserveInt64(poolGauge, failed, metric.WithAttributes(AttrStatus.String("failed")))
		return nil
	}, poolGauge)
	return err
}

// RecordSpawn records one agent process spawn.
func RecordSpawn(ctx context.Context, agentType string) {
	if spawnsCounter != nil {
		spawnsCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("type", agentType)))
	}
}

// RecordTermination records one agent process termination.
func RecordTermination(ctx context.Context, reason string) {
	if terminationsCounter != nil {
		terminationsCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	}
}

// RecordTaskOp records a task operation (assign, complete, rebalance).
func RecordTaskOp(ctx context.Context, op, agent, status string) {
	if taskOpsCounter == nil {
		return
	}
	taskOpsCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		AttrAgent.String(agent),
		AttrStatus.String(status),
	))
}

// RecordTaskDuration records one task execution and its duration.
func RecordTaskDuration(ctx context.Context, agent, status string, duration time.Duration) {
	if taskDuration != nil {
		taskDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(AttrAgent.String(agent), AttrStatus.String(status)))
	}
}

// RecordGateCheck records one gate evaluation and its duration.
func RecordGateCheck(ctx context.Context, gateID, status string, duration time.Duration) {
	if gateChecksCounter != nil {
		gateChecksCounter.Add(ctx, 1, metric.WithAttributes(AttrGate.String(gateID), AttrStatus.String(status)))
	}
	if gateCheckDuration != nil {
		gateCheckDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(AttrGate.String(gateID)))
	}
}

// RecordRebalanceMoves records queued tasks moved by one rebalance pass.
func RecordRebalanceMoves(ctx context.Context, n int) {
	if rebalanceMoves != nil && n > 0 {
		rebalanceMoves.Add(ctx, int64(n))
	}
}

// RecordEvent records one hub event published.
func RecordEvent(ctx context.Context, eventType string) {
	if eventsCounter != nil {
		eventsCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("event", eventType)))
	}
}

// AddSSEConnection adds 1 to the SSE connection gauge (call on subscribe).
func AddSSEConnection() {
	sseConnectionsMu.Lock()
	sseConnections++
	sseConnectionsMu.Unlock()
}

// RemoveSSEConnection subtracts 1 from the SSE connection gauge.
func RemoveSSEConnection() {
	sseConnectionsMu.Lock()
	sseConnections--
	if sseConnections < 0 {
		sseConnections = 0
	}
	sseConnectionsMu.Unlock()
}
