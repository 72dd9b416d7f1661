// Package daemon runs the orchestrator as a long-lived process: singleton
// lock, pid/addr files, HTTP API, health sweeps, and graceful shutdown.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/SamuraiBuddha/claude-flow-sub002/internal/config"
	"github.com/SamuraiBuddha/claude-flow-sub002/internal/httpapi"
	"github.com/SamuraiBuddha/claude-flow-sub002/internal/otel"
)

func StartForeground(ctx context.Context, opts StartOptions) error {
	if opts.Home == "" {
		return errors.New("home is required")
	}
	if err := os.MkdirAll(protectedDir(opts.Home), 0o755); err != nil {
		return err
	}

	// Singleton lock, released on exit.
	lock, err := acquireLock(lockPath(opts.Home))
	if err != nil {
		return err
	}
	defer lock.release()

	startPprof(opts.PprofAddr)

	cfg, err := config.Load(opts.Home)
	if err != nil {
		return err
	}
	// With no worker command configured, pooled agents run this binary's
	// built-in stub worker.
	if cfg.Pool.Command == "" {
		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("resolve worker command: %w", err)
		}
		cfg.Pool.Command = exe
		cfg.Pool.Args = []string{"worker"}
	}
	addr := cfg.Server.Listen
	if opts.Addr != "" {
		addr = opts.Addr
	}
	if err := checkAddrAvailable(addr); err != nil {
		return err
	}

	pid := os.Getpid()
	if err := os.WriteFile(pidPath(opts.Home), []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		return err
	}
	_ = os.WriteFile(addrPath(opts.Home), []byte(addr+"\n"), 0o644)
	defer func() {
		_ = os.Remove(pidPath(opts.Home))
		_ = os.Remove(addrPath(opts.Home))
	}()

	orch, err := buildOrchestrator(opts.Home, cfg)
	if err != nil {
		return err
	}

	var metricsHandler http.Handler
	if !opts.NoMetrics {
		metricsHandler, err = otel.InitMeterProvider(ctx, cfg.Server.ServiceName)
		if err != nil {
			slog.Warn("otel init failed, /metrics disabled", "err", err)
			metricsHandler = nil
		} else {
			_ = otel.InitMetricsWithPoolCount(ctx, func() (idle, busy, failed int64) {
				s := orch.pool.Stats()
				return int64(s.Idle), int64(s.Busy), int64(s.Failed)
			})
		}
	}

	apiKey := cfg.Server.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("CLAUDE_FLOW_API_KEY")
	}
	app, err := httpapi.NewApp(httpapi.Options{
		Addr:           addr,
		APIKey:         apiKey,
		MetricsHandler: metricsHandler,
		UseOtelHTTP:    metricsHandler != nil,
		Pool:           orch.pool,
		Assign:         orch.assign,
		Gates:          orch.gates,
		Workflows:      orch.workflows,
		Hub:            orch.hub,
		Store:          orch.store,
	})
	if err != nil {
		return err
	}

	slog.Info("daemon starting", "addr", addr, "home", opts.Home, "store", cfg.Store.Backend)
	orch.run(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Server.ListenAndServe()
	}()

	shutdown := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = app.Server.Shutdown(shutdownCtx)
		orch.shutdown(shutdownCtx)
	}

	select {
	case <-ctx.Done():
		shutdown()
		return ctx.Err()
	case err := <-errCh:
		shutdown()
		if err == nil || errors.Is(err, http.ErrServerClosed) || errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
}

// StartBackground re-executes the binary detached and waits for the pid
// file to appear.
func StartBackground(ctx context.Context, opts StartOptions) (int, error) {
	exe, err := os.Executable()
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(protectedDir(opts.Home), 0o755); err != nil {
		return 0, err
	}
	if st, _ := Status(ctx, opts.Home); st.Running {
		return 0, fmt.Errorf("claude-flow already running (pid %d)", st.PID)
	}

	logFile := filepath.Join(protectedDir(opts.Home), "daemon.log")
	stderr, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}
	// Kept open for child lifetime; closing here may break writes on some platforms.

	args := []string{"start", "--foreground", "--home", opts.Home}
	if opts.Addr != "" {
		args = append(args, "--listen", opts.Addr)
	}
	if opts.PprofAddr != "" {
		args = append(args, "--pprof", opts.PprofAddr)
	}
	if opts.NoMetrics {
		args = append(args, "--no-metrics")
	}

	cmd := exec.Command(exe, args...)
	cmd.Stdout = io.Discard
	cmd.Stderr = stderr
	setDaemonSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return 0, err
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st, _ := Status(ctx, opts.Home); st.Running {
			return st.PID, nil
		}
		time.Sleep(50 * time.Millisecond)
	}

	// Fallback to started pid even if status isn't ready yet.
	return cmd.Process.Pid, nil
}

// Stop signals the running daemon and waits for it to exit.
func Stop(ctx context.Context, home string) (bool, error) {
	st, err := Status(ctx, home)
	if err != nil {
		return false, err
	}
	if !st.Running {
		return false, nil
	}

	proc, err := os.FindProcess(st.PID)
	if err != nil {
		return false, err
	}
	if err := signalTerm(proc); err != nil {
		return false, err
	}

	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		if st2, _ := Status(ctx, home); !st2.Running {
			return true, nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	_ = proc.Kill()
	return true, nil
}

// Status reads the pid file and probes the process.
func Status(ctx context.Context, home string) (StatusInfo, error) {
	pb, err := os.ReadFile(pidPath(home))
	if err != nil {
		return StatusInfo{Running: false}, nil
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(pb)))
	if err != nil || pid <= 0 {
		return StatusInfo{Running: false}, nil
	}

	if !processExists(pid) {
		_ = os.Remove(pidPath(home))
		return StatusInfo{Running: false}, nil
	}

	addr := ""
	if ab, err := os.ReadFile(addrPath(home)); err == nil {
		addr = strings.TrimSpace(string(ab))
	}
	if addr == "" {
		addr = "unknown"
	}
	return StatusInfo{Running: true, PID: pid, Addr: addr}, nil
}

func checkAddrAvailable(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen address %s is already in use", addr)
	}
	_ = ln.Close()
	return nil
}
