package pool

import (
	"os"
	"os/exec"
	"sync/atomic"
	"syscall"

	"github.com/SamuraiBuddha/claude-flow-sub002/internal/sandbox"
	"github.com/SamuraiBuddha/claude-flow-sub002/internal/worker"
)

// launchSpec is everything needed to (re)start one worker process.
type launchSpec struct {
	command     string
	args        []string
	env         []string
	dir         string
	sandboxHome string
}

// process wraps one worker OS process. The reader goroutine scans stdout
// into msgs, then reaps the process; exited closes after the reap, so
// every exit path releases the OS resources exactly once.
type process struct {
	cmd    *exec.Cmd
	stdin  *os.File
	msgs   chan worker.Message
	exited chan struct{}
	done   atomic.Bool
}

func startProcess(launch launchSpec) (*process, error) {
	bin, args := launch.command, launch.args
	if launch.sandboxHome != "" {
		bin, args = sandbox.Argv(launch.sandboxHome, launch.dir, bin, args)
	}
	cmd := exec.Command(bin, args...)
	cmd.Env = append(os.Environ(), launch.env...)
	cmd.Dir = launch.dir
	// Own process group so signals reach any children the worker spawns.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	cmd.Stdin = stdinR
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		stdinR.Close()
		stdinW.Close()
		return nil, err
	}
	stdinR.Close()

	p := &process{
		cmd:    cmd,
		stdin:  stdinW,
		msgs:   make(chan worker.Message, 64),
		exited: make(chan struct{}),
	}
	go func() {
		_ = worker.ScanMessages(stdout, func(m worker.Message) {
			select {
			case p.msgs <- m:
			default:
				// Nothing drains msgs while the agent is idle or being
				// terminated; drop so the reader always reaches Wait
				// and the exit notification.
			}
		})
		close(p.msgs)
		_ = cmd.Wait()
		p.stdin.Close()
		p.done.Store(true)
		close(p.exited)
	}()
	return p, nil
}

// send writes one task request line to the worker's stdin.
func (p *process) send(req worker.TaskRequest) error {
	return worker.WriteRequest(p.stdin, req)
}

// signal delivers sig to the worker's process group.
func (p *process) signal(sig os.Signal) {
	if p.cmd.Process == nil || !p.alive() {
		return
	}
	if s, ok := sig.(syscall.Signal); ok {
		_ = syscall.Kill(-p.cmd.Process.Pid, s)
		return
	}
	_ = p.cmd.Process.Signal(sig)
}

func (p *process) kill() {
	if p.cmd.Process != nil && p.alive() {
		_ = syscall.Kill(-p.cmd.Process.Pid, syscall.SIGKILL)
	}
}

func (p *process) alive() bool { return !p.done.Load() }

func (p *process) pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}
