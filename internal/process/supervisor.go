package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// ErrProcessGone is returned when signaling a group that no longer exists.
var ErrProcessGone = errors.New("process group already exited")

// ExitStatus is how a process ended. Signal is non-zero when the process was
// terminated by a signal, in which case Code is -1.
type ExitStatus struct {
	Code   int
	Signal syscall.Signal
}

// Success reports a zero exit code without a signal.
func (e ExitStatus) Success() bool {
	return e.Code == 0 && e.Signal == 0
}

func (e ExitStatus) String() string {
	if e.Signal != 0 {
		return SignalName(e.Signal)
	}
	return fmt.Sprintf("exit code %d", e.Code)
}

// SupervisorConfig configures a Supervisor.
type SupervisorConfig struct {
	Logger *slog.Logger

	// DiagnosticLimit caps captured stderr per process (0 = unbounded).
	DiagnosticLimit int

	// DrainTimeout bounds how long stderr is drained after the process
	// exits, for descendants that keep the stream open (default: 1s).
	DrainTimeout time.Duration
}

// Supervisor starts processes.
type Supervisor struct {
	logger          *slog.Logger
	diagnosticLimit int
	drainTimeout    time.Duration
}

// NewSupervisor creates a Supervisor.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = time.Second
	}
	return &Supervisor{
		logger:          cfg.Logger,
		diagnosticLimit: cfg.DiagnosticLimit,
		drainTimeout:    cfg.DrainTimeout,
	}
}

// Handle is a running process.
type Handle struct {
	spec        Spec
	cmd         *exec.Cmd
	group       Group
	logger      *slog.Logger
	diagnostics *Diagnostics

	stdin  *os.File // nil when stdin was supplied to Start
	stdout *os.File
	stderr *os.File

	drainTimeout time.Duration
	stderrDone   chan struct{}

	mu       sync.Mutex
	timer    *time.Timer
	exited   bool
	timedOut atomic.Bool

	done chan struct{}
	exit ExitStatus
}

// Start spawns spec as the leader of a new process group. When stdin is nil
// the handle exposes a writer for the child's standard input; otherwise the
// child reads stdin directly and the caller keeps ownership of the file.
//
// Cancelling ctx signals the group with its configured kill signal.
func (s *Supervisor) Start(ctx context.Context, spec Spec, stdin *os.File) (*Handle, error) {
	if spec.Command == "" {
		return nil, errors.New("command is required")
	}

	cmd := exec.CommandContext(ctx, spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.environ()
	cmd.SysProcAttr = sysProcAttr()
	cmd.Cancel = func() error {
		return newGroup(cmd.Process.Pid).Terminate(spec.signal())
	}

	h := &Handle{
		spec:         spec,
		cmd:          cmd,
		logger:       s.logger.With("command", spec.Command),
		diagnostics:  NewDiagnostics(s.diagnosticLimit),
		drainTimeout: s.drainTimeout,
		stderrDone:   make(chan struct{}),
		done:         make(chan struct{}),
	}

	// childEnds are handed to the child and closed in the parent after
	// Start; parentEnds stay with the handle.
	var childEnds, parentEnds []*os.File
	closeAll := func(files []*os.File) {
		for _, f := range files {
			f.Close()
		}
	}

	if stdin != nil {
		cmd.Stdin = stdin
	} else {
		r, w, err := os.Pipe()
		if err != nil {
			return nil, fmt.Errorf("stdin pipe: %w", err)
		}
		cmd.Stdin = r
		h.stdin = w
		childEnds = append(childEnds, r)
		parentEnds = append(parentEnds, w)
	}

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		closeAll(childEnds)
		closeAll(parentEnds)
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stdout = stdoutW
	h.stdout = stdoutR
	childEnds = append(childEnds, stdoutW)
	parentEnds = append(parentEnds, stdoutR)

	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		closeAll(childEnds)
		closeAll(parentEnds)
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	cmd.Stderr = stderrW
	h.stderr = stderrR
	childEnds = append(childEnds, stderrW)
	parentEnds = append(parentEnds, stderrR)

	if err := cmd.Start(); err != nil {
		closeAll(childEnds)
		closeAll(parentEnds)
		return nil, fmt.Errorf("start %s: %w", spec.Command, err)
	}
	closeAll(childEnds)

	h.group = newGroup(cmd.Process.Pid)
	h.logger.Debug("process started", "args", spec.Args, "pgid", h.group.ID())

	go h.collect()

	if spec.Timeout > 0 {
		h.mu.Lock()
		h.timer = time.AfterFunc(spec.Timeout, h.expire)
		h.mu.Unlock()
	}

	go h.wait()

	return h, nil
}

// collect drains stderr into the diagnostics buffer.
func (h *Handle) collect() {
	defer close(h.stderrDone)

	if _, err := io.Copy(h.diagnostics, h.stderr); err != nil && !errors.Is(err, os.ErrClosed) {
		h.logger.Warn("stderr collection failed", "error", err)
	}
}

func (h *Handle) wait() {
	_ = h.cmd.Wait()

	h.mu.Lock()
	h.exited = true
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
	h.mu.Unlock()

	drain := time.NewTimer(h.drainTimeout)
	select {
	case <-h.stderrDone:
	case <-drain.C:
		// A descendant still holds stderr open.
		h.stderr.Close()
		<-h.stderrDone
	}
	drain.Stop()
	h.stderr.Close()

	h.exit = exitStatus(h.cmd.ProcessState)
	h.logger.Debug("process exited", "status", h.exit.String())
	close(h.done)
}

// expire runs when the timeout fires: destroy the output streams so readers
// stop promptly, then signal the whole group.
func (h *Handle) expire() {
	h.mu.Lock()
	if h.exited {
		h.mu.Unlock()
		return
	}
	h.timer = nil
	// Set under mu so a stage seen as exited already reports the timeout.
	h.timedOut.Store(true)
	h.mu.Unlock()

	h.logger.Warn("process timed out",
		"args", h.spec.Args,
		"timeout", h.spec.Timeout,
		"signal", SignalName(h.spec.signal()),
	)

	h.stdout.Close()
	h.stderr.Close()

	if err := h.group.Terminate(h.spec.signal()); err != nil {
		h.logger.Warn("failed to signal timed out process group", "pgid", h.group.ID(), "error", err)
	}
}

// Stop signals the group with its configured kill signal and waits for the
// process to exit. If ctx expires first the group is sent SIGKILL.
func (h *Handle) Stop(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	default:
	}

	if err := h.group.Terminate(h.spec.signal()); err != nil && !errors.Is(err, ErrProcessGone) {
		return err
	}

	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
	}

	h.logger.Warn("process ignored termination, killing", "pgid", h.group.ID())
	if err := h.group.Terminate(syscall.SIGKILL); err != nil && !errors.Is(err, ErrProcessGone) {
		return err
	}
	<-h.done
	return nil
}

// Spec returns the Spec the process was started from.
func (h *Handle) Spec() Spec { return h.spec }

// Command returns the program name.
func (h *Handle) Command() string { return h.spec.Command }

// Args returns the program arguments.
func (h *Handle) Args() []string { return h.spec.Args }

// Group returns the process group.
func (h *Handle) Group() Group { return h.group }

// Stdin is the writer for the child's standard input, or nil when stdin was
// supplied to Start.
func (h *Handle) Stdin() io.WriteCloser {
	if h.stdin == nil {
		return nil
	}
	return h.stdin
}

// Stdout is the read end of the child's standard output. It is closed by the
// supervisor when the timeout fires.
func (h *Handle) Stdout() *os.File { return h.stdout }

// Diagnostics returns the captured standard error.
func (h *Handle) Diagnostics() *Diagnostics { return h.diagnostics }

// Done is closed once the process has exited and stderr has been drained.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Exit returns the exit status. Only valid after Done is closed.
func (h *Handle) Exit() ExitStatus { return h.exit }

// TimedOut reports whether the timeout fired.
func (h *Handle) TimedOut() bool { return h.timedOut.Load() }

// Wait blocks until the process exits or ctx is done.
func (h *Handle) Wait(ctx context.Context) (ExitStatus, error) {
	select {
	case <-h.done:
		return h.exit, nil
	case <-ctx.Done():
		return ExitStatus{Code: -1}, ctx.Err()
	}
}
