//go:build unix

package process

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// Group is a process group: the supervised program and everything it forks.
type Group struct {
	pgid int
}

func newGroup(pid int) Group {
	// Setpgid with Pgid 0 makes the child's pgid equal to its pid.
	return Group{pgid: pid}
}

// ID returns the process group id.
func (g Group) ID() int {
	return g.pgid
}

// Terminate sends sig to every process in the group.
func (g Group) Terminate(sig syscall.Signal) error {
	if g.pgid <= 0 {
		return errors.New("process group not started")
	}
	if err := unix.Kill(-g.pgid, sig); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return ErrProcessGone
		}
		return fmt.Errorf("signal %s to group %d: %w", SignalName(sig), g.pgid, err)
	}
	return nil
}

func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

func exitStatus(state *os.ProcessState) ExitStatus {
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return ExitStatus{Code: -1, Signal: ws.Signal()}
	}
	return ExitStatus{Code: state.ExitCode()}
}

// SignalName returns the conventional name of sig, e.g. "SIGKILL".
func SignalName(sig syscall.Signal) string {
	if name := unix.SignalName(sig); name != "" {
		return name
	}
	return "signal " + strconv.Itoa(int(sig))
}

// ParseSignal accepts "SIGKILL", "KILL" or "9".
func ParseSignal(name string) (syscall.Signal, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	if n, err := strconv.Atoi(name); err == nil && n > 0 {
		return syscall.Signal(n), nil
	}
	if !strings.HasPrefix(name, "SIG") {
		name = "SIG" + name
	}
	if sig := unix.SignalNum(name); sig != 0 {
		return sig, nil
	}
	return 0, fmt.Errorf("unknown signal %q", name)
}
