//go:build !unix

package process

import (
	"errors"
	"os"
	"strconv"
	"syscall"
)

var errUnsupported = errors.New("process groups are not supported on this platform")

// Group is a process group: the supervised program and everything it forks.
type Group struct {
	pgid int
}

func newGroup(pid int) Group {
	return Group{pgid: pid}
}

// ID returns the process group id.
func (g Group) ID() int {
	return g.pgid
}

// Terminate is unsupported outside unix.
func (g Group) Terminate(sig syscall.Signal) error {
	return errUnsupported
}

func sysProcAttr() *syscall.SysProcAttr {
	return nil
}

func exitStatus(state *os.ProcessState) ExitStatus {
	return ExitStatus{Code: state.ExitCode()}
}

// SignalName returns a printable name for sig.
func SignalName(sig syscall.Signal) string {
	return "signal " + strconv.Itoa(int(sig))
}

// ParseSignal is unsupported outside unix.
func ParseSignal(name string) (syscall.Signal, error) {
	return 0, errUnsupported
}
