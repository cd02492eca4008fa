// Package process supervises external programs: it starts each one as the
// leader of its own process group, enforces an optional wall-clock timeout by
// signaling the whole group, and captures standard error for diagnostics.
package process

import (
	"os"
	"sort"
	"strings"
	"syscall"
	"time"
)

// Spec describes one program to run. It is not modified once a Handle has
// been started from it.
type Spec struct {
	// Command is resolved through PATH when it contains no path separator.
	Command string
	Args    []string
	Dir     string

	// Env replaces the child's environment. Nil inherits the parent's.
	Env map[string]string

	// Timeout of zero disables the timeout.
	Timeout time.Duration

	// KillSignal is sent to the process group when Timeout expires.
	// Zero means SIGTERM.
	KillSignal syscall.Signal
}

func (s Spec) signal() syscall.Signal {
	if s.KillSignal == 0 {
		return syscall.SIGTERM
	}
	return s.KillSignal
}

func (s Spec) environ() []string {
	if s.Env == nil {
		return nil
	}
	env := make([]string, 0, len(s.Env))
	for k, v := range s.Env {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return env
}

// Environ returns the parent's environment with overrides applied.
func Environ(overrides map[string]string) map[string]string {
	env := make(map[string]string, len(overrides))
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	for k, v := range overrides {
		env[k] = v
	}
	return env
}
