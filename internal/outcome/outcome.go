// Package outcome defines the terminal result of a job and the first-wins
// latch that guarantees it is produced at most once.
package outcome

import (
	"fmt"
	"strings"
)

// Kind classifies a failure.
type Kind string

const (
	KindSpawn         Kind = "spawn-error"
	KindStream        Kind = "stream-error"
	KindSignaled      Kind = "signaled"
	KindNonZeroExit   Kind = "non-zero-exit"
	KindSink          Kind = "sink-error"
	KindUpstreamFetch Kind = "upstream-fetch-error"
	KindCanceled      Kind = "canceled"
)

// Failure is a terminal job failure. It carries enough context (command,
// arguments, captured stderr) to diagnose the job after the fact.
type Failure struct {
	Kind    Kind
	Message string
	Command string
	Args    []string
	Stderr  string

	// TimedOut is set when the stage was killed by its supervisor's timeout.
	TimedOut bool

	Err error
}

// Error returns the message followed by the captured stderr, if any.
func (f *Failure) Error() string {
	msg := f.Message
	if msg == "" && f.Err != nil {
		msg = f.Err.Error()
	}
	if stderr := strings.TrimSpace(f.Stderr); stderr != "" {
		msg += "\n" + stderr
	}
	return msg
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// CommandLine renders the command and its arguments the way they appear in
// failure messages.
func CommandLine(command string, args []string) string {
	if len(args) == 0 {
		return command
	}
	return command + " " + strings.Join(args, " ")
}

// Failf builds a Failure of the given kind with a formatted message.
func Failf(kind Kind, format string, a ...any) *Failure {
	return &Failure{Kind: kind, Message: fmt.Sprintf(format, a...)}
}

// Wrap builds a Failure of the given kind around err.
func Wrap(kind Kind, err error) *Failure {
	return &Failure{Kind: kind, Message: err.Error(), Err: err}
}

// Outcome is exactly one of a success with a location or a failure.
type Outcome struct {
	Location string
	Failure  *Failure
}

// Success returns a successful Outcome.
func Success(location string) Outcome {
	return Outcome{Location: location}
}

// Failed returns a failed Outcome.
func Failed(f *Failure) Outcome {
	return Outcome{Failure: f}
}

// Succeeded reports whether o is a success.
func (o Outcome) Succeeded() bool {
	return o.Failure == nil
}

// Err returns the failure as an error, or nil on success.
func (o Outcome) Err() error {
	if o.Failure == nil {
		return nil
	}
	return o.Failure
}
