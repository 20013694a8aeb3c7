package assistant

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConfiguration means credentials or the assistant profile are missing
	ErrConfiguration = errors.New("assistant configuration error")
	// ErrTransport means a remote call failed or timed out
	ErrTransport = errors.New("assistant transport failure")
	// ErrRun means the run ended in a failure state or never finished
	ErrRun = errors.New("assistant run failure")
)

// ConfigError lists the missing configuration fields
type ConfigError struct {
	Missing []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("missing %s", strings.Join(e.Missing, ", "))
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrConfiguration
}

// TransportError is a failed remote call
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// RunError is a run that did not complete
type RunError struct {
	RunID  string
	Status Status
	Polls  int
	Reason string
}

func (e *RunError) Error() string {
	if e.Status == "" || !e.Status.Terminal() {
		return fmt.Sprintf("run %s did not finish after %d polls", e.RunID, e.Polls)
	}
	if e.Reason != "" {
		return fmt.Sprintf("run %s %s: %s", e.RunID, e.Status, e.Reason)
	}
	return fmt.Sprintf("run %s %s", e.RunID, e.Status)
}

func (e *RunError) Is(target error) bool {
	return target == ErrRun
}

// TimedOut reports whether the run hit the poll ceiling
func (e *RunError) TimedOut() bool {
	return !e.Status.Terminal()
}
