package supervisor

import (
	"errors"
	"fmt"
)

var (
	// ErrBinaryNotFound means the agent CLI binary is not on PATH.
	ErrBinaryNotFound = errors.New("agent binary not found")

	// ErrSessionBusy means a process is already registered for the session.
	// The supervisor refuses to double-register rather than serialize.
	ErrSessionBusy = errors.New("a process is already running for this session")

	// ErrNoSessionID means the process exited cleanly without ever emitting
	// an event carrying a session ID.
	ErrNoSessionID = errors.New("no session id observed in process output")
)

// StartError wraps a failure to start the agent process.
type StartError struct {
	Err error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("agent process failed to start: %v", e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// ExitError reports a non-zero process exit, carrying a tail of the
// captured diagnostic output.
type ExitError struct {
	ExitCode int
	Stderr   string
	Output   string
}

func (e *ExitError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("agent process exited with code %d: %s", e.ExitCode, e.Stderr)
	}
	return fmt.Sprintf("agent process exited with code %d", e.ExitCode)
}
