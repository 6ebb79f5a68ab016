// Package supervisor owns the set of currently-running external agent
// processes, one per active session. It starts, resumes, and cancels them,
// feeds them input, and drains their output through the stream classifier.
package supervisor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/crewctl/crewctl/internal/auth"
	"github.com/crewctl/crewctl/internal/bus"
	"github.com/crewctl/crewctl/internal/debug"
	"github.com/crewctl/crewctl/internal/prompt"
	"github.com/crewctl/crewctl/internal/stream"
)

// Config holds supervisor-wide settings.
type Config struct {
	// Binary is the agent CLI to run. Empty means "claude".
	Binary string

	// Args are default arguments prepended to every invocation.
	Args []string

	// Env is extra environment overlaid on every process.
	Env map[string]string

	// Auth resolves the credential injected into the process environment.
	// Nil means the process inherits whatever the environment provides.
	Auth *auth.Manager

	// Bus receives process-output and process-exit notifications. Nil
	// disables publishing.
	Bus *bus.Bus
}

// SendOptions describes one message delivery to a session.
type SendOptions struct {
	Folder      string
	Message     string
	Attachments []prompt.Attachment
	PlanMode    bool   // plan permission mode instead of accept-edits
	MCPEndpoint string // optional MCP server config passed to the CLI
}

// Result is the outcome of one completed process run.
type Result struct {
	SessionID string
	ExitCode  int
	Duration  time.Duration
	Output    string // final assistant text accumulated from the stream
	Stderr    string // captured stderr tail
}

// ProcessOutput is the bus payload published per classified event.
type ProcessOutput struct {
	SessionID string
	Event     stream.Event
	Raw       []byte
}

// ProcessExit is the bus payload published when a process finishes.
type ProcessExit struct {
	SessionID string
	ExitCode  int
	Duration  time.Duration
	Err       string
}

// Supervisor tracks at most one running process per session. The tracking
// map is the exclusive owner of process handles; other components only see
// session ids.
type Supervisor struct {
	cfg Config

	mu    sync.Mutex
	procs map[string]*handle
}

// handle is the narrow view of a running process the registry keeps.
// Only interrupt and the runner's own wait touch the underlying command.
type handle struct {
	mu  sync.Mutex
	pid int
}

func (h *handle) setPID(pid int) {
	h.mu.Lock()
	h.pid = pid
	h.mu.Unlock()
}

// interrupt delivers SIGINT to the process group, asking the agent to
// flush and shut down. It returns the pid it signalled, or zero when the
// process has not started yet. Failure to signal is ignored: the process
// may already be gone.
func (h *handle) interrupt() int {
	h.mu.Lock()
	pid := h.pid
	h.mu.Unlock()
	if pid <= 0 {
		return 0
	}
	_ = syscall.Kill(-pid, syscall.SIGINT)
	_ = syscall.Kill(pid, syscall.SIGINT)
	return pid
}

// New creates a supervisor with no running processes.
func New(cfg Config) *Supervisor {
	return &Supervisor{
		cfg:   cfg,
		procs: make(map[string]*handle),
	}
}

// Send resumes the session's conversation with a new message and blocks
// until the spawned process exits. The folder must be non-empty and the
// message non-empty unless attachments are present.
func (s *Supervisor) Send(ctx context.Context, sessionID string, opts SendOptions) (*Result, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("session id is required")
	}
	if err := validateSend(opts); err != nil {
		return nil, err
	}
	return s.run(ctx, sessionID, opts)
}

// NewSession spawns a process with no resume token, drains its stream to a
// terminal event, and returns the session id captured from the first event
// carrying one.
func (s *Supervisor) NewSession(ctx context.Context, folder string) (string, error) {
	if strings.TrimSpace(folder) == "" {
		return "", fmt.Errorf("folder is required")
	}
	res, err := s.run(ctx, "", SendOptions{Folder: folder, Message: "."})
	if err != nil {
		return "", err
	}
	if res.SessionID == "" {
		return "", ErrNoSessionID
	}
	return res.SessionID, nil
}

// Cancel delivers a graceful interrupt to the session's process and
// returns immediately. Cancellation races with natural completion, so a
// missing process is a no-op, never an error.
func (s *Supervisor) Cancel(sessionID string) {
	s.mu.Lock()
	h := s.procs[sessionID]
	s.mu.Unlock()

	if h == nil {
		debug.LogKV("supervisor", "cancel for idle session", "session_id", sessionID)
		return
	}
	pid := h.interrupt()
	debug.LogKV("supervisor", "interrupting process", "session_id", sessionID, "pid", pid)
}

// CancelAll interrupts every registered process. Used on orchestrator
// shutdown before the per-call contexts are cancelled.
func (s *Supervisor) CancelAll() {
	s.mu.Lock()
	handles := make([]*handle, 0, len(s.procs))
	for _, h := range s.procs {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	for _, h := range handles {
		h.interrupt()
	}
}

// Running reports whether a process is registered for the session.
func (s *Supervisor) Running(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.procs[sessionID]
	return ok
}

// RunningSessions returns the ids of all sessions with a registered process.
func (s *Supervisor) RunningSessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.procs))
	for id := range s.procs {
		out = append(out, id)
	}
	return out
}

// register claims the session slot. NewSession runs have no session id yet
// and skip registration; they are still cancellable through the context.
func (s *Supervisor) register(sessionID string, h *handle) error {
	if sessionID == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.procs[sessionID]; exists {
		return ErrSessionBusy
	}
	s.procs[sessionID] = h
	return nil
}

func (s *Supervisor) unregister(sessionID string) {
	if sessionID == "" {
		return
	}
	s.mu.Lock()
	delete(s.procs, sessionID)
	s.mu.Unlock()
}

func validateSend(opts SendOptions) error {
	if strings.TrimSpace(opts.Folder) == "" {
		return fmt.Errorf("folder is required")
	}
	if strings.TrimSpace(opts.Message) == "" && len(opts.Attachments) == 0 {
		return fmt.Errorf("message or attachments required")
	}
	return nil
}
