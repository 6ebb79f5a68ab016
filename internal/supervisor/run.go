package supervisor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/crewctl/crewctl/internal/auth"
	"github.com/crewctl/crewctl/internal/bus"
	"github.com/crewctl/crewctl/internal/debug"
	"github.com/crewctl/crewctl/internal/prompt"
	"github.com/crewctl/crewctl/internal/stream"
)

const stderrTailSize = 4 * 1024

// run spawns one agent process, feeds it the message, drains its stream to
// completion, and returns after the process has been fully waited on.
// sessionID is empty for NewSession runs.
func (s *Supervisor) run(ctx context.Context, sessionID string, opts SendOptions) (*Result, error) {
	binary := s.cfg.Binary
	if binary == "" {
		binary = "claude"
	}
	if _, err := exec.LookPath(binary); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrBinaryNotFound, binary)
	}

	payload, err := prompt.Build(opts.Message, opts.Attachments)
	if err != nil {
		return nil, err
	}

	args, stdin, err := s.buildInvocation(sessionID, opts, payload)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Dir = opts.Folder
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	// Run in its own process group so cancellation kills the whole tree;
	// Node-based CLIs spawn children that would otherwise hold the pipes
	// open and hang the drain.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process != nil {
			return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
		return nil
	}
	cmd.WaitDelay = 5 * time.Second

	if err := s.setupEnv(ctx, cmd); err != nil {
		return nil, err
	}

	stderrTail := newTailWriter(stderrTailSize)
	cmd.Stderr = stderrTail

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &StartError{Err: fmt.Errorf("stdout pipe: %w", err)}
	}

	h := &handle{}
	if err := s.register(sessionID, h); err != nil {
		return nil, err
	}
	defer s.unregister(sessionID)

	debug.LogKV("supervisor", "starting process",
		"binary", binary,
		"session_id", sessionID,
		"folder", opts.Folder,
		"args", strings.Join(args, " "),
		"stdin_bytes", len(stdin),
	)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, &StartError{Err: err}
	}
	h.setPID(cmd.Process.Pid)

	// Drain everything the process writes, even past the terminal event;
	// stopping early would deadlock the child on a full stdout buffer.
	events := stream.Parse(ctx, stdoutPipe)
	capturedID := sessionID
	var textBuf strings.Builder
	terminalSeen := false

	for raw := range events {
		if raw.Err != nil {
			debug.LogKV("supervisor", "skipping unparseable line", "session_id", sessionID, "err", raw.Err)
			continue
		}
		ev := raw.Event
		if capturedID == "" && ev.SessionID != "" {
			capturedID = ev.SessionID
		}
		if !terminalSeen {
			accumulateText(ev, &textBuf)
			s.publish(bus.TopicProcessOutput, ProcessOutput{
				SessionID: capturedID,
				Event:     ev,
				Raw:       raw.Raw,
			})
		}
		if ev.IsTerminal() {
			terminalSeen = true
		}
	}

	waitErr := cmd.Wait()
	duration := time.Since(start)

	res := &Result{
		SessionID: capturedID,
		Duration:  duration,
		Output:    textBuf.String(),
		Stderr:    stderrTail.String(),
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		switch {
		case ctx.Err() != nil:
			err = fmt.Errorf("agent process: %w", ctx.Err())
		case errors.As(waitErr, &exitErr):
			res.ExitCode = exitErr.ExitCode()
			err = &ExitError{
				ExitCode: res.ExitCode,
				Stderr:   res.Stderr,
				Output:   tailOf(res.Output, stderrTailSize),
			}
		default:
			err = &StartError{Err: waitErr}
		}
	}

	exit := ProcessExit{
		SessionID: capturedID,
		ExitCode:  res.ExitCode,
		Duration:  duration,
	}
	if err != nil {
		exit.Err = err.Error()
	}
	s.publish(bus.TopicProcessExit, exit)
	debug.LogKV("supervisor", "process exited",
		"session_id", capturedID,
		"exit_code", res.ExitCode,
		"duration", duration.Round(time.Millisecond),
		"err", exit.Err,
	)

	if err != nil {
		return nil, err
	}
	return res, nil
}

// buildInvocation translates send options into CLI arguments and the
// optional stdin document. With attachments present the payload travels as
// a single structured document on stdin; otherwise the message rides as a
// plain argument.
func (s *Supervisor) buildInvocation(sessionID string, opts SendOptions, payload *prompt.Payload) (args []string, stdin []byte, err error) {
	args = append(args, s.cfg.Args...)
	args = append(args, "--print", "--output-format", "stream-json", "--verbose")

	if opts.PlanMode {
		args = append(args, "--permission-mode", "plan")
	} else {
		args = append(args, "--permission-mode", "acceptEdits")
	}
	if opts.MCPEndpoint != "" {
		args = append(args, "--mcp-config", opts.MCPEndpoint)
	}
	// The resume token is the session id itself.
	if sessionID != "" {
		args = append(args, "--resume", sessionID)
	}

	if payload.HasAttachments() {
		args = append(args, "--input-format", "stream-json")
		stdin, err = payload.Encode()
		if err != nil {
			return nil, nil, err
		}
		return args, stdin, nil
	}

	args = append(args, payload.Text())
	return args, nil, nil
}

// setupEnv overlays the configured environment and the resolved credential
// on the inherited one.
func (s *Supervisor) setupEnv(ctx context.Context, cmd *exec.Cmd) error {
	cmd.Env = os.Environ()
	for k, v := range s.cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	if s.cfg.Auth == nil {
		return nil
	}
	token, err := s.cfg.Auth.Token(ctx)
	if err != nil {
		return err
	}
	if s.cfg.Auth.Summary().Method == auth.MethodAPIKey {
		cmd.Env = append(cmd.Env, "ANTHROPIC_API_KEY="+token)
	} else {
		cmd.Env = append(cmd.Env, "CLAUDE_CODE_OAUTH_TOKEN="+token)
	}
	return nil
}

func (s *Supervisor) publish(topic string, payload any) {
	if s.cfg.Bus != nil {
		s.cfg.Bus.Publish(topic, payload)
	}
}

// accumulateText keeps the final assistant report: text deltas append,
// the authoritative result text replaces everything when present.
func accumulateText(ev stream.Event, buf *strings.Builder) {
	switch ev.Kind {
	case stream.KindAssistantDelta:
		buf.WriteString(ev.Text)
	case stream.KindResultSuccess, stream.KindResultError:
		if strings.TrimSpace(ev.ResultText) != "" {
			buf.Reset()
			buf.WriteString(ev.ResultText)
		}
	}
}

func tailOf(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// tailWriter keeps the last capacity bytes written to it.
type tailWriter struct {
	cap int
	buf []byte
}

func newTailWriter(capacity int) *tailWriter {
	return &tailWriter{cap: capacity}
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	if len(w.buf) > w.cap {
		w.buf = w.buf[len(w.buf)-w.cap:]
	}
	return len(p), nil
}

func (w *tailWriter) String() string {
	return strings.TrimSpace(string(w.buf))
}
