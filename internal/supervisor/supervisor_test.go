package supervisor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/crewctl/crewctl/internal/bus"
	"github.com/crewctl/crewctl/internal/prompt"
	"github.com/crewctl/crewctl/internal/stream"
)

// writeScript installs a fake agent binary that replays fixture output.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-agent")
	script := "#!/bin/sh\n" + body
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("writing fake agent: %v", err)
	}
	return path
}

const fixtureHappy = `printf '{"type":"system","subtype":"init","session_id":"fix-1"}\n'
printf '{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"working"}]}}\n'
printf '{"type":"result","subtype":"success","result":"All done."}\n'
`

func TestSendSuccess(t *testing.T) {
	b := bus.New()
	sub := b.Subscribe()
	defer sub.Cancel()

	s := New(Config{Binary: writeScript(t, fixtureHappy), Bus: b})
	res, err := s.Send(context.Background(), "fix-1", SendOptions{
		Folder:  t.TempDir(),
		Message: "do the thing",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.SessionID != "fix-1" {
		t.Errorf("SessionID = %q, want fix-1", res.SessionID)
	}
	if res.Output != "All done." {
		t.Errorf("Output = %q", res.Output)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d", res.ExitCode)
	}
	if s.Running("fix-1") {
		t.Error("session still registered after Send returned")
	}

	// Output events arrive in stream order, then the exit notification.
	var kinds []stream.Kind
	sawExit := false
	timeout := time.After(2 * time.Second)
	for !sawExit {
		select {
		case n := <-sub.C:
			switch p := n.Payload.(type) {
			case ProcessOutput:
				kinds = append(kinds, p.Event.Kind)
			case ProcessExit:
				if p.SessionID != "fix-1" || p.ExitCode != 0 {
					t.Errorf("exit payload = %+v", p)
				}
				sawExit = true
			}
		case <-timeout:
			t.Fatal("bus notifications incomplete")
		}
	}
	want := []stream.Kind{stream.KindInit, stream.KindAssistantDelta, stream.KindResultSuccess}
	if len(kinds) != len(want) {
		t.Fatalf("event kinds = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("kinds[%d] = %q, want %q", i, kinds[i], want[i])
		}
	}
}

func TestSendValidation(t *testing.T) {
	s := New(Config{Binary: "/bin/true"})
	ctx := context.Background()

	if _, err := s.Send(ctx, "sess", SendOptions{Message: "hi"}); err == nil {
		t.Error("empty folder accepted")
	}
	if _, err := s.Send(ctx, "sess", SendOptions{Folder: "/tmp"}); err == nil {
		t.Error("empty message with no attachments accepted")
	}
	if _, err := s.Send(ctx, "", SendOptions{Folder: "/tmp", Message: "hi"}); err == nil {
		t.Error("empty session id accepted")
	}
}

func TestBinaryNotFound(t *testing.T) {
	s := New(Config{Binary: "definitely-not-a-real-binary-name"})
	_, err := s.Send(context.Background(), "sess", SendOptions{Folder: "/tmp", Message: "hi"})
	if !errors.Is(err, ErrBinaryNotFound) {
		t.Errorf("err = %v, want ErrBinaryNotFound", err)
	}
}

func TestNewSessionCapturesID(t *testing.T) {
	s := New(Config{Binary: writeScript(t, fixtureHappy)})
	id, err := s.NewSession(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if id != "fix-1" {
		t.Errorf("session id = %q, want fix-1", id)
	}
}

func TestNewSessionNoID(t *testing.T) {
	script := writeScript(t, `printf '{"type":"result","subtype":"success","result":"ok"}\n'`+"\n")
	s := New(Config{Binary: script})
	_, err := s.NewSession(context.Background(), t.TempDir())
	if !errors.Is(err, ErrNoSessionID) {
		t.Errorf("err = %v, want ErrNoSessionID", err)
	}
}

func TestExitNonZero(t *testing.T) {
	script := writeScript(t, `echo "fatal: model overloaded" >&2
exit 3
`)
	s := New(Config{Binary: script})
	_, err := s.Send(context.Background(), "sess", SendOptions{Folder: t.TempDir(), Message: "hi"})

	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("err = %v, want *ExitError", err)
	}
	if exitErr.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", exitErr.ExitCode)
	}
	if !strings.Contains(exitErr.Stderr, "model overloaded") {
		t.Errorf("Stderr tail = %q", exitErr.Stderr)
	}
}

const fixtureSlow = `trap 'exit 0' INT TERM
printf '{"type":"system","subtype":"init","session_id":"slow-1"}\n'
sleep 30
exit 0
`

func TestSecondSendRejected(t *testing.T) {
	s := New(Config{Binary: writeScript(t, fixtureSlow)})
	folder := t.TempDir()

	errCh := make(chan error, 1)
	go func() {
		_, err := s.Send(context.Background(), "slow-1", SendOptions{Folder: folder, Message: "first"})
		errCh <- err
	}()

	// Wait for the first send to register its process.
	deadline := time.Now().Add(5 * time.Second)
	for !s.Running("slow-1") {
		if time.Now().After(deadline) {
			t.Fatal("first send never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	_, err := s.Send(context.Background(), "slow-1", SendOptions{Folder: folder, Message: "second"})
	if !errors.Is(err, ErrSessionBusy) {
		t.Errorf("second send err = %v, want ErrSessionBusy", err)
	}

	s.Cancel("slow-1")
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("interrupted send returned %v, want graceful exit", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("first send did not return after Cancel")
	}
}

// Cancellation may land while the process is still spawning; the pid
// handoff between the runner and Cancel must stay synchronized.
func TestCancelDuringStartup(t *testing.T) {
	s := New(Config{Binary: writeScript(t, fixtureSlow)})
	folder := t.TempDir()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.Send(context.Background(), "slow-2", SendOptions{Folder: folder, Message: "go"})
	}()

	deadline := time.Now().Add(5 * time.Second)
	for !s.Running("slow-2") {
		if time.Now().After(deadline) {
			t.Fatal("send never registered")
		}
		time.Sleep(time.Millisecond)
	}
	// Registration happens before the process starts, so these overlap
	// the runner publishing the pid.
	for i := 0; i < 50; i++ {
		s.Cancel("slow-2")
	}

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("send did not return after Cancel")
	}
}

func TestCancelIdempotent(t *testing.T) {
	s := New(Config{Binary: "/bin/true"})
	// No process running: both calls are silent no-ops.
	s.Cancel("ghost")
	s.Cancel("ghost")

	// After a natural exit, late cancellation is also a no-op.
	script := writeScript(t, fixtureHappy)
	s = New(Config{Binary: script})
	if _, err := s.Send(context.Background(), "fix-1", SendOptions{Folder: t.TempDir(), Message: "hi"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	s.Cancel("fix-1")
	s.Cancel("fix-1")
}

func TestContextCancellation(t *testing.T) {
	s := New(Config{Binary: writeScript(t, `sleep 30`+"\n")})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	_, err := s.Send(ctx, "sess", SendOptions{Folder: t.TempDir(), Message: "hi"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

// With attachments the payload arrives as one structured document on
// stdin; the classifier round-trips the session id from the fixture
// output.
func TestSendAttachmentsStdinRoundTrip(t *testing.T) {
	sink := filepath.Join(t.TempDir(), "stdin-capture")
	script := writeScript(t, `cat > "$CREWCTL_TEST_SINK"
printf '{"type":"system","subtype":"init","session_id":"fix-1"}\n'
printf '{"type":"result","subtype":"success","result":"described"}\n'
`)
	s := New(Config{
		Binary: script,
		Env:    map[string]string{"CREWCTL_TEST_SINK": sink},
	})

	res, err := s.Send(context.Background(), "fix-1", SendOptions{
		Folder:  t.TempDir(),
		Message: "what are these",
		Attachments: []prompt.Attachment{
			{Name: "a.png", MediaType: "image/png", Data: []byte{1, 2}},
			{Name: "b.png", MediaType: "image/png", Data: []byte{3, 4}},
			{Name: "notes.txt", Data: []byte("remember this")},
		},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.SessionID != "fix-1" {
		t.Errorf("SessionID = %q", res.SessionID)
	}

	captured, err := os.ReadFile(sink)
	if err != nil {
		t.Fatalf("reading stdin capture: %v", err)
	}
	doc := string(captured)
	if !strings.Contains(doc, `"what are these"`) {
		t.Error("stdin document missing text part")
	}
	if !strings.Contains(doc, `"image"`) || !strings.Contains(doc, "--- file: notes.txt ---") {
		t.Errorf("stdin document missing attachment parts: %s", doc)
	}
	if strings.Index(doc, "what are these") > strings.Index(doc, "image") {
		t.Error("text part does not precede attachments")
	}
}

func TestTailWriter(t *testing.T) {
	w := newTailWriter(8)
	w.Write([]byte("0123456789abcdef"))
	if got := w.String(); got != "89abcdef" {
		t.Errorf("tail = %q, want %q", got, "89abcdef")
	}
}
