package debug

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDisabledIsNoop(t *testing.T) {
	if Enabled() {
		t.Fatal("debug logger enabled without Init")
	}
	// Must not panic.
	Log("test", "hello")
	Logf("test", "formatted %d", 1)
	LogKV("test", "kv", "a", 1)
	if Path() != "" {
		t.Fatalf("Path() = %q, want empty", Path())
	}
}

func TestInitAndWrite(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "crewctl-debug.log")
	t.Setenv(EnvLogPath, logPath)

	path, err := Init()
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer Close()

	if path != logPath {
		t.Fatalf("Init path = %q, want %q", path, logPath)
	}
	if !Enabled() {
		t.Fatal("Enabled() = false after Init")
	}

	Log("unit", "plain line")
	LogKV("unit", "kv line", "session_id", "abc123", "count", 3)
	Close()

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "plain line") {
		t.Error("log missing plain line")
	}
	if !strings.Contains(content, "session_id=abc123") {
		t.Error("log missing kv pair")
	}
}

func TestShouldEnableFromEnv(t *testing.T) {
	cases := []struct {
		toggle, path string
		want         bool
	}{
		{"", "", false},
		{"", "/tmp/x.log", true},
		{"1", "", true},
		{"off", "/tmp/x.log", false},
		{"yes", "", true},
	}
	for _, tc := range cases {
		t.Setenv(EnvEnabled, tc.toggle)
		t.Setenv(EnvLogPath, tc.path)
		if got := ShouldEnableFromEnv(); got != tc.want {
			t.Errorf("ShouldEnableFromEnv(toggle=%q path=%q) = %v, want %v", tc.toggle, tc.path, got, tc.want)
		}
	}
}
