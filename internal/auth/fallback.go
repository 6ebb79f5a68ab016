package auth

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// probeNativeCredential looks for a credential left behind by another
// already-installed agent tool, used as a last resort before declaring
// the orchestrator unauthenticated.
func probeNativeCredential() (string, bool) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", false
	}

	// Claude Code stores its OAuth state under ~/.claude on Linux.
	path := filepath.Join(home, ".claude", ".credentials.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}

	var creds struct {
		ClaudeAiOauth struct {
			AccessToken string `json:"accessToken"`
			ExpiresAt   int64  `json:"expiresAt"` // unix millis
		} `json:"claudeAiOauth"`
	}
	if err := json.Unmarshal(data, &creds); err != nil {
		return "", false
	}

	tok := creds.ClaudeAiOauth.AccessToken
	if tok == "" {
		return "", false
	}
	if exp := creds.ClaudeAiOauth.ExpiresAt; exp > 0 {
		if time.UnixMilli(exp).Before(time.Now()) {
			return "", false
		}
	}
	return tok, true
}
