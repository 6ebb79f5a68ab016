// Package store persists orchestrator state as simple keyed JSON documents
// under a root directory (~/.crewctl by default). The token provider and
// the supervisor treat it as a get/set key-value capability.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const CrewctlDir = ".crewctl"

// Store reads and writes keyed JSON documents under its root directory.
type Store struct {
	root string
	mu   sync.RWMutex
}

// New opens a store rooted at dir. An empty dir uses ~/.crewctl.
func New(dir string) (*Store, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving home dir: %w", err)
		}
		dir = filepath.Join(home, CrewctlDir)
	}
	if err := os.MkdirAll(filepath.Join(dir, "workspaces"), 0755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}
	return &Store{root: dir}, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string {
	return s.root
}

// AuthConfig is the persisted credential state for the token provider.
type AuthConfig struct {
	Method string `json:"method,omitempty"` // "api-key", "oauth", "external", or "" (unset)

	APIKey string `json:"api_key,omitempty"`

	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`

	Updated time.Time `json:"updated,omitempty"`
}

// Workspace describes one project folder an agent session is bound to.
type Workspace struct {
	ID             string    `json:"id"`
	Name           string    `json:"name,omitempty"`
	Folder         string    `json:"folder"`
	AgentSessionID string    `json:"agent_session_id,omitempty"`
	PermissionMode string    `json:"permission_mode,omitempty"` // "plan" or "accept-edits"
	MCPEndpoint    string    `json:"mcp_endpoint,omitempty"`
	Created        time.Time `json:"created,omitempty"`
	Updated        time.Time `json:"updated,omitempty"`
}

// LoadAuthConfig reads the persisted auth document. A missing document
// returns an empty config, not an error.
func (s *Store) LoadAuthConfig() (*AuthConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	path := filepath.Join(s.root, "auth.json")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &AuthConfig{}, nil
	}
	var cfg AuthConfig
	if err := s.readJSON(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SaveAuthConfig writes the auth document.
func (s *Store) SaveAuthConfig(cfg *AuthConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg.Updated = time.Now().UTC()
	return s.writeJSON(filepath.Join(s.root, "auth.json"), cfg)
}

// LoadWorkspace reads a workspace document by id.
func (s *Store) LoadWorkspace(id string) (*Workspace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ws Workspace
	if err := s.readJSON(s.workspacePath(id), &ws); err != nil {
		return nil, err
	}
	return &ws, nil
}

// SaveWorkspace writes a workspace document keyed by its ID.
func (s *Store) SaveWorkspace(ws *Workspace) error {
	if strings.TrimSpace(ws.ID) == "" {
		return fmt.Errorf("workspace id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if ws.Created.IsZero() {
		ws.Created = now
	}
	ws.Updated = now
	return s.writeJSON(s.workspacePath(ws.ID), ws)
}

// ListWorkspaces returns all workspace documents sorted by creation time,
// newest first.
func (s *Store) ListWorkspaces() ([]Workspace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dir := filepath.Join(s.root, "workspaces")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []Workspace
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		var ws Workspace
		if err := s.readJSON(filepath.Join(dir, e.Name()), &ws); err != nil {
			continue
		}
		out = append(out, ws)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created.After(out[j].Created) })
	return out, nil
}

// DeleteWorkspace removes a workspace document. Missing is not an error.
func (s *Store) DeleteWorkspace(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.workspacePath(id))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *Store) workspacePath(id string) string {
	return filepath.Join(s.root, "workspaces", id+".json")
}

func (s *Store) writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (s *Store) readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
