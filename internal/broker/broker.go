// Package broker coordinates independently-running agent processes. It
// routes directed and broadcast messages between agent inboxes, suspends
// agent turns on human-decision requests (questions, tool permissions,
// plan review), and keeps the shared backlog. All state is owned here and
// mutated only through Broker operations.
package broker

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/crewctl/crewctl/internal/bus"
)

var (
	// ErrRequestSuperseded resolves a waiter whose pending request was
	// replaced by a newer request of the same kind from the same agent.
	ErrRequestSuperseded = errors.New("request superseded by a newer one")

	// ErrUnknownRequest means no pending request matches the given id.
	ErrUnknownRequest = errors.New("no pending request with that id")

	// ErrUnknownAgent means the agent slug has never been registered.
	ErrUnknownAgent = errors.New("unknown agent")
)

// Agent is one registered participant.
type Agent struct {
	ID           string    `json:"id"`
	Name         string    `json:"name,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Broker is the single addressable coordination point, reachable by every
// running agent process through the control channel and by the human
// layer through its façade methods.
type Broker struct {
	mu sync.RWMutex

	agents  map[string]Agent
	inboxes map[string][]Message
	pending map[pendingKey]*pendingRequest
	byID    map[string]*pendingRequest
	backlog map[string]*BacklogItem
	bus     *bus.Bus
	now     func() time.Time
}

// New creates an empty broker publishing on b. A nil bus disables
// notifications.
func New(b *bus.Bus) *Broker {
	return &Broker{
		agents:  make(map[string]Agent),
		inboxes: make(map[string][]Message),
		pending: make(map[pendingKey]*pendingRequest),
		byID:    make(map[string]*pendingRequest),
		backlog: make(map[string]*BacklogItem),
		bus:     b,
		now:     time.Now,
	}
}

// Register makes an agent addressable for directed messages and included
// in broadcasts. Re-registering updates the display name.
func (b *Broker) Register(agentID, name string) error {
	if strings.TrimSpace(agentID) == "" {
		return errors.New("agent id is required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	a, ok := b.agents[agentID]
	if !ok {
		a = Agent{ID: agentID, RegisteredAt: b.now().UTC()}
	}
	a.Name = name
	b.agents[agentID] = a
	if _, ok := b.inboxes[agentID]; !ok {
		b.inboxes[agentID] = nil
	}
	return nil
}

// Agents returns all registered agents sorted by id.
func (b *Broker) Agents() []Agent {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Agent, 0, len(b.agents))
	for _, a := range b.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (b *Broker) publish(topic string, payload any) {
	if b.bus != nil {
		b.bus.Publish(topic, payload)
	}
}
