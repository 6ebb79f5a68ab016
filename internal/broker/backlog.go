package broker

import (
	"errors"
	"sort"
	"time"

	"github.com/crewctl/crewctl/internal/bus"
	"github.com/crewctl/crewctl/internal/hexid"
)

// BacklogStatus is the workflow state of a backlog item.
type BacklogStatus string

const (
	StatusOpen       BacklogStatus = "open"
	StatusInProgress BacklogStatus = "in-progress"
	StatusDone       BacklogStatus = "done"
	StatusBlocked    BacklogStatus = "blocked"
)

// BacklogItem is one unit of work owned by an agent, optionally parented
// to another item. Status and SortOrder are the only fields that change
// after creation.
type BacklogItem struct {
	ID        string        `json:"id"`
	AgentID   string        `json:"agent_id"`
	ParentID  string        `json:"parent_id,omitempty"`
	Title     string        `json:"title"`
	Context   string        `json:"context,omitempty"`
	Status    BacklogStatus `json:"status"`
	Tags      []string      `json:"tags,omitempty"`
	CreatedBy string        `json:"created_by,omitempty"`
	SortOrder int           `json:"sort_order"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// BacklogUpdate names the mutable surface of an item. Nil fields are left
// unchanged.
type BacklogUpdate struct {
	Status    *BacklogStatus `json:"status,omitempty"`
	SortOrder *int           `json:"sort_order,omitempty"`
}

// BacklogFilter selects items for AddBacklog's ListBacklog counterpart.
// Empty fields match everything.
type BacklogFilter struct {
	AgentID  string
	ParentID string
	Status   BacklogStatus
}

// AddBacklog creates a new item at the end of the owner's list. A parent,
// when given, must exist.
func (b *Broker) AddBacklog(item BacklogItem) (BacklogItem, error) {
	if item.AgentID == "" {
		return BacklogItem{}, errors.New("owning agent is required")
	}
	if item.Title == "" {
		return BacklogItem{}, errors.New("title is required")
	}
	if item.Status == "" {
		item.Status = StatusOpen
	}

	b.mu.Lock()
	if item.ParentID != "" {
		if _, ok := b.backlog[item.ParentID]; !ok {
			b.mu.Unlock()
			return BacklogItem{}, errors.New("parent item does not exist")
		}
	}
	item.ID = hexid.NewLong()
	now := b.now().UTC()
	item.CreatedAt = now
	item.UpdatedAt = now
	if item.SortOrder == 0 {
		item.SortOrder = b.nextSortOrder(item.AgentID)
	}
	stored := item
	b.backlog[item.ID] = &stored
	b.mu.Unlock()

	b.publish(bus.TopicBacklogUpdated, item)
	return item, nil
}

// nextSortOrder places new items after everything the agent already owns.
// Caller holds b.mu.
func (b *Broker) nextSortOrder(agentID string) int {
	max := 0
	for _, it := range b.backlog {
		if it.AgentID == agentID && it.SortOrder > max {
			max = it.SortOrder
		}
	}
	return max + 1
}

// UpdateBacklog applies the given changes to one item.
func (b *Broker) UpdateBacklog(id string, upd BacklogUpdate) (BacklogItem, error) {
	b.mu.Lock()
	it, ok := b.backlog[id]
	if !ok {
		b.mu.Unlock()
		return BacklogItem{}, errors.New("no such backlog item")
	}
	if upd.Status != nil {
		it.Status = *upd.Status
	}
	if upd.SortOrder != nil {
		it.SortOrder = *upd.SortOrder
	}
	it.UpdatedAt = b.now().UTC()
	out := *it
	b.mu.Unlock()

	b.publish(bus.TopicBacklogUpdated, out)
	return out, nil
}

// ListBacklog returns matching items ordered by sort order, then creation
// time.
func (b *Broker) ListBacklog(f BacklogFilter) []BacklogItem {
	b.mu.RLock()
	out := make([]BacklogItem, 0, len(b.backlog))
	for _, it := range b.backlog {
		if f.AgentID != "" && it.AgentID != f.AgentID {
			continue
		}
		if f.ParentID != "" && it.ParentID != f.ParentID {
			continue
		}
		if f.Status != "" && it.Status != f.Status {
			continue
		}
		out = append(out, *it)
	}
	b.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
