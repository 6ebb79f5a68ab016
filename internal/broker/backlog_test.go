package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddBacklogAssignsOrder(t *testing.T) {
	b := New(nil)

	first, err := b.AddBacklog(BacklogItem{AgentID: "alpha", Title: "write parser"})
	require.NoError(t, err)
	second, err := b.AddBacklog(BacklogItem{AgentID: "alpha", Title: "wire transport"})
	require.NoError(t, err)

	assert.Equal(t, StatusOpen, first.Status)
	assert.Equal(t, 1, first.SortOrder)
	assert.Equal(t, 2, second.SortOrder)
	assert.NotEqual(t, first.ID, second.ID)
	// Backlog items outlive sessions, so they get the long id form.
	assert.Len(t, first.ID, 16)
}

func TestAddBacklogValidation(t *testing.T) {
	b := New(nil)

	_, err := b.AddBacklog(BacklogItem{Title: "no owner"})
	require.Error(t, err)
	_, err = b.AddBacklog(BacklogItem{AgentID: "alpha"})
	require.Error(t, err)
	_, err = b.AddBacklog(BacklogItem{AgentID: "alpha", Title: "orphan", ParentID: "missing"})
	require.Error(t, err)
}

func TestBacklogHierarchy(t *testing.T) {
	b := New(nil)

	parent, err := b.AddBacklog(BacklogItem{AgentID: "alpha", Title: "epic"})
	require.NoError(t, err)
	child, err := b.AddBacklog(BacklogItem{AgentID: "beta", Title: "subtask", ParentID: parent.ID})
	require.NoError(t, err)

	kids := b.ListBacklog(BacklogFilter{ParentID: parent.ID})
	require.Len(t, kids, 1)
	assert.Equal(t, child.ID, kids[0].ID)
}

func TestUpdateBacklogMutableSurface(t *testing.T) {
	b := New(nil)

	item, err := b.AddBacklog(BacklogItem{AgentID: "alpha", Title: "task"})
	require.NoError(t, err)

	status := StatusInProgress
	order := 42
	updated, err := b.UpdateBacklog(item.ID, BacklogUpdate{Status: &status, SortOrder: &order})
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, updated.Status)
	assert.Equal(t, 42, updated.SortOrder)
	assert.Equal(t, item.Title, updated.Title)
	assert.False(t, updated.UpdatedAt.Before(item.UpdatedAt))

	_, err = b.UpdateBacklog("missing", BacklogUpdate{Status: &status})
	require.Error(t, err)
}

func TestListBacklogFilterAndOrder(t *testing.T) {
	b := New(nil)

	a1, err := b.AddBacklog(BacklogItem{AgentID: "alpha", Title: "a1"})
	require.NoError(t, err)
	a2, err := b.AddBacklog(BacklogItem{AgentID: "alpha", Title: "a2"})
	require.NoError(t, err)
	_, err = b.AddBacklog(BacklogItem{AgentID: "beta", Title: "b1"})
	require.NoError(t, err)

	// Move a2 ahead of a1.
	order := 0
	_, err = b.UpdateBacklog(a2.ID, BacklogUpdate{SortOrder: &order})
	require.NoError(t, err)

	items := b.ListBacklog(BacklogFilter{AgentID: "alpha"})
	require.Len(t, items, 2)
	assert.Equal(t, a2.ID, items[0].ID)
	assert.Equal(t, a1.ID, items[1].ID)

	done := StatusDone
	_, err = b.UpdateBacklog(a1.ID, BacklogUpdate{Status: &done})
	require.NoError(t, err)
	open := b.ListBacklog(BacklogFilter{AgentID: "alpha", Status: StatusOpen})
	require.Len(t, open, 1)
	assert.Equal(t, a2.ID, open[0].ID)
}
