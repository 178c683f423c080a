package chunk

import (
	"testing"

	"github.com/scanord/engine/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateStartsQueued(t *testing.T) {
	s := NewStore()
	c := s.Create([]types.Address{"10.0.0.1"}, "", 0)

	assert.Equal(t, types.ChunkQueued, c.Status)
	assert.Equal(t, 1, c.ProgressTotal)
	assert.Zero(t, c.ProgressCompleted)
}

func TestGetNotFound(t *testing.T) {
	s := NewStore()
	_, err := s.Get("missing")
	var nf *NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestTransitionQueuedToRunningStampsStartedAt(t *testing.T) {
	s := NewStore()
	c := s.Create([]types.Address{"10.0.0.1"}, "", 0)

	updated, err := s.Transition(c.ID, types.ChunkRunning)
	require.NoError(t, err)
	assert.NotNil(t, updated.StartedAt)
	assert.Nil(t, updated.CompletedAt)
}

func TestTransitionRunningToCompletedStampsCompletedAt(t *testing.T) {
	s := NewStore()
	c := s.Create([]types.Address{"10.0.0.1"}, "", 0)
	_, err := s.Transition(c.ID, types.ChunkRunning)
	require.NoError(t, err)

	updated, err := s.Transition(c.ID, types.ChunkCompleted)
	require.NoError(t, err)
	assert.NotNil(t, updated.CompletedAt)
}

func TestTransitionIllegalReturnsInvalidState(t *testing.T) {
	s := NewStore()
	c := s.Create([]types.Address{"10.0.0.1"}, "", 0)

	_, err := s.Transition(c.ID, types.ChunkCompleted)
	var invalid *InvalidStateError
	assert.ErrorAs(t, err, &invalid)
}

func TestRequeueResetsProgressAndIncrementsAttempt(t *testing.T) {
	s := NewStore()
	c := s.Create([]types.Address{"10.0.0.1", "10.0.0.2"}, "", 0)
	_, err := s.Transition(c.ID, types.ChunkRunning)
	require.NoError(t, err)
	_, err = s.Progress(c.ID, 2)
	require.NoError(t, err)
	_, err = s.Transition(c.ID, types.ChunkCompleted)
	require.NoError(t, err)

	updated, err := s.Transition(c.ID, types.ChunkQueued)
	require.NoError(t, err)

	assert.Equal(t, types.ChunkQueued, updated.Status)
	assert.Zero(t, updated.ProgressCompleted)
	assert.Equal(t, 1, updated.Attempt)
	assert.Nil(t, updated.StartedAt)
	assert.Nil(t, updated.CompletedAt)
}

func TestProgressClampsAtTotal(t *testing.T) {
	s := NewStore()
	c := s.Create([]types.Address{"10.0.0.1"}, "", 0)

	updated, err := s.Progress(c.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.ProgressCompleted)
}

func TestListFiltersByStatusAndIsOrderedByCreatedAt(t *testing.T) {
	s := NewStore()
	a := s.Create([]types.Address{"10.0.0.1"}, "", 0)
	b := s.Create([]types.Address{"10.0.0.2"}, "", 0)
	_, err := s.Transition(a.ID, types.ChunkRunning)
	require.NoError(t, err)

	queued := types.ChunkQueued
	list := s.List(ListFilter{Status: &queued})
	require.Len(t, list, 1)
	assert.Equal(t, b.ID, list[0].ID)

	all := s.List(ListFilter{})
	require.Len(t, all, 2)
	assert.Equal(t, a.ID, all[0].ID)
	assert.Equal(t, b.ID, all[1].ID)
}

func TestListPagination(t *testing.T) {
	s := NewStore()
	for i := 0; i < 5; i++ {
		s.Create([]types.Address{"10.0.0.1"}, "", 0)
	}

	list := s.List(ListFilter{Limit: 2, Offset: 1})
	assert.Len(t, list, 2)
}

func TestSplitProducesContiguousChildrenAndKillsParent(t *testing.T) {
	s := NewStore()
	c := s.Create([]types.Address{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4", "10.0.0.5"}, "", 0)
	_, err := s.Transition(c.ID, types.ChunkRunning)
	require.NoError(t, err)

	childIDs, err := s.Split(c.ID, 2)
	require.NoError(t, err)
	require.Len(t, childIDs, 2)

	parent, err := s.Get(c.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ChunkKilled, parent.Status)

	child0, err := s.Get(childIDs[0])
	require.NoError(t, err)
	assert.Equal(t, []types.Address{"10.0.0.1", "10.0.0.2", "10.0.0.3"}, child0.Addresses)
	assert.Equal(t, c.ID, child0.ParentID)
	assert.Equal(t, 1, child0.Attempt)

	child1, err := s.Get(childIDs[1])
	require.NoError(t, err)
	assert.Equal(t, []types.Address{"10.0.0.4", "10.0.0.5"}, child1.Addresses)

	assert.ElementsMatch(t, childIDs, s.Children(c.ID))
}

func TestSplitAlwaysLegalFromQueued(t *testing.T) {
	s := NewStore()
	c := s.Create([]types.Address{"10.0.0.1", "10.0.0.2"}, "", 0)

	childIDs, err := s.Split(c.ID, 2)
	require.NoError(t, err)
	assert.Len(t, childIDs, 2)
}

func TestCountByStatus(t *testing.T) {
	s := NewStore()
	a := s.Create([]types.Address{"10.0.0.1"}, "", 0)
	s.Create([]types.Address{"10.0.0.2"}, "", 0)
	_, err := s.Transition(a.ID, types.ChunkRunning)
	require.NoError(t, err)

	counts := s.CountByStatus()
	assert.Equal(t, 1, counts[types.ChunkQueued])
	assert.Equal(t, 1, counts[types.ChunkRunning])
}

func TestCountReflectsAllStatuses(t *testing.T) {
	s := NewStore()
	assert.Equal(t, 0, s.Count())

	c := s.Create([]types.Address{"10.0.0.1"}, "", 0)
	assert.Equal(t, 1, s.Count())

	_, err := s.Transition(c.ID, types.ChunkRunning)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Count())

	// One address split two ways yields a single child (slice size
	// ceil(1/2)=1), so the parent plus one child.
	_, err = s.Split(c.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Count())
}
