package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scanord/engine/pkg/artifact"
	"github.com/scanord/engine/pkg/chunk"
	"github.com/scanord/engine/pkg/coverage"
	"github.com/scanord/engine/pkg/events"
	"github.com/scanord/engine/pkg/types"
)

// newIdleScheduler builds a Scheduler whose loops are never started, for
// tests that only exercise the synchronous Kill/Split/Requeue paths
// against chunks that never actually run.
func newIdleScheduler(t *testing.T) (*Scheduler, *chunk.Store, *coverage.Tracker) {
	t.Helper()
	cs := chunk.NewStore()
	cov := coverage.NewTracker(3)
	art := artifact.NewStore(t.TempDir())
	broker := events.NewBroker(10)
	t.Cleanup(broker.Close)

	sched := New(Config{
		Chunks:    cs,
		Coverage:  cov,
		Artifacts: art,
		Broker:    broker,
		Settings:  fixedSettings{baseSettings()},
	})
	return sched, cs, cov
}

func TestKillUnknownChunkReturnsNotFound(t *testing.T) {
	sched, _, _ := newIdleScheduler(t)
	err := sched.Kill("does-not-exist")
	assert.Error(t, err)
}

func TestKillQueuedChunkWithoutPromotion(t *testing.T) {
	sched, cs, cov := newIdleScheduler(t)
	c := cs.Create([]types.Address{"10.1.0.1"}, "", 0)

	require.NoError(t, sched.Kill(c.ID))

	got, err := cs.Get(c.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ChunkKilled, got.Status)
	assert.Equal(t, 1, cov.Coverage().Killed)
}

func TestKillIsIdempotentOnAlreadyKilled(t *testing.T) {
	sched, cs, _ := newIdleScheduler(t)
	c := cs.Create([]types.Address{"10.1.0.2"}, "", 0)
	require.NoError(t, sched.Kill(c.ID))
	assert.NoError(t, sched.Kill(c.ID))
}

func TestKillCompletedChunkIsInvalidState(t *testing.T) {
	sched, cs, _ := newIdleScheduler(t)
	c := cs.Create([]types.Address{"10.1.0.3"}, "", 0)
	_, err := cs.Transition(c.ID, types.ChunkRunning)
	require.NoError(t, err)
	_, err = cs.Transition(c.ID, types.ChunkCompleted)
	require.NoError(t, err)

	err = sched.Kill(c.ID)
	assert.Error(t, err)
	var invalid *chunk.InvalidStateError
	assert.ErrorAs(t, err, &invalid)
}

func TestRequeueRejectsNonTerminalChunk(t *testing.T) {
	sched, cs, _ := newIdleScheduler(t)
	c := cs.Create([]types.Address{"10.1.0.4"}, "", 0)

	err := sched.Requeue(c.ID)
	assert.Error(t, err)
}

func TestRequeueResetsProgressNotTotal(t *testing.T) {
	sched, cs, _ := newIdleScheduler(t)
	c := cs.Create([]types.Address{"10.1.0.5", "10.1.0.6"}, "", 0)
	_, err := cs.Transition(c.ID, types.ChunkRunning)
	require.NoError(t, err)
	_, err = cs.Progress(c.ID, 1)
	require.NoError(t, err)
	_, err = cs.Transition(c.ID, types.ChunkFailed)
	require.NoError(t, err)

	require.NoError(t, sched.Requeue(c.ID))

	got, err := cs.Get(c.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ChunkQueued, got.Status)
	assert.Equal(t, 0, got.ProgressCompleted)
	assert.Equal(t, 2, got.ProgressTotal)
	assert.Equal(t, 1, got.Attempt)
}

func TestSplitQueuedChunkConservesAddresses(t *testing.T) {
	sched, cs, _ := newIdleScheduler(t)
	addrs := []types.Address{"a", "b", "c", "d", "e"}
	c := cs.Create(addrs, "", 0)

	childIDs, err := sched.Split(c.ID, 2)
	require.NoError(t, err)
	require.Len(t, childIDs, 2) // slice size ceil(5/2)=3 -> slices of 3 and 2 addresses

	seen := map[types.Address]bool{}
	for _, id := range childIDs {
		child, err := cs.Get(id)
		require.NoError(t, err)
		for _, a := range child.Addresses {
			assert.False(t, seen[a], "address %s appeared in more than one child", a)
			seen[a] = true
		}
	}
	assert.Len(t, seen, len(addrs))
}

func TestSplitUnknownChunkReturnsNotFound(t *testing.T) {
	sched, _, _ := newIdleScheduler(t)
	_, err := sched.Split("nope", 2)
	assert.Error(t, err)
}

func TestPromoteRespectsZeroCapacity(t *testing.T) {
	sched, cs, _ := newIdleScheduler(t)
	cs.Create([]types.Address{"10.1.1.1"}, "", 0)

	settings := baseSettings()
	settings.MaxWorkers = 0
	sched.settings = fixedSettings{settings}

	sched.promote()

	assert.Equal(t, 0, sched.RunningCount())
}

func TestRunningCountStartsAtZero(t *testing.T) {
	sched, _, _ := newIdleScheduler(t)
	assert.Equal(t, 0, sched.RunningCount())
}
