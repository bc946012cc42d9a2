package sync

import (
	"context"
	stdsync "sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"betterish/lifecycle"
	"betterish/model"
	"betterish/store"
)

var testNow = time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

type coordFixture struct {
	mem   *store.MemoryStore
	cache *Cache
	coord *Coordinator
	clock *fakeClock
}

type fakeClock struct {
	mu  stdsync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newCoordFixture() *coordFixture {
	mem := store.NewMemoryStore()
	cache := NewCache()
	clock := &fakeClock{now: testNow}
	machine := lifecycle.NewMachine(mem, zerolog.Nop()).WithClock(clock.Now)
	coord := NewCoordinator(machine, cache, zerolog.Nop()).WithClock(clock.Now)
	return &coordFixture{mem: mem, cache: cache, coord: coord, clock: clock}
}

func (f *coordFixture) seed(t model.Task) string {
	id := f.mem.Seed(t)
	t.TaskID = id
	f.cache.Put(t)
	return id
}

func TestDispatchAppliesOptimisticallyThenSettles(t *testing.T) {
	f := newCoordFixture()
	id := f.seed(model.Task{OwnerID: "owner-1", Title: "x"})

	f.coord.Dispatch(context.Background(), Mutation{TaskID: id, Action: ActionComplete})

	// The patch is visible before the remote write settles.
	cached, ok := f.cache.Get(id)
	require.True(t, ok)
	assert.True(t, cached.Completed)

	f.coord.Wait()
	stored, err := f.mem.GetTask(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, stored.Completed)
	assert.Empty(t, f.coord.InFlight())
}

func TestDispatchDebouncesRepeats(t *testing.T) {
	f := newCoordFixture()
	id := f.seed(model.Task{OwnerID: "owner-1", Title: "x"})

	// Snooze writes on every transition, so the store write count exposes
	// exactly which dispatches got through.
	f.coord.Dispatch(context.Background(), Mutation{TaskID: id, Action: ActionSnooze, Until: testNow.Add(time.Hour)})
	f.coord.Wait()
	f.coord.Dispatch(context.Background(), Mutation{TaskID: id, Action: ActionSnooze, Until: testNow.Add(2 * time.Hour)})
	f.coord.Wait()

	// The repeat inside the debounce window never reached the store.
	assert.Len(t, f.mem.UpdateLog(), 1)

	f.clock.Advance(DefaultDebounce)
	f.coord.Dispatch(context.Background(), Mutation{TaskID: id, Action: ActionSnooze, Until: testNow.Add(3 * time.Hour)})
	f.coord.Wait()
	assert.Len(t, f.mem.UpdateLog(), 2)
}

func TestDistinctActionsAreNotCoalesced(t *testing.T) {
	f := newCoordFixture()
	id := f.seed(model.Task{OwnerID: "owner-1", Title: "x"})

	f.coord.Dispatch(context.Background(), Mutation{TaskID: id, Action: ActionComplete})
	f.coord.Wait()
	f.coord.Dispatch(context.Background(), Mutation{TaskID: id, Action: ActionDismiss})
	f.coord.Wait()

	assert.Len(t, f.mem.UpdateLog(), 2)
}

func TestFailedMutationReverts(t *testing.T) {
	f := newCoordFixture()
	id := f.seed(model.Task{OwnerID: "owner-1", Title: "x"})

	var failed Mutation
	var failedErr error
	f.coord.OnError = func(mut Mutation, err error) {
		failed = mut
		failedErr = err
	}

	f.mem.FailNext("update", store.KindTransient)
	f.coord.Dispatch(context.Background(), Mutation{TaskID: id, Action: ActionComplete})
	f.coord.Wait()

	cached, ok := f.cache.Get(id)
	require.True(t, ok)
	assert.False(t, cached.Completed)
	assert.Equal(t, id, failed.TaskID)
	assert.True(t, store.IsKind(failedErr, store.KindTransient))

	stored, err := f.mem.GetTask(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, stored.Completed)
}

func TestVanishedRecordRemovedSilently(t *testing.T) {
	f := newCoordFixture()
	id := f.seed(model.Task{OwnerID: "owner-1", Title: "x"})
	f.mem.Drop(id)

	errored := false
	f.coord.OnError = func(Mutation, error) { errored = true }

	f.coord.Dispatch(context.Background(), Mutation{TaskID: id, Action: ActionComplete})
	f.coord.Wait()

	_, ok := f.cache.Get(id)
	assert.False(t, ok)
	assert.False(t, errored)
}

func TestRestoreAdvisorySurfaces(t *testing.T) {
	f := newCoordFixture()
	id := f.seed(model.Task{OwnerID: "owner-1", Title: "x", RestoreCount: 2})

	var advisedID string
	var advisedCount int
	f.coord.OnAdvisory = func(taskID string, restoreCount int) {
		advisedID = taskID
		advisedCount = restoreCount
	}

	f.coord.Dispatch(context.Background(), Mutation{TaskID: id, Action: ActionRestore})
	f.coord.Wait()

	assert.Equal(t, id, advisedID)
	assert.Equal(t, 3, advisedCount)
}

func TestOnSettleFiresAfterSuccess(t *testing.T) {
	f := newCoordFixture()
	id := f.seed(model.Task{OwnerID: "owner-1", Title: "x"})

	var settled []Action
	var mu stdsync.Mutex
	f.coord.OnSettle = func(mut Mutation, res lifecycle.Result) {
		mu.Lock()
		defer mu.Unlock()
		settled = append(settled, mut.Action)
	}

	f.mem.FailNext("update", store.KindTransient)
	f.coord.Dispatch(context.Background(), Mutation{TaskID: id, Action: ActionComplete})
	f.coord.Wait()
	assert.Empty(t, settled)

	f.clock.Advance(DefaultDebounce)
	f.coord.Dispatch(context.Background(), Mutation{TaskID: id, Action: ActionComplete})
	f.coord.Wait()
	assert.Equal(t, []Action{ActionComplete}, settled)
}

func TestCloseDropsPendingResults(t *testing.T) {
	f := newCoordFixture()
	id := f.seed(model.Task{OwnerID: "owner-1", Title: "x"})

	f.coord.Close()
	f.coord.Dispatch(context.Background(), Mutation{TaskID: id, Action: ActionComplete})
	f.coord.Wait()

	assert.Empty(t, f.mem.UpdateLog())
}

func TestSnoozeMutationCarriesUntil(t *testing.T) {
	f := newCoordFixture()
	id := f.seed(model.Task{OwnerID: "owner-1", Title: "x"})
	until := testNow.Add(3 * time.Hour)

	f.coord.Dispatch(context.Background(), Mutation{TaskID: id, Action: ActionSnooze, Until: until})

	cached, ok := f.cache.Get(id)
	require.True(t, ok)
	require.NotNil(t, cached.SnoozedUntil)
	assert.Equal(t, until, *cached.SnoozedUntil)

	f.coord.Wait()
	stored, err := f.mem.GetTask(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, stored.SnoozedUntil)
	assert.Equal(t, until, *stored.SnoozedUntil)
}
