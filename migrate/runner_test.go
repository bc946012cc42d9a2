package migrate

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"betterish/model"
	"betterish/store"
)

var testNow = time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

func newRunner(mem *store.MemoryStore) *Runner {
	r := NewRunner(mem, zerolog.Nop())
	r.now = func() time.Time { return testNow }
	return r
}

func TestBackfillPatchesOnlyMissingFields(t *testing.T) {
	mem := store.NewMemoryStore()
	r := newRunner(mem)
	ctx := context.Background()

	legacy := mem.SeedLegacy(model.Task{OwnerID: "owner-1", Title: "old"}, "dismissed", "deleted")
	modern := mem.Seed(model.Task{OwnerID: "owner-1", Title: "new", Dismissed: true})

	r.RunOnce(ctx, model.NewSession(), "owner-1")

	raws, err := mem.ListRawTasks(ctx, "owner-1")
	require.NoError(t, err)
	for _, raw := range raws {
		assert.True(t, raw.Has("dismissed"), "task %s still missing dismissed", raw.TaskID)
		assert.True(t, raw.Has("deleted"), "task %s still missing deleted", raw.TaskID)
	}

	got, err := mem.GetTask(ctx, legacy)
	require.NoError(t, err)
	assert.False(t, got.Dismissed)
	assert.False(t, got.Deleted)

	// A record that already carried the flag keeps its value.
	got, err = mem.GetTask(ctx, modern)
	require.NoError(t, err)
	assert.True(t, got.Dismissed)
}

func TestOrphanCleanupSoftDeletesTemplateRecords(t *testing.T) {
	mem := store.NewMemoryStore()
	r := newRunner(mem)
	ctx := context.Background()

	orphan := mem.Seed(model.Task{TaskID: "rel_42", OwnerID: "owner-1", Title: "seeded"})
	kept := mem.Seed(model.Task{TaskID: "relation-notes", OwnerID: "owner-1", Title: "real"})
	already := mem.Seed(model.Task{TaskID: "baby_7", OwnerID: "owner-1", Title: "done", Deleted: true})

	r.RunOnce(ctx, model.NewSession(), "owner-1")

	got, err := mem.GetTask(ctx, orphan)
	require.NoError(t, err)
	assert.True(t, got.Deleted)
	require.NotNil(t, got.DeletedAt)
	assert.Equal(t, testNow, *got.DeletedAt)

	got, err = mem.GetTask(ctx, kept)
	require.NoError(t, err)
	assert.False(t, got.Deleted)

	// Already-deleted orphans are skipped rather than re-stamped.
	got, err = mem.GetTask(ctx, already)
	require.NoError(t, err)
	assert.Nil(t, got.DeletedAt)
}

func TestRoutinesRunOncePerSession(t *testing.T) {
	mem := store.NewMemoryStore()
	r := newRunner(mem)
	ctx := context.Background()
	sess := model.NewSession()

	mem.SeedLegacy(model.Task{OwnerID: "owner-1", Title: "old"}, "dismissed")

	r.RunOnce(ctx, sess, "owner-1")
	patched := len(mem.UpdateLog())
	assert.NotZero(t, patched)

	// Second call within the same session does nothing, not even reads
	// that would find nothing to patch.
	r.RunOnce(ctx, sess, "owner-1")
	assert.Len(t, mem.UpdateLog(), patched)

	// A new session re-runs; idempotence means no further writes.
	r.RunOnce(ctx, model.NewSession(), "owner-1")
	assert.Len(t, mem.UpdateLog(), patched)
}

func TestFailedRoutineRetries(t *testing.T) {
	mem := store.NewMemoryStore()
	r := newRunner(mem)
	ctx := context.Background()
	sess := model.NewSession()

	mem.SeedLegacy(model.Task{OwnerID: "owner-1", Title: "old"}, "dismissed")

	mem.FailNext("query", store.KindTransient)
	r.RunOnce(ctx, sess, "owner-1")
	assert.False(t, sess.Ran(RoutineFlagBackfill))

	// The failure was swallowed; the next run in the same session retries
	// and succeeds.
	r.RunOnce(ctx, sess, "owner-1")
	assert.True(t, sess.Ran(RoutineFlagBackfill))
	assert.True(t, sess.Ran(RoutineOrphanCleanup))

	raws, err := mem.ListRawTasks(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, raws, 1)
	assert.True(t, raws[0].Has("dismissed"))
}

func TestForceRerunsRoutines(t *testing.T) {
	mem := store.NewMemoryStore()
	r := newRunner(mem)
	ctx := context.Background()
	sess := model.NewSession()

	r.RunOnce(ctx, sess, "owner-1")
	require.True(t, sess.Ran(RoutineFlagBackfill))

	mem.SeedLegacy(model.Task{OwnerID: "owner-1", Title: "late arrival"}, "deleted")
	r.Force(ctx, sess, "owner-1")

	raws, err := mem.ListRawTasks(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, raws, 1)
	assert.True(t, raws[0].Has("deleted"))
}

func TestTemplatePrefixMatching(t *testing.T) {
	assert.True(t, isTemplateID("rel_weekly"))
	assert.True(t, isTemplateID("seas_spring"))
	assert.False(t, isTemplateID("related_task"))
	assert.False(t, isTemplateID("a1b2c3"))
}
