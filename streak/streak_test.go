package streak

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"betterish/classify"
	"betterish/model"
	"betterish/store"
)

var testNow = time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

func seedStreak(t *testing.T, mem *store.MemoryStore, count int, last time.Time) {
	t.Helper()
	require.NoError(t, mem.SetStreak(context.Background(), model.Streak{
		OwnerID:            "owner-1",
		Count:              count,
		LastCompletionDate: &last,
	}))
}

func TestFirstCompletionStartsStreak(t *testing.T) {
	mem := store.NewMemoryStore()
	a := NewAccumulator(mem, zerolog.Nop())

	st, err := a.OnCompletion(context.Background(), "owner-1", testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Count)
	require.NotNil(t, st.LastCompletionDate)
	assert.Equal(t, classify.StartOfDay(testNow), *st.LastCompletionDate)

	// The lazily created record persisted.
	stored, err := mem.GetStreak(context.Background(), "owner-1")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Count)
}

func TestConsecutiveDayIncrements(t *testing.T) {
	mem := store.NewMemoryStore()
	a := NewAccumulator(mem, zerolog.Nop())
	yesterday0 := classify.StartOfDay(testNow).AddDate(0, 0, -1)
	seedStreak(t, mem, 4, yesterday0)

	st, err := a.OnCompletion(context.Background(), "owner-1", testNow)
	require.NoError(t, err)
	assert.Equal(t, 5, st.Count)
}

func TestSameDayCompletionCountsOnce(t *testing.T) {
	mem := store.NewMemoryStore()
	a := NewAccumulator(mem, zerolog.Nop())
	seedStreak(t, mem, 4, classify.StartOfDay(testNow))

	st, err := a.OnCompletion(context.Background(), "owner-1", testNow)
	require.NoError(t, err)
	assert.Equal(t, 4, st.Count)

	st, err = a.OnCompletion(context.Background(), "owner-1", testNow.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 4, st.Count)
}

func TestGapResetsToOne(t *testing.T) {
	mem := store.NewMemoryStore()
	a := NewAccumulator(mem, zerolog.Nop())
	seedStreak(t, mem, 12, classify.StartOfDay(testNow).AddDate(0, 0, -2))

	st, err := a.OnCompletion(context.Background(), "owner-1", testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Count)
}

func TestCheckIdle(t *testing.T) {
	ctx := context.Background()

	t.Run("no record is a zero streak, not an error", func(t *testing.T) {
		mem := store.NewMemoryStore()
		a := NewAccumulator(mem, zerolog.Nop())
		st, err := a.CheckIdle(ctx, "owner-1", testNow)
		require.NoError(t, err)
		assert.Zero(t, st.Count)
	})

	t.Run("completion yesterday keeps the streak alive", func(t *testing.T) {
		mem := store.NewMemoryStore()
		a := NewAccumulator(mem, zerolog.Nop())
		seedStreak(t, mem, 3, classify.StartOfDay(testNow).AddDate(0, 0, -1))

		st, err := a.CheckIdle(ctx, "owner-1", testNow)
		require.NoError(t, err)
		assert.Equal(t, 3, st.Count)
	})

	t.Run("two idle days zero the streak", func(t *testing.T) {
		mem := store.NewMemoryStore()
		a := NewAccumulator(mem, zerolog.Nop())
		seedStreak(t, mem, 3, classify.StartOfDay(testNow).AddDate(0, 0, -2))

		st, err := a.CheckIdle(ctx, "owner-1", testNow)
		require.NoError(t, err)
		assert.Zero(t, st.Count)

		stored, err := mem.GetStreak(ctx, "owner-1")
		require.NoError(t, err)
		assert.Zero(t, stored.Count)
	})
}

func TestStoreFailurePropagates(t *testing.T) {
	mem := store.NewMemoryStore()
	a := NewAccumulator(mem, zerolog.Nop())

	mem.FailNext("streak", store.KindTransient)
	_, err := a.OnCompletion(context.Background(), "owner-1", testNow)
	assert.True(t, store.IsKind(err, store.KindTransient))
}
