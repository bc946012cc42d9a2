package classify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"betterish/model"
)

// now is mid-afternoon so day boundaries sit well away from the instant
// under test.
var now = time.Date(2026, 3, 10, 15, 30, 0, 0, time.UTC)

func manualTask(createdAt time.Time) model.Task {
	return model.Task{
		OwnerID:   "owner-1",
		Title:     "call the plumber",
		Source:    model.SourceManual,
		CreatedAt: createdAt,
	}
}

func TestClassifyBoundaries(t *testing.T) {
	today0 := StartOfDay(now)

	t.Run("created exactly at midnight is today", func(t *testing.T) {
		assert.Equal(t, Today, Classify(manualTask(today0), now))
	})
	t.Run("one nanosecond before midnight is past promise", func(t *testing.T) {
		assert.Equal(t, PastPromise, Classify(manualTask(today0.Add(-time.Nanosecond)), now))
	})
	t.Run("one nanosecond before midnight non-manual is dormant", func(t *testing.T) {
		task := manualTask(today0.Add(-time.Nanosecond))
		task.Source = model.SourceRecurring
		assert.Equal(t, Dormant, Classify(task, now))
	})
	t.Run("completed yesterday is dormant not past promise", func(t *testing.T) {
		task := manualTask(today0.Add(-2 * time.Hour))
		task.Completed = true
		assert.Equal(t, Dormant, Classify(task, now))
	})
	t.Run("exactly at the expiry cutoff is dormant", func(t *testing.T) {
		assert.Equal(t, Dormant, Classify(manualTask(today0.AddDate(0, 0, -14)), now))
	})
	t.Run("before the expiry cutoff is expired", func(t *testing.T) {
		assert.Equal(t, Expired, Classify(manualTask(today0.AddDate(0, 0, -14).Add(-time.Nanosecond)), now))
	})
}

func TestClassifyHiddenPrecedence(t *testing.T) {
	pending := now.Add(time.Hour)
	expired := now.Add(-time.Hour)

	t.Run("deleted always hidden", func(t *testing.T) {
		task := manualTask(now)
		task.Deleted = true
		assert.Equal(t, Hidden, Classify(task, now))
	})
	t.Run("dismissed always hidden", func(t *testing.T) {
		task := manualTask(now)
		task.Dismissed = true
		assert.Equal(t, Hidden, Classify(task, now))
	})
	t.Run("pending snooze hides", func(t *testing.T) {
		task := manualTask(now)
		task.SnoozedUntil = &pending
		assert.Equal(t, HiddenSnoozed, Classify(task, now))
	})
	t.Run("expired snooze surfaces without any write", func(t *testing.T) {
		task := manualTask(now)
		task.SnoozedUntil = &expired
		assert.Equal(t, Today, Classify(task, now))
	})
	t.Run("restored earlier today hides from past promises", func(t *testing.T) {
		restored := StartOfDay(now).Add(time.Hour)
		task := manualTask(restored)
		task.LastRestored = &restored
		assert.Equal(t, HiddenRestored, Classify(task, now))
	})
	t.Run("restored yesterday no longer hides", func(t *testing.T) {
		restored := StartOfDay(now).Add(-time.Hour)
		task := manualTask(restored)
		task.LastRestored = &restored
		assert.Equal(t, PastPromise, Classify(task, now))
	})
}

func TestClassifyDeterministic(t *testing.T) {
	task := manualTask(StartOfDay(now).Add(-25 * time.Hour))
	first := Classify(task, now)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, Classify(task, now))
	}
	assert.Equal(t, PastPromise, first)
}

func TestAgeLabel(t *testing.T) {
	today0 := StartOfDay(now)
	cases := []struct {
		createdAt time.Time
		want      string
	}{
		{today0.Add(time.Hour), "Today"},
		{today0.Add(-time.Hour), "Yesterday"},
		{today0.AddDate(0, 0, -2), "2 days ago"},
		{today0.AddDate(0, 0, -7), "7 days ago"},
		{today0.AddDate(0, 0, -8), "Over a week ago"},
		{today0.AddDate(0, 0, -30), "Over a week ago"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, AgeLabel(manualTask(tc.createdAt), now))
	}
}

func TestAgeDaysNormalizesLocations(t *testing.T) {
	// A store timestamp comes back in UTC; the viewer's clock is UTC+7.
	// Mar 9 10:00 UTC is Mar 9 17:00 local, one local day before Mar 10.
	local := time.FixedZone("UTC+7", 7*3600)
	localNow := time.Date(2026, 3, 10, 1, 0, 0, 0, local)
	task := manualTask(time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC))

	assert.Equal(t, 1, AgeDays(task, localNow))
	assert.Equal(t, "Yesterday", AgeLabel(task, localNow))
}

func TestRowsOrdering(t *testing.T) {
	done := manualTask(now.Add(-3 * time.Hour))
	done.TaskID = "done"
	done.Completed = true
	open1 := manualTask(now.Add(-2 * time.Hour))
	open1.TaskID = "open1"
	open2 := manualTask(now.Add(-time.Hour))
	open2.TaskID = "open2"

	rows := Rows([]model.Task{done, open1, open2}, now)
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.Task.TaskID)
	}
	assert.Equal(t, []string{"open1", "open2", "done"}, ids)
}

func TestRowsNudgeAndAge(t *testing.T) {
	stale := manualTask(StartOfDay(now).Add(-25 * time.Hour))
	stale.RestoreCount = 3

	rows := Rows([]model.Task{stale}, now)
	assert.Len(t, rows, 1)
	assert.Equal(t, PastPromise, rows[0].Bucket)
	assert.Equal(t, "Yesterday", rows[0].AgeLabel)
	assert.False(t, rows[0].Nudged)

	old := manualTask(StartOfDay(now).AddDate(0, 0, -3).Add(time.Hour))
	rows = Rows([]model.Task{old}, now)
	assert.True(t, rows[0].Nudged)
}
