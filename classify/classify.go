// Package classify maps a task's timestamps and flags to the temporal
// bucket a view surfaces it in. Classification is pure: it is recomputed on
// every snapshot instead of being stored, so snooze and restore expiry need
// no timers and re-running can never accumulate drift.
package classify

import (
	"fmt"
	"time"

	"betterish/model"
)

type Bucket int

const (
	// Hidden covers deleted and dismissed tasks, which no view surfaces.
	Hidden Bucket = iota
	// HiddenSnoozed covers tasks whose snooze has not expired yet.
	HiddenSnoozed
	// HiddenRestored covers tasks restored earlier today; keeping them out
	// of the past-promise list prevents a just-restored task from
	// reappearing in the list it was pulled from.
	HiddenRestored
	Today
	PastPromise
	Expired
	Dormant
)

func (b Bucket) String() string {
	switch b {
	case Hidden:
		return "hidden"
	case HiddenSnoozed:
		return "hidden_snoozed"
	case HiddenRestored:
		return "hidden_restored"
	case Today:
		return "today"
	case PastPromise:
		return "past_promise"
	case Expired:
		return "expired"
	case Dormant:
		return "dormant"
	}
	return "unknown"
}

// pastPromiseWindow is how far back the expiry cutoff sits.
const pastPromiseWindow = 14 * 24 * time.Hour

// nudgeAge is the age at which an incomplete task gets flagged as needing
// attention.
const nudgeAge = 3

// StartOfDay truncates now to local midnight in now's location.
func StartOfDay(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location())
}

// Classify buckets the task as of instant now. Total and deterministic:
// every task lands in exactly one bucket. All day boundaries use an
// inclusive lower bound, so createdAt exactly at local midnight belongs to
// Today.
func Classify(t model.Task, now time.Time) Bucket {
	today0 := StartOfDay(now)
	yesterday0 := today0.AddDate(0, 0, -1)
	cutoff := today0.Add(-pastPromiseWindow)

	if t.Deleted || t.Dismissed {
		return Hidden
	}
	if t.SnoozedUntil != nil && t.SnoozedUntil.After(now) {
		return HiddenSnoozed
	}
	if t.LastRestored != nil && !t.LastRestored.Before(today0) && t.LastRestored.Before(today0.AddDate(0, 0, 1)) {
		return HiddenRestored
	}
	if !t.CreatedAt.Before(today0) {
		return Today
	}
	if !t.Completed && t.Source == model.SourceManual &&
		!t.CreatedAt.Before(yesterday0) && t.CreatedAt.Before(today0) {
		return PastPromise
	}
	if t.CreatedAt.Before(cutoff) {
		return Expired
	}
	return Dormant
}

// AgeDays is the whole-day age of the task relative to now's local day.
// CreatedAt is viewed in now's location first: store timestamps come back
// in UTC, and taking its day boundary in the wrong zone skews the
// difference off whole days.
func AgeDays(t model.Task, now time.Time) int {
	days := int(StartOfDay(now).Sub(StartOfDay(t.CreatedAt.In(now.Location()))).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// AgeLabel renders the past-promise age for display.
func AgeLabel(t model.Task, now time.Time) string {
	days := AgeDays(t, now)
	switch {
	case days <= 0:
		return "Today"
	case days == 1:
		return "Yesterday"
	case days <= 7:
		return fmt.Sprintf("%d days ago", days)
	}
	return "Over a week ago"
}

// Row is one classified task as a view consumes it.
type Row struct {
	Task     model.Task
	Bucket   Bucket
	AgeLabel string
	// Nudged marks incomplete tasks three or more days old.
	Nudged bool
}

// Rows classifies a whole snapshot. Today rows keep snapshot order except
// completed ones sort to the bottom; past-promise rows carry their age
// label.
func Rows(tasks []model.Task, now time.Time) []Row {
	rows := make([]Row, 0, len(tasks))
	var completed []Row
	for _, t := range tasks {
		b := Classify(t, now)
		r := Row{
			Task:   t,
			Bucket: b,
			Nudged: !t.Completed && AgeDays(t, now) >= nudgeAge,
		}
		if b == PastPromise {
			r.AgeLabel = AgeLabel(t, now)
		}
		if b == Today && t.Completed {
			completed = append(completed, r)
			continue
		}
		rows = append(rows, r)
	}
	return append(rows, completed...)
}
