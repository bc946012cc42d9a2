// Package lifecycle validates and applies task state transitions against the
// store. Every transition is guarded by a point read: a record that vanished
// is treated as a successful no-op so duplicate actions against a gone task
// never surface an error.
package lifecycle

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"betterish/model"
	"betterish/store"
)

// stuckThreshold is the restore count at which the machine raises the
// stuck-task advisory.
const stuckThreshold = 3

const (
	maxTitleLen  = 100
	maxDetailLen = 500
)

// Result reports the outcome of a transition.
type Result struct {
	Task model.Task
	// Gone means the record no longer exists; the caller drops the task
	// from local view and reports success.
	Gone bool
	// StuckAdvisory is raised by Restore when the task has been restored
	// three or more times. Informational only.
	StuckAdvisory bool
	// Changed is false when the transition was an idempotent no-op and
	// nothing was written. Consumers reacting to completion events must
	// check it: a re-completed task is not a new completion.
	Changed bool
}

type Machine struct {
	store store.TaskStore
	log   zerolog.Logger
	now   func() time.Time
}

func NewMachine(s store.TaskStore, log zerolog.Logger) *Machine {
	return &Machine{
		store: s,
		log:   log.With().Str("component", "lifecycle").Logger(),
		now:   time.Now,
	}
}

// WithClock overrides the machine's clock, for tests.
func (m *Machine) WithClock(now func() time.Time) *Machine {
	m.now = now
	return m
}

// Create validates and stores a new task. Validation failures never reach
// the store.
func (m *Machine) Create(ctx context.Context, ownerID string, t model.Task) (model.Task, error) {
	t.OwnerID = ownerID
	t.Title = strings.TrimSpace(t.Title)
	t.Detail = strings.TrimSpace(t.Detail)

	switch {
	case ownerID == "":
		return model.Task{}, store.ValidationError("create", "owner id is required")
	case t.Title == "":
		return model.Task{}, store.ValidationError("create", "title is required")
	case len(t.Title) > maxTitleLen:
		return model.Task{}, store.ValidationError("create", "title too long")
	case len(t.Detail) > maxDetailLen:
		return model.Task{}, store.ValidationError("create", "detail too long")
	}
	if t.Category == "" {
		t.Category = model.CategoryPersonal
	}
	if t.Priority == "" {
		t.Priority = model.PriorityMedium
	}
	if t.Source == "" {
		t.Source = model.SourceManual
	}
	switch {
	case !model.ValidCategory(t.Category):
		return model.Task{}, store.ValidationError("create", "invalid category")
	case !model.ValidPriority(t.Priority):
		return model.Task{}, store.ValidationError("create", "invalid priority")
	case !model.ValidSource(t.Source):
		return model.Task{}, store.ValidationError("create", "invalid source")
	}

	now := m.now()
	t.CreatedAt = now
	t.UpdatedAt = now
	t.Completed = false
	t.CompletedAt = nil
	t.SnoozedUntil = nil
	t.Dismissed = false
	t.Deleted = false
	t.RestoreCount = 0
	t.LastRestored = nil

	id, err := m.store.CreateTask(ctx, t)
	if err != nil {
		return model.Task{}, err
	}
	t.TaskID = id
	return t, nil
}

// read fetches the current record, translating a vanished record into the
// Gone result.
func (m *Machine) read(ctx context.Context, taskID string) (model.Task, *Result, error) {
	t, err := m.store.GetTask(ctx, taskID)
	if err != nil {
		if store.IsKind(err, store.KindNotFound) {
			m.log.Debug().Str("taskid", taskID).Msg("record vanished, treating transition as no-op")
			return model.Task{}, &Result{Gone: true}, nil
		}
		return model.Task{}, nil, err
	}
	return t, nil, nil
}

// apply writes the patch, translating a write-side NotFound (record vanished
// between read and write) into Gone as well.
func (m *Machine) apply(ctx context.Context, t model.Task, set map[string]any) (Result, error) {
	if err := m.store.UpdateTask(ctx, t.TaskID, set); err != nil {
		if store.IsKind(err, store.KindNotFound) {
			return Result{Gone: true}, nil
		}
		return Result{}, err
	}
	return Result{Task: t, Changed: true}, nil
}

func (m *Machine) Complete(ctx context.Context, taskID string) (Result, error) {
	t, gone, err := m.read(ctx, taskID)
	if err != nil {
		return Result{}, err
	}
	if gone != nil {
		return *gone, nil
	}
	if t.Completed {
		// Already-set flag: the second call is a no-op.
		return Result{Task: t}, nil
	}
	now := m.now()
	t.Completed = true
	t.CompletedAt = &now
	t.UpdatedAt = now
	// Only the completion fields are patched, so a project's subtask list
	// survives completion untouched.
	return m.apply(ctx, t, map[string]any{
		"completed":   true,
		"completedat": now,
		"updatedat":   now,
	})
}

func (m *Machine) Uncomplete(ctx context.Context, taskID string) (Result, error) {
	t, gone, err := m.read(ctx, taskID)
	if err != nil {
		return Result{}, err
	}
	if gone != nil {
		return *gone, nil
	}
	if !t.Completed {
		return Result{Task: t}, nil
	}
	now := m.now()
	t.Completed = false
	t.CompletedAt = nil
	t.UpdatedAt = now
	return m.apply(ctx, t, map[string]any{
		"completed":   false,
		"completedat": nil,
		"updatedat":   now,
	})
}

func (m *Machine) Snooze(ctx context.Context, taskID string, until time.Time) (Result, error) {
	if !until.After(m.now()) {
		return Result{}, store.ValidationError("snooze", "snooze time must be in the future")
	}
	t, gone, err := m.read(ctx, taskID)
	if err != nil {
		return Result{}, err
	}
	if gone != nil {
		return *gone, nil
	}
	now := m.now()
	t.SnoozedUntil = &until
	t.UpdatedAt = now
	// No stored transition back: the classifier compares snoozeduntil to
	// now on every read, so expiry is implicit.
	return m.apply(ctx, t, map[string]any{
		"snoozeduntil": until,
		"updatedat":    now,
	})
}

func (m *Machine) Dismiss(ctx context.Context, taskID string) (Result, error) {
	t, gone, err := m.read(ctx, taskID)
	if err != nil {
		return Result{}, err
	}
	if gone != nil {
		return *gone, nil
	}
	if t.Dismissed {
		return Result{Task: t}, nil
	}
	now := m.now()
	t.Dismissed = true
	t.DismissedAt = &now
	t.UpdatedAt = now
	return m.apply(ctx, t, map[string]any{
		"dismissed":   true,
		"dismissedat": now,
		"updatedat":   now,
	})
}

// Archive soft-deletes. The record stays in the store and is filtered from
// every view.
func (m *Machine) Archive(ctx context.Context, taskID string) (Result, error) {
	t, gone, err := m.read(ctx, taskID)
	if err != nil {
		return Result{}, err
	}
	if gone != nil {
		return *gone, nil
	}
	if t.Deleted {
		return Result{Task: t}, nil
	}
	now := m.now()
	t.Deleted = true
	t.DeletedAt = &now
	t.UpdatedAt = now
	return m.apply(ctx, t, map[string]any{
		"deleted":   true,
		"deletedat": now,
		"updatedat": now,
	})
}

// Restore pulls a task back onto today's list: flags are cleared, the task
// is re-dated to now, and the restore is counted. Source is forced to
// manual so the restored task is treated as a fresh commitment.
func (m *Machine) Restore(ctx context.Context, taskID string) (Result, error) {
	t, gone, err := m.read(ctx, taskID)
	if err != nil {
		return Result{}, err
	}
	if gone != nil {
		return *gone, nil
	}
	now := m.now()
	t.Dismissed = false
	t.DismissedAt = nil
	t.Deleted = false
	t.DeletedAt = nil
	t.SnoozedUntil = nil
	t.CreatedAt = now
	t.LastRestored = &now
	t.RestoreCount++
	t.Source = model.SourceManual
	t.UpdatedAt = now

	res, err := m.apply(ctx, t, map[string]any{
		"dismissed":    false,
		"dismissedat":  nil,
		"deleted":      false,
		"deletedat":    nil,
		"snoozeduntil": nil,
		"createdat":    now,
		"lastrestored": now,
		"restorecount": t.RestoreCount,
		"source":       string(model.SourceManual),
		"updatedat":    now,
	})
	if err != nil || res.Gone {
		return res, err
	}
	res.StuckAdvisory = t.RestoreCount >= stuckThreshold
	if res.StuckAdvisory {
		m.log.Info().Str("taskid", taskID).Int("restores", t.RestoreCount).Msg("task restored repeatedly, raising stuck advisory")
	}
	return res, nil
}
