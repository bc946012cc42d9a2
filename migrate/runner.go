// Package migrate holds the once-per-session maintenance routines: the flag
// backfill for legacy records and the soft delete of orphaned
// template-seeded records. Both are idempotent and both swallow failure:
// task lists must stay available even when maintenance cannot run.
package migrate

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"betterish/model"
	"betterish/store"
)

const (
	RoutineFlagBackfill  model.RoutineID = "flag-backfill"
	RoutineOrphanCleanup model.RoutineID = "orphan-cleanup"
)

// templatePrefixes are the legacy id conventions of template-seeded records
// that were never meant to persist.
var templatePrefixes = []string{"rel_", "baby_", "house_", "self_", "admin_", "seas_"}

// batchSize bounds one batched write; Firestore caps a batch at 500 ops.
const batchSize = 400

// backfillFields are the booleans newer records always carry and legacy
// records may be missing.
var backfillFields = []string{"dismissed", "deleted"}

type Runner struct {
	store store.TaskStore
	log   zerolog.Logger
	now   func() time.Time
}

func NewRunner(s store.TaskStore, log zerolog.Logger) *Runner {
	return &Runner{
		store: s,
		log:   log.With().Str("component", "migrate").Logger(),
		now:   time.Now,
	}
}

// RunOnce executes every routine that has not run during sess yet. Failures
// are logged and swallowed; a routine is only marked as ran after it
// succeeds, so a failed routine retries next session.
func (r *Runner) RunOnce(ctx context.Context, sess *model.Session, ownerID string) {
	r.runRoutine(ctx, sess, ownerID, RoutineFlagBackfill, r.backfillFlags)
	r.runRoutine(ctx, sess, ownerID, RoutineOrphanCleanup, r.cleanupOrphans)
}

// Force re-runs every routine regardless of the session's run set.
func (r *Runner) Force(ctx context.Context, sess *model.Session, ownerID string) {
	sess.Reset()
	r.RunOnce(ctx, sess, ownerID)
}

func (r *Runner) runRoutine(ctx context.Context, sess *model.Session, ownerID string, id model.RoutineID, fn func(context.Context, string) (int, error)) {
	if sess.Ran(id) {
		return
	}
	patched, err := fn(ctx, ownerID)
	if err != nil {
		r.log.Warn().Str("routine", string(id)).Str("owner", ownerID).Err(err).
			Msg("maintenance routine failed, will retry next session")
		return
	}
	sess.MarkRan(id)
	if patched > 0 {
		r.log.Info().Str("routine", string(id)).Str("owner", ownerID).Int("records", patched).Msg("maintenance routine patched records")
	}
}

// backfillFlags sets missing dismissed/deleted fields to false so the rest
// of the engine can read strict structs instead of null-checking
// everywhere. A second run finds nothing to patch.
func (r *Runner) backfillFlags(ctx context.Context, ownerID string) (int, error) {
	raws, err := r.store.ListRawTasks(ctx, ownerID)
	if err != nil {
		return 0, err
	}

	var ops []store.BatchOp
	for _, raw := range raws {
		set := map[string]any{}
		for _, field := range backfillFields {
			if !raw.Has(field) {
				set[field] = false
			}
		}
		if len(set) > 0 {
			ops = append(ops, store.BatchOp{TaskID: raw.TaskID, Set: set})
		}
	}
	if err := r.flush(ctx, ops); err != nil {
		return 0, err
	}
	return len(ops), nil
}

// cleanupOrphans soft-deletes records whose id carries a legacy template
// prefix. Soft delete keeps the operation reversible and idempotent:
// already-deleted orphans are skipped.
func (r *Runner) cleanupOrphans(ctx context.Context, ownerID string) (int, error) {
	raws, err := r.store.ListRawTasks(ctx, ownerID)
	if err != nil {
		return 0, err
	}

	now := r.now()
	var ops []store.BatchOp
	for _, raw := range raws {
		if !isTemplateID(raw.TaskID) {
			continue
		}
		if deleted, ok := raw.Fields["deleted"].(bool); ok && deleted {
			continue
		}
		ops = append(ops, store.BatchOp{TaskID: raw.TaskID, Set: map[string]any{
			"deleted":   true,
			"deletedat": now,
			"updatedat": now,
		}})
	}
	if err := r.flush(ctx, ops); err != nil {
		return 0, err
	}
	return len(ops), nil
}

func (r *Runner) flush(ctx context.Context, ops []store.BatchOp) error {
	for len(ops) > 0 {
		n := len(ops)
		if n > batchSize {
			n = batchSize
		}
		if err := r.store.BatchUpdate(ctx, ops[:n]); err != nil {
			return err
		}
		ops = ops[n:]
	}
	return nil
}

func isTemplateID(taskID string) bool {
	for _, prefix := range templatePrefixes {
		if strings.HasPrefix(taskID, prefix) {
			return true
		}
	}
	return false
}
