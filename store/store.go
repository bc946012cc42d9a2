package store

import (
	"context"
	"time"

	"betterish/model"
)

// OrderDir is the optional ordering of a task query.
type OrderDir int

const (
	OrderNone OrderDir = iota
	OrderCreatedAsc
	OrderCreatedDesc
)

// TaskQuery describes the two query shapes the engine uses. OwnerID alone is
// the simple shape every backend can serve. Adding CreatedAfter or an order
// makes it composite, which Firestore only serves with a matching composite
// index; stores reject that with KindCapabilityUnsupported when the index is
// missing.
type TaskQuery struct {
	OwnerID      string
	Source       model.TaskSource // optional equality filter
	CreatedAfter time.Time        // optional range filter, zero means unset
	Order        OrderDir
	Limit        int
}

// Composite reports whether the query needs more than the single ownerid
// equality filter.
func (q TaskQuery) Composite() bool {
	return !q.CreatedAfter.IsZero() || q.Source != "" || q.Order != OrderNone
}

// Simplified strips the query down to the fallback shape. Callers re-apply
// the dropped filters client side.
func (q TaskQuery) Simplified() TaskQuery {
	return TaskQuery{OwnerID: q.OwnerID}
}

// Snapshot is one full result set of a subscribed query. Token is the
// server-assigned ordering token (read time); later snapshots carry strictly
// larger tokens.
type Snapshot struct {
	Tasks []model.Task
	Token int64
	At    time.Time
}

// Subscription delivers snapshots until Stop is called or the stream fails.
// A failure (including a capability rejection on the first delivery) arrives
// on Errs and ends the stream.
type Subscription struct {
	Snapshots <-chan Snapshot
	Errs      <-chan error
	stop      func()
}

func (s *Subscription) Stop() {
	if s.stop != nil {
		s.stop()
	}
}

// RawTask is the untyped form of a stored record, used by migration passes
// that need to see which fields are physically present on legacy documents.
type RawTask struct {
	TaskID string
	Fields map[string]any
}

// Has reports whether the named field exists on the record at all, which is
// different from it being false or nil.
func (r RawTask) Has(field string) bool {
	_, ok := r.Fields[field]
	return ok
}

// BatchOp is a single field patch inside a batched write.
type BatchOp struct {
	TaskID string
	Set    map[string]any
}

// TaskStore is the narrow contract the engine needs from the remote
// document collection. All calls are synchronous from the caller's point of
// view but must not be invoked on a latency-sensitive path without a
// context deadline.
type TaskStore interface {
	GetTask(ctx context.Context, taskID string) (model.Task, error)
	CreateTask(ctx context.Context, t model.Task) (string, error)
	// UpdateTask patches the named fields. A nil value clears the field.
	UpdateTask(ctx context.Context, taskID string, set map[string]any) error
	QueryTasks(ctx context.Context, q TaskQuery) ([]model.Task, error)
	// Subscribe opens a snapshot stream for q. The first snapshot reflects
	// the current result set; every store-side change delivers a fresh full
	// snapshot.
	Subscribe(ctx context.Context, q TaskQuery) (*Subscription, error)

	// Migration surface.
	ListRawTasks(ctx context.Context, ownerID string) ([]RawTask, error)
	BatchUpdate(ctx context.Context, ops []BatchOp) error

	// Streak record on the user document.
	GetStreak(ctx context.Context, ownerID string) (model.Streak, error)
	SetStreak(ctx context.Context, s model.Streak) error

	// GetUser reads the owner's full user document.
	GetUser(ctx context.Context, ownerID string) (model.User, error)
}
