package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"betterish/model"
)

// MemoryStore is an in-process TaskStore used by tests and local runs. It
// mirrors the Firestore adapter's observable behavior, including the
// capability rejection of composite queries, so engine code cannot tell the
// two apart.
type MemoryStore struct {
	mu      sync.Mutex
	tasks   map[string]model.Task
	missing map[string]map[string]bool // taskID -> fields absent on the record
	streaks map[string]model.Streak
	users   map[string]model.User
	subs    map[int]*memorySub
	nextSub int
	token   int64

	// CompositeUnsupported makes composite queries fail with
	// KindCapabilityUnsupported, simulating a missing index.
	CompositeUnsupported bool

	failNext  map[string]Kind
	updateLog []string
}

type memorySub struct {
	query  TaskQuery
	snaps  chan Snapshot
	errs   chan error
	cancel func()
	done   chan struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:    make(map[string]model.Task),
		missing:  make(map[string]map[string]bool),
		streaks:  make(map[string]model.Streak),
		users:    make(map[string]model.User),
		subs:     make(map[int]*memorySub),
		failNext: make(map[string]Kind),
	}
}

// FailNext arranges for the next call of the named op ("get", "create",
// "update", "query", "batch", "streak", "user") to fail with the given kind.
func (m *MemoryStore) FailNext(op string, kind Kind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext[op] = kind
}

func (m *MemoryStore) takeFailure(op string) error {
	kind, ok := m.failNext[op]
	if !ok {
		return nil
	}
	delete(m.failNext, op)
	return newError(kind, op, errors.New("injected failure"))
}

// Seed inserts a task directly, bypassing failure injection and
// notification. Returns the task id.
func (m *MemoryStore) Seed(t model.Task) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.TaskID == "" {
		t.TaskID = uuid.New().String()
	}
	m.tasks[t.TaskID] = t
	return t.TaskID
}

// SeedLegacy inserts a task whose record is physically missing the named
// fields, the way pre-migration documents are.
func (m *MemoryStore) SeedLegacy(t model.Task, missingFields ...string) string {
	id := m.Seed(t)
	m.mu.Lock()
	defer m.mu.Unlock()
	absent := make(map[string]bool, len(missingFields))
	for _, f := range missingFields {
		absent[f] = true
	}
	m.missing[id] = absent
	return id
}

// Drop removes a task without notifying subscribers, simulating a record
// that vanished server side.
func (m *MemoryStore) Drop(taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, taskID)
}

// UpdateLog returns the task ids of every write in order, one entry per
// task for batched writes.
func (m *MemoryStore) UpdateLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.updateLog))
	copy(out, m.updateLog)
	return out
}

func (m *MemoryStore) GetTask(ctx context.Context, taskID string) (model.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("get"); err != nil {
		return model.Task{}, err
	}
	t, ok := m.tasks[taskID]
	if !ok {
		return model.Task{}, NotFoundError("get task")
	}
	return t, nil
}

func (m *MemoryStore) CreateTask(ctx context.Context, t model.Task) (string, error) {
	m.mu.Lock()
	if err := m.takeFailure("create"); err != nil {
		m.mu.Unlock()
		return "", err
	}
	if t.TaskID == "" {
		t.TaskID = uuid.New().String()
	}
	m.tasks[t.TaskID] = t
	m.mu.Unlock()
	m.broadcast()
	return t.TaskID, nil
}

func (m *MemoryStore) UpdateTask(ctx context.Context, taskID string, set map[string]any) error {
	m.mu.Lock()
	if err := m.takeFailure("update"); err != nil {
		m.mu.Unlock()
		return err
	}
	t, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return NotFoundError("update task")
	}
	m.updateLog = append(m.updateLog, taskID)
	applyFields(&t, set)
	if absent, ok := m.missing[taskID]; ok {
		for f := range set {
			delete(absent, f)
		}
	}
	m.tasks[taskID] = t
	m.mu.Unlock()
	m.broadcast()
	return nil
}

func (m *MemoryStore) QueryTasks(ctx context.Context, q TaskQuery) ([]model.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("query"); err != nil {
		return nil, err
	}
	if q.Composite() && m.CompositeUnsupported {
		return nil, newError(KindCapabilityUnsupported, "query tasks", errors.New("the query requires an index"))
	}
	return m.evaluate(q), nil
}

func (m *MemoryStore) evaluate(q TaskQuery) []model.Task {
	var out []model.Task
	for _, t := range m.tasks {
		if t.OwnerID != q.OwnerID {
			continue
		}
		if q.Source != "" && t.Source != q.Source {
			continue
		}
		if !q.CreatedAfter.IsZero() && t.CreatedAt.Before(q.CreatedAfter) {
			continue
		}
		out = append(out, t)
	}
	switch q.Order {
	case OrderCreatedAsc:
		sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	case OrderCreatedDesc:
		sort.Slice(out, func(i, j int) bool { return out[j].CreatedAt.Before(out[i].CreatedAt) })
	default:
		sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func (m *MemoryStore) Subscribe(ctx context.Context, q TaskQuery) (*Subscription, error) {
	m.mu.Lock()
	if q.Composite() && m.CompositeUnsupported {
		// Firestore reports the missing index on the first snapshot fetch,
		// not at open. Mirror that: open succeeds, the stream fails.
		m.mu.Unlock()
		snaps := make(chan Snapshot)
		errs := make(chan error, 1)
		errs <- newError(KindCapabilityUnsupported, "subscribe", errors.New("the query requires an index"))
		close(errs)
		close(snaps)
		return &Subscription{Snapshots: snaps, Errs: errs, stop: func() {}}, nil
	}

	id := m.nextSub
	m.nextSub++
	sub := &memorySub{
		query: q,
		snaps: make(chan Snapshot, 8),
		errs:  make(chan error, 1),
		done:  make(chan struct{}),
	}
	sub.cancel = func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(sub.done)
			close(sub.snaps)
			close(sub.errs)
		}
	}
	m.subs[id] = sub
	m.token++
	first := Snapshot{Tasks: m.evaluate(q), Token: m.token, At: time.Now()}
	sub.snaps <- first
	m.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			sub.cancel()
		case <-sub.done:
		}
	}()

	return &Subscription{Snapshots: sub.snaps, Errs: sub.errs, stop: sub.cancel}, nil
}

// broadcast pushes a fresh full snapshot to every live subscription,
// coalescing when a subscriber lags.
func (m *MemoryStore) broadcast() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token++
	for _, sub := range m.subs {
		snap := Snapshot{Tasks: m.evaluate(sub.query), Token: m.token, At: time.Now()}
		for {
			select {
			case sub.snaps <- snap:
			default:
				// Buffer full: drop the oldest pending snapshot. Only the
				// latest matters, the subscriber reclassifies wholesale.
				select {
				case <-sub.snaps:
				default:
				}
				continue
			}
			break
		}
	}
}

func (m *MemoryStore) ListRawTasks(ctx context.Context, ownerID string) ([]RawTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("query"); err != nil {
		return nil, err
	}
	var raws []RawTask
	for id, t := range m.tasks {
		if t.OwnerID != ownerID {
			continue
		}
		fields := rawFields(t)
		for f := range m.missing[id] {
			delete(fields, f)
		}
		raws = append(raws, RawTask{TaskID: id, Fields: fields})
	}
	sort.Slice(raws, func(i, j int) bool { return raws[i].TaskID < raws[j].TaskID })
	return raws, nil
}

func (m *MemoryStore) BatchUpdate(ctx context.Context, ops []BatchOp) error {
	m.mu.Lock()
	if err := m.takeFailure("batch"); err != nil {
		m.mu.Unlock()
		return err
	}
	for _, op := range ops {
		t, ok := m.tasks[op.TaskID]
		if !ok {
			m.mu.Unlock()
			return NotFoundError("batch update")
		}
		m.updateLog = append(m.updateLog, op.TaskID)
		applyFields(&t, op.Set)
		if absent, ok := m.missing[op.TaskID]; ok {
			for f := range op.Set {
				delete(absent, f)
			}
		}
		m.tasks[op.TaskID] = t
	}
	m.mu.Unlock()
	m.broadcast()
	return nil
}

func (m *MemoryStore) GetStreak(ctx context.Context, ownerID string) (model.Streak, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("streak"); err != nil {
		return model.Streak{}, err
	}
	st, ok := m.streaks[ownerID]
	if !ok {
		return model.Streak{}, NotFoundError("get streak")
	}
	return st, nil
}

func (m *MemoryStore) SetStreak(ctx context.Context, st model.Streak) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("streak"); err != nil {
		return err
	}
	m.streaks[st.OwnerID] = st
	return nil
}

func applyFields(t *model.Task, set map[string]any) {
	for path, value := range set {
		switch path {
		case "title":
			t.Title = value.(string)
		case "detail":
			t.Detail = value.(string)
		case "completed":
			t.Completed = value.(bool)
		case "completedat":
			t.CompletedAt = asTimePtr(value)
		case "snoozeduntil":
			t.SnoozedUntil = asTimePtr(value)
		case "dismissed":
			t.Dismissed = value.(bool)
		case "dismissedat":
			t.DismissedAt = asTimePtr(value)
		case "deleted":
			t.Deleted = value.(bool)
		case "deletedat":
			t.DeletedAt = asTimePtr(value)
		case "createdat":
			t.CreatedAt = value.(time.Time)
		case "updatedat":
			t.UpdatedAt = value.(time.Time)
		case "lastrestored":
			t.LastRestored = asTimePtr(value)
		case "restorecount":
			t.RestoreCount = value.(int)
		case "source":
			t.Source = model.TaskSource(value.(string))
		case "subtasks":
			t.Subtasks = value.([]model.Subtask)
		}
	}
}

func asTimePtr(value any) *time.Time {
	if value == nil {
		return nil
	}
	switch v := value.(type) {
	case time.Time:
		return &v
	case *time.Time:
		return v
	}
	return nil
}

func rawFields(t model.Task) map[string]any {
	return map[string]any{
		"ownerid":      t.OwnerID,
		"title":        t.Title,
		"detail":       t.Detail,
		"category":     string(t.Category),
		"priority":     string(t.Priority),
		"source":       string(t.Source),
		"createdat":    t.CreatedAt,
		"updatedat":    t.UpdatedAt,
		"completed":    t.Completed,
		"completedat":  t.CompletedAt,
		"snoozeduntil": t.SnoozedUntil,
		"dismissed":    t.Dismissed,
		"dismissedat":  t.DismissedAt,
		"deleted":      t.Deleted,
		"deletedat":    t.DeletedAt,
		"lastrestored": t.LastRestored,
		"restorecount": t.RestoreCount,
		"isproject":    t.IsProject,
	}
}

// SeedUser inserts a user document directly.
func (m *MemoryStore) SeedUser(u model.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.UserID] = u
}

func (m *MemoryStore) GetUser(ctx context.Context, ownerID string) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("user"); err != nil {
		return model.User{}, err
	}
	u, ok := m.users[ownerID]
	st, stOK := m.streaks[ownerID]
	if !ok && !stOK {
		return model.User{}, NotFoundError("get user")
	}
	u.UserID = ownerID
	if stOK {
		// Streak writes merge onto the user document.
		u.StreakCount = st.Count
		u.LastCompletionDate = st.LastCompletionDate
	}
	return u, nil
}

var _ TaskStore = (*MemoryStore)(nil)
