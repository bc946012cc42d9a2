package sync

import (
	"context"
	stdsync "sync"
	"time"

	"github.com/rs/zerolog"

	"betterish/lifecycle"
	"betterish/model"
	"betterish/store"
)

// Action names a user-initiated task mutation.
type Action string

const (
	ActionComplete   Action = "complete"
	ActionUncomplete Action = "uncomplete"
	ActionSnooze     Action = "snooze"
	ActionDismiss    Action = "dismiss"
	ActionArchive    Action = "archive"
	ActionRestore    Action = "restore"
)

// Mutation is one dispatch request. Until is only read for ActionSnooze.
type Mutation struct {
	TaskID string
	Action Action
	Until  time.Time
}

type mutKey struct {
	taskID string
	action Action
}

// DefaultDebounce coalesces rapid repeats of the identical action into one
// remote write.
const DefaultDebounce = 300 * time.Millisecond

// Coordinator applies mutations optimistically: the local cache reflects the
// outcome immediately, the remote transition runs in the background, and the
// patch is reverted only when the store rejects the write with something
// other than NotFound.
type Coordinator struct {
	machine  *lifecycle.Machine
	cache    *Cache
	log      zerolog.Logger
	debounce time.Duration
	now      func() time.Time

	mu        stdsync.Mutex
	inflight  map[mutKey]bool
	lastFired map[mutKey]time.Time
	prior     map[mutKey]priorState
	closed    bool
	wg        stdsync.WaitGroup

	// OnError receives failures other than NotFound after the optimistic
	// patch was reverted. OnAdvisory receives stuck-task advisories from
	// restores. OnSettle fires after a mutation applied remotely (including
	// the vanished-record no-op). All may be nil.
	OnError    func(Mutation, error)
	OnAdvisory func(taskID string, restoreCount int)
	OnSettle   func(Mutation, lifecycle.Result)
}

type priorState struct {
	task   model.Task
	cached bool
}

func NewCoordinator(machine *lifecycle.Machine, cache *Cache, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		machine:   machine,
		cache:     cache,
		log:       log.With().Str("component", "coordinator").Logger(),
		debounce:  DefaultDebounce,
		now:       time.Now,
		inflight:  make(map[mutKey]bool),
		lastFired: make(map[mutKey]time.Time),
		prior:     make(map[mutKey]priorState),
	}
}

// WithDebounce overrides the debounce window.
func (c *Coordinator) WithDebounce(d time.Duration) *Coordinator {
	c.debounce = d
	return c
}

// WithClock overrides the coordinator's clock, for tests.
func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.now = now
	return c
}

// InFlight reports the task ids with an unsettled write; the subscriber
// keeps their optimistic state when installing a snapshot.
func (c *Coordinator) InFlight() map[string]bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make(map[string]bool, len(c.inflight))
	for k := range c.inflight {
		ids[k.taskID] = true
	}
	return ids
}

// Dispatch applies mut locally and schedules the remote write. A mutation
// whose (taskID, action) key is already in flight, or that repeats within
// the debounce window, is dropped without error: the first dispatch is
// already doing the work.
func (c *Coordinator) Dispatch(ctx context.Context, mut Mutation) {
	key := mutKey{taskID: mut.TaskID, action: mut.Action}
	now := c.now()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.inflight[key] {
		c.mu.Unlock()
		c.log.Debug().Str("taskid", mut.TaskID).Str("action", string(mut.Action)).Msg("dropping duplicate in-flight mutation")
		return
	}
	if fired, ok := c.lastFired[key]; ok && now.Sub(fired) < c.debounce {
		c.mu.Unlock()
		return
	}
	c.inflight[key] = true
	c.lastFired[key] = now

	prior := priorState{}
	if t, ok := c.cache.Get(mut.TaskID); ok {
		prior = priorState{task: t, cached: true}
		c.cache.Put(c.patch(t, mut, now))
	}
	c.prior[key] = prior
	c.mu.Unlock()

	c.wg.Add(1)
	go c.settle(ctx, key, mut)
}

// patch mirrors the machine's transition on the cached copy so the UI sees
// the outcome before the round trip completes.
func (c *Coordinator) patch(t model.Task, mut Mutation, now time.Time) model.Task {
	switch mut.Action {
	case ActionComplete:
		t.Completed = true
		t.CompletedAt = &now
	case ActionUncomplete:
		t.Completed = false
		t.CompletedAt = nil
	case ActionSnooze:
		until := mut.Until
		t.SnoozedUntil = &until
	case ActionDismiss:
		t.Dismissed = true
		t.DismissedAt = &now
	case ActionArchive:
		t.Deleted = true
		t.DeletedAt = &now
	case ActionRestore:
		t.Dismissed = false
		t.DismissedAt = nil
		t.Deleted = false
		t.DeletedAt = nil
		t.SnoozedUntil = nil
		t.CreatedAt = now
		restored := now
		t.LastRestored = &restored
		t.RestoreCount++
		t.Source = model.SourceManual
	}
	t.UpdatedAt = now
	return t
}

func (c *Coordinator) settle(ctx context.Context, key mutKey, mut Mutation) {
	defer c.wg.Done()

	res, err := c.transition(ctx, mut)

	c.mu.Lock()
	prior := c.prior[key]
	delete(c.prior, key)
	delete(c.inflight, key)
	closed := c.closed
	c.mu.Unlock()

	if closed {
		// View is gone; the result handler becomes a no-op.
		return
	}

	switch {
	case err != nil:
		// The write did not apply. Put the pre-mutation value back and
		// surface the failure.
		if prior.cached {
			c.cache.Put(prior.task)
		}
		c.log.Warn().Str("taskid", mut.TaskID).Str("action", string(mut.Action)).
			Str("kind", store.KindOf(err).String()).Err(err).Msg("mutation failed, reverted optimistic patch")
		if c.OnError != nil {
			c.OnError(mut, err)
		}
	case res.Gone:
		// Record vanished: successful removal, never an error.
		c.cache.Remove(mut.TaskID)
		if c.OnSettle != nil {
			c.OnSettle(mut, res)
		}
	default:
		// Optimistic patch stays authoritative until the next snapshot;
		// install the store's view of the task.
		c.cache.Put(res.Task)
		if res.StuckAdvisory && c.OnAdvisory != nil {
			c.OnAdvisory(mut.TaskID, res.Task.RestoreCount)
		}
		if c.OnSettle != nil {
			c.OnSettle(mut, res)
		}
	}
}

func (c *Coordinator) transition(ctx context.Context, mut Mutation) (lifecycle.Result, error) {
	switch mut.Action {
	case ActionComplete:
		return c.machine.Complete(ctx, mut.TaskID)
	case ActionUncomplete:
		return c.machine.Uncomplete(ctx, mut.TaskID)
	case ActionSnooze:
		return c.machine.Snooze(ctx, mut.TaskID, mut.Until)
	case ActionDismiss:
		return c.machine.Dismiss(ctx, mut.TaskID)
	case ActionArchive:
		return c.machine.Archive(ctx, mut.TaskID)
	case ActionRestore:
		return c.machine.Restore(ctx, mut.TaskID)
	}
	return lifecycle.Result{}, store.ValidationError("dispatch", "unknown action")
}

// Wait blocks until every in-flight mutation has settled.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Close makes pending result handlers no-ops and rejects new dispatches.
// In-flight store writes are not cancelled.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}
