package sync

import (
	"context"
	"sort"
	stdsync "sync"
	"time"

	"github.com/rs/zerolog"

	"betterish/classify"
	"betterish/model"
	"betterish/store"
)

// ViewSpec describes one logical view: the composite query it prefers, the
// simple query it degrades to, and the buckets it surfaces.
type ViewSpec struct {
	ViewID   string
	Primary  store.TaskQuery
	Fallback store.TaskQuery
	Buckets  map[classify.Bucket]bool
}

// todayLookback keeps the today query small without hiding anything the
// classifier could still bucket as Today after a restore.
const todayLookback = 3 * 24 * time.Hour

// TodayView is the "today's tasks" subscription for ownerID.
func TodayView(ownerID string, now time.Time) ViewSpec {
	q := store.TaskQuery{
		OwnerID:      ownerID,
		CreatedAfter: classify.StartOfDay(now).Add(-todayLookback),
		Order:        store.OrderCreatedDesc,
	}
	return ViewSpec{
		ViewID:   "today:" + ownerID,
		Primary:  q,
		Fallback: q.Simplified(),
		Buckets:  map[classify.Bucket]bool{classify.Today: true},
	}
}

// PastPromiseView is the "yesterday's promises" subscription. The primary
// query keeps the manual-source restriction: only manually committed tasks
// count as promises.
func PastPromiseView(ownerID string, now time.Time) ViewSpec {
	q := store.TaskQuery{
		OwnerID:      ownerID,
		Source:       model.SourceManual,
		CreatedAfter: classify.StartOfDay(now).AddDate(0, 0, -14),
		Order:        store.OrderCreatedDesc,
	}
	return ViewSpec{
		ViewID:   "pastpromise:" + ownerID,
		Primary:  q,
		Fallback: q.Simplified(),
		Buckets:  map[classify.Bucket]bool{classify.PastPromise: true},
	}
}

// ViewUpdate is one classified snapshot delivered to a view consumer.
type ViewUpdate struct {
	ViewID   string
	Rows     []classify.Row
	Token    int64
	At       time.Time
	Fallback bool
}

// DeliverFunc receives view updates. Called from the subscription goroutine.
type DeliverFunc func(ViewUpdate)

// Subscriber owns the live store subscriptions, one per view. When the
// store rejects the primary query for lack of a composite index the
// subscriber reopens with the fallback query and applies the dropped
// filters client side; consumers cannot tell the difference.
type Subscriber struct {
	store store.TaskStore
	cache *Cache
	coord *Coordinator
	log   zerolog.Logger
	now   func() time.Time

	mu    stdsync.Mutex
	views map[string]*liveView
}

type liveView struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSubscriber(s store.TaskStore, cache *Cache, coord *Coordinator, log zerolog.Logger) *Subscriber {
	return &Subscriber{
		store: s,
		cache: cache,
		coord: coord,
		log:   log.With().Str("component", "subscriber").Logger(),
		now:   time.Now,
		views: make(map[string]*liveView),
	}
}

// WithClock overrides the subscriber's clock, for tests.
func (s *Subscriber) WithClock(now func() time.Time) *Subscriber {
	s.now = now
	return s
}

// Subscribe opens (or reopens) the view and streams classified snapshots to
// deliver until the view is torn down. Any prior subscription for the same
// viewID is stopped first, so there is never duplicate delivery.
func (s *Subscriber) Subscribe(ctx context.Context, spec ViewSpec, deliver DeliverFunc) {
	s.Unsubscribe(spec.ViewID)

	viewCtx, cancel := context.WithCancel(ctx)
	lv := &liveView{cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	s.views[spec.ViewID] = lv
	s.mu.Unlock()

	go func() {
		defer close(lv.done)
		s.run(viewCtx, spec, deliver)
	}()
}

// Unsubscribe tears the view down and waits for its goroutine to exit.
func (s *Subscriber) Unsubscribe(viewID string) {
	s.mu.Lock()
	lv, ok := s.views[viewID]
	if ok {
		delete(s.views, viewID)
	}
	s.mu.Unlock()
	if ok {
		lv.cancel()
		<-lv.done
	}
}

// Close tears down every view.
func (s *Subscriber) Close() {
	s.mu.Lock()
	views := make([]*liveView, 0, len(s.views))
	for _, lv := range s.views {
		views = append(views, lv)
	}
	s.views = make(map[string]*liveView)
	s.mu.Unlock()
	for _, lv := range views {
		lv.cancel()
		<-lv.done
	}
}

func (s *Subscriber) run(ctx context.Context, spec ViewSpec, deliver DeliverFunc) {
	if s.consume(ctx, spec, spec.Primary, false, deliver) {
		// Primary stream rejected for capability: degrade once, log once,
		// keep the identical classifier logic client side.
		s.log.Warn().Str("view", spec.ViewID).Msg("composite query unsupported, degrading to fallback query")
		s.consume(ctx, spec, spec.Fallback, true, deliver)
	}
}

// consume streams snapshots from one query shape. It returns true when the
// stream failed with a capability rejection and the caller should fall back.
func (s *Subscriber) consume(ctx context.Context, spec ViewSpec, q store.TaskQuery, fallback bool, deliver DeliverFunc) bool {
	sub, err := s.store.Subscribe(ctx, q)
	if err != nil {
		if store.IsKind(err, store.KindCapabilityUnsupported) && !fallback {
			return true
		}
		s.log.Error().Str("view", spec.ViewID).Err(err).Msg("subscription failed")
		return false
	}
	defer sub.Stop()

	snaps, errs := sub.Snapshots, sub.Errs
	for {
		select {
		case <-ctx.Done():
			return false
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err == nil {
				continue
			}
			if store.IsKind(err, store.KindCapabilityUnsupported) && !fallback {
				return true
			}
			s.log.Error().Str("view", spec.ViewID).Err(err).Msg("subscription stream failed")
			return false
		case snap, ok := <-snaps:
			if !ok {
				// Drain a pending stream error before giving up so a
				// capability rejection racing channel close still degrades.
				if errs != nil {
					if err, eok := <-errs; eok && store.IsKind(err, store.KindCapabilityUnsupported) && !fallback {
						return true
					}
				}
				return false
			}
			s.install(spec, q, snap, fallback, deliver)
		}
	}
}

// install filters a raw snapshot down to the view's result set, refreshes
// the shared cache, and delivers the fully reclassified rows. The whole
// snapshot is reclassified every time; there is no incremental path to get
// stale buckets from.
func (s *Subscriber) install(spec ViewSpec, q store.TaskQuery, snap store.Snapshot, fallback bool, deliver DeliverFunc) {
	tasks := snap.Tasks
	if fallback {
		tasks = clientFilter(tasks, spec.Primary)
	}

	var keep map[string]bool
	if s.coord != nil {
		keep = s.coord.InFlight()
	}
	if s.cache != nil {
		s.cache.ReplaceView(spec.ViewID, tasks, keep)
	}

	now := s.now()
	rows := classify.Rows(tasks, now)
	out := rows[:0]
	for _, r := range rows {
		if len(spec.Buckets) == 0 || spec.Buckets[r.Bucket] {
			out = append(out, r)
		}
	}

	deliver(ViewUpdate{
		ViewID:   spec.ViewID,
		Rows:     out,
		Token:    snap.Token,
		At:       snap.At,
		Fallback: fallback,
	})
}

// clientFilter re-applies the primary query's dropped filters after a
// fallback snapshot.
func clientFilter(tasks []model.Task, primary store.TaskQuery) []model.Task {
	out := make([]model.Task, 0, len(tasks))
	for _, t := range tasks {
		if primary.Source != "" && t.Source != primary.Source {
			continue
		}
		if !primary.CreatedAfter.IsZero() && t.CreatedAt.Before(primary.CreatedAfter) {
			continue
		}
		out = append(out, t)
	}
	switch primary.Order {
	case store.OrderCreatedAsc:
		sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	case store.OrderCreatedDesc:
		sort.Slice(out, func(i, j int) bool { return out[j].CreatedAt.Before(out[i].CreatedAt) })
	}
	if primary.Limit > 0 && len(out) > primary.Limit {
		out = out[:primary.Limit]
	}
	return out
}
