package services

import (
	"context"
	stdsync "sync"
	"time"

	"github.com/rs/zerolog"

	"betterish/lifecycle"
	"betterish/migrate"
	"betterish/model"
	"betterish/store"
	"betterish/streak"
	taskSync "betterish/sync"
)

// Engine bundles everything one owner's session needs: the shared task
// cache, the state machine, the mutation coordinator, the live view
// subscriber, the maintenance runner and the streak accumulator.
type Engine struct {
	OwnerID     string
	Cache       *taskSync.Cache
	Machine     *lifecycle.Machine
	Coordinator *taskSync.Coordinator
	Subscriber  *taskSync.Subscriber
	Migrations  *migrate.Runner
	Streaks     *streak.Accumulator
	Session     *model.Session
}

// Registry hands out one Engine per owner, created lazily on first use.
// Creation kicks off the session-start work in the background: the
// maintenance routines and the idle-streak check.
type Registry struct {
	store store.TaskStore
	log   zerolog.Logger

	mu      stdsync.Mutex
	engines map[string]*Engine
}

func NewRegistry(s store.TaskStore, log zerolog.Logger) *Registry {
	return &Registry{
		store:   s,
		log:     log,
		engines: make(map[string]*Engine),
	}
}

// Store exposes the backing TaskStore for handlers that read outside any
// per-owner engine.
func (r *Registry) Store() store.TaskStore {
	return r.store
}

func (r *Registry) ForOwner(ownerID string) *Engine {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.engines[ownerID]; ok {
		return e
	}

	cache := taskSync.NewCache()
	machine := lifecycle.NewMachine(r.store, r.log)
	coord := taskSync.NewCoordinator(machine, cache, r.log)
	e := &Engine{
		OwnerID:     ownerID,
		Cache:       cache,
		Machine:     machine,
		Coordinator: coord,
		Subscriber:  taskSync.NewSubscriber(r.store, cache, coord, r.log),
		Migrations:  migrate.NewRunner(r.store, r.log),
		Streaks:     streak.NewAccumulator(r.store, r.log),
		Session:     model.NewSession(),
	}

	// A settled completion is the streak's only input signal. Idempotent
	// re-completes report Changed=false and must not count again.
	e.Coordinator.OnSettle = func(mut taskSync.Mutation, res lifecycle.Result) {
		if mut.Action != taskSync.ActionComplete || res.Gone || !res.Changed || !res.Task.Completed {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := e.Streaks.OnCompletion(ctx, ownerID, time.Now()); err != nil {
			r.log.Warn().Str("owner", ownerID).Err(err).Msg("streak update failed")
		}
	}

	r.engines[ownerID] = e
	go r.sessionStart(e)
	return e
}

func (r *Registry) sessionStart(e *Engine) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	e.Migrations.RunOnce(ctx, e.Session, e.OwnerID)
	if _, err := e.Streaks.CheckIdle(ctx, e.OwnerID, time.Now()); err != nil {
		r.log.Warn().Str("owner", e.OwnerID).Err(err).Msg("idle streak check failed")
	}
}

// Drop tears down an owner's engine: live views stop, pending mutation
// results become no-ops.
func (r *Registry) Drop(ownerID string) {
	r.mu.Lock()
	e, ok := r.engines[ownerID]
	if ok {
		delete(r.engines, ownerID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	e.Subscriber.Close()
	e.Coordinator.Close()
}

// Close drops every engine.
func (r *Registry) Close() {
	r.mu.Lock()
	owners := make([]string, 0, len(r.engines))
	for id := range r.engines {
		owners = append(owners, id)
	}
	r.mu.Unlock()
	for _, id := range owners {
		r.Drop(id)
	}
}
