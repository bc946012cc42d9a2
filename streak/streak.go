// Package streak derives the consecutive-day completion counter from
// completion events. The record lives on the user document and only this
// package writes it.
package streak

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"betterish/classify"
	"betterish/model"
	"betterish/store"
)

type Accumulator struct {
	store store.TaskStore
	log   zerolog.Logger
}

func NewAccumulator(s store.TaskStore, log zerolog.Logger) *Accumulator {
	return &Accumulator{
		store: s,
		log:   log.With().Str("component", "streak").Logger(),
	}
}

// OnCompletion advances the streak for a completion at instant now and
// returns the updated record. The first completion of a day counts once:
// a second completion the same day is a no-op.
func (a *Accumulator) OnCompletion(ctx context.Context, ownerID string, now time.Time) (model.Streak, error) {
	today0 := classify.StartOfDay(now)
	yesterday0 := today0.AddDate(0, 0, -1)

	st, err := a.store.GetStreak(ctx, ownerID)
	if err != nil {
		if !store.IsKind(err, store.KindNotFound) {
			return model.Streak{}, err
		}
		// Record is created lazily on the first completion.
		st = model.Streak{OwnerID: ownerID}
	}
	st.OwnerID = ownerID

	switch {
	case st.LastCompletionDate == nil:
		st.Count = 1
	case st.LastCompletionDate.Equal(today0):
		// Already counted today.
		return st, nil
	case st.LastCompletionDate.Equal(yesterday0):
		st.Count++
	default:
		// Gap of more than one day: today starts a new streak.
		st.Count = 1
	}
	st.LastCompletionDate = &today0

	if err := a.store.SetStreak(ctx, st); err != nil {
		return model.Streak{}, err
	}
	a.log.Debug().Str("owner", ownerID).Int("streak", st.Count).Msg("streak advanced")
	return st, nil
}

// CheckIdle zeroes a streak that lapsed with no completion, run on session
// start. A completion yesterday keeps the streak alive until the end of
// today.
func (a *Accumulator) CheckIdle(ctx context.Context, ownerID string, now time.Time) (model.Streak, error) {
	st, err := a.store.GetStreak(ctx, ownerID)
	if err != nil {
		if store.IsKind(err, store.KindNotFound) {
			return model.Streak{OwnerID: ownerID}, nil
		}
		return model.Streak{}, err
	}
	st.OwnerID = ownerID
	if st.LastCompletionDate == nil || st.Count == 0 {
		return st, nil
	}

	today0 := classify.StartOfDay(now)
	yesterday0 := today0.AddDate(0, 0, -1)
	if st.LastCompletionDate.Before(yesterday0) {
		st.Count = 0
		if err := a.store.SetStreak(ctx, st); err != nil {
			return model.Streak{}, err
		}
		a.log.Info().Str("owner", ownerID).Msg("streak lapsed, reset to zero")
	}
	return st, nil
}
