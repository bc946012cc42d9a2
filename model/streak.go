package model

import (
	"time"
)

// Streak is the consecutive-day completion counter kept on the user
// document. LastCompletionDate is always a local-midnight instant.
type Streak struct {
	OwnerID            string     `firestore:"-"`
	Count              int        `firestore:"streakcount"`
	LastCompletionDate *time.Time `firestore:"lastcompletiondate"`
}
