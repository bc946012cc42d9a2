package model

import (
	"time"
)

// Users collection document. The engine only touches the streak fields;
// profile and preference data belong to the host application.
type User struct {
	UserID             string     `firestore:"userid,omitempty"`
	Email              string     `firestore:"email,omitempty"`
	DisplayName        string     `firestore:"displayname,omitempty"`
	StreakCount        int        `firestore:"streakcount"`
	LastCompletionDate *time.Time `firestore:"lastcompletiondate"`
	CreatedAt          time.Time  `firestore:"createdat,omitempty"`
}
