package model

import (
	"time"
)

type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityMedium TaskPriority = "medium"
	PriorityHigh   TaskPriority = "high"
)

type TaskCategory string

const (
	CategoryPersonal     TaskCategory = "personal"
	CategoryHousehold    TaskCategory = "household"
	CategoryWork         TaskCategory = "work"
	CategoryBaby         TaskCategory = "baby"
	CategoryRelationship TaskCategory = "relationship"
	CategoryHealth       TaskCategory = "health"
	CategoryEvents       TaskCategory = "events"
	CategoryMaintenance  TaskCategory = "maintenance"
	CategoryHomeProjects TaskCategory = "home_projects"
)

type TaskSource string

const (
	SourceManual    TaskSource = "manual"
	SourceAuto      TaskSource = "auto"
	SourceRecurring TaskSource = "recurring"
	SourceEmergency TaskSource = "emergency"
	SourceAI        TaskSource = "ai"
	SourceVoice     TaskSource = "voice"
)

func ValidPriority(p TaskPriority) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

func ValidCategory(c TaskCategory) bool {
	switch c {
	case CategoryPersonal, CategoryHousehold, CategoryWork, CategoryBaby,
		CategoryRelationship, CategoryHealth, CategoryEvents,
		CategoryMaintenance, CategoryHomeProjects:
		return true
	}
	return false
}

func ValidSource(s TaskSource) bool {
	switch s {
	case SourceManual, SourceAuto, SourceRecurring, SourceEmergency, SourceAI, SourceVoice:
		return true
	}
	return false
}

type Subtask struct {
	SubtaskID   int        `firestore:"subtaskid"`
	Title       string     `firestore:"title"`
	Completed   bool       `firestore:"completed"`
	CompletedAt *time.Time `firestore:"completedat"`
}

type Task struct {
	TaskID       string       `firestore:"-"`
	OwnerID      string       `firestore:"ownerid"`
	Title        string       `firestore:"title"`
	Detail       string       `firestore:"detail,omitempty"`
	Category     TaskCategory `firestore:"category"`
	Priority     TaskPriority `firestore:"priority"`
	Source       TaskSource   `firestore:"source"`
	CreatedAt    time.Time    `firestore:"createdat"`
	UpdatedAt    time.Time    `firestore:"updatedat"`
	Completed    bool         `firestore:"completed"`
	CompletedAt  *time.Time   `firestore:"completedat"`
	SnoozedUntil *time.Time   `firestore:"snoozeduntil"`
	Dismissed    bool         `firestore:"dismissed"`
	DismissedAt  *time.Time   `firestore:"dismissedat"`
	Deleted      bool         `firestore:"deleted"`
	DeletedAt    *time.Time   `firestore:"deletedat"`
	LastRestored *time.Time   `firestore:"lastrestored"`
	RestoreCount int          `firestore:"restorecount"`
	IsProject    bool         `firestore:"isproject"`
	Subtasks     []Subtask    `firestore:"subtasks,omitempty"`
}

// TaskState is derived from the boolean flags at read time. It is never
// stored: the flags are the source of truth and State below is the only
// place the mapping lives.
type TaskState string

const (
	StateActive    TaskState = "active"
	StateSnoozed   TaskState = "snoozed"
	StateDismissed TaskState = "dismissed"
	StateCompleted TaskState = "completed"
	StateDeleted   TaskState = "deleted"
)

// State reports the effective lifecycle state of the task at instant now.
// Deleted wins over everything, then dismissed, then completed, then a
// still-pending snooze.
func (t Task) State(now time.Time) TaskState {
	switch {
	case t.Deleted:
		return StateDeleted
	case t.Dismissed:
		return StateDismissed
	case t.Completed:
		return StateCompleted
	case t.SnoozedUntil != nil && t.SnoozedUntil.After(now):
		return StateSnoozed
	}
	return StateActive
}

// Progress is the completed share of a project's subtasks, 0-100.
func (t Task) Progress() int {
	if !t.IsProject || len(t.Subtasks) == 0 {
		return 0
	}
	done := 0
	for _, st := range t.Subtasks {
		if st.Completed {
			done++
		}
	}
	return int(float64(done)/float64(len(t.Subtasks))*100 + 0.5)
}
