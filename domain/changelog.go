package domain

import "time"

// HistoryPageSize bounds how many change-log entries are returned for a task.
const HistoryPageSize = 50

const (
	DefaultActivityPageSize = 30
	MaxActivityPageSize     = 200
)

// Field names used as change types in the change log.
const (
	FieldTitle       = "title"
	FieldDescription = "description"
	FieldListID      = "listId"
	FieldAssignedTo  = "assignedTo"
	FieldPriority    = "priority"
	FieldColorTag    = "colorTag"
	FieldPosition    = "position"
	FieldCompleted   = "completed"
)

// ChangeLogEntry records one field-level change of a task. Entries are
// append-only.
type ChangeLogEntry struct {
	ID            string    `json:"id"`
	TaskID        string    `json:"taskId"`
	ChangeType    string    `json:"changeType"`
	PreviousValue string    `json:"previousValue"`
	NewValue      string    `json:"newValue"`
	ChangedBy     string    `json:"changedBy"`
	ChangedByName string    `json:"changedByName"`
	Timestamp     time.Time `json:"timestamp"`
}

// Activity is a human-readable, board-scoped feed item.
type Activity struct {
	ID        string    `json:"id"`
	BoardID   string    `json:"boardId"`
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	Action    string    `json:"action"`
	CreatedAt time.Time `json:"createdAt"`
}

// ActivityFilter selects a page of activities, newest first. Empty IDs
// match everything.
type ActivityFilter struct {
	BoardID string
	UserID  string
	Offset  int
	Limit   int
}
