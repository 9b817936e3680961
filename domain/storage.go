package domain

import "context"

// Storage is the persistence contract consumed by the services. Getters
// return nil, nil when the entity does not exist.
type Storage interface {
	GetTask(ctx context.Context, id string) (*Task, error)
	SaveTask(ctx context.Context, task Task) error
	DeleteTask(ctx context.Context, id string) error
	// ListTasks returns the tasks of the given lists, or every task when
	// no list id is given.
	ListTasks(ctx context.Context, listIDs ...string) ([]Task, error)

	GetList(ctx context.Context, id string) (*List, error)
	ListLists(ctx context.Context, boardID string) ([]List, error)
	SaveList(ctx context.Context, list List) error

	GetBoard(ctx context.Context, id string) (*Board, error)
	ListBoards(ctx context.Context, memberID string) ([]Board, error)
	SaveBoard(ctx context.Context, board Board) error
	// CreateBoard persists a new board together with its initial lists.
	CreateBoard(ctx context.Context, board Board, lists []List) error

	// AppendChangeLog stores every entry of one update, or none of them.
	AppendChangeLog(ctx context.Context, entries []ChangeLogEntry) error
	TaskHistory(ctx context.Context, taskID string, limit int) ([]ChangeLogEntry, error)

	AppendActivity(ctx context.Context, a Activity) error
	ListActivities(ctx context.Context, f ActivityFilter) ([]Activity, error)
}
