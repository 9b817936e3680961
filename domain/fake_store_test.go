package domain

import (
	"context"
	"errors"
	"sort"
	"sync"
)

type fakeStore struct {
	mu         sync.Mutex
	tasks      map[string]Task
	lists      map[string]List
	boards     map[string]Board
	history    []ChangeLogEntry
	activities []Activity

	saves       int
	failSave    error
	failHistory error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tasks:  map[string]Task{},
		lists:  map[string]List{},
		boards: map[string]Board{},
	}
}

func (f *fakeStore) GetTask(ctx context.Context, id string) (*Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (f *fakeStore) SaveTask(ctx context.Context, task Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSave != nil {
		return f.failSave
	}
	f.saves++
	f.tasks[task.ID] = task
	return nil
}

func (f *fakeStore) DeleteTask(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tasks, id)
	return nil
}

func (f *fakeStore) ListTasks(ctx context.Context, listIDs ...string) ([]Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := map[string]bool{}
	for _, id := range listIDs {
		want[id] = true
	}
	var out []Task
	for _, t := range f.tasks {
		if len(want) == 0 || want[t.ListID] {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) GetList(ctx context.Context, id string) (*List, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.lists[id]
	if !ok {
		return nil, nil
	}
	return &l, nil
}

func (f *fakeStore) ListLists(ctx context.Context, boardID string) ([]List, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []List
	for _, l := range f.lists {
		if l.BoardID == boardID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeStore) SaveList(ctx context.Context, l List) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists[l.ID] = l
	return nil
}

func (f *fakeStore) GetBoard(ctx context.Context, id string) (*Board, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.boards[id]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (f *fakeStore) ListBoards(ctx context.Context, memberID string) ([]Board, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Board
	for _, b := range f.boards {
		if b.HasMember(memberID) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeStore) SaveBoard(ctx context.Context, b Board) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.boards[b.ID] = b
	return nil
}

func (f *fakeStore) CreateBoard(ctx context.Context, b Board, lists []List) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.boards[b.ID] = b
	for _, l := range lists {
		f.lists[l.ID] = l
	}
	return nil
}

func (f *fakeStore) AppendChangeLog(ctx context.Context, entries []ChangeLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failHistory != nil {
		return f.failHistory
	}
	f.history = append(f.history, entries...)
	return nil
}

func (f *fakeStore) TaskHistory(ctx context.Context, taskID string, limit int) ([]ChangeLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ChangeLogEntry
	for i := len(f.history) - 1; i >= 0; i-- {
		if f.history[i].TaskID == taskID {
			out = append(out, f.history[i])
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) AppendActivity(ctx context.Context, a Activity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activities = append(f.activities, a)
	return nil
}

func (f *fakeStore) ListActivities(ctx context.Context, flt ActivityFilter) ([]Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Activity
	for i := len(f.activities) - 1; i >= 0; i-- {
		a := f.activities[i]
		if flt.BoardID != "" && a.BoardID != flt.BoardID {
			continue
		}
		if flt.UserID != "" && a.UserID != flt.UserID {
			continue
		}
		out = append(out, a)
	}
	if flt.Offset >= len(out) {
		return nil, nil
	}
	out = out[flt.Offset:]
	if len(out) > flt.Limit {
		out = out[:flt.Limit]
	}
	return out, nil
}

var errBackend = errors.New("backend down")
