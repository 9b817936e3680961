package realtime

import (
	"sort"
	"sync"

	"github.com/Asarafhack/taskflow-realtime/domain"
)

type lockEntry struct {
	userID string
	connID string
}

// Locks holds advisory per-task edit locks. They are never persisted and
// never consulted by task mutations; each lock belongs to the connection
// that took it and goes away with it.
type Locks struct {
	mu     sync.Mutex
	boards map[string]map[string]lockEntry
	hub    *Hub
}

func NewLocks(hub *Hub) *Locks {
	return &Locks{boards: make(map[string]map[string]lockEntry), hub: hub}
}

// Lock records the lock and tells the rest of the board about it.
func (l *Locks) Lock(boardID, taskID string, id domain.Identity, connID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tasks, ok := l.boards[boardID]
	if !ok {
		tasks = make(map[string]lockEntry)
		l.boards[boardID] = tasks
	}
	tasks[taskID] = lockEntry{userID: id.ID, connID: connID}
	l.hub.Publish(boardID, EventLocked, LockPayload{TaskID: taskID, UserID: id.ID}, connID)
}

// Unlock clears the lock whoever holds it and tells the rest of the board.
func (l *Locks) Unlock(boardID, taskID, connID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.deleteLocked(boardID, taskID)
	l.hub.Publish(boardID, EventUnlocked, LockPayload{TaskID: taskID}, connID)
}

// ReleaseBoard clears every lock connID holds on a board.
func (l *Locks) ReleaseBoard(boardID, connID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.releaseLocked(boardID, connID)
}

// ReleaseConnection clears every lock connID holds on any board.
func (l *Locks) ReleaseConnection(connID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for boardID := range l.boards {
		n += l.releaseLocked(boardID, connID)
	}
	return n
}

func (l *Locks) releaseLocked(boardID, connID string) int {
	var released []string
	for taskID, e := range l.boards[boardID] {
		if e.connID == connID {
			released = append(released, taskID)
		}
	}
	sort.Strings(released)
	for _, taskID := range released {
		l.deleteLocked(boardID, taskID)
		l.hub.Publish(boardID, EventUnlocked, LockPayload{TaskID: taskID}, connID)
	}
	return len(released)
}

func (l *Locks) deleteLocked(boardID, taskID string) {
	tasks, ok := l.boards[boardID]
	if !ok {
		return
	}
	delete(tasks, taskID)
	if len(tasks) == 0 {
		delete(l.boards, boardID)
	}
}

// Held lists the locks currently held on a board, ordered by task id.
func (l *Locks) Held(boardID string) []LockPayload {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]LockPayload, 0, len(l.boards[boardID]))
	for taskID, e := range l.boards[boardID] {
		out = append(out, LockPayload{TaskID: taskID, UserID: e.userID})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out
}
