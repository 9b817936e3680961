package realtime

import "github.com/bytedance/sonic"

// Inbound signal types.
const (
	SignalJoinBoard  = "join-board"
	SignalLeaveBoard = "leave-board"
	SignalTaskChange = "task-change"
	SignalTaskLock   = "task-lock"
	SignalTaskUnlock = "task-unlock"
)

// Outbound event kinds.
const (
	EventPresence = "presence-update"
	EventRefresh  = "refresh"
	EventLocked   = "task-locked"
	EventUnlocked = "task-unlocked"
)

// Signal is an inbound frame. Identity fields sent by clients are ignored;
// the session identity is used instead.
type Signal struct {
	Type     string `json:"type"`
	BoardID  string `json:"boardId"`
	TaskID   string `json:"taskId,omitempty"`
	Action   string `json:"action,omitempty"`
	UserID   string `json:"userId,omitempty"`
	UserName string `json:"userName,omitempty"`
}

// Frame is the envelope of every outbound event.
type Frame struct {
	Type    string `json:"type"`
	BoardID string `json:"boardId"`
	Data    any    `json:"data"`
}

// PresenceEntry is one identity viewing a board.
type PresenceEntry struct {
	UserID       string `json:"userId"`
	UserName     string `json:"userName"`
	ConnectionID string `json:"connectionId"`
}

type RefreshPayload struct {
	Action string `json:"action"`
}

type LockPayload struct {
	TaskID string `json:"taskId"`
	UserID string `json:"userId,omitempty"`
}

func encodeFrame(kind, boardID string, data any) ([]byte, error) {
	return sonic.Marshal(Frame{Type: kind, BoardID: boardID, Data: data})
}

func decodeSignal(raw []byte) (Signal, error) {
	var sig Signal
	err := sonic.Unmarshal(raw, &sig)
	return sig, err
}
