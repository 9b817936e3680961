package storage

import (
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"

	"github.com/Asarafhack/taskflow-realtime/domain"
)

const (
	edmInt64  = "Edm.Int64"
	edmDouble = "Edm.Double"

	boardPartition = "board"
)

type taskEntity struct {
	aztables.Entity
	Title           string  `json:"Title"`
	Description     string  `json:"Description"`
	ListID          string  `json:"ListID"`
	AssignedTo      string  `json:"AssignedTo"`
	Priority        string  `json:"Priority"`
	ColorTag        string  `json:"ColorTag"`
	Position        float64 `json:"Position"`
	PositionType    string  `json:"Position@odata.type"`
	Completed       bool    `json:"Completed"`
	CompletedAt     int64   `json:"CompletedAt,string"`
	CompletedAtType string  `json:"CompletedAt@odata.type"`
	CreatedAt       int64   `json:"CreatedAt,string"`
	CreatedAtType   string  `json:"CreatedAt@odata.type"`
}

type listEntity struct {
	aztables.Entity
	Title    string `json:"Title"`
	Position int    `json:"Position"`
}

type boardEntity struct {
	aztables.Entity
	Title         string `json:"Title"`
	Color         string `json:"Color"`
	Members       string `json:"Members"`
	CreatedAt     int64  `json:"CreatedAt,string"`
	CreatedAtType string `json:"CreatedAt@odata.type"`
}

type historyEntity struct {
	aztables.Entity
	EntryID       string `json:"EntryID"`
	ChangeType    string `json:"ChangeType"`
	PreviousValue string `json:"PreviousValue"`
	NewValue      string `json:"NewValue"`
	ChangedBy     string `json:"ChangedBy"`
	ChangedByName string `json:"ChangedByName"`
	Stamp         int64  `json:"Stamp,string"`
	StampType     string `json:"Stamp@odata.type"`
}

type activityEntity struct {
	aztables.Entity
	ActivityID    string `json:"ActivityID"`
	UserID        string `json:"UserID"`
	UserName      string `json:"UserName"`
	Action        string `json:"Action"`
	CreatedAt     int64  `json:"CreatedAt,string"`
	CreatedAtType string `json:"CreatedAt@odata.type"`
}

func encodeIDs(ids []string) string {
	if len(ids) == 0 {
		return "[]"
	}
	b, _ := sonic.Marshal(ids)
	return string(b)
}

func decodeIDs(s string) []string {
	var ids []string
	if s == "" {
		return []string{}
	}
	if err := sonic.UnmarshalString(s, &ids); err != nil || ids == nil {
		return []string{}
	}
	return ids
}

func toTaskEntity(t domain.Task) taskEntity {
	ent := taskEntity{
		Entity:          aztables.Entity{PartitionKey: t.ID, RowKey: t.ID},
		Title:           t.Title,
		Description:     t.Description,
		ListID:          t.ListID,
		AssignedTo:      encodeIDs(t.AssignedTo),
		Priority:        string(t.Priority),
		ColorTag:        string(t.ColorTag),
		Position:        t.Position,
		PositionType:    edmDouble,
		Completed:       t.Completed,
		CompletedAtType: edmInt64,
		CreatedAt:       t.CreatedAt.UnixNano(),
		CreatedAtType:   edmInt64,
	}
	if t.CompletedAt != nil {
		ent.CompletedAt = t.CompletedAt.UnixNano()
	}
	return ent
}

func (e taskEntity) task() domain.Task {
	t := domain.Task{
		ID:          e.RowKey,
		Title:       e.Title,
		Description: e.Description,
		ListID:      e.ListID,
		AssignedTo:  decodeIDs(e.AssignedTo),
		Priority:    domain.Priority(e.Priority),
		ColorTag:    domain.ColorTag(e.ColorTag),
		Position:    e.Position,
		Completed:   e.Completed,
		CreatedAt:   time.Unix(0, e.CreatedAt).UTC(),
	}
	if e.Completed && e.CompletedAt != 0 {
		at := time.Unix(0, e.CompletedAt).UTC()
		t.CompletedAt = &at
	}
	return t
}

func toListEntity(l domain.List) listEntity {
	return listEntity{
		Entity:   aztables.Entity{PartitionKey: l.BoardID, RowKey: l.ID},
		Title:    l.Title,
		Position: l.Position,
	}
}

func (e listEntity) list() domain.List {
	return domain.List{ID: e.RowKey, BoardID: e.PartitionKey, Title: e.Title, Position: e.Position}
}

func toBoardEntity(b domain.Board) boardEntity {
	return boardEntity{
		Entity:        aztables.Entity{PartitionKey: boardPartition, RowKey: b.ID},
		Title:         b.Title,
		Color:         string(b.Color),
		Members:       encodeIDs(b.Members),
		CreatedAt:     b.CreatedAt.UnixNano(),
		CreatedAtType: edmInt64,
	}
}

func (e boardEntity) board() domain.Board {
	return domain.Board{
		ID:        e.RowKey,
		Title:     e.Title,
		Color:     domain.ColorTag(e.Color),
		Members:   decodeIDs(e.Members),
		CreatedAt: time.Unix(0, e.CreatedAt).UTC(),
	}
}

func toHistoryEntity(e domain.ChangeLogEntry, stamp int64) historyEntity {
	return historyEntity{
		Entity:        aztables.Entity{PartitionKey: e.TaskID, RowKey: invertedKey(stamp)},
		EntryID:       e.ID,
		ChangeType:    e.ChangeType,
		PreviousValue: e.PreviousValue,
		NewValue:      e.NewValue,
		ChangedBy:     e.ChangedBy,
		ChangedByName: e.ChangedByName,
		Stamp:         e.Timestamp.UnixNano(),
		StampType:     edmInt64,
	}
}

func (e historyEntity) entry() domain.ChangeLogEntry {
	return domain.ChangeLogEntry{
		ID:            e.EntryID,
		TaskID:        e.PartitionKey,
		ChangeType:    e.ChangeType,
		PreviousValue: e.PreviousValue,
		NewValue:      e.NewValue,
		ChangedBy:     e.ChangedBy,
		ChangedByName: e.ChangedByName,
		Timestamp:     time.Unix(0, e.Stamp).UTC(),
	}
}

func toActivityEntity(a domain.Activity) activityEntity {
	return activityEntity{
		Entity:        aztables.Entity{PartitionKey: a.BoardID, RowKey: activityRowKey(a)},
		ActivityID:    a.ID,
		UserID:        a.UserID,
		UserName:      a.UserName,
		Action:        a.Action,
		CreatedAt:     a.CreatedAt.UnixNano(),
		CreatedAtType: edmInt64,
	}
}

// activityRowKey sorts newest first and breaks ties on the activity id.
func activityRowKey(a domain.Activity) string {
	return invertedKey(a.CreatedAt.UnixNano()) + "_" + a.ID
}

func (e activityEntity) activity() domain.Activity {
	return domain.Activity{
		ID:        e.ActivityID,
		BoardID:   e.PartitionKey,
		UserID:    e.UserID,
		UserName:  e.UserName,
		Action:    e.Action,
		CreatedAt: time.Unix(0, e.CreatedAt).UTC(),
	}
}
