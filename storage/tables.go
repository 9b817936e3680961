package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"

	"github.com/Asarafhack/taskflow-realtime/domain"
)

// TableNames holds the Azure table names used by Tables.
type TableNames struct {
	Boards   string
	Lists    string
	Tasks    string
	History  string
	Activity string
}

// All returns the configured table names.
func (n TableNames) All() []string {
	return []string{n.Boards, n.Lists, n.Tasks, n.History, n.Activity}
}

// Tables implements domain.Storage on Azure Table Storage.
type Tables struct {
	boards   *aztables.Client
	lists    *aztables.Client
	tasks    *aztables.Client
	history  *aztables.Client
	activity *aztables.Client
	seq      sequencer
}

// New creates a Tables instance from the given connection string.
func New(connStr string, names TableNames) (*Tables, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return &Tables{
		boards:   svc.NewClient(names.Boards),
		lists:    svc.NewClient(names.Lists),
		tasks:    svc.NewClient(names.Tasks),
		history:  svc.NewClient(names.History),
		activity: svc.NewClient(names.Activity),
	}, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrStorageUnavailable, op, err)
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == 404
}

func (s *Tables) getEntity(ctx context.Context, c *aztables.Client, pk, rk string, v any) (bool, error) {
	resp, err := c.GetEntity(ctx, pk, rk, nil)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if err := sonic.Unmarshal(resp.Value, v); err != nil {
		return false, err
	}
	return true, nil
}

func upsert(ctx context.Context, c *aztables.Client, v any) error {
	payload, err := sonic.Marshal(v)
	if err == nil {
		_, err = c.UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace})
	}
	return err
}

// query pages through entities matching filter and calls fn for each raw
// entity until fn returns false.
func query(ctx context.Context, c *aztables.Client, filter string, fn func([]byte) (bool, error)) error {
	opts := &aztables.ListEntitiesOptions{}
	if filter != "" {
		opts.Filter = &filter
	}
	pager := c.NewListEntitiesPager(opts)
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return err
		}
		for _, e := range resp.Entities {
			more, err := fn(e)
			if err != nil {
				return err
			}
			if !more {
				return nil
			}
		}
	}
	return nil
}

func (s *Tables) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	var ent taskEntity
	ok, err := s.getEntity(ctx, s.tasks, id, id, &ent)
	if err != nil {
		return nil, unavailable("get task", err)
	}
	if !ok {
		return nil, nil
	}
	t := ent.task()
	return &t, nil
}

func (s *Tables) SaveTask(ctx context.Context, task domain.Task) error {
	if err := upsert(ctx, s.tasks, toTaskEntity(task)); err != nil {
		return unavailable("save task", err)
	}
	return nil
}

func (s *Tables) DeleteTask(ctx context.Context, id string) error {
	if _, err := s.tasks.DeleteEntity(ctx, id, id, nil); err != nil && !isNotFound(err) {
		return unavailable("delete task", err)
	}
	return nil
}

func (s *Tables) ListTasks(ctx context.Context, listIDs ...string) ([]domain.Task, error) {
	clauses := make([]string, 0, len(listIDs))
	for _, id := range listIDs {
		clauses = append(clauses, eq("ListID", id))
	}
	tasks := []domain.Task{}
	err := query(ctx, s.tasks, strings.Join(clauses, " or "), func(raw []byte) (bool, error) {
		var ent taskEntity
		if err := sonic.Unmarshal(raw, &ent); err != nil {
			return false, err
		}
		tasks = append(tasks, ent.task())
		return true, nil
	})
	if err != nil {
		return nil, unavailable("list tasks", err)
	}
	return tasks, nil
}

func (s *Tables) GetList(ctx context.Context, id string) (*domain.List, error) {
	var found *domain.List
	err := query(ctx, s.lists, eq("RowKey", id), func(raw []byte) (bool, error) {
		var ent listEntity
		if err := sonic.Unmarshal(raw, &ent); err != nil {
			return false, err
		}
		l := ent.list()
		found = &l
		return false, nil
	})
	if err != nil {
		return nil, unavailable("get list", err)
	}
	return found, nil
}

func (s *Tables) ListLists(ctx context.Context, boardID string) ([]domain.List, error) {
	lists := []domain.List{}
	err := query(ctx, s.lists, eq("PartitionKey", boardID), func(raw []byte) (bool, error) {
		var ent listEntity
		if err := sonic.Unmarshal(raw, &ent); err != nil {
			return false, err
		}
		lists = append(lists, ent.list())
		return true, nil
	})
	if err != nil {
		return nil, unavailable("list lists", err)
	}
	sort.SliceStable(lists, func(i, j int) bool { return lists[i].Position < lists[j].Position })
	return lists, nil
}

func (s *Tables) SaveList(ctx context.Context, l domain.List) error {
	if err := upsert(ctx, s.lists, toListEntity(l)); err != nil {
		return unavailable("save list", err)
	}
	return nil
}

func (s *Tables) GetBoard(ctx context.Context, id string) (*domain.Board, error) {
	var ent boardEntity
	ok, err := s.getEntity(ctx, s.boards, boardPartition, id, &ent)
	if err != nil {
		return nil, unavailable("get board", err)
	}
	if !ok {
		return nil, nil
	}
	b := ent.board()
	return &b, nil
}

// ListBoards scans the board partition; membership is filtered client
// side because members are stored as a serialized array.
func (s *Tables) ListBoards(ctx context.Context, memberID string) ([]domain.Board, error) {
	boards := []domain.Board{}
	err := query(ctx, s.boards, eq("PartitionKey", boardPartition), func(raw []byte) (bool, error) {
		var ent boardEntity
		if err := sonic.Unmarshal(raw, &ent); err != nil {
			return false, err
		}
		if b := ent.board(); b.HasMember(memberID) {
			boards = append(boards, b)
		}
		return true, nil
	})
	if err != nil {
		return nil, unavailable("list boards", err)
	}
	return boards, nil
}

func (s *Tables) SaveBoard(ctx context.Context, b domain.Board) error {
	if err := upsert(ctx, s.boards, toBoardEntity(b)); err != nil {
		return unavailable("save board", err)
	}
	return nil
}

// CreateBoard writes the lists in one partition transaction, then the
// board. If the board write fails the lists are removed again so a
// board is never visible without its lists.
func (s *Tables) CreateBoard(ctx context.Context, b domain.Board, lists []domain.List) error {
	if len(lists) > 0 {
		actions := make([]aztables.TransactionAction, 0, len(lists))
		for _, l := range lists {
			payload, err := sonic.Marshal(toListEntity(l))
			if err != nil {
				return err
			}
			actions = append(actions, aztables.TransactionAction{ActionType: aztables.TransactionTypeAdd, Entity: payload})
		}
		if _, err := s.lists.SubmitTransaction(ctx, actions, nil); err != nil {
			return unavailable("create lists", err)
		}
	}
	if err := s.SaveBoard(ctx, b); err != nil {
		for _, l := range lists {
			if _, delErr := s.lists.DeleteEntity(ctx, l.BoardID, l.ID, nil); delErr != nil && !isNotFound(delErr) {
				return errors.Join(err, unavailable("remove lists", delErr))
			}
		}
		return err
	}
	return nil
}

// AppendChangeLog inserts the entries of one update as a single
// transaction within the task's partition.
func (s *Tables) AppendChangeLog(ctx context.Context, entries []domain.ChangeLogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	actions := make([]aztables.TransactionAction, 0, len(entries))
	for _, e := range entries {
		payload, err := sonic.Marshal(toHistoryEntity(e, s.seq.next(e.Timestamp)))
		if err != nil {
			return err
		}
		actions = append(actions, aztables.TransactionAction{ActionType: aztables.TransactionTypeAdd, Entity: payload})
	}
	if _, err := s.history.SubmitTransaction(ctx, actions, nil); err != nil {
		return unavailable("append change log", err)
	}
	return nil
}

func (s *Tables) TaskHistory(ctx context.Context, taskID string, limit int) ([]domain.ChangeLogEntry, error) {
	entries := []domain.ChangeLogEntry{}
	err := query(ctx, s.history, eq("PartitionKey", taskID), func(raw []byte) (bool, error) {
		var ent historyEntity
		if err := sonic.Unmarshal(raw, &ent); err != nil {
			return false, err
		}
		entries = append(entries, ent.entry())
		return len(entries) < limit, nil
	})
	if err != nil {
		return nil, unavailable("task history", err)
	}
	return entries, nil
}

// AppendActivity writes the activity under a row key derived from its own
// time and id, so a redelivered write replaces the row instead of adding one.
func (s *Tables) AppendActivity(ctx context.Context, a domain.Activity) error {
	if err := upsert(ctx, s.activity, toActivityEntity(a)); err != nil {
		return unavailable("append activity", err)
	}
	return nil
}

func (s *Tables) ListActivities(ctx context.Context, f domain.ActivityFilter) ([]domain.Activity, error) {
	var clauses []string
	if f.BoardID != "" {
		clauses = append(clauses, eq("PartitionKey", f.BoardID))
	}
	if f.UserID != "" {
		clauses = append(clauses, eq("UserID", f.UserID))
	}
	// Row keys only order entries within one board.
	want := f.Offset + f.Limit
	ordered := f.BoardID != ""
	out := []domain.Activity{}
	err := query(ctx, s.activity, strings.Join(clauses, " and "), func(raw []byte) (bool, error) {
		var ent activityEntity
		if err := sonic.Unmarshal(raw, &ent); err != nil {
			return false, err
		}
		out = append(out, ent.activity())
		return !ordered || len(out) < want, nil
	})
	if err != nil {
		return nil, unavailable("list activities", err)
	}
	return pageActivities(out, f), nil
}

// pageActivities orders activities newest first and cuts the requested
// page.
func pageActivities(all []domain.Activity, f domain.ActivityFilter) []domain.Activity {
	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	if f.Offset >= len(all) {
		return []domain.Activity{}
	}
	all = all[f.Offset:]
	if f.Limit > 0 && len(all) > f.Limit {
		all = all[:f.Limit]
	}
	return all
}
