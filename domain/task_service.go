package domain

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// TaskService applies task mutations and keeps the change log and the
// activity feed in step with them.
type TaskService struct {
	st    Storage
	now   func() time.Time
	newID func() string
}

func NewTaskService(st Storage) TaskService {
	return TaskService{
		st:    st,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
}

// Update applies a partial update to task id on behalf of actor. One
// change-log entry is written per differing field. An update that changes
// nothing performs no write and returns the stored task.
func (s TaskService) Update(ctx context.Context, id string, upd TaskUpdate, actor Identity) (*Task, error) {
	if err := upd.Validate(); err != nil {
		return nil, err
	}
	cur, err := s.st.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, notFound("task", id)
	}

	ts := s.now()
	next, changes := Diff(*cur, upd)
	if len(changes) == 0 {
		return cur, nil
	}

	var moved *List
	for i, ch := range changes {
		switch ch.Field {
		case FieldListID:
			from, to, err := s.resolveMove(ctx, ch.Previous, ch.New)
			if err != nil {
				return nil, err
			}
			changes[i].Previous = from
			changes[i].New = to.Title
			moved = to
		case FieldCompleted:
			if next.Completed {
				at := ts
				next.CompletedAt = &at
			} else {
				next.CompletedAt = nil
			}
		}
	}

	if err := s.st.SaveTask(ctx, next); err != nil {
		return nil, err
	}
	entries := make([]ChangeLogEntry, 0, len(changes))
	for _, ch := range changes {
		entries = append(entries, ChangeLogEntry{
			ID:            s.newID(),
			TaskID:        id,
			ChangeType:    ch.Field,
			PreviousValue: ch.Previous,
			NewValue:      ch.New,
			ChangedBy:     actor.ID,
			ChangedByName: actor.DisplayName(),
			Timestamp:     ts,
		})
	}
	if err := s.st.AppendChangeLog(ctx, entries); err != nil {
		if rbErr := s.st.SaveTask(ctx, *cur); rbErr != nil {
			log.WithError(rbErr).WithField("task", id).Error("failed to restore task after change log failure")
		}
		return nil, err
	}

	for _, ch := range changes {
		switch ch.Field {
		case FieldListID:
			s.record(ctx, moved.BoardID, actor, ts, fmt.Sprintf("moved \"%s\" from %s to %s", next.Title, ch.Previous, ch.New))
		case FieldCompleted:
			verb := "reopened"
			if next.Completed {
				verb = "completed"
			}
			s.record(ctx, s.boardOf(ctx, next.ListID), actor, ts, fmt.Sprintf("%s \"%s\"", verb, next.Title))
		}
	}
	return &next, nil
}

// Move reassigns a task to another list, optionally repositioning it.
func (s TaskService) Move(ctx context.Context, id, listID string, position *float64, actor Identity) (*Task, error) {
	if listID == "" {
		return nil, invalid(FieldListID, "must not be empty")
	}
	return s.Update(ctx, id, TaskUpdate{ListID: &listID, Position: position}, actor)
}

// resolveMove returns the title of the source list and the destination
// list. A vanished source list falls back to its id.
func (s TaskService) resolveMove(ctx context.Context, fromID, toID string) (string, *List, error) {
	to, err := s.st.GetList(ctx, toID)
	if err != nil {
		return "", nil, err
	}
	if to == nil {
		return "", nil, notFound("list", toID)
	}
	from, err := s.st.GetList(ctx, fromID)
	if err != nil {
		return "", nil, err
	}
	if from == nil {
		return fromID, to, nil
	}
	return from.Title, to, nil
}

func (s TaskService) boardOf(ctx context.Context, listID string) string {
	l, err := s.st.GetList(ctx, listID)
	if err != nil {
		log.WithError(err).WithField("list", listID).Warn("failed to resolve board of list")
		return ""
	}
	if l == nil {
		return ""
	}
	return l.BoardID
}

// record appends an activity. Failures are logged; the mutation that
// triggered it has already been persisted.
func (s TaskService) record(ctx context.Context, boardID string, actor Identity, ts time.Time, action string) {
	if boardID == "" {
		return
	}
	a := Activity{
		ID:        s.newID(),
		BoardID:   boardID,
		UserID:    actor.ID,
		UserName:  actor.DisplayName(),
		Action:    action,
		CreatedAt: ts,
	}
	if err := s.st.AppendActivity(ctx, a); err != nil {
		log.WithError(err).WithFields(log.Fields{"board": boardID, "action": action}).Error("failed to append activity")
	}
}

// Create adds a task at the end of its list.
func (s TaskService) Create(ctx context.Context, in NewTask, actor Identity) (*Task, error) {
	if strings.TrimSpace(in.Title) == "" {
		return nil, invalid(FieldTitle, "must not be empty")
	}
	if in.ListID == "" {
		return nil, invalid(FieldListID, "must not be empty")
	}
	if in.Priority == "" {
		in.Priority = PriorityMedium
	}
	if !in.Priority.Valid() {
		return nil, invalid(FieldPriority, fmt.Sprintf("unknown priority %q", in.Priority))
	}
	if !in.ColorTag.Valid() {
		return nil, invalid(FieldColorTag, fmt.Sprintf("unknown color %q", in.ColorTag))
	}
	list, err := s.st.GetList(ctx, in.ListID)
	if err != nil {
		return nil, err
	}
	if list == nil {
		return nil, notFound("list", in.ListID)
	}
	siblings, err := s.st.ListTasks(ctx, in.ListID)
	if err != nil {
		return nil, err
	}

	ts := s.now()
	task := Task{
		ID:          s.newID(),
		Title:       in.Title,
		Description: in.Description,
		ListID:      in.ListID,
		AssignedTo:  NormalizeAssignees(in.AssignedTo),
		Priority:    in.Priority,
		ColorTag:    in.ColorTag,
		Position:    float64(len(siblings)),
		CreatedAt:   ts,
	}
	if err := s.st.SaveTask(ctx, task); err != nil {
		return nil, err
	}
	s.record(ctx, list.BoardID, actor, ts, fmt.Sprintf("created task \"%s\"", task.Title))
	return &task, nil
}

// Delete removes a task. Its change history is kept.
func (s TaskService) Delete(ctx context.Context, id string, actor Identity) error {
	cur, err := s.st.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if cur == nil {
		return notFound("task", id)
	}
	if err := s.st.DeleteTask(ctx, id); err != nil {
		return err
	}
	s.record(ctx, s.boardOf(ctx, cur.ListID), actor, s.now(), fmt.Sprintf("deleted task \"%s\"", cur.Title))
	return nil
}

// Assign adds userID to the task's assignees. Assigning an existing
// assignee is a no-op.
func (s TaskService) Assign(ctx context.Context, id, userID string, actor Identity) (*Task, error) {
	if userID == "" {
		return nil, invalid("userId", "must not be empty")
	}
	cur, err := s.st.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, notFound("task", id)
	}
	for _, a := range cur.AssignedTo {
		if a == userID {
			return cur, nil
		}
	}
	assignees := append(append([]string(nil), cur.AssignedTo...), userID)
	task, err := s.Update(ctx, id, TaskUpdate{AssignedTo: &assignees}, actor)
	if err != nil {
		return nil, err
	}
	s.record(ctx, s.boardOf(ctx, task.ListID), actor, s.now(), fmt.Sprintf("assigned %s to \"%s\"", userID, task.Title))
	return task, nil
}

// Get returns a single task.
func (s TaskService) Get(ctx context.Context, id string) (*Task, error) {
	t, err := s.st.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, notFound("task", id)
	}
	return t, nil
}

// List returns one page of tasks ordered by position.
func (s TaskService) List(ctx context.Context, q TaskQuery) (TaskPage, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = DefaultTaskPageSize
	}
	if q.Limit > MaxTaskPageSize {
		q.Limit = MaxTaskPageSize
	}
	if q.Priority != "" && !q.Priority.Valid() {
		return TaskPage{}, invalid(FieldPriority, fmt.Sprintf("unknown priority %q", q.Priority))
	}

	var listIDs []string
	switch {
	case q.BoardID != "":
		lists, err := s.st.ListLists(ctx, q.BoardID)
		if err != nil {
			return TaskPage{}, err
		}
		if len(lists) == 0 {
			return TaskPage{Tasks: []Task{}, Page: q.Page}, nil
		}
		for _, l := range lists {
			listIDs = append(listIDs, l.ID)
		}
	case q.ListID != "":
		listIDs = []string{q.ListID}
	}
	all, err := s.st.ListTasks(ctx, listIDs...)
	if err != nil {
		return TaskPage{}, err
	}

	matched := make([]Task, 0, len(all))
	for _, t := range all {
		if q.Priority != "" && t.Priority != q.Priority {
			continue
		}
		if q.Completed != nil && t.Completed != *q.Completed {
			continue
		}
		if q.AssignedTo != "" && !contains(t.AssignedTo, q.AssignedTo) {
			continue
		}
		matched = append(matched, t)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Position != matched[j].Position {
			return matched[i].Position < matched[j].Position
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})

	page := TaskPage{Total: len(matched), Page: q.Page}
	page.Pages = (page.Total + q.Limit - 1) / q.Limit
	if q.Page-1 > len(matched)/q.Limit {
		page.Tasks = []Task{}
		return page, nil
	}
	start := min((q.Page-1)*q.Limit, len(matched))
	end := start + min(q.Limit, len(matched)-start)
	page.Tasks = matched[start:end]
	return page, nil
}

// Search returns up to SearchLimit tasks whose title contains query,
// ignoring case.
func (s TaskService) Search(ctx context.Context, query string) ([]Task, error) {
	all, err := s.st.ListTasks(ctx)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(strings.TrimSpace(query))
	out := []Task{}
	for _, t := range all {
		if strings.Contains(strings.ToLower(t.Title), needle) {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > SearchLimit {
		out = out[:SearchLimit]
	}
	return out, nil
}

// CompletedOn returns the tasks completed during the UTC day containing
// day, most recently completed first.
func (s TaskService) CompletedOn(ctx context.Context, day time.Time) ([]Task, error) {
	day = day.UTC()
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 1)
	all, err := s.st.ListTasks(ctx)
	if err != nil {
		return nil, err
	}
	out := []Task{}
	for _, t := range all {
		if !t.Completed || t.CompletedAt == nil {
			continue
		}
		if t.CompletedAt.Before(start) || !t.CompletedAt.Before(end) {
			continue
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CompletedAt.After(*out[j].CompletedAt) })
	return out, nil
}

// History returns the most recent change-log entries of a task, newest
// first.
func (s TaskService) History(ctx context.Context, taskID string) ([]ChangeLogEntry, error) {
	entries, err := s.st.TaskHistory(ctx, taskID, HistoryPageSize)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []ChangeLogEntry{}
	}
	return entries, nil
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
