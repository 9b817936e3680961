package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/Asarafhack/taskflow-realtime/domain"
)

// SQLite implements domain.Storage on a local SQLite database. It backs
// local development and tests.
type SQLite struct {
	db *sqlx.DB
}

// NewSQLite opens (or creates) the database at path, enables WAL mode and
// foreign keys, and applies pending migrations.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	// A single connection keeps :memory: databases shared and serializes
	// writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) migrate() error {
	current := 0
	var tables int
	err := s.db.Get(&tables, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'")
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}
	if tables > 0 {
		if err := s.db.Get(&current, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}
	return nil
}

type taskRow struct {
	ID          string        `db:"id"`
	Title       string        `db:"title"`
	Description string        `db:"description"`
	ListID      string        `db:"list_id"`
	AssignedTo  string        `db:"assigned_to"`
	Priority    string        `db:"priority"`
	ColorTag    string        `db:"color_tag"`
	Position    float64       `db:"position"`
	Completed   bool          `db:"completed"`
	CompletedAt sql.NullInt64 `db:"completed_at"`
	CreatedAt   int64         `db:"created_at"`
}

func (r taskRow) task() domain.Task {
	t := domain.Task{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		ListID:      r.ListID,
		AssignedTo:  decodeIDs(r.AssignedTo),
		Priority:    domain.Priority(r.Priority),
		ColorTag:    domain.ColorTag(r.ColorTag),
		Position:    r.Position,
		Completed:   r.Completed,
		CreatedAt:   time.Unix(0, r.CreatedAt).UTC(),
	}
	if r.CompletedAt.Valid {
		at := time.Unix(0, r.CompletedAt.Int64).UTC()
		t.CompletedAt = &at
	}
	return t
}

type boardRow struct {
	ID        string `db:"id"`
	Title     string `db:"title"`
	Color     string `db:"color"`
	Members   string `db:"members"`
	CreatedAt int64  `db:"created_at"`
}

func (r boardRow) board() domain.Board {
	return domain.Board{
		ID:        r.ID,
		Title:     r.Title,
		Color:     domain.ColorTag(r.Color),
		Members:   decodeIDs(r.Members),
		CreatedAt: time.Unix(0, r.CreatedAt).UTC(),
	}
}

type listRow struct {
	ID       string `db:"id"`
	BoardID  string `db:"board_id"`
	Title    string `db:"title"`
	Position int    `db:"position"`
}

func (r listRow) list() domain.List {
	return domain.List{ID: r.ID, BoardID: r.BoardID, Title: r.Title, Position: r.Position}
}

type historyRow struct {
	ID            string `db:"id"`
	TaskID        string `db:"task_id"`
	ChangeType    string `db:"change_type"`
	PreviousValue string `db:"previous_value"`
	NewValue      string `db:"new_value"`
	ChangedBy     string `db:"changed_by"`
	ChangedByName string `db:"changed_by_name"`
	Timestamp     int64  `db:"timestamp"`
}

type activityRow struct {
	ID        string `db:"id"`
	BoardID   string `db:"board_id"`
	UserID    string `db:"user_id"`
	UserName  string `db:"user_name"`
	Action    string `db:"action"`
	CreatedAt int64  `db:"created_at"`
}

const taskColumns = "id, title, description, list_id, assigned_to, priority, color_tag, position, completed, completed_at, created_at"

func (s *SQLite) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	var row taskRow
	err := s.db.GetContext(ctx, &row, "SELECT "+taskColumns+" FROM tasks WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("get task", err)
	}
	t := row.task()
	return &t, nil
}

func (s *SQLite) SaveTask(ctx context.Context, t domain.Task) error {
	var completedAt sql.NullInt64
	if t.CompletedAt != nil {
		completedAt = sql.NullInt64{Int64: t.CompletedAt.UnixNano(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, t.Description, t.ListID, encodeIDs(t.AssignedTo),
		string(t.Priority), string(t.ColorTag), t.Position, boolToInt(t.Completed),
		completedAt, t.CreatedAt.UnixNano(),
	)
	if err != nil {
		return unavailable("save task", err)
	}
	return nil
}

func (s *SQLite) DeleteTask(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", id); err != nil {
		return unavailable("delete task", err)
	}
	return nil
}

func (s *SQLite) ListTasks(ctx context.Context, listIDs ...string) ([]domain.Task, error) {
	query := "SELECT " + taskColumns + " FROM tasks"
	var args []interface{}
	if len(listIDs) > 0 {
		q, a, err := sqlx.In(query+" WHERE list_id IN (?)", listIDs)
		if err != nil {
			return nil, err
		}
		query, args = q, a
	}
	var rows []taskRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query+" ORDER BY position, created_at"), args...); err != nil {
		return nil, unavailable("list tasks", err)
	}
	tasks := make([]domain.Task, 0, len(rows))
	for _, r := range rows {
		tasks = append(tasks, r.task())
	}
	return tasks, nil
}

func (s *SQLite) GetList(ctx context.Context, id string) (*domain.List, error) {
	var row listRow
	err := s.db.GetContext(ctx, &row, "SELECT id, board_id, title, position FROM lists WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("get list", err)
	}
	l := row.list()
	return &l, nil
}

func (s *SQLite) ListLists(ctx context.Context, boardID string) ([]domain.List, error) {
	var rows []listRow
	err := s.db.SelectContext(ctx, &rows, "SELECT id, board_id, title, position FROM lists WHERE board_id = ? ORDER BY position", boardID)
	if err != nil {
		return nil, unavailable("list lists", err)
	}
	lists := make([]domain.List, 0, len(rows))
	for _, r := range rows {
		lists = append(lists, r.list())
	}
	return lists, nil
}

func (s *SQLite) SaveList(ctx context.Context, l domain.List) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO lists (id, board_id, title, position) VALUES (?, ?, ?, ?)",
		l.ID, l.BoardID, l.Title, l.Position,
	)
	if err != nil {
		return unavailable("save list", err)
	}
	return nil
}

func (s *SQLite) GetBoard(ctx context.Context, id string) (*domain.Board, error) {
	var row boardRow
	err := s.db.GetContext(ctx, &row, "SELECT id, title, color, members, created_at FROM boards WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("get board", err)
	}
	b := row.board()
	return &b, nil
}

func (s *SQLite) ListBoards(ctx context.Context, memberID string) ([]domain.Board, error) {
	var rows []boardRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, title, color, members, created_at FROM boards
		WHERE EXISTS (SELECT 1 FROM json_each(boards.members) WHERE json_each.value = ?)
		ORDER BY created_at`, memberID)
	if err != nil {
		return nil, unavailable("list boards", err)
	}
	boards := make([]domain.Board, 0, len(rows))
	for _, r := range rows {
		boards = append(boards, r.board())
	}
	return boards, nil
}

func (s *SQLite) SaveBoard(ctx context.Context, b domain.Board) error {
	return saveBoard(ctx, s.db, b)
}

func saveBoard(ctx context.Context, db sqlx.ExecerContext, b domain.Board) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO boards (id, title, color, members, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET title = excluded.title, color = excluded.color, members = excluded.members`,
		b.ID, b.Title, string(b.Color), encodeIDs(b.Members), b.CreatedAt.UnixNano(),
	)
	if err != nil {
		return unavailable("save board", err)
	}
	return nil
}

func (s *SQLite) CreateBoard(ctx context.Context, b domain.Board, lists []domain.List) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return unavailable("begin transaction", err)
	}
	defer tx.Rollback()

	if err := saveBoard(ctx, tx, b); err != nil {
		return err
	}
	for _, l := range lists {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO lists (id, board_id, title, position) VALUES (?, ?, ?, ?)",
			l.ID, l.BoardID, l.Title, l.Position,
		)
		if err != nil {
			return unavailable("create list", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return unavailable("commit board", err)
	}
	return nil
}

func (s *SQLite) AppendChangeLog(ctx context.Context, entries []domain.ChangeLogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return unavailable("begin transaction", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO task_history (
			id, task_id, change_type, previous_value, new_value,
			changed_by, changed_by_name, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return unavailable("prepare change log", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		_, err := stmt.ExecContext(ctx,
			e.ID, e.TaskID, e.ChangeType, e.PreviousValue, e.NewValue,
			e.ChangedBy, e.ChangedByName, e.Timestamp.UnixNano(),
		)
		if err != nil {
			return unavailable("append change log", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return unavailable("commit change log", err)
	}
	return nil
}

func (s *SQLite) TaskHistory(ctx context.Context, taskID string, limit int) ([]domain.ChangeLogEntry, error) {
	var rows []historyRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, task_id, change_type, previous_value, new_value, changed_by, changed_by_name, timestamp
		FROM task_history WHERE task_id = ?
		ORDER BY timestamp DESC, seq DESC LIMIT ?`, taskID, limit)
	if err != nil {
		return nil, unavailable("task history", err)
	}
	entries := make([]domain.ChangeLogEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, domain.ChangeLogEntry{
			ID:            r.ID,
			TaskID:        r.TaskID,
			ChangeType:    r.ChangeType,
			PreviousValue: r.PreviousValue,
			NewValue:      r.NewValue,
			ChangedBy:     r.ChangedBy,
			ChangedByName: r.ChangedByName,
			Timestamp:     time.Unix(0, r.Timestamp).UTC(),
		})
	}
	return entries, nil
}

// AppendActivity ignores an activity whose id is already stored.
func (s *SQLite) AppendActivity(ctx context.Context, a domain.Activity) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO activities (id, board_id, user_id, user_name, action, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.BoardID, a.UserID, a.UserName, a.Action, a.CreatedAt.UnixNano(),
	)
	if err != nil {
		return unavailable("append activity", err)
	}
	return nil
}

func (s *SQLite) ListActivities(ctx context.Context, f domain.ActivityFilter) ([]domain.Activity, error) {
	var conditions []string
	var args []interface{}
	if f.BoardID != "" {
		conditions = append(conditions, "board_id = ?")
		args = append(args, f.BoardID)
	}
	if f.UserID != "" {
		conditions = append(conditions, "user_id = ?")
		args = append(args, f.UserID)
	}
	query := "SELECT id, board_id, user_id, user_name, action, created_at FROM activities"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, seq DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", f.Limit, f.Offset)
	}

	var rows []activityRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, unavailable("list activities", err)
	}
	out := make([]domain.Activity, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.Activity{
			ID:        r.ID,
			BoardID:   r.BoardID,
			UserID:    r.UserID,
			UserName:  r.UserName,
			Action:    r.Action,
			CreatedAt: time.Unix(0, r.CreatedAt).UTC(),
		})
	}
	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
