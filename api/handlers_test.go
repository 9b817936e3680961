package api

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/Asarafhack/taskflow-realtime/domain"
	"github.com/Asarafhack/taskflow-realtime/realtime"
	"github.com/Asarafhack/taskflow-realtime/storage"
)

// fakeAuth treats the bearer value as the user id.
type fakeAuth struct{}

func (fakeAuth) IdentityFromAuthHeader(h string) (domain.Identity, error) {
	return fakeAuth{}.IdentityFromToken(strings.TrimPrefix(h, "Bearer "))
}

func (fakeAuth) IdentityFromToken(token string) (domain.Identity, error) {
	if token == "" || strings.Contains(token, " ") {
		return domain.Identity{}, domain.ErrUnauthorized
	}
	return domain.Identity{ID: token, Name: strings.ToUpper(token)}, nil
}

type testServer struct {
	e        *echo.Echo
	store    *storage.SQLite
	sessions *realtime.SessionRegistry
	hook     *test.Hook
}

func newTestServer(t *testing.T, deduper Deduper) *testServer {
	t.Helper()
	st, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	logger, hook := test.NewNullLogger()
	logger.SetLevel(log.DebugLevel)
	sessions := realtime.NewSessionRegistry(logger, 16)
	t.Cleanup(sessions.Close)

	e := echo.New()
	e.Use(GzipRequestMiddleware())
	Register(e, Services{
		Tasks:    domain.NewTaskService(st),
		Boards:   domain.NewBoardService(st),
		Auth:     fakeAuth{},
		Deduper:  deduper,
		Sessions: sessions,
		Socket:   SocketConfig{PingInterval: time.Second},
	}, logger)
	return &testServer{e: e, store: st, sessions: sessions, hook: hook}
}

func (s *testServer) do(t *testing.T, method, path, user string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if user != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+user)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("expected status %d, got %d: %s", want, rec.Code, rec.Body.String())
	}
}

func (s *testServer) createBoard(t *testing.T, user string) boardResponse {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/boards", user, map[string]any{"title": "Roadmap"})
	expectStatus(t, rec, http.StatusCreated)
	return decode[boardResponse](t, rec)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, nil)
	expectStatus(t, s.do(t, http.MethodGet, "/healthz", "", nil), http.StatusOK)
}

func TestRequiresAuthentication(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(t, http.MethodGet, "/api/boards", "", nil)
	expectStatus(t, rec, http.StatusUnauthorized)
	if body := decode[errorResponse](t, rec); body.Error == "" {
		t.Fatal("expected error message")
	}
}

func TestBoardLifecycle(t *testing.T) {
	s := newTestServer(t, nil)
	created := s.createBoard(t, "alice")
	if len(created.Lists) != 4 || created.Lists[0].Title != "Backlog" {
		t.Fatalf("expected default lists, got %+v", created.Lists)
	}
	boardID := created.Board.ID

	boards := decode[[]domain.Board](t, s.do(t, http.MethodGet, "/api/boards", "alice", nil))
	if len(boards) != 1 || boards[0].ID != boardID {
		t.Fatalf("unexpected boards %+v", boards)
	}
	if others := decode[[]domain.Board](t, s.do(t, http.MethodGet, "/api/boards", "bob", nil)); len(others) != 0 {
		t.Fatalf("bob should see no boards, got %+v", others)
	}

	rec := s.do(t, http.MethodPost, "/api/boards/"+boardID+"/members", "alice", map[string]string{"userId": "bob"})
	expectStatus(t, rec, http.StatusOK)
	rec = s.do(t, http.MethodPost, "/api/boards/"+boardID+"/members", "alice", map[string]string{"userId": "bob"})
	expectStatus(t, rec, http.StatusBadRequest)

	rec = s.do(t, http.MethodPost, "/api/lists", "alice", map[string]string{"boardId": boardID, "title": "Review"})
	expectStatus(t, rec, http.StatusCreated)
	lists := decode[[]domain.List](t, s.do(t, http.MethodGet, "/api/boards/"+boardID+"/lists", "bob", nil))
	if len(lists) != 5 || lists[4].Title != "Review" {
		t.Fatalf("unexpected lists %+v", lists)
	}

	expectStatus(t, s.do(t, http.MethodGet, "/api/boards/missing", "alice", nil), http.StatusNotFound)
}

func TestTaskMoveAndHistory(t *testing.T) {
	s := newTestServer(t, nil)
	b := s.createBoard(t, "alice")
	backlog, todo := b.Lists[0], b.Lists[1]

	rec := s.do(t, http.MethodPost, "/api/tasks", "alice", map[string]any{"title": "Fix login", "listId": backlog.ID, "priority": "high"})
	expectStatus(t, rec, http.StatusCreated)
	task := decode[domain.Task](t, rec)

	rec = s.do(t, http.MethodPost, "/api/tasks/"+task.ID+"/move", "alice", map[string]any{"listId": todo.ID})
	expectStatus(t, rec, http.StatusOK)
	if moved := decode[domain.Task](t, rec); moved.ListID != todo.ID {
		t.Fatalf("expected task in %s, got %s", todo.ID, moved.ListID)
	}

	history := decode[[]domain.ChangeLogEntry](t, s.do(t, http.MethodGet, "/api/tasks/"+task.ID+"/history", "alice", nil))
	if len(history) != 1 || history[0].ChangeType != domain.FieldListID || history[0].PreviousValue != backlog.ID || history[0].ChangedByName != "ALICE" {
		t.Fatalf("unexpected history %+v", history)
	}

	acts := decode[[]domain.Activity](t, s.do(t, http.MethodGet, "/api/activity?boardId="+b.Board.ID, "alice", nil))
	found := false
	for _, a := range acts {
		if strings.Contains(a.Action, "from Backlog to To Do") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a move activity, got %+v", acts)
	}
}

func TestTaskUpdateCompletesAndIsIdempotent(t *testing.T) {
	s := newTestServer(t, nil)
	b := s.createBoard(t, "alice")
	task := decode[domain.Task](t, s.do(t, http.MethodPost, "/api/tasks", "alice", map[string]any{"title": "Ship", "listId": b.Lists[0].ID}))

	rec := s.do(t, http.MethodPut, "/api/tasks/"+task.ID, "alice", map[string]any{"completed": true, "priority": "medium"})
	expectStatus(t, rec, http.StatusOK)
	done := decode[domain.Task](t, rec)
	if !done.Completed || done.CompletedAt == nil {
		t.Fatalf("expected completed task with timestamp, got %+v", done)
	}

	expectStatus(t, s.do(t, http.MethodPut, "/api/tasks/"+task.ID, "alice", map[string]any{"priority": "medium"}), http.StatusOK)
	history := decode[[]domain.ChangeLogEntry](t, s.do(t, http.MethodGet, "/api/tasks/"+task.ID+"/history", "alice", nil))
	if len(history) != 1 || history[0].ChangeType != domain.FieldCompleted {
		t.Fatalf("expected only the completed change, got %+v", history)
	}

	day := done.CompletedAt.UTC().Format(time.DateOnly)
	completed := decode[[]domain.Task](t, s.do(t, http.MethodGet, "/api/tasks/completed?date="+day, "alice", nil))
	if len(completed) != 1 || completed[0].ID != task.ID {
		t.Fatalf("unexpected completed tasks %+v", completed)
	}
}

func TestTaskValidationAndNotFound(t *testing.T) {
	s := newTestServer(t, nil)
	b := s.createBoard(t, "alice")
	task := decode[domain.Task](t, s.do(t, http.MethodPost, "/api/tasks", "alice", map[string]any{"title": "A", "listId": b.Lists[0].ID}))

	expectStatus(t, s.do(t, http.MethodPut, "/api/tasks/"+task.ID, "alice", map[string]any{"priority": "urgent"}), http.StatusBadRequest)
	expectStatus(t, s.do(t, http.MethodPut, "/api/tasks/"+task.ID, "alice", `{"bogus":1}`), http.StatusBadRequest)
	rec := s.do(t, http.MethodPut, "/api/tasks/"+task.ID, "alice", `{}`)
	expectStatus(t, rec, http.StatusBadRequest)
	if body := decode[errorResponse](t, rec); !strings.Contains(body.Error, "no fields to update") {
		t.Fatalf("unexpected error body %+v", body)
	}
	expectStatus(t, s.do(t, http.MethodPut, "/api/tasks/missing", "alice", map[string]any{"title": "x"}), http.StatusNotFound)
	expectStatus(t, s.do(t, http.MethodPost, "/api/tasks/"+task.ID+"/move", "alice", map[string]any{"listId": "nowhere"}), http.StatusNotFound)
	expectStatus(t, s.do(t, http.MethodGet, "/api/tasks", "alice", nil), http.StatusBadRequest)
	expectStatus(t, s.do(t, http.MethodGet, "/api/tasks?boardId=x&page=0", "alice", nil), http.StatusBadRequest)
	expectStatus(t, s.do(t, http.MethodGet, "/api/tasks/completed?date=yesterday", "alice", nil), http.StatusBadRequest)
	expectStatus(t, s.do(t, http.MethodDelete, "/api/tasks/"+task.ID, "alice", nil), http.StatusNoContent)
	expectStatus(t, s.do(t, http.MethodGet, "/api/tasks/"+task.ID, "alice", nil), http.StatusNotFound)
}

func TestListTasksPagesAndFilters(t *testing.T) {
	s := newTestServer(t, nil)
	b := s.createBoard(t, "alice")
	for i := 0; i < 5; i++ {
		prio := "low"
		if i%2 == 0 {
			prio = "high"
		}
		expectStatus(t, s.do(t, http.MethodPost, "/api/tasks", "alice", map[string]any{
			"title": fmt.Sprintf("task %d", i), "listId": b.Lists[0].ID, "priority": prio,
		}), http.StatusCreated)
	}

	page := decode[domain.TaskPage](t, s.do(t, http.MethodGet, "/api/tasks?boardId="+b.Board.ID+"&limit=2&page=3", "alice", nil))
	if page.Total != 5 || page.Pages != 3 || page.Page != 3 || len(page.Tasks) != 1 || page.Tasks[0].Title != "task 4" {
		t.Fatalf("unexpected page %+v", page)
	}
	high := decode[domain.TaskPage](t, s.do(t, http.MethodGet, "/api/tasks?listId="+b.Lists[0].ID+"&priority=high", "alice", nil))
	if high.Total != 3 {
		t.Fatalf("expected 3 high priority tasks, got %d", high.Total)
	}
	found := decode[[]domain.Task](t, s.do(t, http.MethodGet, "/api/tasks/search?q=TASK%203", "alice", nil))
	if len(found) != 1 || found[0].Title != "task 3" {
		t.Fatalf("unexpected search result %+v", found)
	}
}

func TestAssignTask(t *testing.T) {
	s := newTestServer(t, nil)
	b := s.createBoard(t, "alice")
	task := decode[domain.Task](t, s.do(t, http.MethodPost, "/api/tasks", "alice", map[string]any{"title": "A", "listId": b.Lists[0].ID}))
	for i := 0; i < 2; i++ {
		rec := s.do(t, http.MethodPost, "/api/tasks/"+task.ID+"/assign", "alice", map[string]string{"userId": "bob"})
		expectStatus(t, rec, http.StatusOK)
		if got := decode[domain.Task](t, rec); len(got.AssignedTo) != 1 || got.AssignedTo[0] != "bob" {
			t.Fatalf("unexpected assignees %+v", got.AssignedTo)
		}
	}
}

func TestCreateTaskIdempotencyKey(t *testing.T) {
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(m.Close)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	s := newTestServer(t, NewRedisDeduper(client, time.Minute))
	b := s.createBoard(t, "alice")
	body := map[string]any{"title": "Once", "listId": b.Lists[0].ID}

	expectStatus(t, s.do(t, http.MethodPost, "/api/tasks", "alice", body, idempotencyHeader, "k1"), http.StatusCreated)
	expectStatus(t, s.do(t, http.MethodPost, "/api/tasks", "alice", body, idempotencyHeader, "k1"), http.StatusConflict)
	expectStatus(t, s.do(t, http.MethodPost, "/api/tasks", "bob", body, idempotencyHeader, "k1"), http.StatusCreated)

	bad := map[string]any{"title": "Lost", "listId": "missing"}
	expectStatus(t, s.do(t, http.MethodPost, "/api/tasks", "alice", bad, idempotencyHeader, "k2"), http.StatusNotFound)
	if m.Exists("alice:idem:k2") {
		t.Fatal("failed create should release its idempotency key")
	}
}

func TestPostActivity(t *testing.T) {
	s := newTestServer(t, nil)
	b := s.createBoard(t, "alice")
	rec := s.do(t, http.MethodPost, "/api/activity", "alice", map[string]string{"boardId": b.Board.ID, "action": "archived the sprint"})
	expectStatus(t, rec, http.StatusCreated)
	expectStatus(t, s.do(t, http.MethodPost, "/api/activity", "alice", map[string]string{"boardId": b.Board.ID}), http.StatusBadRequest)

	acts := decode[[]domain.Activity](t, s.do(t, http.MethodGet, "/api/activity?boardId="+b.Board.ID+"&limit=1", "alice", nil))
	if len(acts) != 1 || acts[0].Action != "archived the sprint" {
		t.Fatalf("expected newest activity first, got %+v", acts)
	}
}

func TestGzipRequestBody(t *testing.T) {
	s := newTestServer(t, nil)
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write([]byte(`{"title":"Zipped"}`)); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	rec := s.do(t, http.MethodPost, "/api/boards", "alice", buf.String(), echo.HeaderContentEncoding, "gzip")
	expectStatus(t, rec, http.StatusCreated)
	if b := decode[boardResponse](t, rec); b.Board.Title != "Zipped" {
		t.Fatalf("unexpected board %+v", b.Board)
	}

	rec = s.do(t, http.MethodPost, "/api/boards", "alice", "not gzip", echo.HeaderContentEncoding, "gzip")
	expectStatus(t, rec, http.StatusBadRequest)
}

func TestServerErrorsHideBackendDetail(t *testing.T) {
	e := echo.New()
	for _, err := range []error{
		fmt.Errorf("%w: query table tasksprod: dial tcp 10.0.0.7:443: refused", domain.ErrStorageUnavailable),
		fmt.Errorf("queue activityprod: dial tcp 10.0.0.7:443: refused"),
	} {
		rec := httptest.NewRecorder()
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/tasks/t1", nil), rec)
		if werr := writeError(c, "service", err); werr != nil {
			t.Fatalf("write error: %v", werr)
		}
		status := statusFor(err)
		expectStatus(t, rec, status)
		body := decode[errorResponse](t, rec)
		if body.Error != http.StatusText(status) {
			t.Fatalf("expected %q, got %q", http.StatusText(status), body.Error)
		}
		if strings.Contains(rec.Body.String(), "10.0.0.7") || strings.Contains(rec.Body.String(), "prod") {
			t.Fatalf("backend detail leaked: %s", rec.Body.String())
		}
	}
}

func TestStorageUnavailableMapsTo503(t *testing.T) {
	err := fmt.Errorf("%w: get task: boom", domain.ErrStorageUnavailable)
	if got := statusFor(err); got != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", got)
	}
	if got := statusFor(context.Canceled); got != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", got)
	}
}
