package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/Asarafhack/taskflow-realtime/domain"
	"github.com/Asarafhack/taskflow-realtime/realtime"
)

const idempotencyHeader = "Idempotency-Key"

// Services groups what the HTTP layer needs.
type Services struct {
	Tasks    domain.TaskService
	Boards   domain.BoardService
	Auth     Authenticator
	Deduper  Deduper
	Sessions *realtime.SessionRegistry
	Socket   SocketConfig
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, svc Services, logger *log.Logger) {
	e.JSONSerializer = sonicSerializer{}
	e.GET("/healthz", healthz)

	g := e.Group("/api", observe(logger), requireAuth(svc.Auth))
	g.POST("/boards", createBoard(svc.Boards))
	g.GET("/boards", listBoards(svc.Boards))
	g.GET("/boards/:id", getBoard(svc.Boards))
	g.POST("/boards/:id/members", addMember(svc.Boards))
	g.GET("/boards/:id/lists", listLists(svc.Boards))
	g.POST("/lists", createList(svc.Boards))

	g.GET("/tasks", listTasks(svc.Tasks))
	g.POST("/tasks", createTask(svc.Tasks, svc.Deduper))
	g.GET("/tasks/search", searchTasks(svc.Tasks))
	g.GET("/tasks/completed", completedTasks(svc.Tasks))
	g.GET("/tasks/:id", getTask(svc.Tasks))
	g.PUT("/tasks/:id", updateTask(svc.Tasks))
	g.POST("/tasks/:id/move", moveTask(svc.Tasks))
	g.POST("/tasks/:id/assign", assignTask(svc.Tasks))
	g.DELETE("/tasks/:id", deleteTask(svc.Tasks))
	g.GET("/tasks/:id/history", taskHistory(svc.Tasks))

	g.GET("/activity", listActivity(svc.Boards))
	g.POST("/activity", postActivity(svc.Boards))

	if svc.Sessions != nil {
		e.GET("/ws", serveSocket(svc.Sessions, svc.Auth, svc.Socket, logger))
	}
}

func healthz(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

func respond(c echo.Context, status int, v any) error {
	start := time.Now()
	err := c.JSON(status, v)
	if m := metricsFrom(c); m != nil {
		m.ObserveEncode(time.Since(start))
	}
	return err
}

func decodeBody(c echo.Context, v any) error {
	if err := decodeStrict(c.Request().Body, v); err != nil {
		return &domain.ValidationError{Field: "body", Reason: err.Error()}
	}
	return nil
}

func intParam(c echo.Context, name string) (int, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, &domain.ValidationError{Field: name, Reason: "must be a positive integer"}
	}
	return n, nil
}

func itemsReturned(c echo.Context, n int) {
	if m := metricsFrom(c); m != nil {
		m.SetItemsReturned(n)
	}
}

type createBoardRequest struct {
	Title string          `json:"title"`
	Color domain.ColorTag `json:"color"`
}

type boardResponse struct {
	Board *domain.Board `json:"board"`
	Lists []domain.List  `json:"lists"`
}

func createBoard(boards domain.BoardService) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req createBoardRequest
		if err := decodeBody(c, &req); err != nil {
			return writeError(c, "decode", err)
		}
		b, lists, err := boards.CreateBoard(c.Request().Context(), req.Title, req.Color, identityFrom(c))
		if err != nil {
			return writeError(c, "service", err)
		}
		return respond(c, http.StatusCreated, boardResponse{Board: b, Lists: lists})
	}
}

func listBoards(boards domain.BoardService) echo.HandlerFunc {
	return func(c echo.Context) error {
		out, err := boards.Boards(c.Request().Context(), identityFrom(c).ID)
		if err != nil {
			return writeError(c, "service", err)
		}
		itemsReturned(c, len(out))
		return respond(c, http.StatusOK, out)
	}
}

func getBoard(boards domain.BoardService) echo.HandlerFunc {
	return func(c echo.Context) error {
		b, err := boards.Board(c.Request().Context(), c.Param("id"))
		if err != nil {
			return writeError(c, "service", err)
		}
		return respond(c, http.StatusOK, b)
	}
}

type memberRequest struct {
	UserID string `json:"userId"`
}

func addMember(boards domain.BoardService) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req memberRequest
		if err := decodeBody(c, &req); err != nil {
			return writeError(c, "decode", err)
		}
		b, err := boards.AddMember(c.Request().Context(), c.Param("id"), req.UserID)
		if err != nil {
			return writeError(c, "service", err)
		}
		return respond(c, http.StatusOK, b)
	}
}

func listLists(boards domain.BoardService) echo.HandlerFunc {
	return func(c echo.Context) error {
		lists, err := boards.Lists(c.Request().Context(), c.Param("id"))
		if err != nil {
			return writeError(c, "service", err)
		}
		itemsReturned(c, len(lists))
		return respond(c, http.StatusOK, lists)
	}
}

type createListRequest struct {
	BoardID string `json:"boardId"`
	Title   string `json:"title"`
}

func createList(boards domain.BoardService) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req createListRequest
		if err := decodeBody(c, &req); err != nil {
			return writeError(c, "decode", err)
		}
		l, err := boards.CreateList(c.Request().Context(), req.BoardID, req.Title)
		if err != nil {
			return writeError(c, "service", err)
		}
		return respond(c, http.StatusCreated, l)
	}
}

func listTasks(tasks domain.TaskService) echo.HandlerFunc {
	return func(c echo.Context) error {
		q := domain.TaskQuery{
			BoardID:    c.QueryParam("boardId"),
			ListID:     c.QueryParam("listId"),
			Priority:   domain.Priority(c.QueryParam("priority")),
			AssignedTo: c.QueryParam("assignedTo"),
		}
		if q.BoardID == "" && q.ListID == "" {
			return writeError(c, "query", &domain.ValidationError{Field: "boardId", Reason: "boardId or listId is required"})
		}
		if raw := c.QueryParam("completed"); raw != "" {
			done, err := strconv.ParseBool(raw)
			if err != nil {
				return writeError(c, "query", &domain.ValidationError{Field: "completed", Reason: "must be true or false"})
			}
			q.Completed = &done
		}
		var err error
		if q.Page, err = intParam(c, "page"); err != nil {
			return writeError(c, "query", err)
		}
		if q.Limit, err = intParam(c, "limit"); err != nil {
			return writeError(c, "query", err)
		}
		page, err := tasks.List(c.Request().Context(), q)
		if err != nil {
			return writeError(c, "service", err)
		}
		itemsReturned(c, len(page.Tasks))
		return respond(c, http.StatusOK, page)
	}
}

func createTask(tasks domain.TaskService, deduper Deduper) echo.HandlerFunc {
	return func(c echo.Context) error {
		var in domain.NewTask
		if err := decodeBody(c, &in); err != nil {
			return writeError(c, "decode", err)
		}
		ctx := c.Request().Context()
		actor := identityFrom(c)
		key := c.Request().Header.Get(idempotencyHeader)
		if key != "" && deduper != nil {
			added, err := deduper.Add(ctx, actor.ID, key)
			if err != nil {
				return writeError(c, "dedupe", err)
			}
			if !added {
				return writeError(c, "dedupe", errDuplicateRequest)
			}
		}
		t, err := tasks.Create(ctx, in, actor)
		if err != nil {
			if key != "" && deduper != nil {
				if rerr := deduper.Remove(ctx, actor.ID, key); rerr != nil {
					c.Logger().Errorf("release idempotency key: %v", rerr)
				}
			}
			return writeError(c, "service", err)
		}
		return respond(c, http.StatusCreated, t)
	}
}

func getTask(tasks domain.TaskService) echo.HandlerFunc {
	return func(c echo.Context) error {
		t, err := tasks.Get(c.Request().Context(), c.Param("id"))
		if err != nil {
			return writeError(c, "service", err)
		}
		return respond(c, http.StatusOK, t)
	}
}

func updateTask(tasks domain.TaskService) echo.HandlerFunc {
	return func(c echo.Context) error {
		var upd domain.TaskUpdate
		if err := decodeBody(c, &upd); err != nil {
			return writeError(c, "decode", err)
		}
		if upd.Empty() {
			return writeError(c, "decode", &domain.ValidationError{Field: "body", Reason: "no fields to update"})
		}
		t, err := tasks.Update(c.Request().Context(), c.Param("id"), upd, identityFrom(c))
		if err != nil {
			return writeError(c, "service", err)
		}
		return respond(c, http.StatusOK, t)
	}
}

type moveRequest struct {
	ListID   string   `json:"listId"`
	Position *float64 `json:"position,omitempty"`
}

func moveTask(tasks domain.TaskService) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req moveRequest
		if err := decodeBody(c, &req); err != nil {
			return writeError(c, "decode", err)
		}
		t, err := tasks.Move(c.Request().Context(), c.Param("id"), req.ListID, req.Position, identityFrom(c))
		if err != nil {
			return writeError(c, "service", err)
		}
		return respond(c, http.StatusOK, t)
	}
}

func assignTask(tasks domain.TaskService) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req memberRequest
		if err := decodeBody(c, &req); err != nil {
			return writeError(c, "decode", err)
		}
		t, err := tasks.Assign(c.Request().Context(), c.Param("id"), req.UserID, identityFrom(c))
		if err != nil {
			return writeError(c, "service", err)
		}
		return respond(c, http.StatusOK, t)
	}
}

func deleteTask(tasks domain.TaskService) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := tasks.Delete(c.Request().Context(), c.Param("id"), identityFrom(c)); err != nil {
			return writeError(c, "service", err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func taskHistory(tasks domain.TaskService) echo.HandlerFunc {
	return func(c echo.Context) error {
		entries, err := tasks.History(c.Request().Context(), c.Param("id"))
		if err != nil {
			return writeError(c, "service", err)
		}
		itemsReturned(c, len(entries))
		return respond(c, http.StatusOK, entries)
	}
}

func searchTasks(tasks domain.TaskService) echo.HandlerFunc {
	return func(c echo.Context) error {
		found, err := tasks.Search(c.Request().Context(), c.QueryParam("q"))
		if err != nil {
			return writeError(c, "service", err)
		}
		itemsReturned(c, len(found))
		return respond(c, http.StatusOK, found)
	}
}

func completedTasks(tasks domain.TaskService) echo.HandlerFunc {
	return func(c echo.Context) error {
		day := time.Now().UTC()
		if raw := c.QueryParam("date"); raw != "" {
			parsed, err := time.Parse(time.DateOnly, raw)
			if err != nil {
				return writeError(c, "query", &domain.ValidationError{Field: "date", Reason: "must be YYYY-MM-DD"})
			}
			day = parsed
		}
		out, err := tasks.CompletedOn(c.Request().Context(), day)
		if err != nil {
			return writeError(c, "service", err)
		}
		itemsReturned(c, len(out))
		return respond(c, http.StatusOK, out)
	}
}

func listActivity(boards domain.BoardService) echo.HandlerFunc {
	return func(c echo.Context) error {
		page, err := intParam(c, "page")
		if err != nil {
			return writeError(c, "query", err)
		}
		limit, err := intParam(c, "limit")
		if err != nil {
			return writeError(c, "query", err)
		}
		if page == 0 {
			page = 1
		}
		if limit == 0 {
			limit = domain.DefaultActivityPageSize
		}
		if limit > domain.MaxActivityPageSize {
			limit = domain.MaxActivityPageSize
		}
		out, err := boards.Activities(c.Request().Context(), domain.ActivityFilter{
			BoardID: c.QueryParam("boardId"),
			UserID:  c.QueryParam("userId"),
			Offset:  (page - 1) * limit,
			Limit:   limit,
		})
		if err != nil {
			return writeError(c, "service", err)
		}
		itemsReturned(c, len(out))
		return respond(c, http.StatusOK, out)
	}
}

type activityRequest struct {
	BoardID string `json:"boardId"`
	Action  string `json:"action"`
}

func postActivity(boards domain.BoardService) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req activityRequest
		if err := decodeBody(c, &req); err != nil {
			return writeError(c, "decode", err)
		}
		a, err := boards.RecordActivity(c.Request().Context(), req.BoardID, req.Action, identityFrom(c))
		if err != nil {
			return writeError(c, "service", err)
		}
		return respond(c, http.StatusCreated, a)
	}
}
