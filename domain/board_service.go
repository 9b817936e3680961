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

// BoardService manages boards, their lists and the activity feed.
type BoardService struct {
	st    Storage
	now   func() time.Time
	newID func() string
}

func NewBoardService(st Storage) BoardService {
	return BoardService{
		st:    st,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
}

// CreateBoard creates a board owned by actor together with the default
// lists.
func (s BoardService) CreateBoard(ctx context.Context, title string, color ColorTag, actor Identity) (*Board, []List, error) {
	if strings.TrimSpace(title) == "" {
		return nil, nil, invalid(FieldTitle, "must not be empty")
	}
	if color == "" {
		color = ColorBlue
	}
	if !color.Valid() {
		return nil, nil, invalid("color", fmt.Sprintf("unknown color %q", color))
	}
	ts := s.now()
	board := Board{
		ID:        s.newID(),
		Title:     title,
		Color:     color,
		Members:   []string{actor.ID},
		CreatedAt: ts,
	}
	lists := make([]List, len(DefaultListTitles))
	for i, t := range DefaultListTitles {
		lists[i] = List{ID: s.newID(), BoardID: board.ID, Title: t, Position: i}
	}
	if err := s.st.CreateBoard(ctx, board, lists); err != nil {
		return nil, nil, err
	}
	if _, err := s.RecordActivity(ctx, board.ID, fmt.Sprintf("created board \"%s\"", title), actor); err != nil {
		log.WithError(err).WithField("board", board.ID).Error("failed to append activity")
	}
	return &board, lists, nil
}

// Boards returns the boards memberID belongs to, oldest first.
func (s BoardService) Boards(ctx context.Context, memberID string) ([]Board, error) {
	boards, err := s.st.ListBoards(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if boards == nil {
		boards = []Board{}
	}
	sort.SliceStable(boards, func(i, j int) bool { return boards[i].CreatedAt.Before(boards[j].CreatedAt) })
	return boards, nil
}

func (s BoardService) Board(ctx context.Context, id string) (*Board, error) {
	b, err := s.st.GetBoard(ctx, id)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, notFound("board", id)
	}
	return b, nil
}

// AddMember adds userID to the board's members.
func (s BoardService) AddMember(ctx context.Context, boardID, userID string) (*Board, error) {
	if userID == "" {
		return nil, invalid("userId", "must not be empty")
	}
	b, err := s.Board(ctx, boardID)
	if err != nil {
		return nil, err
	}
	if b.HasMember(userID) {
		return nil, invalid("userId", "already a member")
	}
	b.Members = append(b.Members, userID)
	if err := s.st.SaveBoard(ctx, *b); err != nil {
		return nil, err
	}
	return b, nil
}

// Lists returns the lists of a board ordered by position.
func (s BoardService) Lists(ctx context.Context, boardID string) ([]List, error) {
	lists, err := s.st.ListLists(ctx, boardID)
	if err != nil {
		return nil, err
	}
	if lists == nil {
		lists = []List{}
	}
	sort.SliceStable(lists, func(i, j int) bool { return lists[i].Position < lists[j].Position })
	return lists, nil
}

// CreateList appends a list at the end of a board.
func (s BoardService) CreateList(ctx context.Context, boardID, title string) (*List, error) {
	if strings.TrimSpace(title) == "" {
		return nil, invalid(FieldTitle, "must not be empty")
	}
	if _, err := s.Board(ctx, boardID); err != nil {
		return nil, err
	}
	existing, err := s.st.ListLists(ctx, boardID)
	if err != nil {
		return nil, err
	}
	l := List{ID: s.newID(), BoardID: boardID, Title: title, Position: len(existing)}
	if err := s.st.SaveList(ctx, l); err != nil {
		return nil, err
	}
	return &l, nil
}

// Activities returns a page of the activity feed, newest first.
func (s BoardService) Activities(ctx context.Context, f ActivityFilter) ([]Activity, error) {
	if f.Limit < 1 {
		f.Limit = DefaultActivityPageSize
	}
	if f.Limit > MaxActivityPageSize {
		f.Limit = MaxActivityPageSize
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	out, err := s.st.ListActivities(ctx, f)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []Activity{}
	}
	return out, nil
}

// RecordActivity appends a free-form activity to a board's feed.
func (s BoardService) RecordActivity(ctx context.Context, boardID, action string, actor Identity) (*Activity, error) {
	if boardID == "" {
		return nil, invalid("boardId", "must not be empty")
	}
	if strings.TrimSpace(action) == "" {
		return nil, invalid("action", "must not be empty")
	}
	a := Activity{
		ID:        s.newID(),
		BoardID:   boardID,
		UserID:    actor.ID,
		UserName:  actor.DisplayName(),
		Action:    action,
		CreatedAt: s.now(),
	}
	if err := s.st.AppendActivity(ctx, a); err != nil {
		return nil, err
	}
	return &a, nil
}
