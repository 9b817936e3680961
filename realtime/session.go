package realtime

import (
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/Asarafhack/taskflow-realtime/domain"
)

// Session is the server side of one realtime connection. It tracks the
// boards the connection joined and routes inbound signals to presence,
// locks and the hub.
type Session struct {
	id       string
	identity domain.Identity
	reg      *SessionRegistry
	send     chan []byte
	done     chan struct{}

	mu     sync.Mutex
	closed bool
	boards map[string]struct{}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Identity() domain.Identity { return s.identity }

// Outbound yields frames to write to the connection. It is never closed;
// use Done to learn that the session ended.
func (s *Session) Outbound() <-chan []byte { return s.send }

// Done is closed once the session is closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Deliver queues a frame without blocking. A full buffer or a closed
// session drops the frame.
func (s *Session) Deliver(frame []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- frame:
		return true
	default:
		return false
	}
}

// Boards returns the boards the session currently joined.
func (s *Session) Boards() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.boards))
	for b := range s.boards {
		out = append(out, b)
	}
	sort.Strings(out)
	return out
}

// Handle processes one inbound frame. Malformed frames, unknown signal
// types and signals for boards the session has not joined are ignored.
func (s *Session) Handle(raw []byte) {
	sig, err := decodeSignal(raw)
	if err != nil {
		s.logger().WithError(err).Debug("ignoring malformed frame")
		return
	}
	if sig.BoardID == "" {
		s.logger().WithField("type", sig.Type).Debug("ignoring signal without board")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	switch sig.Type {
	case SignalJoinBoard:
		s.joinLocked(sig.BoardID)
	case SignalLeaveBoard:
		s.leaveLocked(sig.BoardID)
	case SignalTaskChange:
		if s.joinedLocked(sig.BoardID) {
			s.reg.hub.Publish(sig.BoardID, EventRefresh, RefreshPayload{Action: sig.Action}, s.id)
		}
	case SignalTaskLock:
		if s.joinedLocked(sig.BoardID) && sig.TaskID != "" {
			s.reg.locks.Lock(sig.BoardID, sig.TaskID, s.identity, s.id)
		}
	case SignalTaskUnlock:
		if s.joinedLocked(sig.BoardID) && sig.TaskID != "" {
			s.reg.locks.Unlock(sig.BoardID, sig.TaskID, s.id)
		}
	default:
		s.logger().WithField("type", sig.Type).Debug("ignoring unknown signal")
		return
	}
	s.logger().WithFields(log.Fields{"type": sig.Type, "board": sig.BoardID}).Debug("handled signal")
}

func (s *Session) joinedLocked(boardID string) bool {
	_, ok := s.boards[boardID]
	return ok
}

func (s *Session) joinLocked(boardID string) {
	if !s.joinedLocked(boardID) {
		s.boards[boardID] = struct{}{}
		s.reg.hub.Subscribe(boardID, s)
	}
	s.reg.presence.Join(boardID, s.identity, s.id)
	for _, l := range s.reg.locks.Held(boardID) {
		s.reg.hub.PublishTo(boardID, s.id, EventLocked, l)
	}
}

func (s *Session) leaveLocked(boardID string) {
	if !s.joinedLocked(boardID) {
		return
	}
	delete(s.boards, boardID)
	s.reg.hub.Unsubscribe(boardID, s.id)
	s.reg.presence.LeaveBoard(boardID, s.id)
	s.reg.locks.ReleaseBoard(boardID, s.id)
}

// Close leaves every board, releases the session's locks and unregisters
// it. It is safe to call more than once and on sessions that never
// joined a board.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for boardID := range s.boards {
		s.reg.hub.Unsubscribe(boardID, s.id)
	}
	s.boards = map[string]struct{}{}
	close(s.done)
	s.reg.presence.Leave(s.id)
	s.reg.locks.ReleaseConnection(s.id)
	s.mu.Unlock()
	s.reg.remove(s.id)
	s.logger().Debug("session closed")
}

func (s *Session) logger() *log.Entry {
	return s.reg.logger.WithFields(log.Fields{"conn": s.id, "user": s.identity.ID})
}
