package realtime

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/Asarafhack/taskflow-realtime/domain"
)

// ErrRegistryClosed is returned by Open after Close.
var ErrRegistryClosed = errors.New("session registry closed")

const defaultSendBuffer = 64

// SessionRegistry owns the realtime state of one process: the hub, the
// presence rosters, the soft locks and the open sessions.
type SessionRegistry struct {
	hub        *Hub
	presence   *Presence
	locks      *Locks
	logger     *log.Logger
	sendBuffer int

	mu       sync.Mutex
	closed   bool
	sessions map[string]*Session
}

func NewSessionRegistry(logger *log.Logger, sendBuffer int) *SessionRegistry {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	hub := NewHub(logger)
	return &SessionRegistry{
		hub:        hub,
		presence:   NewPresence(hub),
		locks:      NewLocks(hub),
		logger:     logger,
		sendBuffer: sendBuffer,
		sessions:   make(map[string]*Session),
	}
}

func (r *SessionRegistry) Hub() *Hub { return r.hub }

func (r *SessionRegistry) Presence() *Presence { return r.presence }

func (r *SessionRegistry) Locks() *Locks { return r.locks }

// UseRelay forwards non-presence events to other instances through rel.
func (r *SessionRegistry) UseRelay(rel Relay) { r.hub.setRelay(rel) }

// Open starts a session for an authenticated identity.
func (r *SessionRegistry) Open(id domain.Identity) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRegistryClosed
	}
	s := &Session{
		id:       uuid.NewString(),
		identity: id,
		reg:      r,
		send:     make(chan []byte, r.sendBuffer),
		done:     make(chan struct{}),
		boards:   make(map[string]struct{}),
	}
	r.sessions[s.id] = s
	r.logger.WithFields(log.Fields{"conn": s.id, "user": id.ID}).Debug("session opened")
	return s, nil
}

// Len returns the number of open sessions.
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *SessionRegistry) remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// Close closes every open session and rejects new ones.
func (r *SessionRegistry) Close() {
	r.mu.Lock()
	r.closed = true
	open := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		open = append(open, s)
	}
	r.mu.Unlock()
	for _, s := range open {
		s.Close()
	}
}
