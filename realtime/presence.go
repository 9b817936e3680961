package realtime

import (
	"sync"

	"github.com/Asarafhack/taskflow-realtime/domain"
)

// Presence tracks which identities are viewing each board. A board holds
// at most one entry per identity, ordered by first join.
type Presence struct {
	mu     sync.Mutex
	boards map[string][]*presenceSlot
	hub    *Hub
}

// presenceSlot is one identity's roster entry plus every connection that
// currently holds it, oldest first. The entry shows the newest connection.
type presenceSlot struct {
	entry PresenceEntry
	conns []string
}

func NewPresence(hub *Hub) *Presence {
	return &Presence{boards: make(map[string][]*presenceSlot), hub: hub}
}

// Join registers the identity on the board under connID and broadcasts the
// full roster to every subscriber of the board, the joiner included. A
// rejoin from another connection shares the existing entry.
func (p *Presence) Join(boardID string, id domain.Identity, connID string) []PresenceEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	roster := p.boards[boardID]
	var slot *presenceSlot
	for _, s := range roster {
		if s.entry.UserID == id.ID {
			slot = s
			break
		}
	}
	if slot == nil {
		slot = &presenceSlot{entry: PresenceEntry{UserID: id.ID}}
		roster = append(roster, slot)
		p.boards[boardID] = roster
	}
	slot.entry.UserName = id.DisplayName()
	slot.entry.ConnectionID = connID
	slot.conns = append(dropConn(slot.conns, connID), connID)
	snapshot := copyRoster(roster)
	p.hub.Publish(boardID, EventPresence, snapshot, "")
	return snapshot
}

// Leave releases connID on every board and broadcasts a fresh roster to
// each affected board. It returns the affected boards.
func (p *Presence) Leave(connID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var affected []string
	for boardID := range p.boards {
		if p.removeLocked(boardID, connID) {
			affected = append(affected, boardID)
		}
	}
	return affected
}

// LeaveBoard releases connID on a single board. The identity stays on the
// roster while another of its connections is still joined.
func (p *Presence) LeaveBoard(boardID, connID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.removeLocked(boardID, connID)
}

func (p *Presence) removeLocked(boardID, connID string) bool {
	roster := p.boards[boardID]
	changed := false
	kept := roster[:0]
	for _, s := range roster {
		if n := len(s.conns); n > 0 {
			s.conns = dropConn(s.conns, connID)
			if len(s.conns) != n {
				changed = true
				if len(s.conns) == 0 {
					continue
				}
				s.entry.ConnectionID = s.conns[len(s.conns)-1]
			}
		}
		kept = append(kept, s)
	}
	if !changed {
		return false
	}
	if len(kept) == 0 {
		delete(p.boards, boardID)
	} else {
		p.boards[boardID] = kept
	}
	p.hub.Publish(boardID, EventPresence, copyRoster(kept), "")
	return true
}

func dropConn(conns []string, connID string) []string {
	for i, c := range conns {
		if c == connID {
			return append(conns[:i:i], conns[i+1:]...)
		}
	}
	return conns
}

// Roster returns the current roster of a board.
func (p *Presence) Roster(boardID string) []PresenceEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return copyRoster(p.boards[boardID])
}

func copyRoster(r []*presenceSlot) []PresenceEntry {
	out := make([]PresenceEntry, len(r))
	for i, s := range r {
		out[i] = s.entry
	}
	return out
}
