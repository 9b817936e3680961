package realtime

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// Subscriber receives encoded frames for the boards it subscribed to.
// Deliver must not block; it reports whether the frame was accepted.
type Subscriber interface {
	ID() string
	Deliver(frame []byte) bool
}

// Relay forwards frames published on this instance to other instances.
type Relay interface {
	Relay(boardID string, frame []byte, exclude string)
}

// Hub is an in-process publish/subscribe fan-out keyed by board. Delivery
// happens under the hub lock, so every subscriber sees the frames of one
// board in publish order.
type Hub struct {
	mu     sync.Mutex
	topics map[string]map[string]Subscriber
	relay  Relay
	logger *log.Logger
}

func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Hub{topics: make(map[string]map[string]Subscriber), logger: logger}
}

func (h *Hub) setRelay(r Relay) {
	h.mu.Lock()
	h.relay = r
	h.mu.Unlock()
}

// Subscribe adds s to the board's topic. Subscribing twice is a no-op.
func (h *Hub) Subscribe(boardID string, s Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.topics[boardID]
	if !ok {
		subs = make(map[string]Subscriber)
		h.topics[boardID] = subs
	}
	subs[s.ID()] = s
}

func (h *Hub) Unsubscribe(boardID, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.topics[boardID]
	if !ok {
		return
	}
	delete(subs, connID)
	if len(subs) == 0 {
		delete(h.topics, boardID)
	}
}

// Subscribers returns the number of local subscribers of a board.
func (h *Hub) Subscribers(boardID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics[boardID])
}

// Publish delivers an event to every subscriber of the board except
// exclude and returns how many accepted it. Delivery is best effort and
// never fails the caller. Everything except presence is also handed to
// the relay when one is configured.
func (h *Hub) Publish(boardID, kind string, payload any, exclude string) int {
	frame, err := encodeFrame(kind, boardID, payload)
	if err != nil {
		h.logger.WithError(err).WithFields(log.Fields{"board": boardID, "kind": kind}).Error("failed to encode frame")
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	n := h.deliverLocked(boardID, frame, exclude)
	if h.relay != nil && kind != EventPresence {
		h.relay.Relay(boardID, frame, exclude)
	}
	return n
}

// PublishTo delivers an event to a single subscriber of the board.
func (h *Hub) PublishTo(boardID, connID, kind string, payload any) bool {
	frame, err := encodeFrame(kind, boardID, payload)
	if err != nil {
		h.logger.WithError(err).WithFields(log.Fields{"board": boardID, "kind": kind}).Error("failed to encode frame")
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.topics[boardID][connID]
	if !ok {
		return false
	}
	return s.Deliver(frame)
}

// deliver hands an already encoded frame to local subscribers only.
func (h *Hub) deliver(boardID string, frame []byte, exclude string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.deliverLocked(boardID, frame, exclude)
}

func (h *Hub) deliverLocked(boardID string, frame []byte, exclude string) int {
	n := 0
	for id, s := range h.topics[boardID] {
		if id == exclude {
			continue
		}
		if s.Deliver(frame) {
			n++
			continue
		}
		h.logger.WithFields(log.Fields{"board": boardID, "conn": id}).Debug("subscriber buffer full, frame dropped")
	}
	return n
}
