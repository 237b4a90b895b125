package sessions

import (
	"context"
	"log"
	"sync"

	"github.com/gofiber/contrib/websocket"

	domain "github.com/example/agent-chat/domain/chat"
)

// Conn is the subset of the WebSocket connection the hub needs. It is an
// interface so tests can observe delivered frames without a network.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// session is one live channel bound to a user.
type session struct {
	userID   string
	conn     Conn
	timezone string
}

// deliverRequest routes one frame to the owner of a session.
type deliverRequest struct {
	userID string
	frame  domain.Frame
}

// Hub tracks live WebSocket sessions, at most one per user. Registering a new
// session for a user closes and replaces the previous one, so a reconnecting
// client never races its own stale channel.
type Hub struct {
	sessions   map[string]*session
	register   chan *session
	unregister chan *session
	deliver    chan deliverRequest
	done       chan struct{}
	mu         sync.RWMutex
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		sessions:   make(map[string]*session),
		register:   make(chan *session),
		unregister: make(chan *session),
		deliver:    make(chan deliverRequest, 256),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop. All connection writes happen on this
// goroutine.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			log.Println("[sessions] Shutting down...")
			h.closeAll()
			close(h.done)
			return
		case s := <-h.register:
			h.handleRegister(s)
		case s := <-h.unregister:
			h.handleUnregister(s)
		case req := <-h.deliver:
			h.handleDeliver(req)
		}
	}
}

// Wait blocks until the hub has stopped.
func (h *Hub) Wait() {
	<-h.done
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, s := range h.sessions {
		_ = s.conn.Close()
	}
	h.sessions = make(map[string]*session)
}

func (h *Hub) handleRegister(s *session) {
	h.mu.Lock()
	prev := h.sessions[s.userID]
	h.sessions[s.userID] = s
	h.mu.Unlock()

	if prev != nil {
		_ = prev.conn.Close()
		log.Printf("[sessions] Replaced existing session for user %s", s.userID)
	}
	log.Printf("[sessions] User %s connected", s.userID)
}

func (h *Hub) handleUnregister(s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// Only remove the entry if it is still this session; a replacement may
	// already have taken the slot.
	if current, ok := h.sessions[s.userID]; ok && current == s {
		delete(h.sessions, s.userID)
		log.Printf("[sessions] User %s disconnected", s.userID)
	}
}

func (h *Hub) handleDeliver(req deliverRequest) {
	h.mu.RLock()
	s, ok := h.sessions[req.userID]
	h.mu.RUnlock()

	if !ok {
		// User went away between agent work starting and finishing; the
		// reply is already persisted and will arrive with the next history.
		return
	}

	data, err := domain.EncodeFrame(req.frame)
	if err != nil {
		log.Printf("[sessions] Failed to encode frame for %s: %v", req.userID, err)
		return
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Printf("[sessions] Failed to deliver to %s: %v", req.userID, err)
	}
}

// Register binds a connection to a user, replacing any previous session.
// A connection that is also written outside the hub must be wrapped in a
// SafeConn before registering, so the hub's writes and the handler's writes
// share one lock. The returned handle must be released when the channel
// closes.
func (h *Hub) Register(userID, timezone string, conn Conn) *SessionHandle {
	s := &session{userID: userID, conn: conn, timezone: timezone}
	h.register <- s
	return &SessionHandle{hub: h, session: s}
}

// Deliver queues one frame for the user's live session, if any.
func (h *Hub) Deliver(userID string, frame domain.Frame) {
	h.deliver <- deliverRequest{userID: userID, frame: frame}
}

// SessionCount returns the number of live sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// IsConnected reports whether the user currently has a live session.
func (h *Hub) IsConnected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.sessions[userID]
	return ok
}

// SessionHandle identifies one registration for later release.
type SessionHandle struct {
	hub     *Hub
	session *session
}

// Release removes the session from the hub. Safe to call after the session
// was already replaced by a newer one.
func (s *SessionHandle) Release() {
	s.hub.unregister <- s.session
}
