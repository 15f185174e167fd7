package ws

import (
	"sync"

	"github.com/gorilla/websocket"

	"casechat/internal/domain"
)

// Hub manages active WebSocket connections keyed by user ID and provides
// helper methods to push events to one or more users. Every write goes
// through a per-connection mutex: pub/sub goroutines and the read loop can
// all target the same connection, and gorilla/websocket allows only one
// concurrent writer.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]map[*websocket.Conn]*sync.Mutex
}

func NewHub() *Hub {
	return &Hub{
		conns: make(map[string]map[*websocket.Conn]*sync.Mutex),
	}
}

// Register adds a connection for the given user.
func (h *Hub) Register(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.conns[userID] == nil {
		h.conns[userID] = make(map[*websocket.Conn]*sync.Mutex)
	}
	h.conns[userID][conn] = &sync.Mutex{}
}

// Unregister removes a connection for the given user.
func (h *Hub) Unregister(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.conns[userID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.conns, userID)
		}
	}
}

// SendToUsers pushes the payload to every active connection of the given
// users. Failed connections are closed; removal happens on the next
// register/unregister.
func (h *Hub) SendToUsers(userIDs []string, payload any) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, uid := range userIDs {
		conns, ok := h.conns[uid]
		if !ok {
			continue
		}
		for conn, wmu := range conns {
			writeConn(conn, wmu, payload)
		}
	}
}

// Send pushes the payload to one specific registered connection of the user.
func (h *Hub) Send(userID string, conn *websocket.Conn, payload any) {
	h.mu.RLock()
	wmu := h.conns[userID][conn]
	h.mu.RUnlock()
	if wmu == nil {
		return
	}
	writeConn(conn, wmu, payload)
}

// SendToParticipants pushes the payload to both members of a room's pair.
func (h *Hub) SendToParticipants(p domain.Participants, payload any) {
	ids := make([]string, 0, 2)
	if p.ClientID != "" {
		ids = append(ids, p.ClientID)
	}
	if p.AgentID != "" {
		ids = append(ids, p.AgentID)
	}
	h.SendToUsers(ids, payload)
}

func writeConn(conn *websocket.Conn, wmu *sync.Mutex, payload any) {
	wmu.Lock()
	defer wmu.Unlock()
	if err := conn.WriteJSON(payload); err != nil {
		conn.Close()
	}
}
