package ws

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"casechat/internal/chat"
	"casechat/internal/domain"
	"casechat/internal/identity"
	"casechat/internal/presence"
)

type wsAuthError struct {
	status int
	msg    string
}

func (e wsAuthError) Error() string {
	return e.msg
}

func normalizeAllowedOrigins(origins []string) map[string]struct{} {
	res := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		o := strings.TrimSpace(strings.ToLower(origin))
		if o != "" {
			res[o] = struct{}{}
		}
	}
	return res
}

func makeCheckOrigin(allowedOrigins []string) func(r *http.Request) bool {
	allowed := normalizeAllowedOrigins(allowedOrigins)
	if len(allowed) == 0 {
		return func(r *http.Request) bool {
			return false
		}
	}

	return func(r *http.Request) bool {
		origin := strings.TrimSpace(strings.ToLower(r.Header.Get("Origin")))
		if origin == "" {
			return false
		}
		if _, ok := allowed[origin]; ok {
			return true
		}

		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return false
		}
		normalized := strings.ToLower(fmt.Sprintf("%s://%s", u.Scheme, u.Host))
		_, ok := allowed[normalized]
		return ok
	}
}

func extractTokenFromWSRequest(r *http.Request) (string, error) {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		token := strings.TrimSpace(authHeader[len("Bearer "):])
		if token != "" {
			return token, nil
		}
	}

	protocolHeader := r.Header.Get("Sec-WebSocket-Protocol")
	if protocolHeader != "" {
		parts := strings.Split(protocolHeader, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if len(parts) >= 2 && strings.EqualFold(parts[0], "bearer") {
			token := parts[1]
			if token != "" {
				return token, nil
			}
		}
	}

	return "", wsAuthError{status: http.StatusUnauthorized, msg: "missing bearer token"}
}

// MakeHandler returns the HTTP handler for the /ws endpoint. Each connection
// gets its own chat session (one active room subscription at a time) and
// dispatches events:
//   - subscribe            -> attach the session's live listener to a room
//   - message              -> optimistic send into a case conversation
//   - mark_read            -> flip read receipts + notify the other participant
//   - typing               -> raise/clear the typing flag, forward to the peer
//   - watch_conversations  -> push recomputed conversation lists on change
func MakeHandler(
	hub *Hub,
	ids *identity.Provider,
	svc *chat.Service,
	signaler *presence.Signaler,
	allowedOrigins []string,
) http.HandlerFunc {
	checkOrigin := makeCheckOrigin(allowedOrigins)
	upgrader := websocket.Upgrader{
		CheckOrigin: checkOrigin,
		Subprotocols: []string{
			"bearer",
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if !checkOrigin(r) {
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}

		tokenStr, err := extractTokenFromWSRequest(r)
		if err != nil {
			if authErr, ok := err.(wsAuthError); ok {
				http.Error(w, authErr.msg, authErr.status)
				return
			}
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		user, err := ids.FromToken(tokenStr)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ctx := r.Context()
		hub.Register(user.ID, conn)
		if err := signaler.Start(ctx, user.ID); err != nil {
			log.Printf("ws: presence start for %s: %v", user.ID, err)
		}

		session := svc.NewSession()
		var unwatchConvs func()
		defer func() {
			session.Stop()
			if unwatchConvs != nil {
				unwatchConvs()
			}
			hub.Unregister(user.ID, conn)
			signaler.Stop(ctx, user.ID)
		}()

		for {
			var payload map[string]any
			if err := conn.ReadJSON(&payload); err != nil {
				break
			}
			eventType, _ := payload["type"].(string)
			switch eventType {

			// ── attach live listener ─────────────────────────────────────────
			case "subscribe":
				roomID, _ := payload["room_id"].(string)
				since, _ := payload["since"].(float64)
				if roomID == "" {
					sendError(hub, user.ID, conn, "subscribe requires room_id")
					continue
				}
				_, err := session.SubscribeToChatMessages(ctx, roomID, func(m *domain.Message) {
					hub.SendToUsers([]string{user.ID}, map[string]any{
						"type":    "message",
						"room_id": roomID,
						"message": m,
					})
				}, int64(since))
				if err != nil {
					log.Printf("ws: subscribe room %s: %v", roomID, err)
					sendError(hub, user.ID, conn, "failed to subscribe")
				}

			// ── send message ─────────────────────────────────────────────────
			case "message":
				caseID, _ := payload["case_id"].(string)
				content, _ := payload["content"].(string)
				clientID, _ := payload["client_id"].(string)
				agentID, _ := payload["agent_id"].(string)
				if caseID == "" || content == "" {
					sendError(hub, user.ID, conn, "message requires case_id and non-empty content")
					continue
				}
				ok := session.SendChatMessage(ctx, chat.SendInput{
					CaseID:     caseID,
					SenderID:   user.ID,
					SenderName: user.Name,
					SenderRole: user.Role,
					Content:    content,
					ClientID:   clientID,
					AgentID:    agentID,
				})
				if !ok {
					sendError(hub, user.ID, conn, "failed to send message")
				}

			// ── mark read ────────────────────────────────────────────────────
			case "mark_read":
				roomID, _ := payload["room_id"].(string)
				if roomID == "" {
					continue
				}
				if err := session.MarkChatAsRead(ctx, roomID, user.ID); err != nil {
					log.Printf("ws: mark_read room %s: %v", roomID, err)
					sendError(hub, user.ID, conn, "failed to mark messages as read")
					continue
				}
				notifyParticipants(ctx, hub, svc, roomID, map[string]any{
					"type":    "messages_read",
					"room_id": roomID,
					"user_id": user.ID,
				})

			// ── typing indicator ─────────────────────────────────────────────
			case "typing":
				roomID, _ := payload["room_id"].(string)
				typing, _ := payload["typing"].(bool)
				if roomID == "" {
					continue
				}
				if err := signaler.SetTyping(ctx, roomID, user.ID, typing); err != nil {
					log.Printf("ws: typing in room %s: %v", roomID, err)
					continue
				}
				notifyParticipants(ctx, hub, svc, roomID, map[string]any{
					"type":    "typing",
					"room_id": roomID,
					"user_id": user.ID,
					"typing":  typing,
				})

			// ── conversation list push ───────────────────────────────────────
			case "watch_conversations":
				if unwatchConvs != nil {
					continue
				}
				unwatch, err := svc.Conversations.SubscribeForUser(ctx, user.ID, func(convs []*domain.Conversation) {
					hub.SendToUsers([]string{user.ID}, map[string]any{
						"type":          "conversations",
						"conversations": convs,
					})
				})
				if err != nil {
					log.Printf("ws: watch conversations for %s: %v", user.ID, err)
					sendError(hub, user.ID, conn, "failed to watch conversations")
					continue
				}
				unwatchConvs = unwatch

			default:
				log.Printf("ws: unknown event type %q from user %s", eventType, user.ID)
			}
		}
	}
}

// notifyParticipants pushes an event to both members of the room's pair,
// best-effort. Legacy rooms without metadata have no pair to notify.
func notifyParticipants(ctx context.Context, hub *Hub, svc *chat.Service, roomID string, payload any) {
	p, ok := svc.RoomParticipants(ctx, roomID)
	if !ok {
		return
	}
	hub.SendToParticipants(p, payload)
}

// sendError goes through the hub so the read loop shares the connection's
// write lock with the pub/sub goroutines.
func sendError(hub *Hub, userID string, conn *websocket.Conn, msg string) {
	hub.Send(userID, conn, map[string]any{
		"type":    "error",
		"message": msg,
	})
}
