package httpserver

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"casechat/internal/chat"
	"casechat/internal/domain"
)

// handleLoadChat resolves the case's room and returns the initial message
// window. An unresolvable case yields room_id "" with an empty window, which
// the client renders as "no conversation yet".
func handleLoadChat(svc *chat.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := CurrentUser(r)
		if user == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		caseID := chi.URLParam(r, "caseID")
		clientID := r.URL.Query().Get("client_id")
		agentID := r.URL.Query().Get("agent_id")

		session := svc.NewSession()
		window := session.LoadChatMessages(r.Context(), caseID, clientID, agentID)
		writeJSON(w, http.StatusOK, window)
	}
}

func handleLoadOlderChat(svc *chat.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := CurrentUser(r)
		if user == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		caseID := chi.URLParam(r, "caseID")
		before, err := strconv.ParseInt(r.URL.Query().Get("before"), 10, 64)
		if err != nil || before <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "before must be a positive timestamp"})
			return
		}

		roomID, rerr := svc.Resolver.ResolveRoomForCase(r.Context(), caseID,
			r.URL.Query().Get("client_id"), r.URL.Query().Get("agent_id"))
		if rerr != nil {
			writeJSON(w, http.StatusOK, map[string]any{"messages": []*domain.Message{}, "has_more": false})
			return
		}

		window := svc.Log.LoadOlder(r.Context(), roomID, before, svc.OlderPageSize)
		writeJSON(w, http.StatusOK, map[string]any{
			"messages": window.Messages,
			"has_more": window.HasMore,
		})
	}
}

type sendMessageRequest struct {
	Content     string              `json:"content"`
	Attachments []domain.Attachment `json:"attachments,omitempty"`
	ClientID    string              `json:"client_id,omitempty"`
	AgentID     string              `json:"agent_id,omitempty"`
}

// handleSendMessage authors a message into the case conversation. Failures
// come back as success=false, never as an error status: an unresolvable room
// or unreachable store is a neutral "can't send right now" condition.
func handleSendMessage(svc *chat.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := CurrentUser(r)
		if user == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		var req sendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}

		roomID, msg, ok := svc.Send(r.Context(), chat.SendInput{
			CaseID:      chi.URLParam(r, "caseID"),
			SenderID:    user.ID,
			SenderName:  user.Name,
			SenderRole:  user.Role,
			Content:     req.Content,
			Attachments: req.Attachments,
			ClientID:    req.ClientID,
			AgentID:     req.AgentID,
		})
		writeJSON(w, http.StatusOK, map[string]any{
			"success": ok,
			"room_id": roomID,
			"message": msg,
		})
	}
}

func handleMarkRoomRead(svc *chat.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := CurrentUser(r)
		if user == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		roomID := chi.URLParam(r, "roomID")
		if err := svc.Reads.MarkRoomRead(r.Context(), roomID, user.ID); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
	}
}

type initRoomRequest struct {
	CaseReference string              `json:"case_reference,omitempty"`
	Participants  domain.Participants `json:"participants"`
}

// handleInitRoom seeds the paired room for a case during case-assignment
// initialization.
func handleInitRoom(svc *chat.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := CurrentUser(r)
		if user == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		var req initRoomRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}
		roomID, err := svc.Resolver.InitializeRoomForCase(r.Context(),
			chi.URLParam(r, "caseID"), req.CaseReference, req.Participants)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"room_id": roomID})
	}
}

type addCaseRequest struct {
	CaseID        string `json:"case_id"`
	CaseReference string `json:"case_reference,omitempty"`
}

// handleAddCase records a case reassignment onto an existing room.
func handleAddCase(svc *chat.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := CurrentUser(r)
		if user == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		var req addCaseRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CaseID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "case_id is required"})
			return
		}
		if err := svc.Resolver.AddCaseToRoom(r.Context(), chi.URLParam(r, "roomID"), req.CaseID, req.CaseReference); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
	}
}
