package httpserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"casechat/internal/chat"
	"casechat/internal/config"
	"casechat/internal/identity"
	"casechat/internal/presence"
	"casechat/internal/ws"
)

// NewRouter constructs the main HTTP router and wires routes, services, and
// middleware.
func NewRouter(
	cfg *config.Config,
	svc *chat.Service,
	signaler *presence.Signaler,
	ids *identity.Provider,
	hub *ws.Hub,
) http.Handler {
	r := chi.NewRouter()

	// Middlewares
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"message":"CaseChat Messaging API","version":"1.0.0"}`))
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(ids))

			r.Route("/cases/{caseID}/chat", func(r chi.Router) {
				r.Get("/", handleLoadChat(svc))
				r.Get("/older", handleLoadOlderChat(svc))
				r.Post("/", handleSendMessage(svc))
				r.Post("/init", handleInitRoom(svc))
			})

			r.Route("/rooms/{roomID}", func(r chi.Router) {
				r.Post("/read", handleMarkRoomRead(svc))
				r.Post("/cases", handleAddCase(svc))
				r.Get("/typing", handleTypingUsers(signaler))
			})

			r.Route("/conversations", func(r chi.Router) {
				r.Get("/", handleListConversations(svc))
				r.Get("/unread-total", handleUnreadTotal(svc))
			})

			r.Get("/users/{userID}/presence", handleUserPresence(signaler))
		})
	})

	// WebSocket endpoint
	r.Get("/ws", ws.MakeHandler(hub, ids, svc, signaler, cfg.CORSOrigins))

	return r
}

// writeJSON is a small helper to send JSON responses.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}
