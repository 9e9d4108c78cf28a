// Package server is a reference chat server speaking the REST and
// WebSocket surface the client packages consume. It backs the demo CLI
// and the integration tests.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"chatcore/internal/security"
)

// Deps bundles everything the router needs.
type Deps struct {
	Auth   *AuthService
	Chats  *ChatService
	Tokens *security.TokenService
	Hub    *Hub
	CORS   []string
}

// NewRouter wires the full HTTP surface.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	origins := d.CORS
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000", "http://localhost:5173"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Post("/auth/register", RegisterHandler(d.Auth))
	r.Post("/auth/login", LoginHandler(d.Auth))
	r.Post("/auth/refresh", RefreshHandler(d.Auth))

	r.Group(func(r chi.Router) {
		r.Use(RequireAuth(d.Tokens))

		r.Post("/auth/logout", LogoutHandler(d.Auth))

		r.Post("/chats", CreateChatHandler(d.Chats))
		r.Get("/chats", ListChatsHandler(d.Chats))
		r.Get("/chats/{chatID}/messages", ListMessagesHandler(d.Chats))
		r.Post("/chats/{chatID}/read", MarkReadHandler(d.Chats))

		r.Put("/messages/{messageID}", EditMessageHandler(d.Chats))
		r.Delete("/messages/{messageID}", DeleteMessageHandler(d.Chats))

		r.Get("/users/{userID}", GetUserHandler(d.Chats))
	})

	// Auth for the socket happens in-band via the first frame.
	r.Get("/ws/chats/{chatID}", ChatSocketHandler(d.Hub, d.Tokens, d.Chats))

	return r
}
