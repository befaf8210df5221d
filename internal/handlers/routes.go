// internal/handlers/routes.go
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jason-s-yu/arena/internal/middleware"
	"github.com/sirupsen/logrus"
)

// Routes builds the HTTP surface of the service.
func Routes(s *LobbyServer, logger *logrus.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.LogMiddleware(logger))

	r.Get("/healthz", Healthz)
	r.Get("/ws", RealtimeHandler(s, logger))

	r.Route("/lobbies", func(r chi.Router) {
		r.Post("/", CreateLobbyHandler(s))
		r.Get("/", ListLobbiesHandler(s))
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", GetLobbyHandler(s))
			r.Delete("/", DeleteLobbyHandler(s))
			r.Post("/join", JoinLobbyHandler(s))
			r.Post("/leave", LeaveLobbyHandler(s))
			r.Put("/settings", UpdateSettingsHandler(s))
			r.Post("/start", StartGameHandler(s))
			r.Post("/kick/{userId}", KickPlayerHandler(s))
		})
	})
	return r
}
