// internal/handlers/lobby_server.go
package handlers

import (
	"github.com/go-playground/validator/v10"
	"github.com/jason-s-yu/arena/internal/game"
	"github.com/jason-s-yu/arena/internal/hub"
	"github.com/jason-s-yu/arena/internal/lobby"
	"github.com/sirupsen/logrus"
)

const defaultClientBuffer = 32

// LobbyServer bundles what the REST and realtime handlers need.
type LobbyServer struct {
	Registry    *lobby.Registry
	Coordinator *game.Coordinator
	Relay       *game.Relay
	Hub         *hub.Hub

	// Origins are the accepted websocket origin patterns.
	Origins []string
	// ClientBuffer is the outbox capacity given to each realtime connection.
	ClientBuffer int
	// Presence, when set, is told about every realtime connection so users who stay away
	// leave their lobby.
	Presence *lobby.Presence

	validate *validator.Validate
	logger   *logrus.Logger
}

func NewLobbyServer(reg *lobby.Registry, coord *game.Coordinator, relay *game.Relay, h *hub.Hub, logger *logrus.Logger) *LobbyServer {
	return &LobbyServer{
		Registry:     reg,
		Coordinator:  coord,
		Relay:        relay,
		Hub:          h,
		Origins:      []string{"*"},
		ClientBuffer: defaultClientBuffer,
		validate:     validator.New(),
		logger:       logger,
	}
}
