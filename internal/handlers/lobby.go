// internal/handlers/lobby.go
package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/jason-s-yu/arena/internal/lobby"
	"github.com/jason-s-yu/arena/internal/models"
)

type createLobbyRequest struct {
	LobbyName string `json:"lobbyName" validate:"max=100"`
	Password  string `json:"password" validate:"max=128"`
	IsPrivate bool   `json:"isPrivate"`
}

type joinLobbyRequest struct {
	Password string `json:"password" validate:"max=128"`
}

type settingsRequest struct {
	DeckID      *int64 `json:"deckId" validate:"omitempty,gt=0"`
	CharacterID *int64 `json:"characterId" validate:"omitempty,gt=0"`
	MapID       *int64 `json:"mapId" validate:"omitempty,gt=0"`
	Ready       *bool  `json:"ready"`
}

func (r settingsRequest) empty() bool {
	return r.DeckID == nil && r.CharacterID == nil && r.MapID == nil && r.Ready == nil
}

// authed resolves the caller before handing the request on.
func (s *LobbyServer) authed(h func(w http.ResponseWriter, r *http.Request, userID int64)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := callerID(r)
		if err != nil {
			writeError(w, s.logger, err)
			return
		}
		h(w, r, userID)
	}
}

// CreateLobbyHandler creates a lobby hosted by the caller.
func CreateLobbyHandler(s *LobbyServer) http.HandlerFunc {
	return s.authed(func(w http.ResponseWriter, r *http.Request, userID int64) {
		var req createLobbyRequest
		if err := s.decode(r, &req, true); err != nil {
			writeError(w, s.logger, err)
			return
		}
		view, err := s.Registry.CreateLobby(r.Context(), lobby.CreateParams{
			HostID:    userID,
			Name:      req.LobbyName,
			Password:  req.Password,
			IsPrivate: req.IsPrivate,
		})
		if err != nil {
			writeError(w, s.logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, view)
	})
}

// ListLobbiesHandler returns every live lobby ordered by id.
func ListLobbiesHandler(s *LobbyServer) http.HandlerFunc {
	return s.authed(func(w http.ResponseWriter, r *http.Request, _ int64) {
		writeJSON(w, http.StatusOK, s.Registry.ListLobbies())
	})
}

func GetLobbyHandler(s *LobbyServer) http.HandlerFunc {
	return s.authed(func(w http.ResponseWriter, r *http.Request, _ int64) {
		id, err := lobbyIDParam(r)
		if err != nil {
			writeError(w, s.logger, err)
			return
		}
		view, err := s.Registry.GetLobby(id)
		if err != nil {
			writeError(w, s.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	})
}

// JoinLobbyHandler seats the caller as player2.
func JoinLobbyHandler(s *LobbyServer) http.HandlerFunc {
	return s.authed(func(w http.ResponseWriter, r *http.Request, userID int64) {
		id, err := lobbyIDParam(r)
		if err != nil {
			writeError(w, s.logger, err)
			return
		}
		var req joinLobbyRequest
		if err := s.decode(r, &req, true); err != nil {
			writeError(w, s.logger, err)
			return
		}
		view, err := s.Registry.JoinLobby(r.Context(), id, userID, req.Password)
		if err != nil {
			writeError(w, s.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	})
}

// LeaveLobbyHandler answers 204 when the caller's departure closed the lobby.
func LeaveLobbyHandler(s *LobbyServer) http.HandlerFunc {
	return s.authed(func(w http.ResponseWriter, r *http.Request, userID int64) {
		id, err := lobbyIDParam(r)
		if err != nil {
			writeError(w, s.logger, err)
			return
		}
		view, err := s.Registry.LeaveLobby(r.Context(), id, userID)
		if err != nil {
			writeError(w, s.logger, err)
			return
		}
		if view == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusOK, view)
	})
}

func DeleteLobbyHandler(s *LobbyServer) http.HandlerFunc {
	return s.authed(func(w http.ResponseWriter, r *http.Request, userID int64) {
		id, err := lobbyIDParam(r)
		if err != nil {
			writeError(w, s.logger, err)
			return
		}
		if err := s.Registry.CloseLobby(r.Context(), id, userID); err != nil {
			writeError(w, s.logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

// UpdateSettingsHandler changes the caller's loadout and, for the host, the map, as one update.
func UpdateSettingsHandler(s *LobbyServer) http.HandlerFunc {
	return s.authed(func(w http.ResponseWriter, r *http.Request, userID int64) {
		id, err := lobbyIDParam(r)
		if err != nil {
			writeError(w, s.logger, err)
			return
		}
		var req settingsRequest
		if err := s.decode(r, &req, false); err != nil {
			writeError(w, s.logger, err)
			return
		}
		if req.empty() {
			writeError(w, s.logger, fmt.Errorf("nothing to update: %w", models.ErrInvalidArgument))
			return
		}

		view, err := s.Registry.UpdateSettings(r.Context(), lobby.SettingsUpdate{
			LobbyID:     id,
			UserID:      userID,
			DeckID:      req.DeckID,
			CharacterID: req.CharacterID,
			MapID:       req.MapID,
			Ready:       req.Ready,
		})
		if err != nil {
			writeError(w, s.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	})
}

func StartGameHandler(s *LobbyServer) http.HandlerFunc {
	return s.authed(func(w http.ResponseWriter, r *http.Request, userID int64) {
		id, err := lobbyIDParam(r)
		if err != nil {
			writeError(w, s.logger, err)
			return
		}
		view, err := s.Registry.StartGameAs(r.Context(), id, userID)
		if err != nil {
			writeError(w, s.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	})
}

// KickPlayerHandler lets the host remove player2.
func KickPlayerHandler(s *LobbyServer) http.HandlerFunc {
	return s.authed(func(w http.ResponseWriter, r *http.Request, userID int64) {
		id, err := lobbyIDParam(r)
		if err != nil {
			writeError(w, s.logger, err)
			return
		}
		target, err := strconv.ParseInt(chi.URLParam(r, "userId"), 10, 64)
		if err != nil {
			writeError(w, s.logger, fmt.Errorf("user id %q: %w", chi.URLParam(r, "userId"), models.ErrInvalidArgument))
			return
		}
		view, err := s.Registry.KickPlayer(r.Context(), id, userID, target)
		if err != nil {
			writeError(w, s.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	})
}

func Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
