// internal/handlers/realtime_ws.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/jason-s-yu/arena/internal/hub"
	"github.com/jason-s-yu/arena/internal/lobby"
	"github.com/jason-s-yu/arena/internal/middleware"
	"github.com/jason-s-yu/arena/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	realtimeSubprotocol = "lobby"
	pingInterval        = 15 * time.Second
	writeTimeout        = 5 * time.Second
	maxMessageBytes     = 1 << 20
)

// clientMessage is every frame a client may send. Fields beyond Type are read per type.
type clientMessage struct {
	Type        string          `json:"type"`
	Topic       string          `json:"topic,omitempty"`
	LobbyID     int64           `json:"lobbyId,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Side        string          `json:"side,omitempty"`
	DeckID      *int64          `json:"deckId,omitempty"`
	CharacterID *int64          `json:"characterId,omitempty"`
	MapID       int64           `json:"mapId,omitempty"`
	Ready       *bool           `json:"ready,omitempty"`
}

// RealtimeHandler upgrades to a websocket that speaks the "lobby" subprotocol. The
// connection receives events for the topics it subscribes to and may drive lobby,
// coin-toss and board operations. Failures go back to the sender only.
func RealtimeHandler(s *LobbyServer, logger *logrus.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		remoteAddr := r.RemoteAddr
		userID, authErr := callerID(r)

		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{realtimeSubprotocol},
			OriginPatterns: s.Origins,
		})
		if err != nil {
			logger.Warnf("websocket accept error: %v", err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "handler finished")

		if c.Subprotocol() != realtimeSubprotocol {
			c.Close(BadSubprotocolError, "client must speak the lobby subprotocol")
			return
		}
		if authErr != nil {
			logger.WithError(authErr).WithField("remote", remoteAddr).Warn("websocket auth failed")
			c.Close(InvalidAuthTokenError, "invalid auth token")
			return
		}
		c.SetReadLimit(maxMessageBytes)

		client := hub.NewClient(userID, s.ClientBuffer)
		defer s.Hub.Remove(client)
		if s.Presence != nil {
			s.Presence.Connect(userID)
			defer s.Presence.Disconnect(userID)
		}

		middleware.LogWebSocketConnect(logger, remoteAddr, userID)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		go writePump(ctx, c, client, logger)

		err = readPump(ctx, c, s, client, logger)
		middleware.LogWebSocketDisconnect(logger, remoteAddr, userID, err)
	}
}

// readPump dispatches client frames until the connection ends. A normal close returns nil.
func readPump(ctx context.Context, c *websocket.Conn, s *LobbyServer, client *hub.Client, logger *logrus.Logger) error {
	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return nil
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if typ != websocket.MessageText {
			client.WriteError("text frames only")
			continue
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			client.WriteError("Invalid JSON format")
			continue
		}
		if err := s.handleMessage(ctx, client, msg); err != nil {
			if statusFor(err) == http.StatusInternalServerError {
				logger.WithError(err).WithFields(logrus.Fields{
					"user_id": client.UserID,
					"type":    msg.Type,
				}).Error("realtime message failed")
				client.WriteError("internal error")
				continue
			}
			client.WriteError(err.Error())
		}
	}
}

func (s *LobbyServer) handleMessage(ctx context.Context, client *hub.Client, msg clientMessage) error {
	switch msg.Type {
	case "subscribe":
		if err := hub.ValidTopic(msg.Topic); err != nil {
			return fmt.Errorf("%s: %w", err.Error(), models.ErrInvalidArgument)
		}
		s.Hub.Subscribe(msg.Topic, client)
		client.WriteJSON(map[string]string{"type": "subscribed", "topic": msg.Topic})
		return nil

	case "unsubscribe":
		s.Hub.Unsubscribe(msg.Topic, client)
		client.WriteJSON(map[string]string{"type": "unsubscribed", "topic": msg.Topic})
		return nil

	case "move":
		lobbyID := msg.LobbyID
		if lobbyID == 0 {
			var ref struct {
				LobbyID int64 `json:"lobbyId"`
			}
			_ = json.Unmarshal(msg.Payload, &ref)
			lobbyID = ref.LobbyID
		}
		if lobbyID <= 0 {
			return fmt.Errorf("move without lobbyId: %w", models.ErrInvalidArgument)
		}
		return s.Relay.RelayMove(ctx, lobbyID, msg.Payload)

	case "coin_toss":
		side, err := models.ParseCoinSide(msg.Side)
		if err != nil {
			return err
		}
		_, err = s.Coordinator.SubmitChoice(ctx, msg.LobbyID, client.UserID, side)
		return err

	case "update_selection":
		_, err := s.Registry.UpdateSelections(ctx, lobby.SelectionUpdate{
			LobbyID:     msg.LobbyID,
			UserID:      client.UserID,
			DeckID:      msg.DeckID,
			CharacterID: msg.CharacterID,
			Ready:       msg.Ready,
		})
		return err

	case "update_map":
		_, err := s.Registry.UpdateMap(ctx, msg.LobbyID, client.UserID, msg.MapID)
		return err

	case "leave_lobby":
		_, err := s.Registry.LeaveLobby(ctx, msg.LobbyID, client.UserID)
		return err
	}
	return fmt.Errorf("unknown message type %q: %w", msg.Type, models.ErrInvalidArgument)
}

// writePump drains the client's outbox onto the socket and keeps the connection alive with pings.
func writePump(ctx context.Context, c *websocket.Conn, client *hub.Client, logger *logrus.Logger) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer c.Close(websocket.StatusGoingAway, "write pump stopping")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				logger.Debugf("ping to user %d failed: %v", client.UserID, err)
				return
			}
		case msg, ok := <-client.Out():
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.Write(writeCtx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				logger.Warnf("failed to write to websocket for user %d: %v", client.UserID, err)
				return
			}
		}
	}
}
