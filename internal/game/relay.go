package game

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jason-s-yu/arena/internal/hub"
	"github.com/jason-s-yu/arena/internal/models"
	"github.com/sirupsen/logrus"
)

// Relay republishes board snapshots to everyone watching a lobby. It keeps no state and
// does not look inside the snapshot.
type Relay struct {
	pub    hub.Publisher
	logger *logrus.Logger
}

func NewRelay(pub hub.Publisher, logger *logrus.Logger) *Relay {
	return &Relay{pub: pub, logger: logger}
}

// RelayMove forwards board to the lobby's board topic. The only requirement on board is
// that it is a JSON document, since it travels inside the event envelope.
func (r *Relay) RelayMove(ctx context.Context, lobbyID int64, board json.RawMessage) error {
	if len(board) == 0 || !json.Valid(board) {
		return fmt.Errorf("board snapshot for lobby %d is not JSON: %w", lobbyID, models.ErrInvalidArgument)
	}
	ev := hub.Event{Topic: hub.BoardTopic(lobbyID), Type: hub.TypeBoardUpdate, Payload: board}
	if err := r.pub.Publish(ctx, ev); err != nil {
		r.logger.WithError(err).WithField("lobby_id", lobbyID).Warn("board relay failed")
	}
	return nil
}
