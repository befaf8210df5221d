package hub

import (
	"fmt"
	"strconv"
	"strings"
)

// LobbyListTopic carries the full lobby list after any change to the set of lobbies.
const LobbyListTopic = "lobbies"

const (
	lobbyPrefix    = "lobby/"
	coinTossPrefix = "coin-toss/"
	boardPrefix    = "board-update/"
)

// Event types published on the topics below.
const (
	TypeLobbyList   = "lobby_list"
	TypeLobbyUpdate = "lobby_update"
	TypeLobbyClosed = "lobby_closed"
	TypeCoinToss    = "coin_toss"
	TypeBoardUpdate = "board_update"
)

// LobbyTopic carries lobby views for one lobby.
func LobbyTopic(lobbyID int64) string { return lobbyPrefix + strconv.FormatInt(lobbyID, 10) }

// CoinTossTopic carries the coin-toss negotiation of one lobby.
func CoinTossTopic(lobbyID int64) string { return coinTossPrefix + strconv.FormatInt(lobbyID, 10) }

// BoardTopic carries relayed board snapshots of one lobby.
func BoardTopic(lobbyID int64) string { return boardPrefix + strconv.FormatInt(lobbyID, 10) }

// ValidTopic reports whether a client may subscribe to topic.
func ValidTopic(topic string) error {
	if topic == LobbyListTopic {
		return nil
	}
	for _, prefix := range []string{lobbyPrefix, coinTossPrefix, boardPrefix} {
		if rest, ok := strings.CutPrefix(topic, prefix); ok {
			if _, err := strconv.ParseInt(rest, 10, 64); err != nil {
				return fmt.Errorf("topic %q: bad lobby id", topic)
			}
			return nil
		}
	}
	return fmt.Errorf("unknown topic %q", topic)
}
