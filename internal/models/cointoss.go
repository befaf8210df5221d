package models

import "fmt"

// CoinSide is one face of the coin.
type CoinSide string

const (
	Head CoinSide = "head"
	Tail CoinSide = "tail"
)

// ParseCoinSide validates a side sent by a client.
func ParseCoinSide(s string) (CoinSide, error) {
	switch CoinSide(s) {
	case Head, Tail:
		return CoinSide(s), nil
	}
	return "", fmt.Errorf("coin side %q: %w", s, ErrInvalidArgument)
}

// TossState is what the coin-toss topic carries. TossResult and StarterPlayer are set
// only on the final broadcast of a negotiation.
type TossState struct {
	LobbyID       int64              `json:"lobbyId"`
	Choices       map[int64]CoinSide `json:"choices"`
	TossResult    *CoinSide          `json:"tossResult,omitempty"`
	StarterPlayer *int64             `json:"starterPlayer,omitempty"`
}

// Resolved reports whether this state is the final one of its negotiation.
func (t TossState) Resolved() bool {
	return t.TossResult != nil
}
