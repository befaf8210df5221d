// internal/models/lobby.go
package models

// LobbyStatus is the lifecycle state of a lobby. WAITING -> STARTED only.
type LobbyStatus string

const (
	StatusWaiting LobbyStatus = "WAITING"
	StatusStarted LobbyStatus = "STARTED"
)

// Participant is one seat of a lobby together with the loadout the player picked.
// Display names are resolved when the ids are set so views never need a lookup.
type Participant struct {
	UserID        int64  `json:"userId"`
	Username      string `json:"username"`
	DeckID        *int64 `json:"deckId,omitempty"`
	DeckName      string `json:"deckName,omitempty"`
	CharacterID   *int64 `json:"characterId,omitempty"`
	CharacterName string `json:"characterName,omitempty"`
}

// MapRef is the selected battle map.
type MapRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Lobby is one matchmaking session pairing up to two users.
//
// Player1 is the host and is always set while the lobby exists. Player2 is set only by a
// successful join. PasswordHash holds an argon2id encoded hash, empty for open lobbies.
type Lobby struct {
	ID           int64
	Name         string
	IsPrivate    bool
	PasswordHash string
	Status       LobbyStatus
	Player1      Participant
	Player2      *Participant
	Map          *MapRef
}

// Clone returns a deep copy so a mutation can be staged without touching the committed record.
func (l *Lobby) Clone() *Lobby {
	c := *l
	c.Player1 = l.Player1.clone()
	if l.Player2 != nil {
		p2 := l.Player2.clone()
		c.Player2 = &p2
	}
	if l.Map != nil {
		m := *l.Map
		c.Map = &m
	}
	return &c
}

func (p Participant) clone() Participant {
	if p.DeckID != nil {
		d := *p.DeckID
		p.DeckID = &d
	}
	if p.CharacterID != nil {
		c := *p.CharacterID
		p.CharacterID = &c
	}
	return p
}

// Seat returns the participant record for userID, or nil if the user holds neither seat.
func (l *Lobby) Seat(userID int64) *Participant {
	if l.Player1.UserID == userID {
		return &l.Player1
	}
	if l.Player2 != nil && l.Player2.UserID == userID {
		return l.Player2
	}
	return nil
}

// IsHost reports whether userID is player1.
func (l *Lobby) IsHost(userID int64) bool {
	return l.Player1.UserID == userID
}

// LobbyView is the response shape sent to clients and published on lobby topics.
type LobbyView struct {
	ID                   int64       `json:"id"`
	LobbyName            string      `json:"lobbyName"`
	IsPrivate            bool        `json:"isPrivate"`
	Status               LobbyStatus `json:"status"`
	Player1ID            int64       `json:"player1Id"`
	Player2ID            *int64      `json:"player2Id"`
	Player1Name          string      `json:"player1Name"`
	Player2Name          string      `json:"player2Name,omitempty"`
	Player1DeckName      string      `json:"player1DeckName,omitempty"`
	Player2DeckName      string      `json:"player2DeckName,omitempty"`
	Player1CharacterName string      `json:"player1CharacterName,omitempty"`
	Player2CharacterName string      `json:"player2CharacterName,omitempty"`
	MapName              string      `json:"mapName,omitempty"`

	// Ready is echoed from a selection update and never stored.
	Ready *bool `json:"ready,omitempty"`
}

// View reduces the lobby to its response view.
func (l *Lobby) View() LobbyView {
	v := LobbyView{
		ID:                   l.ID,
		LobbyName:            l.Name,
		IsPrivate:            l.IsPrivate,
		Status:               l.Status,
		Player1ID:            l.Player1.UserID,
		Player1Name:          l.Player1.Username,
		Player1DeckName:      l.Player1.DeckName,
		Player1CharacterName: l.Player1.CharacterName,
	}
	if l.Player2 != nil {
		id := l.Player2.UserID
		v.Player2ID = &id
		v.Player2Name = l.Player2.Username
		v.Player2DeckName = l.Player2.DeckName
		v.Player2CharacterName = l.Player2.CharacterName
	}
	if l.Map != nil {
		v.MapName = l.Map.Name
	}
	return v
}
