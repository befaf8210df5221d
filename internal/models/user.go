package models

// User is the subset of an account the lobby layer needs.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// Deck, Character and Map are catalog records owned by the inventory subsystem.
// Only the display name is relevant to lobbies.
type Deck struct {
	ID      int64  `json:"id"`
	OwnerID int64  `json:"ownerId"`
	Name    string `json:"name"`
}

type Character struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type Map struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}
