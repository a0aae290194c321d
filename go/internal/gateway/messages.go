package gateway

import "time"

// MessageType identifies a server push
type MessageType string

const (
	MessageLeaderboardSnapshot MessageType = "leaderboard.snapshot"
	MessageLeaderboardEvent    MessageType = "leaderboard.event"
	MessageNameCheck           MessageType = "name.check"
	MessageError               MessageType = "error"
)

// Message is the envelope of every server push
type Message struct {
	Type      MessageType `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// NameInput is what clients send on the names channel
type NameInput struct {
	Name string `json:"name"`
}
