package model

import "time"

type Message struct {
	ID        string      `json:"id"`
	ChatID    string      `json:"chat_id"`
	SenderID  string      `json:"sender_id"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"created_at"`
	Sender    *UserPublic `json:"sender,omitempty"`
	Reactions []Reaction  `json:"reactions,omitempty"`
}

// Reaction is owned by its parent message. A user has at most one
// reaction per message; re-reacting replaces the emoji in place without
// moving the entry, so CreatedAt keeps the original position.
type Reaction struct {
	MessageID string      `json:"message_id"`
	UserID    string      `json:"user_id"`
	Emoji     string      `json:"emoji"`
	CreatedAt time.Time   `json:"created_at"`
	User      *UserPublic `json:"user,omitempty"`
}
