package model

import "time"

type ChatType string

const (
	ChatTypePersonal ChatType = "personal"
	ChatTypeGroup    ChatType = "group"
)

type Chat struct {
	ID              string    `json:"id"`
	ChatType        ChatType  `json:"chat_type"`
	Name            string    `json:"name"`
	GroupAdminID    string    `json:"group_admin_id,omitempty"`
	LatestMessageID *string   `json:"latest_message_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// IsGroup reports whether the chat is a group conversation. Personal
// chats always have exactly two members for their whole lifetime.
func (c *Chat) IsGroup() bool {
	return c.ChatType == ChatTypeGroup
}

type ChatMember struct {
	ChatID   string    `json:"chat_id"`
	UserID   string    `json:"user_id"`
	JoinedAt time.Time `json:"joined_at"`
}
