package ws

import "github.com/chatline/internal/model"

type EventType string

const (
	// Inbound.
	EventJoinRoom   EventType = "join_room"
	EventTyping     EventType = "typing"
	EventStopTyping EventType = "stop_typing"
	// EventNewMessage is the inbound relay trigger: the client echoes a
	// message it already persisted through the send endpoint.
	EventNewMessage EventType = "new_message"

	// Outbound.
	EventMessageReceived EventType = "message_received"
	EventReactionUpdated EventType = "reaction_updated"
	EventError           EventType = "error"
)

// IncomingMessage is what the client sends to the server.
type IncomingMessage struct {
	Type   EventType `json:"type"`
	ChatID string    `json:"chat_id,omitempty"`
	// Message carries the persisted message for the new_message trigger.
	Message *model.Message `json:"message,omitempty"`
}

// OutgoingMessage is what the server sends to the client.
// Payload uses typed structs to avoid heap-heavy map[string]any.
type OutgoingMessage struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// TypingPayload is relayed while a user is composing. Ephemeral: never
// persisted, delivered only to the other sessions in the room.
type TypingPayload struct {
	ChatID string `json:"chat_id"`
	UserID string `json:"user_id"`
}
