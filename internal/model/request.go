package model

import "time"

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestAccepted RequestStatus = "accepted"
	RequestDeclined RequestStatus = "declined"
)

// MessageRequest is a one-directional ask by From to converse freely
// with To. It gates free messaging in a personal chat: while pending,
// the sender may post exactly one message (PreMessageUsed flips
// false -> true and only while pending). Once the status leaves pending
// the record is terminal and is never reused; a later handshake attempt
// between the same pair creates a fresh record.
type MessageRequest struct {
	ID             string        `json:"id"`
	FromID         string        `json:"from_id"`
	ToID           string        `json:"to_id"`
	ChatID         string        `json:"chat_id"`
	Status         RequestStatus `json:"status"`
	PreMessageUsed bool          `json:"pre_message_used"`
	CreatedAt      time.Time     `json:"created_at"`
	ResolvedAt     *time.Time    `json:"resolved_at,omitempty"`

	From *UserPublic `json:"from,omitempty"`
	To   *UserPublic `json:"to,omitempty"`
}
