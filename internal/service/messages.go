// Package service orchestrates the send pipeline: gate admission,
// persistence, latest-message pointer, populated read shape, realtime
// fan-out and push notification.
package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chatline/internal/logger"
	"github.com/chatline/internal/model"
	"github.com/chatline/internal/repository"
)

var (
	// ErrEmptyContent: message content is empty after trimming.
	ErrEmptyContent = errors.New("content is empty")
	// ErrNotMember: the sender does not belong to the chat.
	ErrNotMember = errors.New("not a chat member")
	// ErrInvalidChatMembers: a personal chat without exactly two members.
	ErrInvalidChatMembers = errors.New("invalid chat members")
)

type MessageRepo interface {
	Create(ctx context.Context, m *model.Message) error
	GetByID(ctx context.Context, id string) (*model.Message, error)
	GetChatMessages(ctx context.Context, chatID string) ([]model.Message, error)
	Exists(ctx context.Context, id string) (bool, error)
}

type ReactionRepo interface {
	Set(ctx context.Context, messageID, userID, emoji string) error
	Clear(ctx context.Context, messageID, userID string) error
	GetByMessage(ctx context.Context, messageID string) ([]model.Reaction, error)
	GetByChat(ctx context.Context, chatID string) ([]model.Reaction, error)
}

type ChatRepo interface {
	GetByID(ctx context.Context, id string) (*model.Chat, error)
	GetMemberIDs(ctx context.Context, chatID string) ([]string, error)
	SetLatestMessage(ctx context.Context, chatID, messageID string) error
}

// Admitter is the message gate (gate.Gate). Personal-chat sends go
// through it; a DeniedError from here propagates to the caller as-is.
type Admitter interface {
	Admit(ctx context.Context, senderID, otherID, chatID string) error
}

// Relay is the realtime fan-out (ws.Hub). Broadcasts are
// fire-and-forget; delivery is best effort to currently joined sessions.
type Relay interface {
	BroadcastNewMessage(m *model.Message)
	BroadcastReactionUpdate(m *model.Message)
	IsConnected(userID string) bool
}

// Notifier sends push notifications. nil disables push.
type Notifier interface {
	Notify(ctx context.Context, userID, title, body string, data map[string]string)
}

type MessageService struct {
	msgs      MessageRepo
	reactions ReactionRepo
	chats     ChatRepo
	gate      Admitter
	relay     Relay
	push      Notifier
}

func NewMessageService(msgs MessageRepo, reactions ReactionRepo, chats ChatRepo, gate Admitter, relay Relay, push Notifier) *MessageService {
	return &MessageService{msgs: msgs, reactions: reactions, chats: chats, gate: gate, relay: relay, push: push}
}

// Send runs the full pipeline for one message. Group chats skip the
// gate; personal chats are admitted (or denied) against the request
// ledger first, so every persisted message was allowed at the moment
// it was checked.
func (s *MessageService) Send(ctx context.Context, senderID, chatID, content string) (*model.Message, error) {
	defer logger.DeferLogDuration("svc.Send", time.Now())()

	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyContent
	}

	chat, err := s.chats.GetByID(ctx, chatID)
	if err != nil {
		return nil, err
	}

	memberIDs, err := s.chats.GetMemberIDs(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !contains(memberIDs, senderID) {
		return nil, ErrNotMember
	}

	if !chat.IsGroup() {
		other, ok := otherMember(memberIDs, senderID)
		if !ok {
			return nil, ErrInvalidChatMembers
		}
		if err := s.gate.Admit(ctx, senderID, other, chatID); err != nil {
			return nil, err
		}
	}

	m := &model.Message{
		ID:        uuid.New().String(),
		ChatID:    chatID,
		SenderID:  senderID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.msgs.Create(ctx, m); err != nil {
		return nil, err
	}
	if err := s.chats.SetLatestMessage(ctx, chatID, m.ID); err != nil {
		return nil, err
	}

	populated, err := s.msgs.GetByID(ctx, m.ID)
	if err != nil {
		return nil, err
	}

	if s.relay != nil {
		s.relay.BroadcastNewMessage(populated)
	}
	s.notifyOffline(populated, memberIDs)
	return populated, nil
}

// History returns all chat messages oldest first, with sender profiles
// and reactions populated. No pagination yet; the query shape supports
// adding a cursor later.
func (s *MessageService) History(ctx context.Context, chatID string) ([]model.Message, error) {
	defer logger.DeferLogDuration("svc.History", time.Now())()

	if _, err := s.chats.GetByID(ctx, chatID); err != nil {
		return nil, err
	}
	messages, err := s.msgs.GetChatMessages(ctx, chatID)
	if err != nil {
		return nil, err
	}
	reactions, err := s.reactions.GetByChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	byMessage := make(map[string][]model.Reaction, len(reactions))
	for _, rc := range reactions {
		byMessage[rc.MessageID] = append(byMessage[rc.MessageID], rc)
	}
	for i := range messages {
		messages[i].Reactions = byMessage[messages[i].ID]
	}
	return messages, nil
}

// SetReaction adds or replaces the user's reaction and returns the
// message with reactions populated.
func (s *MessageService) SetReaction(ctx context.Context, messageID, userID, emoji string) (*model.Message, error) {
	defer logger.DeferLogDuration("svc.SetReaction", time.Now())()

	if err := s.requireMessage(ctx, messageID); err != nil {
		return nil, err
	}
	if err := s.reactions.Set(ctx, messageID, userID, emoji); err != nil {
		return nil, err
	}
	return s.broadcastReactions(ctx, messageID)
}

// ClearReaction removes the user's reaction; clearing an absent
// reaction succeeds as a no-op.
func (s *MessageService) ClearReaction(ctx context.Context, messageID, userID string) (*model.Message, error) {
	defer logger.DeferLogDuration("svc.ClearReaction", time.Now())()

	if err := s.requireMessage(ctx, messageID); err != nil {
		return nil, err
	}
	if err := s.reactions.Clear(ctx, messageID, userID); err != nil {
		return nil, err
	}
	return s.broadcastReactions(ctx, messageID)
}

// requireMessage resolves the message id without loading the row.
func (s *MessageService) requireMessage(ctx context.Context, messageID string) error {
	exists, err := s.msgs.Exists(ctx, messageID)
	if err != nil {
		return err
	}
	if !exists {
		return repository.ErrNotFound
	}
	return nil
}

func (s *MessageService) broadcastReactions(ctx context.Context, messageID string) (*model.Message, error) {
	populated, err := s.msgs.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	reactions, err := s.reactions.GetByMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	populated.Reactions = reactions
	if s.relay != nil {
		s.relay.BroadcastReactionUpdate(populated)
	}
	return populated, nil
}

// notifyOffline pushes to members who have no connected session; they
// cannot receive the broadcast and will pull history on reconnect.
func (s *MessageService) notifyOffline(m *model.Message, memberIDs []string) {
	if s.push == nil {
		return
	}
	title := "New message"
	if m.Sender != nil && m.Sender.Username != "" {
		title = m.Sender.Username
	}
	body := m.Content
	// Truncate on a rune boundary so multi-byte content is never split
	// mid-character in the push payload.
	if runes := []rune(body); len(runes) > 120 {
		body = string(runes[:117]) + "..."
	}
	data := map[string]string{"chat_id": m.ChatID, "message_id": m.ID}
	for _, uid := range memberIDs {
		if uid == m.SenderID {
			continue
		}
		if s.relay != nil && s.relay.IsConnected(uid) {
			continue
		}
		uid := uid
		go s.push.Notify(context.Background(), uid, title, body, data)
	}
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// otherMember resolves the personal-chat peer. A personal chat has
// exactly two distinct members for its lifetime.
func otherMember(memberIDs []string, senderID string) (string, bool) {
	if len(memberIDs) != 2 {
		return "", false
	}
	for _, id := range memberIDs {
		if id != senderID {
			return id, true
		}
	}
	return "", false
}
