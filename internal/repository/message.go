package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatline/internal/logger"
	"github.com/chatline/internal/model"
)

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

func (r *MessageRepository) Create(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO messages (id, chat_id, sender_id, content, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.ChatID, m.SenderID, m.Content, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.Create: %w", err)
	}
	return nil
}

// GetByID returns the message with the sender profile joined in.
// Reactions are loaded separately (ReactionRepository.GetByMessage).
func (r *MessageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetByID", time.Now())()
	m := &model.Message{}
	sender := &model.UserPublic{}
	err := r.pool.QueryRow(ctx,
		`SELECT m.id, m.chat_id, m.sender_id, m.content, m.created_at,
		        u.id, u.username, u.email, u.avatar_url
		 FROM messages m
		 JOIN users u ON u.id = m.sender_id
		 WHERE m.id = $1`, id,
	).Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Content, &m.CreatedAt,
		&sender.ID, &sender.Username, &sender.Email, &sender.AvatarURL)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("msgRepo.GetByID: %w", err)
	}
	m.Sender = sender
	return m, nil
}

// GetChatMessages returns all messages of a chat in creation order,
// oldest first, each with the sender profile joined in.
func (r *MessageRepository) GetChatMessages(ctx context.Context, chatID string) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.GetChatMessages", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT m.id, m.chat_id, m.sender_id, m.content, m.created_at,
		        u.id, u.username, u.email, u.avatar_url
		 FROM messages m
		 JOIN users u ON u.id = m.sender_id
		 WHERE m.chat_id = $1
		 ORDER BY m.created_at ASC`, chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.GetChatMessages query: %w", err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0, 64)
	for rows.Next() {
		var m model.Message
		sender := &model.UserPublic{}
		if err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Content, &m.CreatedAt,
			&sender.ID, &sender.Username, &sender.Email, &sender.AvatarURL); err != nil {
			return nil, fmt.Errorf("msgRepo.GetChatMessages scan: %w", err)
		}
		m.Sender = sender
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.GetChatMessages rows: %w", err)
	}
	return messages, nil
}

// Exists reports whether the message id resolves, without loading it.
func (r *MessageRepository) Exists(ctx context.Context, id string) (bool, error) {
	defer logger.DeferLogDuration("msg.Exists", time.Now())()
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM messages WHERE id = $1)`, id,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("msgRepo.Exists: %w", err)
	}
	return exists, nil
}
