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

// ChatRepository reads chat membership and type for the message gate and
// relay, and writes latest_message_id only. Chat and membership creation
// belong to the chat-management service; Create/AddMember exist for that
// boundary and the dev seed.
type ChatRepository struct {
	pool *pgxpool.Pool
}

func NewChatRepository(pool *pgxpool.Pool) *ChatRepository {
	return &ChatRepository{pool: pool}
}

func (r *ChatRepository) Create(ctx context.Context, c *model.Chat) error {
	defer logger.DeferLogDuration("chat.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO chats (id, chat_type, name, group_admin_id, created_at)
		 VALUES ($1, $2, $3, NULLIF($4, ''), $5)`,
		c.ID, c.ChatType, c.Name, c.GroupAdminID, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("chatRepo.Create: %w", err)
	}
	return nil
}

func (r *ChatRepository) AddMember(ctx context.Context, chatID, userID string) error {
	defer logger.DeferLogDuration("chat.AddMember", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO chat_members (chat_id, user_id) VALUES ($1, $2)
		 ON CONFLICT DO NOTHING`,
		chatID, userID,
	)
	if err != nil {
		return fmt.Errorf("chatRepo.AddMember: %w", err)
	}
	return nil
}

func (r *ChatRepository) GetByID(ctx context.Context, id string) (*model.Chat, error) {
	defer logger.DeferLogDuration("chat.GetByID", time.Now())()
	c := &model.Chat{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, chat_type, name, COALESCE(group_admin_id, ''), latest_message_id, created_at
		 FROM chats WHERE id = $1`, id,
	).Scan(&c.ID, &c.ChatType, &c.Name, &c.GroupAdminID, &c.LatestMessageID, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("chatRepo.GetByID: %w", err)
	}
	return c, nil
}

func (r *ChatRepository) GetMemberIDs(ctx context.Context, chatID string) ([]string, error) {
	defer logger.DeferLogDuration("chat.GetMemberIDs", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT user_id FROM chat_members WHERE chat_id = $1`, chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("chatRepo.GetMemberIDs query: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, 8)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("chatRepo.GetMemberIDs scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chatRepo.GetMemberIDs rows: %w", err)
	}
	return ids, nil
}

func (r *ChatRepository) IsMember(ctx context.Context, chatID, userID string) (bool, error) {
	defer logger.DeferLogDuration("chat.IsMember", time.Now())()
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM chat_members WHERE chat_id = $1 AND user_id = $2)`,
		chatID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("chatRepo.IsMember: %w", err)
	}
	return exists, nil
}

// SetLatestMessage moves the chat's latest-message pointer. Called only
// from the send path, after the message row exists.
func (r *ChatRepository) SetLatestMessage(ctx context.Context, chatID, messageID string) error {
	defer logger.DeferLogDuration("chat.SetLatestMessage", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE chats SET latest_message_id = $1 WHERE id = $2`,
		messageID, chatID,
	)
	if err != nil {
		return fmt.Errorf("chatRepo.SetLatestMessage: %w", err)
	}
	return nil
}
