package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatline/internal/logger"
	"github.com/chatline/internal/model"
)

type ReactionRepository struct {
	pool *pgxpool.Pool
}

func NewReactionRepository(pool *pgxpool.Pool) *ReactionRepository {
	return &ReactionRepository{pool: pool}
}

// Set adds or replaces the user's reaction on a message as a single
// atomic upsert: concurrent reactions from different users never lose
// updates, and a replacement keeps the row's created_at so the
// reaction's display position is unchanged.
func (r *ReactionRepository) Set(ctx context.Context, messageID, userID, emoji string) error {
	defer logger.DeferLogDuration("reaction.Set", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO message_reactions (message_id, user_id, emoji)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (message_id, user_id) DO UPDATE SET emoji = EXCLUDED.emoji`,
		messageID, userID, emoji,
	)
	if err != nil {
		return fmt.Errorf("reactionRepo.Set: %w", err)
	}
	return nil
}

// Clear removes the user's reaction. Removing an absent reaction is a
// no-op, not an error.
func (r *ReactionRepository) Clear(ctx context.Context, messageID, userID string) error {
	defer logger.DeferLogDuration("reaction.Clear", time.Now())()
	_, err := r.pool.Exec(ctx,
		`DELETE FROM message_reactions WHERE message_id = $1 AND user_id = $2`,
		messageID, userID,
	)
	if err != nil {
		return fmt.Errorf("reactionRepo.Clear: %w", err)
	}
	return nil
}

func (r *ReactionRepository) GetByMessage(ctx context.Context, messageID string) ([]model.Reaction, error) {
	defer logger.DeferLogDuration("reaction.GetByMessage", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT mr.message_id, mr.user_id, mr.emoji, mr.created_at,
		        u.id, u.username, u.email, u.avatar_url
		 FROM message_reactions mr
		 JOIN users u ON u.id = mr.user_id
		 WHERE mr.message_id = $1
		 ORDER BY mr.created_at`, messageID,
	)
	if err != nil {
		return nil, fmt.Errorf("reactionRepo.GetByMessage query: %w", err)
	}
	defer rows.Close()
	return collectReactions(rows)
}

// GetByChat returns reactions for every message of a chat, ordered by
// reaction creation time, for assembling the populated list view in one
// round trip instead of one query per message.
func (r *ReactionRepository) GetByChat(ctx context.Context, chatID string) ([]model.Reaction, error) {
	defer logger.DeferLogDuration("reaction.GetByChat", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT mr.message_id, mr.user_id, mr.emoji, mr.created_at,
		        u.id, u.username, u.email, u.avatar_url
		 FROM message_reactions mr
		 JOIN users u ON u.id = mr.user_id
		 JOIN messages m ON m.id = mr.message_id
		 WHERE m.chat_id = $1
		 ORDER BY mr.created_at`, chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("reactionRepo.GetByChat query: %w", err)
	}
	defer rows.Close()
	return collectReactions(rows)
}

type reactionRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func collectReactions(rows reactionRows) ([]model.Reaction, error) {
	reactions := make([]model.Reaction, 0, 8)
	for rows.Next() {
		var rc model.Reaction
		user := &model.UserPublic{}
		if err := rows.Scan(&rc.MessageID, &rc.UserID, &rc.Emoji, &rc.CreatedAt,
			&user.ID, &user.Username, &user.Email, &user.AvatarURL); err != nil {
			return nil, fmt.Errorf("reactionRepo scan: %w", err)
		}
		rc.User = user
		reactions = append(reactions, rc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reactionRepo rows: %w", err)
	}
	return reactions, nil
}
