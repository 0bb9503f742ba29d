package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatline/internal/logger"
	"github.com/chatline/internal/model"
)

// RequestRepository owns the message-request ledger. Find* return
// (nil, nil) when no record matches; Accept/Decline return ErrNotFound
// when no row matches {id, to, pending}, which both scopes the action to
// the addressee and prevents double resolution.
type RequestRepository struct {
	pool *pgxpool.Pool
}

func NewRequestRepository(pool *pgxpool.Pool) *RequestRepository {
	return &RequestRepository{pool: pool}
}

const requestCols = `id, from_id, to_id, chat_id, status, pre_message_used, created_at, resolved_at`

func scanRequest(s interface{ Scan(dest ...any) error }, mr *model.MessageRequest) error {
	return s.Scan(&mr.ID, &mr.FromID, &mr.ToID, &mr.ChatID, &mr.Status,
		&mr.PreMessageUsed, &mr.CreatedAt, &mr.ResolvedAt)
}

// FindAccepted returns the accepted request between two users in either
// direction, if any. An accepted record unlocks the pair permanently for
// both directions; with historic duplicates the earliest row wins.
func (r *RequestRepository) FindAccepted(ctx context.Context, userA, userB string) (*model.MessageRequest, error) {
	defer logger.DeferLogDuration("request.FindAccepted", time.Now())()
	mr := &model.MessageRequest{}
	row := r.pool.QueryRow(ctx,
		`SELECT `+requestCols+` FROM message_requests
		 WHERE status = 'accepted'
		   AND ((from_id = $1 AND to_id = $2) OR (from_id = $2 AND to_id = $1))
		 ORDER BY created_at ASC
		 LIMIT 1`, userA, userB,
	)
	if err := scanRequest(row, mr); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("requestRepo.FindAccepted: %w", err)
	}
	return mr, nil
}

// FindPending returns the at-most-one pending request from -> to.
// Duplicates from before the uniqueness index are reconciled by taking
// the earliest.
func (r *RequestRepository) FindPending(ctx context.Context, from, to string) (*model.MessageRequest, error) {
	defer logger.DeferLogDuration("request.FindPending", time.Now())()
	mr := &model.MessageRequest{}
	row := r.pool.QueryRow(ctx,
		`SELECT `+requestCols+` FROM message_requests
		 WHERE from_id = $1 AND to_id = $2 AND status = 'pending'
		 ORDER BY created_at ASC
		 LIMIT 1`, from, to,
	)
	if err := scanRequest(row, mr); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("requestRepo.FindPending: %w", err)
	}
	return mr, nil
}

// Create inserts a new pending request from -> to. If a concurrent
// insert won the partial unique index, the existing pending row is
// returned instead of an error, so callers always end up holding the
// single surviving record.
func (r *RequestRepository) Create(ctx context.Context, from, to, chatID string, preMessageUsed bool) (*model.MessageRequest, error) {
	defer logger.DeferLogDuration("request.Create", time.Now())()
	mr := &model.MessageRequest{}
	row := r.pool.QueryRow(ctx,
		`INSERT INTO message_requests (id, from_id, to_id, chat_id, status, pre_message_used, created_at)
		 VALUES ($1, $2, $3, $4, 'pending', $5, $6)
		 ON CONFLICT (from_id, to_id) WHERE status = 'pending' DO NOTHING
		 RETURNING `+requestCols,
		uuid.New().String(), from, to, chatID, preMessageUsed, time.Now().UTC(),
	)
	err := scanRequest(row, mr)
	if errors.Is(err, pgx.ErrNoRows) {
		// Lost the race: pick up the row that got there first.
		existing, ferr := r.FindPending(ctx, from, to)
		if ferr != nil {
			return nil, ferr
		}
		if existing == nil {
			return nil, fmt.Errorf("requestRepo.Create: conflict but no pending row")
		}
		return existing, nil
	}
	if err != nil {
		return nil, fmt.Errorf("requestRepo.Create: %w", err)
	}
	return mr, nil
}

// MarkUsed consumes the sender's single pre-acceptance message. Only a
// pending request can be consumed; anything else is ErrNotFound.
func (r *RequestRepository) MarkUsed(ctx context.Context, id string) error {
	defer logger.DeferLogDuration("request.MarkUsed", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE message_requests SET pre_message_used = true
		 WHERE id = $1 AND status = 'pending'`, id,
	)
	if err != nil {
		return fmt.Errorf("requestRepo.MarkUsed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *RequestRepository) Accept(ctx context.Context, id, actingUser string) (*model.MessageRequest, error) {
	return r.resolve(ctx, id, actingUser, model.RequestAccepted)
}

func (r *RequestRepository) Decline(ctx context.Context, id, actingUser string) (*model.MessageRequest, error) {
	return r.resolve(ctx, id, actingUser, model.RequestDeclined)
}

func (r *RequestRepository) resolve(ctx context.Context, id, actingUser string, status model.RequestStatus) (*model.MessageRequest, error) {
	defer logger.DeferLogDuration("request.resolve", time.Now())()
	mr := &model.MessageRequest{}
	row := r.pool.QueryRow(ctx,
		`UPDATE message_requests SET status = $1, resolved_at = $2
		 WHERE id = $3 AND to_id = $4 AND status = 'pending'
		 RETURNING `+requestCols,
		status, time.Now().UTC(), id, actingUser,
	)
	if err := scanRequest(row, mr); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("requestRepo.resolve: %w", err)
	}
	return mr, nil
}

// ListIncoming returns pending requests addressed to the user, newest
// first, with the requester's profile joined in.
func (r *RequestRepository) ListIncoming(ctx context.Context, userID string) ([]model.MessageRequest, error) {
	defer logger.DeferLogDuration("request.ListIncoming", time.Now())()
	return r.listPending(ctx, userID, `mr.to_id`, `mr.from_id`)
}

// ListOutgoing returns pending requests sent by the user, newest first,
// with the recipient's profile joined in.
func (r *RequestRepository) ListOutgoing(ctx context.Context, userID string) ([]model.MessageRequest, error) {
	defer logger.DeferLogDuration("request.ListOutgoing", time.Now())()
	return r.listPending(ctx, userID, `mr.from_id`, `mr.to_id`)
}

func (r *RequestRepository) listPending(ctx context.Context, userID, scopeCol, joinCol string) ([]model.MessageRequest, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT mr.id, mr.from_id, mr.to_id, mr.chat_id, mr.status, mr.pre_message_used, mr.created_at, mr.resolved_at,
		        u.id, u.username, u.email, u.avatar_url
		 FROM message_requests mr
		 JOIN users u ON u.id = `+joinCol+`
		 WHERE `+scopeCol+` = $1 AND mr.status = 'pending'
		 ORDER BY mr.created_at DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("requestRepo.listPending query: %w", err)
	}
	defer rows.Close()

	requests := make([]model.MessageRequest, 0, 16)
	for rows.Next() {
		var mr model.MessageRequest
		counterpart := &model.UserPublic{}
		if err := rows.Scan(&mr.ID, &mr.FromID, &mr.ToID, &mr.ChatID, &mr.Status,
			&mr.PreMessageUsed, &mr.CreatedAt, &mr.ResolvedAt,
			&counterpart.ID, &counterpart.Username, &counterpart.Email, &counterpart.AvatarURL); err != nil {
			return nil, fmt.Errorf("requestRepo.listPending scan: %w", err)
		}
		if counterpart.ID == mr.FromID {
			mr.From = counterpart
		} else {
			mr.To = counterpart
		}
		requests = append(requests, mr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("requestRepo.listPending rows: %w", err)
	}
	return requests, nil
}
