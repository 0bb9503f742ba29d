package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatline/internal/logger"
)

// PushSubscription is a browser push endpoint for a user. A user can
// hold several (one per browser/device).
type PushSubscription struct {
	Endpoint string `json:"endpoint"`
	UserID   string `json:"user_id"`
	P256dh   string `json:"p256dh"`
	Auth     string `json:"auth"`
}

type PushSubscriptionRepository struct {
	pool *pgxpool.Pool
}

func NewPushSubscriptionRepository(pool *pgxpool.Pool) *PushSubscriptionRepository {
	return &PushSubscriptionRepository{pool: pool}
}

// Save upserts by endpoint: re-subscribing from the same browser just
// refreshes the keys.
func (r *PushSubscriptionRepository) Save(ctx context.Context, s *PushSubscription) error {
	defer logger.DeferLogDuration("pushSub.Save", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO push_subscriptions (endpoint, user_id, p256dh, auth)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (endpoint) DO UPDATE SET user_id = EXCLUDED.user_id,
		     p256dh = EXCLUDED.p256dh, auth = EXCLUDED.auth`,
		s.Endpoint, s.UserID, s.P256dh, s.Auth,
	)
	if err != nil {
		return fmt.Errorf("pushSubRepo.Save: %w", err)
	}
	return nil
}

func (r *PushSubscriptionRepository) Delete(ctx context.Context, endpoint string) error {
	defer logger.DeferLogDuration("pushSub.Delete", time.Now())()
	_, err := r.pool.Exec(ctx,
		`DELETE FROM push_subscriptions WHERE endpoint = $1`, endpoint,
	)
	if err != nil {
		return fmt.Errorf("pushSubRepo.Delete: %w", err)
	}
	return nil
}

func (r *PushSubscriptionRepository) ListByUser(ctx context.Context, userID string) ([]PushSubscription, error) {
	defer logger.DeferLogDuration("pushSub.ListByUser", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT endpoint, user_id, p256dh, auth FROM push_subscriptions WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("pushSubRepo.ListByUser query: %w", err)
	}
	defer rows.Close()

	subs := make([]PushSubscription, 0, 2)
	for rows.Next() {
		var s PushSubscription
		if err := rows.Scan(&s.Endpoint, &s.UserID, &s.P256dh, &s.Auth); err != nil {
			return nil, fmt.Errorf("pushSubRepo.ListByUser scan: %w", err)
		}
		subs = append(subs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pushSubRepo.ListByUser rows: %w", err)
	}
	return subs, nil
}
