package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/chatline/internal/logger"
)

// Lock TTL bounds how long a crashed holder can block a pair; a gate
// check is a handful of single-row queries, so 5s is generous.
const (
	lockTTL       = 5 * time.Second
	acquireRetry  = 25 * time.Millisecond
	lockKeyPrefix = "pairlock:"
)

// releaseScript deletes the key only if it still holds our token, so an
// expired lock re-acquired by someone else is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

// Acquire takes the pair lock with SET NX PX, retrying until ctx is done.
func (c *Client) Acquire(ctx context.Context, key string) (func(), error) {
	fullKey := lockKeyPrefix + key
	token := uuid.New().String()
	for {
		ok, err := c.cli.SetNX(ctx, fullKey, token, lockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("redis lock %s: %w", key, err)
		}
		if ok {
			return func() {
				relCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				if err := releaseScript.Run(relCtx, c.cli, []string{fullKey}, token).Err(); err != nil {
					logger.Errorf("redis unlock %s: %v", key, err)
				}
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(acquireRetry):
		}
	}
}
