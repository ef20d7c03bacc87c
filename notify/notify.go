// Package notify wakes idle workers when new jobs are enqueued.
//
// Notifications are hints only: workers still poll the queue, and a lost
// wake-up only delays processing until the next poll.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKey is the redis list used for wake-ups.
const DefaultKey = "gleaner:wakeup"

// maxPending bounds the wake-up list; older hints are dropped.
const maxPending = 1024

// Notifier publishes and waits for enqueue wake-ups.
type Notifier interface {
	// Notify announces that work is available for tenantID.
	Notify(ctx context.Context, tenantID string) error

	// Wait blocks until a wake-up arrives or timeout elapses. It returns the
	// tenant named by the wake-up and whether one arrived.
	Wait(ctx context.Context, timeout time.Duration) (tenantID string, ok bool, err error)
}

// RedisNotifier implements Notifier with a redis list (LPUSH / BRPOP).
type RedisNotifier struct {
	rdb    *redis.Client
	key    string
	logger *slog.Logger
}

var _ Notifier = (*RedisNotifier)(nil)

// NewRedisNotifier creates a notifier on the given client. An empty key uses DefaultKey.
func NewRedisNotifier(rdb *redis.Client, key string) *RedisNotifier {
	if key == "" {
		key = DefaultKey
	}
	return &RedisNotifier{
		rdb:    rdb,
		key:    key,
		logger: slog.Default().With("component", "redis-notifier"),
	}
}

// Dial connects to addr and verifies the connection with PING.
func Dial(ctx context.Context, addr, key string) (*RedisNotifier, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}
	return NewRedisNotifier(rdb, key), nil
}

func (n *RedisNotifier) Notify(ctx context.Context, tenantID string) error {
	pipe := n.rdb.TxPipeline()
	pipe.LPush(ctx, n.key, tenantID)
	pipe.LTrim(ctx, n.key, 0, maxPending-1)
	_, err := pipe.Exec(ctx)
	if err != nil {
		n.logger.Warn("wake-up not published", "tenant", tenantID, "err", err)
	}
	return err
}

func (n *RedisNotifier) Wait(ctx context.Context, timeout time.Duration) (string, bool, error) {
	res, err := n.rdb.BRPop(ctx, timeout, n.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return "", false, ctx.Err()
		}
		return "", false, err
	}
	if len(res) == 2 {
		return res[1], true, nil
	}
	return "", false, nil
}

// Close closes the redis client.
func (n *RedisNotifier) Close() error {
	return n.rdb.Close()
}

// Nop is a Notifier that never delivers wake-ups; Wait just sleeps.
type Nop struct{}

var _ Notifier = Nop{}

func (Nop) Notify(context.Context, string) error { return nil }

func (Nop) Wait(ctx context.Context, timeout time.Duration) (string, bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return "", false, ctx.Err()
	case <-timer.C:
		return "", false, nil
	}
}
