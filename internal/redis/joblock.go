package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrLockHeld means another run of the same job holds the lock.
var ErrLockHeld = errors.New("job lock held")

// releaseScript deletes the lock only if this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// JobLocker hands out per-job run locks (herald:joblock:{job}).
type JobLocker struct {
	client *Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewJobLocker creates a locker. ttl bounds how long a crashed run can block the job.
func NewJobLocker(client *Client, logger *zap.Logger, ttl time.Duration) *JobLocker {
	return &JobLocker{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

// Acquire takes the lock for job with SET NX. The returned release func is
// safe to call once the job finishes; it never deletes a lock taken over by
// another holder after expiry.
func (l *JobLocker) Acquire(ctx context.Context, job string) (func(context.Context), error) {
	k := key("joblock", job)
	token := uuid.NewString()

	ok, err := l.client.rdb.SetNX(ctx, k, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis setnx failed: %w", err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	release := func(ctx context.Context) {
		if err := releaseScript.Run(ctx, l.client.rdb, []string{k}, token).Err(); err != nil {
			l.logger.Warn("failed to release job lock",
				zap.String("job", job),
				zap.Error(err),
			)
		}
	}

	return release, nil
}
