// Package runlock is a Redis mutual-exclusion lock held for a whole reminder
// job run, so an operator re-trigger does not overlap the scheduled run.
package runlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned by Acquire when another run holds the lock.
var ErrLockHeld = errors.New("run lock held by another process")

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// ReleaseFunc gives the lock back.
type ReleaseFunc func(ctx context.Context) error

type Lock struct {
	client   redis.Cmdable
	key      string
	ttl      time.Duration
	newToken func() string
}

func New(client redis.Cmdable, key string, ttl time.Duration) *Lock {
	return &Lock{
		client:   client,
		key:      key,
		ttl:      ttl,
		newToken: func() string { return uuid.New().String() },
	}
}

// Acquire takes the lock for ttl. The lock expires on its own if the holder
// dies without releasing it.
func (l *Lock) Acquire(ctx context.Context) (ReleaseFunc, error) {
	token := l.newToken()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire run lock %s: %w", l.key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Err(); err != nil {
			return fmt.Errorf("release run lock %s: %w", l.key, err)
		}
		return nil
	}, nil
}
