package runlock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestAcquire_ExclusiveUntilReleased(t *testing.T) {
	mr, client := newMiniredis(t)
	ctx := context.Background()

	first := New(client, "reminders:job-lock", time.Minute)
	second := New(client, "reminders:job-lock", time.Minute)

	release, err := first.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, mr.Exists("reminders:job-lock"))

	_, err = second.Acquire(ctx)
	assert.ErrorIs(t, err, ErrLockHeld)

	require.NoError(t, release(ctx))
	assert.False(t, mr.Exists("reminders:job-lock"))

	release, err = second.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, release(ctx))
}

func TestAcquire_ExpiresAfterTTL(t *testing.T) {
	mr, client := newMiniredis(t)
	ctx := context.Background()

	_, err := New(client, "reminders:job-lock", time.Minute).Acquire(ctx)
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	release, err := New(client, "reminders:job-lock", time.Minute).Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, release(ctx))
}

func TestRelease_DoesNotDropAnotherHoldersLock(t *testing.T) {
	mr, client := newMiniredis(t)
	ctx := context.Background()

	release, err := New(client, "reminders:job-lock", time.Minute).Acquire(ctx)
	require.NoError(t, err)

	// Our lock expired and another run took over.
	mr.FastForward(2 * time.Minute)
	_, err = New(client, "reminders:job-lock", time.Minute).Acquire(ctx)
	require.NoError(t, err)

	require.NoError(t, release(ctx))
	assert.True(t, mr.Exists("reminders:job-lock"))
}

func TestAcquire_RedisError(t *testing.T) {
	client, mock := redismock.NewClientMock()
	lock := New(client, "reminders:job-lock", time.Minute)
	lock.newToken = func() string { return "token-1" }

	mock.ExpectSetNX("reminders:job-lock", "token-1", time.Minute).SetErr(errors.New("connection refused"))

	_, err := lock.Acquire(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrLockHeld)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAcquire_HeldWithRedismock(t *testing.T) {
	client, mock := redismock.NewClientMock()
	lock := New(client, "reminders:job-lock", time.Minute)
	lock.newToken = func() string { return "token-2" }

	mock.ExpectSetNX("reminders:job-lock", "token-2", time.Minute).SetVal(false)

	_, err := lock.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrLockHeld)
	assert.NoError(t, mock.ExpectationsWereMet())
}
