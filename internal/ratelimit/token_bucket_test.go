package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowAccountEnforcesCapacity(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	bucket := NewTokenBucket(client, 2, 1, time.Minute)

	allowed, _, err := bucket.AllowAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.True(t, allowed, "first token")

	allowed, _, err = bucket.AllowAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.True(t, allowed, "second token")

	allowed, _, err = bucket.AllowAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.False(t, allowed, "bucket exhausted")

	// Note: refill cannot be tested with miniredis.FastForward() because the
	// Lua script takes its clock from Go's time.Now(), not Redis.
}

func TestAllowAccountBucketsAreIndependent(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	bucket := NewTokenBucket(client, 1, 1, time.Minute)

	allowed, _, err := bucket.AllowAccount(ctx, "acct-a")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, _, err = bucket.AllowAccount(ctx, "acct-a")
	require.NoError(t, err)
	assert.False(t, allowed, "acct-a exhausted")

	allowed, _, err = bucket.AllowAccount(ctx, "acct-b")
	require.NoError(t, err)
	assert.True(t, allowed, "acct-b has its own bucket")
}
