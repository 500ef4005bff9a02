package storage

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	redisx "PBoard/service/storage/redis"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeysShareHashTag(t *testing.T) {
	s := NewPresenceStore(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), PresenceConfig{NodeID: "gw1"})
	defer s.Close()

	assert.Equal(t, "board:presence:{42}", s.userKey(42))
	assert.Equal(t, "gw1:abc", s.member("abc"))
	assert.Equal(t, 2*time.Minute, s.conf.TTL)
}

func TestOnlineRejectsUnboundConnection(t *testing.T) {
	s := NewPresenceStore(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), PresenceConfig{})
	defer s.Close()

	assert.Error(t, s.Online(context.Background(), 0, "c1"))
	assert.Error(t, s.Online(context.Background(), 7, ""))
}

// newLiveStore connects to BOARD_TEST_REDIS or skips.
func newLiveStore(t *testing.T) *PresenceStore {
	t.Helper()
	addr := os.Getenv("BOARD_TEST_REDIS")
	if addr == "" {
		t.Skip("BOARD_TEST_REDIS not set")
	}
	rdb, err := redisx.NewClient(context.Background(), redisx.Config{Addr: addr})
	require.NoError(t, err)
	prefix := "board:test:" + strconv.FormatInt(time.Now().UnixNano(), 36)
	s := NewPresenceStore(rdb, PresenceConfig{NodeID: "t", TTL: 2 * time.Second, Prefix: prefix})
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPresenceLifecycle(t *testing.T) {
	s := newLiveStore(t)
	ctx := context.Background()

	require.NoError(t, s.Online(ctx, 1, "a"))
	require.NoError(t, s.Online(ctx, 1, "b"))
	n, err := s.Count(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, s.Offline(ctx, 1, "a"))
	on, err := s.IsOnline(ctx, 1)
	require.NoError(t, err)
	assert.True(t, on)

	require.NoError(t, s.Offline(ctx, 1, "b"))
	require.NoError(t, s.Offline(ctx, 1, "b"), "offline is idempotent")
	on, err = s.IsOnline(ctx, 1)
	require.NoError(t, err)
	assert.False(t, on)
}

func TestPresenceExpires(t *testing.T) {
	s := newLiveStore(t)
	ctx := context.Background()

	base := time.Now()
	s.now = func() time.Time { return base }
	require.NoError(t, s.Online(ctx, 9, "a"))

	s.now = func() time.Time { return base.Add(5 * time.Second) }
	on, err := s.IsOnline(ctx, 9)
	require.NoError(t, err)
	assert.False(t, on)
}
