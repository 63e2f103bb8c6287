package redis

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSession_TransportErrorIsNotAMiss(t *testing.T) {
	// Nothing listens here; every command fails at dial time.
	client := &Client{rdb: goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})}
	t.Cleanup(func() { client.Close() })

	cache := NewSessionCache(client)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	session, err := cache.GetSession(ctx, "s-1")
	require.Error(t, err, "a dial failure must surface, not masquerade as a cache miss")
	assert.Nil(t, session)
}
