package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nwatch/neighborwatch/internal/ports"
	"github.com/nwatch/neighborwatch/internal/testutil"
)

func TestSessionCaches_ScopedPerSession(t *testing.T) {
	client, _ := testutil.SetupTestRedis(t)
	caches := NewSessionCaches(client, time.Minute)
	ctx := context.Background()

	a := caches.Scope("sess-a")
	b := caches.Scope("sess-b")

	require.NoError(t, a.Set(ctx, "auth_record", `{"uid":"u1"}`))

	got, err := a.Get(ctx, "auth_record")
	require.NoError(t, err)
	assert.Equal(t, `{"uid":"u1"}`, got)

	_, err = b.Get(ctx, "auth_record")
	assert.ErrorIs(t, err, ports.ErrCacheMiss)

	require.NoError(t, a.Remove(ctx, "auth_record"))
	_, err = a.Get(ctx, "auth_record")
	assert.ErrorIs(t, err, ports.ErrCacheMiss)

	assert.NoError(t, b.Remove(ctx, "never-set"))
}

func TestSessionCaches_EntriesExpire(t *testing.T) {
	client, mr := testutil.SetupTestRedis(t)
	if mr == nil {
		t.Skip("requires in-process redis")
	}
	cache := NewSessionCaches(client, 5*time.Minute).Scope("s1")
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "auth_record", "x"))
	assert.Equal(t, 5*time.Minute, mr.TTL("authrec:s1:auth_record"))

	mr.FastForward(6 * time.Minute)
	_, err := cache.Get(ctx, "auth_record")
	assert.ErrorIs(t, err, ports.ErrCacheMiss)
}

func TestNewSessionCaches_DefaultTTL(t *testing.T) {
	client, _ := testutil.SetupTestRedis(t)
	assert.Equal(t, defaultCacheTTL, NewSessionCaches(client, 0).ttl)
}
