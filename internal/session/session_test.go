package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/identity"
)

func setupStore(t *testing.T, ttl time.Duration) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStore(client, ttl), mr
}

func TestStore_CreateLookupDelete(t *testing.T) {
	s, mr := setupStore(t, time.Hour)
	ctx := context.Background()

	id, err := s.Create(ctx, identity.User{ID: 42, Email: "a@example.com", Name: "Ann"})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	assert.Equal(t, time.Hour, mr.TTL(key(id)))

	u, err := s.Lookup(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, &identity.User{ID: 42, Email: "a@example.com", Name: "Ann"}, u)

	require.NoError(t, s.Delete(ctx, id))
	_, err = s.Lookup(ctx, id)
	require.ErrorIs(t, err, identity.ErrNoSession)

	require.NoError(t, s.Delete(ctx, id))
}

func TestStore_LookupRefreshesTTL(t *testing.T) {
	s, mr := setupStore(t, time.Hour)
	ctx := context.Background()

	id, err := s.Create(ctx, identity.User{ID: 1})
	require.NoError(t, err)

	mr.FastForward(45 * time.Minute)
	_, err = s.Lookup(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, mr.TTL(key(id)))

	mr.FastForward(2 * time.Hour)
	_, err = s.Lookup(ctx, id)
	require.ErrorIs(t, err, identity.ErrNoSession)
}

func TestStore_LookupErrors(t *testing.T) {
	s, mr := setupStore(t, 0)
	ctx := context.Background()

	_, err := s.Lookup(ctx, "")
	require.ErrorIs(t, err, identity.ErrNoSession)

	_, err = s.Lookup(ctx, "unknown")
	require.ErrorIs(t, err, identity.ErrNoSession)

	mr.HSet(key("broken"), "user_id", "nope")
	_, err = s.Lookup(ctx, "broken")
	require.Error(t, err)
	assert.NotErrorIs(t, err, identity.ErrNoSession)

	_, err = s.Create(ctx, identity.User{})
	require.Error(t, err)

	mr.Close()
	_, err = s.Lookup(ctx, "anything")
	require.Error(t, err)
	assert.NotErrorIs(t, err, identity.ErrNoSession)
}
