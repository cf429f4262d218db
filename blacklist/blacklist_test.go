package blacklist

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stretchr/testify/assert"
)

func newRedisStore(t *testing.T) Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, "", zap.NewNop())
}

func TestStore_RevokeThenIsRevoked(t *testing.T) {
	for name, store := range map[string]Store{
		"redis":  newRedisStore(t),
		"memory": NewMemoryStore(),
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			revoked, err := store.IsRevoked(ctx, "tok-1")
			require.NoError(t, err)
			assert.False(t, revoked)

			require.NoError(t, store.Revoke(ctx, "tok-1", time.Now().Add(time.Hour)))

			revoked, err = store.IsRevoked(ctx, "tok-1")
			require.NoError(t, err)
			assert.True(t, revoked)
		})
	}
}

func TestStore_RevokeIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Revoke(ctx, "tok-1", time.Now().Add(time.Hour)))
	require.NoError(t, store.Revoke(ctx, "tok-1", time.Now().Add(time.Hour)))
	revoked, err := store.IsRevoked(ctx, "tok-1")
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestStore_EntriesSelfExpire(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Revoke(ctx, "tok-1", time.Now().Add(10*time.Millisecond)))
	time.Sleep(20 * time.Millisecond)
	revoked, err := store.IsRevoked(ctx, "tok-1")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestFailOpenGate_DefaultsClosed(t *testing.T) {
	gate := FailOpenGate{Store: erroringStore{}, FailOpen: false}
	assert.True(t, gate.IsRevoked(context.Background(), "tok-1"))
}

func TestFailOpenGate_ExplicitOpen(t *testing.T) {
	gate := FailOpenGate{Store: erroringStore{}, FailOpen: true}
	assert.False(t, gate.IsRevoked(context.Background(), "tok-1"))
}

type erroringStore struct{}

func (erroringStore) Revoke(context.Context, string, time.Time) error { return nil }
func (erroringStore) IsRevoked(context.Context, string) (bool, error) {
	return false, assertError{}
}

type assertError struct{}

func (assertError) Error() string { return "store unavailable" }
