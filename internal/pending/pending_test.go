package pending

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shield-wallet/internal/storage"
	"github.com/shield-wallet/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewStore(storage.NewRedisCacheFromClient(client), time.Minute), mr
}

func TestPutGetRoundTrip(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	symbol := "STRK"
	ops := []*Op{
		NewShield("0xtoken", "12.5", &symbol),
		NewTransfer("chat-99", "0xtoken", "3", nil),
		NewUnshield("0xtoken", "7", "0xwithdraw", nil),
		NewDeploy(),
	}

	for _, op := range ops {
		require.NoError(t, store.Put(ctx, "chat-1", op))

		got, err := store.Get(ctx, "chat-1")
		require.NoError(t, err)
		assert.Equal(t, op.Kind, got.Kind)
	}

	// Last write wins; the variant payload survives
	got, err := store.Get(ctx, "chat-1")
	require.NoError(t, err)
	assert.Equal(t, types.PendingDeploy, got.Kind)
	assert.NotNil(t, got.Deploy)
	assert.Nil(t, got.Shield)
}

func TestGetMissing(t *testing.T) {
	store, _ := testStore(t)

	_, err := store.Get(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClear(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "chat-2", NewDeploy()))
	require.NoError(t, store.Clear(ctx, "chat-2"))

	_, err := store.Get(ctx, "chat-2")
	assert.ErrorIs(t, err, ErrNotFound)

	// Clearing again is a no-op
	assert.NoError(t, store.Clear(ctx, "chat-2"))
}

func TestExpiry(t *testing.T) {
	store, mr := testStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "chat-3", NewTransfer("chat-4", "0xtoken", "1", nil)))

	mr.FastForward(2 * time.Minute)

	_, err := store.Get(ctx, "chat-3")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestValidateRejectsMismatchedVariant(t *testing.T) {
	op := &Op{Kind: types.PendingShield}
	assert.Error(t, op.Validate())

	op = &Op{Kind: "mystery", CreatedAt: time.Now()}
	assert.Error(t, op.Validate())
}
