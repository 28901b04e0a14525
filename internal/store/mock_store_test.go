// ABOUTME: Unit tests for MockStore to ensure behavior matches SQLiteStore
// ABOUTME: Focuses on duplicate detection and copy semantics of the in-memory implementation

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockStore_CreateShop_Duplicate(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()

	require.NoError(t, store.CreateShop(ctx, testShop("id-1", "my-app", "S1")))

	// Second create with same (app_key, shop_id) should fail
	err := store.CreateShop(ctx, testShop("id-2", "my-app", "S1"))
	assert.ErrorIs(t, err, ErrDuplicateShop)
}

func TestMockStore_ReturnsCopies(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()

	shop := testShop("id-1", "my-app", "S1")
	require.NoError(t, store.CreateShop(ctx, shop))

	// Mutating the original or a returned value must not leak into the store
	shop.ShopSecret = "changed"
	got, err := store.GetShop(ctx, "my-app", "S1")
	require.NoError(t, err)
	assert.NotEqual(t, "changed", got.ShopSecret)

	got.MarkDeleted(time.Now())
	again, err := store.GetShopByID(ctx, "id-1")
	require.NoError(t, err)
	assert.Nil(t, again.DeletedAt)
}

func TestMockStore_UpdateShop(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()

	assert.ErrorIs(t, store.UpdateShop(ctx, testShop("id-1", "my-app", "S1")), ErrNotFound)

	shop := testShop("id-1", "my-app", "S1")
	require.NoError(t, store.CreateShop(ctx, shop))
	shop.ShopHost = "moved.example"
	require.NoError(t, store.UpdateShop(ctx, shop))

	shops, err := store.ListShopsByHost(ctx, "my-app", "moved.example")
	require.NoError(t, err)
	require.Len(t, shops, 1)
	assert.Equal(t, "id-1", shops[0].ID)
}

func TestMockStore_ListShops(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()

	require.NoError(t, store.CreateShop(ctx, testShop("id-1", "b-app", "S1")))
	require.NoError(t, store.CreateShop(ctx, testShop("id-2", "a-app", "S2")))

	all, err := store.ListShops(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a-app", all[0].AppKey)

	one, err := store.ListShops(ctx, "b-app")
	require.NoError(t, err)
	assert.Len(t, one, 1)
}
