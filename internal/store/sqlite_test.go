// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Covers shop CRUD, host lookups, secret sealing and migrations of older databases

package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSQLiteStore(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestCreateAndGetShop(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	shop := testShop("id-1", "my-app", "S1")
	confirmedAt := shop.CreatedAt.Add(-time.Millisecond)
	shop.RegistrationConfirmed = true
	shop.RegistrationConfirmedAt = &confirmedAt
	shop.AdminAPIClientID = "client-id"
	shop.AdminAPIClientSecret = "client-secret"

	if err := store.CreateShop(ctx, shop); err != nil {
		t.Fatalf("CreateShop failed: %v", err)
	}

	got, err := store.GetShop(ctx, "my-app", "S1")
	if err != nil {
		t.Fatalf("GetShop failed: %v", err)
	}

	assert.Equal(t, shop.ID, got.ID)
	assert.Equal(t, shop.ShopHost, got.ShopHost)
	assert.Equal(t, shop.ShopSecret, got.ShopSecret)
	assert.Equal(t, "client-secret", got.AdminAPIClientSecret)
	assert.True(t, got.RegistrationConfirmed)
	require.NotNil(t, got.RegistrationConfirmedAt)
	assert.True(t, got.RegistrationConfirmedAt.Equal(confirmedAt), "sub-second precision must survive")
	assert.True(t, got.CreatedAt.Equal(shop.CreatedAt))
	assert.Nil(t, got.DeletedAt)
	assert.Empty(t, got.PendingShopURL)
}

func TestCreateShop_Duplicate(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.CreateShop(ctx, testShop("id-1", "my-app", "S1")))

	err := store.CreateShop(ctx, testShop("id-2", "my-app", "S1"))
	assert.ErrorIs(t, err, ErrDuplicateShop)

	// Same shop id under another app is a separate installation
	assert.NoError(t, store.CreateShop(ctx, testShop("id-3", "other-app", "S1")))
}

func TestGetShop_NotFound(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	_, err := store.GetShop(ctx, "my-app", "nonexistent")
	if err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	_, err = store.GetShopByID(ctx, "nonexistent")
	if err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateShop(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	shop := testShop("id-1", "my-app", "S1")
	require.NoError(t, store.CreateShop(ctx, shop))

	now := time.Now().UTC()
	shop.SetPendingRegistration("pending-secret", "https://new.example", now)
	shop.UpdateShopwareVersion("6.5.0.0", now)
	shop.MarkDeleted(now)
	shop.ReRegistrationRequiresShopSignature = true
	shop.UpdatedAt = now
	require.NoError(t, store.UpdateShop(ctx, shop))

	got, err := store.GetShopByID(ctx, "id-1")
	require.NoError(t, err)
	assert.Equal(t, "pending-secret", got.PendingShopSecret)
	assert.Equal(t, "https://new.example", got.PendingShopURL)
	assert.Equal(t, "6.5.0.0", got.ShopwareVersion)
	require.NotNil(t, got.DeletedAt)
	assert.True(t, got.DeletedAt.Equal(now))
	assert.True(t, got.ReRegistrationRequiresShopSignature)

	got.RevertDeletion()
	require.NoError(t, store.UpdateShop(ctx, got))
	again, err := store.GetShopByID(ctx, "id-1")
	require.NoError(t, err)
	assert.Nil(t, again.DeletedAt)
}

func TestUpdateShop_NotFound(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	err := store.UpdateShop(context.Background(), testShop("missing", "my-app", "S1"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListShopsByHost(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	a := testShop("id-1", "my-app", "S1")
	b := testShop("id-2", "my-app", "S2")
	b.ShopHost = "other.example"
	c := testShop("id-3", "other-app", "S3")
	for _, s := range []*Shop{a, b, c} {
		require.NoError(t, store.CreateShop(ctx, s))
	}

	shops, err := store.ListShopsByHost(ctx, "my-app", "shop.example")
	require.NoError(t, err)
	require.Len(t, shops, 1)
	assert.Equal(t, "S1", shops[0].ShopID)

	shops, err = store.ListShopsByHost(ctx, "my-app", "unknown.example")
	require.NoError(t, err)
	assert.Empty(t, shops)
}

func TestListShops(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.CreateShop(ctx, testShop("id-1", "my-app", "S1")))
	require.NoError(t, store.CreateShop(ctx, testShop("id-2", "my-app", "S2")))
	require.NoError(t, store.CreateShop(ctx, testShop("id-3", "other-app", "S3")))

	mine, err := store.ListShops(ctx, "my-app")
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	all, err := store.ListShops(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestSQLiteStore_SealsSecrets(t *testing.T) {
	sealer, err := NewSealer([]byte(strings.Repeat("k", MinMasterKeyLength)))
	require.NoError(t, err)

	dbPath := filepath.Join(t.TempDir(), "sealed.db")
	store, err := NewSQLiteStore(dbPath, WithSealer(sealer))
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	shop := testShop("id-1", "my-app", "S1")
	shop.AdminAPIClientSecret = "client-secret"
	require.NoError(t, store.CreateShop(ctx, shop))

	var raw string
	require.NoError(t, store.db.QueryRow(`SELECT shop_secret FROM shops WHERE id = 'id-1'`).Scan(&raw))
	assert.True(t, strings.HasPrefix(raw, sealedPrefix))
	assert.NotContains(t, raw, shop.ShopSecret)

	got, err := store.GetShop(ctx, "my-app", "S1")
	require.NoError(t, err)
	assert.Equal(t, shop.ShopSecret, got.ShopSecret)
	assert.Equal(t, "client-secret", got.AdminAPIClientSecret)
}

func TestSQLiteStore_MigratesOldSchema(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "old.db")

	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	_, err = db.Exec(`
		CREATE TABLE shops (
			id TEXT PRIMARY KEY,
			app_key TEXT NOT NULL,
			shop_id TEXT NOT NULL,
			shop_host TEXT NOT NULL DEFAULT '',
			shop_request_url TEXT NOT NULL DEFAULT '',
			shop_secret TEXT NOT NULL DEFAULT '',
			pending_shop_secret TEXT,
			pending_shop_url TEXT,
			registration_requested_at TEXT NOT NULL,
			registration_confirmed INTEGER NOT NULL DEFAULT 0,
			registration_confirmed_at TEXT,
			admin_api_client_id TEXT,
			admin_api_client_secret TEXT,
			app_version TEXT,
			shopware_version TEXT,
			shopware_version_updated_at TEXT,
			deleted_at TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	shop := testShop("id-1", "my-app", "S1")
	shop.ReRegistrationRequiresShopSignature = true
	shop.UpdateAppVersion("1.2.0", time.Now())
	require.NoError(t, store.CreateShop(ctx, shop))

	got, err := store.GetShop(ctx, "my-app", "S1")
	require.NoError(t, err)
	assert.True(t, got.ReRegistrationRequiresShopSignature)
	assert.Equal(t, "1.2.0", got.AppVersion)
	assert.NotNil(t, got.AppVersionUpdatedAt)
}

func TestSQLiteStore_InMemory(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.CreateShop(ctx, testShop("id-1", "my-app", "S1")))
	_, err = store.GetShop(ctx, "my-app", "S1")
	assert.NoError(t, err)
}

// newTestStore creates a SQLiteStore in a temporary directory for testing
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}

	return store
}

func testShop(id, appKey, shopID string) *Shop {
	now := time.Now().UTC()
	return &Shop{
		ID:                      id,
		AppKey:                  appKey,
		ShopID:                  shopID,
		ShopHost:                "shop.example",
		ShopRequestURL:          "https://shop.example",
		ShopSecret:              "active-secret-" + shopID,
		RegistrationRequestedAt: now,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
}
