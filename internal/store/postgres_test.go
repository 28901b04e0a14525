// ABOUTME: Tests for the PostgreSQL store using go-sqlmock
// ABOUTME: An optional integration test runs against TEST_POSTGRES_DSN when it is set

package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockPostgres(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS shops").WillReturnResult(sqlmock.NewResult(0, 0))
	s, err := NewPostgresStoreFromDB(db)
	require.NoError(t, err)
	return s, mock
}

var shopColumnNames = []string{
	"id", "app_key", "shop_id", "shop_host", "shop_request_url", "shop_secret",
	"pending_shop_secret", "pending_shop_url", "registration_requested_at",
	"registration_confirmed", "registration_confirmed_at", "admin_api_client_id",
	"admin_api_client_secret", "app_version", "app_version_updated_at", "shopware_version",
	"shopware_version_updated_at", "deleted_at", "re_registration_requires_shop_signature",
	"created_at", "updated_at",
}

func TestPostgresStore_CreateShop(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectExec("INSERT INTO shops").WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.CreateShop(context.Background(), testShop("id-1", "my-app", "S1")))

	mock.ExpectExec("INSERT INTO shops").WillReturnError(&pq.Error{Code: "23505"})
	err := s.CreateShop(context.Background(), testShop("id-2", "my-app", "S1"))
	assert.ErrorIs(t, err, ErrDuplicateShop)

	mock.ExpectExec("INSERT INTO shops").WillReturnError(fmt.Errorf("connection reset"))
	err = s.CreateShop(context.Background(), testShop("id-3", "my-app", "S3"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDuplicateShop)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateShop_NotFound(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectExec("UPDATE shops SET").WillReturnResult(sqlmock.NewResult(0, 0))
	err := s.UpdateShop(context.Background(), testShop("id-1", "my-app", "S1"))
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetShop(t *testing.T) {
	s, mock := newMockPostgres(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 123000, time.UTC)

	rows := sqlmock.NewRows(shopColumnNames).AddRow(
		"id-1", "my-app", "S1", "shop.example", "https://shop.example", "secret",
		nil, nil, now,
		true, now, "cid",
		"csecret", "1.0.0", now, nil,
		nil, nil, false,
		now, now,
	)
	mock.ExpectQuery("SELECT (.+) FROM shops WHERE app_key = \\$1 AND shop_id = \\$2").
		WithArgs("my-app", "S1").
		WillReturnRows(rows)

	shop, err := s.GetShop(context.Background(), "my-app", "S1")
	require.NoError(t, err)
	assert.Equal(t, "id-1", shop.ID)
	assert.True(t, shop.RegistrationConfirmed)
	require.NotNil(t, shop.RegistrationConfirmedAt)
	assert.True(t, shop.RegistrationConfirmedAt.Equal(now))
	assert.Equal(t, "csecret", shop.AdminAPIClientSecret)
	assert.Empty(t, shop.PendingShopURL)
	assert.Nil(t, shop.DeletedAt)

	mock.ExpectQuery("SELECT (.+) FROM shops WHERE id = \\$1").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)
	_, err = s.GetShopByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Integration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}

	s, err := NewPostgresStore(dsn)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	appKey := fmt.Sprintf("it-app-%d", time.Now().UnixNano())
	shop := testShop(appKey+"-id", appKey, "S1")
	require.NoError(t, s.CreateShop(ctx, shop))
	assert.ErrorIs(t, s.CreateShop(ctx, testShop(appKey+"-id2", appKey, "S1")), ErrDuplicateShop)

	shop.MarkDeleted(time.Now().UTC())
	require.NoError(t, s.UpdateShop(ctx, shop))

	got, err := s.GetShop(ctx, appKey, "S1")
	require.NoError(t, err)
	assert.True(t, got.IsDeleted())

	byHost, err := s.ListShopsByHost(ctx, appKey, "shop.example")
	require.NoError(t, err)
	assert.Len(t, byHost, 1)
}
