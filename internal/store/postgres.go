// ABOUTME: PostgreSQL implementation of the ShopStore interface using lib/pq
// ABOUTME: Used when several app server instances share one database

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

// uniqueViolation is the SQLSTATE for a unique constraint violation.
const uniqueViolation = "23505"

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS shops (
		id                          TEXT PRIMARY KEY,
		app_key                     TEXT NOT NULL,
		shop_id                     TEXT NOT NULL,
		shop_host                   TEXT NOT NULL DEFAULT '',
		shop_request_url            TEXT NOT NULL DEFAULT '',
		shop_secret                 TEXT NOT NULL DEFAULT '',
		pending_shop_secret         TEXT,
		pending_shop_url            TEXT,
		registration_requested_at   TIMESTAMPTZ NOT NULL,
		registration_confirmed      BOOLEAN NOT NULL DEFAULT FALSE,
		registration_confirmed_at   TIMESTAMPTZ,
		admin_api_client_id         TEXT,
		admin_api_client_secret     TEXT,
		app_version                 TEXT,
		app_version_updated_at      TIMESTAMPTZ,
		shopware_version            TEXT,
		shopware_version_updated_at TIMESTAMPTZ,
		deleted_at                  TIMESTAMPTZ,
		re_registration_requires_shop_signature BOOLEAN NOT NULL DEFAULT FALSE,
		created_at                  TIMESTAMPTZ NOT NULL,
		updated_at                  TIMESTAMPTZ NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_shops_app_shop ON shops(app_key, shop_id);
	CREATE INDEX IF NOT EXISTS idx_shops_app_host ON shops(app_key, shop_host);
`

// PostgresStore implements ShopStore using PostgreSQL
type PostgresStore struct {
	db     *sql.DB
	sealer *Sealer
	logger *slog.Logger
}

// NewPostgresStore connects to the database at dsn and ensures the schema exists.
func NewPostgresStore(dsn string, opts ...Option) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s, err := NewPostgresStoreFromDB(db, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.logger.Info("PostgreSQL store initialized")
	return s, nil
}

// NewPostgresStoreFromDB wraps an already opened database handle.
func NewPostgresStoreFromDB(db *sql.DB, opts ...Option) (*PostgresStore, error) {
	o := buildOptions(opts)
	if _, err := db.Exec(postgresSchema); err != nil {
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &PostgresStore{db: db, sealer: o.sealer, logger: o.logger}, nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	s.logger.Info("closing PostgreSQL store")
	return s.db.Close()
}

// CreateShop inserts a new shop record.
func (s *PostgresStore) CreateShop(ctx context.Context, shop *Shop) error {
	secret, pending, clientSecret, err := s.sealer.sealShop(shop)
	if err != nil {
		return fmt.Errorf("sealing secrets: %w", err)
	}

	query := `INSERT INTO shops (` + shopColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`

	_, err = s.db.ExecContext(ctx, query,
		shop.ID,
		shop.AppKey,
		shop.ShopID,
		shop.ShopHost,
		shop.ShopRequestURL,
		secret,
		nullString(pending),
		nullString(shop.PendingShopURL),
		shop.RegistrationRequestedAt.UTC(),
		shop.RegistrationConfirmed,
		pgTime(shop.RegistrationConfirmedAt),
		nullString(shop.AdminAPIClientID),
		nullString(clientSecret),
		nullString(shop.AppVersion),
		pgTime(shop.AppVersionUpdatedAt),
		nullString(shop.ShopwareVersion),
		pgTime(shop.ShopwareVersionUpdatedAt),
		pgTime(shop.DeletedAt),
		shop.ReRegistrationRequiresShopSignature,
		shop.CreatedAt.UTC(),
		shop.UpdatedAt.UTC(),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return ErrDuplicateShop
		}
		return fmt.Errorf("inserting shop: %w", err)
	}

	s.logger.Debug("created shop", "id", shop.ID, "app", shop.AppKey, "shop_id", shop.ShopID)
	return nil
}

// UpdateShop writes every mutable column of an existing shop.
func (s *PostgresStore) UpdateShop(ctx context.Context, shop *Shop) error {
	secret, pending, clientSecret, err := s.sealer.sealShop(shop)
	if err != nil {
		return fmt.Errorf("sealing secrets: %w", err)
	}

	query := `
		UPDATE shops SET
			shop_host = $1, shop_request_url = $2, shop_secret = $3,
			pending_shop_secret = $4, pending_shop_url = $5, registration_requested_at = $6,
			registration_confirmed = $7, registration_confirmed_at = $8,
			admin_api_client_id = $9, admin_api_client_secret = $10,
			app_version = $11, app_version_updated_at = $12,
			shopware_version = $13, shopware_version_updated_at = $14,
			deleted_at = $15, re_registration_requires_shop_signature = $16, updated_at = $17
		WHERE id = $18
	`

	result, err := s.db.ExecContext(ctx, query,
		shop.ShopHost,
		shop.ShopRequestURL,
		secret,
		nullString(pending),
		nullString(shop.PendingShopURL),
		shop.RegistrationRequestedAt.UTC(),
		shop.RegistrationConfirmed,
		pgTime(shop.RegistrationConfirmedAt),
		nullString(shop.AdminAPIClientID),
		nullString(clientSecret),
		nullString(shop.AppVersion),
		pgTime(shop.AppVersionUpdatedAt),
		nullString(shop.ShopwareVersion),
		pgTime(shop.ShopwareVersionUpdatedAt),
		pgTime(shop.DeletedAt),
		shop.ReRegistrationRequiresShopSignature,
		shop.UpdatedAt.UTC(),
		shop.ID,
	)
	if err != nil {
		return fmt.Errorf("updating shop: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// GetShop retrieves a shop by app key and shop id.
func (s *PostgresStore) GetShop(ctx context.Context, appKey, shopID string) (*Shop, error) {
	return s.getOne(ctx, `SELECT `+shopColumns+` FROM shops WHERE app_key = $1 AND shop_id = $2`, appKey, shopID)
}

// GetShopByID retrieves a shop by its internal id.
func (s *PostgresStore) GetShopByID(ctx context.Context, id string) (*Shop, error) {
	return s.getOne(ctx, `SELECT `+shopColumns+` FROM shops WHERE id = $1`, id)
}

// ListShopsByHost returns every shop of an app registered under the given host.
func (s *PostgresStore) ListShopsByHost(ctx context.Context, appKey, shopHost string) ([]*Shop, error) {
	return s.getMany(ctx, `SELECT `+shopColumns+` FROM shops WHERE app_key = $1 AND shop_host = $2 ORDER BY created_at`, appKey, shopHost)
}

// ListShops returns the shops of an app, or all shops when appKey is empty.
func (s *PostgresStore) ListShops(ctx context.Context, appKey string) ([]*Shop, error) {
	if appKey == "" {
		return s.getMany(ctx, `SELECT `+shopColumns+` FROM shops ORDER BY app_key, created_at`)
	}
	return s.getMany(ctx, `SELECT `+shopColumns+` FROM shops WHERE app_key = $1 ORDER BY created_at`, appKey)
}

func (s *PostgresStore) getOne(ctx context.Context, query string, args ...any) (*Shop, error) {
	shop, err := scanPostgresShop(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying shop: %w", err)
	}
	if err := s.sealer.openShop(shop); err != nil {
		return nil, err
	}
	return shop, nil
}

func (s *PostgresStore) getMany(ctx context.Context, query string, args ...any) ([]*Shop, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying shops: %w", err)
	}
	defer rows.Close()

	var shops []*Shop
	for rows.Next() {
		shop, err := scanPostgresShop(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning shop: %w", err)
		}
		if err := s.sealer.openShop(shop); err != nil {
			return nil, err
		}
		shops = append(shops, shop)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating shops: %w", err)
	}
	return shops, nil
}

func scanPostgresShop(row rowScanner) (*Shop, error) {
	var shop Shop
	var (
		pendingSecret, pendingURL, clientID, clientSecret sql.NullString
		appVersion, shopwareVersion                       sql.NullString
		confirmedAt, appVersionAt, shopwareVersionAt      sql.NullTime
		deletedAt                                         sql.NullTime
	)

	err := row.Scan(
		&shop.ID,
		&shop.AppKey,
		&shop.ShopID,
		&shop.ShopHost,
		&shop.ShopRequestURL,
		&shop.ShopSecret,
		&pendingSecret,
		&pendingURL,
		&shop.RegistrationRequestedAt,
		&shop.RegistrationConfirmed,
		&confirmedAt,
		&clientID,
		&clientSecret,
		&appVersion,
		&appVersionAt,
		&shopwareVersion,
		&shopwareVersionAt,
		&deletedAt,
		&shop.ReRegistrationRequiresShopSignature,
		&shop.CreatedAt,
		&shop.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	shop.PendingShopSecret = pendingSecret.String
	shop.PendingShopURL = pendingURL.String
	shop.AdminAPIClientID = clientID.String
	shop.AdminAPIClientSecret = clientSecret.String
	shop.AppVersion = appVersion.String
	shop.ShopwareVersion = shopwareVersion.String
	shop.RegistrationConfirmedAt = fromNullTime(confirmedAt)
	shop.AppVersionUpdatedAt = fromNullTime(appVersionAt)
	shop.ShopwareVersionUpdatedAt = fromNullTime(shopwareVersionAt)
	shop.DeletedAt = fromNullTime(deletedAt)

	return &shop, nil
}

func pgTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func fromNullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
