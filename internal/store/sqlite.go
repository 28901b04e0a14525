// ABOUTME: SQLite implementation of the ShopStore interface using modernc.org/sqlite
// ABOUTME: Provides shop persistence with automatic schema creation and column migrations

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Option configures a store
type Option func(*options)

type options struct {
	sealer *Sealer
	logger *slog.Logger
}

// WithSealer encrypts secret columns with the given sealer.
func WithSealer(sealer *Sealer) Option {
	return func(o *options) { o.sealer = sealer }
}

// WithLogger sets the logger used by the store.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func buildOptions(opts []Option) options {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = o.logger.With("component", "store")
	return o
}

// SQLiteStore implements ShopStore using SQLite
type SQLiteStore struct {
	db     *sql.DB
	sealer *Sealer
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string, opts ...Option) (*SQLiteStore, error) {
	o := buildOptions(opts)

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A single connection keeps ":memory:" databases alive across calls
	// and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		sealer: o.sealer,
		logger: o.logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	o.logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS shops (
			id                          TEXT PRIMARY KEY,
			app_key                     TEXT NOT NULL,
			shop_id                     TEXT NOT NULL,
			shop_host                   TEXT NOT NULL DEFAULT '',
			shop_request_url            TEXT NOT NULL DEFAULT '',
			shop_secret                 TEXT NOT NULL DEFAULT '',
			pending_shop_secret         TEXT,
			pending_shop_url            TEXT,
			registration_requested_at   TEXT NOT NULL,
			registration_confirmed      INTEGER NOT NULL DEFAULT 0,
			registration_confirmed_at   TEXT,
			admin_api_client_id         TEXT,
			admin_api_client_secret     TEXT,
			app_version                 TEXT,
			app_version_updated_at      TEXT,
			shopware_version            TEXT,
			shopware_version_updated_at TEXT,
			deleted_at                  TEXT,
			re_registration_requires_shop_signature INTEGER NOT NULL DEFAULT 0,
			created_at                  TEXT NOT NULL,
			updated_at                  TEXT NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_shops_app_shop ON shops(app_key, shop_id);
		CREATE INDEX IF NOT EXISTS idx_shops_app_host ON shops(app_key, shop_host);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations adds columns introduced after the first release.
// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
func (s *SQLiteStore) runMigrations() error {
	migrations := []struct {
		check  string
		apply  string
		column string
	}{
		{
			check:  `SELECT 1 FROM pragma_table_info('shops') WHERE name = 're_registration_requires_shop_signature'`,
			apply:  `ALTER TABLE shops ADD COLUMN re_registration_requires_shop_signature INTEGER NOT NULL DEFAULT 0`,
			column: "re_registration_requires_shop_signature",
		},
		{
			check:  `SELECT 1 FROM pragma_table_info('shops') WHERE name = 'app_version_updated_at'`,
			apply:  `ALTER TABLE shops ADD COLUMN app_version_updated_at TEXT`,
			column: "app_version_updated_at",
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(m.check).Scan(&exists)
		if err == nil {
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to shops: %w", m.column, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", "shops")
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

const shopColumns = `id, app_key, shop_id, shop_host, shop_request_url, shop_secret,
	pending_shop_secret, pending_shop_url, registration_requested_at,
	registration_confirmed, registration_confirmed_at, admin_api_client_id,
	admin_api_client_secret, app_version, app_version_updated_at, shopware_version,
	shopware_version_updated_at, deleted_at, re_registration_requires_shop_signature,
	created_at, updated_at`

// CreateShop inserts a new shop record.
// Returns ErrDuplicateShop if the app already has a shop with this shop id.
func (s *SQLiteStore) CreateShop(ctx context.Context, shop *Shop) error {
	secret, pending, clientSecret, err := s.sealer.sealShop(shop)
	if err != nil {
		return fmt.Errorf("sealing secrets: %w", err)
	}

	query := `INSERT INTO shops (` + shopColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		shop.ID,
		shop.AppKey,
		shop.ShopID,
		shop.ShopHost,
		shop.ShopRequestURL,
		secret,
		nullString(pending),
		nullString(shop.PendingShopURL),
		formatTime(shop.RegistrationRequestedAt),
		shop.RegistrationConfirmed,
		nullTime(shop.RegistrationConfirmedAt),
		nullString(shop.AdminAPIClientID),
		nullString(clientSecret),
		nullString(shop.AppVersion),
		nullTime(shop.AppVersionUpdatedAt),
		nullString(shop.ShopwareVersion),
		nullTime(shop.ShopwareVersionUpdatedAt),
		nullTime(shop.DeletedAt),
		shop.ReRegistrationRequiresShopSignature,
		formatTime(shop.CreatedAt),
		formatTime(shop.UpdatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateShop
		}
		return fmt.Errorf("inserting shop: %w", err)
	}

	s.logger.Debug("created shop", "id", shop.ID, "app", shop.AppKey, "shop_id", shop.ShopID)
	return nil
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// UpdateShop writes every mutable column of an existing shop.
// Returns ErrNotFound if the shop doesn't exist.
func (s *SQLiteStore) UpdateShop(ctx context.Context, shop *Shop) error {
	secret, pending, clientSecret, err := s.sealer.sealShop(shop)
	if err != nil {
		return fmt.Errorf("sealing secrets: %w", err)
	}

	query := `
		UPDATE shops SET
			shop_host = ?, shop_request_url = ?, shop_secret = ?,
			pending_shop_secret = ?, pending_shop_url = ?, registration_requested_at = ?,
			registration_confirmed = ?, registration_confirmed_at = ?,
			admin_api_client_id = ?, admin_api_client_secret = ?,
			app_version = ?, app_version_updated_at = ?,
			shopware_version = ?, shopware_version_updated_at = ?,
			deleted_at = ?, re_registration_requires_shop_signature = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		shop.ShopHost,
		shop.ShopRequestURL,
		secret,
		nullString(pending),
		nullString(shop.PendingShopURL),
		formatTime(shop.RegistrationRequestedAt),
		shop.RegistrationConfirmed,
		nullTime(shop.RegistrationConfirmedAt),
		nullString(shop.AdminAPIClientID),
		nullString(clientSecret),
		nullString(shop.AppVersion),
		nullTime(shop.AppVersionUpdatedAt),
		nullString(shop.ShopwareVersion),
		nullTime(shop.ShopwareVersionUpdatedAt),
		nullTime(shop.DeletedAt),
		shop.ReRegistrationRequiresShopSignature,
		formatTime(shop.UpdatedAt),
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

	s.logger.Debug("updated shop", "id", shop.ID, "app", shop.AppKey, "shop_id", shop.ShopID)
	return nil
}

// GetShop retrieves a shop by app key and shop id.
// Returns ErrNotFound if the shop doesn't exist.
func (s *SQLiteStore) GetShop(ctx context.Context, appKey, shopID string) (*Shop, error) {
	query := `SELECT ` + shopColumns + ` FROM shops WHERE app_key = ? AND shop_id = ?`
	return s.getOne(ctx, query, appKey, shopID)
}

// GetShopByID retrieves a shop by its internal id.
// Returns ErrNotFound if the shop doesn't exist.
func (s *SQLiteStore) GetShopByID(ctx context.Context, id string) (*Shop, error) {
	query := `SELECT ` + shopColumns + ` FROM shops WHERE id = ?`
	return s.getOne(ctx, query, id)
}

// ListShopsByHost returns every shop of an app registered under the given host.
func (s *SQLiteStore) ListShopsByHost(ctx context.Context, appKey, shopHost string) ([]*Shop, error) {
	query := `SELECT ` + shopColumns + ` FROM shops WHERE app_key = ? AND shop_host = ? ORDER BY created_at`
	return s.getMany(ctx, query, appKey, shopHost)
}

// ListShops returns the shops of an app, or all shops when appKey is empty.
func (s *SQLiteStore) ListShops(ctx context.Context, appKey string) ([]*Shop, error) {
	if appKey == "" {
		return s.getMany(ctx, `SELECT `+shopColumns+` FROM shops ORDER BY app_key, created_at`)
	}
	return s.getMany(ctx, `SELECT `+shopColumns+` FROM shops WHERE app_key = ? ORDER BY created_at`, appKey)
}

func (s *SQLiteStore) getOne(ctx context.Context, query string, args ...any) (*Shop, error) {
	shop, err := scanSQLiteShop(s.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
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

func (s *SQLiteStore) getMany(ctx context.Context, query string, args ...any) ([]*Shop, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying shops: %w", err)
	}
	defer rows.Close()

	var shops []*Shop
	for rows.Next() {
		shop, err := scanSQLiteShop(rows)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteShop(row rowScanner) (*Shop, error) {
	var shop Shop
	var (
		pendingSecret, pendingURL, clientID, clientSecret sql.NullString
		appVersion, shopwareVersion                       sql.NullString
		confirmedAt, appVersionAt, shopwareVersionAt      sql.NullString
		deletedAt                                         sql.NullString
		requestedAt, createdAt, updatedAt                 string
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
		&requestedAt,
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
		&createdAt,
		&updatedAt,
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

	if shop.RegistrationRequestedAt, err = parseTime(requestedAt); err != nil {
		return nil, fmt.Errorf("parsing registration_requested_at: %w", err)
	}
	if shop.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if shop.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	if shop.RegistrationConfirmedAt, err = parseNullTime(confirmedAt); err != nil {
		return nil, fmt.Errorf("parsing registration_confirmed_at: %w", err)
	}
	if shop.AppVersionUpdatedAt, err = parseNullTime(appVersionAt); err != nil {
		return nil, fmt.Errorf("parsing app_version_updated_at: %w", err)
	}
	if shop.ShopwareVersionUpdatedAt, err = parseNullTime(shopwareVersionAt); err != nil {
		return nil, fmt.Errorf("parsing shopware_version_updated_at: %w", err)
	}
	if shop.DeletedAt, err = parseNullTime(deletedAt); err != nil {
		return nil, fmt.Errorf("parsing deleted_at: %w", err)
	}

	return &shop, nil
}

// nullString converts empty strings to NULL for optional columns
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Timestamps keep sub-second precision: the access-token cache compares the
// confirmation time against token creation times within the same second.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
