// Package store provides persistent storage for shop registrations.
//
// # Architecture
//
// ShopStore is the single persistence interface. Three implementations exist:
//
//   - SQLiteStore: default, single-instance deployments (modernc.org/sqlite)
//   - PostgresStore: shared database for several instances (lib/pq)
//   - MockStore: in-memory, for unit tests
//
// # Data Model
//
// A Shop is one installation of one app in one Shopware shop and is unique
// per (AppKey, ShopID). Registration is a two-step process:
//
//   - SetPendingRegistration stores a freshly issued secret and shop URL
//   - ConfirmPendingRegistration promotes them to active and stores the
//     admin API credentials
//
// Uninstalling only sets DeletedAt; the row is kept so a later
// re-installation reuses the internal ID.
//
// # Secrets at Rest
//
// When a Sealer is passed via WithSealer, the shop secret, the pending shop
// secret and the admin API client secret are encrypted before they are
// written. Rows written without a key stay readable after one is configured.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//
// Timestamps are stored as RFC 3339 text with nanosecond precision.
//
// # Error Handling
//
// Common errors:
//
//   - ErrNotFound: Requested shop does not exist
//   - ErrDuplicateShop: Shop already exists for the app
//
// All methods accept context.Context for cancellation support.
//
// # Testing
//
// Use NewMockStore() for unit tests:
//
//	store := store.NewMockStore()
//
// Use NewSQLiteStore(":memory:") for integration tests with real SQLite.
//
// # Migrations
//
// Columns added after the first release are applied on start-up by checking
// pragma_table_info and running ALTER TABLE when the column is missing.
package store
