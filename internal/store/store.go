// ABOUTME: Store interface and the Shop record for shopware-app-server persistence
// ABOUTME: One Shop is one installation of one app in one shop, unique per (app key, shop id)

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested shop does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateShop is returned when a shop with the same app key and shop id already exists
var ErrDuplicateShop = errors.New("shop already exists")

// Shop is the persisted registration state of one app installation.
// Empty strings stand in for NULL columns.
type Shop struct {
	ID             string // internal id, assigned once
	AppKey         string
	ShopID         string
	ShopHost       string
	ShopRequestURL string
	ShopSecret     string // active secret, empty until the first confirmation

	// Set only while a (re-)registration awaits confirmation.
	PendingShopSecret string
	PendingShopURL    string

	RegistrationRequestedAt time.Time
	RegistrationConfirmed   bool
	RegistrationConfirmedAt *time.Time

	AdminAPIClientID     string
	AdminAPIClientSecret string

	AppVersion               string
	AppVersionUpdatedAt      *time.Time
	ShopwareVersion          string
	ShopwareVersionUpdatedAt *time.Time

	DeletedAt *time.Time

	// Once a re-registration was verified with a shop signature, every later
	// re-registration must carry one too.
	ReRegistrationRequiresShopSignature bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasPendingRegistration reports whether a registration awaits confirmation.
func (s *Shop) HasPendingRegistration() bool {
	return s.PendingShopURL != ""
}

// SetPendingRegistration stores a freshly issued secret, replacing any
// still-unconfirmed one.
func (s *Shop) SetPendingRegistration(secret, shopURL string, now time.Time) {
	s.PendingShopSecret = secret
	s.PendingShopURL = shopURL
	s.RegistrationRequestedAt = now
}

// ConfirmPendingRegistration promotes the pending secret and URL to active,
// clears the pending fields and stores the admin API credentials.
func (s *Shop) ConfirmPendingRegistration(clientID, clientSecret, shopHost string, now time.Time) {
	s.ShopSecret = s.PendingShopSecret
	s.ShopRequestURL = s.PendingShopURL
	s.ShopHost = shopHost
	s.PendingShopSecret = ""
	s.PendingShopURL = ""
	s.AdminAPIClientID = clientID
	s.AdminAPIClientSecret = clientSecret
	s.RegistrationConfirmed = true
	confirmedAt := now
	s.RegistrationConfirmedAt = &confirmedAt
}

// IsDeleted reports whether the app was uninstalled from the shop.
func (s *Shop) IsDeleted() bool {
	return s.DeletedAt != nil
}

// MarkDeleted sets the delete marker unless it is already set.
func (s *Shop) MarkDeleted(now time.Time) {
	if s.DeletedAt != nil {
		return
	}
	deletedAt := now
	s.DeletedAt = &deletedAt
}

// RevertDeletion clears the delete marker.
func (s *Shop) RevertDeletion() {
	s.DeletedAt = nil
}

// UpdateShopwareVersion records the platform version if it changed.
func (s *Shop) UpdateShopwareVersion(version string, now time.Time) {
	if version == "" || version == s.ShopwareVersion {
		return
	}
	s.ShopwareVersion = version
	updatedAt := now
	s.ShopwareVersionUpdatedAt = &updatedAt
}

// UpdateAppVersion records the installed app version if it changed.
func (s *Shop) UpdateAppVersion(version string, now time.Time) {
	if version == "" || version == s.AppVersion {
		return
	}
	s.AppVersion = version
	updatedAt := now
	s.AppVersionUpdatedAt = &updatedAt
}

// ShopStore defines the persistence operations for shop records
type ShopStore interface {
	// CreateShop inserts a new shop. Returns ErrDuplicateShop if (AppKey, ShopID) is taken.
	CreateShop(ctx context.Context, shop *Shop) error
	// UpdateShop overwrites the shop with the same ID. Returns ErrNotFound if absent.
	UpdateShop(ctx context.Context, shop *Shop) error
	// GetShop returns the shop for (appKey, shopID), deleted or not.
	GetShop(ctx context.Context, appKey, shopID string) (*Shop, error)
	// GetShopByID returns the shop with the given internal id.
	GetShopByID(ctx context.Context, id string) (*Shop, error)
	// ListShopsByHost returns all shops of an app with the given host.
	ListShopsByHost(ctx context.Context, appKey, shopHost string) ([]*Shop, error)
	// ListShops returns the shops of an app, or of all apps when appKey is empty.
	ListShops(ctx context.Context, appKey string) ([]*Shop, error)

	// Close releases any resources held by the store
	Close() error
}
