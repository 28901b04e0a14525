// ABOUTME: Shop registration state machine: register, confirm and delete
// ABOUTME: Persists through store.ShopStore and notifies the App of lifecycle changes

package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/codebarista-de/shopware-app-server/internal/apperr"
	"github.com/codebarista-de/shopware-app-server/internal/signature"
	"github.com/codebarista-de/shopware-app-server/internal/store"
)

// DeleteHook is called after a shop was marked as deleted.
type DeleteHook func(appKey, shopID string)

// Registry owns the registration lifecycle of shops.
type Registry struct {
	store        store.ShopStore
	logger       *slog.Logger
	now          func() time.Time
	mapLocalhost bool
	deleteHooks  []DeleteHook
	newSecret    func() (string, error)
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithLocalhostMapping maps the host 127.0.0.1 to localhost during host inference.
func WithLocalhostMapping(enabled bool) Option {
	return func(r *Registry) { r.mapLocalhost = enabled }
}

// WithDeleteHook registers a function run after every shop deletion.
func WithDeleteHook(hook DeleteHook) Option {
	return func(r *Registry) { r.deleteHooks = append(r.deleteHooks, hook) }
}

// New creates a Registry backed by st.
func New(st store.ShopStore, opts ...Option) *Registry {
	r := &Registry{
		store:     st,
		logger:    slog.Default(),
		now:       time.Now,
		newSecret: signature.GenerateSecret,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "registry")
	return r
}

// Register starts a (re-)registration of the shop and returns the freshly
// issued pending secret. An unconfirmed earlier registration is superseded.
//
// New shops are announced through App.OnRegisterShop and live shops through
// App.OnReRegisterShop. A shop that was deleted comes back as a new
// installation: its old secret and admin credentials are dropped and the app
// sees OnRegisterShop again, with the same internal shop id as before.
func (r *Registry) Register(ctx context.Context, app App, shopID, shopURL, shopwareVersion string, signatureVerified bool) (string, error) {
	shopHost, err := r.InferHost(shopURL)
	if err != nil {
		return "", err
	}

	now := r.now()
	shop, isNew, err := r.loadOrNew(ctx, app.Key(), shopID, shopHost, now)
	if err != nil {
		return "", err
	}

	shop.UpdateShopwareVersion(shopwareVersion, now)
	if shop.IsDeleted() {
		// A re-installation after uninstall starts over like a first installation.
		shop.RevertDeletion()
		resetCredentials(shop)
		shop.ReRegistrationRequiresShopSignature = false
	}
	if signatureVerified {
		shop.ReRegistrationRequiresShopSignature = true
	}

	secret, err := r.newSecret()
	if err != nil {
		return "", fmt.Errorf("generating shop secret: %w", err)
	}
	shop.SetPendingRegistration(secret, shopURL, now)
	shop.UpdatedAt = now

	if isNew {
		err = r.store.CreateShop(ctx, shop)
		if errors.Is(err, store.ErrDuplicateShop) {
			// Lost a race against a concurrent first registration; continue on the stored row.
			existing, getErr := r.store.GetShop(ctx, app.Key(), shopID)
			if getErr != nil {
				return "", fmt.Errorf("reloading shop: %w", getErr)
			}
			shop.ID = existing.ID
			shop.CreatedAt = existing.CreatedAt
			shop.ShopSecret = existing.ShopSecret
			shop.RegistrationConfirmed = existing.RegistrationConfirmed
			shop.RegistrationConfirmedAt = existing.RegistrationConfirmedAt
			shop.AdminAPIClientID = existing.AdminAPIClientID
			shop.AdminAPIClientSecret = existing.AdminAPIClientSecret
			err = r.store.UpdateShop(ctx, shop)
		}
	} else {
		err = r.store.UpdateShop(ctx, shop)
	}
	if err != nil {
		return "", fmt.Errorf("saving shop: %w", err)
	}

	if shop.ShopSecret == "" {
		r.logger.Info("shop registered", "app", app.Key(), "shop_id", shopID, "shop_host", shopHost)
		app.OnRegisterShop(ctx, shopHost, shopID, shop.ID)
	} else {
		r.logger.Info("shop re-registered", "app", app.Key(), "shop_id", shopID, "shop_host", shopHost)
		app.OnReRegisterShop(ctx, shopHost, shopID, shop.ID)
	}
	return secret, nil
}

func (r *Registry) loadOrNew(ctx context.Context, appKey, shopID, shopHost string, now time.Time) (*store.Shop, bool, error) {
	shop, err := r.store.GetShop(ctx, appKey, shopID)
	if err == nil {
		return shop, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, fmt.Errorf("loading shop: %w", err)
	}
	return &store.Shop{
		ID:        uuid.New().String(),
		AppKey:    appKey,
		ShopID:    shopID,
		ShopHost:  shopHost,
		CreatedAt: now,
	}, true, nil
}

func resetCredentials(shop *store.Shop) {
	shop.ShopSecret = ""
	shop.RegistrationConfirmed = false
	shop.RegistrationConfirmedAt = nil
	shop.AdminAPIClientID = ""
	shop.AdminAPIClientSecret = ""
}

// Confirm completes an outstanding registration. It returns false when no
// registration is pending or the confirming host differs from the registered one.
func (r *Registry) Confirm(ctx context.Context, app App, shopID, shopURL, clientID, clientSecret string) (bool, error) {
	confirmHost, err := r.InferHost(shopURL)
	if err != nil {
		return false, err
	}

	shop, err := r.store.GetShop(ctx, app.Key(), shopID)
	if errors.Is(err, store.ErrNotFound) {
		r.logger.Warn("confirmation for unknown shop", "app", app.Key(), "shop_id", shopID)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("loading shop: %w", err)
	}

	if shop.IsDeleted() || !shop.HasPendingRegistration() {
		r.logger.Warn("confirmation without pending registration", "app", app.Key(), "shop_id", shopID)
		return false, nil
	}

	pendingHost, err := r.InferHost(shop.PendingShopURL)
	if err != nil {
		return false, err
	}
	if pendingHost != confirmHost {
		r.logger.Warn("confirmation host mismatch",
			"app", app.Key(), "shop_id", shopID, "pending_host", pendingHost, "confirm_host", confirmHost)
		return false, nil
	}

	now := r.now()
	shop.ConfirmPendingRegistration(clientID, clientSecret, confirmHost, now)
	shop.UpdatedAt = now
	if err := r.store.UpdateShop(ctx, shop); err != nil {
		return false, fmt.Errorf("saving shop: %w", err)
	}

	r.logger.Info("shop registration confirmed", "app", app.Key(), "shop_id", shopID, "shop_host", confirmHost)
	return true, nil
}

// Delete marks the shop as uninstalled. shopURL is the uninstalling shop's URL;
// its host is reported to OnDeleteShop. Unknown shops are ignored once the URL
// has been validated.
func (r *Registry) Delete(ctx context.Context, app App, shopID, shopURL string) error {
	shopHost, err := r.InferHost(shopURL)
	if err != nil {
		return err
	}

	shop, err := r.store.GetShop(ctx, app.Key(), shopID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading shop: %w", err)
	}

	now := r.now()
	shop.MarkDeleted(now)
	shop.UpdatedAt = now
	if err := r.store.UpdateShop(ctx, shop); err != nil {
		return fmt.Errorf("saving shop: %w", err)
	}

	for _, hook := range r.deleteHooks {
		hook(app.Key(), shopID)
	}

	r.logger.Info("shop deleted", "app", app.Key(), "shop_id", shopID, "shop_host", shopHost)
	app.OnDeleteShop(ctx, shopHost, shopID, shop.ID)
	return nil
}

// RecordAppVersion stores the app version reported by the shop.
func (r *Registry) RecordAppVersion(ctx context.Context, app App, shopID, version string) error {
	shop, err := r.RequireShop(ctx, app.Key(), shopID)
	if err != nil {
		return err
	}
	now := r.now()
	previous := shop.AppVersion
	shop.UpdateAppVersion(version, now)
	if shop.AppVersion == previous {
		return nil
	}
	shop.UpdatedAt = now
	if err := r.store.UpdateShop(ctx, shop); err != nil {
		return fmt.Errorf("saving shop: %w", err)
	}
	r.logger.Info("app version updated", "app", app.Key(), "shop_id", shopID, "version", version)
	return nil
}

// GetShop returns the stored shop, deleted or not. Returns store.ErrNotFound when absent.
func (r *Registry) GetShop(ctx context.Context, appKey, shopID string) (*store.Shop, error) {
	return r.store.GetShop(ctx, appKey, shopID)
}

// RequireShop returns the installed shop or a NoSuchShop error when it is
// unknown or deleted.
func (r *Registry) RequireShop(ctx context.Context, appKey, shopID string) (*store.Shop, error) {
	shop, err := r.store.GetShop(ctx, appKey, shopID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NoSuchShop(appKey, shopID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading shop: %w", err)
	}
	if shop.IsDeleted() {
		return nil, apperr.NoSuchShop(appKey, shopID)
	}
	return shop, nil
}

// GetShopByURL returns the single installed shop of the app whose host matches shopURL.
func (r *Registry) GetShopByURL(ctx context.Context, appKey, shopURL string) (*store.Shop, error) {
	host, err := r.InferHost(shopURL)
	if err != nil {
		return nil, err
	}
	shops, err := r.store.ListShopsByHost(ctx, appKey, host)
	if err != nil {
		return nil, fmt.Errorf("listing shops: %w", err)
	}

	var match *store.Shop
	for _, shop := range shops {
		if shop.IsDeleted() {
			continue
		}
		if match != nil {
			r.logger.Warn("several shops share a host", "app", appKey, "shop_host", host)
			return nil, apperr.NoSuchShop(appKey, host)
		}
		match = shop
	}
	if match == nil {
		return nil, apperr.NoSuchShop(appKey, host)
	}
	return match, nil
}

// GetShopByInternalID returns the shop with the given internal id.
func (r *Registry) GetShopByInternalID(ctx context.Context, id string) (*store.Shop, error) {
	shop, err := r.store.GetShopByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NoSuchShopByID(id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading shop: %w", err)
	}
	return shop, nil
}

// ListShops returns the shops of an app, or of all apps when appKey is empty.
func (r *Registry) ListShops(ctx context.Context, appKey string) ([]*store.Shop, error) {
	return r.store.ListShops(ctx, appKey)
}

// InferHost extracts the host of shopURL.
func (r *Registry) InferHost(shopURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(shopURL))
	if err != nil {
		return "", apperr.InvalidShopURL(shopURL, err)
	}
	host := u.Hostname()
	if host == "" {
		return "", apperr.InvalidShopURL(shopURL, errors.New("missing host"))
	}
	if r.mapLocalhost && host == "127.0.0.1" {
		return "localhost", nil
	}
	return strings.ToLower(host), nil
}
