// ABOUTME: Per-shop cache of OAuth2 client-credentials tokens for the platform's admin API
// ABOUTME: Entries expire at 75% of the declared lifetime and die with the shop's next confirmation

package adminapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/codebarista-de/shopware-app-server/internal/apperr"
	"github.com/codebarista-de/shopware-app-server/internal/registry"
	"github.com/codebarista-de/shopware-app-server/internal/store"
)

// TokenPath is the platform's OAuth2 token endpoint relative to the shop URL.
const TokenPath = "/api/oauth/token"

// ExpiryFraction of the declared lifetime after which a token is refreshed.
const ExpiryFraction = 0.75

// DefaultSweepInterval is how often expired entries are removed.
const DefaultSweepInterval = time.Minute

// Result labels reported to the observer.
const (
	ResultHit   = "hit"
	ResultMiss  = "miss"
	ResultError = "error"
)

// ShopLookup returns an installed, non-deleted shop.
type ShopLookup interface {
	RequireShop(ctx context.Context, appKey, shopID string) (*store.Shop, error)
}

// Token is a cached admin API access token.
type Token struct {
	AccessToken string
	TokenType   string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// usable reports whether the token is unexpired and was minted after the
// shop's last confirmation.
func (t *Token) usable(now time.Time, confirmedAt *time.Time) bool {
	if !t.ExpiresAt.After(now) {
		return false
	}
	return confirmedAt != nil && confirmedAt.Before(t.CreatedAt)
}

type cacheKey struct {
	appKey string
	shopID string
}

// Options configures a TokenCache.
type Options struct {
	// SSLOnly forces https for token requests.
	SSLOnly bool
	// HTTPClient performs token requests. Defaults to a client with a 30s timeout.
	HTTPClient *http.Client
	// SweepInterval between removals of expired entries. Defaults to DefaultSweepInterval.
	SweepInterval time.Duration
	// Observe receives ResultHit, ResultMiss or ResultError for every lookup.
	Observe func(result string)
	Logger  *slog.Logger
}

// TokenCache obtains and caches access tokens per (app, shop). Concurrent
// refreshes of one key race; the last writer wins.
type TokenCache struct {
	shops      ShopLookup
	sslOnly    bool
	httpClient *http.Client
	observe    func(string)
	logger     *slog.Logger
	now        func() time.Time

	mu      sync.RWMutex
	entries map[cacheKey]*Token

	done   chan struct{}
	closed bool
}

// NewTokenCache creates the cache and starts its background sweep.
func NewTokenCache(shops ShopLookup, opts Options) *TokenCache {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.Observe == nil {
		opts.Observe = func(string) {}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	c := &TokenCache{
		shops:      shops,
		sslOnly:    opts.SSLOnly,
		httpClient: opts.HTTPClient,
		observe:    opts.Observe,
		logger:     opts.Logger.With("component", "adminapi"),
		now:        time.Now,
		entries:    make(map[cacheKey]*Token),
		done:       make(chan struct{}),
	}
	go c.sweep(opts.SweepInterval)
	return c
}

// GetAccessToken returns a usable token for the shop, requesting a new one
// when the cached entry is missing, expired or predates the last confirmation.
func (c *TokenCache) GetAccessToken(ctx context.Context, app registry.App, shopID string) (*Token, error) {
	shop, err := c.shops.RequireShop(ctx, app.Key(), shopID)
	if err != nil {
		c.observe(ResultError)
		return nil, err
	}

	key := cacheKey{appKey: app.Key(), shopID: shopID}
	c.mu.RLock()
	cached, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && cached.usable(c.now(), shop.RegistrationConfirmedAt) {
		c.observe(ResultHit)
		return cached, nil
	}

	token, err := c.requestToken(ctx, shop)
	if err != nil {
		c.observe(ResultError)
		return nil, err
	}

	c.mu.Lock()
	c.entries[key] = token
	c.mu.Unlock()

	c.observe(ResultMiss)
	return token, nil
}

// requestToken performs the client-credentials grant against the shop.
func (c *TokenCache) requestToken(ctx context.Context, shop *store.Shop) (*Token, error) {
	tokenURL, err := c.tokenURL(shop.ShopRequestURL)
	if err != nil {
		return nil, err
	}

	cfg := clientcredentials.Config{
		ClientID:     shop.AdminAPIClientID,
		ClientSecret: shop.AdminAPIClientSecret,
		TokenURL:     tokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}

	createdAt := c.now()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	tok, err := cfg.Token(ctx)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			c.logger.Error("admin API unreachable", "app", shop.AppKey, "shop_id", shop.ShopID, "error", err)
			return nil, apperr.ShopwareAccess(shop.ShopID, err)
		}
		c.logger.Warn("access token request rejected", "app", shop.AppKey, "shop_id", shop.ShopID, "error", err)
		return nil, apperr.AccessDenied("access token request failed", err)
	}

	lifetime := time.Duration(expiresInSeconds(tok) * ExpiryFraction * float64(time.Second))
	c.logger.Debug("access token obtained", "app", shop.AppKey, "shop_id", shop.ShopID, "cached_for", lifetime)

	return &Token{
		AccessToken: tok.AccessToken,
		TokenType:   tok.Type(),
		CreatedAt:   createdAt,
		ExpiresAt:   createdAt.Add(lifetime),
	}, nil
}

// tokenURL builds the token endpoint, forcing https when sslOnly is set.
func (c *TokenCache) tokenURL(shopURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(shopURL))
	if err != nil || u.Host == "" {
		return "", apperr.InvalidShopURL(shopURL, err)
	}
	if c.sslOnly {
		u.Scheme = "https"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + TokenPath
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

// expiresInSeconds reads the raw expires_in field; a missing value yields 0.
func expiresInSeconds(tok *oauth2.Token) float64 {
	switch v := tok.Extra("expires_in").(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return 0
}

// Invalidate drops the cached token of a shop.
func (c *TokenCache) Invalidate(appKey, shopID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, cacheKey{appKey: appKey, shopID: shopID})
}

// Len returns the number of cached entries.
func (c *TokenCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// sweep runs in a background goroutine, periodically removing expired entries.
func (c *TokenCache) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.done:
			return
		}
	}
}

func (c *TokenCache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, token := range c.entries {
		if !token.ExpiresAt.After(now) {
			delete(c.entries, key)
		}
	}
}

// Close stops the background sweep. It is safe to call multiple times.
func (c *TokenCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
