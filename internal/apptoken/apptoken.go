// ABOUTME: Short-lived bearer tokens for admin-extension pages embedded in the administration
// ABOUTME: Stateless: time + hash(shopId+appKey) + HMAC with the shop secret, so secret rotation revokes them

package apptoken

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/codebarista-de/shopware-app-server/internal/apperr"
	"github.com/codebarista-de/shopware-app-server/internal/registry"
	"github.com/codebarista-de/shopware-app-server/internal/signature"
	"github.com/codebarista-de/shopware-app-server/internal/store"
)

// Token layout lengths.
const (
	TimeLength      = 20
	HashLength      = 64
	SignatureLength = 64
	TokenLength     = TimeLength + HashLength + SignatureLength
)

// DefaultTTL is how long a token is accepted after issue.
const DefaultTTL = time.Hour

// ShopLookup returns an installed, non-deleted shop.
type ShopLookup interface {
	RequireShop(ctx context.Context, appKey, shopID string) (*store.Shop, error)
}

// Service issues and checks app tokens.
type Service struct {
	shops  ShopLookup
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewService creates a Service. A ttl of zero uses DefaultTTL.
func NewService(shops ShopLookup, ttl time.Duration, logger *slog.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{
		shops:  shops,
		ttl:    ttl,
		now:    time.Now,
		logger: logger.With("component", "apptoken"),
	}
}

// TTL returns the configured token lifetime.
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// GenerateAppToken issues a token for the shop's admin-extension page.
func (s *Service) GenerateAppToken(ctx context.Context, app registry.App, shopID string) (string, error) {
	if app == nil || shopID == "" {
		return "", apperr.InvalidToken("app and shop id are required to issue a token")
	}

	shop, err := s.shops.RequireShop(ctx, app.Key(), shopID)
	if err != nil {
		return "", err
	}

	paddedTime := fmt.Sprintf("%0*d", TimeLength, s.now().UnixMilli())
	data := paddedTime + signature.Hash(shopID+app.Key())
	sig, err := signature.Sign(data, shop.ShopSecret)
	if err != nil {
		return "", err
	}
	return data + sig, nil
}

// IsAppTokenValid reports whether token was issued for this app and shop with
// the shop's current secret and has not expired.
func (s *Service) IsAppTokenValid(ctx context.Context, app registry.App, shopID, token string) bool {
	if app == nil || shopID == "" || len(token) != TokenLength {
		return false
	}

	shop, err := s.shops.RequireShop(ctx, app.Key(), shopID)
	if err != nil {
		return false
	}

	data := token[:TimeLength+HashLength]
	if !signature.Verify([]byte(data), shop.ShopSecret, token[TimeLength+HashLength:]) {
		s.logger.Debug("app token signature mismatch", "app", app.Key(), "shop_id", shopID)
		return false
	}

	expectedHash := signature.Hash(shop.ShopID + app.Key())
	if subtle.ConstantTimeCompare([]byte(token[TimeLength:TimeLength+HashLength]), []byte(expectedHash)) != 1 {
		return false
	}

	return !s.IsTokenExpired(token)
}

// IsTokenExpired reports whether the token's issue time is older than the TTL.
// Tokens whose time prefix cannot be read count as expired.
func (s *Service) IsTokenExpired(token string) bool {
	if len(token) < TimeLength {
		return true
	}
	issuedMillis, err := strconv.ParseInt(token[:TimeLength], 10, 64)
	if err != nil {
		return true
	}
	return issuedMillis+s.ttl.Milliseconds() <= s.now().UnixMilli()
}
