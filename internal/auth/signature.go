// ABOUTME: Request signature filter that authenticates the platform's calls to an app
// ABOUTME: Resolves the app from the Host header and verifies app or shop HMAC signatures

package auth

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/codebarista-de/shopware-app-server/internal/registry"
	"github.com/codebarista-de/shopware-app-server/internal/signature"
	"github.com/codebarista-de/shopware-app-server/internal/store"
)

// Header and parameter names used by the platform.
const (
	HeaderShopSignature = "shopware-shop-signature"
	HeaderAppSignature  = "shopware-app-signature"
	ParamShopSignature  = "shopware-shop-signature"
	ParamShopID         = "shop-id"
)

// DefaultMaxBodyBytes bounds the body read for signature verification.
const DefaultMaxBodyBytes int64 = 10 << 20

var staticAsset = regexp.MustCompile(`.*\.(js|css|ttf|woff|woff2|eot|svg|jpg|jpeg|png|gif|ico)$`)

// AppLookup resolves the app addressed by a request host.
type AppLookup interface {
	ForHost(host string) (registry.App, bool)
}

// ShopLookup returns an installed, non-deleted shop.
type ShopLookup interface {
	RequireShop(ctx context.Context, appKey, shopID string) (*store.Shop, error)
}

// SignatureAuthenticator verifies signed platform requests. It never rejects a
// request itself; it only attaches an AuthContext when verification succeeds.
type SignatureAuthenticator struct {
	apps         AppLookup
	shops        ShopLookup
	logger       *slog.Logger
	maxBodyBytes int64
	observe      func(Role)
}

// SignatureOption configures a SignatureAuthenticator.
type SignatureOption func(*SignatureAuthenticator)

// WithMaxBodyBytes limits how much of a POST body is read.
func WithMaxBodyBytes(n int64) SignatureOption {
	return func(a *SignatureAuthenticator) { a.maxBodyBytes = n }
}

// WithObserver is called with the outcome of every authentication attempt.
func WithObserver(observe func(Role)) SignatureOption {
	return func(a *SignatureAuthenticator) { a.observe = observe }
}

// NewSignatureAuthenticator creates the filter.
func NewSignatureAuthenticator(apps AppLookup, shops ShopLookup, logger *slog.Logger, opts ...SignatureOption) *SignatureAuthenticator {
	a := &SignatureAuthenticator{
		apps:         apps,
		shops:        shops,
		logger:       logger.With("component", "auth"),
		maxBodyBytes: DefaultMaxBodyBytes,
		observe:      func(Role) {},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Middleware wraps next with signature verification.
func (a *SignatureAuthenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if staticAsset.MatchString(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		app, ok := a.apps.ForHost(r.Host)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		authCtx, r := a.authenticate(app, r)
		if authCtx == nil {
			a.observe(RoleNone)
			next.ServeHTTP(w, r)
			return
		}
		a.observe(authCtx.Role)
		next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
	})
}

// authenticate returns the verified identity, or nil. The returned request
// has a re-readable body when the body was consumed.
func (a *SignatureAuthenticator) authenticate(app registry.App, r *http.Request) (*AuthContext, *http.Request) {
	log := a.logger.With("app", app.Key(), "method", r.Method, "path", r.URL.Path)

	if r.Method == http.MethodGet {
		if appSig := r.Header.Get(HeaderAppSignature); appSig != "" {
			message := stripSignatureParam(r.URL.RawQuery)
			if signature.Verify([]byte(message), app.Secret(), appSig) {
				return &AuthContext{PrincipalID: app.Key(), Role: RoleApplication, App: app}, r
			}
		}
	}

	var shopID, sig string
	var message []byte

	switch r.Method {
	case http.MethodGet:
		query := r.URL.Query()
		shopID = query.Get(ParamShopID)
		sig = query.Get(ParamShopSignature)
		if sig != "" && r.URL.RawQuery != "" {
			message = []byte(stripSignatureParam(r.URL.RawQuery))
		}

	case http.MethodPost:
		body, err := a.readBody(r)
		if err != nil {
			log.Warn("reading request body failed", "error", err)
			r.Body = http.NoBody
			return nil, r
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		shopID = shopIDFromBody(body)
		sig = r.Header.Get(HeaderShopSignature)
		message = body

	default:
		log.Warn("unsupported method for signed request")
		return nil, r
	}

	if shopID == "" {
		log.Warn("request without shop id")
		return nil, r
	}
	log = log.With("shop_id", shopID)
	if sig == "" {
		log.Warn("request without shop signature")
		return nil, r
	}

	shop, err := a.shops.RequireShop(r.Context(), app.Key(), shopID)
	if err != nil {
		log.Warn("request for unknown shop", "error", err)
		return nil, r
	}

	if shop.ShopSecret != "" && signature.Verify(message, shop.ShopSecret, sig) {
		return &AuthContext{PrincipalID: shopID, Role: RoleShop, App: app, Shop: shop}, r
	}
	if shop.PendingShopSecret != "" && signature.Verify(message, shop.PendingShopSecret, sig) {
		return &AuthContext{PrincipalID: shopID, Role: RolePendingShop, App: app, Shop: shop}, r
	}

	log.Warn("shop signature does not verify")
	return nil, r
}

func (a *SignatureAuthenticator) readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return []byte{}, nil
	}
	defer r.Body.Close()

	body, err := io.ReadAll(io.LimitReader(r.Body, a.maxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > a.maxBodyBytes {
		return nil, errors.New("request body too large")
	}
	return body, nil
}

// shopIDFromBody reads the root shopId (confirmation) or source.shopId (all other callbacks).
func shopIDFromBody(body []byte) string {
	if !gjson.ValidBytes(body) {
		return ""
	}
	if root := gjson.GetBytes(body, "shopId"); root.Type == gjson.String {
		return root.String()
	}
	if nested := gjson.GetBytes(body, "source.shopId"); nested.Type == gjson.String {
		return nested.String()
	}
	return ""
}

// stripSignatureParam removes the shop signature parameter from a raw query,
// leaving every other parameter byte for byte as sent.
func stripSignatureParam(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	parts := strings.Split(rawQuery, "&")
	kept := parts[:0]
	for _, part := range parts {
		key, _, _ := strings.Cut(part, "=")
		if name, err := url.QueryUnescape(key); err == nil && name == ParamShopSignature {
			continue
		}
		kept = append(kept, part)
	}
	return strings.Join(kept, "&")
}
