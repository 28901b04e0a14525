// ABOUTME: HTTP middleware gates for roles, operator JWTs and admin-extension app tokens
// ABOUTME: Gates reject with 401; the signature filter itself never rejects

package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/codebarista-de/shopware-app-server/internal/apperr"
	"github.com/codebarista-de/shopware-app-server/internal/registry"
)

// HeaderShopID carries the shop id on admin-extension API calls.
const HeaderShopID = "shopware-shop-id"

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// RequireRole creates an HTTP middleware that requires one of roles.
// Must be used after a middleware that sets the AuthContext.
func RequireRole(roles ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !FromContext(r.Context()).HasRole(roles...) {
				apperr.WriteJSON(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// OperatorMiddleware authenticates operator API calls with a JWT bearer token.
func OperatorMiddleware(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				apperr.WriteJSON(w, http.StatusUnauthorized, errMsg)
				return
			}

			subject, err := verifier.Verify(token)
			if err != nil {
				apperr.WriteJSON(w, http.StatusUnauthorized, "invalid token")
				return
			}

			authCtx := &AuthContext{PrincipalID: subject, Role: RoleOperator}
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
		})
	}
}

// AppTokenValidator checks tokens issued to admin-extension pages.
type AppTokenValidator interface {
	IsAppTokenValid(ctx context.Context, app registry.App, shopID, token string) bool
}

// AppTokenMiddleware authenticates admin-extension API calls. The app comes
// from the Host header, the shop id from the shop-id query parameter or the
// shopware-shop-id header, and the token from the Authorization header.
func AppTokenMiddleware(apps AppLookup, shops ShopLookup, tokens AppTokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logger.With("component", "auth")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			app, ok := apps.ForHost(r.Host)
			if !ok {
				apperr.WriteJSON(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				apperr.WriteJSON(w, http.StatusUnauthorized, errMsg)
				return
			}

			shopID := r.URL.Query().Get(ParamShopID)
			if shopID == "" {
				shopID = r.Header.Get(HeaderShopID)
			}
			if shopID == "" || !tokens.IsAppTokenValid(r.Context(), app, shopID, token) {
				logger.Warn("invalid app token", "app", app.Key(), "shop_id", shopID, "path", r.URL.Path)
				apperr.WriteJSON(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			shop, err := shops.RequireShop(r.Context(), app.Key(), shopID)
			if err != nil {
				apperr.WriteJSON(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			authCtx := &AuthContext{PrincipalID: shopID, Role: RoleShop, App: app, Shop: shop}
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
		})
	}
}
