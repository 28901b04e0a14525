// ABOUTME: Operator API for inspecting installations and fetching admin API access tokens
// ABOUTME: Guarded by operator JWTs; never returns shop secrets or admin credentials

package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/codebarista-de/shopware-app-server/internal/apperr"
	"github.com/codebarista-de/shopware-app-server/internal/store"
)

// ShopView is the operator's view of a shop record.
type ShopView struct {
	ID                                  string     `json:"id"`
	AppKey                              string     `json:"app_key"`
	ShopID                              string     `json:"shop_id"`
	ShopHost                            string     `json:"shop_host"`
	ShopURL                             string     `json:"shop_url"`
	RegistrationConfirmed               bool       `json:"registration_confirmed"`
	RegistrationConfirmedAt             *time.Time `json:"registration_confirmed_at,omitempty"`
	RegistrationPending                 bool       `json:"registration_pending"`
	AppVersion                          string     `json:"app_version,omitempty"`
	ShopwareVersion                     string     `json:"shopware_version,omitempty"`
	ReRegistrationRequiresShopSignature bool       `json:"re_registration_requires_shop_signature"`
	DeletedAt                           *time.Time `json:"deleted_at,omitempty"`
	CreatedAt                           time.Time  `json:"created_at"`
	UpdatedAt                           time.Time  `json:"updated_at"`
}

func newShopView(shop *store.Shop) ShopView {
	return ShopView{
		ID:                                  shop.ID,
		AppKey:                              shop.AppKey,
		ShopID:                              shop.ShopID,
		ShopHost:                            shop.ShopHost,
		ShopURL:                             shop.ShopRequestURL,
		RegistrationConfirmed:               shop.RegistrationConfirmed,
		RegistrationConfirmedAt:             shop.RegistrationConfirmedAt,
		RegistrationPending:                 shop.HasPendingRegistration(),
		AppVersion:                          shop.AppVersion,
		ShopwareVersion:                     shop.ShopwareVersion,
		ReRegistrationRequiresShopSignature: shop.ReRegistrationRequiresShopSignature,
		DeletedAt:                           shop.DeletedAt,
		CreatedAt:                           shop.CreatedAt,
		UpdatedAt:                           shop.UpdatedAt,
	}
}

// AccessTokenResponse is a freshly obtained or cached admin API token.
type AccessTokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// operatorStatus maps errors for authenticated operators, who may learn that a
// shop does not exist and whose upstream failures are all 403.
func operatorStatus(err error) int {
	switch {
	case apperr.Is(err, apperr.CodeNoSuchShop), apperr.Is(err, apperr.CodeNoSuchApp):
		return http.StatusNotFound
	case apperr.Is(err, apperr.CodeAccessDenied), apperr.Is(err, apperr.CodeShopwareAccess):
		return http.StatusForbidden
	default:
		return apperr.HTTPStatus(err)
	}
}

func (s *Server) sendOperatorError(w http.ResponseWriter, err error) {
	status := operatorStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("operator request failed", "error", err)
		s.sendJSONError(w, status, "internal server error")
		return
	}
	s.sendJSONError(w, status, err.Error())
}

// handleListShops handles GET /operator/apps/{appKey}/shops.
func (s *Server) handleListShops(w http.ResponseWriter, r *http.Request) {
	appKey := chi.URLParam(r, "appKey")
	if _, ok := s.apps.Get(appKey); !ok {
		s.sendOperatorError(w, apperr.NoSuchApp(appKey))
		return
	}

	shops, err := s.registry.ListShops(r.Context(), appKey)
	if err != nil {
		s.sendOperatorError(w, err)
		return
	}

	views := make([]ShopView, 0, len(shops))
	for _, shop := range shops {
		views = append(views, newShopView(shop))
	}
	writeJSON(w, http.StatusOK, views)
}

// handleGetShop handles GET /operator/shops/{id}.
func (s *Server) handleGetShop(w http.ResponseWriter, r *http.Request) {
	shop, err := s.registry.GetShopByInternalID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.sendOperatorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newShopView(shop))
}

// handleAccessToken handles POST /operator/apps/{appKey}/shops/{shopId}/access-token.
func (s *Server) handleAccessToken(w http.ResponseWriter, r *http.Request) {
	appKey := chi.URLParam(r, "appKey")
	app, ok := s.apps.Get(appKey)
	if !ok {
		s.sendOperatorError(w, apperr.NoSuchApp(appKey))
		return
	}

	token, err := s.accessTokens.GetAccessToken(r.Context(), app, chi.URLParam(r, "shopId"))
	if err != nil {
		s.sendOperatorError(w, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, AccessTokenResponse{
		AccessToken: token.AccessToken,
		TokenType:   token.TokenType,
		ExpiresAt:   token.ExpiresAt,
	})
}
