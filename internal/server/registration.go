// ABOUTME: Registration handshake handlers: register issues a pending secret, confirm activates it
// ABOUTME: Re-registrations of confirmed shops may have to prove possession of the active secret

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/codebarista-de/shopware-app-server/internal/auth"
	"github.com/codebarista-de/shopware-app-server/internal/metrics"
	"github.com/codebarista-de/shopware-app-server/internal/signature"
	"github.com/codebarista-de/shopware-app-server/internal/store"
)

// RegistrationResponse answers a successful registration request.
type RegistrationResponse struct {
	Proof           string `json:"proof"`
	Secret          string `json:"secret"`
	ConfirmationURL string `json:"confirmation_url"`
}

// ConfirmationRequest is the body of the confirmation callback.
type ConfirmationRequest struct {
	APIKey    string          `json:"apiKey"`
	SecretKey string          `json:"secretKey"`
	Timestamp json.RawMessage `json:"timestamp"`
	ShopID    string          `json:"shopId"`
	ShopURL   string          `json:"shopUrl"`
}

// handleRegister handles GET /shopware/api/v1/registration/register.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	app, err := s.apps.AppForHost(r.Host)
	if err != nil {
		s.rejectRegistration(w, "unknown app", "host", r.Host)
		return
	}

	query := r.URL.Query()
	shopID := query.Get("shop-id")
	shopURL := query.Get("shop-url")
	timestamp := query.Get("timestamp")
	appSignature := r.Header.Get(auth.HeaderAppSignature)
	if shopID == "" || shopURL == "" || timestamp == "" || appSignature == "" {
		s.rejectRegistration(w, "missing registration parameter", "app", app.Key(), "shop_id", shopID)
		return
	}

	message := []byte(fmt.Sprintf("shop-id=%s&shop-url=%s&timestamp=%s", shopID, shopURL, timestamp))
	appVerified := signature.Verify(message, app.Secret(), appSignature) ||
		auth.RoleFromContext(ctx) == auth.RoleApplication
	if !appVerified {
		s.rejectRegistration(w, "invalid app signature", "app", app.Key(), "shop_id", shopID, "shop_url", shopURL)
		return
	}

	if !s.limiter.allow(app.Key(), shopID) {
		s.logger.Warn("registration rate limit exceeded", "app", app.Key(), "shop_id", shopID)
		s.sendJSONError(w, http.StatusTooManyRequests, "too many requests")
		return
	}

	existing, err := s.registry.GetShop(ctx, app.Key(), shopID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.metrics.ObserveRegistration(metrics.OutcomeFailed)
		s.sendError(w, err)
		return
	}

	shopSignatureVerified := false
	if existing != nil && existing.RegistrationConfirmed && !existing.IsDeleted() {
		shopSignature := r.Header.Get(auth.HeaderShopSignature)
		switch {
		case shopSignature != "":
			if !signature.Verify(message, existing.ShopSecret, shopSignature) {
				s.rejectRegistration(w, "invalid shop signature", "app", app.Key(), "shop_id", shopID, "shop_url", shopURL)
				return
			}
			shopSignatureVerified = true
		case existing.ReRegistrationRequiresShopSignature || s.cfg.AppServer.EnforceReRegistrationWithShopSignature:
			s.rejectRegistration(w, "missing required shop signature", "app", app.Key(), "shop_id", shopID, "shop_url", shopURL)
			return
		}
		// Without a shop signature and without a requirement the re-registration
		// proceeds, which older platform versions depend on.
	}

	s.logger.Info("app installation in progress", "app", app.Key(), "shop_id", shopID, "shop_url", shopURL)

	secret, err := s.registry.Register(ctx, app, shopID, shopURL, r.Header.Get("sw-version"), shopSignatureVerified)
	if err != nil {
		s.metrics.ObserveRegistration(metrics.OutcomeFailed)
		s.sendError(w, err)
		return
	}

	proof, err := signature.Sign(shopID+shopURL+app.Name(), app.Secret())
	if err != nil {
		s.metrics.ObserveRegistration(metrics.OutcomeFailed)
		s.sendError(w, err)
		return
	}

	s.metrics.ObserveRegistration(metrics.OutcomeRegistered)
	writeJSON(w, http.StatusOK, RegistrationResponse{
		Proof:           proof,
		Secret:          secret,
		ConfirmationURL: s.confirmationURL(r),
	})
}

// confirmationURL points back at this host. Plain http is only kept when
// ssl_only is off and the request itself came in over http.
func (s *Server) confirmationURL(r *http.Request) string {
	scheme := "https"
	if r.TLS == nil && !s.cfg.AppServer.IsSSLOnly() {
		scheme = "http"
	}
	return scheme + "://" + r.Host + PathConfirm
}

func (s *Server) rejectRegistration(w http.ResponseWriter, reason string, attrs ...any) {
	s.logger.Warn("registration failed: "+reason, attrs...)
	s.metrics.ObserveRegistration(metrics.OutcomeRejected)
	s.sendJSONError(w, http.StatusUnauthorized, "unauthorized")
}

// handleConfirm handles POST /shopware/api/v1/registration/confirm.
func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authCtx := auth.MustFromContext(ctx)

	var req ConfirmationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ShopID != authCtx.PrincipalID {
		s.rejectRegistration(w, "confirmation for another shop", "app", authCtx.App.Key(), "shop_id", req.ShopID)
		return
	}

	confirmed, err := s.registry.Confirm(ctx, authCtx.App, req.ShopID, req.ShopURL, req.APIKey, req.SecretKey)
	if err != nil {
		s.metrics.ObserveRegistration(metrics.OutcomeFailed)
		s.sendError(w, err)
		return
	}
	if !confirmed {
		s.rejectRegistration(w, "installation aborted", "app", authCtx.App.Key(), "shop_id", req.ShopID, "shop_url", req.ShopURL)
		return
	}

	s.logger.Info("app installation confirmed", "app", authCtx.App.Key(), "shop_id", req.ShopID, "shop_url", req.ShopURL)
	s.metrics.ObserveRegistration(metrics.OutcomeConfirmed)
	w.WriteHeader(http.StatusAccepted)
}
