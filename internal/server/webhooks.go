// ABOUTME: Handlers for signed shop callbacks: webhook events, action buttons and app lifecycle
// ABOUTME: Events are deduplicated by event id; action responses are signed with the shop secret

package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"golang.org/x/text/language"

	"github.com/codebarista-de/shopware-app-server/internal/auth"
	"github.com/codebarista-de/shopware-app-server/internal/dedupe"
	"github.com/codebarista-de/shopware-app-server/internal/registry"
	"github.com/codebarista-de/shopware-app-server/internal/signature"
)

// Locale headers sent by the administration.
const (
	HeaderUserLanguage    = "sw-user-language"
	HeaderContextLanguage = "sw-context-language"
)

// Event results reported to metrics.
const (
	eventDispatched = "dispatched"
	eventDuplicate  = "duplicate"
	eventFailed     = "failed"
)

// parseLocale parses tags like "en-GB"; anything unparsable yields nil.
func parseLocale(value string) *language.Tag {
	if value == "" {
		return nil
	}
	tag, err := language.Parse(value)
	if err != nil {
		return nil
	}
	return &tag
}

// handleEvent handles POST /shopware/api/v1/event.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authCtx := auth.MustFromContext(ctx)
	app := authCtx.App

	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	var event registry.Event
	if err := json.Unmarshal(body, &event); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	event.Raw = body
	event.InternalShopID = authCtx.Shop.ID
	event.Locale = parseLocale(r.Header.Get(HeaderUserLanguage))
	event.LanguageID = r.Header.Get(HeaderContextLanguage)

	key := dedupe.Key{AppKey: app.Key(), ShopID: authCtx.PrincipalID, EventID: event.Source.EventID}
	if s.dedupe.CheckAndMark(key) {
		s.logger.Debug("duplicate event delivery", "app", app.Key(), "shop_id", authCtx.PrincipalID, "event_id", key.EventID)
		s.metrics.ObserveEvent(eventDuplicate)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := app.OnEvent(ctx, &event); err != nil {
		s.dedupe.Forget(key)
		s.metrics.ObserveEvent(eventFailed)
		s.logger.Error("event handling failed",
			"app", app.Key(), "shop_id", authCtx.PrincipalID, "event", event.Data.Event, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	s.metrics.ObserveEvent(eventDispatched)
	w.WriteHeader(http.StatusNoContent)
}

// handleAction handles POST /shopware/api/v1/action.
func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authCtx := auth.MustFromContext(ctx)
	app := authCtx.App

	var action registry.Action
	if err := json.NewDecoder(r.Body).Decode(&action); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	action.InternalShopID = authCtx.Shop.ID
	action.Locale = parseLocale(r.Header.Get(HeaderUserLanguage))
	action.LanguageID = r.Header.Get(HeaderContextLanguage)

	resp, err := app.OnAction(ctx, &action)
	if err != nil {
		s.logger.Error("action handling failed",
			"app", app.Key(), "shop_id", authCtx.PrincipalID, "action", action.Data.Action, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if resp == nil {
		s.sendJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	body, sig, err := signature.SignJSON(resp, authCtx.Shop.ShopSecret)
	if err != nil {
		s.sendError(w, err)
		return
	}
	w.Header().Set(auth.HeaderAppSignature, sig)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// handleLifecycle handles POST /shopware/api/v1/lifecycle/{event}.
func (s *Server) handleLifecycle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authCtx := auth.MustFromContext(ctx)
	app := authCtx.App
	name := chi.URLParam(r, "event")

	var event registry.Event
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	log := s.logger.With("app", app.Key(), "shop_id", authCtx.PrincipalID, "lifecycle", name)

	switch name {
	case "deleted":
		if err := s.registry.Delete(ctx, app, authCtx.PrincipalID, event.Source.URL); err != nil {
			s.sendError(w, err)
			return
		}
	case "updated":
		if err := s.registry.RecordAppVersion(ctx, app, authCtx.PrincipalID, event.Source.AppVersion); err != nil {
			s.sendError(w, err)
			return
		}
	case "activated", "deactivated":
		log.Info("app " + name)
	default:
		s.sendJSONError(w, http.StatusNotFound, "unknown lifecycle event")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
