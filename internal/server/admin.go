// ABOUTME: Admin-extension endpoints: token issue for the embedded page and the app's own API
// ABOUTME: The token is requested with a signed GET and presented as a bearer token afterwards

package server

import (
	"net/http"

	"github.com/codebarista-de/shopware-app-server/internal/auth"
	"github.com/codebarista-de/shopware-app-server/internal/registry"
)

// AdminTokenResponse carries a fresh admin-extension token.
type AdminTokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
	Version   string `json:"version,omitempty"`
}

// handleAdminToken handles GET /shopware/admin/token.
func (s *Server) handleAdminToken(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	token, err := s.appTokens.GenerateAppToken(r.Context(), authCtx.App, authCtx.PrincipalID)
	if err != nil {
		s.sendError(w, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	writeJSON(w, http.StatusOK, AdminTokenResponse{
		Token:     token,
		ExpiresIn: int64(s.appTokens.TTL().Seconds()),
		Version:   authCtx.App.Version(),
	})
}

// handleAdminAPI delegates to the app's admin handler with the prefix removed.
func (s *Server) handleAdminAPI(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	admin, ok := authCtx.App.(registry.AdminAPI)
	if !ok || admin.AdminHandler() == nil {
		s.sendJSONError(w, http.StatusNotFound, "not found")
		return
	}
	http.StripPrefix(PathAdminAPI, admin.AdminHandler()).ServeHTTP(w, r)
}
