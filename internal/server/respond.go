// ABOUTME: JSON response helpers shared by all handlers
// ABOUTME: Maps categorised errors to statuses without leaking which check failed

package server

import (
	"encoding/json"
	"net/http"

	"github.com/codebarista-de/shopware-app-server/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// sendJSONError writes a JSON error response.
func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	apperr.WriteJSON(w, status, message)
}

// sendError maps err to its HTTP status. Authentication failures always read
// "unauthorized" and server errors "internal server error".
func (s *Server) sendError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	switch {
	case status == http.StatusUnauthorized:
		s.sendJSONError(w, status, "unauthorized")
	case status >= http.StatusInternalServerError:
		s.logger.Error("request failed", "error", err)
		s.sendJSONError(w, status, "internal server error")
	default:
		s.sendJSONError(w, status, err.Error())
	}
}
